package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
)

type PGRepo struct{ DB *postgres.DB }

func (r *PGRepo) Append(ctx context.Context, q postgres.DBTX, e Entry) error {
	_, err := r.DB.Or(q).Exec(ctx, `
		INSERT INTO audit_log(id, action, actor_type, actor_id, actor_email, outlet_id,
		                      target_type, target_id, details, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.Action, e.ActorType, e.ActorID, e.ActorEmail, e.OutletID,
		e.TargetType, e.TargetID, e.Details, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}

func (r *PGRepo) List(ctx context.Context, q postgres.DBTX, f Filter) ([]Entry, error) {
	var (
		args  []any
		conds []string
	)
	if f.Action != "" {
		conds = append(conds, "action = "+postgres.Placeholder(&args, f.Action))
	}
	if f.PerformedByID != "" {
		conds = append(conds, "actor_id = "+postgres.Placeholder(&args, f.PerformedByID))
	}
	if f.TargetType != "" {
		conds = append(conds, "target_type = "+postgres.Placeholder(&args, f.TargetType))
	}
	if f.TargetID != "" {
		conds = append(conds, "target_id = "+postgres.Placeholder(&args, f.TargetID))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+postgres.Placeholder(&args, *f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= "+postgres.Placeholder(&args, *f.To))
	}

	sql := `SELECT id, action, actor_type, actor_id, actor_email, outlet_id, target_type, target_id,
	               details, ip_address, user_agent, created_at
	        FROM audit_log`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY created_at DESC, id DESC"
	sql += " LIMIT " + postgres.Placeholder(&args, f.Page.Limit)
	sql += " OFFSET " + postgres.Placeholder(&args, f.Page.Offset)

	rows, err := r.DB.Or(q).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorType, &e.ActorID, &e.ActorEmail, &e.OutletID,
			&e.TargetType, &e.TargetID, &e.Details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit_log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
