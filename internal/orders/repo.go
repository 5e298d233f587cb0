package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// Insert writes the order and its lines.
	Insert(ctx context.Context, q postgres.DBTX, o Order) error
	FindByID(ctx context.Context, q postgres.DBTX, id string) (Order, error)
	FindByExternalID(ctx context.Context, q postgres.DBTX, externalID string) (Order, error)
	List(ctx context.Context, q postgres.DBTX, f Filter) ([]Order, error)
	// Transition reports false when the stored status was not in t.From.
	Transition(ctx context.Context, q postgres.DBTX, id string, t Transition) (bool, error)
	UpdateEmail(ctx context.Context, q postgres.DBTX, id string, email *string) error

	FindOutlet(ctx context.Context, q postgres.DBTX, id string) (OutletRef, error)
	FindPass(ctx context.Context, q postgres.DBTX, id string) (PassRef, error)

	InsertReservation(ctx context.Context, q postgres.DBTX, r Reservation) error
	// ReservedLines returns the ids of lines that have ever been reserved.
	ReservedLines(ctx context.Context, q postgres.DBTX, orderID string) (map[string]bool, error)
	// ReleaseReservations flips RESERVED rows to RELEASED and returns them.
	ReleaseReservations(ctx context.Context, q postgres.DBTX, orderID string) ([]Reservation, error)
}

type Repo struct{ DB *postgres.DB }

const orderSelect = `
	SELECT o.id, o.external_id, o.status, o.outlet_id, o.event_id, o.operator_id,
	       o.user_name, o.user_phone, o.user_email, o.total_price::text,
	       o.approved_by, o.approved_at, o.rejected_by, o.cancellation_reason, o.cancelled_at,
	       o.removed_by, o.removed_at, o.created_at, o.updated_at,
	       ou.name, ou.slug, ou.is_active, e.name, e.event_date, e.venue
	FROM orders o
	JOIN outlets ou ON ou.id = o.outlet_id
	JOIN events e ON e.id = o.event_id`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status, total string
	err := row.Scan(&o.ID, &o.ExternalID, &status, &o.OutletID, &o.EventID, &o.OperatorID,
		&o.UserName, &o.UserPhone, &o.UserEmail, &total,
		&o.ApprovedBy, &o.ApprovedAt, &o.RejectedBy, &o.CancellationReason, &o.CancelledAt,
		&o.RemovedBy, &o.RemovedAt, &o.CreatedAt, &o.UpdatedAt,
		&o.Outlet.Name, &o.Outlet.Slug, &o.Outlet.IsActive, &o.Event.Name, &o.Event.Date, &o.Event.Venue,
	)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Outlet.ID = o.OutletID
	o.Event.ID = o.EventID
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("parse total_price: %w", err)
	}
	return o, nil
}

func (r *Repo) Insert(ctx context.Context, q postgres.DBTX, o Order) error {
	db := r.DB.Or(q)
	_, err := db.Exec(ctx, `
		INSERT INTO orders(id, external_id, status, outlet_id, event_id, operator_id,
		                   user_name, user_phone, user_email, total_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12)`,
		o.ID, o.ExternalID, string(o.Status), o.OutletID, o.EventID, o.OperatorID,
		o.UserName, o.UserPhone, o.UserEmail, o.TotalPrice.String(), o.CreatedAt, o.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateExternal
	}
	if err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}

	for _, l := range o.Lines {
		if _, err := db.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, pass_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5::numeric)`,
			l.ID, o.ID, l.PassID, l.Quantity, l.UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order_lines: %w", err)
		}
	}
	return nil
}

func (r *Repo) FindByID(ctx context.Context, q postgres.DBTX, id string) (Order, error) {
	return r.findOne(ctx, q, ` WHERE o.id=$1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, q postgres.DBTX, externalID string) (Order, error) {
	return r.findOne(ctx, q, ` WHERE o.external_id=$1`, externalID)
}

func (r *Repo) findOne(ctx context.Context, q postgres.DBTX, where string, arg string) (Order, error) {
	db := r.DB.Or(q)
	o, err := scanOrder(db.QueryRow(ctx, orderSelect+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("select orders: %w", err)
	}
	lines, err := r.lines(ctx, db, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r *Repo) lines(ctx context.Context, db postgres.DBTX, orderIDs []string) (map[string][]Line, error) {
	out := make(map[string][]Line, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := db.Query(ctx, `
		SELECT l.id, l.order_id, l.pass_id, p.name, l.quantity, l.unit_price::text
		FROM order_lines l
		JOIN passes p ON p.id = l.pass_id
		WHERE l.order_id = ANY($1)
		ORDER BY l.order_id, l.id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order_lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Line
		var price string
		if err := rows.Scan(&l.ID, &l.OrderID, &l.PassID, &l.PassName, &l.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order_lines: %w", err)
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit_price: %w", err)
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (r *Repo) List(ctx context.Context, q postgres.DBTX, f Filter) ([]Order, error) {
	db := r.DB.Or(q)

	var (
		args  []any
		conds []string
	)
	if f.Status != "" {
		conds = append(conds, "o.status = "+postgres.Placeholder(&args, string(f.Status)))
	}
	if f.EventID != "" {
		conds = append(conds, "o.event_id = "+postgres.Placeholder(&args, f.EventID))
	}
	if f.OutletID != "" {
		conds = append(conds, "o.outlet_id = "+postgres.Placeholder(&args, f.OutletID))
	}
	if f.From != nil {
		conds = append(conds, "o.created_at >= "+postgres.Placeholder(&args, *f.From))
	}
	if f.To != nil {
		conds = append(conds, "o.created_at <= "+postgres.Placeholder(&args, *f.To))
	}

	sql := orderSelect
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY o.created_at DESC, o.id DESC"
	sql += " LIMIT " + postgres.Placeholder(&args, f.Page.Limit)
	sql += " OFFSET " + postgres.Placeholder(&args, f.Page.Offset)

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	out := make([]Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	lines, err := r.lines(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r *Repo) Transition(ctx context.Context, q postgres.DBTX, id string, t Transition) (bool, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}

	args := []any{id, string(t.To), t.At, from, t.By}
	var set string
	switch t.To {
	case StatusPaid:
		set = "approved_by = $5, approved_at = $3"
	case StatusRejected:
		args = append(args, t.Reason)
		set = "rejected_by = $5, cancellation_reason = $6, cancelled_at = $3"
	case StatusRemoved:
		set = "removed_by = $5, removed_at = $3"
	default:
		return false, fmt.Errorf("unsupported transition to %s", t.To)
	}

	ct, err := r.DB.Or(q).Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3, `+set+`
		WHERE id = $1 AND status = ANY($4)`, args...)
	if err != nil {
		return false, fmt.Errorf("update orders status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) UpdateEmail(ctx context.Context, q postgres.DBTX, id string, email *string) error {
	ct, err := r.DB.Or(q).Exec(ctx, `UPDATE orders SET user_email=$2, updated_at=now() WHERE id=$1`, id, email)
	if err != nil {
		return fmt.Errorf("update orders email: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) FindOutlet(ctx context.Context, q postgres.DBTX, id string) (OutletRef, error) {
	var o OutletRef
	err := r.DB.Or(q).QueryRow(ctx, `SELECT id, name, slug, is_active FROM outlets WHERE id=$1`, id).
		Scan(&o.ID, &o.Name, &o.Slug, &o.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutletRef{}, ErrOutletNotFound
	}
	if err != nil {
		return OutletRef{}, fmt.Errorf("select outlets: %w", err)
	}
	return o, nil
}

func (r *Repo) FindPass(ctx context.Context, q postgres.DBTX, id string) (PassRef, error) {
	var p PassRef
	var price string
	err := r.DB.Or(q).QueryRow(ctx, `SELECT id, event_id, name, price::text FROM passes WHERE id=$1`, id).
		Scan(&p.ID, &p.EventID, &p.Name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return PassRef{}, ErrPassNotFound
	}
	if err != nil {
		return PassRef{}, fmt.Errorf("select passes: %w", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return PassRef{}, fmt.Errorf("parse pass price: %w", err)
	}
	return p, nil
}
