package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Insert(ctx context.Context, q postgres.DBTX, e Entry) error
	FindByID(ctx context.Context, q postgres.DBTX, id string) (Entry, error)
	List(ctx context.Context, q postgres.DBTX, outletID, eventID string) ([]Entry, error)
	ApplyPatch(ctx context.Context, q postgres.DBTX, id string, p Patch) (Entry, error)
	// Reserve must be a single conditional write: sold grows by qty only if
	// the result stays within max.
	Reserve(ctx context.Context, q postgres.DBTX, k Key, qty int) error
	// Release floors sold at zero. found is false when no entry exists.
	Release(ctx context.Context, q postgres.DBTX, k Key, qty int) (found bool, err error)
}

type PGRepo struct{ DB *postgres.DB }

const entryColumns = `id, outlet_id, event_id, pass_id, max_quantity, sold_quantity, is_active, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.OutletID, &e.EventID, &e.PassID, &e.MaxQuantity, &e.SoldQuantity,
		&e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *PGRepo) Insert(ctx context.Context, q postgres.DBTX, e Entry) error {
	_, err := r.DB.Or(q).Exec(ctx, `
		INSERT INTO outlet_stock(`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OutletID, e.EventID, e.PassID, e.MaxQuantity, e.SoldQuantity, e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert outlet_stock: %w", err)
	}
	return nil
}

func (r *PGRepo) FindByID(ctx context.Context, q postgres.DBTX, id string) (Entry, error) {
	e, err := scanEntry(r.DB.Or(q).QueryRow(ctx, `SELECT `+entryColumns+` FROM outlet_stock WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("select outlet_stock: %w", err)
	}
	return e, nil
}

func (r *PGRepo) List(ctx context.Context, q postgres.DBTX, outletID, eventID string) ([]Entry, error) {
	rows, err := r.DB.Or(q).Query(ctx, `
		SELECT `+entryColumns+` FROM outlet_stock
		WHERE outlet_id=$1 AND ($2 = '' OR event_id=$2)
		ORDER BY event_id, pass_id`, outletID, eventID)
	if err != nil {
		return nil, fmt.Errorf("query outlet_stock: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outlet_stock: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyPatch evaluates the invariant inside the UPDATE so a concurrent
// Reserve cannot slip between a read and this write.
func (r *PGRepo) ApplyPatch(ctx context.Context, q postgres.DBTX, id string, p Patch) (Entry, error) {
	db := r.DB.Or(q)
	e, err := scanEntry(db.QueryRow(ctx, `
		UPDATE outlet_stock SET
			max_quantity  = CASE WHEN $2 THEN $3::int ELSE max_quantity END,
			sold_quantity = CASE WHEN $4 THEN $5::int ELSE sold_quantity END,
			is_active     = COALESCE($6::boolean, is_active),
			updated_at    = now()
		WHERE id = $1
		  AND ((CASE WHEN $2 THEN $3::int ELSE max_quantity END) IS NULL
		       OR (CASE WHEN $4 THEN $5::int ELSE sold_quantity END) <= (CASE WHEN $2 THEN $3::int ELSE max_quantity END))
		RETURNING `+entryColumns,
		id, p.MaxQuantity.Set, p.MaxQuantity.Value, p.SoldQuantity != nil, p.SoldQuantity, p.IsActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, ferr := r.FindByID(ctx, q, id); ferr != nil {
			return Entry{}, ferr
		}
		return Entry{}, ErrInvariant
	}
	if err != nil {
		return Entry{}, fmt.Errorf("update outlet_stock: %w", err)
	}
	return e, nil
}

func (r *PGRepo) Reserve(ctx context.Context, q postgres.DBTX, k Key, qty int) error {
	db := r.DB.Or(q)
	ct, err := db.Exec(ctx, `
		UPDATE outlet_stock
		SET sold_quantity = sold_quantity + $4, updated_at = now()
		WHERE outlet_id=$1 AND event_id=$2 AND pass_id=$3
		  AND is_active
		  AND (max_quantity IS NULL OR sold_quantity + $4 <= max_quantity)`,
		k.OutletID, k.EventID, k.PassID, qty)
	if err != nil {
		return fmt.Errorf("reserve outlet_stock: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM outlet_stock WHERE outlet_id=$1 AND event_id=$2 AND pass_id=$3)`,
		k.OutletID, k.EventID, k.PassID).Scan(&exists); err != nil {
		return fmt.Errorf("check outlet_stock: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrOutOfStock
}

func (r *PGRepo) Release(ctx context.Context, q postgres.DBTX, k Key, qty int) (bool, error) {
	ct, err := r.DB.Or(q).Exec(ctx, `
		UPDATE outlet_stock
		SET sold_quantity = GREATEST(sold_quantity - $4, 0), updated_at = now()
		WHERE outlet_id=$1 AND event_id=$2 AND pass_id=$3`,
		k.OutletID, k.EventID, k.PassID, qty)
	if err != nil {
		return false, fmt.Errorf("release outlet_stock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
