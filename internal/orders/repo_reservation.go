package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
)

// InsertReservation is idempotent per order line.
func (r *Repo) InsertReservation(ctx context.Context, q postgres.DBTX, res Reservation) error {
	if _, err := r.DB.Or(q).Exec(ctx, `
		INSERT INTO reservations(order_line_id, order_id, outlet_id, event_id, pass_id, quantity, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (order_line_id) DO NOTHING`,
		res.OrderLineID, res.OrderID, res.Key.OutletID, res.Key.EventID, res.Key.PassID, res.Quantity, ReservationReserved,
	); err != nil {
		return fmt.Errorf("insert reservations: %w", err)
	}
	return nil
}

func (r *Repo) ReservedLines(ctx context.Context, q postgres.DBTX, orderID string) (map[string]bool, error) {
	rows, err := r.DB.Or(q).Query(ctx, `SELECT order_line_id FROM reservations WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reservations: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ReleaseReservations only touches RESERVED rows, so a second call returns
// nothing and the ledger is credited at most once per line.
func (r *Repo) ReleaseReservations(ctx context.Context, q postgres.DBTX, orderID string) ([]Reservation, error) {
	rows, err := r.DB.Or(q).Query(ctx, `
		UPDATE reservations SET status=$2, released_at=now()
		WHERE order_id=$1 AND status=$3
		RETURNING order_line_id, order_id, outlet_id, event_id, pass_id, quantity`,
		orderID, ReservationReleased, ReservationReserved)
	if err != nil {
		return nil, fmt.Errorf("release reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.OrderLineID, &res.OrderID, &res.Key.OutletID, &res.Key.EventID,
			&res.Key.PassID, &res.Quantity); err != nil {
			return nil, fmt.Errorf("scan released reservations: %w", err)
		}
		res.Status = ReservationReleased
		out = append(out, res)
	}
	return out, rows.Err()
}
