package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// issuableStatus mirrors orders.StatusPaid, which this package cannot import.
const issuableStatus = "PAID"

type PGRepo struct{ DB *postgres.DB }

// InsertIssued takes a share lock on the order row, so a concurrent status
// change waits for this ticket to commit (and then revokes it) or commits
// first and makes this insert fail.
func (r *PGRepo) InsertIssued(ctx context.Context, q postgres.DBTX, t Ticket, s ScanRecord) error {
	db := r.DB.Or(q)
	var status string
	err := db.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR SHARE`, t.OrderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotIssuable
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	if status != issuableStatus {
		return ErrNotIssuable
	}

	ct, err := db.Exec(ctx, `
		INSERT INTO tickets(id, order_id, order_line_id, unit_no, secure_token, artifact_url, status, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (order_line_id, unit_no) DO NOTHING`,
		t.ID, t.OrderID, t.OrderLineID, t.UnitNo, t.SecureToken, t.ArtifactURL, string(t.Status), t.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrUnitIssued
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO ticket_scans(ticket_id, order_id, secure_token, buyer_name, buyer_phone, buyer_email,
		                         event_name, event_date, venue, pass_name, price, scan_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12)`,
		s.TicketID, s.OrderID, s.SecureToken, s.BuyerName, s.BuyerPhone, s.BuyerEmail,
		s.EventName, s.EventDate, s.Venue, s.PassName, s.Price.String(), string(s.ScanStatus),
	); err != nil {
		return fmt.Errorf("insert ticket_scans: %w", err)
	}
	return nil
}

func (r *PGRepo) ListByOrder(ctx context.Context, q postgres.DBTX, orderID string) ([]Ticket, error) {
	rows, err := r.DB.Or(q).Query(ctx, `
		SELECT id, order_id, order_line_id, unit_no, secure_token, artifact_url, status, generated_at, delivered_at
		FROM tickets WHERE order_id=$1 ORDER BY generated_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	out := make([]Ticket, 0)
	for rows.Next() {
		var t Ticket
		var status string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.OrderLineID, &t.UnitNo, &t.SecureToken, &t.ArtifactURL,
			&status, &t.GeneratedAt, &t.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan tickets: %w", err)
		}
		t.Status = Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountByLine(ctx context.Context, q postgres.DBTX, orderID string) (map[string]int, error) {
	rows, err := r.DB.Or(q).Query(ctx, `
		SELECT order_line_id, COUNT(*) FROM tickets WHERE order_id=$1 GROUP BY order_line_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var lineID string
		var n int
		if err := rows.Scan(&lineID, &n); err != nil {
			return nil, fmt.Errorf("scan ticket count: %w", err)
		}
		out[lineID] = n
	}
	return out, rows.Err()
}

func (r *PGRepo) IssuedUnits(ctx context.Context, q postgres.DBTX, orderID string) (map[string]map[int]bool, error) {
	rows, err := r.DB.Or(q).Query(ctx, `SELECT order_line_id, unit_no FROM tickets WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query ticket units: %w", err)
	}
	defer rows.Close()

	out := map[string]map[int]bool{}
	for rows.Next() {
		var lineID string
		var n int
		if err := rows.Scan(&lineID, &n); err != nil {
			return nil, fmt.Errorf("scan ticket unit: %w", err)
		}
		if out[lineID] == nil {
			out[lineID] = map[int]bool{}
		}
		out[lineID][n] = true
	}
	return out, rows.Err()
}

func (r *PGRepo) DeleteByOrder(ctx context.Context, q postgres.DBTX, orderID string) (int, error) {
	db := r.DB.Or(q)
	if _, err := db.Exec(ctx, `DELETE FROM ticket_scans WHERE order_id=$1`, orderID); err != nil {
		return 0, fmt.Errorf("delete ticket_scans: %w", err)
	}
	if _, err := db.Exec(ctx, `DELETE FROM ticket_artifacts WHERE order_id=$1`, orderID); err != nil {
		return 0, fmt.Errorf("delete ticket_artifacts: %w", err)
	}
	ct, err := db.Exec(ctx, `DELETE FROM tickets WHERE order_id=$1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("delete tickets: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *PGRepo) MarkDelivered(ctx context.Context, q postgres.DBTX, orderID string, at time.Time) (int, error) {
	ct, err := r.DB.Or(q).Exec(ctx, `
		UPDATE tickets SET status=$2, delivered_at=$3
		WHERE order_id=$1 AND status=$4`,
		orderID, string(StatusDelivered), at, string(StatusGenerated))
	if err != nil {
		return 0, fmt.Errorf("update tickets delivered: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *PGRepo) FindScanByToken(ctx context.Context, q postgres.DBTX, token string) (ScanRecord, error) {
	var s ScanRecord
	var price, status string
	err := r.DB.Or(q).QueryRow(ctx, `
		SELECT ticket_id, order_id, secure_token, buyer_name, buyer_phone, buyer_email,
		       event_name, event_date, venue, pass_name, price::text, scan_status, scanned_at
		FROM ticket_scans WHERE secure_token=$1`, token).Scan(
		&s.TicketID, &s.OrderID, &s.SecureToken, &s.BuyerName, &s.BuyerPhone, &s.BuyerEmail,
		&s.EventName, &s.EventDate, &s.Venue, &s.PassName, &price, &status, &s.ScannedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScanRecord{}, ErrNotFound
	}
	if err != nil {
		return ScanRecord{}, fmt.Errorf("select ticket_scans: %w", err)
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return ScanRecord{}, fmt.Errorf("parse scan price: %w", err)
	}
	s.ScanStatus = ScanStatus(status)
	return s, nil
}

func (r *PGRepo) MarkScanned(ctx context.Context, q postgres.DBTX, token string, at time.Time) (bool, error) {
	ct, err := r.DB.Or(q).Exec(ctx, `
		UPDATE ticket_scans SET scan_status=$2, scanned_at=$3
		WHERE secure_token=$1 AND scan_status=$4`,
		token, string(ScanUsed), at, string(ScanValid))
	if err != nil {
		return false, fmt.Errorf("update ticket_scans: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// PGArtifactStore keeps QR images next to the tickets and serves them under
// baseURL/tickets/{token}/qr.png.
type PGArtifactStore struct {
	DB      *postgres.DB
	BaseURL string
}

func (a *PGArtifactStore) Put(ctx context.Context, q postgres.DBTX, orderID, token string, png []byte) (string, error) {
	if _, err := a.DB.Or(q).Exec(ctx, `
		INSERT INTO ticket_artifacts(secure_token, order_id, png) VALUES ($1,$2,$3)
		ON CONFLICT (secure_token) DO NOTHING`, token, orderID, png); err != nil {
		return "", fmt.Errorf("insert ticket_artifacts: %w", err)
	}
	return ArtifactURL(a.BaseURL, token), nil
}

func (a *PGArtifactStore) Get(ctx context.Context, token string) ([]byte, error) {
	var png []byte
	err := a.DB.Pool.QueryRow(ctx, `SELECT png FROM ticket_artifacts WHERE secure_token=$1`, token).Scan(&png)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ticket_artifacts: %w", err)
	}
	return png, nil
}

func ArtifactURL(baseURL, token string) string {
	return fmt.Sprintf("%s/tickets/%s/qr.png", baseURL, token)
}
