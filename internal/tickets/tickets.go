// Package tickets mints one scannable ticket per purchased unit and keeps the
// denormalized scan projection that entry gates validate against.
package tickets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusGenerated Status = "GENERATED"
	StatusDelivered Status = "DELIVERED"
)

type ScanStatus string

const (
	ScanValid ScanStatus = "valid"
	ScanUsed  ScanStatus = "used"
)

var (
	ErrNotFound       = errors.New("ticket not found")
	ErrAlreadyScanned = errors.New("ticket already scanned")
	// ErrUnitIssued is returned when the unit already has a ticket.
	ErrUnitIssued = errors.New("ticket unit already issued")
	// ErrNotIssuable is returned when the order is no longer paid.
	ErrNotIssuable = errors.New("order does not accept tickets")
)

type Ticket struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	OrderLineID string     `json:"order_line_id"`
	UnitNo      int        `json:"unit_no"`
	SecureToken string     `json:"secure_token"`
	ArtifactURL string     `json:"qr_code_url"`
	Status      Status     `json:"status"`
	GeneratedAt time.Time  `json:"generated_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ScanRecord is a read-optimized copy of ticket, buyer and event data keyed
// by ticket id. It is rebuilt from the order on issuance and deleted with the
// ticket; it is never the source of truth.
type ScanRecord struct {
	TicketID    string          `json:"ticket_id"`
	OrderID     string          `json:"order_id"`
	SecureToken string          `json:"-"`
	BuyerName   string          `json:"buyer_name"`
	BuyerPhone  string          `json:"buyer_phone"`
	BuyerEmail  string          `json:"buyer_email"`
	EventName   string          `json:"event_name"`
	EventDate   time.Time       `json:"event_date"`
	Venue       string          `json:"venue"`
	PassName    string          `json:"pass_name"`
	Price       decimal.Decimal `json:"price"`
	ScanStatus  ScanStatus      `json:"scan_status"`
	ScannedAt   *time.Time      `json:"scanned_at,omitempty"`
}

type Repository interface {
	// InsertIssued writes a ticket and its scan record together. It fails
	// with ErrNotIssuable unless the order is paid, holding the order row
	// until q commits, and with ErrUnitIssued when the unit is taken.
	InsertIssued(ctx context.Context, q postgres.DBTX, t Ticket, s ScanRecord) error
	ListByOrder(ctx context.Context, q postgres.DBTX, orderID string) ([]Ticket, error)
	CountByLine(ctx context.Context, q postgres.DBTX, orderID string) (map[string]int, error)
	// IssuedUnits returns the unit numbers that have a ticket, per line.
	IssuedUnits(ctx context.Context, q postgres.DBTX, orderID string) (map[string]map[int]bool, error)
	// DeleteByOrder removes tickets, scan records and artifacts of an order.
	DeleteByOrder(ctx context.Context, q postgres.DBTX, orderID string) (int, error)
	MarkDelivered(ctx context.Context, q postgres.DBTX, orderID string, at time.Time) (int, error)
	FindScanByToken(ctx context.Context, q postgres.DBTX, token string) (ScanRecord, error)
	// MarkScanned flips valid to used; false when it was not valid.
	MarkScanned(ctx context.Context, q postgres.DBTX, token string, at time.Time) (bool, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, q postgres.DBTX, orderID, token string, png []byte) (url string, err error)
	Get(ctx context.Context, token string) ([]byte, error)
}

// NewToken returns 32 random bytes hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
