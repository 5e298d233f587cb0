package orders

import (
	"errors"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/pagination"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrDuplicateExternal = errors.New("order with external id already exists")
	ErrOutletNotFound    = errors.New("outlet not found")
	ErrPassNotFound      = errors.New("pass not found")
)

type OutletRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	IsActive bool   `json:"is_active"`
}

type EventRef struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Date  time.Time `json:"event_date"`
	Venue string    `json:"venue"`
}

type PassRef struct {
	ID      string
	EventID string
	Name    string
	Price   decimal.Decimal
}

type Line struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	PassID    string          `json:"pass_id"`
	PassName  string          `json:"pass_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID                 string          `json:"id"`
	ExternalID         *string         `json:"external_id,omitempty"`
	Status             Status          `json:"status"`
	OutletID           string          `json:"outlet_id"`
	EventID            string          `json:"event_id"`
	OperatorID         string          `json:"operator_id"`
	UserName           string          `json:"user_name"`
	UserPhone          string          `json:"user_phone"`
	UserEmail          *string         `json:"user_email"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	ApprovedBy         *string         `json:"approved_by"`
	ApprovedAt         *time.Time      `json:"approved_at"`
	RejectedBy         *string         `json:"rejected_by"`
	CancellationReason *string         `json:"cancellation_reason"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	RemovedBy          *string         `json:"removed_by"`
	RemovedAt          *time.Time      `json:"removed_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Lines  []Line    `json:"lines"`
	Outlet OutletRef `json:"outlet"`
	Event  EventRef  `json:"event"`
}

// Units is the number of tickets a fully issued order carries.
func (o Order) Units() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

func (o Order) StockKey(l Line) stock.Key {
	return stock.Key{OutletID: o.OutletID, EventID: o.EventID, PassID: l.PassID}
}

const (
	ReservationReserved = "RESERVED"
	ReservationReleased = "RELEASED"
)

// Reservation records that a line's quantity is held in the stock ledger.
type Reservation struct {
	OrderLineID string
	OrderID     string
	Key         stock.Key
	Quantity    int
	Status      string
}

// Transition is a conditional status change: it applies only while the
// stored status is one of From.
type Transition struct {
	From   []Status
	To     Status
	By     string
	At     time.Time
	Reason *string
}

type Filter struct {
	Status   Status
	EventID  string
	OutletID string
	From     *time.Time
	To       *time.Time
	Page     pagination.Page
}

func (f Filter) Matches(o Order) bool {
	switch {
	case f.Status != "" && o.Status != f.Status:
		return false
	case f.EventID != "" && o.EventID != f.EventID:
		return false
	case f.OutletID != "" && o.OutletID != f.OutletID:
		return false
	case f.From != nil && o.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && o.CreatedAt.After(*f.To):
		return false
	}
	return true
}
