// Package notify hands order and ticket notices to the delivery pipeline.
// Dispatch never fails from the caller's point of view: problems are logged
// and counted, and the triggering transition stands.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOrderReceived Kind = "order-received"
	KindTicketsReady  Kind = "tickets-ready"
)

type LineSnapshot struct {
	PassName  string          `json:"pass_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderSnapshot struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	UserName   string          `json:"user_name"`
	UserPhone  string          `json:"user_phone"`
	UserEmail  string          `json:"user_email"`
	OutletName string          `json:"outlet_name"`
	EventName  string          `json:"event_name"`
	EventDate  time.Time       `json:"event_date"`
	Venue      string          `json:"venue"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Lines      []LineSnapshot  `json:"lines"`
}

type TicketSnapshot struct {
	ID          string `json:"id"`
	OrderLineID string `json:"order_line_id"`
	SecureToken string `json:"secure_token"`
	QRCodeURL   string `json:"qr_code_url"`
}

type Notice struct {
	Kind    Kind             `json:"kind"`
	Order   OrderSnapshot    `json:"order"`
	Tickets []TicketSnapshot `json:"tickets,omitempty"`
}

// Dispatcher must not block on delivery and must not panic.
type Dispatcher interface {
	Notify(ctx context.Context, n Notice)
}

// Nop drops every notice. Used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}
