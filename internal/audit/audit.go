// Package audit is the append-only ledger of every mutating action. Entries
// are written inside the same transaction as the change they describe and
// are never updated or deleted.
package audit

import (
	"context"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/pagination"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ActionCreateStock         = "create_stock"
	ActionUpdateStock         = "update_stock"
	ActionCreateOrder         = "create_order"
	ActionApproveOrder        = "approve_order"
	ActionRejectOrder         = "reject_order"
	ActionRemoveOrder         = "remove_order"
	ActionUpdateOrderEmail    = "update_order_email"
	ActionResendOrderReceived = "resend_order_received"
	ActionResendTicketsEmail  = "resend_tickets_email"
	ActionReconcileTickets    = "reconcile_tickets"
	ActionScanTicket          = "scan_ticket"
)

const (
	TargetStock  = "stock"
	TargetOrder  = "order"
	TargetTicket = "ticket"
)

type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorType  string         `json:"performed_by_type"`
	ActorID    string         `json:"performed_by_id"`
	ActorEmail string         `json:"performed_by_email"`
	OutletID   *string        `json:"outlet_id"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Filter struct {
	Action        string
	PerformedByID string
	TargetType    string
	TargetID      string
	From          *time.Time
	To            *time.Time
	Page          pagination.Page
}

// Matches is the in-memory form of the filter, used by non-SQL stores.
func (f Filter) Matches(e Entry) bool {
	switch {
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.PerformedByID != "" && e.ActorID != f.PerformedByID:
		return false
	case f.TargetType != "" && e.TargetType != f.TargetType:
		return false
	case f.TargetID != "" && e.TargetID != f.TargetID:
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && e.CreatedAt.After(*f.To):
		return false
	}
	return true
}

type Repository interface {
	Append(ctx context.Context, q postgres.DBTX, e Entry) error
	List(ctx context.Context, q postgres.DBTX, f Filter) ([]Entry, error)
}

// Record is what a caller knows about an action; actor and provenance are
// taken from the context.
type Record struct {
	Action     string
	OutletID   string
	TargetType string
	TargetID   string
	Details    map[string]any
}

type Log struct {
	logger *logrus.Logger
	repo   Repository
	now    func() time.Time
}

func NewLog(logger *logrus.Logger, repo Repository) *Log {
	return &Log{logger: logger, repo: repo, now: time.Now}
}

// Record appends exactly one entry using q, which should be the transaction
// that carries the audited change.
func (l *Log) Record(ctx context.Context, q postgres.DBTX, r Record) error {
	a := actor.MustFromContext(ctx)
	p := actor.ProvenanceFrom(ctx)

	e := Entry{
		ID:         uuid.NewString(),
		Action:     r.Action,
		ActorType:  a.Type,
		ActorID:    a.ID,
		ActorEmail: a.Email,
		TargetType: r.TargetType,
		TargetID:   r.TargetID,
		Details:    r.Details,
		IPAddress:  p.IP,
		UserAgent:  p.UserAgent,
		CreatedAt:  l.now().UTC(),
	}
	if r.OutletID != "" {
		outlet := r.OutletID
		e.OutletID = &outlet
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	if err := l.repo.Append(ctx, q, e); err != nil {
		l.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"action":    r.Action,
			"target_id": r.TargetID,
		}).Error("append audit entry")
		return apperr.Unavailable(err, "an error occurred while writing the audit log")
	}
	return nil
}

func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Page.Limit == 0 {
		f.Page = pagination.New(nil, &f.Page.Offset)
	}
	entries, err := l.repo.List(ctx, nil, f)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).Error("list audit entries")
		return nil, apperr.Unavailable(err, "an error occurred while getting audit entries")
	}
	return entries, nil
}
