package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/sirupsen/logrus"
)

type StockLedger interface {
	Reserve(ctx context.Context, q postgres.DBTX, k stock.Key, qty int) error
	Release(ctx context.Context, q postgres.DBTX, k stock.Key, qty int) error
}

type TicketIssuer interface {
	Issue(ctx context.Context, req tickets.IssueRequest) tickets.IssueResult
	Revoke(ctx context.Context, q postgres.DBTX, orderID string) (int, error)
	ListByOrder(ctx context.Context, orderID string) ([]tickets.Ticket, error)
	CountByLine(ctx context.Context, orderID string) (map[string]int, error)
}

// IdempotencyCache is a fast path in front of the external_id lookup. The
// database stays authoritative.
type IdempotencyCache interface {
	Lookup(ctx context.Context, externalID string) (orderID string, ok bool)
	Remember(ctx context.Context, externalID, orderID string)
}

type Service struct {
	logger   *logrus.Logger
	tx       postgres.TxRunner
	repo     Repository
	ledger   StockLedger
	issuer   TicketIssuer
	audit    *audit.Log
	notifier notify.Dispatcher
	idem     IdempotencyCache
	now      func() time.Time
}

type ServiceProperty struct {
	Logger      *logrus.Logger
	TxRunner    postgres.TxRunner
	Repository  Repository
	Ledger      StockLedger
	Issuer      TicketIssuer
	Audit       *audit.Log
	Notifier    notify.Dispatcher
	Idempotency IdempotencyCache
}

func NewService(props ServiceProperty) *Service {
	n := props.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		logger:   props.Logger,
		tx:       props.TxRunner,
		repo:     props.Repository,
		ledger:   props.Ledger,
		issuer:   props.Issuer,
		audit:    props.Audit,
		notifier: n,
		idem:     props.Idempotency,
		now:      time.Now,
	}
}

type ApproveResult struct {
	TicketsCount  int `json:"ticketsCount"`
	TicketsFailed int `json:"ticketsFailed,omitempty"`
}

// Approve moves a pending order to PAID and then issues its tickets. The
// status flip, any outstanding reservation and the audit entry commit
// together; issuance runs afterwards and may leave a recoverable gap.
func (s *Service) Approve(ctx context.Context, id string) (ApproveResult, error) {
	a := actor.MustFromContext(ctx)

	var o Order
	err := s.tx.InTx(ctx, func(q postgres.DBTX) error {
		var err error
		o, err = s.repo.FindByID(ctx, q, id)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return apperr.Conflict("order cannot be approved while %s", o.Status)
		}
		if len(o.Lines) == 0 {
			return apperr.InvalidArgument("order has no lines to issue tickets for")
		}

		now := s.now().UTC()
		if err := s.transition(ctx, q, o, Transition{
			From: []Status{StatusPending},
			To:   StatusPaid,
			By:   a.ID,
			At:   now,
		}); err != nil {
			return err
		}

		reserved, err := s.repo.ReservedLines(ctx, q, o.ID)
		if err != nil {
			return err
		}
		for _, l := range o.Lines {
			if reserved[l.ID] {
				continue
			}
			if err := s.reserveLine(ctx, q, o, l); err != nil {
				return err
			}
		}

		o.Status = StatusPaid
		o.ApprovedBy = &a.ID
		o.ApprovedAt = &now
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionApproveOrder,
			OutletID:   o.OutletID,
			TargetType: audit.TargetOrder,
			TargetID:   o.ID,
			Details: map[string]any{
				"old_status": StatusPending,
				"new_status": StatusPaid,
				"units":      o.Units(),
			},
		})
	})
	if err != nil {
		metrics.OrderTransitions.WithLabelValues("approve", "failed").Inc()
		return ApproveResult{}, s.translate(ctx, err, id, "an error occurred while approving the order")
	}
	metrics.OrderTransitions.WithLabelValues("approve", "ok").Inc()

	res := s.issuer.Issue(ctx, issueRequest(o, o.Lines))
	if res.Failed > 0 {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"order_id": o.ID,
			"issued":   len(res.Issued),
			"failed":   res.Failed,
		}).Warn("order approved with partial ticket set")
	}
	if len(res.Issued) > 0 {
		s.notifier.Notify(ctx, notice(notify.KindTicketsReady, o, res.Issued))
	}
	return ApproveResult{TicketsCount: len(res.Issued) + res.Existing, TicketsFailed: res.Failed}, nil
}

// Reject moves a pending order to REJECTED and returns its stock.
func (s *Service) Reject(ctx context.Context, id, reason string) error {
	a := actor.MustFromContext(ctx)
	reason = strings.TrimSpace(reason)

	err := s.tx.InTx(ctx, func(q postgres.DBTX) error {
		o, err := s.repo.FindByID(ctx, q, id)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return apperr.Conflict("order cannot be rejected while %s", o.Status)
		}

		t := Transition{From: []Status{StatusPending}, To: StatusRejected, By: a.ID, At: s.now().UTC()}
		if reason != "" {
			t.Reason = &reason
		}
		if err := s.transition(ctx, q, o, t); err != nil {
			return err
		}
		released, err := s.releaseStock(ctx, q, o.ID)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionRejectOrder,
			OutletID:   o.OutletID,
			TargetType: audit.TargetOrder,
			TargetID:   o.ID,
			Details: map[string]any{
				"old_status":     o.Status,
				"new_status":     StatusRejected,
				"reason":         reason,
				"released_units": released,
			},
		})
	})
	if err != nil {
		metrics.OrderTransitions.WithLabelValues("reject", "failed").Inc()
		return s.translate(ctx, err, id, "an error occurred while rejecting the order")
	}
	metrics.OrderTransitions.WithLabelValues("reject", "ok").Inc()
	return nil
}

// Remove takes an order down administratively: stock still held is returned
// and every ticket with its scan record is deleted.
func (s *Service) Remove(ctx context.Context, id string) error {
	a := actor.MustFromContext(ctx)

	err := s.tx.InTx(ctx, func(q postgres.DBTX) error {
		o, err := s.repo.FindByID(ctx, q, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, StatusRemoved) {
			return apperr.Conflict("order is already %s and its stock was released", o.Status)
		}

		if err := s.transition(ctx, q, o, Transition{
			From: sourcesOf(StatusRemoved),
			To:   StatusRemoved,
			By:   a.ID,
			At:   s.now().UTC(),
		}); err != nil {
			return err
		}
		released, err := s.releaseStock(ctx, q, o.ID)
		if err != nil {
			return err
		}
		revoked, err := s.issuer.Revoke(ctx, q, o.ID)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionRemoveOrder,
			OutletID:   o.OutletID,
			TargetType: audit.TargetOrder,
			TargetID:   o.ID,
			Details: map[string]any{
				"old_status":      o.Status,
				"new_status":      StatusRemoved,
				"released_units":  released,
				"tickets_revoked": revoked,
			},
		})
	})
	if err != nil {
		metrics.OrderTransitions.WithLabelValues("remove", "failed").Inc()
		return s.translate(ctx, err, id, "an error occurred while removing the order")
	}
	metrics.OrderTransitions.WithLabelValues("remove", "ok").Inc()
	return nil
}

// UpdateEmail corrects the buyer email at any status. nil or blank clears it.
func (s *Service) UpdateEmail(ctx context.Context, id string, email *string) (*string, error) {
	var next *string
	if email != nil {
		if v := strings.TrimSpace(*email); v != "" {
			next = &v
		}
	}

	err := s.tx.InTx(ctx, func(q postgres.DBTX) error {
		o, err := s.repo.FindByID(ctx, q, id)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateEmail(ctx, q, id, next); err != nil {
			return err
		}
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionUpdateOrderEmail,
			OutletID:   o.OutletID,
			TargetType: audit.TargetOrder,
			TargetID:   o.ID,
			Details:    map[string]any{"old": o.UserEmail, "new": next},
		})
	})
	if err != nil {
		return nil, s.translate(ctx, err, id, "an error occurred while updating the order email")
	}
	return next, nil
}

func (s *Service) transition(ctx context.Context, q postgres.DBTX, o Order, t Transition) error {
	ok, err := s.repo.Transition(ctx, q, o.ID, t)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"order_id": o.ID,
			"to":       t.To,
		}).Info("order changed concurrently, transition lost")
		return apperr.Conflict("order was changed by another request, reload it and try again")
	}
	return nil
}

func (s *Service) reserveLine(ctx context.Context, q postgres.DBTX, o Order, l Line) error {
	k := o.StockKey(l)
	if err := s.ledger.Reserve(ctx, q, k, l.Quantity); err != nil {
		return err
	}
	return s.repo.InsertReservation(ctx, q, Reservation{
		OrderLineID: l.ID,
		OrderID:     o.ID,
		Key:         k,
		Quantity:    l.Quantity,
		Status:      ReservationReserved,
	})
}

func (s *Service) releaseStock(ctx context.Context, q postgres.DBTX, orderID string) (int, error) {
	rs, err := s.repo.ReleaseReservations(ctx, q, orderID)
	if err != nil {
		return 0, err
	}
	units := 0
	for _, r := range rs {
		if err := s.ledger.Release(ctx, q, r.Key, r.Quantity); err != nil {
			return 0, err
		}
		units += r.Quantity
	}
	return units, nil
}

func (s *Service) translate(ctx context.Context, err error, orderID, message string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("order '%s' is not found", orderID)
	case errors.Is(err, ErrDuplicateExternal):
		return apperr.Conflict("an order with this external id already exists")
	case errors.Is(err, ErrOutletNotFound):
		return apperr.InvalidArgument("outlet is not found")
	case errors.Is(err, ErrPassNotFound):
		return apperr.InvalidArgument("pass is not found")
	}
	s.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error(message)
	return apperr.Unavailable(err, message)
}
