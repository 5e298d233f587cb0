package orders

import (
	"context"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/pagination"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/sirupsen/logrus"
)

type Detail struct {
	Order
	TicketsExpected int `json:"tickets_expected"`
	TicketsIssued   int `json:"tickets_issued"`
}

type TicketSummary struct {
	OrderID  string           `json:"order_id"`
	Expected int              `json:"expected"`
	Issued   int              `json:"issued"`
	Tickets  []tickets.Ticket `json:"tickets"`
}

type ReconcileResult struct {
	Issued  int `json:"issued"`
	Failed  int `json:"failed"`
	Missing int `json:"missing"`
}

func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	o, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return Detail{}, s.translate(ctx, err, id, "an error occurred while getting the order")
	}
	counts, err := s.issuer.CountByLine(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Order: o, TicketsExpected: o.Units()}
	for _, n := range counts {
		d.TicketsIssued += n
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.InvalidArgument("unknown status '%s'", f.Status)
	}
	if f.Page.Limit == 0 {
		f.Page = pagination.New(nil, &f.Page.Offset)
	}
	out, err := s.repo.List(ctx, nil, f)
	if err != nil {
		return nil, s.translate(ctx, err, "", "an error occurred while listing orders")
	}
	return out, nil
}

// Tickets exposes the ticket-count check: Expected differs from Issued when
// issuance left a gap.
func (s *Service) Tickets(ctx context.Context, id string) (TicketSummary, error) {
	o, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return TicketSummary{}, s.translate(ctx, err, id, "an error occurred while getting the order")
	}
	ts, err := s.issuer.ListByOrder(ctx, id)
	if err != nil {
		return TicketSummary{}, err
	}
	return TicketSummary{OrderID: o.ID, Expected: o.Units(), Issued: len(ts), Tickets: ts}, nil
}

func (s *Service) ResendOrderReceived(ctx context.Context, id string) error {
	o, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return s.translate(ctx, err, id, "an error occurred while getting the order")
	}
	if o.Status != StatusPending {
		return apperr.Conflict("order is not awaiting approval")
	}
	if o.UserEmail == nil {
		return apperr.InvalidArgument("order has no email address")
	}

	s.notifier.Notify(ctx, notice(notify.KindOrderReceived, o, nil))
	return s.recordResend(ctx, o, audit.ActionResendOrderReceived, 0)
}

func (s *Service) ResendTickets(ctx context.Context, id string) error {
	o, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return s.translate(ctx, err, id, "an error occurred while getting the order")
	}
	if o.Status != StatusPaid {
		return apperr.Conflict("tickets can only be sent for a paid order")
	}
	if o.UserEmail == nil {
		return apperr.InvalidArgument("order has no email address")
	}
	ts, err := s.issuer.ListByOrder(ctx, id)
	if err != nil {
		return err
	}
	if len(ts) == 0 {
		return apperr.InvalidArgument("order has no tickets")
	}

	s.notifier.Notify(ctx, notice(notify.KindTicketsReady, o, ts))
	return s.recordResend(ctx, o, audit.ActionResendTicketsEmail, len(ts))
}

func (s *Service) recordResend(ctx context.Context, o Order, action string, ticketCount int) error {
	err := s.audit.Record(ctx, nil, audit.Record{
		Action:     action,
		OutletID:   o.OutletID,
		TargetType: audit.TargetOrder,
		TargetID:   o.ID,
		Details:    map[string]any{"user_email": o.UserEmail, "tickets": ticketCount},
	})
	if err != nil {
		// the notice is already queued; a missing audit row must not make
		// the operator resend again
		s.logger.WithContext(ctx).WithError(err).WithField("order_id", o.ID).Warn("audit resend")
	}
	return nil
}

// ReconcileTickets issues the units of a paid order that have no ticket yet.
func (s *Service) ReconcileTickets(ctx context.Context, id string) (ReconcileResult, error) {
	o, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return ReconcileResult{}, s.translate(ctx, err, id, "an error occurred while getting the order")
	}
	if o.Status != StatusPaid {
		return ReconcileResult{}, apperr.Conflict("tickets can only be issued for a paid order")
	}
	counts, err := s.issuer.CountByLine(ctx, id)
	if err != nil {
		return ReconcileResult{}, err
	}

	var short []Line
	var res ReconcileResult
	for _, l := range o.Lines {
		if gap := l.Quantity - counts[l.ID]; gap > 0 {
			res.Missing += gap
			short = append(short, l)
		}
	}
	if res.Missing == 0 {
		return res, nil
	}

	// units issued meanwhile by a concurrent call are skipped, not duplicated
	out := s.issuer.Issue(ctx, issueRequest(o, short))
	res.Issued, res.Failed = len(out.Issued), out.Failed

	if err := s.audit.Record(ctx, nil, audit.Record{
		Action:     audit.ActionReconcileTickets,
		OutletID:   o.OutletID,
		TargetType: audit.TargetOrder,
		TargetID:   o.ID,
		Details:    map[string]any{"missing": res.Missing, "issued": res.Issued, "failed": res.Failed},
	}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("order_id", o.ID).Warn("audit reconcile")
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"order_id": o.ID,
		"missing":  res.Missing,
		"issued":   res.Issued,
	}).Info("ticket issuance reconciled")

	if res.Issued > 0 {
		if all, err := s.issuer.ListByOrder(ctx, o.ID); err == nil {
			s.notifier.Notify(ctx, notice(notify.KindTicketsReady, o, all))
		}
	}
	return res, nil
}
