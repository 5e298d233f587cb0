package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateLineInput struct {
	PassID   string
	Quantity int
}

type CreateInput struct {
	ExternalID string
	OutletID   string
	EventID    string
	UserName   string
	UserPhone  string
	UserEmail  *string
	Lines      []CreateLineInput
}

// Create records a point-of-sale order awaiting approval. Stock for every
// line is reserved in the same transaction; any shortage aborts the sale.
// A repeated external id returns the existing order with existed=true.
func (s *Service) Create(ctx context.Context, in CreateInput) (o Order, existed bool, err error) {
	if in.OutletID == "" || in.EventID == "" {
		return Order{}, false, apperr.InvalidArgument("outlet_id and event_id are required")
	}
	if len(in.Lines) == 0 {
		return Order{}, false, apperr.InvalidArgument("order needs at least one line")
	}
	for _, l := range in.Lines {
		if l.PassID == "" || l.Quantity <= 0 {
			return Order{}, false, apperr.InvalidArgument("every line needs a pass_id and a positive quantity")
		}
	}

	if in.ExternalID != "" {
		if existing, ok := s.findExisting(ctx, in.ExternalID); ok {
			return existing, true, nil
		}
	}

	a := actor.MustFromContext(ctx)
	now := s.now().UTC()
	o = Order{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		OutletID:   in.OutletID,
		EventID:    in.EventID,
		OperatorID: a.ID,
		UserName:   strings.TrimSpace(in.UserName),
		UserPhone:  strings.TrimSpace(in.UserPhone),
		TotalPrice: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.ExternalID != "" {
		ext := in.ExternalID
		o.ExternalID = &ext
	}
	if in.UserEmail != nil {
		if v := strings.TrimSpace(*in.UserEmail); v != "" {
			o.UserEmail = &v
		}
	}

	err = s.tx.InTx(ctx, func(q postgres.DBTX) error {
		outlet, err := s.repo.FindOutlet(ctx, q, in.OutletID)
		if err != nil {
			return err
		}
		if !outlet.IsActive {
			return apperr.InvalidArgument("outlet '%s' is not active", outlet.Name)
		}

		for _, li := range in.Lines {
			p, err := s.repo.FindPass(ctx, q, li.PassID)
			if err != nil {
				return err
			}
			if p.EventID != o.EventID {
				return apperr.InvalidArgument("pass '%s' does not belong to this event", p.Name)
			}
			l := Line{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				PassID:    p.ID,
				PassName:  p.Name,
				Quantity:  li.Quantity,
				UnitPrice: p.Price,
			}
			o.TotalPrice = o.TotalPrice.Add(p.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
			o.Lines = append(o.Lines, l)
		}

		if err := s.repo.Insert(ctx, q, o); err != nil {
			return err
		}
		for _, l := range o.Lines {
			if err := s.reserveLine(ctx, q, o, l); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionCreateOrder,
			OutletID:   o.OutletID,
			TargetType: audit.TargetOrder,
			TargetID:   o.ID,
			Details: map[string]any{
				"status":      o.Status,
				"units":       o.Units(),
				"total_price": o.TotalPrice.String(),
				"external_id": in.ExternalID,
			},
		})
	})
	if errors.Is(err, ErrDuplicateExternal) {
		// lost a race with a concurrent create carrying the same external id
		if existing, ok := s.findExisting(ctx, in.ExternalID); ok {
			return existing, true, nil
		}
	}
	if err != nil {
		return Order{}, false, s.translate(ctx, err, o.ID, "an error occurred while creating the order")
	}

	if in.ExternalID != "" && s.idem != nil {
		s.idem.Remember(ctx, in.ExternalID, o.ID)
	}

	full, err := s.repo.FindByID(ctx, nil, o.ID)
	if err == nil {
		o = full
	}
	if o.UserEmail != nil {
		s.notifier.Notify(ctx, notice(notify.KindOrderReceived, o, nil))
	}
	return o, false, nil
}

func (s *Service) findExisting(ctx context.Context, externalID string) (Order, bool) {
	if s.idem != nil {
		if id, ok := s.idem.Lookup(ctx, externalID); ok {
			if o, err := s.repo.FindByID(ctx, nil, id); err == nil {
				return o, true
			}
		}
	}
	o, err := s.repo.FindByExternalID(ctx, nil, externalID)
	if err != nil {
		return Order{}, false
	}
	return o, true
}
