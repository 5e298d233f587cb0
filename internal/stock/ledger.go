package stock

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CreateInput struct {
	OutletID     string
	EventID      string
	PassID       string
	MaxQuantity  *int
	SoldQuantity int
}

type Ledger struct {
	logger *logrus.Logger
	tx     postgres.TxRunner
	repo   Repository
	audit  *audit.Log
	now    func() time.Time
}

type LedgerProperty struct {
	Logger     *logrus.Logger
	TxRunner   postgres.TxRunner
	Repository Repository
	Audit      *audit.Log
}

func NewLedger(props LedgerProperty) *Ledger {
	return &Ledger{
		logger: props.Logger,
		tx:     props.TxRunner,
		repo:   props.Repository,
		audit:  props.Audit,
		now:    time.Now,
	}
}

func (l *Ledger) Create(ctx context.Context, in CreateInput) (Entry, error) {
	if in.OutletID == "" || in.EventID == "" || in.PassID == "" {
		return Entry{}, apperr.InvalidArgument("outlet_id, event_id and pass_id are required")
	}
	if in.MaxQuantity != nil && *in.MaxQuantity < 0 {
		return Entry{}, apperr.InvalidArgument("max_quantity cannot be negative")
	}
	if in.SoldQuantity < 0 {
		return Entry{}, apperr.InvalidArgument("sold_quantity cannot be negative")
	}
	if !validQuantities(in.MaxQuantity, in.SoldQuantity) {
		return Entry{}, apperr.InvalidArgument("sold_quantity cannot exceed max_quantity")
	}

	now := l.now().UTC()
	e := Entry{
		ID:           uuid.NewString(),
		OutletID:     in.OutletID,
		EventID:      in.EventID,
		PassID:       in.PassID,
		MaxQuantity:  in.MaxQuantity,
		SoldQuantity: in.SoldQuantity,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := l.tx.InTx(ctx, func(q postgres.DBTX) error {
		if err := l.repo.Insert(ctx, q, e); err != nil {
			return err
		}
		return l.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionCreateStock,
			OutletID:   e.OutletID,
			TargetType: audit.TargetStock,
			TargetID:   e.ID,
			Details: map[string]any{
				"event_id": e.EventID,
				"pass_id":  e.PassID,
				"new":      e.Details(),
			},
		})
	})
	if err != nil {
		return Entry{}, l.translate(ctx, err, "an error occurred while creating the stock entry")
	}
	return e, nil
}

func (l *Ledger) Update(ctx context.Context, id string, p Patch) (Entry, error) {
	if p.Empty() {
		return Entry{}, apperr.InvalidArgument("at least one of max_quantity, sold_quantity or is_active is required")
	}
	if p.MaxQuantity.Value != nil && *p.MaxQuantity.Value < 0 {
		return Entry{}, apperr.InvalidArgument("max_quantity cannot be negative")
	}
	if p.SoldQuantity != nil && *p.SoldQuantity < 0 {
		return Entry{}, apperr.InvalidArgument("sold_quantity cannot be negative")
	}

	var updated Entry
	err := l.tx.InTx(ctx, func(q postgres.DBTX) error {
		old, err := l.repo.FindByID(ctx, q, id)
		if err != nil {
			return err
		}
		updated, err = l.repo.ApplyPatch(ctx, q, id, p)
		if err != nil {
			return err
		}
		if p.SoldQuantity != nil && *p.SoldQuantity != old.SoldQuantity {
			l.logger.WithContext(ctx).WithFields(logrus.Fields{
				"stock_id": id,
				"old_sold": old.SoldQuantity,
				"new_sold": *p.SoldQuantity,
			}).Warn("sold_quantity edited administratively")
		}
		return l.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionUpdateStock,
			OutletID:   old.OutletID,
			TargetType: audit.TargetStock,
			TargetID:   id,
			Details:    map[string]any{"old": old.Details(), "new": updated.Details()},
		})
	})
	if err != nil {
		return Entry{}, l.translate(ctx, err, "an error occurred while updating the stock entry")
	}
	return updated, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	e, err := l.repo.FindByID(ctx, nil, id)
	if err != nil {
		return Entry{}, l.translate(ctx, err, "an error occurred while getting the stock entry")
	}
	return e, nil
}

func (l *Ledger) List(ctx context.Context, outletID, eventID string) ([]Entry, error) {
	if outletID == "" {
		return nil, apperr.InvalidArgument("outlet_id is required")
	}
	entries, err := l.repo.List(ctx, nil, outletID, eventID)
	if err != nil {
		return nil, l.translate(ctx, err, "an error occurred while listing stock entries")
	}
	return entries, nil
}

// Reserve takes qty units of k inside the caller's transaction.
func (l *Ledger) Reserve(ctx context.Context, q postgres.DBTX, k Key, qty int) error {
	if qty <= 0 {
		return apperr.InvalidArgument("quantity must be positive")
	}
	err := l.repo.Reserve(ctx, q, k, qty)
	switch {
	case err == nil:
		metrics.StockReservations.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, ErrOutOfStock):
		metrics.StockReservations.WithLabelValues("out_of_stock").Inc()
		return apperr.OutOfStock("only limited quantity of pass '%s' remains at this outlet", k.PassID)
	case errors.Is(err, ErrNotFound):
		metrics.StockReservations.WithLabelValues("no_stock").Inc()
		return apperr.OutOfStock("pass '%s' is not on sale at this outlet", k.PassID)
	default:
		return l.translate(ctx, err, "an error occurred while reserving stock")
	}
}

// Release gives qty units of k back inside the caller's transaction.
func (l *Ledger) Release(ctx context.Context, q postgres.DBTX, k Key, qty int) error {
	if qty <= 0 {
		return nil
	}
	found, err := l.repo.Release(ctx, q, k, qty)
	if err != nil {
		return l.translate(ctx, err, "an error occurred while releasing stock")
	}
	if !found {
		l.logger.WithContext(ctx).WithFields(logrus.Fields{
			"outlet_id": k.OutletID,
			"event_id":  k.EventID,
			"pass_id":   k.PassID,
		}).Warn("release against missing stock entry ignored")
	}
	return nil
}

func (l *Ledger) translate(ctx context.Context, err error, message string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("stock entry is not found")
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict("a stock entry for this outlet, event and pass already exists")
	case errors.Is(err, ErrInvariant):
		return apperr.InvalidArgument("sold_quantity cannot exceed max_quantity")
	}
	l.logger.WithContext(ctx).WithError(err).Error(message)
	return apperr.Unavailable(err, message)
}
