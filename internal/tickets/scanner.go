package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/sirupsen/logrus"
)

// Scanner validates tokens at the gate using the scan projection only.
type Scanner struct {
	logger *logrus.Logger
	tx     postgres.TxRunner
	repo   Repository
	audit  *audit.Log
	now    func() time.Time
}

func NewScanner(logger *logrus.Logger, tx postgres.TxRunner, repo Repository, log *audit.Log) *Scanner {
	return &Scanner{logger: logger, tx: tx, repo: repo, audit: log, now: time.Now}
}

func (s *Scanner) Scan(ctx context.Context, token string) (ScanRecord, error) {
	if token == "" {
		return ScanRecord{}, apperr.InvalidArgument("token is required")
	}

	var rec ScanRecord
	err := s.tx.InTx(ctx, func(q postgres.DBTX) error {
		var err error
		rec, err = s.repo.FindScanByToken(ctx, q, token)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		ok, err := s.repo.MarkScanned(ctx, q, token, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyScanned
		}
		rec.ScanStatus = ScanUsed
		rec.ScannedAt = &at
		return s.audit.Record(ctx, q, audit.Record{
			Action:     audit.ActionScanTicket,
			TargetType: audit.TargetTicket,
			TargetID:   rec.TicketID,
			Details:    map[string]any{"order_id": rec.OrderID, "event_name": rec.EventName},
		})
	})

	var ae *apperr.Error
	switch {
	case err == nil:
		return rec, nil
	case errors.As(err, &ae):
		return ScanRecord{}, ae
	case errors.Is(err, ErrNotFound):
		return ScanRecord{}, apperr.NotFound("ticket is not valid")
	case errors.Is(err, ErrAlreadyScanned):
		return ScanRecord{}, apperr.Conflict("ticket has already been scanned")
	}
	s.logger.WithContext(ctx).WithError(err).Error("scan ticket")
	return ScanRecord{}, apperr.Unavailable(err, "an error occurred while validating the ticket")
}
