package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Buyer struct {
	Name  string
	Phone string
	Email string
}

type EventInfo struct {
	Name  string
	Date  time.Time
	Venue string
}

type Line struct {
	ID        string
	PassName  string
	UnitPrice decimal.Decimal
	Units     int
}

type IssueRequest struct {
	OrderID string
	Buyer   Buyer
	Event   EventInfo
	Lines   []Line
}

func (r IssueRequest) Units() int {
	n := 0
	for _, l := range r.Lines {
		n += l.Units
	}
	return n
}

type IssueResult struct {
	Issued []Ticket
	Failed int
	// Existing counts units that already had a ticket.
	Existing int
}

type Issuer struct {
	logger    *logrus.Logger
	tx        postgres.TxRunner
	repo      Repository
	artifacts ArtifactStore
	encode    Encoder
	newToken  func() (string, error)
	now       func() time.Time
}

type IssuerProperty struct {
	Logger     *logrus.Logger
	TxRunner   postgres.TxRunner
	Repository Repository
	Artifacts  ArtifactStore
	Encoder    Encoder
}

func NewIssuer(props IssuerProperty) *Issuer {
	enc := props.Encoder
	if enc == nil {
		enc = QRCode
	}
	return &Issuer{
		logger:    props.Logger,
		tx:        props.TxRunner,
		repo:      props.Repository,
		artifacts: props.Artifacts,
		encode:    enc,
		newToken:  NewToken,
		now:       time.Now,
	}
}

// Issue mints every unit of every line that has no ticket yet, numbering
// units 1..Units per line. A failing unit is logged and counted; units
// already issued stay issued. Once the order stops being paid the remaining
// units are counted as failed.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) IssueResult {
	var res IssueResult
	taken, err := i.repo.IssuedUnits(ctx, nil, req.OrderID)
	if err != nil {
		res.Failed = req.Units()
		metrics.TicketsIssued.WithLabelValues("failed").Add(float64(res.Failed))
		i.logger.WithContext(ctx).WithError(err).WithField("order_id", req.OrderID).Error("load issued units")
		return res
	}

	closed := false
	for _, line := range req.Lines {
		for n := 1; n <= line.Units; n++ {
			if taken[line.ID][n] {
				res.Existing++
				continue
			}
			if closed {
				res.Failed++
				metrics.TicketsIssued.WithLabelValues("failed").Inc()
				continue
			}
			t, err := i.issueUnit(ctx, req, line, n)
			switch {
			case err == nil:
				metrics.TicketsIssued.WithLabelValues("ok").Inc()
				res.Issued = append(res.Issued, t)
			case errors.Is(err, ErrUnitIssued):
				res.Existing++
			case errors.Is(err, ErrNotIssuable):
				closed = true
				res.Failed++
				metrics.TicketsIssued.WithLabelValues("failed").Inc()
				i.logger.WithContext(ctx).WithField("order_id", req.OrderID).Warn("order left paid status during issuance")
			default:
				res.Failed++
				metrics.TicketsIssued.WithLabelValues("failed").Inc()
				i.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
					"order_id":      req.OrderID,
					"order_line_id": line.ID,
					"unit_no":       n,
				}).Error("issue ticket unit")
			}
		}
	}
	return res
}

func (i *Issuer) issueUnit(ctx context.Context, req IssueRequest, line Line, unitNo int) (Ticket, error) {
	token, err := i.newToken()
	if err != nil {
		return Ticket{}, fmt.Errorf("generate token: %w", err)
	}
	png, err := i.encode(token)
	if err != nil {
		return Ticket{}, fmt.Errorf("encode qr: %w", err)
	}

	now := i.now().UTC()
	t := Ticket{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		OrderLineID: line.ID,
		UnitNo:      unitNo,
		SecureToken: token,
		Status:      StatusGenerated,
		GeneratedAt: now,
	}
	s := ScanRecord{
		TicketID:    t.ID,
		OrderID:     req.OrderID,
		SecureToken: token,
		BuyerName:   req.Buyer.Name,
		BuyerPhone:  req.Buyer.Phone,
		BuyerEmail:  req.Buyer.Email,
		EventName:   req.Event.Name,
		EventDate:   req.Event.Date,
		Venue:       req.Event.Venue,
		PassName:    line.PassName,
		Price:       line.UnitPrice,
		ScanStatus:  ScanValid,
	}
	// artifact and ticket commit together
	err = i.tx.InTx(ctx, func(q postgres.DBTX) error {
		url, err := i.artifacts.Put(ctx, q, req.OrderID, token, png)
		if err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
		t.ArtifactURL = url
		return i.repo.InsertIssued(ctx, q, t, s)
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("persist ticket: %w", err)
	}
	return t, nil
}

// Revoke deletes all tickets of an order inside the caller's transaction so
// their codes stop validating.
func (i *Issuer) Revoke(ctx context.Context, q postgres.DBTX, orderID string) (int, error) {
	n, err := i.repo.DeleteByOrder(ctx, q, orderID)
	if err != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("revoke tickets")
		return 0, apperr.Unavailable(err, "an error occurred while revoking tickets")
	}
	return n, nil
}

func (i *Issuer) ListByOrder(ctx context.Context, orderID string) ([]Ticket, error) {
	ts, err := i.repo.ListByOrder(ctx, nil, orderID)
	if err != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("list tickets")
		return nil, apperr.Unavailable(err, "an error occurred while getting tickets")
	}
	return ts, nil
}

func (i *Issuer) CountByLine(ctx context.Context, orderID string) (map[string]int, error) {
	counts, err := i.repo.CountByLine(ctx, nil, orderID)
	if err != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("count tickets")
		return nil, apperr.Unavailable(err, "an error occurred while counting tickets")
	}
	return counts, nil
}

func (i *Issuer) MarkDelivered(ctx context.Context, orderID string) (int, error) {
	n, err := i.repo.MarkDelivered(ctx, nil, orderID, i.now().UTC())
	if err != nil {
		return 0, apperr.Unavailable(err, "an error occurred while marking tickets delivered")
	}
	return n, nil
}

func (i *Issuer) Artifact(ctx context.Context, token string) ([]byte, error) {
	png, err := i.artifacts.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("ticket code is not found")
		}
		i.logger.WithContext(ctx).WithError(err).Error("get ticket artifact")
		return nil, apperr.Unavailable(err, "an error occurred while getting the ticket code")
	}
	return png, nil
}
