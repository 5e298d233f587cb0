package orders_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/memstore"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	outletA  = "outlet-a"
	event1   = "event-1"
	passVIP  = "pass-vip"
	passStd  = "pass-std"
	adminID  = "admin-1"
	buyerEml = "buyer@example.com"
)

type captureNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (c *captureNotifier) Notify(_ context.Context, n notify.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
}

func (c *captureNotifier) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Kind
	for _, n := range c.notices {
		out = append(out, n.Kind)
	}
	return out
}

// flakyArtifacts fails every Put whose sequence number is in failOn.
type flakyArtifacts struct {
	tickets.ArtifactStore
	mu     sync.Mutex
	n      int
	failOn map[int]bool
}

func (f *flakyArtifacts) Put(ctx context.Context, q postgres.DBTX, orderID, token string, png []byte) (string, error) {
	f.mu.Lock()
	f.n++
	fail := f.failOn[f.n]
	f.mu.Unlock()
	if fail {
		return "", errors.New("object store unreachable")
	}
	return f.ArtifactStore.Put(ctx, q, orderID, token, png)
}

type fixture struct {
	store    *memstore.Store
	ledger   *stock.Ledger
	issuer   *tickets.Issuer
	svc      *orders.Service
	notifier *captureNotifier
	ctx      context.Context
	// onEncode runs before every QR code is rendered.
	onEncode func()
}

func newFixture(t *testing.T, artifacts tickets.ArtifactStore) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := memstore.New("http://tickets.test")
	st.AddOutlet(orders.OutletRef{ID: outletA, Name: "Outlet A", Slug: "outlet-a", IsActive: true})
	st.AddEvent(orders.EventRef{ID: event1, Name: "Summer Fest", Date: time.Date(2026, 12, 1, 18, 0, 0, 0, time.UTC), Venue: "Main Arena"})
	st.AddPass(orders.PassRef{ID: passVIP, EventID: event1, Name: "VIP", Price: decimal.NewFromInt(500000)})
	st.AddPass(orders.PassRef{ID: passStd, EventID: event1, Name: "Standard", Price: decimal.NewFromInt(150000)})

	if artifacts == nil {
		artifacts = st.Artifacts()
	}
	f := &fixture{store: st}
	auditLog := audit.NewLog(logger, st.Audit())
	ledger := stock.NewLedger(stock.LedgerProperty{Logger: logger, TxRunner: st, Repository: st.Stock(), Audit: auditLog})
	issuer := tickets.NewIssuer(tickets.IssuerProperty{
		Logger:     logger,
		TxRunner:   st,
		Repository: st.Tickets(),
		Artifacts:  artifacts,
		Encoder: func(token string) ([]byte, error) {
			if f.onEncode != nil {
				f.onEncode()
			}
			return []byte(token), nil
		},
	})
	n := &captureNotifier{}
	svc := orders.NewService(orders.ServiceProperty{
		Logger:     logger,
		TxRunner:   st,
		Repository: st.Orders(),
		Ledger:     ledger,
		Issuer:     issuer,
		Audit:      auditLog,
		Notifier:   n,
	})

	f.ledger, f.issuer, f.svc, f.notifier = ledger, issuer, svc, n
	f.ctx = actor.WithActor(context.Background(), actor.Actor{Type: "admin", ID: adminID, Email: "admin@example.com"})
	return f
}

func (f *fixture) stockEntry(t *testing.T, pass string, max *int, sold int) stock.Entry {
	t.Helper()
	e, err := f.ledger.Create(f.ctx, stock.CreateInput{OutletID: outletA, EventID: event1, PassID: pass, MaxQuantity: max, SoldQuantity: sold})
	require.NoError(t, err)
	return e
}

// seedPending stores a pending order whose stock has not been reserved yet.
func (f *fixture) seedPending(id string, lines ...orders.Line) orders.Order {
	email := buyerEml
	o := orders.Order{
		ID:        id,
		Status:    orders.StatusPending,
		OutletID:  outletA,
		EventID:   event1,
		UserName:  "Budi",
		UserPhone: "0811",
		UserEmail: &email,
		Lines:     lines,
		CreatedAt: time.Now().UTC(),
	}
	f.store.SeedOrder(o)
	return o
}

func line(id, pass string, qty int) orders.Line {
	return orders.Line{ID: id, PassID: pass, Quantity: qty, UnitPrice: decimal.NewFromInt(100000)}
}

func ptr[T any](v T) *T { return &v }

func auditFor(f *fixture, action, target string) []audit.Entry {
	var out []audit.Entry
	for _, e := range f.store.AuditEntries() {
		if e.Action == action && e.TargetID == target {
			out = append(out, e)
		}
	}
	return out
}

func TestApprove_SellsOutOneUnitAtATime(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passVIP, ptr(10), 0)

	for i := 0; i < 10; i++ {
		id := "order-" + string(rune('a'+i))
		f.seedPending(id, line(id+"-l1", passVIP, 1))
		res, err := f.svc.Approve(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, res.TicketsCount)
	}

	got, err := f.ledger.Get(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.SoldQuantity)
	assert.Equal(t, 0, *got.Remaining())

	f.seedPending("order-k", line("order-k-l1", passVIP, 1))
	_, err = f.svc.Approve(f.ctx, "order-k")
	assert.True(t, apperr.Is(err, apperr.KindOutOfStock))

	d, err := f.svc.Get(f.ctx, "order-k")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, d.Status)
	assert.Zero(t, d.TicketsIssued)
}

func TestApprove_IssuesOneTicketPerUnit(t *testing.T) {
	f := newFixture(t, nil)
	f.stockEntry(t, passVIP, nil, 0)
	f.stockEntry(t, passStd, ptr(100), 0)
	f.seedPending("o1", line("l-vip", passVIP, 2), line("l-std", passStd, 3))

	res, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 5, res.TicketsCount)
	assert.Zero(t, res.TicketsFailed)

	d, err := f.svc.Get(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, d.Status)
	require.NotNil(t, d.ApprovedBy)
	assert.Equal(t, adminID, *d.ApprovedBy)
	assert.Equal(t, 5, d.TicketsExpected)
	assert.Equal(t, 5, d.TicketsIssued)

	scans := f.store.ScanRecords("o1")
	require.Len(t, scans, 5)
	for _, s := range scans {
		assert.Equal(t, tickets.ScanValid, s.ScanStatus)
		assert.Equal(t, "Budi", s.BuyerName)
		assert.Equal(t, "Summer Fest", s.EventName)
		assert.Equal(t, "Main Arena", s.Venue)
	}

	assert.Equal(t, []notify.Kind{notify.KindTicketsReady}, f.notifier.kinds())
	assert.Len(t, auditFor(f, audit.ActionApproveOrder, "o1"), 1)
}

func TestApprove_WithoutLinesIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPending("empty")

	_, err := f.svc.Approve(f.ctx, "empty")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	assert.Empty(t, auditFor(f, audit.ActionApproveOrder, "empty"))
}

func TestApprove_UnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Approve(f.ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestApprove_PartialIssuanceKeepsOrderPaid(t *testing.T) {
	flaky := &flakyArtifacts{failOn: map[int]bool{2: true}}
	f := newFixture(t, flaky)
	flaky.ArtifactStore = f.store.Artifacts()
	f.stockEntry(t, passStd, nil, 0)
	f.seedPending("o1", line("l1", passStd, 3))

	res, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TicketsCount)
	assert.Equal(t, 1, res.TicketsFailed)

	sum, err := f.svc.Tickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Expected)
	assert.Equal(t, 2, sum.Issued)

	rec, err := f.svc.ReconcileTickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.ReconcileResult{Issued: 1, Missing: 1}, rec)

	sum, err = f.svc.Tickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Issued)

	rec, err = f.svc.ReconcileTickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, rec.Missing)
}

func TestApprove_RemovedDuringIssuanceLeavesNoValidTickets(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passStd, ptr(10), 0)
	f.seedPending("o1", line("l1", passStd, 3))
	fired := false
	f.onEncode = func() {
		if fired {
			return
		}
		fired = true
		require.NoError(t, f.svc.Remove(f.ctx, "o1"))
	}

	res, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, res.TicketsCount)
	assert.Equal(t, 3, res.TicketsFailed)

	d, err := f.svc.Get(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRemoved, d.Status)
	assert.Zero(t, d.TicketsIssued)
	assert.Empty(t, f.store.ScanRecords("o1"))
	got, _ := f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 0, got.SoldQuantity)

	_, err = f.svc.ReconcileTickets(f.ctx, "o1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NotContains(t, f.notifier.kinds(), notify.KindTicketsReady)
}

func TestReconcileTickets_DuringApprovalIssuesEachUnitOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.stockEntry(t, passStd, nil, 0)
	f.seedPending("o1", line("l1", passStd, 3))
	var reconciled orders.ReconcileResult
	fired := false
	f.onEncode = func() {
		if fired {
			return
		}
		fired = true
		var err error
		reconciled, err = f.svc.ReconcileTickets(f.ctx, "o1")
		require.NoError(t, err)
	}

	res, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.ReconcileResult{Issued: 3, Missing: 3}, reconciled)
	assert.Equal(t, 3, res.TicketsCount)
	assert.Zero(t, res.TicketsFailed)

	sum, err := f.svc.Tickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Expected)
	assert.Equal(t, 3, sum.Issued)
	require.Len(t, sum.Tickets, 3)
	units := map[int]bool{}
	for _, tk := range sum.Tickets {
		units[tk.UnitNo] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, units)
	assert.Len(t, f.store.ScanRecords("o1"), 3)

	rec, err := f.svc.ReconcileTickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, rec.Missing)
}

func TestReject_ReleasesReservedStock(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passStd, ptr(10), 0)

	o, existed, err := f.svc.Create(f.ctx, orders.CreateInput{
		OutletID:  outletA,
		EventID:   event1,
		UserName:  "Sari",
		UserPhone: "0812",
		Lines:     []orders.CreateLineInput{{PassID: passStd, Quantity: 4}},
	})
	require.NoError(t, err)
	assert.False(t, existed)

	got, _ := f.ledger.Get(f.ctx, entry.ID)
	require.Equal(t, 4, got.SoldQuantity)

	require.NoError(t, f.svc.Reject(f.ctx, o.ID, "customer changed mind"))

	got, _ = f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 0, got.SoldQuantity)

	d, err := f.svc.Get(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRejected, d.Status)
	require.NotNil(t, d.CancellationReason)
	assert.Equal(t, "customer changed mind", *d.CancellationReason)
	assert.Len(t, auditFor(f, audit.ActionRejectOrder, o.ID), 1)
}

func TestApprove_AfterCreateDoesNotReserveTwice(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passVIP, ptr(5), 0)

	o, _, err := f.svc.Create(f.ctx, orders.CreateInput{
		OutletID:  outletA,
		EventID:   event1,
		UserName:  "Sari",
		UserEmail: ptr(buyerEml),
		Lines:     []orders.CreateLineInput{{PassID: passVIP, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(1000000)))

	_, err = f.svc.Approve(f.ctx, o.ID)
	require.NoError(t, err)

	got, _ := f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 2, got.SoldQuantity)
	assert.Equal(t, []notify.Kind{notify.KindOrderReceived, notify.KindTicketsReady}, f.notifier.kinds())
}

func TestCreate_OutOfStockRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	vip := f.stockEntry(t, passVIP, ptr(10), 0)
	f.stockEntry(t, passStd, ptr(1), 0)

	_, _, err := f.svc.Create(f.ctx, orders.CreateInput{
		OutletID: outletA,
		EventID:  event1,
		Lines: []orders.CreateLineInput{
			{PassID: passVIP, Quantity: 2},
			{PassID: passStd, Quantity: 2},
		},
	})
	assert.True(t, apperr.Is(err, apperr.KindOutOfStock))

	got, _ := f.ledger.Get(f.ctx, vip.ID)
	assert.Zero(t, got.SoldQuantity)

	list, err := f.svc.List(f.ctx, orders.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_ExternalIDIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passStd, nil, 0)
	in := orders.CreateInput{
		ExternalID: "pos-42",
		OutletID:   outletA,
		EventID:    event1,
		Lines:      []orders.CreateLineInput{{PassID: passStd, Quantity: 1}},
	}

	first, existed, err := f.svc.Create(f.ctx, in)
	require.NoError(t, err)
	assert.False(t, existed)

	second, existed, err := f.svc.Create(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	got, _ := f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 1, got.SoldQuantity)
}

func TestCreate_RejectsForeignPass(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPass(orders.PassRef{ID: "other", EventID: "event-2", Name: "Other", Price: decimal.NewFromInt(1)})

	_, _, err := f.svc.Create(f.ctx, orders.CreateInput{
		OutletID: outletA,
		EventID:  event1,
		Lines:    []orders.CreateLineInput{{PassID: "other", Quantity: 1}},
	})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestRemove_RevokesTicketsOnce(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passStd, ptr(10), 0)
	f.seedPending("o1", line("l1", passStd, 3))
	_, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	require.Len(t, f.store.ScanRecords("o1"), 3)

	require.NoError(t, f.svc.Remove(f.ctx, "o1"))

	sum, err := f.svc.Tickets(f.ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, sum.Issued)
	assert.Empty(t, f.store.ScanRecords("o1"))

	got, _ := f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 0, got.SoldQuantity)

	err = f.svc.Remove(f.ctx, "o1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	got, _ = f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 0, got.SoldQuantity)
	assert.Len(t, auditFor(f, audit.ActionRemoveOrder, "o1"), 1)
}

func TestTransitions_OnlyFromPending(t *testing.T) {
	for _, status := range []orders.Status{orders.StatusPaid, orders.StatusRejected, orders.StatusRemoved} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, nil)
			entry := f.stockEntry(t, passStd, ptr(10), 3)
			o := f.seedPending("o1", line("l1", passStd, 3))
			o.Status = status
			f.store.SeedOrder(o)

			_, err := f.svc.Approve(f.ctx, "o1")
			assert.True(t, apperr.Is(err, apperr.KindConflict))
			err = f.svc.Reject(f.ctx, "o1", "")
			assert.True(t, apperr.Is(err, apperr.KindConflict))

			d, err := f.svc.Get(f.ctx, "o1")
			require.NoError(t, err)
			assert.Equal(t, status, d.Status)
			got, _ := f.ledger.Get(f.ctx, entry.ID)
			assert.Equal(t, 3, got.SoldQuantity)
		})
	}
}

func TestApprove_ConcurrentApprovalsDoNotOversell(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.stockEntry(t, passVIP, ptr(3), 0)
	const n = 8
	for i := 0; i < n; i++ {
		id := "c" + string(rune('a'+i))
		f.seedPending(id, line(id+"-l", passVIP, 1))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, outOfStock := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Approve(f.ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.Is(err, apperr.KindOutOfStock):
				outOfStock++
			}
		}("c" + string(rune('a'+i)))
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, n-3, outOfStock)
	got, _ := f.ledger.Get(f.ctx, entry.ID)
	assert.Equal(t, 3, got.SoldQuantity)
}

func TestUpdateEmail_AnyStatus(t *testing.T) {
	f := newFixture(t, nil)
	o := f.seedPending("o1", line("l1", passStd, 1))
	o.Status = orders.StatusRejected
	f.store.SeedOrder(o)

	got, err := f.svc.UpdateEmail(f.ctx, "o1", ptr("  new@example.com "))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new@example.com", *got)

	got, err = f.svc.UpdateEmail(f.ctx, "o1", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	d, _ := f.svc.Get(f.ctx, "o1")
	assert.Nil(t, d.UserEmail)
	assert.Equal(t, orders.StatusRejected, d.Status)
	assert.Len(t, auditFor(f, audit.ActionUpdateOrderEmail, "o1"), 2)
}

func TestResend_Guards(t *testing.T) {
	f := newFixture(t, nil)
	f.stockEntry(t, passStd, nil, 0)
	f.seedPending("o1", line("l1", passStd, 1))

	assert.True(t, apperr.Is(f.svc.ResendTickets(f.ctx, "o1"), apperr.KindConflict))
	require.NoError(t, f.svc.ResendOrderReceived(f.ctx, "o1"))

	_, err := f.svc.Approve(f.ctx, "o1")
	require.NoError(t, err)
	assert.True(t, apperr.Is(f.svc.ResendOrderReceived(f.ctx, "o1"), apperr.KindConflict))
	require.NoError(t, f.svc.ResendTickets(f.ctx, "o1"))

	_, err = f.svc.UpdateEmail(f.ctx, "o1", nil)
	require.NoError(t, err)
	assert.True(t, apperr.Is(f.svc.ResendTickets(f.ctx, "o1"), apperr.KindInvalidArgument))

	assert.Equal(t, []notify.Kind{notify.KindOrderReceived, notify.KindTicketsReady, notify.KindTicketsReady}, f.notifier.kinds())
	assert.Len(t, auditFor(f, audit.ActionResendOrderReceived, "o1"), 1)
	assert.Len(t, auditFor(f, audit.ActionResendTicketsEmail, "o1"), 1)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		o := f.seedPending("o"+string(rune('0'+i)), line("l"+string(rune('0'+i)), passStd, 1))
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 1 {
			o.Status = orders.StatusPaid
		}
		f.store.SeedOrder(o)
	}

	paid, err := f.svc.List(f.ctx, orders.Filter{Status: orders.StatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 2)
	assert.Equal(t, "o3", paid[0].ID)
	assert.Equal(t, "Outlet A", paid[0].Outlet.Name)
	assert.Len(t, paid[0].Lines, 1)

	from := base.Add(2 * time.Hour)
	recent, err := f.svc.List(f.ctx, orders.Filter{From: &from})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	_, err = f.svc.List(f.ctx, orders.Filter{Status: "SHIPPED"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}
