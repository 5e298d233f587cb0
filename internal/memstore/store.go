// Package memstore keeps every repository in process memory. It backs the
// memory store driver and the service tests. Transactions are serialized and
// roll back by restoring a snapshot taken when they began.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type state struct {
	outlets      map[string]orders.OutletRef
	events       map[string]orders.EventRef
	passes       map[string]orders.PassRef
	stock        map[string]stock.Entry
	orders       map[string]orders.Order
	reservations map[string]orders.Reservation
	tickets      map[string]tickets.Ticket
	ticketSeq    []string
	scans        map[string]tickets.ScanRecord
	artifacts    map[string][]byte
	audit        []audit.Entry
}

func newState() state {
	return state{
		outlets:      map[string]orders.OutletRef{},
		events:       map[string]orders.EventRef{},
		passes:       map[string]orders.PassRef{},
		stock:        map[string]stock.Entry{},
		orders:       map[string]orders.Order{},
		reservations: map[string]orders.Reservation{},
		tickets:      map[string]tickets.Ticket{},
		scans:        map[string]tickets.ScanRecord{},
		artifacts:    map[string][]byte{},
	}
}

// clone copies the maps. Stored values are replaced, never mutated in place,
// so a shallow copy of each value is a full snapshot.
func (s state) clone() state {
	c := newState()
	for k, v := range s.outlets {
		c.outlets[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.passes {
		c.passes[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	c.ticketSeq = append([]string(nil), s.ticketSeq...)
	for k, v := range s.scans {
		c.scans[k] = v
	}
	for k, v := range s.artifacts {
		c.artifacts[k] = v
	}
	c.audit = append([]audit.Entry(nil), s.audit...)
	return c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state

	BaseURL string
}

func New(baseURL string) *Store {
	return &Store{data: newState(), BaseURL: baseURL}
}

// txHandle marks calls made inside InTx. It is never used for SQL.
type txHandle struct{}

var errNoSQL = errors.New("memstore: transaction handle does not execute SQL")

func (txHandle) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoSQL
}

func (txHandle) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNoSQL
}

func (txHandle) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error { return errNoSQL }

// lock serializes a call outside a transaction against running
// transactions, so a rollback cannot discard it.
func (s *Store) lock(q postgres.DBTX) func() {
	if q == nil {
		s.txMu.Lock()
		s.mu.Lock()
		return func() {
			s.mu.Unlock()
			s.txMu.Unlock()
		}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn with other transactions excluded. Calls made with the q
// passed to fn join the transaction; calls made with a nil q must not happen
// inside fn.
func (s *Store) InTx(_ context.Context, fn func(q postgres.DBTX) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.data.clone()
	s.mu.Unlock()

	if err := fn(txHandle{}); err != nil {
		s.mu.Lock()
		s.data = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Stock() *StockRepo {
	return &StockRepo{s}
}

func (s *Store) Orders() *OrderRepo {
	return &OrderRepo{s}
}

func (s *Store) Tickets() *TicketRepo {
	return &TicketRepo{s}
}

func (s *Store) Artifacts() *ArtifactRepo {
	return &ArtifactRepo{s}
}

func (s *Store) Audit() *AuditRepo {
	return &AuditRepo{s}
}

func (s *Store) AddOutlet(o orders.OutletRef) {
	defer s.lock(nil)()
	s.data.outlets[o.ID] = o
}

func (s *Store) AddEvent(e orders.EventRef) {
	defer s.lock(nil)()
	s.data.events[e.ID] = e
}

func (s *Store) AddPass(p orders.PassRef) {
	defer s.lock(nil)()
	s.data.passes[p.ID] = p
}

// SeedOrder stores o as is, bypassing stock. Outlet and event refs are filled
// from the catalogue on read.
func (s *Store) SeedOrder(o orders.Order) {
	defer s.lock(nil)()
	s.data.orders[o.ID] = o
}

func (s *Store) SeedReservation(r orders.Reservation) {
	defer s.lock(nil)()
	s.data.reservations[r.OrderLineID] = r
}

// AuditEntries returns every entry oldest first.
func (s *Store) AuditEntries() []audit.Entry {
	defer s.lock(nil)()
	return append([]audit.Entry(nil), s.data.audit...)
}

func (s *Store) ScanRecords(orderID string) []tickets.ScanRecord {
	defer s.lock(nil)()
	var out []tickets.ScanRecord
	for _, r := range s.data.scans {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}
