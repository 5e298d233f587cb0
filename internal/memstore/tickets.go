package memstore

import (
	"context"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
)

type TicketRepo struct{ s *Store }

func (r *TicketRepo) InsertIssued(_ context.Context, q postgres.DBTX, t tickets.Ticket, rec tickets.ScanRecord) error {
	defer r.s.lock(q)()
	if o, ok := r.s.data.orders[t.OrderID]; !ok || o.Status != orders.StatusPaid {
		return tickets.ErrNotIssuable
	}
	for _, have := range r.s.data.tickets {
		if have.OrderLineID == t.OrderLineID && have.UnitNo == t.UnitNo {
			return tickets.ErrUnitIssued
		}
	}
	r.s.data.tickets[t.ID] = t
	r.s.data.ticketSeq = append(r.s.data.ticketSeq, t.ID)
	r.s.data.scans[rec.SecureToken] = rec
	return nil
}

func (r *TicketRepo) ListByOrder(_ context.Context, q postgres.DBTX, orderID string) ([]tickets.Ticket, error) {
	defer r.s.lock(q)()
	out := []tickets.Ticket{}
	for _, id := range r.s.data.ticketSeq {
		if t, ok := r.s.data.tickets[id]; ok && t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *TicketRepo) CountByLine(_ context.Context, q postgres.DBTX, orderID string) (map[string]int, error) {
	defer r.s.lock(q)()
	out := map[string]int{}
	for _, t := range r.s.data.tickets {
		if t.OrderID == orderID {
			out[t.OrderLineID]++
		}
	}
	return out, nil
}

func (r *TicketRepo) IssuedUnits(_ context.Context, q postgres.DBTX, orderID string) (map[string]map[int]bool, error) {
	defer r.s.lock(q)()
	out := map[string]map[int]bool{}
	for _, t := range r.s.data.tickets {
		if t.OrderID != orderID {
			continue
		}
		if out[t.OrderLineID] == nil {
			out[t.OrderLineID] = map[int]bool{}
		}
		out[t.OrderLineID][t.UnitNo] = true
	}
	return out, nil
}

func (r *TicketRepo) DeleteByOrder(_ context.Context, q postgres.DBTX, orderID string) (int, error) {
	defer r.s.lock(q)()
	n := 0
	for id, t := range r.s.data.tickets {
		if t.OrderID != orderID {
			continue
		}
		delete(r.s.data.tickets, id)
		delete(r.s.data.scans, t.SecureToken)
		delete(r.s.data.artifacts, t.SecureToken)
		n++
	}
	seq := r.s.data.ticketSeq[:0:0]
	for _, id := range r.s.data.ticketSeq {
		if _, ok := r.s.data.tickets[id]; ok {
			seq = append(seq, id)
		}
	}
	r.s.data.ticketSeq = seq
	return n, nil
}

func (r *TicketRepo) MarkDelivered(_ context.Context, q postgres.DBTX, orderID string, at time.Time) (int, error) {
	defer r.s.lock(q)()
	n := 0
	for id, t := range r.s.data.tickets {
		if t.OrderID != orderID || t.Status != tickets.StatusGenerated {
			continue
		}
		delivered := at
		t.Status = tickets.StatusDelivered
		t.DeliveredAt = &delivered
		r.s.data.tickets[id] = t
		n++
	}
	return n, nil
}

func (r *TicketRepo) FindScanByToken(_ context.Context, q postgres.DBTX, token string) (tickets.ScanRecord, error) {
	defer r.s.lock(q)()
	rec, ok := r.s.data.scans[token]
	if !ok {
		return tickets.ScanRecord{}, tickets.ErrNotFound
	}
	return rec, nil
}

func (r *TicketRepo) MarkScanned(_ context.Context, q postgres.DBTX, token string, at time.Time) (bool, error) {
	defer r.s.lock(q)()
	rec, ok := r.s.data.scans[token]
	if !ok || rec.ScanStatus != tickets.ScanValid {
		return false, nil
	}
	scanned := at
	rec.ScanStatus = tickets.ScanUsed
	rec.ScannedAt = &scanned
	r.s.data.scans[token] = rec
	return true, nil
}

// ArtifactRepo keeps rendered codes next to the tickets they belong to.
type ArtifactRepo struct{ s *Store }

func (a *ArtifactRepo) Put(_ context.Context, q postgres.DBTX, _, token string, png []byte) (string, error) {
	defer a.s.lock(q)()
	a.s.data.artifacts[token] = append([]byte(nil), png...)
	return tickets.ArtifactURL(a.s.BaseURL, token), nil
}

func (a *ArtifactRepo) Get(_ context.Context, token string) ([]byte, error) {
	defer a.s.lock(nil)()
	png, ok := a.s.data.artifacts[token]
	if !ok {
		return nil, tickets.ErrNotFound
	}
	return png, nil
}
