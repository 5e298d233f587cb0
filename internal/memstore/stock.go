package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
)

type StockRepo struct{ s *Store }

func (r *StockRepo) find(k stock.Key) (stock.Entry, bool) {
	for _, e := range r.s.data.stock {
		if e.Key() == k {
			return e, true
		}
	}
	return stock.Entry{}, false
}

func (r *StockRepo) Insert(_ context.Context, q postgres.DBTX, e stock.Entry) error {
	defer r.s.lock(q)()
	if _, ok := r.find(e.Key()); ok {
		return stock.ErrDuplicate
	}
	r.s.data.stock[e.ID] = e
	return nil
}

func (r *StockRepo) FindByID(_ context.Context, q postgres.DBTX, id string) (stock.Entry, error) {
	defer r.s.lock(q)()
	e, ok := r.s.data.stock[id]
	if !ok {
		return stock.Entry{}, stock.ErrNotFound
	}
	return e, nil
}

func (r *StockRepo) List(_ context.Context, q postgres.DBTX, outletID, eventID string) ([]stock.Entry, error) {
	defer r.s.lock(q)()
	out := []stock.Entry{}
	for _, e := range r.s.data.stock {
		if e.OutletID != outletID || (eventID != "" && e.EventID != eventID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *StockRepo) ApplyPatch(_ context.Context, q postgres.DBTX, id string, p stock.Patch) (stock.Entry, error) {
	defer r.s.lock(q)()
	e, ok := r.s.data.stock[id]
	if !ok {
		return stock.Entry{}, stock.ErrNotFound
	}
	next, err := p.Apply(e)
	if err != nil {
		return stock.Entry{}, err
	}
	r.s.data.stock[id] = next
	return next, nil
}

func (r *StockRepo) Reserve(_ context.Context, q postgres.DBTX, k stock.Key, qty int) error {
	defer r.s.lock(q)()
	e, ok := r.find(k)
	if !ok {
		return stock.ErrNotFound
	}
	if !e.CanReserve(qty) {
		return stock.ErrOutOfStock
	}
	e.SoldQuantity += qty
	r.s.data.stock[e.ID] = e
	return nil
}

func (r *StockRepo) Release(_ context.Context, q postgres.DBTX, k stock.Key, qty int) (bool, error) {
	defer r.s.lock(q)()
	e, ok := r.find(k)
	if !ok {
		return false, nil
	}
	e.SoldQuantity -= qty
	if e.SoldQuantity < 0 {
		e.SoldQuantity = 0
	}
	r.s.data.stock[e.ID] = e
	return true, nil
}
