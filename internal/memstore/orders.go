package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
)

type OrderRepo struct{ s *Store }

// hydrate fills the joined refs the SQL repository selects with the order.
func (r *OrderRepo) hydrate(o orders.Order) orders.Order {
	o.Outlet = r.s.data.outlets[o.OutletID]
	o.Event = r.s.data.events[o.EventID]
	lines := make([]orders.Line, len(o.Lines))
	for i, l := range o.Lines {
		if p, ok := r.s.data.passes[l.PassID]; ok {
			l.PassName = p.Name
		}
		l.OrderID = o.ID
		lines[i] = l
	}
	o.Lines = lines
	return o
}

func (r *OrderRepo) Insert(_ context.Context, q postgres.DBTX, o orders.Order) error {
	defer r.s.lock(q)()
	if o.ExternalID != nil {
		for _, x := range r.s.data.orders {
			if x.ExternalID != nil && *x.ExternalID == *o.ExternalID {
				return orders.ErrDuplicateExternal
			}
		}
	}
	r.s.data.orders[o.ID] = o
	return nil
}

func (r *OrderRepo) FindByID(_ context.Context, q postgres.DBTX, id string) (orders.Order, error) {
	defer r.s.lock(q)()
	o, ok := r.s.data.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return r.hydrate(o), nil
}

func (r *OrderRepo) FindByExternalID(_ context.Context, q postgres.DBTX, externalID string) (orders.Order, error) {
	defer r.s.lock(q)()
	for _, o := range r.s.data.orders {
		if o.ExternalID != nil && *o.ExternalID == externalID {
			return r.hydrate(o), nil
		}
	}
	return orders.Order{}, orders.ErrNotFound
}

func (r *OrderRepo) List(_ context.Context, q postgres.DBTX, f orders.Filter) ([]orders.Order, error) {
	defer r.s.lock(q)()
	all := []orders.Order{}
	for _, o := range r.s.data.orders {
		if f.Matches(o) {
			all = append(all, r.hydrate(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start, end := f.Page.Window(len(all))
	return all[start:end], nil
}

func (r *OrderRepo) Transition(_ context.Context, q postgres.DBTX, id string, t orders.Transition) (bool, error) {
	defer r.s.lock(q)()
	o, ok := r.s.data.orders[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, from := range t.From {
		if o.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	by, at := t.By, t.At
	switch t.To {
	case orders.StatusPaid:
		o.ApprovedBy, o.ApprovedAt = &by, &at
	case orders.StatusRejected:
		o.RejectedBy, o.CancelledAt, o.CancellationReason = &by, &at, t.Reason
	case orders.StatusRemoved:
		o.RemovedBy, o.RemovedAt = &by, &at
	}
	o.Status = t.To
	o.UpdatedAt = at
	r.s.data.orders[id] = o
	return true, nil
}

func (r *OrderRepo) UpdateEmail(_ context.Context, q postgres.DBTX, id string, email *string) error {
	defer r.s.lock(q)()
	o, ok := r.s.data.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.UserEmail = email
	r.s.data.orders[id] = o
	return nil
}

func (r *OrderRepo) FindOutlet(_ context.Context, q postgres.DBTX, id string) (orders.OutletRef, error) {
	defer r.s.lock(q)()
	o, ok := r.s.data.outlets[id]
	if !ok {
		return orders.OutletRef{}, orders.ErrOutletNotFound
	}
	return o, nil
}

func (r *OrderRepo) FindPass(_ context.Context, q postgres.DBTX, id string) (orders.PassRef, error) {
	defer r.s.lock(q)()
	p, ok := r.s.data.passes[id]
	if !ok {
		return orders.PassRef{}, orders.ErrPassNotFound
	}
	return p, nil
}

func (r *OrderRepo) InsertReservation(_ context.Context, q postgres.DBTX, res orders.Reservation) error {
	defer r.s.lock(q)()
	if _, ok := r.s.data.reservations[res.OrderLineID]; !ok {
		r.s.data.reservations[res.OrderLineID] = res
	}
	return nil
}

func (r *OrderRepo) ReservedLines(_ context.Context, q postgres.DBTX, orderID string) (map[string]bool, error) {
	defer r.s.lock(q)()
	out := map[string]bool{}
	for id, res := range r.s.data.reservations {
		if res.OrderID == orderID {
			out[id] = true
		}
	}
	return out, nil
}

func (r *OrderRepo) ReleaseReservations(_ context.Context, q postgres.DBTX, orderID string) ([]orders.Reservation, error) {
	defer r.s.lock(q)()
	var out []orders.Reservation
	for id, res := range r.s.data.reservations {
		if res.OrderID != orderID || res.Status != orders.ReservationReserved {
			continue
		}
		res.Status = orders.ReservationReleased
		r.s.data.reservations[id] = res
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderLineID < out[j].OrderLineID })
	return out, nil
}
