package httpx

import "github.com/go-chi/chi/v5"

type API struct {
	Stock   *StockHandler
	Orders  *OrdersHandler
	Audit   *AuditHandler
	Tickets *TicketsHandler
}

// Mount registers every API route on r. All routes except the QR image
// require an actor.
func (a API) Mount(r chi.Router) {
	a.Tickets.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(Authenticate)
		a.Stock.Register(r)
		a.Orders.Register(r)
		a.Audit.Register(r)
		a.Tickets.Register(r)
	})
}
