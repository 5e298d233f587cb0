package httpx

import (
	"net/http"

	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type CreateStockRequest struct {
	OutletID     string `json:"outlet_id" validate:"required"`
	EventID      string `json:"event_id" validate:"required"`
	PassID       string `json:"pass_id" validate:"required"`
	MaxQuantity  *int   `json:"max_quantity" validate:"omitempty,gte=0"`
	SoldQuantity *int   `json:"sold_quantity" validate:"omitempty,gte=0"`
}

type UpdateStockRequest struct {
	MaxQuantity  stock.OptionalInt `json:"max_quantity"`
	SoldQuantity *int              `json:"sold_quantity" validate:"omitempty,gte=0"`
	IsActive     *bool             `json:"is_active"`
}

type StockView struct {
	stock.Entry
	Remaining *int `json:"remaining"`
}

func stockView(e stock.Entry) StockView {
	return StockView{Entry: e, Remaining: e.Remaining()}
}

type StockHandler struct {
	Validate *validator.Validate
	Ledger   *stock.Ledger
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/stock", h.list)
	r.Post("/stock", h.create)
	r.Get("/stock/{id}", h.get)
	r.Patch("/stock/{id}", h.update)
}

func (h *StockHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Ledger.List(r.Context(), q.Get("outlet_id"), q.Get("event_id"))
	if err != nil {
		Error(w, err)
		return
	}
	out := make([]StockView, 0, len(entries))
	for _, e := range entries {
		out = append(out, stockView(e))
	}
	OK(w, "list of stock entries", out)
}

func (h *StockHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateStockRequest
	if err := decode(r, &req, false); err != nil {
		Error(w, err)
		return
	}
	if err := validate(r.Context(), h.Validate, req); err != nil {
		Error(w, err)
		return
	}

	in := stock.CreateInput{
		OutletID:    req.OutletID,
		EventID:     req.EventID,
		PassID:      req.PassID,
		MaxQuantity: req.MaxQuantity,
	}
	if req.SoldQuantity != nil {
		in.SoldQuantity = *req.SoldQuantity
	}
	e, err := h.Ledger.Create(r.Context(), in)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, RESTEnvelope{Status: StatusCreated, Message: "stock entry has been created", Data: stockView(e)})
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "stock entry", stockView(e))
}

func (h *StockHandler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateStockRequest
	if err := decode(r, &req, false); err != nil {
		Error(w, err)
		return
	}
	if err := validate(r.Context(), h.Validate, req); err != nil {
		Error(w, err)
		return
	}

	e, err := h.Ledger.Update(r.Context(), chi.URLParam(r, "id"), stock.Patch{
		MaxQuantity:  req.MaxQuantity,
		SoldQuantity: req.SoldQuantity,
		IsActive:     req.IsActive,
	})
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "stock entry has been updated", stockView(e))
}
