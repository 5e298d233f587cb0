package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type CreateOrderLineRequest struct {
	PassID   string `json:"pass_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0,lte=1000"`
}

type CreateOrderRequest struct {
	ExternalID string                   `json:"external_id" validate:"omitempty,max=128"`
	OutletID   string                   `json:"outlet_id" validate:"required"`
	EventID    string                   `json:"event_id" validate:"required"`
	UserName   string                   `json:"user_name" validate:"required,max=200"`
	UserPhone  string                   `json:"user_phone" validate:"omitempty,max=50"`
	UserEmail  *string                  `json:"user_email" validate:"omitempty,email"`
	Lines      []CreateOrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type CreateOrderResponse struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// OptionalString distinguishes an absent JSON field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type UpdateOrderRequest struct {
	UserEmail OptionalString `json:"user_email"`
}

type ApproveResponse struct {
	Success       bool `json:"success"`
	TicketsCount  int  `json:"ticketsCount"`
	TicketsFailed int  `json:"ticketsFailed,omitempty"`
}

type UpdateEmailResponse struct {
	Success   bool    `json:"success"`
	UserEmail *string `json:"user_email"`
}

type OrdersHandler struct {
	Validate *validator.Validate
	Orders   *orders.Service
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.list)
	r.Post("/orders", h.create)
	r.Get("/orders/{id}", h.get)
	r.Patch("/orders/{id}", h.updateEmail)
	r.Post("/orders/{id}/approve", h.approve)
	r.Post("/orders/{id}/reject", h.reject)
	r.Post("/orders/{id}/remove", h.remove)
	r.Post("/orders/{id}/resend-order-received", h.resendOrderReceived)
	r.Post("/orders/{id}/resend-tickets-email", h.resendTickets)
	r.Get("/orders/{id}/tickets", h.tickets)
	r.Post("/orders/{id}/reconcile-tickets", h.reconcile)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	lq, err := parseListQuery(r)
	if err != nil {
		Error(w, err)
		return
	}
	q := r.URL.Query()
	out, err := h.Orders.List(r.Context(), orders.Filter{
		Status:   orders.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		EventID:  q.Get("event_id"),
		OutletID: q.Get("outlet_id"),
		From:     lq.From,
		To:       lq.To,
		Page:     lq.Page,
	})
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, RESTEnvelope{Status: StatusOK, Message: "list of orders", Data: out, Meta: lq.Page})
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decode(r, &req, false); err != nil {
		Error(w, err)
		return
	}
	if err := validate(r.Context(), h.Validate, req); err != nil {
		Error(w, err)
		return
	}

	in := orders.CreateInput{
		ExternalID: strings.TrimSpace(req.ExternalID),
		OutletID:   req.OutletID,
		EventID:    req.EventID,
		UserName:   req.UserName,
		UserPhone:  req.UserPhone,
		UserEmail:  req.UserEmail,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, orders.CreateLineInput{PassID: l.PassID, Quantity: l.Quantity})
	}
	o, existed, err := h.Orders.Create(r.Context(), in)
	if err != nil {
		Error(w, err)
		return
	}
	if existed {
		OK(w, "order already exists", CreateOrderResponse{Order: o, Idempotent: true})
		return
	}
	JSON(w, http.StatusCreated, RESTEnvelope{Status: StatusCreated, Message: "order is awaiting approval", Data: CreateOrderResponse{Order: o}})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "order", d)
}

func (h *OrdersHandler) updateEmail(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := decode(r, &req, false); err != nil {
		Error(w, err)
		return
	}
	if !req.UserEmail.Set {
		Error(w, apperr.InvalidArgument("user_email is required"))
		return
	}
	if v := req.UserEmail.Value; v != nil && strings.TrimSpace(*v) != "" {
		if err := h.Validate.Var(strings.TrimSpace(*v), "email"); err != nil {
			Error(w, apperr.InvalidArgument("user_email is not a valid email address"))
			return
		}
	}

	email, err := h.Orders.UpdateEmail(r.Context(), chi.URLParam(r, "id"), req.UserEmail.Value)
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "order email has been updated", UpdateEmailResponse{Success: true, UserEmail: email})
}

func (h *OrdersHandler) approve(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orders.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "order has been approved", ApproveResponse{Success: true, TicketsCount: res.TicketsCount, TicketsFailed: res.TicketsFailed})
}

func (h *OrdersHandler) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectOrderRequest
	if err := decode(r, &req, true); err != nil {
		Error(w, err)
		return
	}
	if err := validate(r.Context(), h.Validate, req); err != nil {
		Error(w, err)
		return
	}
	if err := h.Orders.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		Error(w, err)
		return
	}
	OK(w, "order has been rejected", SuccessBody{Success: true})
}

func (h *OrdersHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	OK(w, "order has been removed", SuccessBody{Success: true})
}

func (h *OrdersHandler) resendOrderReceived(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.ResendOrderReceived(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	OK(w, "order received notice has been queued", SuccessBody{Success: true})
}

func (h *OrdersHandler) resendTickets(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.ResendTickets(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}
	OK(w, "tickets notice has been queued", SuccessBody{Success: true})
}

func (h *OrdersHandler) tickets(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Orders.Tickets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "tickets of order", sum)
}

func (h *OrdersHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orders.ReconcileTickets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "ticket issuance has been reconciled", res)
}
