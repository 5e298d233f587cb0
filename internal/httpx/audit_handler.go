package httpx

import (
	"net/http"

	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/go-chi/chi/v5"
)

type AuditHandler struct {
	Log *audit.Log
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit-log", h.list)
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
	lq, err := parseListQuery(r)
	if err != nil {
		Error(w, err)
		return
	}
	q := r.URL.Query()
	entries, err := h.Log.List(r.Context(), audit.Filter{
		Action:        q.Get("action"),
		PerformedByID: q.Get("performed_by_id"),
		TargetType:    q.Get("target_type"),
		TargetID:      q.Get("target_id"),
		From:          lq.From,
		To:            lq.To,
		Page:          lq.Page,
	})
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, RESTEnvelope{Status: StatusOK, Message: "list of audit entries", Data: entries, Meta: lq.Page})
}
