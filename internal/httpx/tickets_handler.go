package httpx

import (
	"net/http"
	"strconv"

	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/go-chi/chi/v5"
)

type TicketsHandler struct {
	Issuer  *tickets.Issuer
	Scanner *tickets.Scanner
}

// RegisterPublic mounts routes reachable without an actor. The token in the
// path is the credential.
func (h *TicketsHandler) RegisterPublic(r chi.Router) {
	r.Get("/tickets/{token}/qr.png", h.qr)
}

func (h *TicketsHandler) Register(r chi.Router) {
	r.Post("/scan/{token}", h.scan)
}

func (h *TicketsHandler) qr(w http.ResponseWriter, r *http.Request) {
	png, err := h.Issuer.Artifact(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		Error(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *TicketsHandler) scan(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Scanner.Scan(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		Error(w, err)
		return
	}
	OK(w, "ticket is valid", rec)
}
