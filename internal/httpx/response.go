package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
)

const (
	StatusOK      = "OK"
	StatusCreated = "CREATED"
)

type RESTEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Meta    any    `json:"meta,omitempty"`
}

type SuccessBody struct {
	Success bool `json:"success"`
}

func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, RESTEnvelope{Status: StatusOK, Message: message, Data: data})
}

// Error writes any error as an envelope. Errors that are not app errors are
// reported with a generic message.
func Error(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	JSON(w, ae.HTTPStatus(), RESTEnvelope{Status: string(ae.Kind), Message: ae.Message})
}
