package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type RouterProperty struct {
	Logger  *logrus.Logger
	Timeout time.Duration
	Ready   map[string]Pinger
}

// NewRouter returns the root router with probes and metrics mounted.
// API handlers register themselves on the returned mux.
func NewRouter(props RouterProperty) *chi.Mux {
	timeout := props.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(props.Logger), middleware.Recoverer)
	r.Use(instrument)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, p := range props.Ready {
			if err := p.Ping(ctx); err != nil {
				props.Logger.WithContext(ctx).WithError(err).WithField("dependency", name).Warn("readiness check failed")
				failed[name] = "unavailable"
			}
		}
		if len(failed) > 0 {
			JSON(w, http.StatusServiceUnavailable, RESTEnvelope{Status: "UNAVAILABLE", Message: "not ready", Data: failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
