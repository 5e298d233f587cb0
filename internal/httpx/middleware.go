package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/actor"
	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	HeaderActorID    = "X-Actor-Id"
	HeaderActorEmail = "X-Actor-Email"
	HeaderActorRole  = "X-Actor-Role"
	HeaderActorType  = "X-Actor-Type"
)

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}

// instrument observes latency by route pattern so ids do not explode the
// label set.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// Authenticate trusts the identity headers set by the auth gateway and
// rejects requests that carry none.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			Error(w, apperr.Unauthenticated("missing actor identity"))
			return
		}
		a := actor.Actor{
			Type:  strings.TrimSpace(r.Header.Get(HeaderActorType)),
			ID:    id,
			Email: strings.TrimSpace(r.Header.Get(HeaderActorEmail)),
			Role:  strings.TrimSpace(r.Header.Get(HeaderActorRole)),
		}
		if a.Type == "" {
			a.Type = "admin"
		}

		ctx := actor.WithActor(r.Context(), a)
		ctx = actor.WithProvenance(ctx, actor.Provenance{IP: clientIP(r.RemoteAddr), UserAgent: r.UserAgent()})
		ctx = notify.WithTraceID(ctx, middleware.GetReqID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP strips the port RealIP leaves in place when no proxy header was
// present.
func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
