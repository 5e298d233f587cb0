package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Stock reservation attempts by result",
		},
		[]string{"result"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order state transitions by action and result",
		},
		[]string{"action", "result"},
	)

	TicketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Ticket units issued by result",
		},
		[]string{"result"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification dispatches by kind and result",
		},
		[]string{"kind", "result"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
