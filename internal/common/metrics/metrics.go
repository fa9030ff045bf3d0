package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_conversations_created_total",
			Help: "Total number of conversation creation calls by outcome",
		},
		[]string{"outcome"},
	)

	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_exchanges_total",
			Help: "Total number of streaming exchanges by outcome (done or error code)",
		},
		[]string{"outcome"},
	)

	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_exchange_duration_seconds",
			Help:    "Duration of streaming exchanges in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_frames_received_total",
			Help: "Total number of backend frames received by event kind",
		},
		[]string{"event"},
	)

	ExchangesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxy_exchanges_active",
			Help: "Number of streaming exchanges currently open",
		},
	)
)
