package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "humgo"

var (
	MatchScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "match_scans_total", Help: "Candidate scans evaluated",
	})
	MatchScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "match_scan_duration_seconds", Help: "Time spent fetching and ranking candidates",
		Buckets: prometheus.DefBuckets,
	})
	MatchesFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "matches_found_total", Help: "Qualifying matches returned by scans",
	})
	MatchesPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "matches_persisted_total", Help: "Match records upserted",
	})
	StaleScansDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "stale_scans_dropped_total", Help: "Scan results superseded before persistence",
	})

	TripsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "trips_created_total", Help: "Trips created",
	})
	TripStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "trip_status_changes_total", Help: "Trip status writes by target status",
	}, []string{"status"})
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_sent_total", Help: "Chat messages persisted",
	})
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "rate_limited_total", Help: "Operations rejected by a cooldown",
	}, []string{"operation"})

	LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "live_subscriptions", Help: "Open live subscriptions across sessions",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
