package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 消費したSAGAイベントの総数（topic, result: processed, duplicate, failed, retried）
	SagaEventsConsumedTotal *prometheus.CounterVec

	// 発行したSAGAイベントの総数（topic）
	SagaEventsPublishedTotal *prometheus.CounterVec

	// Yuan予約の操作総数（operation: hold/confirm/release, status: success/rejected/error）
	ReservationsTotal *prometheus.CounterVec

	// 期限切れ回収で解放された予約の総数
	ExpiredReservationsReleasedTotal prometheus.Counter

	// 冪等性チェックのヒット総数（source: cache, store）
	IdempotencyHitsTotal *prometheus.CounterVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SagaEventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_events_consumed_total",
				Help: "Total number of consumed vote saga events",
			},
			[]string{"topic", "result"},
		),
		SagaEventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_events_published_total",
				Help: "Total number of published vote saga events",
			},
			[]string{"topic"},
		),
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yuan_reservations_total",
				Help: "Total number of yuan reservation operations",
			},
			[]string{"operation", "status"},
		),
		ExpiredReservationsReleasedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yuan_expired_reservations_released_total",
				Help: "Total number of expired reservations released by the reaper",
			},
		),
		IdempotencyHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_hits_total",
				Help: "Total number of duplicate deliveries rejected by the idempotency guard",
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SagaEventsConsumedTotal,
		m.SagaEventsPublishedTotal,
		m.ReservationsTotal,
		m.ExpiredReservationsReleasedTotal,
		m.IdempotencyHitsTotal,
	)

	return m
}
