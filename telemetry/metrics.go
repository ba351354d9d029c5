// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesTotal   *prometheus.CounterVec // by transport
	CommandsTotal   *prometheus.CounterVec // by command kind
	AuthEventsTotal *prometheus.CounterVec // begin, rejected, verified, reloaded, refreshed

	// Histograms (seconds)
	APIRequestDuration *prometheus.HistogramVec // by operation

	// Gauges
	SessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent). Helpers below are no-ops until Init runs.
func Init() {
	once.Do(func() {
		MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tweetchat_messages_total", Help: "Inbound chat messages handled"}, []string{"transport"})
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tweetchat_commands_total", Help: "Commands dispatched"}, []string{"kind"})
		AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tweetchat_auth_events_total", Help: "Authorization handshake events"}, []string{"event"})
		APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "tweetchat_api_request_duration_seconds", Help: "Social network API request duration seconds", Buckets: prometheus.DefBuckets}, []string{"op"})
		SessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tweetchat_sessions", Help: "Sessions held in memory"})
	})
}

// IncMessage counts one inbound message from transport.
func IncMessage(transport string) {
	if MessagesTotal != nil {
		MessagesTotal.WithLabelValues(transport).Inc()
	}
}

// IncCommand counts one dispatched command.
func IncCommand(kind string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(kind).Inc()
	}
}

// IncAuthEvent counts one handshake event.
func IncAuthEvent(event string) {
	if AuthEventsTotal != nil {
		AuthEventsTotal.WithLabelValues(event).Inc()
	}
}

// SetSessions records the registry size.
func SetSessions(n int) {
	if SessionsGauge != nil {
		SessionsGauge.Set(float64(n))
	}
}

// ObserveAPIRequest records the duration of one API call.
func ObserveAPIRequest(op string, d time.Duration) {
	if APIRequestDuration != nil {
		APIRequestDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation attaches a fresh random correlation id.
func NewCorrelation(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithCorrelation(ctx, id), id
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
