package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for quote operations.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeNotFound    = "author_not_found"
	OutcomeNoCandidate = "no_candidate"
	OutcomeError       = "error"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	QuoteOperations *prometheus.CounterVec
	CacheEvictions  prometheus.Counter
	StoreLatency    *prometheus.HistogramVec
	ChatMessages    *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	window *opWindow
}

// NewMetrics registers instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QuoteOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_operations_total",
			Help:      "Quote engine operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_evictions_total",
			Help:      "Unstored records evicted to keep per-author caches bounded.",
		}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_store_latency_ms",
			Help:      "Latency of quote store units in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"op"}),
		ChatMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages seen by the dispatcher, by command kind.",
		}, []string{"kind"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newOpWindow(256),
	}
}

// ObserveOp records one quote operation and its store latency.
func (m *Metrics) ObserveOp(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QuoteOperations.WithLabelValues(op, outcome).Inc()
	ms := float64(d.Microseconds()) / 1000
	m.StoreLatency.WithLabelValues(op).Observe(ms)
	m.window.Record(op, outcome, ms)
}

func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) IncChatMessage(kind string) {
	if m == nil {
		return
	}
	m.ChatMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// OpSnapshot returns rolling latency percentiles per operation.
func (m *Metrics) OpSnapshot() OpSnapshot {
	if m == nil {
		return OpSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
