package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder publishes operation latency and outcome counters,
// plus cycle level counters for signal grants, challans and congestion alerts.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	grants     *prometheus.CounterVec
	challans   *prometheus.CounterVec
	alerts     *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the trafficcore collectors on reg.
// A nil registerer leaves the collectors unregistered, which suits tests.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficcore",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trafficcore",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficcore",
			Name:      "green_grants_total",
			Help:      "Right-of-way grants per lane.",
		}, []string{"area", "lane"}),
		challans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficcore",
			Name:      "challans_issued_total",
			Help:      "Challans issued by arbitration cycles.",
		}, []string{"area", "violation_type"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficcore",
			Name:      "congestion_alerts_total",
			Help:      "Cycles that raised a congestion alert.",
		}, []string{"area"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{rec.operations, rec.durations, rec.grants, rec.challans, rec.alerts} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCycle implements CycleObserver.
func (r *PrometheusMetricsRecorder) ObserveCycle(result CycleResult) {
	r.grants.WithLabelValues(result.Area, result.GreenLane).Inc()
	if result.Challan != nil {
		r.challans.WithLabelValues(result.Area, string(result.Challan.ViolationType)).Inc()
	}
	if result.Alert.Triggered {
		r.alerts.WithLabelValues(result.Area).Inc()
	}
}

// LoggerAuditRecorder writes audit entries to a Logger.
type LoggerAuditRecorder struct {
	Logger Logger
}

// Record implements AuditRecorder.
func (r LoggerAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	if r.Logger == nil {
		return
	}
	args := []any{
		"operation", entry.Operation,
		"status", entry.Status,
		"duration_ms", float64(entry.Duration) / float64(time.Millisecond),
	}
	if entry.Area != "" {
		args = append(args, "area", entry.Area)
	}
	if entry.EntityID != "" {
		args = append(args, "entity_id", entry.EntityID)
	}
	if entry.Status == AuditStatusError {
		r.Logger.Warn("audit", append(args, "error", entry.Error)...)
		return
	}
	r.Logger.Info("audit", args...)
}

// JSONTraceEntry is a serialized span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer writing to w; w may be nil.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
