package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	ended []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) log(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for i := 0; i+1 < len(args); i += 2 {
		b.WriteString(" ")
		b.WriteString(args[i].(string))
		b.WriteString("=")
		b.WriteString(strings.TrimSpace(strings.ReplaceAll(toString(args[i+1]), "\n", " ")))
	}
	l.lines = append(l.lines, b.String())
}

func toString(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }

func (l *captureLogger) contains(fragment string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func TestServiceObservabilityHooks(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := newTestService(t, 1,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)
	ctx := context.Background()

	result, err := svc.RunCycle(ctx, sayajigunj)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !audit.has("run_cycle", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.Area == sayajigunj && e.EntityID == result.GreenLane && !e.OccurredAt.IsZero()
	}) {
		t.Fatalf("expected run_cycle success audit with green lane, got %+v", audit.entries)
	}
	if !metrics.has("run_cycle", true) {
		t.Fatalf("expected run_cycle success metric")
	}
	if !logger.contains("WARN congestion alert") {
		t.Fatalf("expected congestion warning, got %v", logger.lines)
	}
	if !logger.contains("INFO challan issued") {
		t.Fatalf("expected challan log line, got %v", logger.lines)
	}

	if _, err := svc.Challan(ctx, 9999); err == nil {
		t.Fatalf("expected missing challan error")
	}
	if !audit.has("get_challan", AuditStatusError, func(e AuditEntry) bool { return e.EntityID == "9999" && e.Error != "" }) {
		t.Fatalf("expected get_challan error audit")
	}
	if !metrics.has("get_challan", false) {
		t.Fatalf("expected get_challan failure metric")
	}
	var sawFailedSpan bool
	for _, rec := range tracer.ended {
		if rec.op == "get_challan" && rec.err != nil {
			sawFailedSpan = true
		}
	}
	if !sawFailedSpan {
		t.Fatalf("expected failed get_challan span, got %+v", tracer.ended)
	}
}

func TestPrometheusRecorderCountsCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := newTestService(t, 1, WithMetricsRecorder(rec))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.RunCycle(ctx, sayajigunj); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	_, _ = svc.RunCycle(ctx, "Gotri")

	if got := testutil.ToFloat64(rec.grants.WithLabelValues(sayajigunj, "Lane 3")); got != 2 {
		t.Fatalf("expected 2 grants for lane 3, got %v", got)
	}
	if got := testutil.ToFloat64(rec.alerts.WithLabelValues(sayajigunj)); got != 2 {
		t.Fatalf("expected 2 alerts, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("run_cycle", "error")); got != 1 {
		t.Fatalf("expected 1 failed cycle, got %v", got)
	}
	if got := testutil.CollectAndCount(rec.challans); got == 0 {
		t.Fatalf("expected challan series")
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestPrometheusRecorderIgnoresBlankOperation(t *testing.T) {
	rec, err := NewPrometheusMetricsRecorder(nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "", true, time.Millisecond)
	if got := testutil.CollectAndCount(rec.operations); got != 0 {
		t.Fatalf("expected no series, got %d", got)
	}
}

func TestJSONTracerWritesEntries(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "run_cycle")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "get_challan")
	span.End(errors.New("challan 7 not found"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Operation != "get_challan" {
		t.Fatalf("unexpected operation %s", decoded.Operation)
	}
	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "noop")
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("nil writer tracer should still retain entries")
	}
}

func TestLoggerAuditRecorder(t *testing.T) {
	logger := &captureLogger{}
	rec := LoggerAuditRecorder{Logger: logger}
	rec.Record(context.Background(), AuditEntry{Operation: "set_threshold", Area: sayajigunj, EntityID: "80", Status: AuditStatusSuccess})
	rec.Record(context.Background(), AuditEntry{Operation: "get_challan", Status: AuditStatusError, Error: "missing"})
	if !logger.contains(`INFO audit operation="set_threshold"`) || !logger.contains(`entity_id="80"`) {
		t.Fatalf("unexpected success line %v", logger.lines)
	}
	if !logger.contains(`WARN audit operation="get_challan"`) || !logger.contains(`error="missing"`) {
		t.Fatalf("unexpected error line %v", logger.lines)
	}
	LoggerAuditRecorder{}.Record(context.Background(), AuditEntry{Operation: "x"})
}

func TestNoopObservabilityDefaults(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	noopMetricsRecorder{}.Observe(context.Background(), "op", true, time.Second)
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	noopAuditRecorder{}.Record(context.Background(), AuditEntry{})
}

func TestClockFunc(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 5, 30, 0, 0, time.FixedZone("IST", 19800))
	if got := ClockFunc(func() time.Time { return fixed }).Now(); got.Location() != time.UTC || !got.Equal(fixed) {
		t.Fatalf("expected UTC normalisation, got %v", got)
	}
	if ClockFunc(nil).Now().IsZero() {
		t.Fatalf("nil clock should read wall time")
	}
}
