package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the audit backend.
type Registry struct {
	meter metric.Meter

	// Capture
	EventsCaptured  metric.Int64Counter
	EventsDropped   metric.Int64Counter
	CaptureDuration metric.Float64Histogram

	// Detection
	DetectionRuns     metric.Int64Counter
	HeuristicFailures metric.Int64Counter
	FindingsRaised    metric.Int64Counter
	DetectionDuration metric.Float64Histogram

	// Alerts
	AlertsRaised   metric.Int64Counter
	AlertsResolved metric.Int64Counter

	// Reporting
	ReportJobs     metric.Int64Counter
	ReportDuration metric.Float64Histogram
}

var (
	registry *Registry
	once     sync.Once
)

// NewRegistry creates the metric registry from the global meter provider.
func NewRegistry() (*Registry, error) {
	meter := otel.Meter("caretrail.audit")
	r := &Registry{meter: meter}

	var err error
	if r.EventsCaptured, err = meter.Int64Counter("audit_events_captured_total",
		metric.WithDescription("Log records written by the capture classifier")); err != nil {
		return nil, fmt.Errorf("creating events captured counter: %w", err)
	}
	if r.EventsDropped, err = meter.Int64Counter("audit_events_dropped_total",
		metric.WithDescription("Capture writes swallowed after internal errors")); err != nil {
		return nil, fmt.Errorf("creating events dropped counter: %w", err)
	}
	if r.CaptureDuration, err = meter.Float64Histogram("audit_capture_duration_seconds",
		metric.WithDescription("Time spent classifying and writing one observed operation")); err != nil {
		return nil, fmt.Errorf("creating capture duration histogram: %w", err)
	}
	if r.DetectionRuns, err = meter.Int64Counter("audit_detection_runs_total",
		metric.WithDescription("Anomaly detection engine runs")); err != nil {
		return nil, fmt.Errorf("creating detection runs counter: %w", err)
	}
	if r.HeuristicFailures, err = meter.Int64Counter("audit_heuristic_failures_total",
		metric.WithDescription("Heuristics that failed inside a detection run")); err != nil {
		return nil, fmt.Errorf("creating heuristic failures counter: %w", err)
	}
	if r.FindingsRaised, err = meter.Int64Counter("audit_findings_total",
		metric.WithDescription("Findings produced by detection heuristics")); err != nil {
		return nil, fmt.Errorf("creating findings counter: %w", err)
	}
	if r.DetectionDuration, err = meter.Float64Histogram("audit_detection_duration_seconds",
		metric.WithDescription("Wall time of one detection run")); err != nil {
		return nil, fmt.Errorf("creating detection duration histogram: %w", err)
	}
	if r.AlertsRaised, err = meter.Int64Counter("audit_alerts_raised_total",
		metric.WithDescription("Security events persisted through the alert lifecycle")); err != nil {
		return nil, fmt.Errorf("creating alerts raised counter: %w", err)
	}
	if r.AlertsResolved, err = meter.Int64Counter("audit_alerts_resolved_total",
		metric.WithDescription("Security events resolved")); err != nil {
		return nil, fmt.Errorf("creating alerts resolved counter: %w", err)
	}
	if r.ReportJobs, err = meter.Int64Counter("audit_report_jobs_total",
		metric.WithDescription("Report and export jobs by terminal status")); err != nil {
		return nil, fmt.Errorf("creating report jobs counter: %w", err)
	}
	if r.ReportDuration, err = meter.Float64Histogram("audit_report_duration_seconds",
		metric.WithDescription("Report generation wall time")); err != nil {
		return nil, fmt.Errorf("creating report duration histogram: %w", err)
	}

	return r, nil
}

// Get returns the process-wide registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		r, err := NewRegistry()
		if err != nil {
			// Metrics failures never block the audit path.
			r = &Registry{}
		}
		registry = r
	})
	return registry
}

// Add is a nil-safe counter increment used by components that may run before
// telemetry initialization (unit tests, standalone mode).
func Add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Observe is the nil-safe histogram counterpart of Add.
func Observe(ctx context.Context, h metric.Float64Histogram, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.Record(ctx, v, metric.WithAttributes(attrs...))
}
