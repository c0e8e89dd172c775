package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/entitlements"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Resolution metrics
	ResolutionsTotal    metric.Int64Counter
	ResolutionErrors    metric.Int64Counter
	ResolutionDuration  metric.Float64Histogram
	PlanPreviewsTotal   metric.Int64Counter
	UnmetDependencyWarn metric.Int64Counter

	// Override metrics
	OverridesWrittenTotal metric.Int64Counter
	OverrideRejectedTotal metric.Int64Counter
	StoreWriteFailures    metric.Int64Counter

	// Audit metrics
	AuditEntriesTotal  metric.Int64Counter
	AuditWriteFailures metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ResolutionsTotal, _ = meter.Int64Counter(
		"entitlements.resolutions.total",
		metric.WithDescription("Total number of effective feature map resolutions"),
		metric.WithUnit("{resolution}"),
	)

	m.ResolutionErrors, _ = meter.Int64Counter(
		"entitlements.resolutions.errors.total",
		metric.WithDescription("Total number of resolutions that failed"),
		metric.WithUnit("{error}"),
	)

	m.ResolutionDuration, _ = meter.Float64Histogram(
		"entitlements.resolutions.duration",
		metric.WithDescription("Duration of resolve operations"),
		metric.WithUnit("ms"),
	)

	m.PlanPreviewsTotal, _ = meter.Int64Counter(
		"entitlements.plan_previews.total",
		metric.WithDescription("Total number of plan change previews"),
		metric.WithUnit("{preview}"),
	)

	m.UnmetDependencyWarn, _ = meter.Int64Counter(
		"entitlements.unmet_dependencies.total",
		metric.WithDescription("Total number of unmet dependency warnings returned"),
		metric.WithUnit("{warning}"),
	)

	m.OverridesWrittenTotal, _ = meter.Int64Counter(
		"entitlements.overrides.written.total",
		metric.WithDescription("Total number of committed override writes"),
		metric.WithUnit("{override}"),
	)

	m.OverrideRejectedTotal, _ = meter.Int64Counter(
		"entitlements.overrides.rejected.total",
		metric.WithDescription("Total number of override requests rejected before any write"),
		metric.WithUnit("{override}"),
	)

	m.StoreWriteFailures, _ = meter.Int64Counter(
		"entitlements.overrides.store_failures.total",
		metric.WithDescription("Total number of override writes the store could not complete"),
		metric.WithUnit("{error}"),
	)

	m.AuditEntriesTotal, _ = meter.Int64Counter(
		"entitlements.audit.entries.total",
		metric.WithDescription("Total number of audit entries appended"),
		metric.WithUnit("{entry}"),
	)

	m.AuditWriteFailures, _ = meter.Int64Counter(
		"entitlements.audit.write_failures.total",
		metric.WithDescription("Total number of audit appends that failed after the override committed"),
		metric.WithUnit("{error}"),
	)

	return m
}
