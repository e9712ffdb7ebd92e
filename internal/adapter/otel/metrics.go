package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tabforge"

// Metrics holds all TabForge metric instruments.
type Metrics struct {
	JobsSubmitted metric.Int64Counter
	JobsCompleted metric.Int64Counter
	JobsFailed    metric.Int64Counter
	JobsRetried   metric.Int64Counter
	RowsProduced  metric.Int64Counter
	EmptyReplies  metric.Int64Counter
	ModelLatency  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.JobsSubmitted, "tabforge.jobs.submitted", "Number of jobs submitted"},
		{&m.JobsCompleted, "tabforge.jobs.completed", "Number of jobs completed"},
		{&m.JobsFailed, "tabforge.jobs.failed", "Number of jobs failed"},
		{&m.JobsRetried, "tabforge.jobs.retried", "Number of job attempts released for retry"},
		{&m.RowsProduced, "tabforge.rows.produced", "Rows written to result tables"},
		{&m.EmptyReplies, "tabforge.model.empty_replies", "Model replies that yielded no records"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.ModelLatency, err = meter.Float64Histogram("tabforge.model.duration_seconds",
		metric.WithDescription("Model round trip duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// kindAttr is the attribute set recorded on job counters.
func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job.kind", kind))
}

// JobSubmitted records a submission. A nil receiver is a no-op.
func (m *Metrics) JobSubmitted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.Add(ctx, 1, kindAttr(kind))
}

// JobFinished records a terminal or retried attempt outcome.
func (m *Metrics) JobFinished(ctx context.Context, kind, status string, rows int) {
	if m == nil {
		return
	}
	switch status {
	case "completed":
		m.JobsCompleted.Add(ctx, 1, kindAttr(kind))
		m.RowsProduced.Add(ctx, int64(rows), kindAttr(kind))
	case "failed":
		m.JobsFailed.Add(ctx, 1, kindAttr(kind))
	case "pending":
		m.JobsRetried.Add(ctx, 1, kindAttr(kind))
	}
}

// ModelCall records a model round trip.
func (m *Metrics) ModelCall(ctx context.Context, seconds float64, records int) {
	if m == nil {
		return
	}
	m.ModelLatency.Record(ctx, seconds)
	if records == 0 {
		m.EmptyReplies.Add(ctx, 1)
	}
}
