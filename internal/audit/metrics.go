package audit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dativo-io/aegis/internal/audit"

var (
	writeFailureCounter    metric.Int64Counter
	writeMetricsOnce       sync.Once
	writeMetricsRegistered bool
)

func initWriteMetrics() {
	meter := otel.Meter(meterName)
	var err error
	writeFailureCounter, err = meter.Int64Counter(
		"aegis.audit.write_failures",
		metric.WithDescription("Audit events that could not be durably recorded"),
	)
	if err != nil {
		return
	}
	writeMetricsRegistered = true
}

// recordWriteFailure surfaces a failed audit append to operational
// telemetry. Audit write failures must never abort the tool call they were
// recording, so this counter is the only place the loss is visible.
func recordWriteFailure(ctx context.Context, action string) {
	writeMetricsOnce.Do(initWriteMetrics)
	if !writeMetricsRegistered {
		return
	}
	writeFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
