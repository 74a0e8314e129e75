package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const usageMeterName = "github.com/dativo-io/aegis/internal/llm"

var (
	tokensHistogram        metric.Int64Histogram
	usageMetricsOnce       sync.Once
	usageMetricsRegistered bool
)

func initUsageMetrics() {
	meter := otel.Meter(usageMeterName)
	var err error
	tokensHistogram, err = meter.Int64Histogram(
		"aegis.llm.tokens",
		metric.WithDescription("Token usage per model call"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return
	}
	usageMetricsRegistered = true
}

// RecordUsageMetrics records token usage after a model call.
func RecordUsageMetrics(ctx context.Context, model string, inputTokens, outputTokens int) {
	usageMetricsOnce.Do(initUsageMetrics)
	if !usageMetricsRegistered {
		return
	}
	tokensHistogram.Record(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "input"),
	))
	tokensHistogram.Record(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "output"),
	))
}
