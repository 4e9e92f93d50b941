package workflows

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/sandboxd/internal/workflows"

var (
	metricsOnce          sync.Once
	stageCounter         metric.Int64Counter
	scriptFailureCounter metric.Int64Counter
)

// initMetrics lazily creates the workflow instruments. Metrics are
// best-effort: instrument creation failures leave the counters nil and
// recording becomes a no-op.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	stageCounter, _ = meter.Int64Counter(
		"sandboxd.taskrun.stages",
		metric.WithDescription("Completed task-run stage activities"),
		metric.WithUnit("{stage}"),
	)
	scriptFailureCounter, _ = meter.Int64Counter(
		"sandboxd.taskrun.script_failures",
		metric.WithDescription("Scripts that exited non-zero"),
		metric.WithUnit("{script}"),
	)
}

func recordStage(ctx context.Context, stage string) {
	metricsOnce.Do(initMetrics)
	if stageCounter == nil {
		return
	}
	stageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func recordScriptFailure(ctx context.Context, script string) {
	metricsOnce.Do(initMetrics)
	if scriptFailureCounter == nil {
		return
	}
	scriptFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("script", script)))
}
