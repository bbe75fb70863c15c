package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	chatTurnsCounter    metric.Int64Counter
	stepsCounter        metric.Int64Counter
	stepDuration        metric.Float64Histogram
	checkpointsCounter  metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		chatTurnsCounter, err = m.Int64Counter("orionflow_chat_turns_total", metric.WithDescription("Total chat turns processed"))
		if err != nil {
			return
		}
		stepsCounter, err = m.Int64Counter("orionflow_step_executions_total", metric.WithDescription("Total step executions by worker and outcome"))
		if err != nil {
			return
		}
		stepDuration, err = m.Float64Histogram("orionflow_step_duration_seconds", metric.WithDescription("Step execution duration in seconds"))
		if err != nil {
			return
		}
		checkpointsCounter, err = m.Int64Counter("orionflow_checkpoint_decisions_total", metric.WithDescription("Checkpoint decisions by kind"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("orionflow_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("orionflow_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordChatTurn records one processed chat turn.
func RecordChatTurn(ctx context.Context) {
	if chatTurnsCounter != nil {
		chatTurnsCounter.Add(ctx, 1)
	}
}

// RecordStepExecution records a step execution with its worker, outcome, and duration.
func RecordStepExecution(ctx context.Context, worker string, duration time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	if stepsCounter != nil {
		stepsCounter.Add(ctx, 1, metric.WithAttributes(AttrWorker.String(worker), AttrOutcome.String(outcome)))
	}
	if stepDuration != nil {
		stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrWorker.String(worker)))
	}
}

// RecordCheckpointDecision records one reviewed checkpoint decision.
func RecordCheckpointDecision(ctx context.Context, decision string) {
	if checkpointsCounter != nil {
		checkpointsCounter.Add(ctx, 1, metric.WithAttributes(AttrDecision.String(decision)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// ProjectCountFunc returns per-status project counts for the projects gauge.
type ProjectCountFunc func() (planning, active, paused, completed, failed int64)

// InitMetricsWithProjectCount creates instruments and optionally registers a
// callback for the project gauge. If projectCount is nil, the gauge is not reported.
func InitMetricsWithProjectCount(ctx context.Context, projectCount ProjectCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if projectCount == nil {
		return nil
	}
	m := Meter()
	projectsGauge, err := m.Float64ObservableGauge("orionflow_projects_total", metric.WithDescription("Number of projects by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		planning, active, paused, completed, failed := projectCount()
		o.ObserveFloat64(projectsGauge, float64(planning), metric.WithAttributes(AttrStatus.String("planning")))
		o.ObserveFloat64(projectsGauge, float64(active), metric.WithAttributes(AttrStatus.String("active")))
		o.ObserveFloat64(projectsGauge, float64(paused), metric.WithAttributes(AttrStatus.String("paused")))
		o.ObserveFloat64(projectsGauge, float64(completed), metric.WithAttributes(AttrStatus.String("completed")))
		o.ObserveFloat64(projectsGauge, float64(failed), metric.WithAttributes(AttrStatus.String("failed")))
		return nil
	}, projectsGauge)
	return err
}
