package otel

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInitMeterProviderAndMetrics(t *testing.T) {
	ctx := context.Background()

	handler, err := InitMeterProvider(ctx, "orionflow-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetricsWithProjectCount(ctx, func() (int64, int64, int64, int64, int64) {
		return 1, 2, 0, 3, 0
	}); err != nil {
		t.Fatalf("InitMetricsWithProjectCount: %v", err)
	}

	RecordChatTurn(ctx)
	RecordStepExecution(ctx, "general", 120*time.Millisecond, false)
	RecordStepExecution(ctx, "general", 80*time.Millisecond, true)
	RecordCheckpointDecision(ctx, "continue")
	RecordSSEEvent(ctx)
	AddSSEConnection()
	defer RemoveSSEConnection()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	text := string(body)

	for _, want := range []string{
		"orionflow_chat_turns_total",
		"orionflow_step_executions_total",
		"orionflow_step_duration_seconds",
		"orionflow_checkpoint_decisions_total",
		"orionflow_sse_events_total",
		"orionflow_sse_connections",
		"orionflow_projects_total",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if !strings.Contains(text, `outcome="failed"`) {
		t.Error("metrics output missing step outcome attribute")
	}
}

func TestRecordersBeforeInitAreNoOps(t *testing.T) {
	// Instruments may be nil when the daemon runs without the meter provider;
	// the recorders must not panic.
	ctx := context.Background()
	RecordChatTurn(ctx)
	RecordStepExecution(ctx, "w", time.Second, false)
	RecordCheckpointDecision(ctx, "skip")
	RecordSSEEvent(ctx)
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
}
