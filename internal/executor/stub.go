package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ubix08/orionflow/pkg/models"
)

// StubExecutor is a deterministic local executor that emits plausible events
// without spawning any external worker.
type StubExecutor struct {
	// Delay between emitted events; 0 means no artificial pacing.
	Delay time.Duration
	// FailStep makes the given step number fail, for recovery testing (0 = never).
	FailStep int
}

func (e StubExecutor) Name() string { return "stub" }

func (e StubExecutor) Run(ctx context.Context, req StepRequest, emit func(models.Event)) (StepResult, error) {
	emit(models.Event{
		Type:      models.EventThought,
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		Step:      req.Step.Number,
		Text:      "working on " + req.Step.Title,
		Timestamp: time.Now().UTC(),
	})
	if e.FailStep != 0 && req.Step.Number == e.FailStep {
		return StepResult{}, fmt.Errorf("stub executor failed step %d", req.Step.Number)
	}
	sleep(ctx, e.Delay)
	return StepResult{
		Output:    fmt.Sprintf("completed %q", req.Step.Title),
		Artifacts: append([]string(nil), req.Step.ExpectedOutputs...),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
