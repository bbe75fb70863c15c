// Package executor delegates the actual work of a project step to an external
// worker. The state machine issues one Run call per step and waits for its
// result; a stop or pause command only takes effect at the next step boundary.
package executor

import (
	"context"

	"github.com/ubix08/orionflow/pkg/models"
)

// StepRequest describes one delegated step execution.
type StepRequest struct {
	ProjectID string      `json:"project_id"`
	SessionID string      `json:"session_id"`
	Objective string      `json:"objective"`
	Step      models.Step `json:"step"`
}

// StepResult is what the worker produced for the step.
type StepResult struct {
	Output    string   `json:"output"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Executor runs one step to completion, streaming progress events through emit.
type Executor interface {
	Name() string
	Run(ctx context.Context, req StepRequest, emit func(models.Event)) (StepResult, error)
}
