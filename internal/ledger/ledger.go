// Package ledger maintains the per-project todo document: an ordered list of
// steps derived from a plan, persisted as a human-readable markdown file and
// mutated as execution proceeds. The project's derived current step is
// mirrored into the project store on every status change.
package ledger

import (
	"errors"
	"time"

	"github.com/ubix08/orionflow/pkg/models"
)

// ErrStepNotFound means the requested step number does not exist in the ledger.
var ErrStepNotFound = errors.New("step not found")

// Ledger is the durable record of step statuses for one project.
type Ledger struct {
	ProjectID string
	Objective string
	PlanID    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Steps     []models.Step
}

// FromPlan builds a fresh ledger from a plan: one pending step per plan step,
// preserving order, checkpoint flags, dependencies and expected outputs.
// Pure construction; nothing is persisted.
func FromPlan(projectID, objective string, plan models.Plan) *Ledger {
	now := time.Now().UTC().Truncate(time.Second)
	l := &Ledger{
		ProjectID: projectID,
		Objective: objective,
		PlanID:    plan.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, ps := range plan.Steps {
		l.Steps = append(l.Steps, models.Step{
			Number:          i + 1,
			Title:           ps.Title,
			Description:     ps.Objective,
			Status:          models.StepPending,
			Checkpoint:      ps.Checkpoint,
			ExpectedOutputs: append([]string(nil), ps.ExpectedOutputs...),
			Worker:          ps.Worker,
			DependsOn:       append([]int(nil), ps.DependsOn...),
		})
	}
	return l
}

// Replan grafts a revised plan onto an existing ledger: finished steps
// (completed or skipped) keep their order and history, the unfinished tail is
// replaced by the plan's steps, and everything is renumbered to stay
// contiguous. Plan-internal dependency references are shifted past the kept
// prefix. Pure construction; nothing is persisted.
func Replan(old *Ledger, plan models.Plan) *Ledger {
	now := time.Now().UTC().Truncate(time.Second)
	l := &Ledger{
		ProjectID: old.ProjectID,
		Objective: old.Objective,
		PlanID:    plan.ID,
		CreatedAt: old.CreatedAt,
		UpdatedAt: now,
	}
	for _, s := range old.Steps {
		if s.Status != models.StepCompleted && s.Status != models.StepSkipped {
			continue
		}
		s.Number = len(l.Steps) + 1
		l.Steps = append(l.Steps, s)
	}
	offset := len(l.Steps)
	for _, ps := range plan.Steps {
		deps := append([]int(nil), ps.DependsOn...)
		for i := range deps {
			deps[i] += offset
		}
		l.Steps = append(l.Steps, models.Step{
			Number:          len(l.Steps) + 1,
			Title:           ps.Title,
			Description:     ps.Objective,
			Status:          models.StepPending,
			Checkpoint:      ps.Checkpoint,
			ExpectedOutputs: append([]string(nil), ps.ExpectedOutputs...),
			Worker:          ps.Worker,
			DependsOn:       deps,
		})
	}
	return l
}

// Step returns the step with the given 1-based number, or nil.
func (l *Ledger) Step(number int) *models.Step {
	for i := range l.Steps {
		if l.Steps[i].Number == number {
			return &l.Steps[i]
		}
	}
	return nil
}

// CurrentStep returns the number of the first pending or in_progress step,
// or 0 when no step remains to run.
func (l *Ledger) CurrentStep() int {
	for _, s := range l.Steps {
		if s.Status == models.StepPending || s.Status == models.StepInProgress {
			return s.Number
		}
	}
	return 0
}

// FirstPending returns the number of the first pending step, or 0.
func (l *Ledger) FirstPending() int {
	for _, s := range l.Steps {
		if s.Status == models.StepPending {
			return s.Number
		}
	}
	return 0
}

// CompletedCount counts steps in completed or skipped status.
func (l *Ledger) CompletedCount() int {
	n := 0
	for _, s := range l.Steps {
		if s.Status == models.StepCompleted || s.Status == models.StepSkipped {
			n++
		}
	}
	return n
}

// Complete reports whether every step is completed or skipped.
// A ledger with zero steps is immediately complete.
func (l *Ledger) Complete() bool {
	return l.CompletedCount() == len(l.Steps)
}
