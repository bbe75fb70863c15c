// Package checkpoint captures step output at designated checkpoint steps and
// classifies the reviewer's free-text decision. The state machine owns what
// happens after a decision; this package only persists and classifies.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// Manager persists checkpoint payloads into the project store.
type Manager struct {
	Store store.Store
}

// Capture records the step result as the project's last checkpoint.
// Re-capturing the same step overwrites the payload; nothing is appended.
func (m *Manager) Capture(ctx context.Context, projectID string, stepNumber int, result string) error {
	for attempt := 0; attempt < 2; attempt++ {
		p, err := m.Store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		_, err = m.Store.UpdateProject(ctx, projectID, p.Version, store.ProjectUpdate{
			LastCheckpointStep: &stepNumber,
			CheckpointPayload:  &result,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("capture checkpoint for %s step %d: %w", projectID, stepNumber, store.ErrConflict)
}

var (
	retryPhrases  = []string{"retry", "redo", "try again", "do it again", "run it again"}
	replanPhrases = []string{"replan", "re-plan", "new plan", "change the plan", "revise the plan"}
	skipPhrases   = []string{"skip"}
	stopPhrases   = []string{"stop", "pause", "cancel", "halt", "abort"}
	yesPhrases   = []string{
		"yes", "approve", "approved", "proceed", "continue", "ok", "okay",
		"looks good", "lgtm", "go ahead", "sounds good", "sure", "yep", "do it",
	}
)

// DecideIntent maps free-text reviewer input onto a checkpoint decision using
// a fixed phrase vocabulary. Anything unrecognized is DecisionUnknown and the
// caller re-prompts instead of guessing. Bare substring matching means a
// negated phrase such as "no, don't continue" still classifies as continue.
func DecideIntent(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return models.DecisionUnknown
	}
	for _, p := range retryPhrases {
		if strings.Contains(t, p) {
			return models.DecisionRetry
		}
	}
	for _, p := range skipPhrases {
		if strings.Contains(t, p) {
			return models.DecisionSkip
		}
	}
	for _, p := range stopPhrases {
		if strings.Contains(t, p) {
			return models.DecisionStop
		}
	}
	for _, p := range yesPhrases {
		if strings.Contains(t, p) {
			return models.DecisionContinue
		}
	}
	return models.DecisionUnknown
}

// DecideRecovery classifies the reply to a step-failure prompt. It extends
// the checkpoint vocabulary with replan, which takes precedence over the
// other phrases; everything else defers to DecideIntent.
func DecideRecovery(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, p := range replanPhrases {
		if strings.Contains(t, p) {
			return models.DecisionReplan
		}
	}
	return DecideIntent(text)
}

// IsAffirmative reports whether the text reads as approval; used for plan
// approval where only yes/no matters.
func IsAffirmative(text string) bool {
	return DecideIntent(text) == models.DecisionContinue
}
