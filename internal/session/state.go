package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// State is the durable per-session conversation state. Exactly one mode is
// active at a time; the payload fields that apply depend on the mode:
//
//	conversational          — no extra fields
//	awaiting_plan_approval  — PendingPlan
//	executing               — ProjectID
//	checkpoint_review       — ProjectID, StepNumber, StepResult, Failed
type State struct {
	Mode             string       `json:"mode"`
	PendingPlan      *models.Plan `json:"pending_plan,omitempty"`
	PendingObjective string       `json:"pending_objective,omitempty"`
	// ReplanProjectID marks an awaiting_plan_approval that revises an
	// existing project after a step failure; approval replaces the project's
	// remaining steps instead of creating a new project.
	ReplanProjectID string `json:"replan_project_id,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	StepNumber       int          `json:"step_number,omitempty"`
	StepResult       string       `json:"step_result,omitempty"`
	// Failed marks a checkpoint_review that was entered through a step
	// failure rather than a designated checkpoint. The decision vocabulary
	// is the same; "continue" is treated as retry.
	Failed bool `json:"failed,omitempty"`
	// Metrics accumulate across the session's whole lifetime, regardless of
	// mode changes.
	Metrics models.Metrics `json:"metrics"`
}

func conversational() State {
	return State{Mode: models.ModeConversational}
}

func encodeState(sessionID string, s State, now time.Time) (store.SessionState, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return store.SessionState{}, fmt.Errorf("encode session state: %w", err)
	}
	return store.SessionState{SessionID: sessionID, Mode: s.Mode, Payload: string(payload), UpdatedAt: now}, nil
}

func decodeState(rec store.SessionState) (State, error) {
	var s State
	if err := json.Unmarshal([]byte(rec.Payload), &s); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	if s.Mode == "" {
		s.Mode = rec.Mode
	}
	if s.Mode == "" {
		s.Mode = models.ModeConversational
	}
	return s, nil
}
