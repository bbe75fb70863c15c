// Package models provides shared types for the OrionFlow HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Project is a durable, session-independent unit of work with a plan and progress state.
type Project struct {
	ID                 string    `json:"id"`
	Creator            string    `json:"creator,omitempty"`
	Title              string    `json:"title"`
	Objective          string    `json:"objective,omitempty"`
	Domain             string    `json:"domain,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	Status             string    `json:"status"`
	Version            int64     `json:"version"`
	CurrentStep        int       `json:"current_step"`
	TotalSteps         int       `json:"total_steps"`
	PlanID             string    `json:"plan_id,omitempty"`
	LastCheckpointStep *int      `json:"last_checkpoint_step,omitempty"`
	CheckpointPayload  string    `json:"checkpoint_payload,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// SessionTouch records that a session acted on a project.
type SessionTouch struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

// PlanStep is one step of a generated plan, already adapted to an available worker.
type PlanStep struct {
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	Objective       string   `json:"objective,omitempty"`
	Worker          string   `json:"worker,omitempty"`
	Requirements    []string `json:"requirements,omitempty"`
	DependsOn       []int    `json:"depends_on,omitempty"`
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
	Checkpoint      bool     `json:"checkpoint,omitempty"`
}

// Plan is an immutable plan produced by the planning collaborator.
// Revisions create a new Plan value with a fresh ID.
type Plan struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Steps         []PlanStep `json:"steps"`
	EstimatedTime string     `json:"estimated_time,omitempty"`
	Rationale     string     `json:"rationale,omitempty"`
}

// Step is one ledger entry derived from a plan step.
type Step struct {
	Number          int        `json:"number"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	Checkpoint      bool       `json:"checkpoint,omitempty"`
	ExpectedOutputs []string   `json:"expected_outputs,omitempty"`
	Worker          string     `json:"worker,omitempty"`
	WorkerConfig    string     `json:"worker_config,omitempty"`
	DependsOn       []int      `json:"depends_on,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// ChatRequest is the body of POST /sessions/{id}/chat.
type ChatRequest struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
}

// ChatResponse is the reply to a chat turn.
type ChatResponse struct {
	Response  string            `json:"response"`
	Artifacts []string          `json:"artifacts,omitempty"`
	Phase     string            `json:"phase"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HistoryMessage is one persisted conversation message.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SessionStatus is the /sessions/{id}/status response.
type SessionStatus struct {
	Phase         string   `json:"phase"`
	ActiveProject *Project `json:"active_project,omitempty"`
	Metrics       Metrics  `json:"metrics"`
	WorkerCount   int      `json:"worker_count"`
}

// Metrics are simple per-session counters surfaced by status queries.
type Metrics struct {
	ChatTurns      int64 `json:"chat_turns"`
	StepsExecuted  int64 `json:"steps_executed"`
	StepsFailed    int64 `json:"steps_failed"`
	CheckpointsHit int64 `json:"checkpoints_hit"`
}

// Event is one server-to-listener notification on the SSE stream.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Step      int            `json:"step,omitempty"`
	Title     string         `json:"title,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types emitted on the stream.
const (
	EventStatus         = "status"
	EventThought        = "thought"
	EventStepStarted    = "step_started"
	EventStepComplete   = "step_complete"
	EventProjectCreated = "project_created"
	EventComplete       = "complete"
	EventError          = "error"
	EventPong           = "pong"
)
