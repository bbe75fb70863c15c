package models

// Project statuses used throughout the codebase.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectFailed    = "failed"
)

// Step statuses within a todo ledger.
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepSkipped    = "skipped"
)

// Session modes for the execution state machine.
const (
	ModeConversational       = "conversational"
	ModeAwaitingPlanApproval = "awaiting_plan_approval"
	ModeExecuting            = "executing"
	ModeCheckpointReview     = "checkpoint_review"
)

// Session touch actions recorded against a project.
const (
	TouchCreated   = "created"
	TouchResumed   = "resumed"
	TouchContinued = "continued"
	TouchCompleted = "completed"
	TouchFailed    = "failed"
)

// Checkpoint review decisions. Replan is only offered after a step failure.
const (
	DecisionContinue = "continue"
	DecisionRetry    = "retry"
	DecisionReplan   = "replan"
	DecisionSkip     = "skip"
	DecisionStop     = "stop"
	DecisionUnknown  = "unknown"
)

// Intent classes for incoming conversational messages.
const (
	IntentSimple              = "simple"
	IntentComplex             = "complex"
	IntentProjectContinuation = "project_continuation"
	IntentProjectQuery        = "project_query"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultProjectListLimit    = 200
	DefaultHistoryListLimit    = 500
	DefaultSSEChannelBuffer    = 256
)
