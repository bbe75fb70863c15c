// Package store defines the persistence interface and shared models for
// projects, session touches, session execution state, and conversation history.
package store

import "time"

// Project is the durable, versioned record of a multi-step project.
// Version starts at 1 and increases by exactly 1 on every successful update.
type Project struct {
	ID                 string
	Creator            string
	Title              string
	Objective          string
	Domain             string
	Tags               []string
	Status             string
	Version            int64
	CurrentStep        int // 1-based; 0 only while unplanned
	TotalSteps         int
	PlanID             string
	LastCheckpointStep *int
	CheckpointPayload  string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProjectUpdate carries the whitelisted partial fields for UpdateProject.
// Nil pointers leave the stored value unchanged; no field is silently dropped.
type ProjectUpdate struct {
	Status             *string
	CurrentStep        *int
	TotalSteps         *int
	PlanID             *string
	LastCheckpointStep *int
	CheckpointPayload  *string
}

// ProjectFilter narrows ListProjects. Zero values mean "any".
type ProjectFilter struct {
	Status string
	Domain string
	Limit  int
}

// SessionTouch is one append-only record of a session acting on a project.
type SessionTouch struct {
	ProjectID string
	SessionID string
	Action    string
	At        time.Time
}

// SessionState is the durable slice of a session actor's execution state:
// the mode plus a mode-specific JSON payload (pending plan, active project
// id, or checkpoint context). The actor owns it exclusively.
type SessionState struct {
	SessionID string
	Mode      string
	Payload   string
	UpdatedAt time.Time
}

// HistoryMessage is one conversation message persisted for a session.
type HistoryMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
