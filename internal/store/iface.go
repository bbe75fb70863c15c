package store

import (
	"context"
	"errors"
)

// Sentinel errors surfaced to callers. The state machine maps these to
// in-band chat responses; they are never swallowed.
var (
	// ErrNotFound means the project, session state, or touch target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a duplicate project id on create, or a stale version on update.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the persistence interface for projects, session touches, session
// execution state, and conversation history.
// Implementations: *sqliteStore (SQLite) and *postgres.Store (PostgreSQL).
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	// UpdateProject applies the whitelisted partial fields iff the stored
	// version equals expectedVersion, bumping version by exactly 1 and
	// refreshing updated_at. Returns ErrConflict on a stale version.
	UpdateProject(ctx context.Context, id string, expectedVersion int64, fields ProjectUpdate) (Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error)
	SearchProjects(ctx context.Context, text string, limit int) ([]Project, error)

	// Session binding
	RecordSessionTouch(ctx context.Context, projectID, sessionID, action string) error
	ListSessionTouches(ctx context.Context, projectID string) ([]SessionTouch, error)

	// Session execution state (mode survives actor restart)
	SaveSessionState(ctx context.Context, st SessionState) error
	LoadSessionState(ctx context.Context, sessionID string) (SessionState, error)
	ClearSessionState(ctx context.Context, sessionID string) error

	// Conversation history
	AppendHistory(ctx context.Context, sessionID string, msgs []HistoryMessage) error
	ListHistory(ctx context.Context, sessionID string, limit int) ([]HistoryMessage, error)
	ClearHistory(ctx context.Context, sessionID string) error

	// Lifecycle
	Close() error
}
