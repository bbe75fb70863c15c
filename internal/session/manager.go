// Package session drives the conversational project loop: intent
// classification, plan approval, step execution, and checkpoint review. All
// durable state lives in the store and the todo ledger; a session can be
// resumed by any process that shares them.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ubix08/orionflow/internal/checkpoint"
	"github.com/ubix08/orionflow/internal/completion"
	"github.com/ubix08/orionflow/internal/executor"
	"github.com/ubix08/orionflow/internal/ledger"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// Publisher receives events for fan-out to connected clients. Publish must
// not block; slow consumers are the publisher's problem.
type Publisher interface {
	Publish(ev models.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.Event) {}

// Metrics is the subset of instrumentation the session loop reports into.
type Metrics interface {
	ChatTurn(ctx context.Context)
	StepExecuted(ctx context.Context, worker string, d time.Duration, err error)
	CheckpointDecision(ctx context.Context, decision string)
}

type nopMetrics struct{}

func (nopMetrics) ChatTurn(context.Context)                                   {}
func (nopMetrics) StepExecuted(context.Context, string, time.Duration, error) {}
func (nopMetrics) CheckpointDecision(context.Context, string)                 {}

// Deps are the collaborators a Manager needs. Store and Ledger are required;
// the rest default to no-ops or stubs.
type Deps struct {
	Store      store.Store
	Ledger     *ledger.Service
	Checkpoint *checkpoint.Manager
	Completion completion.Client
	Executor   executor.Executor
	Events     Publisher
	Metrics    Metrics
	// Journal, when set, mirrors conversation rows into per-session markdown
	// files; the daemon drives its flush timer.
	Journal *JournalWriter
	Now     func() time.Time
}

// Manager serializes chat turns per session and owns the mode transitions.
// Concurrent requests for the same session queue behind each other; different
// sessions never contend.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(deps Deps) *Manager {
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Completion == nil {
		deps.Completion = &completion.StubClient{}
	}
	if deps.Executor == nil {
		deps.Executor = &executor.StubExecutor{}
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint = &checkpoint.Manager{Store: deps.Store}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{deps: deps, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

func (m *Manager) loadState(ctx context.Context, sessionID string) (State, error) {
	rec, err := m.deps.Store.LoadSessionState(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return conversational(), nil
	}
	if err != nil {
		return State{}, err
	}
	s, err := decodeState(rec)
	if err != nil {
		// A payload we cannot read is worse than a fresh session.
		slog.Warn("session state unreadable, resetting", "session", sessionID, "err", err)
		return conversational(), nil
	}
	return s, nil
}

func (m *Manager) saveState(ctx context.Context, sessionID string, s State) error {
	rec, err := encodeState(sessionID, s, m.deps.Now().UTC())
	if err != nil {
		return err
	}
	return m.deps.Store.SaveSessionState(ctx, rec)
}

// journal buffers the turn's history rows and flushes them in one append at
// the end of the turn. A failed flush is logged, not surfaced: history is a
// convenience, the turn already happened.
type journal struct {
	sessionID string
	now       func() time.Time
	rows      []store.HistoryMessage
}

func (j *journal) add(role, content string) {
	j.rows = append(j.rows, store.HistoryMessage{
		Role:      role,
		Content:   content,
		CreatedAt: j.now().UTC(),
	})
}

func (m *Manager) flush(ctx context.Context, j *journal) {
	if len(j.rows) == 0 {
		return
	}
	if err := m.deps.Store.AppendHistory(ctx, j.sessionID, j.rows); err != nil {
		slog.Warn("history flush failed", "session", j.sessionID, "err", err)
	}
	m.deps.Journal.Add(j.sessionID, j.rows)
}

// Status reports the session's current phase, its bound project, and the
// per-session counters.
func (m *Manager) Status(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	s, err := m.loadState(ctx, sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	st := models.SessionStatus{Phase: s.Mode, Metrics: s.Metrics, WorkerCount: 1}
	if s.ProjectID != "" {
		p, err := m.deps.Store.GetProject(ctx, s.ProjectID)
		if err == nil {
			mp := ProjectJSON(p)
			st.ActiveProject = &mp
		}
	}
	return st, nil
}

// ProjectJSON converts a stored project to its API shape.
func ProjectJSON(p store.Project) models.Project {
	return models.Project{
		ID:                 p.ID,
		Creator:            p.Creator,
		Title:              p.Title,
		Objective:          p.Objective,
		Domain:             p.Domain,
		Tags:               p.Tags,
		Status:             p.Status,
		Version:            p.Version,
		CurrentStep:        p.CurrentStep,
		TotalSteps:         p.TotalSteps,
		PlanID:             p.PlanID,
		LastCheckpointStep: p.LastCheckpointStep,
		CheckpointPayload:  p.CheckpointPayload,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// History returns the session's recorded conversation rows, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]store.HistoryMessage, error) {
	return m.deps.Store.ListHistory(ctx, sessionID, limit)
}

// ClearHistory drops the session's conversation rows and resets its state.
func (m *Manager) ClearHistory(ctx context.Context, sessionID string) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()
	if err := m.deps.Store.ClearHistory(ctx, sessionID); err != nil {
		return err
	}
	return m.deps.Store.ClearSessionState(ctx, sessionID)
}

func (m *Manager) publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.deps.Now().UTC()
	}
	m.deps.Events.Publish(ev)
}
