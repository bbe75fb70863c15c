package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

const projectColumns = `id, creator, title, objective, domain, tags, status, version, current_step, total_steps, plan_id, last_checkpoint_step, checkpoint_payload, created_at, updated_at`

func (s *Store) CreateProject(ctx context.Context, p store.Project) error {
	if p.ID == "" {
		return errors.New("project id required")
	}
	if p.Title == "" {
		return errors.New("project title required")
	}
	if p.Status == "" {
		p.Status = models.ProjectPlanning
	}
	now := time.Now().UTC().UnixMilli()
	_, err := s.Pool.Exec(ctx, `INSERT INTO projects(`+projectColumns+`)
VALUES($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Creator, p.Title, p.Objective, p.Domain, strings.Join(p.Tags, ","), p.Status,
		p.CurrentStep, p.TotalSteps, p.PlanID, p.LastCheckpointStep, p.CheckpointPayload, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("project %s already exists: %w", p.ID, store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (store.Project, error) {
	p, err := scanProject(s.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Project{}, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
		}
		return store.Project{}, err
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, expectedVersion int64, fields store.ProjectUpdate) (store.Project, error) {
	cur, err := s.GetProject(ctx, id)
	if err != nil {
		return store.Project{}, err
	}
	if cur.Version != expectedVersion {
		return store.Project{}, fmt.Errorf("project %s version %d (expected %d): %w", id, cur.Version, expectedVersion, store.ErrConflict)
	}
	next := cur
	if fields.Status != nil {
		next.Status = *fields.Status
	}
	if fields.CurrentStep != nil {
		next.CurrentStep = *fields.CurrentStep
	}
	if fields.TotalSteps != nil {
		next.TotalSteps = *fields.TotalSteps
	}
	if fields.PlanID != nil {
		next.PlanID = *fields.PlanID
	}
	if fields.LastCheckpointStep != nil {
		step := *fields.LastCheckpointStep
		next.LastCheckpointStep = &step
	}
	if fields.CheckpointPayload != nil {
		next.CheckpointPayload = *fields.CheckpointPayload
	}
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE projects SET status=$1, current_step=$2, total_steps=$3, plan_id=$4, last_checkpoint_step=$5, checkpoint_payload=$6, version=version+1, updated_at=$7 WHERE id=$8 AND version=$9`,
		next.Status, next.CurrentStep, next.TotalSteps, next.PlanID, next.LastCheckpointStep, next.CheckpointPayload, now.UnixMilli(), id, expectedVersion)
	if err != nil {
		return store.Project{}, err
	}
	if tag.RowsAffected() == 0 {
		return store.Project{}, fmt.Errorf("project %s: %w", id, store.ErrConflict)
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return next, nil
}

func (s *Store) ListProjects(ctx context.Context, f store.ProjectFilter) ([]store.Project, error) {
	q := `SELECT ` + projectColumns + ` FROM projects`
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Domain != "" {
		args = append(args, f.Domain)
		conds = append(conds, fmt.Sprintf("domain = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > models.DefaultProjectListLimit {
		limit = models.DefaultProjectListLimit
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SearchProjects(ctx context.Context, text string, limit int) ([]store.Project, error) {
	if limit <= 0 || limit > models.DefaultProjectListLimit {
		limit = models.DefaultProjectListLimit
	}
	pattern := "%" + text + "%"
	rows, err := s.Pool.Query(ctx, `SELECT `+projectColumns+` FROM projects
WHERE title ILIKE $1 OR objective ILIKE $1 ORDER BY updated_at DESC LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) RecordSessionTouch(ctx context.Context, projectID, sessionID, action string) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.New("session id required")
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO session_touches(project_id, session_id, action, at) VALUES($1, $2, $3, $4)`,
		projectID, sessionID, action, time.Now().UTC().UnixMilli())
	return err
}

func (s *Store) ListSessionTouches(ctx context.Context, projectID string) ([]store.SessionTouch, error) {
	rows, err := s.Pool.Query(ctx, `SELECT project_id, session_id, action, at FROM session_touches WHERE project_id = $1 ORDER BY at ASC, touch_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.SessionTouch
	for rows.Next() {
		var (
			t  store.SessionTouch
			at int64
		)
		if err := rows.Scan(&t.ProjectID, &t.SessionID, &t.Action, &at); err != nil {
			return nil, err
		}
		t.At = time.UnixMilli(at).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SaveSessionState(ctx context.Context, st store.SessionState) error {
	if st.SessionID == "" {
		return errors.New("session id required")
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO session_states(session_id, mode, payload, updated_at) VALUES($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE SET mode=EXCLUDED.mode, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
		st.SessionID, st.Mode, st.Payload, time.Now().UTC().UnixMilli())
	return err
}

func (s *Store) LoadSessionState(ctx context.Context, sessionID string) (store.SessionState, error) {
	var (
		st store.SessionState
		at int64
	)
	err := s.Pool.QueryRow(ctx, `SELECT session_id, mode, payload, updated_at FROM session_states WHERE session_id = $1`, sessionID).
		Scan(&st.SessionID, &st.Mode, &st.Payload, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SessionState{}, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}
		return store.SessionState{}, err
	}
	st.UpdatedAt = time.UnixMilli(at).UTC()
	return st, nil
}

func (s *Store) ClearSessionState(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM session_states WHERE session_id = $1`, sessionID)
	return err
}

func (s *Store) AppendHistory(ctx context.Context, sessionID string, msgs []store.HistoryMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		at := m.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		batch.Queue(`INSERT INTO session_history(session_id, role, content, created_at) VALUES($1, $2, $3, $4)`,
			sessionID, m.Role, m.Content, at.UnixMilli())
	}
	return s.Pool.SendBatch(ctx, batch).Close()
}

func (s *Store) ListHistory(ctx context.Context, sessionID string, limit int) ([]store.HistoryMessage, error) {
	if limit <= 0 || limit > models.DefaultHistoryListLimit {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.Pool.Query(ctx, `SELECT role, content, created_at FROM session_history WHERE session_id = $1 ORDER BY message_id ASC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.HistoryMessage
	for rows.Next() {
		var (
			m  store.HistoryMessage
			at int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &at); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(at).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM session_history WHERE session_id = $1`, sessionID)
	return err
}

func scanProject(row pgx.Row) (store.Project, error) {
	var (
		p          store.Project
		tags       string
		checkpoint *int
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&p.ID, &p.Creator, &p.Title, &p.Objective, &p.Domain, &tags, &p.Status,
		&p.Version, &p.CurrentStep, &p.TotalSteps, &p.PlanID, &checkpoint, &p.CheckpointPayload,
		&createdAt, &updatedAt)
	if err != nil {
		return store.Project{}, err
	}
	if tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Tags = append(p.Tags, t)
			}
		}
	}
	p.LastCheckpointStep = checkpoint
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, nil
}
