package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ubix08/orionflow/pkg/models"
)

func (s *sqliteStore) CreateProject(ctx context.Context, p Project) error {
	if p.ID == "" {
		return errors.New("project id required")
	}
	if p.Title == "" {
		return errors.New("project title required")
	}
	if p.Status == "" {
		p.Status = models.ProjectPlanning
	}
	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Creator, p.Title, p.Objective, p.Domain, joinTags(p.Tags), p.Status,
		p.CurrentStep, p.TotalSteps, p.PlanID, p.LastCheckpointStep, p.CheckpointPayload,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("project %s already exists: %w", p.ID, ErrConflict)
		}
		return err
	}
	return nil
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (Project, error) {
	p, err := scanProjectRow(s.stmtGetProject.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return Project{}, err
	}
	return p, nil
}

func (s *sqliteStore) UpdateProject(ctx context.Context, id string, expectedVersion int64, fields ProjectUpdate) (Project, error) {
	cur, err := s.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if cur.Version != expectedVersion {
		return Project{}, fmt.Errorf("project %s version %d (expected %d): %w", id, cur.Version, expectedVersion, ErrConflict)
	}
	next := applyUpdate(cur, fields)
	now := time.Now().UTC()
	res, err := s.stmtUpdateProject.ExecContext(ctx,
		next.Status, next.CurrentStep, next.TotalSteps, next.PlanID, next.LastCheckpointStep, next.CheckpointPayload,
		now.UnixMilli(), id, expectedVersion)
	if err != nil {
		return Project{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Project{}, err
	}
	if n == 0 {
		// Row existed a moment ago, so a concurrent writer moved the version.
		return Project{}, fmt.Errorf("project %s: %w", id, ErrConflict)
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return next, nil
}

// applyUpdate merges the whitelisted partial fields over the current record.
func applyUpdate(cur Project, f ProjectUpdate) Project {
	if f.Status != nil {
		cur.Status = *f.Status
	}
	if f.CurrentStep != nil {
		cur.CurrentStep = *f.CurrentStep
	}
	if f.TotalSteps != nil {
		cur.TotalSteps = *f.TotalSteps
	}
	if f.PlanID != nil {
		cur.PlanID = *f.PlanID
	}
	if f.LastCheckpointStep != nil {
		step := *f.LastCheckpointStep
		cur.LastCheckpointStep = &step
	}
	if f.CheckpointPayload != nil {
		cur.CheckpointPayload = *f.CheckpointPayload
	}
	return cur
}

func (s *sqliteStore) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	q := `SELECT ` + projectColumns + ` FROM projects`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY updated_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > models.DefaultProjectListLimit {
		limit = models.DefaultProjectListLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SearchProjects(ctx context.Context, text string, limit int) ([]Project, error) {
	if limit <= 0 || limit > models.DefaultProjectListLimit {
		limit = models.DefaultProjectListLimit
	}
	pattern := "%" + escapeLike(text) + "%"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects
WHERE title LIKE ? ESCAPE '\' OR objective LIKE ? ESCAPE '\'
ORDER BY updated_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordSessionTouch(ctx context.Context, projectID, sessionID, action string) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.New("session id required")
	}
	_, err := s.stmtRecordTouch.ExecContext(ctx, projectID, sessionID, action, time.Now().UTC().UnixMilli())
	return err
}

func (s *sqliteStore) ListSessionTouches(ctx context.Context, projectID string) ([]SessionTouch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT project_id, session_id, action, at FROM session_touches WHERE project_id = ? ORDER BY at ASC, touch_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionTouch
	for rows.Next() {
		var (
			t  SessionTouch
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

func (s *sqliteStore) SaveSessionState(ctx context.Context, st SessionState) error {
	if st.SessionID == "" {
		return errors.New("session id required")
	}
	_, err := s.stmtSaveState.ExecContext(ctx, st.SessionID, st.Mode, st.Payload, time.Now().UTC().UnixMilli())
	return err
}

func (s *sqliteStore) LoadSessionState(ctx context.Context, sessionID string) (SessionState, error) {
	var (
		st SessionState
		at int64
	)
	err := s.stmtLoadState.QueryRowContext(ctx, sessionID).Scan(&st.SessionID, &st.Mode, &st.Payload, &at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionState{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return SessionState{}, err
	}
	st.UpdatedAt = time.UnixMilli(at).UTC()
	return st, nil
}

func (s *sqliteStore) ClearSessionState(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM session_states WHERE session_id = ?`, sessionID)
	return err
}

func (s *sqliteStore) AppendHistory(ctx context.Context, sessionID string, msgs []HistoryMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range msgs {
		at := m.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := tx.Stmt(s.stmtAppendHistory).ExecContext(ctx, sessionID, m.Role, m.Content, at.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListHistory(ctx context.Context, sessionID string, limit int) ([]HistoryMessage, error) {
	if limit <= 0 || limit > models.DefaultHistoryListLimit {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT role, content, created_at FROM session_history WHERE session_id = ? ORDER BY message_id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryMessage
	for rows.Next() {
		var (
			m  HistoryMessage
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

func (s *sqliteStore) ClearHistory(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM session_history WHERE session_id = ?`, sessionID)
	return err
}

// scanProjectRow scans a row with projectColumns in order.
func scanProjectRow(row interface{ Scan(dest ...any) error }) (Project, error) {
	var (
		p          Project
		tags       string
		checkpoint sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&p.ID, &p.Creator, &p.Title, &p.Objective, &p.Domain, &tags, &p.Status,
		&p.Version, &p.CurrentStep, &p.TotalSteps, &p.PlanID, &checkpoint, &p.CheckpointPayload,
		&createdAt, &updatedAt)
	if err != nil {
		return Project{}, err
	}
	p.Tags = splitTags(tags)
	if checkpoint.Valid {
		step := int(checkpoint.Int64)
		p.LastCheckpointStep = &step
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, nil
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
