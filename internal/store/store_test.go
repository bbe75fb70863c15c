package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAndBasicCRUD(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	p := Project{
		ID:        "p1",
		Creator:   "s1",
		Title:     "Build the login flow",
		Objective: "users can sign in",
		Domain:    "web",
		Tags:      []string{"auth", "frontend"},
		Status:    "active",
	}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := st.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("fresh project version: got %d, want 1", got.Version)
	}
	if got.Title != p.Title || got.Objective != p.Objective || got.Domain != p.Domain {
		t.Errorf("GetProject round trip: got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "auth" || got.Tags[1] != "frontend" {
		t.Errorf("tags round trip: got %v", got.Tags)
	}
	if got.LastCheckpointStep != nil {
		t.Errorf("fresh project should have nil checkpoint step, got %v", *got.LastCheckpointStep)
	}

	if _, err := st.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject missing: got %v, want ErrNotFound", err)
	}

	// Duplicate id is a conflict.
	if err := st.CreateProject(ctx, p); !errors.Is(err, ErrConflict) {
		t.Errorf("CreateProject duplicate: got %v, want ErrConflict", err)
	}
}

func TestUpdateProjectVersioning(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateProject(ctx, Project{ID: "p1", Title: "t", Status: "active"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	step := 3
	updated, err := st.UpdateProject(ctx, "p1", 1, ProjectUpdate{CurrentStep: &step})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after update: got %d, want 2", updated.Version)
	}
	if updated.CurrentStep != 3 {
		t.Errorf("current step after update: got %d, want 3", updated.CurrentStep)
	}
	// Unchanged fields survive a partial update.
	if updated.Status != "active" {
		t.Errorf("status after partial update: got %q, want active", updated.Status)
	}

	// Stale expected version is rejected, nothing changes.
	status := "paused"
	if _, err := st.UpdateProject(ctx, "p1", 1, ProjectUpdate{Status: &status}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}
	got, _ := st.GetProject(ctx, "p1")
	if got.Version != 2 || got.Status != "active" {
		t.Errorf("project changed by rejected update: %+v", got)
	}

	// N successful updates move the version by exactly N.
	for i := 0; i < 3; i++ {
		cur, _ := st.GetProject(ctx, "p1")
		n := i + 10
		if _, err := st.UpdateProject(ctx, "p1", cur.Version, ProjectUpdate{CurrentStep: &n}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	got, _ = st.GetProject(ctx, "p1")
	if got.Version != 5 {
		t.Errorf("version after 4 updates: got %d, want 5", got.Version)
	}

	// Checkpoint capture overwrites, never appends.
	cp, payload := 2, "result two"
	cur, _ := st.GetProject(ctx, "p1")
	if _, err := st.UpdateProject(ctx, "p1", cur.Version, ProjectUpdate{LastCheckpointStep: &cp, CheckpointPayload: &payload}); err != nil {
		t.Fatalf("checkpoint update: %v", err)
	}
	got, _ = st.GetProject(ctx, "p1")
	if got.LastCheckpointStep == nil || *got.LastCheckpointStep != 2 || got.CheckpointPayload != "result two" {
		t.Errorf("checkpoint fields: %+v", got)
	}

	if _, err := st.UpdateProject(ctx, "missing", 1, ProjectUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing project: got %v, want ErrNotFound", err)
	}
}

func TestListAndSearchProjects(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	seed := []Project{
		{ID: "a", Title: "Data pipeline", Objective: "ingest csv files", Domain: "data", Status: "active"},
		{ID: "b", Title: "Login page", Objective: "oauth sign in", Domain: "web", Status: "paused"},
		{ID: "c", Title: "Billing revamp", Objective: "invoice pdfs", Domain: "web", Status: "completed"},
	}
	for _, p := range seed {
		if err := st.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject %s: %v", p.ID, err)
		}
	}

	all, err := st.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListProjects: got %d, want 3", len(all))
	}

	web, err := st.ListProjects(ctx, ProjectFilter{Domain: "web"})
	if err != nil {
		t.Fatalf("ListProjects domain: %v", err)
	}
	if len(web) != 2 {
		t.Errorf("domain filter: got %d, want 2", len(web))
	}

	paused, err := st.ListProjects(ctx, ProjectFilter{Status: "paused"})
	if err != nil {
		t.Fatalf("ListProjects status: %v", err)
	}
	if len(paused) != 1 || paused[0].ID != "b" {
		t.Errorf("status filter: got %+v", paused)
	}

	hits, err := st.SearchProjects(ctx, "login", 10)
	if err != nil {
		t.Fatalf("SearchProjects: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Errorf("search login: got %+v", hits)
	}

	// LIKE metacharacters in the query must not act as wildcards.
	hits, err = st.SearchProjects(ctx, "%", 10)
	if err != nil {
		t.Fatalf("SearchProjects metachar: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("search %%: got %d hits, want 0", len(hits))
	}
}

func TestSessionTouches(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateProject(ctx, Project{ID: "p1", Title: "t"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	for _, action := range []string{"created", "continued", "completed"} {
		if err := st.RecordSessionTouch(ctx, "p1", "s1", action); err != nil {
			t.Fatalf("RecordSessionTouch %s: %v", action, err)
		}
	}
	if err := st.RecordSessionTouch(ctx, "missing", "s1", "created"); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch on missing project: got %v, want ErrNotFound", err)
	}

	touches, err := st.ListSessionTouches(ctx, "p1")
	if err != nil {
		t.Fatalf("ListSessionTouches: %v", err)
	}
	if len(touches) != 3 {
		t.Fatalf("touches: got %d, want 3", len(touches))
	}
	// Append-only, oldest first.
	if touches[0].Action != "created" || touches[2].Action != "completed" {
		t.Errorf("touch order: %+v", touches)
	}
}

func TestSessionStateRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.LoadSessionState(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("load missing state: got %v, want ErrNotFound", err)
	}

	if err := st.SaveSessionState(ctx, SessionState{SessionID: "s1", Mode: "executing", Payload: `{"project_id":"p1"}`}); err != nil {
		t.Fatalf("SaveSessionState: %v", err)
	}
	got, err := st.LoadSessionState(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSessionState: %v", err)
	}
	if got.Mode != "executing" || got.Payload != `{"project_id":"p1"}` {
		t.Errorf("state round trip: %+v", got)
	}

	// Save is an upsert.
	if err := st.SaveSessionState(ctx, SessionState{SessionID: "s1", Mode: "conversational", Payload: `{}`}); err != nil {
		t.Fatalf("SaveSessionState upsert: %v", err)
	}
	got, _ = st.LoadSessionState(ctx, "s1")
	if got.Mode != "conversational" {
		t.Errorf("upsert mode: got %q", got.Mode)
	}

	if err := st.ClearSessionState(ctx, "s1"); err != nil {
		t.Fatalf("ClearSessionState: %v", err)
	}
	if _, err := st.LoadSessionState(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("state after clear: got %v, want ErrNotFound", err)
	}
}

func TestHistoryAppendListClear(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	msgs := []HistoryMessage{
		{Role: "user", Content: "hello", CreatedAt: now},
		{Role: "assistant", Content: "hi there", CreatedAt: now},
	}
	if err := st.AppendHistory(ctx, "s1", msgs); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := st.AppendHistory(ctx, "s1", nil); err != nil {
		t.Fatalf("AppendHistory empty: %v", err)
	}

	got, err := st.ListHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(got) != 2 || got[0].Role != "user" || got[1].Content != "hi there" {
		t.Errorf("history round trip: %+v", got)
	}

	// Other sessions are isolated.
	other, _ := st.ListHistory(ctx, "s2", 0)
	if len(other) != 0 {
		t.Errorf("history leaked across sessions: %+v", other)
	}

	if err := st.ClearHistory(ctx, "s1"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	got, _ = st.ListHistory(ctx, "s1", 0)
	if len(got) != 0 {
		t.Errorf("history after clear: %+v", got)
	}
}

func TestUpdateProjectPlanFields(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateProject(ctx, Project{ID: "p1", Title: "t", Status: "active", TotalSteps: 3, PlanID: "plan-a"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	total := 5
	planID := "plan-b"
	updated, err := st.UpdateProject(ctx, "p1", 1, ProjectUpdate{TotalSteps: &total, PlanID: &planID})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.TotalSteps != 5 || updated.PlanID != "plan-b" {
		t.Errorf("plan fields after update: %+v", updated)
	}
	if updated.Status != "active" {
		t.Errorf("status changed by plan-field update: %q", updated.Status)
	}

	got, err := st.GetProject(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalSteps != 5 || got.PlanID != "plan-b" || got.Version != 2 {
		t.Errorf("reloaded: %+v", got)
	}
}
