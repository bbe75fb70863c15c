package completion

import (
	"context"
	"errors"
	"testing"

	"github.com/ubix08/orionflow/pkg/models"
)

func TestStubCompleteIntent(t *testing.T) {
	t.Parallel()

	c := &StubClient{}
	schema := ObjectSchema(map[string]any{
		"intent": map[string]any{"type": "string"},
	}, "intent")

	cases := []struct {
		prompt string
		want   string
	}{
		{"Message: hello there", "simple"},
		{"Message: please build a login page", "complex"},
		{"Message: implement the importer", "complex"},
		{"Message: continue where we left off", "project_continuation"},
		{"Message: resume the migration", "project_continuation"},
		{"Message: which projects are open?", "project_query"},
		{"Message: project status please", "project_query"},
	}
	for _, tc := range cases {
		var out struct {
			Intent string `json:"intent"`
		}
		if err := c.Complete(context.Background(), tc.prompt, schema, &out); err != nil {
			t.Fatalf("Complete(%q): %v", tc.prompt, err)
		}
		if out.Intent != tc.want {
			t.Errorf("Complete(%q): got %q, want %q", tc.prompt, out.Intent, tc.want)
		}
	}
}

func TestStubCompletePlan(t *testing.T) {
	t.Parallel()

	c := &StubClient{PlanSteps: 4, CheckpointStep: 3}
	schema := ObjectSchema(map[string]any{
		"title": map[string]any{"type": "string"},
		"steps": map[string]any{"type": "array"},
	}, "title", "steps")

	var plan models.Plan
	if err := c.Complete(context.Background(), "build a thing", schema, &plan); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(plan.Steps) != 4 {
		t.Fatalf("steps: got %d, want 4", len(plan.Steps))
	}
	for i, s := range plan.Steps {
		if s.Number != i+1 {
			t.Errorf("step %d number: got %d", i, s.Number)
		}
		if s.Checkpoint != (s.Number == 3) {
			t.Errorf("step %d checkpoint: got %v", s.Number, s.Checkpoint)
		}
		if s.Worker != "general" {
			t.Errorf("step %d worker: got %q", s.Number, s.Worker)
		}
	}
	if plan.Title != "build a thing" {
		t.Errorf("title: got %q", plan.Title)
	}
}

func TestStubCompleteUnknownSchema(t *testing.T) {
	t.Parallel()

	c := &StubClient{}
	schema := ObjectSchema(map[string]any{
		"temperature": map[string]any{"type": "number"},
	}, "temperature")

	var out map[string]any
	err := c.Complete(context.Background(), "x", schema, &out)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("unknown schema: got %v, want ErrSchemaMismatch", err)
	}
}

func TestStubFileAPI(t *testing.T) {
	t.Parallel()

	c := &StubClient{}
	ctx := context.Background()

	fi, err := c.UploadFile(ctx, "notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if fi.ID == "" || fi.Name != "notes.txt" || fi.Size != 5 {
		t.Errorf("file info: %+v", fi)
	}

	files, err := c.ListFiles(ctx)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFiles: %v %+v", err, files)
	}

	if err := c.DeleteFile(ctx, fi.ID); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := c.DeleteFile(ctx, fi.ID); err == nil {
		t.Error("DeleteFile twice: want error")
	}
	files, _ = c.ListFiles(ctx)
	if len(files) != 0 {
		t.Errorf("files after delete: %+v", files)
	}
}
