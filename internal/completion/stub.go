package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubClient is a deterministic local completion client used when no API key
// is configured and in tests. It inspects the requested schema to decide
// which structured shape to produce.
type StubClient struct {
	// PlanSteps is how many steps generated plans contain (default 3).
	PlanSteps int
	// CheckpointStep marks one generated step as a checkpoint (0 = none).
	CheckpointStep int

	mu    sync.Mutex
	files map[string]FileInfo
}

func (c *StubClient) Complete(ctx context.Context, prompt string, schema map[string]any, out any) error {
	props, _ := schema["properties"].(map[string]any)
	var result any
	switch {
	case props != nil && props["intent"] != nil:
		result = map[string]any{"intent": classifyKeywords(prompt)}
	case props != nil && props["steps"] != nil:
		result = c.stubPlan(prompt)
	case props != nil && props["decision"] != nil:
		result = map[string]any{"decision": "proceed"}
	default:
		return fmt.Errorf("stub has no generator for schema: %w", ErrSchemaMismatch)
	}
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("stub result: %w", ErrSchemaMismatch)
	}
	return nil
}

func (c *StubClient) Respond(ctx context.Context, prompt string) (string, error) {
	return "Noted. Ask me to plan a project when you want multi-step work.", nil
}

// classifyKeywords mirrors the fixed-vocabulary fallback classification used
// when no model is reachable.
func classifyKeywords(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "continue") || strings.Contains(p, "resume"):
		return "project_continuation"
	case strings.Contains(p, "project") && (strings.Contains(p, "list") || strings.Contains(p, "which") || strings.Contains(p, "status")):
		return "project_query"
	case strings.Contains(p, "build") || strings.Contains(p, "create") || strings.Contains(p, "implement") || strings.Contains(p, "plan"):
		return "complex"
	default:
		return "simple"
	}
}

func (c *StubClient) stubPlan(prompt string) map[string]any {
	n := c.PlanSteps
	if n <= 0 {
		n = 3
	}
	objective := strings.TrimSpace(prompt)
	if i := strings.IndexByte(objective, '\n'); i > 0 {
		objective = objective[:i]
	}
	steps := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		steps = append(steps, map[string]any{
			"number":           i,
			"title":            fmt.Sprintf("Step %d", i),
			"objective":        fmt.Sprintf("Work unit %d toward: %s", i, objective),
			"worker":           "general",
			"expected_outputs": []string{fmt.Sprintf("step-%d-output", i)},
			"checkpoint":       i == c.CheckpointStep,
		})
	}
	return map[string]any{
		"id":             uuid.NewString(),
		"title":          objective,
		"steps":          steps,
		"estimated_time": fmt.Sprintf("%d hours", n),
		"rationale":      "stub plan",
	}
}

func (c *StubClient) UploadFile(ctx context.Context, name string, content []byte) (FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.files == nil {
		c.files = make(map[string]FileInfo)
	}
	fi := FileInfo{ID: uuid.NewString(), Name: name, Size: int64(len(content)), CreatedAt: time.Now().UTC()}
	c.files[fi.ID] = fi
	return fi, nil
}

func (c *StubClient) ListFiles(ctx context.Context) ([]FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FileInfo, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	return out, nil
}

func (c *StubClient) DeleteFile(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[id]; !ok {
		return fmt.Errorf("file %s not found", id)
	}
	delete(c.files, id)
	return nil
}
