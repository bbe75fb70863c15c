package ledger

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ubix08/orionflow/pkg/models"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func sampleLedger() *Ledger {
	return &Ledger{
		ProjectID: "p-42",
		Objective: "ship the billing revamp",
		PlanID:    "plan-7",
		CreatedAt: ts("2026-08-30T10:00:00Z"),
		UpdatedAt: ts("2026-08-30T10:05:00Z"),
		Steps: []models.Step{
			{
				Number:      1,
				Title:       "Audit current invoices",
				Description: "Walk the invoice tables.\nFlag rows with missing totals.",
				Status:      models.StepCompleted,
				StartedAt:   tsp("2026-08-30T10:01:00Z"),
				CompletedAt: tsp("2026-08-30T10:02:00Z"),
			},
			{
				Number:          2,
				Title:           "Generate PDFs",
				Status:          models.StepInProgress,
				Checkpoint:      true,
				Worker:          "renderer",
				WorkerConfig:    "dpi: 300\npaper: a4",
				DependsOn:       []int{1},
				ExpectedOutputs: []string{"invoices.zip", "summary.csv"},
				StartedAt:       tsp("2026-08-30T10:03:00Z"),
				Note:            "first run timed out\nretried with smaller batch",
			},
			{
				Number: 3,
				Title:  "Email customers",
				Status: models.StepPending,
			},
		},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleLedger()
	got, err := Parse(Encode(want))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

// Free text must survive lines that look like grammar when they start a line.
func TestRoundTripMarkupInFreeText(t *testing.T) {
	t.Parallel()

	want := &Ledger{
		ProjectID: "p1",
		Objective: "obj",
		PlanID:    "pl",
		CreatedAt: ts("2026-08-30T10:00:00Z"),
		UpdatedAt: ts("2026-08-30T10:00:00Z"),
		Steps: []models.Step{
			{
				Number:      1,
				Title:       "Write docs",
				Status:      models.StepPending,
				Description: "## Step 9: fake [pending]\n- Checkpoint: yes\n```yaml worker-config",
				Note:        "# Project bogus\n\n- Worker: nope",
			},
		},
	}
	got, err := Parse(Encode(want))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Steps[0].Description != want.Steps[0].Description {
		t.Errorf("description: got %q, want %q", got.Steps[0].Description, want.Steps[0].Description)
	}
	if got.Steps[0].Note != want.Steps[0].Note {
		t.Errorf("note: got %q, want %q", got.Steps[0].Note, want.Steps[0].Note)
	}
	if got.Steps[0].Checkpoint || got.Steps[0].Worker != "" {
		t.Errorf("free text leaked into attributes: %+v", got.Steps[0])
	}
	if len(got.Steps) != 1 {
		t.Fatalf("free text produced extra steps: %d", len(got.Steps))
	}
}

// Step blocks may be stored in any order; parse restores numeric order.
func TestParseOutOfOrderSteps(t *testing.T) {
	t.Parallel()

	doc := strings.Join([]string{
		"<!-- orionflow:todo v1 -->",
		"",
		"# Project p1",
		"",
		"- Objective: obj",
		"- Plan: pl",
		"- Created: 2026-08-30T10:00:00Z",
		"- Updated: 2026-08-30T10:00:00Z",
		"",
		"## Progress",
		"",
		"0/3 steps done",
		"",
		"## Step 3: last [pending]",
		"",
		"## Step 1: first [completed]",
		"",
		"## Step 2: middle [skipped]",
		"",
	}, "\n")

	l, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(l.Steps) != 3 {
		t.Fatalf("steps: got %d, want 3", len(l.Steps))
	}
	for i, title := range []string{"first", "middle", "last"} {
		if l.Steps[i].Number != i+1 || l.Steps[i].Title != title {
			t.Errorf("step %d: got %d %q", i, l.Steps[i].Number, l.Steps[i].Title)
		}
	}
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	t.Parallel()

	header := strings.Join([]string{
		"<!-- orionflow:todo v1 -->",
		"",
		"# Project p1",
		"",
		"## Progress",
		"",
	}, "\n")

	cases := []struct {
		name string
		doc  string
	}{
		{"missing marker", "# Project p1\n\n## Step 1: a [pending]\n"},
		{"missing project header", "<!-- orionflow:todo v1 -->\n\n## Step 1: a [pending]\n"},
		{"duplicate step", header + "## Step 1: a [pending]\n\n## Step 1: b [pending]\n"},
		{"non-contiguous steps", header + "## Step 1: a [pending]\n\n## Step 3: c [pending]\n"},
		{"unknown status", header + "## Step 1: a [running]\n"},
		{"missing status", header + "## Step 1: a\n"},
		{"bad step number", header + "## Step zero: a [pending]\n"},
		{"unterminated worker config", header + "## Step 1: a [pending]\n\n```yaml worker-config\nx: 1\n"},
		{"bad created timestamp", "<!-- orionflow:todo v1 -->\n\n# Project p1\n\n- Created: yesterday\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("got %v, want *ParseError", err)
			}
			if pe.Line < 1 {
				t.Errorf("ParseError line: got %d", pe.Line)
			}
		})
	}
}

func TestFromPlanAndDerivedState(t *testing.T) {
	t.Parallel()

	plan := models.Plan{
		ID:    "plan-1",
		Title: "Ship it",
		Steps: []models.PlanStep{
			{Number: 1, Title: "design", Objective: "sketch the API"},
			{Number: 2, Title: "build", Worker: "coder", Checkpoint: true, DependsOn: []int{1}},
			{Number: 3, Title: "verify", ExpectedOutputs: []string{"report"}},
		},
	}
	l := FromPlan("p1", "ship the feature", plan)
	if l.PlanID != "plan-1" || l.Objective != "ship the feature" {
		t.Errorf("header: %+v", l)
	}
	if len(l.Steps) != 3 {
		t.Fatalf("steps: got %d, want 3", len(l.Steps))
	}
	if l.Steps[0].Description != "sketch the API" || l.Steps[0].Status != models.StepPending {
		t.Errorf("step 1: %+v", l.Steps[0])
	}
	if !l.Steps[1].Checkpoint || l.Steps[1].Worker != "coder" {
		t.Errorf("step 2: %+v", l.Steps[1])
	}

	if got := l.CurrentStep(); got != 1 {
		t.Errorf("CurrentStep fresh: got %d, want 1", got)
	}
	l.Steps[0].Status = models.StepCompleted
	l.Steps[1].Status = models.StepSkipped
	if got := l.CurrentStep(); got != 3 {
		t.Errorf("CurrentStep after skip: got %d, want 3", got)
	}
	if got := l.CompletedCount(); got != 2 {
		t.Errorf("CompletedCount: got %d, want 2", got)
	}
	if l.Complete() {
		t.Error("Complete with a pending step")
	}
	l.Steps[2].Status = models.StepCompleted
	if !l.Complete() {
		t.Error("Complete after finishing all steps")
	}
	if got := l.CurrentStep(); got != 0 {
		t.Errorf("CurrentStep when done: got %d, want 0", got)
	}

	if (&Ledger{}).CurrentStep() != 0 || !(&Ledger{}).Complete() {
		t.Error("empty ledger derived state")
	}
}

func TestRoundTripMultilineObjective(t *testing.T) {
	t.Parallel()

	l := &Ledger{
		ProjectID: "p-esc",
		Objective: "first line\nsecond line with a \\ backslash\nand a literal \\n too",
		PlanID:    "plan-esc",
		CreatedAt: ts("2026-03-01T10:00:00Z"),
		UpdatedAt: ts("2026-03-01T10:05:00Z"),
		Steps: []models.Step{
			{Number: 1, Title: "only step", Status: models.StepPending},
		},
	}
	got, err := Parse(Encode(l))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, l) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, l)
	}
	// The document itself stays line-oriented: one metadata line per key.
	for _, line := range strings.Split(string(Encode(l)), "\n") {
		if strings.HasPrefix(line, "second line") {
			t.Errorf("objective leaked onto its own line: %q", line)
		}
	}
}

func TestReplanKeepsFinishedSteps(t *testing.T) {
	t.Parallel()

	old := FromPlan("p1", "ship the feature", models.Plan{
		ID: "plan-old",
		Steps: []models.PlanStep{
			{Number: 1, Title: "design"},
			{Number: 2, Title: "build"},
			{Number: 3, Title: "verify"},
		},
	})
	old.Steps[0].Status = models.StepCompleted
	old.Steps[1].Note = "attempt failed: worker crashed"

	revised := models.Plan{
		ID: "plan-new",
		Steps: []models.PlanStep{
			{Number: 1, Title: "build differently", Worker: "coder", DependsOn: []int{1}},
			{Number: 2, Title: "verify again", Checkpoint: true},
		},
	}
	l := Replan(old, revised)

	if l.ProjectID != "p1" || l.Objective != "ship the feature" || l.PlanID != "plan-new" {
		t.Errorf("header: %+v", l)
	}
	if len(l.Steps) != 3 {
		t.Fatalf("steps: got %d, want 3", len(l.Steps))
	}
	if l.Steps[0].Title != "design" || l.Steps[0].Status != models.StepCompleted || l.Steps[0].Number != 1 {
		t.Errorf("kept step: %+v", l.Steps[0])
	}
	if l.Steps[1].Title != "build differently" || l.Steps[1].Status != models.StepPending || l.Steps[1].Number != 2 {
		t.Errorf("grafted step: %+v", l.Steps[1])
	}
	// Plan-internal dependencies shift past the kept prefix.
	if len(l.Steps[1].DependsOn) != 1 || l.Steps[1].DependsOn[0] != 2 {
		t.Errorf("shifted deps: %+v", l.Steps[1].DependsOn)
	}
	if !l.Steps[2].Checkpoint || l.Steps[2].Number != 3 {
		t.Errorf("last step: %+v", l.Steps[2])
	}
	// Renumbering keeps the document parseable.
	if _, err := Parse(Encode(l)); err != nil {
		t.Errorf("replanned ledger does not round trip: %v", err)
	}
}
