package executor

import (
	"context"
	"testing"

	"github.com/ubix08/orionflow/pkg/models"
)

func TestStubRun(t *testing.T) {
	t.Parallel()

	var events []models.Event
	req := StepRequest{
		ProjectID: "p1",
		SessionID: "s1",
		Objective: "ship it",
		Step: models.Step{
			Number:          2,
			Title:           "write tests",
			ExpectedOutputs: []string{"report.txt"},
		},
	}
	res, err := StubExecutor{}.Run(context.Background(), req, func(ev models.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output == "" {
		t.Error("empty output")
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0] != "report.txt" {
		t.Errorf("artifacts: %v", res.Artifacts)
	}
	if len(events) != 1 || events[0].Type != models.EventThought {
		t.Fatalf("events: %+v", events)
	}
	if events[0].SessionID != "s1" || events[0].ProjectID != "p1" || events[0].Step != 2 {
		t.Errorf("event stamping: %+v", events[0])
	}
}

func TestStubRunFailStep(t *testing.T) {
	t.Parallel()

	e := StubExecutor{FailStep: 3}
	req := StepRequest{Step: models.Step{Number: 3, Title: "doomed"}}
	if _, err := e.Run(context.Background(), req, func(models.Event) {}); err == nil {
		t.Fatal("Run: want error for failing step")
	}

	req.Step.Number = 4
	if _, err := e.Run(context.Background(), req, func(models.Event) {}); err != nil {
		t.Fatalf("Run step 4: %v", err)
	}
}
