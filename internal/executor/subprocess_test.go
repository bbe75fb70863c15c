package executor

import (
	"context"
	"runtime"
	"testing"

	"github.com/ubix08/orionflow/pkg/models"
)

func TestSubprocessRun(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	script := `printf '%s\n' \
'{"type":"thought","text":"thinking"}' \
'{"type":"artifact","data":{"name":"out.csv"}}' \
'plain worker output'`
	e := SubprocessExecutor{Command: "sh", Args: []string{"-c", script}}

	var events []models.Event
	req := StepRequest{ProjectID: "p1", SessionID: "s1", Step: models.Step{Number: 1, Title: "work"}}
	res, err := e.Run(context.Background(), req, func(ev models.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "plain worker output" {
		t.Errorf("output: %q", res.Output)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0] != "out.csv" {
		t.Errorf("artifacts: %v", res.Artifacts)
	}
	if len(events) != 1 || events[0].Type != "thought" || events[0].Text != "thinking" {
		t.Fatalf("events: %+v", events)
	}
	if events[0].SessionID != "s1" || events[0].ProjectID != "p1" {
		t.Errorf("event stamping: %+v", events[0])
	}
}

func TestSubprocessWorkerConfigEnv(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	e := SubprocessExecutor{Command: "sh", Args: []string{"-c", `printf '%s %s\n' "$ORIONFLOW_WORKER_DPI" "$ORIONFLOW_WORKER_PAPER_SIZE"`}}
	req := StepRequest{Step: models.Step{Number: 1, Title: "render", WorkerConfig: "dpi: 300\npaper-size: a4\nnested:\n  skipped: true"}}
	res, err := e.Run(context.Background(), req, func(models.Event) {})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "300 a4" {
		t.Errorf("output: %q", res.Output)
	}
}

func TestWorkerEnv(t *testing.T) {
	t.Parallel()

	env, err := workerEnv("")
	if err != nil || env != nil {
		t.Errorf("empty config: %v %v", env, err)
	}

	env, err = workerEnv("b: two\na: 1\nflag: true")
	if err != nil {
		t.Fatalf("workerEnv: %v", err)
	}
	want := []string{"ORIONFLOW_WORKER_A=1", "ORIONFLOW_WORKER_B=two", "ORIONFLOW_WORKER_FLAG=true"}
	if len(env) != len(want) {
		t.Fatalf("env: %v", env)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Errorf("env[%d]: got %q, want %q", i, env[i], want[i])
		}
	}

	if _, err := workerEnv("key: [unclosed"); err == nil {
		t.Error("bad yaml: want error")
	}
}

func TestSubprocessMissingCommand(t *testing.T) {
	t.Parallel()

	if _, err := (SubprocessExecutor{}).Run(context.Background(), StepRequest{}, func(models.Event) {}); err == nil {
		t.Fatal("want error without a command")
	}
}
