package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ubix08/orionflow/internal/store"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd("1.2.3")
	if cmd.Version != "1.2.3" {
		t.Errorf("version: %q", cmd.Version)
	}
	want := map[string]bool{"start": false, "stop": false, "status": false, "chat": false, "project": false, "daemon": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Name() == "daemon" && !sub.Hidden {
			t.Error("daemon subcommand is not hidden")
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %s", name)
		}
	}

	if NewRootCmd("").Version != "dev" {
		t.Errorf("empty version: %q", NewRootCmd("").Version)
	}
}

func TestStatusCommandNotRunning(t *testing.T) {
	home := t.TempDir()
	out, err := runCommand(t, "--home", home, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "OrionFlow not running") {
		t.Errorf("output: %q", out)
	}
}

func TestStopCommandNotRunning(t *testing.T) {
	home := t.TempDir()
	out, err := runCommand(t, "--home", home, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("output: %q", out)
	}
}

func TestProjectListCommand(t *testing.T) {
	home := t.TempDir()

	out, err := runCommand(t, "--home", home, "project", "list")
	if err != nil {
		t.Fatalf("project list: %v", err)
	}
	if !strings.Contains(out, "No projects") {
		t.Errorf("empty list output: %q", out)
	}

	st, err := store.Open(home)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CreateProject(context.Background(), store.Project{
		ID: "p1", Title: "Data pipeline", Status: "active", CurrentStep: 2, TotalSteps: 5,
	}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	out, err = runCommand(t, "--home", home, "project", "list")
	if err != nil {
		t.Fatalf("project list: %v", err)
	}
	if !strings.Contains(out, "p1") || !strings.Contains(out, "Data pipeline") || !strings.Contains(out, "2/5") {
		t.Errorf("list output: %q", out)
	}

	out, err = runCommand(t, "--home", home, "project", "list", "--status", "paused")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No projects") {
		t.Errorf("filtered list output: %q", out)
	}
}

func TestProjectShowCommand(t *testing.T) {
	home := t.TempDir()

	st, err := store.Open(home)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.CreateProject(ctx, store.Project{
		ID: "p1", Title: "Data pipeline", Objective: "ingest the files",
		Status: "active", CurrentStep: 1, TotalSteps: 3, Tags: []string{"etl"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordSessionTouch(ctx, "p1", "s1", "created"); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	out, err := runCommand(t, "--home", home, "project", "show", "p1")
	if err != nil {
		t.Fatalf("project show: %v", err)
	}
	for _, want := range []string{"Data pipeline", "ingest the files", "etl", "created", "s1"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q: %q", want, out)
		}
	}

	if _, err := runCommand(t, "--home", home, "project", "show", "missing"); err == nil {
		t.Error("show missing project: want error")
	}
}

func TestChatCommandWithoutDaemon(t *testing.T) {
	home := t.TempDir()
	_, err := runCommand(t, "--home", home, "chat", "hello")
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Errorf("chat without daemon: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"# comment",
		"",
		"ORIONFLOW_TEST_A=hello",
		"  ORIONFLOW_TEST_B = spaced value ",
		"not-a-pair",
		"=no-key",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("ORIONFLOW_TEST_A"); got != "hello" {
		t.Errorf("A: %q", got)
	}
	if got := os.Getenv("ORIONFLOW_TEST_B"); got != "spaced value" {
		t.Errorf("B: %q", got)
	}

	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("missing env file: want error")
	}
}
