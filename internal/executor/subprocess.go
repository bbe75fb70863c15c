package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ubix08/orionflow/pkg/models"
)

// SubprocessExecutor runs a local worker binary: stdin = JSON StepRequest,
// stdout = NDJSON, one event per line; a non-event line is treated as worker
// output. The final output becomes the step result.
type SubprocessExecutor struct {
	Command string
	Args    []string
}

func (e SubprocessExecutor) Name() string { return "subprocess" }

func (e SubprocessExecutor) Run(ctx context.Context, req StepRequest, emit func(models.Event)) (StepResult, error) {
	if e.Command == "" {
		return StepResult{}, errors.New("subprocess command is required")
	}
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	env, err := workerEnv(req.Step.WorkerConfig)
	if err != nil {
		return StepResult{}, err
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return StepResult{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return StepResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return StepResult{}, err
	}
	defer func() {
		if ctx.Err() != nil {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("worker subprocess exited with error", "err", err)
		}
	}()

	var output strings.Builder
	var artifacts []string
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			output.WriteString(line)
			output.WriteString("\n")
			continue
		}
		if ev.Type == "artifact" {
			if name, ok := ev.Data["name"].(string); ok && name != "" {
				artifacts = append(artifacts, name)
			}
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		ev.SessionID = req.SessionID
		ev.ProjectID = req.ProjectID
		emit(ev)
	}
	if err := sc.Err(); err != nil {
		return StepResult{}, err
	}
	return StepResult{Output: strings.TrimSpace(output.String()), Artifacts: artifacts}, nil
}

// workerEnv flattens the step's YAML worker config into environment variables
// for the worker process. Scalar values only; nested structures are skipped.
func workerEnv(cfg string) ([]string, error) {
	if strings.TrimSpace(cfg) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(cfg), &m); err != nil {
		return nil, fmt.Errorf("parse worker config: %w", err)
	}
	var env []string
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, int64, uint64, float64:
			key := "ORIONFLOW_WORKER_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
			env = append(env, fmt.Sprintf("%s=%v", key, v))
		}
	}
	sort.Strings(env)
	return env, nil
}
