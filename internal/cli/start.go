package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ubix08/orionflow/internal/config"
	"github.com/ubix08/orionflow/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port         int
		foreground   bool
		sweepSec     float64
		dev          bool
		pprofAddr    string
		executorKind string
		executorCmd  string
		executorArgs []string
		envFile      string
		dbDriver     string
		dbURL        string
		llmURL       string
		llmKey       string
		llmModel     string
		enableOtel   bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the OrionFlow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
				Home:           home,
				Port:           port,
				SweepSec:       sweepSec,
				Dev:            dev,
				PprofAddr:      pprofAddr,
				Executor:       executorKind,
				SubprocessCmd:  executorCmd,
				SubprocessArgs: executorArgs,
				DBDriver:       dbDriver,
				DBURL:          dbURL,
				LLMURL:         llmURL,
				LLMKey:         llmKey,
				LLMModel:       llmModel,
				EnableOtel:     enableOtel,
			}

			api := fmt.Sprintf("http://localhost:%d", port)

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting OrionFlow in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "OrionFlow started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 4810, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().Float64Var(&sweepSec, "sweep-interval", 60.0, "Stale-step sweep interval (seconds)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&executorKind, "executor", "stub", "Step executor: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for subprocess executor (e.g. orion-worker)")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for subprocess executor")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&llmURL, "llm-url", "", "OpenAI-compatible base URL (or set ORIONFLOW_LLM_URL)")
	cmd.Flags().StringVar(&llmKey, "llm-key", "", "API key for the completion service (or set OPENAI_API_KEY)")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "Completion model (or set ORIONFLOW_LLM_MODEL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP/SSE instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
