package cli

import (
	"github.com/spf13/cobra"

	"github.com/ubix08/orionflow/internal/config"
	"github.com/ubix08/orionflow/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port         int
		sweepSec     float64
		dev          bool
		pprofAddr    string
		executorKind string
		executorCmd  string
		executorArgs []string
		dbDriver     string
		dbURL        string
		enableOtel   bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
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
				EnableOtel:     enableOtel,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 4810, "Port for the HTTP API")
	cmd.Flags().Float64Var(&sweepSec, "sweep-interval", 60.0, "Stale-step sweep interval (seconds)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&executorKind, "executor", "stub", "Step executor: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for subprocess executor")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for subprocess executor")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
