package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ubix08/orionflow/internal/config"
	"github.com/ubix08/orionflow/internal/daemon"
	"github.com/ubix08/orionflow/internal/ledger"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/client"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect and control projects",
	}
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectShowCmd())
	cmd.AddCommand(newProjectTodoCmd())
	cmd.AddCommand(newProjectContinueCmd())
	return cmd
}

func newProjectListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest-updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ps, err := st.ListProjects(cmd.Context(), store.ProjectFilter{Status: status, Limit: limit})
			if err != nil {
				return err
			}
			if len(ps) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			for _, p := range ps {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s  %d/%d  %s\n", p.ID, p.Status, p.CurrentStep, p.TotalSteps, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (planning, active, paused, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max projects to list")
	return cmd
}

func newProjectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project with its session touches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := st.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s — %s\n", p.ID, p.Title)
			_, _ = fmt.Fprintf(out, "Status: %s (v%d), step %d/%d\n", p.Status, p.Version, p.CurrentStep, p.TotalSteps)
			if p.Objective != "" {
				_, _ = fmt.Fprintf(out, "Objective: %s\n", p.Objective)
			}
			if len(p.Tags) > 0 {
				_, _ = fmt.Fprintf(out, "Tags: %s\n", strings.Join(p.Tags, ", "))
			}
			if p.LastCheckpointStep != nil {
				_, _ = fmt.Fprintf(out, "Last checkpoint: step %d\n", *p.LastCheckpointStep)
			}

			touches, err := st.ListSessionTouches(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			for _, t := range touches {
				_, _ = fmt.Fprintf(out, "  %s  %-10s  %s\n", t.At.Format("2006-01-02 15:04:05"), t.Action, t.SessionID)
			}
			return nil
		},
	}
	return cmd
}

func newProjectTodoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo <project-id>",
		Short: "Print the project's todo document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			svc := &ledger.Service{Home: home}
			data, err := os.ReadFile(svc.Path(args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	return cmd
}

func newProjectContinueCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "continue <project-id>",
		Short: "Resume a project through the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.ContinueProject(cmd.Context(), args[0], sessionID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to bind the project to")
	return cmd
}

// apiClient builds an HTTP client for the running daemon from its addr file.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	home := config.MustHomeFrom(cmd.Context())
	st, err := daemon.Status(cmd.Context(), home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("orionflow is not running; start it with `orionflow start`")
	}
	addr := st.Addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = "localhost" + addr[i:]
	}
	return client.New("http://"+addr, os.Getenv("ORIONFLOW_API_KEY")), nil
}
