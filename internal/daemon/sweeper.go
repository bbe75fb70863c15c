package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/ubix08/orionflow/internal/httpapi"
	"github.com/ubix08/orionflow/internal/ledger"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// staleStepAge is how long a step may sit in in_progress before the sweeper
// treats it as orphaned by a crashed or interrupted run.
const staleStepAge = 10 * time.Minute

// runSweeper periodically scans active projects for steps left in_progress
// with no live run behind them, resets those steps to pending, and publishes
// a status event so connected listeners see the recovery.
func runSweeper(ctx context.Context, opts StartOptions, app *httpapi.App) {
	interval := time.Duration(opts.SweepSec * float64(time.Second))
	if interval <= 0 {
		interval = time.Minute
	}
	svc := &ledger.Service{Home: opts.Home, Store: app.Store}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			projects, err := app.Store.ListProjects(ctx, store.ProjectFilter{Status: models.ProjectActive})
			if err != nil {
				slog.Error("sweeper list projects failed", "err", err)
				continue
			}
			for _, p := range projects {
				sweepProject(ctx, svc, app, p.ID)
			}
		}
	}
}

func sweepProject(ctx context.Context, svc *ledger.Service, app *httpapi.App, projectID string) {
	led, err := svc.Load(ctx, projectID)
	if err != nil {
		// Active project without a readable todo document; worth surfacing.
		slog.Warn("sweeper could not load todo document", "project", projectID, "err", err)
		return
	}
	cutoff := time.Now().UTC().Add(-staleStepAge)
	for i := range led.Steps {
		step := &led.Steps[i]
		if step.Status != models.StepInProgress {
			continue
		}
		if step.StartedAt != nil && step.StartedAt.After(cutoff) {
			continue
		}
		if _, err := svc.SetStepStatus(ctx, projectID, step.Number, models.StepPending, "reset after interrupted run"); err != nil {
			slog.Error("sweeper reset step failed", "project", projectID, "step", step.Number, "err", err)
			continue
		}
		slog.Info("sweeper reset stale step", "project", projectID, "step", step.Number)
		app.Hub.Publish(models.Event{
			Type:      models.EventStatus,
			ProjectID: projectID,
			Step:      step.Number,
			Text:      "step reset to pending after interrupted run",
		})
	}
}
