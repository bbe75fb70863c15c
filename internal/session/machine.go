package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ubix08/orionflow/internal/checkpoint"
	"github.com/ubix08/orionflow/internal/completion"
	"github.com/ubix08/orionflow/internal/executor"
	"github.com/ubix08/orionflow/internal/ledger"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// Chat processes one user turn. The reply always comes back in-band; internal
// failures (store, completion, executor) degrade into a textual answer rather
// than a 5xx, so the conversation never dead-ends. Images are opaque
// references forwarded to the completion collaborator alongside the message.
func (m *Manager) Chat(ctx context.Context, sessionID, message string, images ...string) (models.ChatResponse, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadState(ctx, sessionID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	j := &journal{sessionID: sessionID, now: m.deps.Now}
	j.add("user", message)
	s.Metrics.ChatTurns++
	m.deps.Metrics.ChatTurn(ctx)

	var resp models.ChatResponse
	switch s.Mode {
	case models.ModeAwaitingPlanApproval:
		resp, err = m.handleApproval(ctx, sessionID, message, &s, j)
	case models.ModeExecuting:
		resp, err = m.handleExecuting(ctx, sessionID, message, &s, j)
	case models.ModeCheckpointReview:
		resp, err = m.handleCheckpointReview(ctx, sessionID, message, &s, j)
	default:
		resp, err = m.handleConversational(ctx, sessionID, message, images, &s, j)
	}
	if err != nil {
		return models.ChatResponse{}, err
	}
	resp.Phase = s.Mode
	j.add("assistant", resp.Response)
	if err := m.saveState(ctx, sessionID, s); err != nil {
		return models.ChatResponse{}, err
	}
	m.flush(ctx, j)
	return resp, nil
}

// ContinueProject binds the session to an existing project and resumes its
// step loop. Paused projects move back to active first.
func (m *Manager) ContinueProject(ctx context.Context, sessionID, projectID string) (models.ChatResponse, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadState(ctx, sessionID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	p, err := m.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	j := &journal{sessionID: sessionID, now: m.deps.Now}
	j.add("user", "continue project "+projectID)
	resp, err := m.resumeProject(ctx, sessionID, p, &s, j)
	if err != nil {
		return models.ChatResponse{}, err
	}
	resp.Phase = s.Mode
	j.add("assistant", resp.Response)
	if err := m.saveState(ctx, sessionID, s); err != nil {
		return models.ChatResponse{}, err
	}
	m.flush(ctx, j)
	return resp, nil
}

// --- conversational -------------------------------------------------------

func (m *Manager) handleConversational(ctx context.Context, sessionID, message string, images []string, s *State, j *journal) (models.ChatResponse, error) {
	intent := m.classifyIntent(ctx, sessionID, message, images)
	switch intent {
	case models.IntentComplex:
		return m.proposePlan(ctx, message, s)
	case models.IntentProjectContinuation:
		p, ok := m.resolveProject(ctx, message)
		if !ok {
			return reply("I could not find an unfinished project to continue. Say \"show projects\" to list what exists."), nil
		}
		return m.resumeProject(ctx, sessionID, p, s, j)
	case models.IntentProjectQuery:
		return m.projectSummary(ctx)
	default:
		text, err := m.deps.Completion.Respond(ctx, m.conversationPrompt(ctx, sessionID, message, images))
		if err != nil {
			slog.Warn("completion respond failed", "session", sessionID, "err", err)
			return reply("I could not reach the language model just now; please try again."), nil
		}
		return reply(text), nil
	}
}

func (m *Manager) classifyIntent(ctx context.Context, sessionID, message string, images []string) string {
	schema := completion.ObjectSchema(map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []string{models.IntentSimple, models.IntentComplex, models.IntentProjectContinuation, models.IntentProjectQuery},
		},
	}, "intent")
	var out struct {
		Intent string `json:"intent"`
	}
	prompt := m.intentPrompt(ctx, sessionID, message, images)
	if err := m.deps.Completion.Complete(ctx, prompt, schema, &out); err != nil {
		// Misclassifying as simple keeps the turn answerable.
		slog.Warn("intent classification failed", "session", sessionID, "err", err)
		return models.IntentSimple
	}
	switch out.Intent {
	case models.IntentSimple, models.IntentComplex, models.IntentProjectContinuation, models.IntentProjectQuery:
		return out.Intent
	}
	return models.IntentSimple
}

func (m *Manager) proposePlan(ctx context.Context, message string, s *State) (models.ChatResponse, error) {
	plan, err := m.generatePlan(ctx, message, nil, "")
	if err != nil {
		slog.Warn("plan generation failed", "err", err)
		return reply("I could not generate a plan right now; please try again."), nil
	}
	if len(plan.Steps) == 0 {
		// The planner judged this simple after all; pass its answer through.
		if plan.Rationale != "" {
			return reply(plan.Rationale), nil
		}
		return reply("This does not need a multi-step project; just ask me directly."), nil
	}
	s.Mode = models.ModeAwaitingPlanApproval
	s.PendingPlan = &plan
	s.PendingObjective = message
	return reply(formatPlan(plan) + "\n\nApprove this plan, or tell me what to change."), nil
}

func (m *Manager) generatePlan(ctx context.Context, objective string, previous *models.Plan, feedback string) (models.Plan, error) {
	schema := completion.ObjectSchema(map[string]any{
		"title":          map[string]any{"type": "string"},
		"rationale":      map[string]any{"type": "string"},
		"estimated_time": map[string]any{"type": "string"},
		"steps": map[string]any{
			"type": "array",
			"items": completion.ObjectSchema(map[string]any{
				"number":           map[string]any{"type": "integer"},
				"title":            map[string]any{"type": "string"},
				"objective":        map[string]any{"type": "string"},
				"worker":           map[string]any{"type": "string"},
				"checkpoint":       map[string]any{"type": "boolean"},
				"depends_on":       map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				"expected_outputs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}, "number", "title"),
		},
	}, "title", "steps")

	var b strings.Builder
	b.WriteString("Plan the following objective as a short sequence of concrete steps. ")
	b.WriteString("Return zero steps if it does not warrant a project, with a recommendation in rationale.\n\nObjective: ")
	b.WriteString(objective)
	if previous != nil {
		b.WriteString("\n\nPrevious plan:\n")
		b.WriteString(formatPlan(*previous))
		b.WriteString("\n\nRevision feedback: ")
		b.WriteString(feedback)
	}

	var plan models.Plan
	if err := m.deps.Completion.Complete(ctx, b.String(), schema, &plan); err != nil {
		return models.Plan{}, err
	}
	// Every generated or revised plan is a new immutable value.
	plan.ID = uuid.NewString()
	for i := range plan.Steps {
		if plan.Steps[i].Number == 0 {
			plan.Steps[i].Number = i + 1
		}
	}
	return plan, nil
}

func (m *Manager) resolveProject(ctx context.Context, message string) (store.Project, bool) {
	// Prefer a textual match, then fall back to the most recently updated
	// unfinished project.
	if hits, err := m.deps.Store.SearchProjects(ctx, message, 5); err == nil {
		for _, p := range hits {
			if p.Status == models.ProjectActive || p.Status == models.ProjectPaused {
				return p, true
			}
		}
	}
	for _, status := range []string{models.ProjectActive, models.ProjectPaused} {
		ps, err := m.deps.Store.ListProjects(ctx, store.ProjectFilter{Status: status, Limit: 1})
		if err == nil && len(ps) > 0 {
			return ps[0], true
		}
	}
	return store.Project{}, false
}

func (m *Manager) projectSummary(ctx context.Context) (models.ChatResponse, error) {
	ps, err := m.deps.Store.ListProjects(ctx, store.ProjectFilter{Limit: 20})
	if err != nil {
		return models.ChatResponse{}, err
	}
	if len(ps) == 0 {
		return reply("No projects yet. Describe something to build and I will draft a plan."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d project(s):\n", len(ps))
	for _, p := range ps {
		fmt.Fprintf(&b, "- %s — %s [%s] step %d/%d\n", p.ID, p.Title, p.Status, p.CurrentStep, p.TotalSteps)
	}
	return reply(strings.TrimRight(b.String(), "\n")), nil
}

// --- plan approval --------------------------------------------------------

func (m *Manager) handleApproval(ctx context.Context, sessionID, message string, s *State, j *journal) (models.ChatResponse, error) {
	if s.PendingPlan == nil {
		s.Mode = models.ModeConversational
		s.ReplanProjectID = ""
		return m.handleConversational(ctx, sessionID, message, nil, s, j)
	}
	switch checkpoint.DecideIntent(message) {
	case models.DecisionContinue:
		if s.ReplanProjectID != "" {
			return m.applyReplan(ctx, sessionID, s)
		}
		return m.approvePlan(ctx, sessionID, s, j)
	case models.DecisionStop:
		s.Mode = models.ModeConversational
		s.PendingPlan = nil
		s.PendingObjective = ""
		if pid := s.ReplanProjectID; pid != "" {
			s.ReplanProjectID = ""
			return reply(fmt.Sprintf("Revision discarded. Project %s keeps its current steps; continue it any time.", pid)), nil
		}
		return reply("Plan discarded. Nothing was created."), nil
	default:
		// Anything else is revision feedback.
		plan, err := m.generatePlan(ctx, s.PendingObjective, s.PendingPlan, message)
		if err != nil {
			slog.Warn("plan revision failed", "session", sessionID, "err", err)
			return reply("I could not revise the plan right now; approve it as is, or try again."), nil
		}
		if len(plan.Steps) == 0 {
			s.Mode = models.ModeConversational
			s.PendingPlan = nil
			s.PendingObjective = ""
			s.ReplanProjectID = ""
			if plan.Rationale != "" {
				return reply(plan.Rationale), nil
			}
			return reply("On reflection this does not need a project; plan discarded."), nil
		}
		s.PendingPlan = &plan
		return reply("Revised plan:\n\n" + formatPlan(plan) + "\n\nApprove, or keep adjusting."), nil
	}
}

func (m *Manager) approvePlan(ctx context.Context, sessionID string, s *State, j *journal) (models.ChatResponse, error) {
	plan := *s.PendingPlan
	now := m.deps.Now().UTC()
	p := store.Project{
		ID:          uuid.NewString(),
		Creator:     sessionID,
		Title:       plan.Title,
		Objective:   s.PendingObjective,
		Status:      models.ProjectPlanning,
		CurrentStep: 1,
		TotalSteps:  len(plan.Steps),
		PlanID:      plan.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.deps.Store.CreateProject(ctx, p); err != nil {
		return models.ChatResponse{}, fmt.Errorf("create project: %w", err)
	}
	led := ledger.FromPlan(p.ID, p.Objective, plan)
	if err := m.deps.Ledger.Save(ctx, led); err != nil {
		return models.ChatResponse{}, fmt.Errorf("write todo document: %w", err)
	}
	m.touch(ctx, p.ID, sessionID, models.TouchCreated)
	m.publish(models.Event{
		Type: models.EventProjectCreated, SessionID: sessionID, ProjectID: p.ID,
		Title: p.Title, Data: map[string]any{"total_steps": p.TotalSteps},
	})

	s.Mode = models.ModeExecuting
	s.ProjectID = p.ID
	s.PendingPlan = nil
	s.PendingObjective = ""
	return m.runSteps(ctx, sessionID, p.ID, s)
}

// --- executing ------------------------------------------------------------

func (m *Manager) handleExecuting(ctx context.Context, sessionID, message string, s *State, j *journal) (models.ChatResponse, error) {
	// Normally the step loop finishes inside the turn that started it; this
	// mode is observed after a restart mid-run or an interrupted loop.
	switch checkpoint.DecideIntent(message) {
	case models.DecisionStop:
		return m.pauseProject(ctx, sessionID, s)
	case models.DecisionContinue, models.DecisionRetry:
		return m.runSteps(ctx, sessionID, s.ProjectID, s)
	default:
		p, err := m.deps.Store.GetProject(ctx, s.ProjectID)
		if err != nil {
			s.Mode = models.ModeConversational
			s.ProjectID = ""
			return reply("The project this session was working on no longer exists."), nil
		}
		return reply(fmt.Sprintf("Project %q is at step %d of %d. Say continue to resume, or pause to stop.",
			p.Title, p.CurrentStep, p.TotalSteps)), nil
	}
}

// runSteps drives the ledger forward until the project completes, a
// checkpoint or failure hands control back to the user, or the context ends.
func (m *Manager) runSteps(ctx context.Context, sessionID, projectID string, s *State) (models.ChatResponse, error) {
	led, err := m.deps.Ledger.Load(ctx, projectID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("load todo document: %w", err)
	}
	p, err := m.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	if p.Status == models.ProjectPlanning {
		// Execution is about to begin; the project leaves planning now.
		if err := m.setProjectStatus(ctx, projectID, models.ProjectActive); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return reply("Another session changed this project at the same time; say continue to start it."), nil
			}
			return models.ChatResponse{}, err
		}
	}

	for {
		n := led.CurrentStep()
		if n == 0 {
			return m.finishProject(ctx, sessionID, projectID, led, s)
		}
		step := led.Step(n)

		if _, err := m.deps.Ledger.SetStepStatus(ctx, projectID, n, models.StepInProgress, ""); err != nil {
			return models.ChatResponse{}, err
		}
		m.publish(models.Event{Type: models.EventStepStarted, SessionID: sessionID, ProjectID: projectID, Step: n, Title: step.Title})

		start := m.deps.Now()
		result, runErr := m.deps.Executor.Run(ctx, executor.StepRequest{
			ProjectID: projectID,
			SessionID: sessionID,
			Objective: p.Objective,
			Step:      *step,
		}, func(ev models.Event) {
			ev.SessionID = sessionID
			ev.ProjectID = projectID
			if ev.Step == 0 {
				ev.Step = n
			}
			m.publish(ev)
		})
		m.deps.Metrics.StepExecuted(ctx, step.Worker, m.deps.Now().Sub(start), runErr)

		if runErr != nil {
			s.Metrics.StepsFailed++
			// The step goes back to pending so a retry reruns it; the note
			// keeps the failure visible in the document.
			if _, err := m.deps.Ledger.SetStepStatus(ctx, projectID, n, models.StepPending, "attempt failed: "+runErr.Error()); err != nil {
				return models.ChatResponse{}, err
			}
			m.publish(models.Event{Type: models.EventError, SessionID: sessionID, ProjectID: projectID, Step: n, Text: runErr.Error()})
			s.Mode = models.ModeCheckpointReview
			s.StepNumber = n
			s.StepResult = runErr.Error()
			s.Failed = true
			return reply(fmt.Sprintf("Step %d (%s) failed: %v\n\nSay retry to run it again, replan to revise the remaining steps, skip to move past it, or stop to pause the project.",
				n, step.Title, runErr)), nil
		}

		s.Metrics.StepsExecuted++
		led, err = m.deps.Ledger.SetStepStatus(ctx, projectID, n, models.StepCompleted, "")
		if err != nil {
			return models.ChatResponse{}, err
		}
		m.publish(models.Event{Type: models.EventStepComplete, SessionID: sessionID, ProjectID: projectID, Step: n, Title: step.Title, Data: map[string]any{"artifacts": result.Artifacts}})

		if step.Checkpoint {
			s.Metrics.CheckpointsHit++
			if err := m.deps.Checkpoint.Capture(ctx, projectID, n, result.Output); err != nil {
				slog.Warn("checkpoint capture failed", "project", projectID, "step", n, "err", err)
			}
			s.Mode = models.ModeCheckpointReview
			s.StepNumber = n
			s.StepResult = result.Output
			s.Failed = false
			return reply(fmt.Sprintf("Checkpoint after step %d (%s):\n\n%s\n\nContinue, retry, skip the next step, or stop?",
				n, step.Title, result.Output)), nil
		}
	}
}

func (m *Manager) finishProject(ctx context.Context, sessionID, projectID string, led *ledger.Ledger, s *State) (models.ChatResponse, error) {
	if err := m.setProjectStatus(ctx, projectID, models.ProjectCompleted); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Keep the session bound so the next "continue" records completion.
			s.Mode = models.ModeExecuting
			s.StepNumber = 0
			s.StepResult = ""
			s.Failed = false
			return reply("All steps are done, but another session changed this project at the same time; say continue to record completion."), nil
		}
		return models.ChatResponse{}, err
	}
	m.touch(ctx, projectID, sessionID, models.TouchCompleted)
	m.publish(models.Event{Type: models.EventComplete, SessionID: sessionID, ProjectID: projectID})

	done := led.CompletedCount()
	s.Mode = models.ModeConversational
	s.ProjectID = ""
	s.StepNumber = 0
	s.StepResult = ""
	s.Failed = false
	return reply(fmt.Sprintf("Project complete: %d of %d steps done.", done, len(led.Steps))), nil
}

// --- checkpoint review ----------------------------------------------------

func (m *Manager) handleCheckpointReview(ctx context.Context, sessionID, message string, s *State, j *journal) (models.ChatResponse, error) {
	decision := checkpoint.DecideIntent(message)
	if s.Failed {
		// Failure reviews additionally offer replan.
		decision = checkpoint.DecideRecovery(message)
	}
	m.deps.Metrics.CheckpointDecision(ctx, decision)
	switch decision {
	case models.DecisionContinue:
		// After a failure "continue" reruns the step; it is already back in
		// pending, so the loop picks it up either way.
		return m.resumeRun(ctx, sessionID, s)
	case models.DecisionRetry:
		if !s.Failed {
			// Re-run the checkpointed step: put it back to pending first.
			if _, err := m.deps.Ledger.SetStepStatus(ctx, s.ProjectID, s.StepNumber, models.StepPending, "retried at checkpoint"); err != nil {
				return models.ChatResponse{}, err
			}
		}
		return m.resumeRun(ctx, sessionID, s)
	case models.DecisionSkip:
		skip := s.StepNumber
		if !s.Failed {
			// The checkpointed step already completed; skip the next one.
			led, err := m.deps.Ledger.Load(ctx, s.ProjectID)
			if err != nil {
				return models.ChatResponse{}, err
			}
			skip = led.CurrentStep()
			if skip == 0 {
				return m.resumeRun(ctx, sessionID, s)
			}
		}
		if _, err := m.deps.Ledger.SetStepStatus(ctx, s.ProjectID, skip, models.StepSkipped, "skipped by user"); err != nil {
			return models.ChatResponse{}, err
		}
		return m.resumeRun(ctx, sessionID, s)
	case models.DecisionReplan:
		return m.replanProject(ctx, sessionID, s)
	case models.DecisionStop:
		return m.pauseProject(ctx, sessionID, s)
	default:
		if s.Failed {
			return reply("I did not catch a decision. Say retry, replan, skip, or stop."), nil
		}
		return reply("I did not catch a decision. Say continue, retry, skip, or stop."), nil
	}
}

// replanProject asks the planner to revise the remaining work around a
// failed step. The revised plan still goes through approval before it
// replaces anything durable.
func (m *Manager) replanProject(ctx context.Context, sessionID string, s *State) (models.ChatResponse, error) {
	p, err := m.deps.Store.GetProject(ctx, s.ProjectID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	led, err := m.deps.Ledger.Load(ctx, s.ProjectID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("load todo document: %w", err)
	}
	prev := planFromLedger(p, led)
	feedback := fmt.Sprintf("Step %d failed: %s. Plan the remaining work around the failure; completed steps are kept and must not be repeated.",
		s.StepNumber, s.StepResult)
	plan, err := m.generatePlan(ctx, p.Objective, &prev, feedback)
	if err != nil {
		slog.Warn("replan failed", "session", sessionID, "project", s.ProjectID, "err", err)
		return reply("I could not revise the plan right now; retry, skip, or stop instead."), nil
	}
	if len(plan.Steps) == 0 {
		return reply("The planner had no changes to suggest. Retry, skip, or stop?"), nil
	}
	s.Mode = models.ModeAwaitingPlanApproval
	s.PendingPlan = &plan
	s.PendingObjective = p.Objective
	s.ReplanProjectID = s.ProjectID
	s.ProjectID = ""
	s.StepNumber = 0
	s.StepResult = ""
	s.Failed = false
	return reply("Revised plan for the remaining work:\n\n" + formatPlan(plan) + "\n\nApprove to replace the remaining steps, or keep adjusting."), nil
}

// applyReplan swaps the unfinished steps of an existing project for the
// approved revision and resumes execution.
func (m *Manager) applyReplan(ctx context.Context, sessionID string, s *State) (models.ChatResponse, error) {
	plan := *s.PendingPlan
	projectID := s.ReplanProjectID
	old, err := m.deps.Ledger.Load(ctx, projectID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("load todo document: %w", err)
	}
	led := ledger.Replan(old, plan)
	if err := m.deps.Ledger.Save(ctx, led); err != nil {
		return models.ChatResponse{}, fmt.Errorf("write todo document: %w", err)
	}
	p, err := m.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return models.ChatResponse{}, err
	}
	total := len(led.Steps)
	cur := led.CurrentStep()
	if cur == 0 {
		cur = total
	}
	planID := plan.ID
	if _, err := m.deps.Store.UpdateProject(ctx, projectID, p.Version, store.ProjectUpdate{
		TotalSteps: &total, CurrentStep: &cur, PlanID: &planID,
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return reply("Another session changed this project at the same time; approve again to apply the revision."), nil
		}
		return models.ChatResponse{}, err
	}
	m.touch(ctx, projectID, sessionID, models.TouchContinued)

	s.Mode = models.ModeExecuting
	s.ProjectID = projectID
	s.PendingPlan = nil
	s.PendingObjective = ""
	s.ReplanProjectID = ""
	return m.runSteps(ctx, sessionID, projectID, s)
}

// planFromLedger reconstructs a plan view of the current steps so the
// planner sees what it is revising.
func planFromLedger(p store.Project, led *ledger.Ledger) models.Plan {
	plan := models.Plan{ID: p.PlanID, Title: p.Title}
	for _, st := range led.Steps {
		plan.Steps = append(plan.Steps, models.PlanStep{
			Number:          st.Number,
			Title:           st.Title,
			Objective:       st.Description,
			Worker:          st.Worker,
			Checkpoint:      st.Checkpoint,
			DependsOn:       append([]int(nil), st.DependsOn...),
			ExpectedOutputs: append([]string(nil), st.ExpectedOutputs...),
		})
	}
	return plan
}

func (m *Manager) resumeRun(ctx context.Context, sessionID string, s *State) (models.ChatResponse, error) {
	s.Mode = models.ModeExecuting
	s.StepNumber = 0
	s.StepResult = ""
	s.Failed = false
	return m.runSteps(ctx, sessionID, s.ProjectID, s)
}

func (m *Manager) pauseProject(ctx context.Context, sessionID string, s *State) (models.ChatResponse, error) {
	if err := m.setProjectStatus(ctx, s.ProjectID, models.ProjectPaused); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// State stays put; the user can repeat the stop once the other
			// writer is done.
			return reply("Another session changed this project at the same time; say stop again to pause it."), nil
		}
		return models.ChatResponse{}, err
	}
	projectID := s.ProjectID
	s.Mode = models.ModeConversational
	s.ProjectID = ""
	s.StepNumber = 0
	s.StepResult = ""
	s.Failed = false
	return reply(fmt.Sprintf("Project %s paused. Continue it any time from this or another session.", projectID)), nil
}

// --- resume ----------------------------------------------------------------

func (m *Manager) resumeProject(ctx context.Context, sessionID string, p store.Project, s *State, j *journal) (models.ChatResponse, error) {
	switch p.Status {
	case models.ProjectCompleted:
		return reply(fmt.Sprintf("Project %q already finished.", p.Title)), nil
	case models.ProjectPaused:
		status := models.ProjectActive
		if _, err := m.deps.Store.UpdateProject(ctx, p.ID, p.Version, store.ProjectUpdate{Status: &status}); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return reply("Someone else just changed that project; try again."), nil
			}
			return models.ChatResponse{}, err
		}
		m.touch(ctx, p.ID, sessionID, models.TouchResumed)
	default:
		m.touch(ctx, p.ID, sessionID, models.TouchContinued)
	}
	s.Mode = models.ModeExecuting
	s.ProjectID = p.ID
	return m.runSteps(ctx, sessionID, p.ID, s)
}

// --- helpers ---------------------------------------------------------------

// setProjectStatus re-reads the project and applies the status update until
// it wins or the retry budget is spent. The final ErrConflict is returned to
// the caller, never dropped; every call site turns it into an in-band reply.
func (m *Manager) setProjectStatus(ctx context.Context, projectID, status string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var p store.Project
		p, err = m.deps.Store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Status == status {
			return nil
		}
		_, err = m.deps.Store.UpdateProject(ctx, projectID, p.Version, store.ProjectUpdate{Status: &status})
		if err == nil || !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

func (m *Manager) touch(ctx context.Context, projectID, sessionID, action string) {
	if err := m.deps.Store.RecordSessionTouch(ctx, projectID, sessionID, action); err != nil {
		slog.Warn("session touch failed", "project", projectID, "action", action, "err", err)
	}
}

func (m *Manager) intentPrompt(ctx context.Context, sessionID, message string, images []string) string {
	var b strings.Builder
	b.WriteString("Classify the user's message.\n")
	if ps, err := m.deps.Store.ListProjects(ctx, store.ProjectFilter{Limit: 5}); err == nil && len(ps) > 0 {
		b.WriteString("Known projects:\n")
		for _, p := range ps {
			fmt.Fprintf(&b, "- %s [%s] step %d/%d\n", p.Title, p.Status, p.CurrentStep, p.TotalSteps)
		}
	}
	m.appendRecentHistory(ctx, sessionID, &b)
	appendImages(&b, images)
	b.WriteString("Message: ")
	b.WriteString(message)
	return b.String()
}

func (m *Manager) conversationPrompt(ctx context.Context, sessionID, message string, images []string) string {
	var b strings.Builder
	m.appendRecentHistory(ctx, sessionID, &b)
	appendImages(&b, images)
	b.WriteString(message)
	return b.String()
}

func appendImages(b *strings.Builder, images []string) {
	if len(images) == 0 {
		return
	}
	b.WriteString("Attached images:\n")
	for _, ref := range images {
		b.WriteString("- ")
		b.WriteString(ref)
		b.WriteString("\n")
	}
}

func (m *Manager) appendRecentHistory(ctx context.Context, sessionID string, b *strings.Builder) {
	msgs, err := m.deps.Store.ListHistory(ctx, sessionID, 10)
	if err != nil || len(msgs) == 0 {
		return
	}
	b.WriteString("Recent conversation:\n")
	for _, msg := range msgs {
		fmt.Fprintf(b, "%s: %s\n", msg.Role, msg.Content)
	}
}

func formatPlan(plan models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s (%d steps)", plan.Title, len(plan.Steps))
	if plan.EstimatedTime != "" {
		fmt.Fprintf(&b, ", estimated %s", plan.EstimatedTime)
	}
	b.WriteString("\n")
	for _, st := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s", st.Number, st.Title)
		if st.Worker != "" {
			fmt.Fprintf(&b, " (worker: %s)", st.Worker)
		}
		if st.Checkpoint {
			b.WriteString(" [checkpoint]")
		}
		b.WriteString("\n")
	}
	if plan.Rationale != "" {
		b.WriteString(plan.Rationale)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func reply(text string) models.ChatResponse {
	return models.ChatResponse{Response: text}
}
