package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ubix08/orionflow/internal/config"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/pkg/models"
)

// Service persists todo documents under home/projects/<id>/todo.md and keeps
// the project store's current-step counter in sync with the ledger.
type Service struct {
	Home  string
	Store store.Store
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

// Path returns the todo document location for a project.
func (s *Service) Path(projectID string) string {
	return filepath.Join(config.ProjectDir(s.Home, projectID), "todo.md")
}

// Save writes the ledger atomically (temp file + rename).
func (s *Service) Save(ctx context.Context, l *Ledger) error {
	path := s.Path(l.ProjectID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Encode(l), 0o644); err != nil {
		return fmt.Errorf("write todo document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace todo document: %w", err)
	}
	return nil
}

// Load reads the ledger back. A missing file maps to store.ErrNotFound; a
// malformed document returns *ParseError so the caller can log the data-loss
// risk instead of hiding it.
func (s *Service) Load(ctx context.Context, projectID string) (*Ledger, error) {
	data, err := os.ReadFile(s.Path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("todo document for %s: %w", projectID, store.ErrNotFound)
		}
		return nil, err
	}
	l, err := Parse(data)
	if err != nil {
		return nil, err
	}
	l.ProjectID = projectID
	return l, nil
}

// SetStepStatus transitions one step, stamps started/completed timestamps on
// first entry into their status (repeat transitions never overwrite them),
// bumps the ledger's updated time, saves the document, and mirrors the new
// current step into the project store.
func (s *Service) SetStepStatus(ctx context.Context, projectID string, number int, status, note string) (*Ledger, error) {
	l, err := s.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	step := l.Step(number)
	if step == nil {
		return nil, fmt.Errorf("project %s step %d: %w", projectID, number, ErrStepNotFound)
	}
	now := s.now()
	step.Status = status
	if status == models.StepInProgress && step.StartedAt == nil {
		t := now
		step.StartedAt = &t
	}
	if status == models.StepCompleted && step.CompletedAt == nil {
		t := now
		step.CompletedAt = &t
	}
	if note != "" {
		step.Note = note
	}
	l.UpdatedAt = now
	if err := s.Save(ctx, l); err != nil {
		return nil, err
	}
	if err := s.mirrorCurrentStep(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// mirrorCurrentStep writes the ledger-derived current step into the store.
// A concurrent writer may move the version between read and write; one
// re-read-and-retry is enough because the ledger on disk is authoritative
// for the value being mirrored.
func (s *Service) mirrorCurrentStep(ctx context.Context, l *Ledger) error {
	cur := l.CurrentStep()
	if cur == 0 {
		cur = len(l.Steps)
	}
	for attempt := 0; attempt < 2; attempt++ {
		p, err := s.Store.GetProject(ctx, l.ProjectID)
		if err != nil {
			return err
		}
		if p.CurrentStep == cur {
			return nil
		}
		_, err = s.Store.UpdateProject(ctx, p.ID, p.Version, store.ProjectUpdate{CurrentStep: &cur})
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("mirror current step for %s: %w", l.ProjectID, store.ErrConflict)
}
