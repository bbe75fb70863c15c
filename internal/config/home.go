package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the orionflow home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the orionflow home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("orionflow home missing from context")
}

// ResolveHome returns the orionflow home directory (override, ORIONFLOW_HOME, or default ~/.orionflow).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("ORIONFLOW_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".orionflow"), nil
}

// ProjectDir returns the directory holding a project's documents (todo ledger, notes).
func ProjectDir(home, projectID string) string {
	return filepath.Join(home, "projects", projectID)
}

// SessionDir returns the directory holding a session's conversation journal.
func SessionDir(home, sessionID string) string {
	return filepath.Join(home, "sessions", sessionID)
}
