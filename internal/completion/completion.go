// Package completion abstracts the language-model collaborator used for
// intent classification, plan generation, plan adaptation, and free-text
// replies. The state machine treats every failure here as recoverable.
package completion

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the completion service could not be reached or
	// returned a non-OK status.
	ErrUnavailable = errors.New("completion service unavailable")
	// ErrSchemaMismatch means the service answered but the structured result
	// did not match the requested output schema.
	ErrSchemaMismatch = errors.New("completion schema mismatch")
)

// FileInfo describes one file held by the completion service's file API.
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Client is the capability interface for the completion collaborator.
// Complete requests a structured result: the prompt is paired with a JSON
// schema and the decoded result is stored into out (a pointer to a struct).
type Client interface {
	Complete(ctx context.Context, prompt string, schema map[string]any, out any) error
	Respond(ctx context.Context, prompt string) (string, error)

	// File-asset pass-through; OrionFlow stores no blobs itself.
	UploadFile(ctx context.Context, name string, content []byte) (FileInfo, error)
	ListFiles(ctx context.Context) ([]FileInfo, error)
	DeleteFile(ctx context.Context, id string) error
}

// ObjectSchema builds a JSON schema for an object with the given required
// properties; a small helper so call sites stay readable.
func ObjectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
