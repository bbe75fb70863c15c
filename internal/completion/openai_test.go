package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header: %q", got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, `{"intent":"complex"}`, http.StatusOK)
	c := &OpenAIClient{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}

	var out struct {
		Intent string `json:"intent"`
	}
	schema := ObjectSchema(map[string]any{"intent": map[string]any{"type": "string"}}, "intent")
	if err := c.Complete(context.Background(), "classify this", schema, &out); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Intent != "complex" {
		t.Errorf("intent: got %q", out.Intent)
	}
}

func TestOpenAICompleteBadContent(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "not json at all", http.StatusOK)
	c := &OpenAIClient{BaseURL: srv.URL, APIKey: "test-key"}

	var out map[string]any
	err := c.Complete(context.Background(), "x", ObjectSchema(nil), &out)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("bad content: got %v, want ErrSchemaMismatch", err)
	}
}

func TestOpenAINon200(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "", http.StatusBadGateway)
	c := &OpenAIClient{BaseURL: srv.URL, APIKey: "test-key"}

	if _, err := c.Respond(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("non-200: got %v, want ErrUnavailable", err)
	}
}

func TestOpenAIRespond(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "sure thing", http.StatusOK)
	c := &OpenAIClient{BaseURL: srv.URL, APIKey: "test-key"}

	text, err := c.Respond(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if text != "sure thing" {
		t.Errorf("response: %q", text)
	}
}

func TestOpenAIFileAPI(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "file-1", "filename": "notes.txt", "bytes": 5, "created_at": 1756000000,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/files":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "file-1", "filename": "notes.txt", "bytes": 5, "created_at": 1756000000},
				},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/files/file-1":
			_, _ = w.Write([]byte(`{"deleted":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := &OpenAIClient{BaseURL: srv.URL, APIKey: "test-key"}
	ctx := context.Background()

	fi, err := c.UploadFile(ctx, "notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if fi.ID != "file-1" || fi.Name != "notes.txt" || fi.Size != 5 {
		t.Errorf("file info: %+v", fi)
	}

	files, err := c.ListFiles(ctx)
	if err != nil || len(files) != 1 || files[0].ID != "file-1" {
		t.Fatalf("ListFiles: %v %+v", err, files)
	}

	if err := c.DeleteFile(ctx, "file-1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
}
