package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ubix08/orionflow/pkg/models"
)

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "k1" {
			t.Errorf("api key header: %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	mux.HandleFunc("/sessions/s1/chat", func(w http.ResponseWriter, r *http.Request) {
		var body models.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(models.ChatResponse{Response: "echo: " + body.Message, Phase: "conversational"})
	})
	mux.HandleFunc("/sessions/s1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.SessionStatus{Phase: "executing", WorkerCount: 1})
	})
	mux.HandleFunc("/sessions/s1/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
			return
		}
		if got := r.URL.Query().Get("limit"); got != "7" {
			t.Errorf("limit query: %q", got)
		}
		_ = json.NewEncoder(w).Encode([]models.HistoryMessage{{Role: "user", Content: "hi"}})
	})
	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") == "pipe" {
			_ = json.NewEncoder(w).Encode([]models.Project{{ID: "p2", Title: "Pipeline"}})
			return
		}
		if q.Get("status") != "active" || q.Get("domain") != "web" || q.Get("limit") != "3" {
			t.Errorf("query: %v", q)
		}
		_ = json.NewEncoder(w).Encode([]models.Project{{ID: "p1", Status: "active"}})
	})
	mux.HandleFunc("/projects/p1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Project{ID: "p1", Title: "One"})
	})
	mux.HandleFunc("/projects/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})
	mux.HandleFunc("/projects/p1/continue", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["session_id"] != "s1" {
			t.Errorf("session_id: %q", body["session_id"])
		}
		_ = json.NewEncoder(w).Encode(models.ChatResponse{Response: "resumed"})
	})
	mux.HandleFunc("/projects/p1/touches", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.SessionTouch{{SessionID: "s1", Action: "created"}})
	})
	mux.HandleFunc("/projects/p1/todo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"content": "# Project p1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	t.Parallel()

	srv := apiServer(t)
	c := New(srv.URL, "k1")
	ctx := context.Background()

	ok, err := c.Health(ctx)
	if err != nil || !ok {
		t.Fatalf("Health: %v %v", ok, err)
	}

	chat, err := c.Chat(ctx, "s1", "hello")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if chat.Response != "echo: hello" {
		t.Errorf("chat: %+v", chat)
	}

	st, err := c.SessionStatus(ctx, "s1")
	if err != nil || st.Phase != "executing" {
		t.Errorf("SessionStatus: %+v %v", st, err)
	}

	hist, err := c.History(ctx, "s1", 7)
	if err != nil || len(hist) != 1 || hist[0].Content != "hi" {
		t.Errorf("History: %+v %v", hist, err)
	}
	if err := c.ClearHistory(ctx, "s1"); err != nil {
		t.Errorf("ClearHistory: %v", err)
	}

	ps, err := c.ListProjects(ctx, "active", "web", 3)
	if err != nil || len(ps) != 1 || ps[0].ID != "p1" {
		t.Errorf("ListProjects: %+v %v", ps, err)
	}

	hits, err := c.SearchProjects(ctx, "pipe", 0)
	if err != nil || len(hits) != 1 || hits[0].ID != "p2" {
		t.Errorf("SearchProjects: %+v %v", hits, err)
	}

	p, err := c.GetProject(ctx, "p1")
	if err != nil || p.Title != "One" {
		t.Errorf("GetProject: %+v %v", p, err)
	}

	resp, err := c.ContinueProject(ctx, "p1", "s1")
	if err != nil || resp.Response != "resumed" {
		t.Errorf("ContinueProject: %+v %v", resp, err)
	}

	touches, err := c.ProjectTouches(ctx, "p1")
	if err != nil || len(touches) != 1 || touches[0].Action != "created" {
		t.Errorf("ProjectTouches: %+v %v", touches, err)
	}

	todo, err := c.ProjectTodo(ctx, "p1")
	if err != nil || todo != "# Project p1" {
		t.Errorf("ProjectTodo: %q %v", todo, err)
	}
}

func TestClientErrorBody(t *testing.T) {
	t.Parallel()

	srv := apiServer(t)
	c := New(srv.URL, "k1")

	_, err := c.GetProject(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error: %v", err)
	}
}
