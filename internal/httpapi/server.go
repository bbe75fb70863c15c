// Package httpapi exposes the OrionFlow daemon API: chat turns, project
// inspection, session history, and the SSE event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ubix08/orionflow/internal/completion"
	"github.com/ubix08/orionflow/internal/executor"
	"github.com/ubix08/orionflow/internal/ledger"
	"github.com/ubix08/orionflow/internal/otel"
	"github.com/ubix08/orionflow/internal/session"
	"github.com/ubix08/orionflow/internal/store"
	"github.com/ubix08/orionflow/internal/store/postgres"
	"github.com/ubix08/orionflow/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (clients on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string            // if set, require X-API-Key header or query api_key
	DBDriver       string            // "sqlite" (default) or "postgres"
	DBURL          string            // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler      // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool              // if true, wrap handler with otelhttp for request metrics
	Completion     completion.Client // collaborator for intent/plan/reply; stub if nil
	Executor       executor.Executor // step worker; stub if nil
}

// App holds the HTTP server, SSE hub, store, session manager, and home path.
type App struct {
	Server   *http.Server
	Hub      *SSEHub
	Store    store.Store
	Sessions *session.Manager
	Journal  *session.JournalWriter
	Home     string
}

// otelRecorder forwards session instrumentation into the global meter.
type otelRecorder struct{}

func (otelRecorder) ChatTurn(ctx context.Context) { otel.RecordChatTurn(ctx) }
func (otelRecorder) StepExecuted(ctx context.Context, worker string, d time.Duration, err error) {
	otel.RecordStepExecution(ctx, worker, d, err != nil)
}
func (otelRecorder) CheckpointDecision(ctx context.Context, decision string) {
	otel.RecordCheckpointDecision(ctx, decision)
}

// NewApp creates the HTTP app (server, hub, store, sessions) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	comp := opts.Completion
	if comp == nil {
		comp = &completion.StubClient{}
	}
	jw := &session.JournalWriter{Home: opts.Home}
	sessions := session.NewManager(session.Deps{
		Store:      st,
		Ledger:     &ledger.Service{Home: opts.Home, Store: st},
		Completion: comp,
		Executor:   opts.Executor,
		Events:     hub,
		Metrics:    otelRecorder{},
		Journal:    jw,
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts := map[string]int64{}
			ps, _ := st.ListProjects(r.Context(), store.ProjectFilter{})
			for _, p := range ps {
				counts[p.Status]++
			}
			_, _ = fmt.Fprintf(w, "# TYPE orionflow_projects_total gauge\n")
			for _, status := range []string{models.ProjectPlanning, models.ProjectActive, models.ProjectPaused, models.ProjectCompleted, models.ProjectFailed} {
				_, _ = fmt.Fprintf(w, "orionflow_projects_total{status=%q} %d\n", status, counts[status])
			}
		})
	}

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"home": opts.Home})
	})

	mux.HandleFunc("/stream", hub.Handler())

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		hub.Publish(models.Event{Type: models.EventPong})
		writeJSON(w, map[string]any{"ok": true})
	})

	// --- Session-scoped endpoints ---
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
		parts := strings.Split(rest, "/")
		if len(parts) < 2 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		sessionID := parts[0]

		switch parts[1] {
		case "chat":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body models.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if strings.TrimSpace(body.Message) == "" {
				writeJSONError(w, http.StatusBadRequest, "message required")
				return
			}
			resp, err := sessions.Chat(r.Context(), sessionID, body.Message, body.Images...)
			if err != nil {
				writeJSONError(w, storeErrStatus(err), err.Error())
				return
			}
			writeJSON(w, resp)
			return

		case "history":
			switch r.Method {
			case http.MethodGet:
				limit := parseLimit(r, models.DefaultHistoryListLimit)
				msgs, err := sessions.History(r.Context(), sessionID, limit)
				if err != nil {
					writeJSONError(w, http.StatusInternalServerError, err.Error())
					return
				}
				out := make([]models.HistoryMessage, 0, len(msgs))
				for _, msg := range msgs {
					out = append(out, models.HistoryMessage{Role: msg.Role, Content: msg.Content, CreatedAt: msg.CreatedAt})
				}
				writeJSON(w, out)
				return
			case http.MethodDelete:
				if err := sessions.ClearHistory(r.Context(), sessionID); err != nil {
					writeJSONError(w, http.StatusInternalServerError, err.Error())
					return
				}
				writeJSON(w, map[string]any{"ok": true})
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "status":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			stt, err := sessions.Status(r.Context(), sessionID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, stt)
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	// --- Projects ---
	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		limit := parseLimit(r, models.DefaultProjectListLimit)
		var ps []store.Project
		var err error
		if q := r.URL.Query().Get("q"); q != "" {
			ps, err = st.SearchProjects(r.Context(), q, limit)
		} else {
			ps, err = st.ListProjects(r.Context(), store.ProjectFilter{
				Status: r.URL.Query().Get("status"),
				Domain: r.URL.Query().Get("domain"),
				Limit:  limit,
			})
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.Project, 0, len(ps))
		for _, p := range ps {
			out = append(out, session.ProjectJSON(p))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/projects/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/projects/")
		parts := strings.Split(rest, "/")
		if parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		projectID := parts[0]

		// /projects/{id}
		if len(parts) == 1 || parts[1] == "" {
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			p, err := st.GetProject(r.Context(), projectID)
			if err != nil {
				writeJSONError(w, storeErrStatus(err), err.Error())
				return
			}
			writeJSON(w, session.ProjectJSON(p))
			return
		}

		switch parts[1] {
		case "continue":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				SessionID string `json:"session_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.SessionID == "" {
				writeJSONError(w, http.StatusBadRequest, "session_id required")
				return
			}
			resp, err := sessions.ContinueProject(r.Context(), body.SessionID, projectID)
			if err != nil {
				writeJSONError(w, storeErrStatus(err), err.Error())
				return
			}
			writeJSON(w, resp)
			return

		case "touches":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			touches, err := st.ListSessionTouches(r.Context(), projectID)
			if err != nil {
				writeJSONError(w, storeErrStatus(err), err.Error())
				return
			}
			out := make([]models.SessionTouch, 0, len(touches))
			for _, t := range touches {
				out = append(out, models.SessionTouch{SessionID: t.SessionID, Action: t.Action, At: t.At})
			}
			writeJSON(w, out)
			return

		case "todo":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			svc := &ledger.Service{Home: opts.Home, Store: st}
			data, err := os.ReadFile(svc.Path(projectID))
			if err != nil {
				if os.IsNotExist(err) {
					writeJSONError(w, http.StatusNotFound, "todo document not found")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, map[string]any{"content": string(data)})
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	// --- Completion file assets (pass-through) ---
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			files, err := comp.ListFiles(r.Context())
			if err != nil {
				writeJSONError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, files)
		case http.MethodPost:
			var body struct {
				Name    string `json:"name"`
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.Name == "" {
				writeJSONError(w, http.StatusBadRequest, "name required")
				return
			}
			info, err := comp.UploadFile(r.Context(), body.Name, []byte(body.Content))
			if err != nil {
				writeJSONError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, info)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		if id == "" {
			writeJSONError(w, http.StatusBadRequest, "file id required")
			return
		}
		if err := comp.DeleteFile(r.Context(), id); err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "orionflow")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{Server: srv, Hub: hub, Store: st, Sessions: sessions, Journal: jw, Home: opts.Home}, nil
}

// storeErrStatus maps store sentinel errors onto HTTP status codes.
func storeErrStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request, max int) int {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, _ := fmt.Sscanf(l, "%d", &limit); n == 1 && limit > 0 {
			if limit > max {
				limit = max
			}
			return limit
		}
	}
	return 0
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
