package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ubix08/orionflow/internal/config"
	"github.com/ubix08/orionflow/internal/store"
)

// JournalWriter mirrors each session's conversation into a markdown journal
// under the home directory. Rows are buffered in memory and flushed by the
// daemon's timer, so a crash loses at most one interval of journal text; the
// store's history rows remain the durable record.
type JournalWriter struct {
	Home string

	mu      sync.Mutex
	pending map[string][]store.HistoryMessage
}

// Add buffers the turn's rows for the session. Safe on a nil writer so the
// manager can treat the journal as optional.
func (w *JournalWriter) Add(sessionID string, rows []store.HistoryMessage) {
	if w == nil || w.Home == "" || len(rows) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = make(map[string][]store.HistoryMessage)
	}
	w.pending[sessionID] = append(w.pending[sessionID], rows...)
}

// Flush appends everything buffered so far to the per-session journal files.
func (w *JournalWriter) Flush() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	var firstErr error
	for sessionID, rows := range pending {
		if err := w.appendRows(sessionID, rows); err != nil {
			slog.Warn("journal flush failed", "session", sessionID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (w *JournalWriter) appendRows(sessionID string, rows []store.HistoryMessage) error {
	dir := config.SessionDir(w.Home, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "journal.md"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "\n## %s %s\n\n", row.CreatedAt.UTC().Format("2006-01-02 15:04:05"), row.Role)
		b.WriteString(row.Content)
		b.WriteString("\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Run flushes on every tick until the context ends, then once more so the
// final turns are not lost on shutdown.
func (w *JournalWriter) Run(ctx context.Context, interval time.Duration) {
	if w == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = w.Flush()
			return
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}
