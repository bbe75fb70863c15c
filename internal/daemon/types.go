package daemon

// StartOptions configures the daemon (home, port, executor, DB, completion LLM, etc.).
type StartOptions struct {
	Home          string
	Port          int
	SweepSec      float64 // stale-step sweep interval; 0 means default
	Dev           bool
	PprofAddr     string
	Executor      string   // "stub" or "subprocess"
	SubprocessCmd string   // e.g. "orion-worker"
	SubprocessArgs []string
	DBDriver      string // "sqlite" (default) or "postgres"
	DBURL         string // for postgres: connection string (or DATABASE_URL env)
	// Completion LLM: when both URL and key are set, use the OpenAI-compatible
	// client instead of the built-in stub.
	LLMURL     string // e.g. https://api.openai.com
	LLMKey     string // OPENAI_API_KEY
	LLMModel   string // e.g. gpt-4o-mini
	EnableOtel bool   // enable OpenTelemetry metrics (Prometheus exporter + HTTP/SSE instrumentation)
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
