// The optichat daemon hosts the optimization-chat execution engine: it loads
// configuration, opens the state store, and serves the WebSocket hub, a
// health surface, and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optichat/pkg/config"
	"optichat/pkg/engine"
	"optichat/pkg/fallback"
	"optichat/pkg/logx"
	"optichat/pkg/metrics"
	"optichat/pkg/notify"
	"optichat/pkg/persistence"
	"optichat/pkg/supervisor"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logx.SetDebug(*debug || os.Getenv("OPTICHAT_DEBUG") != "")
	logger := logx.NewLogger("optichat")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Daemon exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logx.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store: %v", err)
		}
	}()

	recorder := metrics.NewRecorder()
	hub := notify.NewHub()
	defer hub.Close()

	handler := fallback.NewHandlerWithOptions(cfg.Fallback, cfg.Circuit, fallback.HandlerOptions{
		Recorder: recorder,
	})

	registry := engine.NewRegistry()
	eng := engine.New(cfg.Engine, registry, handler, engine.Options{
		Notifier: hub,
		Recorder: recorder,
	})
	exec := supervisor.New(eng, supervisor.Options{
		Store:    store,
		Notifier: hub,
		Recorder: recorder,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", healthHandler(eng, store))
	mux.HandleFunc("/run", runHandler(exec))

	if cfg.Server.PrometheusURL != "" {
		query, err := metrics.NewQueryService(cfg.Server.PrometheusURL)
		if err != nil {
			return err
		}
		mux.HandleFunc("/agents/health", agentHealthHandler(query))
		logger.Info("Agent health queries enabled against %s", cfg.Server.PrometheusURL)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Serving on %s (metrics on %s)", cfg.Server.Addr, cfg.Server.MetricsAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown: %v", err)
	}
	return nil
}

// healthHandler reports breaker states, recent retry attempts, recent run
// outcomes, and the tail of the in-memory log buffer.
func healthHandler(eng *engine.Engine, store *persistence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := store.RecentRuns(10)
		if err != nil {
			runs = nil
		}

		payload := map[string]any{
			"status":        "ok",
			"breakers":      eng.Fallback().BreakerStats(),
			"retry_history": tail(eng.Fallback().RetryHistory(), 20),
			"recent_runs":   runs,
			"recent_logs":   logx.GetRecentLogEntries(time.Now().Add(-5 * time.Minute)),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, "encoding failure", http.StatusInternalServerError)
		}
	}
}

// agentHealthHandler surfaces per-agent degradation rates aggregated by the
// Prometheus server.
func agentHealthHandler(query *metrics.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := r.URL.Query().Get("agent")
		if agent == "" {
			http.Error(w, "agent query parameter is required", http.StatusBadRequest)
			return
		}

		health, err := query.GetAgentHealth(r.Context(), agent)
		if err != nil {
			http.Error(w, "health query failed", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			http.Error(w, "encoding failure", http.StatusInternalServerError)
		}
	}
}

// runRequest is the wire shape of a pipeline submission.
type runRequest struct {
	ThreadID string         `json:"thread_id"`
	UserID   string         `json:"user_id"`
	State    map[string]any `json:"state"`
	Steps    []runStep      `json:"steps"`
}

type runStep struct {
	Agent           string   `json:"agent"`
	ParallelAgents  []string `json:"parallel_agents,omitempty"`
	ContinueOnError bool     `json:"continue_on_error,omitempty"`
}

// runHandler accepts a pipeline submission and executes it synchronously.
// Streaming progress goes out over the WebSocket hub; the response carries
// the aggregate outcome.
func runHandler(exec *supervisor.PipelineExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Steps) == 0 {
			http.Error(w, "steps are required", http.StatusBadRequest)
			return
		}

		steps := make([]engine.PipelineStep, 0, len(req.Steps))
		for _, s := range req.Steps {
			step := engine.PipelineStep{
				AgentName: s.Agent,
				Metadata:  map[string]any{},
			}
			if len(s.ParallelAgents) > 0 {
				step.Strategy = engine.StrategyParallel
				step.Metadata[engine.StepMetaParallelAgents] = s.ParallelAgents
			}
			if s.ContinueOnError {
				step.Metadata[engine.StepMetaContinueOnError] = true
			}
			steps = append(steps, step)
		}

		result, runErr := exec.Run(r.Context(), req.ThreadID, req.UserID, steps, engine.NewMapState(req.State))

		payload := map[string]any{
			"run_id":      result.RunID,
			"success":     result.Success,
			"step_count":  len(result.Steps),
			"duration_ms": result.Duration.Milliseconds(),
		}
		if runErr != nil {
			payload["error"] = runErr.Error()
		}
		if ms, ok := result.State.(*engine.MapState); ok {
			payload["state"] = ms.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, "encoding failure", http.StatusInternalServerError)
		}
	}
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
