package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"aegis/internal/config"
	"aegis/internal/domain"
	"aegis/internal/hub"
	sqlitestore "aegis/internal/store/sqlite"
	"aegis/internal/workflow"
)

type app struct {
	engine *workflow.Engine
	store  *sqlitestore.Store
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.aegis/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	maneuverFlag := flag.String("maneuvers", "", "maneuver exchange file override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath != "" {
			log.Fatalf("load config: %v", err)
		}
		cfg = config.Default()
	}

	addr := firstNonEmpty(*addrFlag, cfg.Server.Addr)
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Server.DBPath))
	maneuverPath := filepath.Clean(firstNonEmpty(*maneuverFlag, cfg.Server.ManeuverPath))

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create db directory: %v", err)
		}
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	events := hub.New(256)
	engine := workflow.New(store, events, log.Default(), workflow.Config{
		StageDelay:   durationMS(cfg.Server.StageDelayMS, 800*time.Millisecond),
		ManeuverPath: maneuverPath,
	})

	a := &app{engine: engine, store: store}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/analyze", a.handleAnalyze)
	mux.HandleFunc("/demo", a.handleDemo)
	mux.HandleFunc("/status/", a.handleStatus)
	mux.Handle("/ws", events.Handler(log.Default()))

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("aegisd started addr=%s db=%s maneuvers=%s", addr, dbPath, maneuverPath)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
	engine.Wait()
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req domain.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	runID, err := a.engine.StartRun(r.Context(), req)
	if err != nil {
		if errors.Is(err, workflow.ErrNoTarget) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":        runID,
		"message":       "Analysis started",
		"websocket_url": "/ws",
	})
}

func (a *app) handleDemo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	asteroids, err := a.store.ListAsteroids(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, asteroids)
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/status/")
	if runID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("run id is required"))
		return
	}
	run, err := a.engine.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, sqlitestore.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("run not found: %s", runID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
