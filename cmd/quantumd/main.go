package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"aegis/internal/config"
	"aegis/internal/domain"
	"aegis/internal/grover"
	sqlitestore "aegis/internal/store/sqlite"
)

type app struct {
	store        *sqlitestore.Store
	maneuverPath string
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

	addr := firstNonEmpty(*addrFlag, cfg.Quantum.Addr)
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Quantum.DBPath))
	maneuverPath := filepath.Clean(firstNonEmpty(*maneuverFlag, cfg.Quantum.ManeuverPath))

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

	a := &app{store: store, maneuverPath: maneuverPath}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/run-grover", a.handleRunGrover)
	mux.HandleFunc("/asteroids", a.handleAsteroids)
	mux.HandleFunc("/search_asteroid", a.handleSearchAsteroid)

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

	log.Printf("quantumd started addr=%s db=%s maneuvers=%s", addr, dbPath, maneuverPath)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleRunGrover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	maneuvers, err := grover.LoadManeuvers(a.maneuverPath)
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := grover.Search(maneuvers)
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.GroverResponse{
		Status: "success",
		Data: &domain.GroverData{
			PlotImage:          result.PlotImage,
			Maneuver:           result.Maneuver,
			SuccessProbability: result.SuccessProbability,
			Iterations:         result.Iterations,
		},
	})
}

func (a *app) handleAsteroids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	asteroids, err := a.store.ListAsteroids(r.Context())
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   asteroids,
	})
}

func (a *app) handleSearchAsteroid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatusError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeStatusError(w, http.StatusBadRequest, fmt.Errorf("empty prompt"))
		return
	}

	asteroid, err := a.resolve(r.Context(), prompt)
	if err != nil {
		if errors.Is(err, sqlitestore.ErrNotFound) {
			writeStatusError(w, http.StatusNotFound, fmt.Errorf("asteroid not identified in prompt"))
			return
		}
		writeStatusError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   asteroid,
	})
}

// resolve matches known catalog names against the prompt first, then
// falls back to a word-by-word partial search.
func (a *app) resolve(ctx context.Context, prompt string) (domain.Asteroid, error) {
	asteroids, err := a.store.ListAsteroids(ctx)
	if err != nil {
		return domain.Asteroid{}, err
	}
	lower := strings.ToLower(prompt)
	for _, asteroid := range asteroids {
		if strings.Contains(lower, strings.ToLower(asteroid.Name)) {
			return asteroid, nil
		}
	}
	for _, word := range strings.Fields(prompt) {
		word = strings.Trim(word, ".,!?'\"")
		if len(word) <= 3 {
			continue
		}
		asteroid, err := a.store.SearchAsteroid(ctx, word)
		if err == nil {
			return asteroid, nil
		}
		if !errors.Is(err, sqlitestore.ErrNotFound) {
			return domain.Asteroid{}, err
		}
	}
	return domain.Asteroid{}, sqlitestore.ErrNotFound
}

func writeStatusError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"status":  "error",
		"message": err.Error(),
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
