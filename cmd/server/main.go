package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pauljones0/comment-harvester/internal/app"
	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/ingest"
	"github.com/pauljones0/comment-harvester/internal/models"
)

const maxRequestBody = 1 << 20

type runner interface {
	Run(ctx context.Context, entries []ingest.Entry) (*models.RunSummary, error)
}

type Server struct {
	runner  runner
	baseCtx context.Context
	running atomic.Bool
	wg      sync.WaitGroup
	last    atomic.Pointer[models.RunSummary]
}

type harvestRequest struct {
	URLs []string `json:"urls"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg, os.Stderr)
	slog.Info("Starting comment harvester server...")

	// Runs outlive requests but not the process; shutdown cancels them so
	// in-flight videos flush partial artifacts.
	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	a, err := app.New(baseCtx, cfg)
	if err != nil {
		slog.Error("Critical error initializing pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &Server{runner: a, baseCtx: baseCtx}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		cancelRuns()
	}()

	slog.Info("Listening on port", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv.wait(waitCtx)
	cancel()
	slog.Info("Server stopped.")
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /harvest", s.HarvestHandler)
	mux.HandleFunc("GET /runs/last", s.LastRunHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)
	return mux
}

// HarvestHandler starts an asynchronous run over the posted URLs. Only one
// run is active at a time.
func (s *Server) HarvestHandler(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "urls must not be empty"})
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a harvest run is already in progress"})
		return
	}

	entries := ingest.EntriesFromURLs(req.URLs)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in harvest run", "panic", r)
			}
		}()
		summary, err := s.runner.Run(s.baseCtx, entries)
		if err != nil {
			slog.Error("Harvest run aborted", "error", err)
		}
		if summary != nil {
			s.last.Store(summary)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "urls": len(req.URLs)})
}

func (s *Server) LastRunHandler(w http.ResponseWriter, r *http.Request) {
	summary := s.last.Load()
	if summary == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has finished yet"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.running.Load()})
}

// wait blocks until the active run has flushed or ctx expires.
func (s *Server) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timed out waiting for the harvest run to stop")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
