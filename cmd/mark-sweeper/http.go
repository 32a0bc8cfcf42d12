package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BearBump/MarkBox/config"
	"github.com/BearBump/MarkBox/internal/services/sweeper"
)

type opsHTTPOpts struct {
	httpAddr string
	sweeper  *sweeper.Sweeper
	cfg      *config.Config
}

// Служебный HTTP: здоровье, статистика свипера и ручной запуск.
func runOpsHTTPServer(ctx context.Context, opts opsHTTPOpts) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, opts.sweeper.Stats())
	})
	r.Post("/sweep", func(w http.ResponseWriter, _ *http.Request) {
		opts.sweeper.Trigger()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("sweep triggered"))
	})
	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		// Конфиг без секций с кредами.
		writeJSON(w, map[string]any{
			"markbox": opts.cfg.MarkBox,
		})
	})

	srv := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops http server started", "addr", opts.httpAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response", "error", err.Error())
	}
}
