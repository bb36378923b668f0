package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gauntlet/worker/internal/config"
	"github.com/gauntlet/worker/internal/database"
	"github.com/gauntlet/worker/internal/gateway"
	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/lobby"
	"github.com/gauntlet/worker/internal/metrics"
	"github.com/gauntlet/worker/internal/oracle"
	"github.com/gauntlet/worker/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Main] Configuration invalid", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	db, err := database.Open(database.Config{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		User:     cfg.PGUser,
		Password: cfg.PGPassword,
		Database: cfg.PGDatabase,
		SSLMode:  cfg.PGSSLMode,
		Timeout:  cfg.DBTimeout,
	})
	if err != nil {
		slog.Error("[Main] Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := openHotStore(cfg)
	if err != nil {
		slog.Error("[Main] Failed to connect to hot store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	hub := gateway.NewHub(m)
	manager := lobby.NewManager(store)
	distributor := lobby.NewDistributor(store, db, manager)
	decider := oracle.NewClient(oracle.Config{
		BaseURL: cfg.AIBaseURL,
		Timeout: cfg.AITimeout,
	})

	w := worker.New(worker.Config{
		InstanceID:       cfg.InstanceID,
		AgentID:          cfg.AIAgentID,
		PhaseParallelism: cfg.PhaseParallelism,
		LobbyCapacity:    cfg.LobbyCapacity,
		PurgeFlush:       cfg.PurgeStrategy == config.PurgeFlush,
		LeaseEnabled:     cfg.LeaseEnabled,
		LeaseTTL:         cfg.LeaseTTL,
		LeaseRefresh:     cfg.LeaseRefresh,
	}, worker.Deps{
		DB:      db,
		Store:   store,
		Lobbies: manager,
		Dist:    distributor,
		Oracle:  decider,
		Bus:     hub,
		Clock:   clockwork.NewRealClock(),
		Metrics: m,
	})

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(db, store)).Methods("GET")
	router.HandleFunc("/readyz", readyzHandler(w)).Methods("GET")
	router.HandleFunc("/status", statusHandler(w)).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/ws", hub.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("[Main] HTTP listening", "addr", cfg.HTTPAddr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("[Main] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("[Main] Exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("[Main] Stopped")
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openHotStore(cfg *config.Config) (hotstore.Store, error) {
	switch cfg.HotStoreDriver {
	case config.DriverMemory:
		// Lobby state and votes vanish with the process; only for local
		// development against a fake roster.
		slog.Warn("[Main] Using in-memory hot store, state will not survive restarts")
		return hotstore.NewMemoryStore(), nil
	default:
		return hotstore.NewRedisStore(cfg.RedisURL, cfg.HotStoreTimeout)
	}
}

func healthHandler(db *database.Store, store hotstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		pgStatus := "connected"
		if err := db.Ping(ctx); err != nil {
			pgStatus = "error"
		}
		hotStatus := "connected"
		if err := store.Ping(ctx); err != nil {
			hotStatus = "error"
		}

		status := "healthy"
		w.Header().Set("Content-Type", "application/json")
		if pgStatus != "connected" || hotStatus != "connected" {
			status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":   status,
			"service":  "gauntlet-worker",
			"postgres": pgStatus,
			"hotstore": hotStatus,
		})
	}
}

// readyzHandler reports whether the worker loop is running. Distinct from
// /healthz so orchestrators stop routing to an instance whose loop exited
// while its dependencies are still reachable.
func readyzHandler(w *worker.Worker) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if w.Status().State == worker.StateStopped {
			rw.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(rw).Encode(map[string]bool{"ready": false})
			return
		}
		json.NewEncoder(rw).Encode(map[string]bool{"ready": true})
	}
}

func statusHandler(w *worker.Worker) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(w.Status())
	}
}
