package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmpoweredVote/instance-registry/internal/db"
	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/EmpoweredVote/instance-registry/internal/middleware"
	"github.com/EmpoweredVote/instance-registry/internal/registry"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "provision the schema before serving")
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close(conn)

	if migrateOnStart {
		if err := registry.Migrate(context.Background(), conn); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := registry.NewMetrics(reg)

	store := registry.NewGormStore(conn)
	verifier := registry.NewVerifier(cfg.VerifyTimeout, logger, metrics)
	outcomes := registry.NewOutcomes(cfg.OutcomeTTL)
	refresher := registry.NewRefresher(registry.RefreshConfig{
		Workers:   cfg.RefreshWorkers,
		QueueSize: cfg.RefreshQueueSize,
		Timeout:   cfg.RefreshTimeout,
	}, store, verifier, outcomes, metrics, logger)

	h := registry.NewHandler(registry.Deps{
		Store:        store,
		Prober:       verifier,
		Refresher:    refresher,
		Outcomes:     outcomes,
		Metrics:      metrics,
		DefaultPoint: registry.Point{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng},
		Logger:       logger,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logging.Component(logger, "http")))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", registry.SetupRoutes(h, middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	level.Info(logger).Log("msg", "server listening", "addr", srv.Addr)

	select {
	case sig := <-sigCh:
		level.Info(logger).Log("msg", "shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = refresher.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(logger, "http shutdown", err)
	}
	// In-flight refreshes finish before the pool closes the database.
	if err := refresher.Close(ctx); err != nil {
		logging.Error(logger, "refresher shutdown", err)
	}

	level.Info(logger).Log("msg", "server stopped")
	return nil
}
