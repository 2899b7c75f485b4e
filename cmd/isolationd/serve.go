package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/events"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/health"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/isolation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/store"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/transport/websocket"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the isolation daemon",
		Example: `  isolationd serve --config isolationd.yaml
  ISOLATION_SESSION_SECRET=... ISOLATION_STORE_BACKEND=redis isolationd serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	return cmd
}

// daemon holds the wired components of a running server.
type daemon struct {
	cfg      *ServerConfig
	logger   *slog.Logger
	coord    *degradation.Coordinator
	registry *isolation.Registry
	router   *events.Router
	checker  *health.Checker
	store    store.Store
	recorder *store.Recorder
	promReg  *prometheus.Registry

	validator    *auth.SessionValidator
	availability *availability
	closers      []func()
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.recorder.Run(gctx) })
	g.Go(func() error {
		d.checker.Start()
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return d.checker.Stop(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("isolationd listening",
			"addr", cfg.Addr,
			"version", version,
			"store", cfg.Store.Backend,
			"services", len(d.coord.Services()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sserr.Wrap(err, sserr.CodeInternal, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newDaemon(ctx context.Context, cfg *ServerConfig, logger *slog.Logger) (*daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo, err := degradation.LoadTopology(cfg.Topology, envPrefix)
	if err != nil {
		return nil, err
	}
	coord, err := topo.Build(degradation.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	validator, err := auth.NewSessionValidator(cfg.SessionSecret, cfg.SessionIssuer)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		coord:     coord,
		promReg:   prometheus.NewRegistry(),
		validator: validator,
	}
	d.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(d.promReg)
	m.Attach(coord)

	d.router = events.NewRouter(events.WithLogger(logger), events.WithObserver(m))
	d.availability = newAvailability(coord, d.router, logger)
	d.registry = isolation.NewRegistry(
		isolation.WithLogger(logger),
		isolation.WithObserver(m),
		isolation.WithOnAgentCreate(d.availability.OnAgentCreate),
		isolation.WithOnContextCleanup(func(_ context.Context, ec *models.ExecutionContext) {
			d.router.CloseRun(ec.RunID)
		}),
	)
	d.availability.registry = d.registry
	coord.AddSink(d.availability.Sink())

	if err := d.openStore(ctx); err != nil {
		d.close()
		return nil, err
	}
	d.recorder = store.NewRecorder(d.store, store.WithRecorderLogger(logger))
	d.recorder.Attach(coord)

	if err := d.registerProbes(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) openStore(ctx context.Context) error {
	sc := d.cfg.Store
	switch sc.Backend {
	case backendRedis:
		client, err := redis.NewClient(ctx, sc.Redis)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.store = store.NewRedis(client, sc.MaxReports)
	case backendPostgres:
		client, err := postgres.NewClient(ctx, sc.Postgres)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Close)
		pg := store.NewPostgres(client)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		d.store = pg
	case backendMinIO:
		client, err := minio.NewClient(ctx, sc.MinIO)
		if err != nil {
			return err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return err
		}
		d.store = store.NewArchive(client)
	default:
		d.store = store.NewMemory(sc.MaxReports)
	}
	return nil
}

func (d *daemon) registerProbes() error {
	d.checker = health.NewChecker(d.coord,
		health.WithLogger(d.logger),
		health.WithFailureThreshold(d.cfg.ProbeFailureThreshold),
	)
	probes, err := parseProbes(d.cfg.Probes)
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, s := range d.coord.Services() {
		known[s] = true
	}
	client := &http.Client{Timeout: 10 * time.Second}
	for service, url := range probes {
		if !known[service] {
			return sserr.ServiceNotFound(service)
		}
		if err := d.checker.Register(service, d.cfg.ProbeSchedule, health.HTTPProbe(client, url)); err != nil {
			return err
		}
	}
	return nil
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.NewHandler(d.validator, d.registry, d.router, websocket.WithLogger(d.logger)))
	mux.Handle("/metrics", promhttp.HandlerFor(d.promReg, promhttp.HandlerOpts{}))
	d.contextRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"probes": d.checker.Results(),
		})
	})
	mux.HandleFunc("GET /risk", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.coord.CheckCascadeFailureRisk())
	})
	mux.HandleFunc("GET /capabilities", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.coord.Statuses())
	})
	mux.HandleFunc("GET /breakers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.coord.Breakers().Snapshots())
	})
	mux.HandleFunc("GET /reports", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, sserr.Validationf("limit must be an integer, got %q", v))
				return
			}
			limit = n
		}
		reports, err := d.store.RecentReports(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := sserr.AsError(err); ok {
		status = e.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
