package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxlearn/rxlearn/internal/config"
	"github.com/rxlearn/rxlearn/internal/domain/drug"
	"github.com/rxlearn/rxlearn/internal/domain/drugbatch"
	"github.com/rxlearn/rxlearn/internal/domain/drugrequest"
	"github.com/rxlearn/rxlearn/internal/platform/archive"
	"github.com/rxlearn/rxlearn/internal/platform/auth"
	"github.com/rxlearn/rxlearn/internal/platform/cache"
	"github.com/rxlearn/rxlearn/internal/platform/db"
	"github.com/rxlearn/rxlearn/internal/platform/enrichment"
	"github.com/rxlearn/rxlearn/internal/platform/metrics"
	"github.com/rxlearn/rxlearn/internal/platform/middleware"
	"github.com/rxlearn/rxlearn/internal/platform/reporting"
	"github.com/rxlearn/rxlearn/migrations"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rxlearn-server",
		Short: "Drug library and enrichment batch server for pharmacology courses",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), batchCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds everything built from one Config. serve and "batch process"
// share it so a batch run from the CLI behaves exactly like one started over
// HTTP.
type app struct {
	pool      *pgxpool.Pool
	views     cache.ViewCache
	closers   []func()
	drugs     *drug.Service
	requests  *drugrequest.Service
	batches   *drugbatch.Service
	batchRepo drugbatch.Repository
	monitor   *drugbatch.StaleMonitor
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{pool: pool, closers: []func(){pool.Close}}

	a.views, err = newViewCache(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rc, ok := a.views.(*cache.RedisCache); ok {
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}

	store, err := newArchiveStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	enricher, err := newEnricher(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	txm := db.NewTxManager(pool)
	requestRepo := drugrequest.NewRepoPG(pool)
	a.batchRepo = drugbatch.NewRepoPG(pool)
	a.drugs = drug.NewService(drug.NewDrugRepoPG(pool), drug.NewManufacturerRepoPG(pool), drug.NewDrugClassRepoPG(pool))
	a.requests = drugrequest.NewService(requestRepo, a.views, logger.With().Str("component", "drugrequest").Logger())

	batchLogger := logger.With().Str("component", "drugbatch").Logger()
	recorder := metrics.BatchRecorder{}
	agg := drugbatch.NewAggregator(a.batchRepo, requestRepo, txm, a.views, batchLogger)
	proc := drugbatch.NewProcessor(drugbatch.ProcessorConfig{
		Batches:  a.batchRepo,
		Requests: requestRepo,
		Library:  a.drugs,
		Enricher: enricher,
		Tx:       txm,
		Archive:  store,
		Views:    a.views,
		Metrics:  recorder,
		Logger:   batchLogger,
		Timeout:  cfg.EnrichmentTimeout,
	})
	a.batches = drugbatch.NewService(a.batchRepo, requestRepo, agg, proc, a.views, store, batchLogger)
	a.monitor = drugbatch.NewStaleMonitor(a.batchRepo, cfg.StaleBatchAfter, cfg.StaleCheckInterval, recorder, batchLogger)
	return a, nil
}

func newViewCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.ViewCache, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, admin views are not cached")
		return cache.Nop{}, nil
	}
	rc, err := cache.NewRedis(ctx, cfg.RedisURL, cache.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("admin view cache enabled")
	return rc, nil
}

func newArchiveStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (archive.Store, error) {
	if cfg.ArchiveEndpoint == "" {
		logger.Info().Msg("ARCHIVE_ENDPOINT not set, enrichment payloads are archived in memory")
		return archive.NewMemoryStore(), nil
	}
	store, err := archive.NewMinIOStore(ctx, cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, cfg.ArchiveUseSSL)
	if err != nil {
		return nil, fmt.Errorf("connect to archive store: %w", err)
	}
	return store, nil
}

// newEnricher picks the enrichment backend named by ENRICHMENT_PROVIDER. A
// development config without a Gemini key falls back to openFDA.
func newEnricher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (enrichment.Client, error) {
	switch providerFor(cfg) {
	case "gemini":
		client, err := enrichment.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		logger.Info().Str("provider", client.Name()).Msg("enrichment client ready")
		return client, nil
	default:
		if cfg.EnrichmentProvider == "gemini" {
			logger.Warn().Msg("GEMINI_API_KEY not set, falling back to openFDA enrichment")
		}
		client := enrichment.NewOpenFDAClient(cfg.OpenFDABaseURL, cfg.OpenFDAAPIKey, cfg.EnrichmentTimeout)
		logger.Info().Str("provider", client.Name()).Str("base_url", cfg.OpenFDABaseURL).Msg("enrichment client ready")
		return client, nil
	}
}

func providerFor(cfg *config.Config) string {
	if cfg.EnrichmentProvider == "gemini" && cfg.GeminiAPIKey == "" && cfg.IsDev() {
		return "openfda"
	}
	return cfg.EnrichmentProvider
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID(logger))
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1MB"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.RequestIDHeader},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	verify := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	e := newEcho(cfg, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))
	e.GET("/metrics", metrics.Handler())

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   30 * time.Minute,
	})
	stopLimiter := make(chan struct{})
	go limiter.Run(stopLimiter)
	defer close(stopLimiter)

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		limiter.Middleware(),
		middleware.RequestTimeout(30*time.Second, "/process"),
	)

	drug.NewHandler(a.drugs).RegisterRoutes(apiV1)
	drugrequest.NewHandler(a.requests).RegisterRoutes(apiV1)
	drugbatch.NewHandler(a.batches).RegisterRoutes(apiV1)
	reporting.NewHandler(a.pool).RegisterRoutes(apiV1)

	if err := a.monitor.Start(); err != nil {
		logger.Warn().Err(err).Msg("stale batch monitor not started")
	} else {
		defer a.monitor.Stop()
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	var dir, schema string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")
	cmd.PersistentFlags().StringVar(&schema, "schema", "public", "schema to migrate")

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 1)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrationSource(dir), schema))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", n, schema)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range statuses {
					state := "pending"
					if s.Applied && s.AppliedAt != nil {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%03d  %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Drug batch maintenance commands",
	}

	withApp := func(fn func(ctx context.Context, a *app) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := buildApp(ctx, cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a)
	}

	processCmd := &cobra.Command{
		Use:   "process <batch-id>",
		Short: "Enrich a batch and reconcile it into the drug library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app) error {
				res := a.batches.Process(ctx, id)
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				if !res.Success {
					return fmt.Errorf("batch %s not processed", id)
				}
				return nil
			})
		},
	}

	staleCmd := &cobra.Command{
		Use:   "stale",
		Short: "Report batches stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.monitor.Check(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d stale batch(es)\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(processCmd, staleCmd)
	return cmd
}
