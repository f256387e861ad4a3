package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/drhazemibclc/pediatric-clinic/internal/config"
	"github.com/drhazemibclc/pediatric-clinic/internal/domain/growth"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/auth"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/db"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/events"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/metrics"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/middleware"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/openapi"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Pediatric clinic growth API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(zscoreCmd())
	rootCmd.AddCommand(referenceCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the growth API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// loadDataset returns the bundled reference unless path names a JSON file.
func loadDataset(path string) (*lms.Dataset, error) {
	if path == "" {
		return lms.BundledDataset()
	}
	return lms.LoadDatasetFile(path)
}

// serverDeps are the collaborators newServer wires into routes.
type serverDeps struct {
	records   growth.GrowthRecordRepository
	patients  growth.PatientRepository
	tx        db.TxBeginner
	dbHealth  echo.HandlerFunc
	engine    *lms.Engine
	metrics   *metrics.Metrics
	publisher events.Publisher
	hub       *websocket.Hub
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(deps.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health and metrics stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if deps.dbHealth != nil {
		e.GET("/health/db", deps.dbHealth)
	}
	e.GET("/metrics", echo.WrapHandler(deps.metrics.Handler()))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	for _, g := range []*echo.Group{apiV1, fhirGroup} {
		g.Use(authMW)
		g.Use(middleware.RateLimit(rateLimitCfg))
	}

	opts := []growth.Option{growth.WithPublisher(deps.publisher, deps.metrics.EventPublishFailed)}
	if deps.tx != nil {
		opts = append(opts, growth.WithTransactions(deps.tx))
	}
	growthSvc := growth.NewService(deps.records, deps.patients, deps.engine, logger, opts...)
	growth.NewHandler(growthSvc).RegisterRoutes(apiV1, fhirGroup)
	if deps.hub != nil {
		stream := apiV1.Group("", auth.RequireRole(auth.ReadRoles...))
		websocket.NewHandler(deps.hub, cfg.CORSOrigins).RegisterRoutes(stream)
	}

	docs := openapi.NewGenerator("Pediatric Growth API", version, cfg.BaseURL)
	growth.DescribeAPI(docs, "/api/v1", "/fhir")
	docs.Document(http.MethodGet, "/api/v1/growth/stream", openapi.Operation{
		Summary: "Stream growth record events over WebSocket",
		Tag:     "Growth",
		Query:   []openapi.Param{{Name: "patient", Description: "comma separated patient ids to subscribe to"}},
	})
	docs.RegisterRoutes(e)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Reference data
	dataset, err := loadDataset(cfg.GrowthReferencePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load growth reference")
	}
	logger.Info().Int("tables", len(dataset.Charts())).Str("path", cfg.GrowthReferencePath).Msg("growth reference loaded")

	m := metrics.New()
	engine := lms.NewEngine(dataset, logger, m)

	// Events go to the broker, when configured, and to stream subscribers.
	var broker events.Publisher = events.NopPublisher{}
	if cfg.KafkaEnabled() {
		broker = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaGrowthTopic, logger)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaGrowthTopic).Msg("publishing growth events to kafka")
	}
	hub := websocket.NewHub(logger, m.StreamFrameDropped)
	m.TrackStreamClients(hub.ClientCount)
	// The hub never blocks, so stream subscribers see the event before a
	// slow broker write finishes.
	publisher := events.Fanout{hub, broker}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	e := newServer(cfg, logger, serverDeps{
		records:   growth.NewGrowthRecordRepoPG(pool),
		patients:  growth.NewPatientRepoPG(pool),
		tx:        pool,
		dbHealth:  db.PoolHealthHandler(pool),
		engine:    engine,
		metrics:   m,
		publisher: publisher,
		hub:       hub,
	})

	// Graceful shutdown
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
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
