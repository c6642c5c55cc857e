package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinimetrix/clinimetrix/internal/clinimetrix"
	"github.com/clinimetrix/clinimetrix/internal/config"
	"github.com/clinimetrix/clinimetrix/internal/domain/assessment"
	"github.com/clinimetrix/clinimetrix/internal/domain/catalog"
	"github.com/clinimetrix/clinimetrix/internal/platform/db"
	"github.com/clinimetrix/clinimetrix/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinimetrix-server",
		Short: "Clinical scale scoring and interpretation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(scaleCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Drifted {
						status = "drifted"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("migrations")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("migrations", "./migrations", "Path to migrations directory (empty to skip)")

	cmd.AddCommand(createCmd)
	return cmd
}

func scaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Manage scale definitions",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a scale template document without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			tmpl, err := clinimetrix.LoadTemplate(raw)
			if err != nil {
				return fmt.Errorf("template validation failed: %w", err)
			}

			fmt.Printf("Valid: %s v%s (%d items, hash %s)\n",
				tmpl.ID, tmpl.Version, len(tmpl.Items), tmpl.ContentHash)
			return nil
		},
	}
	cmd.AddCommand(validateCmd)

	publishCmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Validate and publish a scale template document",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tctx, release, err := db.WithTenantConn(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			svc := catalog.NewService(catalog.NewScaleDefinitionRepoPG(pool))
			def, err := svc.Publish(tctx, raw)
			if err != nil {
				return fmt.Errorf("publish failed: %w", err)
			}

			fmt.Printf("Published %s v%s (id %s, hash %s)\n",
				def.ScaleID, def.Version, def.ID, def.ContentHash)
			return nil
		},
	}
	publishCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	publishCmd.Args = cobra.ExactArgs(1)
	cmd.AddCommand(publishCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.ScaleDocumentLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Client-ID"},
	}))

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Per-tenant rate plans with an admin surface for adjusting them
	tenantLimiter := middleware.NewTenantRateLimiter()
	apiV1.Use(middleware.TenantRateLimit(tenantLimiter))
	go tenantLimiter.StartPruning(ctx, time.Hour)

	adminGroup := e.Group("/admin")
	middleware.NewRateLimitHandler(tenantLimiter).RegisterRoutes(adminGroup)

	// Conditional caching on catalog reads: scale definitions are immutable
	// once published, so ETag revalidation saves re-sending large documents.
	defCache := middleware.NewMemoryResponseCache()
	go defCache.StartCleanup(ctx, 10*time.Minute)
	cacheCfg := middleware.DefaultDefinitionCacheConfig()
	cacheCfg.Store = defCache
	apiV1.Use(middleware.DefinitionCache(cacheCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Scoring engine (shared, stateless)
	engine := clinimetrix.NewEngine(clinimetrix.EngineOptions{
		Algorithms:          clinimetrix.NewAlgorithmRegistry(),
		ResponseTimeFloorMs: cfg.ResponseTimeFloorMs,
	})

	// Scale catalog
	catalogSvc := catalog.NewService(catalog.NewScaleDefinitionRepoPG(pool))
	catalog.NewHandler(catalogSvc, defCache).RegisterRoutes(apiV1)

	// Assessment workflow
	assessmentSvc := assessment.NewService(
		assessment.NewAssessmentRepoPG(pool),
		assessment.NewResultRepoPG(pool),
		assessment.NewAlertRepoPG(pool),
		catalogSvc,
		engine,
		cfg.AssessmentTTL,
	)
	assessment.NewHandler(assessmentSvc).RegisterRoutes(apiV1)

	// Background expiry sweep for abandoned assessments
	if cfg.AssessmentTTL > 0 {
		go runExpirySweep(ctx, pool, assessmentSvc, cfg, logger)
	}

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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// expirySweepBatchSize bounds how many stale assessments a single sweep
// iteration transitions.
const expirySweepBatchSize = 100

// runExpirySweep periodically expires assessments whose TTL has elapsed. It
// runs against the default tenant schema; additional tenants are swept on
// their own deployments.
func runExpirySweep(ctx context.Context, pool *pgxpool.Pool, svc *assessment.Service, cfg *config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tctx, release, err := db.WithTenantConn(ctx, pool, cfg.DefaultTenant)
			if err != nil {
				logger.Error().Err(err).Msg("expiry sweep: tenant connection failed")
				continue
			}
			n, err := svc.ExpireStale(tctx, time.Now(), expirySweepBatchSize)
			release()
			if err != nil {
				logger.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("expired stale assessments")
			}
		}
	}
}
