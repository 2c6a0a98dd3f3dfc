package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/qrmedi/qrmedi/internal/config"
	"github.com/qrmedi/qrmedi/internal/domain/admin"
	"github.com/qrmedi/qrmedi/internal/domain/identity"
	"github.com/qrmedi/qrmedi/internal/domain/records"
	"github.com/qrmedi/qrmedi/internal/domain/scanlog"
	"github.com/qrmedi/qrmedi/internal/domain/scheduling"
	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/auth"
	"github.com/qrmedi/qrmedi/internal/platform/db"
	"github.com/qrmedi/qrmedi/internal/platform/metrics"
	"github.com/qrmedi/qrmedi/internal/platform/middleware"
	"github.com/qrmedi/qrmedi/internal/platform/qrcode"
	"github.com/qrmedi/qrmedi/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qrmedi-server",
		Short: "QR medical records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

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

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signingKey returns the configured key, or a random one for development.
// Tokens and QR codes signed with a random key die with the process.
func signingKey(cfg *config.Config) ([]byte, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	key = make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

type serverDeps struct {
	DB       db.Pinger
	Metrics  *metrics.Metrics
	Tokens   *auth.TokenIssuer
	Resolver auth.CallerResolver
	Handlers []routeRegistrar
}

// newServer builds the echo instance with the full middleware chain and the
// routes of every handler in deps.
func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "4K"))
	e.Use(middleware.Metrics(deps.Metrics))
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Tokens:   deps.Tokens,
		Resolver: deps.Resolver,
		Skipper:  auth.AuthSkipper,
		Optional: auth.OptionalAuth,
	}))
	e.Use(middleware.Audit(logger))

	e.GET("/health", db.HealthHandler(deps.DB))
	e.GET("/metrics", deps.Metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	for _, h := range deps.Handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	key, err := signingKey(cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(key, cfg.AuthIssuer, cfg.AuthTokenTTL)
	if err != nil {
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	if applied > 0 {
		logger.Info().Int("count", applied).Msg("applied migrations")
	}

	m := metrics.New()
	authz := access.NewAuthorizer(access.Policy{AdminClinicalEdit: cfg.AdminClinicalEdit})

	// -- Identity --
	identitySvc := identity.NewService(identity.NewUserRepo(pool), authz, logger)
	identitySvc.SetMetrics(m)

	// -- Records --
	recordsSvc := records.NewService(records.NewRecordRepo(pool), identitySvc, authz, logger)
	recordsSvc.SetMetrics(m)
	recordsSvc.SetClock(time.Now, loc)

	// -- Scheduling --
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepo(pool), identitySvc, authz, logger)
	schedulingSvc.SetMetrics(m)
	schedulingSvc.SetClock(time.Now, loc)

	// -- Scan log and QR codes --
	scanSvc := scanlog.NewService(scanlog.NewScanLogRepo(pool), recordsSvc, identitySvc, qrcode.NewCodec(key), authz, logger)
	scanSvc.SetMetrics(m)
	scanSvc.SetClock(time.Now, loc)
	scanSvc.SetDailyQuota(cfg.QRMaxScansPerDay)
	scanSvc.SetPayloadTTL(cfg.QRPayloadTTL)

	// -- Admin dashboard --
	adminSvc := admin.NewService(identitySvc, recordsSvc, schedulingSvc, scanSvc, authz, logger)

	e := newServer(cfg, logger, serverDeps{
		DB:       pool,
		Metrics:  m,
		Tokens:   tokens,
		Resolver: identitySvc,
		Handlers: []routeRegistrar{
			identity.NewHandler(identitySvc, tokens),
			records.NewHandler(recordsSvc),
			scheduling.NewHandler(schedulingSvc),
			scanlog.NewHandler(scanSvc),
			admin.NewHandler(adminSvc),
		},
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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

// migrationFiles returns dir as a filesystem, or the embedded schema when
// dir is empty.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Path to a migrations directory (defaults to the embedded schema)")

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// adminCmd bootstraps administrator accounts. Admins cannot self-register,
// so the first one has to come from here.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			generated := false
			if password == "" {
				var err error
				if password, err = identity.GenerateRandomPassword(20); err != nil {
					return err
				}
				generated = true
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

			authz := access.NewAuthorizer(access.Policy{AdminClinicalEdit: cfg.AdminClinicalEdit})
			svc := identity.NewService(identity.NewUserRepo(pool), authz, newLogger(cfg.Env))
			u, err := svc.CreateAdmin(ctx, name, email, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created admin %s (%s)\n", u.Email, u.ID)
			if generated {
				fmt.Fprintf(out, "Generated password: %s\n", password)
			}
			return nil
		},
	}
	createCmd.Flags().String("name", "Administrator", "Display name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Password (generated when empty)")
	_ = createCmd.MarkFlagRequired("email")
	cmd.AddCommand(createCmd)

	return cmd
}
