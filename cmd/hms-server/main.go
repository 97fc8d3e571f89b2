package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/activity"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/finance"
	"github.com/hms/hms/internal/domain/laboratory"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/email"
	"github.com/hms/hms/internal/platform/middleware"
	hmsredis "github.com/hms/hms/internal/platform/redis"
	"github.com/hms/hms/internal/platform/reporting"
	"github.com/hms/hms/internal/platform/websocket"
	"github.com/hms/hms/pkg/retry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads the configuration and opens the database pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed reference data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "roles",
		Short: "Insert the standard roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := accounts.NewService(accounts.Deps{Users: accounts.NewUserRepoPG(pool), Tx: db.NewTransactor(pool)})
			n, err := svc.SeedRoles(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Added %d role(s).\n", n)
			return nil
		},
	})
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an active administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			emailAddr, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			if emailAddr == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := accounts.NewService(accounts.Deps{Users: accounts.NewUserRepoPG(pool), Tx: db.NewTransactor(pool)})
			u, err := svc.CreateAdmin(ctx, emailAddr, first, last, password)
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s).\n", u.Email, u.ID)
			return nil
		},
	}
	createAdmin.Flags().String("email", "", "Admin email address")
	createAdmin.Flags().String("password", "", "Admin password")
	createAdmin.Flags().String("first-name", "", "First name")
	createAdmin.Flags().String("last-name", "", "Last name")
	cmd.AddCommand(createAdmin)

	return cmd
}

// resolveSigningKey returns the JWT signing key. Without JWT_SECRET a random
// 32-byte key is generated, which invalidates tokens on every restart; the
// second return value reports that case.
func resolveSigningKey(secret string) ([]byte, bool, error) {
	if secret != "" {
		return []byte(secret), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return []byte(hex.EncodeToString(key)), true, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fallback := newLogger(nil)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	signingKey, generated, err := resolveSigningKey(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set, using a random key; tokens will not survive a restart")
	}
	tokens := auth.NewTokenIssuer(signingKey, cfg.TokenTTL)

	// Realtime push: a local hub, fanned out through Redis when configured.
	hub := websocket.NewHub()
	var broker websocket.Broker = hub
	var healthDeps []db.Dependency
	if cfg.RedisURL != "" {
		rc, err := hmsredis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		rb := websocket.NewRedisBroker(rc, hub, logger)
		go func() {
			if err := rb.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("redis push subscriber stopped")
			}
		}()
		broker = rb
		healthDeps = append(healthDeps, db.Dependency{Name: "redis", Ping: rc.Ping})
		logger.Info().Msg("connected to redis")
	}
	registry := websocket.NewPGRegistry(pool)
	pusher := websocket.NewPusher(registry, broker, logger)

	// Email
	var sender email.Sender = email.LogSender{Logger: logger}
	if cfg.SMTPEnabled() {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	mailer := email.NewMailer(sender, email.NewTemplateEngine(), logger, retry.DefaultConfig())

	tx := db.NewTransactor(pool)

	activitySvc := activity.NewService(activity.NewRepoPG(pool), logger)
	notificationSvc := notification.NewService(notification.NewRepoPG(pool), tx, pusher)

	accountsSvc := accounts.NewService(accounts.Deps{
		Users:       accounts.NewUserRepoPG(pool),
		Departments: accounts.NewDepartmentRepoPG(pool),
		Sessions:    accounts.NewSessionRepoPG(pool),
		Codes:       accounts.NewCodeRepoPG(pool),
		Tx:          tx,
		Tokens:      tokens,
		Mailer:      mailer,
		Tracker:     activitySvc,
		CodeTTL:     cfg.VerificationCodeTTL,
		Logger:      logger,
	})

	appointmentSvc := appointment.NewService(appointment.Deps{
		Repo:      appointment.NewRepoPG(pool),
		Vitals:    appointment.NewVitalRepoPG(pool),
		Tx:        tx,
		Directory: accountsSvc,
		Notifier:  notificationSvc,
		Pusher:    pusher,
		Tracker:   activitySvc,
		Logger:    logger,
	})

	wardSvc := ward.NewService(ward.NewRepoPG(pool), tx, accountsSvc, activitySvc)
	financeSvc := finance.NewService(finance.NewRepoPG(pool), activitySvc)

	pharmacySvc := pharmacy.NewService(pharmacy.Deps{
		Drugs:        pharmacy.NewDrugRepoPG(pool),
		Records:      pharmacy.NewRecordRepoPG(pool),
		Referrals:    pharmacy.NewReferralRepoPG(pool),
		Tx:           tx,
		Appointments: appointmentSvc,
		Directory:    accountsSvc,
		Notifier:     notificationSvc,
		Ledger:       financeSvc,
		Tracker:      activitySvc,
		Logger:       logger,
	})

	labSvc := laboratory.NewService(laboratory.NewRepoPG(pool), tx, appointmentSvc, accountsSvc, notificationSvc, activitySvc)
	reportingSvc := reporting.NewService(reporting.NewUserCounterPG(pool), wardSvc, activitySvc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Tokens:   tokens,
		Sessions: accountsSvc,
		Skipper:  auth.AuthSkipper,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthDeps...))

	accountsGroup := e.Group("/accounts")
	hm := e.Group("/healthManagement")
	accountant := e.Group("/accountant")

	accounts.NewHandler(accountsSvc).RegisterRoutes(accountsGroup, hm, accountant)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(hm, accountant)
	notification.NewHandler(notificationSvc).RegisterRoutes(hm)
	ward.NewHandler(wardSvc).RegisterRoutes(hm, accountant)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(hm, accountant)
	laboratory.NewHandler(labSvc).RegisterRoutes(hm)
	finance.NewHandler(financeSvc).RegisterRoutes(accountant)
	activity.NewHandler(activitySvc).RegisterRoutes(accountant)
	reporting.NewHandler(reportingSvc).RegisterRoutes(accountant)

	queries := &socketQueries{users: accountsSvc, appointments: appointmentSvc, notifications: notificationSvc}
	websocket.NewHandler(hub, registry, queries, logger, cfg.CORSOrigins).RegisterRoutes(e)

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
	}
	stop()
	mailer.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
