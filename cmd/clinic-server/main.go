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

	"github.com/clinicbook/clinic/internal/config"
	"github.com/clinicbook/clinic/internal/domain/account"
	"github.com/clinicbook/clinic/internal/domain/availability"
	"github.com/clinicbook/clinic/internal/domain/booking"
	"github.com/clinicbook/clinic/internal/domain/catalog"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/db"
	"github.com/clinicbook/clinic/internal/platform/envelope"
	"github.com/clinicbook/clinic/internal/platform/keylock"
	"github.com/clinicbook/clinic/internal/platform/metrics"
	"github.com/clinicbook/clinic/internal/platform/middleware"
	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(doctorCmd())

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

// loadStoreConfig is used by maintenance commands, which only need a store.
func loadStoreConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stores holds the repositories for the configured driver.
type stores struct {
	accounts account.Repository
	catalog  catalog.Repository
	slots    availability.Repository
	bookings booking.Repository
	tx       availability.TxRunner
	probe    db.Probe
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.Info().Str("database", cfg.MongoDB).Msg("connected to mongo")
		return &stores{
			accounts: account.NewRepoMongo(store),
			catalog:  catalog.NewRepoMongo(store),
			slots:    availability.NewRepoMongo(store),
			bookings: booking.NewRepoMongo(store),
			tx:       mongostore.Passthrough{},
			probe:    store.Probe(),
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = store.Close(ctx)
			},
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return &stores{
			accounts: account.NewRepoPG(pool),
			catalog:  catalog.NewRepoPG(pool),
			slots:    availability.NewRepoPG(pool),
			bookings: booking.NewRepoPG(pool),
			tx:       db.NewTxRunner(pool),
			probe:    db.PoolProbe(pool),
			close:    pool.Close,
		}, nil
	}
}

// app is the wired service graph shared by the server and the maintenance
// commands.
type app struct {
	accounts *account.Service
	catalog  *catalog.Catalog
	slots    *availability.Service
	bookings *booking.Service
	tokens   *auth.TokenIssuer
	metrics  *metrics.Metrics
}

func policyFrom(cfg *config.Config) (booking.StatusPolicy, error) {
	return booking.NewStatusPolicy(cfg.BookingExplicitStatus, cfg.BookingAutoStatus)
}

func buildApp(cfg *config.Config, st *stores, m *metrics.Metrics, logger zerolog.Logger) (*app, error) {
	policy, err := policyFrom(cfg)
	if err != nil {
		return nil, err
	}

	key, fallback := cfg.SigningKey()
	if fallback {
		logger.Warn().Msg("JWT_SECRET not set, using the development signing key")
	}
	tokens := auth.NewTokenIssuer(auth.TokenConfig{SigningKey: key, Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL})
	locks := keylock.New()

	cat := catalog.NewCatalog(st.catalog, logger)
	accounts := account.NewService(st.accounts, cat, auth.NewPasswordHasher(cfg.BcryptCost), tokens, locks, cfg.AdminKey, logger)
	slots := availability.NewService(st.slots, accounts, cat, st.tx, locks, m, logger)
	bookings := booking.NewService(st.bookings, slots, accounts, cat, policy, m, logger)

	accounts.SetSlotCleaner(slots)
	slots.SetBookedWindows(bookings)

	return &app{
		accounts: accounts,
		catalog:  cat,
		slots:    slots,
		bookings: bookings,
		tokens:   tokens,
		metrics:  m,
	}, nil
}

func newServer(cfg *config.Config, a *app, probe db.Probe, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = envelope.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(a.metrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/store", db.HealthHandler(probe))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	api.Use(auth.OptionalJWT(a.tokens))

	account.NewHandler(a.accounts).RegisterRoutes(api)
	api.POST("/auth/logout", auth.Logout(a.tokens), auth.RequireAuth())
	catalog.NewHandler(a.catalog).RegisterRoutes(api)
	availability.NewHandler(a.slots).RegisterRoutes(api)
	booking.NewHandler(a.bookings).RegisterRoutes(api)

	return e
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

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()

	a, err := buildApp(cfg, st, metrics.New(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	e := newServer(cfg, a, st.probe, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.StoreDriver).Msg("starting server")
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres driver)",
	}

	openMigrator := func(ctx context.Context, dir string) (*db.Migrator, func(), error) {
		cfg, err := loadStoreConfig()
		if err != nil {
			return nil, nil, err
		}
		if cfg.StoreDriver != config.DriverPostgres {
			return nil, nil, fmt.Errorf("migrations apply to the %q driver only, STORE_DRIVER is %q", config.DriverPostgres, cfg.StoreDriver)
		}
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, os.DirFS(dir)), pool.Close, nil
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			migrator, closeFn, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			migrator, closeFn, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
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

// withApp opens the configured store, wires the services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	a, err := buildApp(cfg, st, nil, logger)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Maintain doctor availability",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune-orphans",
		Short: "Delete slots whose doctor no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.slots.PruneOrphans(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d orphaned slot(s).\n", n)
				return nil
			})
		},
	})

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default weekday slots for every doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			fromRaw, _ := cmd.Flags().GetString("from")
			from, err := seedStart(fromRaw, time.Now())
			if err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.slots.Seed(ctx, from, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d doctor(s) over %d day(s): %d created, %d skipped.\n",
					rep.Doctors, rep.Days, rep.Created, rep.Skipped)
				return nil
			})
		},
	}
	seedCmd.Flags().Int("days", 14, "Number of calendar days to cover")
	seedCmd.Flags().String("from", "", "First day, YYYY-MM-DD (default today)")
	cmd.AddCommand(seedCmd)

	return cmd
}

// seedStart parses --from, defaulting to today's date.
func seedStart(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := matching.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--from: %w", err)
	}
	return t, nil
}

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Manage doctor accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a doctor account",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := account.Profile{}
			p.Email, _ = cmd.Flags().GetString("email")
			p.Password, _ = cmd.Flags().GetString("password")
			p.Name, _ = cmd.Flags().GetString("name")
			p.Phone, _ = cmd.Flags().GetString("phone")
			p.Specialization, _ = cmd.Flags().GetString("specialization")
			services, _ := cmd.Flags().GetStringSlice("service")
			for _, s := range services {
				p.Services = append(p.Services, matching.ParseServiceRef(s))
			}
			if p.Email == "" || p.Password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				d, err := a.accounts.CreateDoctor(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created doctor %s (%s).\n", d.ID, d.Email)
				return nil
			})
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("phone", "", "Phone number")
	createCmd.Flags().String("specialization", "", "Specialization")
	createCmd.Flags().StringSlice("service", nil, "Offered service id or title (repeatable)")
	cmd.AddCommand(createCmd)

	return cmd
}
