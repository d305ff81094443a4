package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/encounter"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/blobstore"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/reporting"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/migrations"
)

const jsonBodyLimit = 1 << 20

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clinic-server",
		Short: "Dermatology clinic API server",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(clinicCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		TimeZone: cfg.ClinicTimezone,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run clinic schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema, err := schemaFlag(cmd, cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema, err := schemaFlag(cmd, cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			printMigrations(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemaFlag(cmd *cobra.Command, cfg *config.Config) (string, error) {
	clinic, _ := cmd.Flags().GetString("clinic")
	if clinic == "" {
		clinic = cfg.DefaultClinic
	}
	if !db.ValidClinicID(clinic) {
		return "", fmt.Errorf("invalid clinic identifier %q", clinic)
	}
	return db.SchemaName(clinic), nil
}

func printMigrations(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinic schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.CreateClinicSchema(ctx, pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created schema %s (%d migration(s) applied).\n", db.SchemaName(name), n)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (lowercase letters, digits, underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect report periods",
	}

	bucketsCmd := &cobra.Command{
		Use:   "buckets",
		Short: "Print the bucket dates of a report series",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, _ := cmd.Flags().GetString("period")
			anchorRaw, _ := cmd.Flags().GetString("anchor")
			compare, _ := cmd.Flags().GetBool("compare")

			pt, err := reporting.ParsePeriodType(period)
			if err != nil {
				return err
			}
			anchor, err := reportAnchor(anchorRaw, time.Now)
			if err != nil {
				return err
			}

			current, previous, err := reporting.Compare(pt, anchor)
			if err != nil {
				return err
			}
			if !compare {
				previous = nil
			}
			printBuckets(cmd.OutOrStdout(), language.English, current, previous)
			return nil
		},
	}
	bucketsCmd.Flags().String("period", "day", "Period type: day, week, month or year")
	bucketsCmd.Flags().String("anchor", "", "Last bucket date, YYYY-MM-DD (defaults to today in CLINIC_TIMEZONE)")
	bucketsCmd.Flags().Bool("compare", false, "Also print the previous equivalent period")

	cmd.AddCommand(bucketsCmd)
	return cmd
}

// reportAnchor parses raw, or takes today in CLINIC_TIMEZONE like the
// reports API does.
func reportAnchor(raw string, now func() time.Time) (time.Time, error) {
	if raw != "" {
		return reporting.ParseISODate(raw)
	}
	loc, err := config.ClinicLocation()
	if err != nil {
		return time.Time{}, err
	}
	return reporting.CivilDate(now().In(loc)), nil
}

func printBuckets(w io.Writer, tag language.Tag, current, previous []reporting.Bucket) {
	p := message.NewPrinter(tag)
	p.Fprintf(w, "%-4s %-12s %-16s", "#", "DATE", "LABEL")
	if previous != nil {
		p.Fprintf(w, " %-12s %s", "PREVIOUS", "LABEL")
	}
	p.Fprintln(w)
	for i, b := range current {
		p.Fprintf(w, "%-4d %-12s %-16s", i+1, b.ISO, b.Label)
		if previous != nil {
			p.Fprintf(w, " %-12s %s", previous[i].ISO, previous[i].Label)
		}
		p.Fprintln(w)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 access token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			rawRoles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			clinic, _ := cmd.Flags().GetString("clinic")

			roles, err := parseRoles(rawRoles)
			if err != nil {
				return err
			}
			if sub == "" {
				return fmt.Errorf("--sub is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			tok, err := auth.IssueToken([]byte(cfg.AuthSigningKey), sub, clinic, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "Token subject (staff user id)")
	cmd.Flags().String("roles", auth.RoleDoctor, "Comma-separated roles")
	cmd.Flags().String("clinic", "", "Clinic identifier claim")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

var knownRoles = map[string]bool{
	auth.RoleAdmin:        true,
	auth.RoleDoctor:       true,
	auth.RoleReceptionist: true,
	auth.RoleCashier:      true,
}

// parseRoles splits a comma-separated role list and rejects unknown roles.
func parseRoles(s string) ([]string, error) {
	var roles []string
	for _, part := range strings.Split(s, ",") {
		r := strings.ToLower(strings.TrimSpace(part))
		if r == "" {
			continue
		}
		if !knownRoles[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	return roles, nil
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// authMiddleware picks token verification from the configured auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	switch cfg.AuthMode() {
	case "development":
		return auth.DevAuthMiddleware(nil)
	case "hmac", "jwks":
		if cfg.IsDev() {
			return auth.DevAuthMiddleware(auth.JWTMiddleware(jwtCfg))
		}
	}
	return auth.JWTMiddleware(jwtCfg)
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	cfg.LogWarnings(logger)

	loc, _ := cfg.Location()
	locale, _ := cfg.Locale()

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("timezone", cfg.ClinicTimezone).Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierr.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, func(err error) int {
		code, _ := apierr.Translate(err)
		return code
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.ImageMaxBytes+jsonBodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	authMW := authMiddleware(cfg)

	limits := middleware.DefaultRateLimitConfig()
	limits.RequestsPerSecond = cfg.RateLimitRPS
	limits.BurstSize = cfg.RateLimitBurst

	// the socket outlives any request, so it resolves the clinic without
	// pinning a pooled connection
	live := e.Group("/api/v1", authMW, db.ClinicScope(cfg.DefaultClinic))
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(limits), db.ClinicMiddleware(pool, cfg.DefaultClinic))

	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(live)

	var images blobstore.Store
	if cfg.ImageStoreDir != "" {
		dir, err := blobstore.NewDirStore(cfg.ImageStoreDir, cfg.ImageMaxBytes)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open image store")
		}
		images = dir
	} else {
		images = blobstore.NewMemoryStore(cfg.ImageMaxBytes)
	}

	tx := db.NewTxRunner(pool)

	serviceSvc := catalog.NewService(catalog.NewRepo(pool, catalog.KindService), catalog.KindService)
	medicationSvc := catalog.NewService(catalog.NewRepo(pool, catalog.KindMedication), catalog.KindMedication)
	catalog.NewHandler(serviceSvc, "/services").RegisterRoutes(apiV1)
	catalog.NewHandler(medicationSvc, "/medications").RegisterRoutes(apiV1)

	apptRepo := scheduling.NewRepo(pool)
	apptSvc := scheduling.NewService(apptRepo, tx)
	apptSvc.SetPublisher(hub)
	apptSvc.SetLogger(logger)
	scheduling.NewHandler(apptSvc).RegisterRoutes(apiV1)

	recordSvc := encounter.NewService(encounter.NewRepo(pool), apptRepo, tx, serviceSvc, medicationSvc)
	recordSvc.SetImageStore(images)
	recordSvc.SetPublisher(hub)
	recordSvc.SetLogger(logger)
	encounter.NewHandler(recordSvc).RegisterRoutes(apiV1)

	invoiceSvc := billing.NewService(billing.NewRepo(pool), recordSvc, tx)
	invoiceSvc.SetFormatter(billing.NewFormatter(locale, "₫"))
	invoiceSvc.SetPublisher(hub)
	invoiceSvc.SetLogger(logger)
	billing.NewHandler(invoiceSvc).RegisterRoutes(apiV1)

	reporting.NewHandler(reporting.NewService(reporting.NewPGSource(pool)), loc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth", cfg.AuthMode()).Msg("starting server")
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
