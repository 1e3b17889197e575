// Command pehchan runs the authentication broker and session gateway
// of the citizen portal.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pehchan-id/pehchan/internal/authz"
	"github.com/pehchan-id/pehchan/internal/cache"
	"github.com/pehchan-id/pehchan/internal/config"
	"github.com/pehchan-id/pehchan/internal/httpx/controllers/authn"
	mfactrl "github.com/pehchan-id/pehchan/internal/httpx/controllers/mfa"
	"github.com/pehchan-id/pehchan/internal/httpx/controllers/passkey"
	ssoctrl "github.com/pehchan-id/pehchan/internal/httpx/controllers/sso"
	mw "github.com/pehchan-id/pehchan/internal/httpx/middlewares"
	"github.com/pehchan-id/pehchan/internal/httpx/router"
	"github.com/pehchan-id/pehchan/internal/httpx/server"
	"github.com/pehchan-id/pehchan/internal/mfa"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
	"github.com/pehchan-id/pehchan/internal/session"
	"github.com/pehchan-id/pehchan/internal/webauthn"
	migrations "github.com/pehchan-id/pehchan/migrations/postgres"
)

var version = "dev"

func main() {
	// A .env file is a dev convenience; the environment wins either way.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:           "pehchan",
		Short:         "Authentication broker and session gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config YAML")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "pehchan",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheClient, err := cache.New(cache.Config{
		Kind:       cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: parseDur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	var profiles profile.Store
	if cfg.Storage.DSN != "" {
		pg, err := profile.NewPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		profiles = pg
	} else {
		logger.L().Warn("no storage.dsn configured, using in-memory profile store")
		profiles = profile.NewMemory()
	}
	defer profiles.Close()

	endpoints := provider.NewEndpoints(cfg.Provider.BaseURL, cfg.Provider.Realm)
	pc := provider.NewClient(endpoints, cfg.Provider.ClientID, cfg.Provider.ClientSecret, cfg.ProviderTimeout())
	registry := admin.NewRegistry(endpoints, cfg.Provider.AdminClientID, cfg.Provider.AdminClientSecret, cfg.ProviderTimeout())

	policy := session.CookiePolicy{
		Domain:   cfg.Cookies.Domain,
		SameSite: cfg.Cookies.SameSite,
		Secure:   cfg.Cookies.Secure,
	}
	sessions := session.NewStore(policy, pc)
	attempts := session.NewAttemptStore(policy, cfg.AttemptTTL())
	marker := session.NewStepUpMarker(policy, cfg.Security.SigningSecret, cfg.StepUpTTL())

	mfaSvc := mfa.NewService(mfa.Deps{
		Store:  profiles,
		Issuer: cfg.MFA.Issuer,
		Window: cfg.MFA.Window,
		Codes:  cfg.MFA.BackupCodes,
	})

	coordinator := authz.NewCoordinator(authz.Deps{
		Provider:       pc,
		Registry:       registry,
		Sessions:       sessions,
		Attempts:       attempts,
		PortalClientID: cfg.Provider.ClientID,
		CallbackURL:    cfg.App.BaseURL + "/api/auth/callback",
	})

	gateway := mw.NewGateway(mw.GatewayDeps{
		Sessions: sessions,
		Marker:   marker,
		Gate:     mfa.NewGate(mfaSvc),
	})

	handler := router.New(router.Deps{
		Config:  cfg,
		Cache:   cacheClient,
		Gateway: gateway,
		Authn: authn.NewController(authn.Deps{
			Coordinator: coordinator,
			Sessions:    sessions,
			Provider:    pc,
			Registry:    registry,
			Profiles:    profiles,
			Mailer:      logMailer{},
			ResetSecret: cfg.Security.SigningSecret,
			ResetURL:    cfg.App.BaseURL + "/reset-password",
		}),
		MFA: mfactrl.NewController(mfactrl.Deps{
			Service:  mfaSvc,
			Sessions: sessions,
			Marker:   marker,
		}),
		Passkey: passkey.NewController(passkey.Deps{
			Broker:   webauthn.NewBroker(pc),
			Sessions: sessions,
		}),
		SSO: ssoctrl.NewController(ssoctrl.Deps{
			Coordinator: coordinator,
			Registry:    registry,
			Provider:    pc,
			Sessions:    sessions,
		}),
	})

	return server.New(cfg, handler).Run(ctx)
}

// logMailer stands in for the external mail service: the reset link is
// written to the log instead of delivered. Swap in a real transport at
// the deployment boundary.
type logMailer struct{}

func (logMailer) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	logger.From(ctx).Info("password reset link issued",
		logger.String("to", to),
		logger.String("url", resetURL))
	return nil
}

// migrate applies the embedded SQL files in lexical order. Statements
// are idempotent (CREATE IF NOT EXISTS) so reruns are safe.
func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("migrate: storage.dsn is required")
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		fmt.Println("applied", name)
	}
	return nil
}

func parseDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
