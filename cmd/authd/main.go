// Command authd runs the authentication service as a standalone HTTP server.
// Configuration comes from environment variables; see envConfig below.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	auth "github.com/liangyon/machi-quest"
	"github.com/liangyon/machi-quest/instrumentation"
	"github.com/liangyon/machi-quest/providers"
	"github.com/liangyon/machi-quest/providers/github"
	"github.com/liangyon/machi-quest/providers/google"
	"github.com/liangyon/machi-quest/security"
	"github.com/liangyon/machi-quest/storage"
	"github.com/liangyon/machi-quest/storage/memory"
	"github.com/liangyon/machi-quest/storage/sqlite"
)

type envConfig struct {
	ListenAddr  string `env:"AUTH_LISTEN_ADDR" envDefault:":8080"`
	PublicURL   string `env:"AUTH_PUBLIC_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"AUTH_FRONTEND_URL" envDefault:"http://localhost:3000"`

	SigningSecret     string `env:"AUTH_SIGNING_SECRET,required"`
	EncryptionKeyB64  string `env:"AUTH_ENCRYPTION_KEY"`
	DatabasePath      string `env:"AUTH_DB_PATH"`
	EnableAuditLog    bool   `env:"AUTH_AUDIT_LOGGING" envDefault:"true"`
	EnableTelemetry   bool   `env:"AUTH_TELEMETRY" envDefault:"false"`
	TrustProxy        bool   `env:"AUTH_TRUST_PROXY" envDefault:"false"`
	TrustedProxyCount int    `env:"AUTH_TRUSTED_PROXY_COUNT" envDefault:"0"`
	CookieSecure      bool   `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	CookieDomain      string `env:"AUTH_COOKIE_DOMAIN"`

	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"168h"`

	GitHubClientID     string `env:"AUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"AUTH_GITHUB_CLIENT_SECRET"`
	GoogleClientID     string `env:"AUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"AUTH_GOOGLE_CLIENT_SECRET"`

	LogLevel string `env:"AUTH_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("authd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	var encryptionKey []byte
	if cfg.EncryptionKeyB64 != "" {
		encryptionKey, err = security.KeyFromBase64(cfg.EncryptionKeyB64)
		if err != nil {
			return fmt.Errorf("invalid AUTH_ENCRYPTION_KEY: %w", err)
		}
	}

	provs, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	cookieSecure := cfg.CookieSecure
	server, err := auth.NewServer(store, provs, &auth.Config{
		PublicURL:     cfg.PublicURL,
		FrontendURL:   cfg.FrontendURL,
		SigningSecret: []byte(cfg.SigningSecret),
		Tokens: auth.TokenConfig{
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
		},
		RateLimit: auth.RateLimitConfig{
			TrustProxy:        cfg.TrustProxy,
			TrustedProxyCount: cfg.TrustedProxyCount,
		},
		Security: auth.SecurityConfig{
			EncryptionKey:      encryptionKey,
			EnableAuditLogging: cfg.EnableAuditLog,
			CookieSecure:       &cookieSecure,
			CookieDomain:       cfg.CookieDomain,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create auth server: %w", err)
	}
	defer server.Stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "authd",
		Enabled:     cfg.EnableTelemetry,
	})
	if err != nil {
		return fmt.Errorf("create instrumentation: %w", err)
	}
	server.SetInstrumentation(inst)
	if ms, ok := store.(*memory.Store); ok {
		ms.SetInstrumentation(inst)
	}

	handler := auth.NewHandler(server, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           security.RequestIDMiddleware(handler.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening", "addr", cfg.ListenAddr, "public_url", cfg.PublicURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Warn("instrumentation shutdown failed", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg envConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.DatabasePath == "" {
		logger.Warn("no AUTH_DB_PATH set, using in-memory storage")
		return memory.New(), nil
	}
	store, err := sqlite.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	logger.Info("sqlite storage ready", "path", cfg.DatabasePath)
	return store, nil
}

func closeStore(store storage.Store, logger *slog.Logger) {
	type stopper interface{ Stop() }
	type closer interface{ Close() error }
	if s, ok := store.(stopper); ok {
		s.Stop()
	}
	if c, ok := store.(closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}
}

func buildProviders(cfg envConfig) ([]providers.Provider, error) {
	var provs []providers.Provider

	if cfg.GitHubClientID != "" {
		p, err := github.NewProvider(&github.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.PublicURL + "/auth/github/callback",
		})
		if err != nil {
			return nil, fmt.Errorf("configure github provider: %w", err)
		}
		provs = append(provs, p)
	}

	if cfg.GoogleClientID != "" {
		p, err := google.NewProvider(&google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.PublicURL + "/auth/google/callback",
		})
		if err != nil {
			return nil, fmt.Errorf("configure google provider: %w", err)
		}
		provs = append(provs, p)
	}

	return provs, nil
}
