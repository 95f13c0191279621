package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/console"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/sandbox"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/memstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/pgstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/rest"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// backend is the opened store plus the pool behind it, if any.
type backend struct {
	store store.Store
	pool  *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendREST:
		return &backend{store: rest.New(rest.Config{
			BaseURL: cfg.StoreURL,
			APIKey:  cfg.StoreAPIKey,
			Timeout: cfg.StoreTimeout,
			Retries: cfg.StoreRetries,
		}, logger)}, nil
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, db.PoolOptions{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &backend{store: pgstore.New(pool), pool: pool}, nil
	case config.BackendMemory:
		return &backend{store: memstore.New(console.Relations()...)}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:    cfg.AuthIssuer,
		Audience:  cfg.AuthAudience,
		JWKSURL:   cfg.AuthJWKSURL,
		RoleClaim: cfg.AuthRoleClaim,
		Skipper:   auth.AuthSkipper,
	}
	if cfg.AuthJWTSecret != "" {
		jc.SigningKey = []byte(cfg.AuthJWTSecret)
	}
	return jc
}

// newServer assembles the HTTP surface over b. The registry is returned so
// the caller can run its idle sweeper.
func newServer(cfg *config.Config, b *backend, logger zerolog.Logger) (*echo.Echo, *console.Registry, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))

	if cfg.IsDev() && !cfg.VerifiesTokens() {
		e.Use(auth.DevSessionMiddleware(jwtConfig(cfg)))
	} else {
		e.Use(auth.SessionMiddleware(jwtConfig(cfg)))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.StoreBackend,
		})
	})
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}

	registry := console.NewRegistry(func() *console.Workspace {
		return console.NewWorkspace(b.store, loc, logger)
	}, cfg.WorkspaceIdleTTL)
	console.NewHandler(b.store, registry, cfg.ListMaxAge, logger).RegisterRoutes(e.Group("/api/v1"))

	return e, registry, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	b, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer b.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	if cfg.SandboxSeed && cfg.StoreBackend == config.BackendMemory {
		if _, err := sandbox.NewSeeder(b.store, sandbox.DefaultSeedConfig(), logger).Run(ctx); err != nil {
			return fmt.Errorf("seed sandbox: %w", err)
		}
	}

	e, registry, err := newServer(cfg, b, logger)
	if err != nil {
		return err
	}
	go registry.Run(ctx, logger)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
