// Package devserver runs the fake Bullwark API as a standalone process for
// local development against the SDK and the bullwark CLI.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/bullwarktest"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

// Contract is printed to stdout once the server listens, so scripts can
// pick up the address and seeded credentials.
type Contract struct {
	BaseURL    string            `json:"base_url"`
	JWKSURL    string            `json:"jwks_url"`
	TenantUUID string            `json:"tenant_uuid"`
	Issuer     string            `json:"issuer"`
	Audience   string            `json:"audience"`
	Algorithm  string            `json:"algorithm"`
	Users      []ContractUser    `json:"users"`
	Env        map[string]string `json:"env"`
}

type ContractUser struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// Application is the development server with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	fake         *bullwarktest.Fake
	housekeeping *HousekeepingService
	users        []ContractUser

	listener net.Listener
	server   *http.Server
	serveErr chan error
}

// New builds the fake API and seeds its users. Nothing listens until Start.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "bullwark-devserver",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
		}),
		serveErr: make(chan error, 1),
	}

	opts := []bullwarktest.Option{
		bullwarktest.WithLogger(app.logger),
		bullwarktest.WithIssuer(cfg.Issuer, cfg.Audience),
		bullwarktest.WithTokenTTL(cfg.TokenTTL),
		bullwarktest.WithAlgorithm(cfg.Algorithm),
	}
	if cfg.TenantUUID != "" {
		opts = append(opts, bullwarktest.WithTenant(cfg.TenantUUID))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, bullwarktest.WithRateLimit(cfg.RateLimit))
	}

	fake, err := bullwarktest.NewFake(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fake API: %w", err)
	}
	app.fake = fake

	if err := app.seedUsers(); err != nil {
		return nil, err
	}

	app.housekeeping = NewHousekeepingService(fake, app.logger,
		cfg.HousekeepingInterval, cfg.KeyRotationInterval, cfg.KeepKeys)

	app.server = &http.Server{
		Handler:           fake,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return app, nil
}

func (app *Application) seedUsers() error {
	specs, err := seedSpecs(app.cfg)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		u, err := app.fake.AddUser(spec)
		if err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
		app.users = append(app.users, ContractUser{
			Email:      u.Email,
			Password:   spec.Password,
			TOTPSecret: spec.TOTPSecret,
		})
		app.logger.Info("seeded user", "email", u.Email, "uuid", u.UUID, "totp", spec.TOTPSecret != "")
	}
	return nil
}

// Fake exposes the running fake, for tests.
func (app *Application) Fake() *bullwarktest.Fake { return app.fake }

// Start listens and serves in the background.
func (app *Application) Start() error {
	listener, err := net.Listen("tcp", app.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	app.listener = listener

	go func() {
		app.serveErr <- app.server.Serve(listener)
	}()
	app.housekeeping.Start()

	app.logger.Info("bullwark devserver starting", "addr", listener.Addr().String(), "version", BuildVersion)
	return nil
}

// Contract describes the running server. Start must have been called.
func (app *Application) Contract() Contract {
	base := "http://" + app.listener.Addr().String()
	return Contract{
		BaseURL:    base,
		JWKSURL:    base + string(bullwarktest.EndpointJWKS),
		TenantUUID: app.fake.TenantUUID(),
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		Algorithm:  app.cfg.Algorithm,
		Users:      app.users,
		Env: map[string]string{
			"BULLWARK_API_URL": base,
			"BULLWARK_TENANT":  app.fake.TenantUUID(),
		},
	}
}

// WriteContract encodes the contract as a single JSON line.
func (app *Application) WriteContract(w io.Writer) error {
	return json.NewEncoder(w).Encode(app.Contract())
}

// Run starts the server and blocks until shutdown is requested.
func (app *Application) Run() error {
	if err := app.Start(); err != nil {
		return err
	}
	if err := app.WriteContract(os.Stdout); err != nil {
		_ = app.Shutdown()
		return fmt.Errorf("failed to encode contract: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-app.serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeeping.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down bullwark devserver...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	var err error
	if err = app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	app.logger.Info("bullwark devserver stopped")
	return err
}
