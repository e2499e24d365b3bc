package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gofiber/fiber/v2"
	"github.com/lepinkainen/humanlog"

	lending "github.com/goliatone/go-lending"
	"github.com/goliatone/go-lending/config"
	"github.com/goliatone/go-lending/middleware/ratelimit"
	"github.com/goliatone/go-lending/persistence"
)

// CLI is the lendingd command structure
type CLI struct {
	Config   string `help:"Path to a YAML config file" type:"path" env:"LENDING_CONFIG"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)"`

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the HTTP API"`
	Migrate MigrateCmd `cmd:"" help:"Create the database schema"`
}

type ServeCmd struct {
	Port int `help:"Override the configured port"`
}

type MigrateCmd struct {
	Reset bool `help:"Drop every table before creating the schema"`
}

func main() {
	initLogging(slog.LevelInfo)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("lendingd"),
		kong.Description("Library lending service: identities, catalog and loans over a JSON API."),
		kong.UsageOnError(),
	)

	settings, err := config.Load(cli.Config)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if cli.LogLevel != "" {
		settings.Log.Level = cli.LogLevel
		if err := settings.Validate(); err != nil {
			slog.Error("Invalid log level", "error", err)
			os.Exit(1)
		}
	}
	initLogging(settings.SlogLevel())

	ctx.Bind(settings)

	if err := ctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func initLogging(level slog.Level) {
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func dbOptions(s *config.Settings) persistence.Options {
	return persistence.Options{
		Driver: s.Database.Driver,
		DSN:    s.Database.DSN,
		Debug:  s.Database.Debug,
	}
}

func (m *MigrateCmd) Run(s *config.Settings) error {
	ctx := context.Background()

	db, err := persistence.Open(ctx, dbOptions(s))
	if err != nil {
		return err
	}
	defer db.Close()

	if m.Reset {
		slog.Warn("Dropping lending schema", "driver", s.Database.Driver)
		if err := lending.ResetSchema(ctx, db); err != nil {
			return err
		}
	}

	if err := lending.Migrate(ctx, db); err != nil {
		return err
	}

	slog.Info("Schema ready", "driver", s.Database.Driver)
	return nil
}

func (c *ServeCmd) Run(s *config.Settings) error {
	if c.Port > 0 {
		s.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.Open(ctx, dbOptions(s))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := lending.Migrate(ctx, db); err != nil {
		return err
	}

	logger := slog.Default()
	repo := lending.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	controllerOpts := []lending.LendingControllerOption{
		lending.WithControllerLogger(logger.With("component", "lending.http")),
		lending.WithControllerDebug(s.Server.Debug),
		lending.WithHashidIdentities(s.Identity.HashidIDs),
		lending.WithEngineOptions(lending.WithOperationTimeout(s.Lending.OperationTimeout)),
	}
	if s.RateLimit.Enabled {
		controllerOpts = append(controllerOpts, lending.WithThrottle(ratelimit.New(ratelimit.Config{
			Name:              "auth",
			RequestsPerMinute: s.RateLimit.RequestsPerMinute,
			Burst:             s.RateLimit.Burst,
			LimitReached: func(c *fiber.Ctx) error {
				return lending.ErrTooManyRequests
			},
		})))
	}

	controller := lending.NewLendingController(repo, s, controllerOpts...)

	app := lending.NewApp(logger, lending.AppOptions{
		Debug:        s.Server.Debug,
		ReadTimeout:  s.Server.ReadTimeout,
		WriteTimeout: s.Server.WriteTimeout,
	})
	lending.RegisterRoutes(app, controller)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", s.Server.Addr(), "driver", s.Database.Driver)
		errCh <- app.Listen(s.Server.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down", "timeout", s.Server.ShutdownTimeout)

	timeout := s.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := app.ShutdownWithTimeout(timeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
