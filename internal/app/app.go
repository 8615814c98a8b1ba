package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"student-sandbox/internal/clock"
	"student-sandbox/internal/config"
	"student-sandbox/internal/db"
	"student-sandbox/internal/metrics"
	"student-sandbox/internal/script"
	"student-sandbox/internal/session"
	"student-sandbox/internal/student"
	"student-sandbox/internal/telemetry"

	"github.com/uptrace/bun"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type App struct {
	config        *config.Config
	db            *bun.DB
	meterProvider *sdkmetric.MeterProvider
	session       *session.Session
	script        *script.Script
	logger        *slog.Logger
}

// New opens the backing store, creates the schema and wires the script.
// Script output goes to out; telemetry options reach the meter provider.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, telemetryOpts ...telemetry.Option) (*App, error) {
	logger.InfoContext(ctx, "initializing application", "env", cfg.Env, "driver", cfg.Database.Driver)

	meterProvider, err := telemetry.InitMeterProvider(ctx, cfg.Telemetry, ServiceName, Version, logger, telemetryOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	m, err := metrics.New(ServiceName, logger)
	if err != nil {
		_ = telemetry.Shutdown(ctx, meterProvider, logger)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	database, err := db.New(cfg.Database, logger)
	if err != nil {
		_ = telemetry.Shutdown(ctx, meterProvider, logger)
		return nil, err
	}

	if err := m.RegisterDB(database.DB); err != nil {
		logger.WarnContext(ctx, "failed to register pool metrics", "error", err)
	}

	if err := db.RunMigrations(ctx, database, logger, (*student.Student)(nil)); err != nil {
		db.Close(database)
		_ = telemetry.Shutdown(ctx, meterProvider, logger)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	sess := session.New(database, clock.System(), logger)
	studentService := student.NewService(student.NewRepository(m))

	logger.InfoContext(ctx, "application initialized successfully")

	return &App{
		config:        cfg,
		db:            database,
		meterProvider: meterProvider,
		session:       sess,
		script:        script.New(studentService, sess, out, logger, cfg.Script.DeleteMode),
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	return a.script.Run(ctx)
}

// Shutdown discards uncommitted session work, closes the database and
// flushes the last metric collection.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfoContext(ctx, "shutting down")
	return errors.Join(
		a.session.Close(ctx),
		db.Close(a.db),
		telemetry.Shutdown(ctx, a.meterProvider, a.logger),
	)
}
