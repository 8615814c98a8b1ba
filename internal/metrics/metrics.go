package metrics

import (
	"database/sql"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	Database *DatabaseMetrics
	meter    metric.Meter
	logger   *slog.Logger
}

// New builds collectors on the global meter provider installed by
// telemetry.InitMeterProvider.
func New(serviceName string, logger *slog.Logger) (*Metrics, error) {
	return NewWithMeter(otel.Meter(serviceName), logger)
}

func NewWithMeter(meter metric.Meter, logger *slog.Logger) (*Metrics, error) {
	database, err := NewDatabaseMetrics(meter)
	if err != nil {
		return nil, err
	}

	logger.Debug("metrics collectors initialized successfully")

	return &Metrics{
		Database: database,
		meter:    meter,
		logger:   logger,
	}, nil
}

// RegisterDB starts observing connection pool stats of db.
func (m *Metrics) RegisterDB(db *sql.DB) error {
	if m.meter == nil {
		return nil
	}
	return m.Database.RegisterDB(db, m.meter)
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{
		Database: &DatabaseMetrics{},
	}
}
