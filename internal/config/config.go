package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Supported values for DatabaseConfig.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Postgres pool defaults, applied when the config leaves a value at zero.
const (
	DefaultMaxOpenConns           = 25
	DefaultMaxIdleConns           = 10
	DefaultConnMaxLifetimeSeconds = 300
	DefaultConnMaxIdleTimeSeconds = 60
)

// Supported values for ScriptConfig.DeleteMode.
const (
	DeleteNone     = "none"
	DeleteInstance = "instance"
	DeleteBulk     = "bulk"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Script    ScriptConfig    `mapstructure:"script"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	LogQueries bool   `mapstructure:"log_queries"`

	// Postgres only
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time_seconds"`
}

type ScriptConfig struct {
	DeleteMode string `mapstructure:"delete_mode"`
}

// TelemetryConfig selects where query metrics are exported. With neither
// exporter enabled the meter provider records without exporting.
type TelemetryConfig struct {
	OTLPEndpoint          string `mapstructure:"otlp_endpoint"`
	Stdout                bool   `mapstructure:"stdout"`
	ExportIntervalSeconds int    `mapstructure:"export_interval_seconds"`
}

func Load() (*Config, error) {
	// Get environment from ENV, default to "local"
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	v := viper.New()
	setDefaults(v, env)

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("/configs")   // container mount
	v.AddConfigPath("./configs")  // repo root
	v.AddConfigPath("../configs") // from cmd/

	// Config file is optional - defaults and ENV cover everything
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// ENV overrides take precedence over the config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("env", env)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.log_queries", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "sandbox")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime_seconds", DefaultConnMaxLifetimeSeconds)
	v.SetDefault("database.conn_max_idle_time_seconds", DefaultConnMaxIdleTimeSeconds)
	v.SetDefault("script.delete_mode", DeleteNone)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.export_interval_seconds", 10)
}

// Validate rejects unknown driver and delete mode values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid database driver %q: must be %q or %q", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if err := ValidateDeleteMode(c.Script.DeleteMode); err != nil {
		return err
	}
	return nil
}

func ValidateDeleteMode(mode string) error {
	switch mode {
	case DeleteNone, DeleteInstance, DeleteBulk:
		return nil
	}
	return fmt.Errorf("invalid delete mode %q: must be one of %s, %s, %s", mode, DeleteNone, DeleteInstance, DeleteBulk)
}
