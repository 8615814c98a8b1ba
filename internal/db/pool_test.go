package db

import (
	"testing"
	"time"

	"student-sandbox/internal/config"
	"student-sandbox/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurePool(t *testing.T) {
	database, err := NewSQLite(MemoryDSN, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(database) })

	t.Run("ZeroFieldsUseConfigDefaults", func(t *testing.T) {
		pool := configurePool(database, config.DatabaseConfig{}, logger.Discard())

		assert.Equal(t, config.DefaultMaxOpenConns, pool.MaxOpenConns)
		assert.Equal(t, config.DefaultMaxIdleConns, pool.MaxIdleConns)
		assert.Equal(t, time.Duration(config.DefaultConnMaxLifetimeSeconds)*time.Second, pool.ConnMaxLifetime)
		assert.Equal(t, time.Duration(config.DefaultConnMaxIdleTimeSeconds)*time.Second, pool.ConnMaxIdleTime)
		assert.Equal(t, config.DefaultMaxOpenConns, database.DB.Stats().MaxOpenConnections)
	})

	t.Run("ExplicitValues", func(t *testing.T) {
		pool := configurePool(database, config.DatabaseConfig{
			MaxOpenConns:    3,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30,
			ConnMaxIdleTime: 5,
		}, logger.Discard())

		assert.Equal(t, 3, pool.MaxOpenConns)
		assert.Equal(t, 2, pool.MaxIdleConns)
		assert.Equal(t, 30*time.Second, pool.ConnMaxLifetime)
		assert.Equal(t, 5*time.Second, pool.ConnMaxIdleTime)
		assert.Equal(t, 3, database.DB.Stats().MaxOpenConnections)
	})
}
