package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/meshforge/internal/config"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(config.DatabaseConfig{
		URL:             "postgres://u:p@db:5432/meshforge?sslmode=disable",
		MaxOpenConns:    4,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(4), cfg.MinConns, "idle connections are capped at the open limit")
	assert.Equal(t, time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, "meshforge", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_ZeroValuesKeepDefaults(t *testing.T) {
	def, err := poolConfig(config.DatabaseConfig{URL: "postgres://u:p@db:5432/meshforge"})
	require.NoError(t, err)
	assert.Positive(t, def.MaxConns)
	assert.Zero(t, def.MinConns)
	assert.Positive(t, def.MaxConnLifetime)
}

func TestPoolConfig_KeepsExplicitApplicationName(t *testing.T) {
	cfg, err := poolConfig(config.DatabaseConfig{URL: "postgres://u:p@db:5432/meshforge?application_name=worker-7"})
	require.NoError(t, err)
	assert.Equal(t, "worker-7", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_BadURL(t *testing.T) {
	_, err := poolConfig(config.DatabaseConfig{URL: "://nope"})
	assert.ErrorContains(t, err, "parse database URL")
}
