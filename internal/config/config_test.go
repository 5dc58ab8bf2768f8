package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: ":memory:"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10.0, cfg.Business.DefaultRewardRate)
	assert.Equal(t, "KAT", cfg.Business.ReferralCodePrefix)
	assert.Equal(t, "lead_events", cfg.Kafka.Topic.LeadEvents)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: ledger.db
business:
  default_reward_rate: 12
`)
	t.Setenv("LEDGER_DATABASE_DSN", "override.db")
	t.Setenv("LEDGER_SERVER_PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "override.db", cfg.Database.DSN)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 12.0, cfg.Business.DefaultRewardRate)
}

func TestLoadConfig_EnvOverridesKeysAbsentFromShippedConfig(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_DSN", "user:pw@tcp(db:3306)/ledger")
	t.Setenv("LEDGER_REDIS_PASSWORD", "s3cret")
	t.Setenv("LEDGER_DATABASE_PASSWORD", "rotated")

	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "user:pw@tcp(db:3306)/ledger", cfg.Database.DSN)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, "rotated", cfg.Database.Password)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, []string{"admin"}, cfg.Business.AdminUserIDs)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"rate out of range", "database:\n  driver: sqlite\nbusiness:\n  default_reward_rate: 120\n"},
		{"kafka without brokers", "database:\n  driver: sqlite\nkafka:\n  enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
