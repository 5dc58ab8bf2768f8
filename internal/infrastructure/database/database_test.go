package database

import (
	"testing"

	"leadledger/internal/config"
	"leadledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func TestOpen_SQLiteMigratesSchema(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, zap.NewNop())
	require.NoError(t, err)

	for _, m := range []interface{}{&model.Affiliate{}, &model.Lead{}, &model.LeadTransaction{}, &model.OutboxMessage{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&model.LeadTransaction{}, "LeadID"))
	assert.True(t, db.Migrator().HasIndex(&model.Lead{}, "Email"))
}

func TestDialectorFor(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{name: "mysql", cfg: config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Database: "ledger"}, want: "mysql"},
		{name: "postgres", cfg: config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Database: "ledger"}, want: "postgres"},
		{name: "sqlite", cfg: config.DatabaseConfig{Driver: "sqlite", DSN: "ledger.db"}, want: "sqlite"},
		{name: "sqlite without dsn", cfg: config.DatabaseConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", cfg: config.DatabaseConfig{Driver: "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := dialectorFor(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("SILENT"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel(""))
}
