package service_test

import (
	"context"
	"testing"
	"time"

	"leadledger/internal/config"
	"leadledger/internal/infrastructure/database"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	metrics     *metrics.Metrics
	affiliates  *service.AffiliateService
	leads       *service.LeadService
	conversions *service.ConversionService
	payments    *service.PaymentService
	reports     *service.ReportService
	audit       *service.AuditService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LeadEvents: "lead_events"},
		},
		Business: config.BusinessConfig{
			DefaultRewardRate:  10,
			ReferralCodePrefix: "KAT",
			AdminUserIDs:       []string{"admin"},
		},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T, opts ...func(*service.Dependencies)) *fixture {
	t.Helper()

	deps := service.Dependencies{
		DB:      newTestDB(t),
		Config:  testConfig(),
		Logger:  zap.NewNop(),
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &fixture{
		db:          deps.DB,
		metrics:     deps.Metrics,
		affiliates:  service.NewAffiliateService(deps),
		leads:       service.NewLeadService(deps),
		conversions: service.NewConversionService(deps),
		payments:    service.NewPaymentService(deps),
		reports:     service.NewReportService(deps),
		audit:       service.NewAuditService(deps),
	}
}

func withClock(clock func() time.Time) func(*service.Dependencies) {
	return func(d *service.Dependencies) {
		d.Clock = clock
	}
}

func (f *fixture) affiliate(t *testing.T, userID string) *model.Affiliate {
	t.Helper()
	a, err := f.affiliates.EnsureAffiliate(context.Background(), userID, "Affiliate "+userID, userID+"@partners.test")
	require.NoError(t, err)
	return a
}

func (f *fixture) submit(t *testing.T, code, email string) int64 {
	t.Helper()
	id, err := f.leads.SubmitLead(context.Background(), service.SubmitLeadRequest{
		ReferralCode:        code,
		Name:                "Lead " + email,
		Email:               email,
		Phone:               "+91 98765 43210",
		ProjectRequirements: "landing page",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) convert(t *testing.T, leadID int64, amount string) *service.ConvertLeadResult {
	t.Helper()
	res, err := f.conversions.ConvertLead(context.Background(), service.ConvertLeadRequest{
		LeadID: leadID,
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) lead(t *testing.T, id int64) *model.Lead {
	t.Helper()
	var lead model.Lead
	require.NoError(t, f.db.First(&lead, id).Error)
	return &lead
}

func (f *fixture) transaction(t *testing.T, id int64) *model.LeadTransaction {
	t.Helper()
	var trans model.LeadTransaction
	require.NoError(t, f.db.First(&trans, id).Error)
	return &trans
}

func (f *fixture) reload(t *testing.T, affiliateID int64) *model.Affiliate {
	t.Helper()
	var a model.Affiliate
	require.NoError(t, f.db.First(&a, affiliateID).Error)
	return &a
}

func (f *fixture) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func (f *fixture) events(t *testing.T, eventType string) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, f.db.Where("event_type = ?", eventType).Order("id ASC").Find(&msgs).Error)
	return msgs
}

// metricValue 汇总某个指标所有 label 的值
func (f *fixture) metricValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

// failOnCreate 模拟在写入某张表时进程崩溃
func failOnCreate(t *testing.T, db *gorm.DB, table string, injected error) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(injected)
		}
	})
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
