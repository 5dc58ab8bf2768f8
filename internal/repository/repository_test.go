package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadledger/internal/config"
	"leadledger/internal/infrastructure/database"
	"leadledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedAffiliate(t *testing.T, db *gorm.DB, userID, code string) *model.Affiliate {
	t.Helper()
	a := &model.Affiliate{UserID: userID, Name: userID, Email: userID + "@partners.test", ReferralCode: code, Role: model.RoleAffiliate}
	require.NoError(t, db.Create(a).Error)
	return a
}

func seedLead(t *testing.T, db *gorm.DB, affiliateID int64, email string) *model.Lead {
	t.Helper()
	lead := &model.Lead{AffiliateID: affiliateID, Name: "Lead", Email: email, Phone: "1", Status: model.LeadStatusPending}
	require.NoError(t, NewLeadRepository(db).Create(context.Background(), nil, lead))
	return lead
}

func seedTransaction(t *testing.T, db *gorm.DB, lead *model.Lead, no string) *model.LeadTransaction {
	t.Helper()
	trans := &model.LeadTransaction{
		TransactionNo: no,
		LeadID:        lead.ID,
		AffiliateID:   lead.AffiliateID,
		Amount:        decimal.NewFromInt(1000),
		RewardRate:    decimal.NewFromInt(10),
		RewardEarned:  decimal.NewFromInt(100),
		Status:        model.TransactionStatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, NewTransactionRepository(db).Create(context.Background(), nil, trans))
	return trans
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, IsDuplicateKey(nil))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKey(errors.New("Error 1062 (23000): Duplicate entry 'a@x.com' for key 'idx_lead_email'")))
	assert.True(t, IsDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)`)))
	assert.False(t, IsDuplicateKey(errors.New("connection refused")))
}

func TestAffiliateRepository_GetOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, &model.Affiliate{UserID: "u1", Name: "A", Email: "a@p.test", ReferralCode: "KAT0000001", Role: model.RoleAffiliate})
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, &model.Affiliate{UserID: "u1", Name: "B", Email: "b@p.test", ReferralCode: "KAT0000002", Role: model.RoleAffiliate})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "KAT0000001", second.ReferralCode)

	// 推广码冲突
	_, err = repo.GetOrCreate(ctx, &model.Affiliate{UserID: "u2", Name: "C", Email: "c@p.test", ReferralCode: "KAT0000001", Role: model.RoleAffiliate})
	assert.ErrorIs(t, err, ErrDuplicateAffiliate)
}

func TestAffiliateRepository_IncrementCounter(t *testing.T) {
	db := newTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")

	require.NoError(t, repo.IncrementCounter(ctx, nil, a.ID, CounterTotalLeads))
	require.NoError(t, repo.IncrementCounter(ctx, nil, a.ID, CounterTotalLeads))
	require.NoError(t, repo.IncrementCounter(ctx, nil, a.ID, CounterConversionCount))

	reloaded, err := repo.GetByID(ctx, nil, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.TotalLeads)
	assert.Equal(t, int64(1), reloaded.ConversionCount)

	assert.ErrorIs(t, repo.IncrementCounter(ctx, nil, a.ID, "total_earned"), ErrInvalidCounter)
	assert.ErrorIs(t, repo.IncrementCounter(ctx, nil, 999, CounterTotalLeads), ErrAffiliateNotFound)
}

func TestAffiliateRepository_Lookups(t *testing.T) {
	db := newTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	b := seedAffiliate(t, db, "u2", "KAT0000002")

	got, err := repo.GetByReferralCode(ctx, nil, "KAT0000002")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = repo.GetByReferralCode(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
	_, err = repo.GetByUserID(ctx, "missing")
	assert.ErrorIs(t, err, ErrAffiliateNotFound)

	byID, err := repo.GetByIDs(ctx, []int64{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)

	require.NoError(t, repo.UpdateTotalEarned(ctx, a.ID, decimal.RequireFromString("12.50")))
	require.NoError(t, repo.SetRole(ctx, a.ID, model.RoleAdmin))
	reloaded, err := repo.GetByID(ctx, nil, a.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TotalEarned.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, reloaded.IsAdmin())
}

func TestLeadRepository_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	seedLead(t, db, a.ID, "a@x.com")

	err := NewLeadRepository(db).Create(context.Background(), nil, &model.Lead{
		AffiliateID: a.ID, Name: "Other", Email: "a@x.com", Phone: "2", Status: model.LeadStatusPending,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	exists, err := NewLeadRepository(db).ExistsByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLeadRepository_UpdateStatusIsGuarded(t *testing.T) {
	db := newTestDB(t)
	repo := NewLeadRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	lead := seedLead(t, db, a.ID, "a@x.com")

	require.NoError(t, repo.UpdateStatus(ctx, nil, lead.ID, model.LeadStatusPending, model.LeadStatusConverted, map[string]interface{}{
		"amount": decimal.NewFromInt(500),
		"reward": decimal.NewFromInt(50),
	}))

	// 第二次条件不满足
	err := repo.UpdateStatus(ctx, nil, lead.ID, model.LeadStatusPending, model.LeadStatusRejected, nil)
	assert.ErrorIs(t, err, ErrStatusConflict)

	// 非法流转直接拒绝
	err = repo.UpdateStatus(ctx, nil, lead.ID, model.LeadStatusConverted, model.LeadStatusRejected, nil)
	assert.ErrorIs(t, err, ErrStatusConflict)

	reloaded, err := repo.GetByID(ctx, nil, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusConverted, reloaded.Status)
	assert.True(t, reloaded.Amount.Valid)
	assert.True(t, reloaded.Reward.Decimal.Equal(decimal.NewFromInt(50)))

	_, err = repo.GetByID(ctx, nil, 999)
	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestLeadRepository_OpenLeadsUseSetDifference(t *testing.T) {
	db := newTestDB(t)
	repo := NewLeadRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")

	open := seedLead(t, db, a.ID, "open@x.com")
	stale := seedLead(t, db, a.ID, "stale@x.com")
	seedTransaction(t, db, stale, "TXN1")

	leads, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, open.ID, leads[0].ID)

	count, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, repo.RejectOpen(ctx, nil, stale.ID), ErrStatusConflict)
	require.NoError(t, repo.RejectOpen(ctx, nil, open.ID))
	assert.ErrorIs(t, repo.RejectOpen(ctx, nil, open.ID), ErrStatusConflict)
}

func TestLeadRepository_ListByAffiliate(t *testing.T) {
	db := newTestDB(t)
	repo := NewLeadRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	b := seedAffiliate(t, db, "u2", "KAT0000002")

	first := seedLead(t, db, a.ID, "priya@x.com")
	second := seedLead(t, db, a.ID, "kiran@y.com")
	seedLead(t, db, b.ID, "other@x.com")

	leads, err := repo.ListByAffiliate(ctx, a.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, second.ID, leads[0].ID)

	leads, err = repo.ListByAffiliate(ctx, a.ID, "PRIYA", 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, first.ID, leads[0].ID)

	leads, err = repo.ListByAffiliate(ctx, a.ID, "", 1)
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}

func TestTransactionRepository_OnePerLead(t *testing.T) {
	db := newTestDB(t)
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	lead := seedLead(t, db, a.ID, "a@x.com")
	seedTransaction(t, db, lead, "TXN1")

	err := NewTransactionRepository(db).Create(context.Background(), nil, &model.LeadTransaction{
		TransactionNo: "TXN2",
		LeadID:        lead.ID,
		AffiliateID:   a.ID,
		Amount:        decimal.NewFromInt(1),
		RewardRate:    decimal.NewFromInt(10),
		RewardEarned:  decimal.RequireFromString("0.1"),
		Status:        model.TransactionStatusPending,
		CreatedAt:     time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

// 并发转化中落败的一方：读到的线索仍是 Pending，状态条件更新成功，
// 插入流水时被 lead_id 唯一索引挡住，整个事务回滚
func TestTransactionRepository_UniqueLeadCatchesStaleStatusGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	lead := seedLead(t, db, a.ID, "a@x.com")
	seedTransaction(t, db, lead, "TXN1")

	leads := NewLeadRepository(db)
	transactions := NewTransactionRepository(db)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := leads.UpdateStatus(ctx, tx, lead.ID, model.LeadStatusPending, model.LeadStatusConverted, nil); err != nil {
			return err
		}
		return transactions.Create(ctx, tx, &model.LeadTransaction{
			TransactionNo: "TXN2",
			LeadID:        lead.ID,
			AffiliateID:   a.ID,
			Amount:        decimal.NewFromInt(1000),
			RewardRate:    decimal.NewFromInt(10),
			RewardEarned:  decimal.NewFromInt(100),
			Status:        model.TransactionStatusPending,
			CreatedAt:     time.Now(),
		})
	})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	reloaded, err := leads.GetByID(ctx, nil, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusPending, reloaded.Status)

	var count int64
	require.NoError(t, db.Model(&model.LeadTransaction{}).Where("lead_id = ?", lead.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransactionRepository_MarkPaidIsGuarded(t *testing.T) {
	db := newTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")
	trans := seedTransaction(t, db, seedLead(t, db, a.ID, "a@x.com"), "TXN1")

	paidAt := time.Now()
	require.NoError(t, repo.MarkPaid(ctx, nil, trans.ID, paidAt, &PaymentProof{ReferenceID: "R1", ProofURL: "https://example.com/p"}))
	assert.ErrorIs(t, repo.MarkPaid(ctx, nil, trans.ID, paidAt, nil), ErrStatusConflict)

	reloaded, err := repo.GetByID(ctx, nil, trans.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsPaid())
	assert.Equal(t, "R1", reloaded.PaymentReferenceID)

	_, err = repo.GetByID(ctx, nil, 999)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionRepository_Aggregations(t *testing.T) {
	db := newTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	a := seedAffiliate(t, db, "u1", "KAT0000001")

	t1 := seedTransaction(t, db, seedLead(t, db, a.ID, "a@x.com"), "TXN1")
	seedTransaction(t, db, seedLead(t, db, a.ID, "b@x.com"), "TXN2")
	require.NoError(t, repo.MarkPaid(ctx, nil, t1.ID, time.Now(), nil))

	paidCount, err := repo.CountByStatus(ctx, model.TransactionStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), paidCount)

	rows, err := repo.RewardsByAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	paidRows, err := repo.RewardsByStatus(ctx, model.TransactionStatusPaid)
	require.NoError(t, err)
	require.Len(t, paidRows, 1)
	assert.Equal(t, a.ID, paidRows[0].AffiliateID)
	assert.True(t, paidRows[0].RewardEarned.Equal(decimal.NewFromInt(100)))

	pending, err := repo.ListByStatus(ctx, model.TransactionStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOutboxRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{MessageKey: "lead-1", EventType: model.EventLeadSubmitted, Topic: "lead_events", Payload: "{}", Status: model.OutboxStatusPending}
	require.NoError(t, repo.Create(ctx, nil, msg))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.IncrementRetryCount(ctx, msg.ID))
	require.NoError(t, repo.MarkAsFailed(ctx, msg.ID))

	var reloaded model.OutboxMessage
	require.NoError(t, db.First(&reloaded, msg.ID).Error)
	assert.Equal(t, model.OutboxStatusFailed, reloaded.Status)
	assert.Equal(t, 1, reloaded.RetryCount)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
