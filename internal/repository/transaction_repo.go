package repository

import (
	"context"
	"errors"
	"time"

	"leadledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// PaymentProof 支付凭证，快速标记支付时为空
type PaymentProof struct {
	ReferenceID string
	ProofURL    string
	Notes       string
}

// RewardRow 汇总用的最小投影
type RewardRow struct {
	AffiliateID  int64
	Status       string
	RewardEarned decimal.Decimal
}

// Create 插入流水，lead_id 唯一索引冲突返回 ErrDuplicateTransaction
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.LeadTransaction) error {
	err := r.conn(tx).WithContext(ctx).Create(trans).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.LeadTransaction, error) {
	var trans model.LeadTransaction
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// MapByLeadIDs 批量查询线索对应的流水
func (r *TransactionRepository) MapByLeadIDs(ctx context.Context, leadIDs []int64) (map[int64]*model.LeadTransaction, error) {
	result := make(map[int64]*model.LeadTransaction, len(leadIDs))
	if len(leadIDs) == 0 {
		return result, nil
	}
	var transactions []*model.LeadTransaction
	if err := r.db.WithContext(ctx).Where("lead_id IN ?", leadIDs).Find(&transactions).Error; err != nil {
		return nil, err
	}
	for _, t := range transactions {
		result[t.LeadID] = t
	}
	return result, nil
}

// MarkPaid 条件更新 Pending -> Paid，这是 paid_at 唯一的写入路径
func (r *TransactionRepository) MarkPaid(ctx context.Context, tx *gorm.DB, id int64, paidAt time.Time, proof *PaymentProof) error {
	updates := map[string]interface{}{
		"status":  model.TransactionStatusPaid,
		"paid_at": paidAt,
	}
	if proof != nil {
		updates["payment_reference_id"] = proof.ReferenceID
		updates["payment_proof_url"] = proof.ProofURL
		updates["payment_notes"] = proof.Notes
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.LeadTransaction{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *TransactionRepository) ListByAffiliate(ctx context.Context, affiliateID int64) ([]*model.LeadTransaction, error) {
	var transactions []*model.LeadTransaction
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&transactions).Error
	return transactions, err
}

// ListByStatus Pending 按创建时间倒序，Paid 按支付时间倒序
func (r *TransactionRepository) ListByStatus(ctx context.Context, status string) ([]*model.LeadTransaction, error) {
	var transactions []*model.LeadTransaction
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if status == model.TransactionStatusPaid {
		query = query.Order("paid_at DESC")
	} else {
		query = query.Order("created_at DESC")
	}
	err := query.Order("id DESC").Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.LeadTransaction{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// RewardsByAffiliate 取出奖励金额在应用层用 decimal 求和，避免 SQL 浮点汇总误差
func (r *TransactionRepository) RewardsByAffiliate(ctx context.Context, affiliateID int64) ([]RewardRow, error) {
	var rows []RewardRow
	err := r.db.WithContext(ctx).
		Model(&model.LeadTransaction{}).
		Select("affiliate_id, status, reward_earned").
		Where("affiliate_id = ?", affiliateID).
		Scan(&rows).Error
	return rows, err
}

func (r *TransactionRepository) RewardsByStatus(ctx context.Context, status string) ([]RewardRow, error) {
	var rows []RewardRow
	err := r.db.WithContext(ctx).
		Model(&model.LeadTransaction{}).
		Select("affiliate_id, status, reward_earned").
		Where("status = ?", status).
		Scan(&rows).Error
	return rows, err
}

func (r *TransactionRepository) ListAll(ctx context.Context) ([]*model.LeadTransaction, error) {
	var transactions []*model.LeadTransaction
	err := r.db.WithContext(ctx).Order("id ASC").Find(&transactions).Error
	return transactions, err
}
