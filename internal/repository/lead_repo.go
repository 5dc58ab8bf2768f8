package repository

import (
	"context"
	"errors"
	"strings"

	"leadledger/internal/model"

	"gorm.io/gorm"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// convertedLeadIDs 所有已有流水的线索ID，用于差集查询
func convertedLeadIDs(tx *gorm.DB) *gorm.DB {
	return tx.Model(&model.LeadTransaction{}).Select("lead_id")
}

func (r *LeadRepository) Create(ctx context.Context, tx *gorm.DB, lead *model.Lead) error {
	err := r.conn(tx).WithContext(ctx).Create(lead).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *LeadRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Lead, error) {
	var lead model.Lead
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

func (r *LeadRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("email = ?", email).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus 条件更新线索状态（CAS）
// 只有当前状态等于 fromStatus 时才会更新，未命中返回 ErrStatusConflict
func (r *LeadRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RejectOpen 拒绝一个"真正待处理"的线索
// 状态为 Pending 但已存在流水的脏数据不允许被拒绝
func (r *LeadRepository) RejectOpen(ctx context.Context, tx *gorm.DB, id int64) error {
	db := r.conn(tx).WithContext(ctx)
	result := db.
		Model(&model.Lead{}).
		Where("id = ? AND status = ?", id, model.LeadStatusPending).
		Where("id NOT IN (?)", convertedLeadIDs(db)).
		Update("status", model.LeadStatusRejected)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListOpen 待处理线索：状态为 Pending 且不在流水的 lead_id 集合中
func (r *LeadRepository) ListOpen(ctx context.Context) ([]*model.Lead, error) {
	var leads []*model.Lead
	db := r.db.WithContext(ctx)
	err := db.
		Where("status = ?", model.LeadStatusPending).
		Where("id NOT IN (?)", convertedLeadIDs(db)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&leads).Error
	return leads, err
}

func (r *LeadRepository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	db := r.db.WithContext(ctx)
	err := db.
		Model(&model.Lead{}).
		Where("status = ?", model.LeadStatusPending).
		Where("id NOT IN (?)", convertedLeadIDs(db)).
		Count(&count).Error
	return count, err
}

// ListByAffiliate 推广者的线索列表，search 匹配姓名 / 邮箱 / 电话
func (r *LeadRepository) ListByAffiliate(ctx context.Context, affiliateID int64, search string, limit int) ([]*model.Lead, error) {
	var leads []*model.Lead

	query := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID)
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", like, like, "%"+search+"%")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Find(&leads).Error
	return leads, err
}

func (r *LeadRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*model.Lead, error) {
	result := make(map[int64]*model.Lead, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var leads []*model.Lead
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&leads).Error; err != nil {
		return nil, err
	}
	for _, l := range leads {
		result[l.ID] = l
	}
	return result, nil
}

// ListAll 对账用，按ID升序
func (r *LeadRepository) ListAll(ctx context.Context) ([]*model.Lead, error) {
	var leads []*model.Lead
	err := r.db.WithContext(ctx).Order("id ASC").Find(&leads).Error
	return leads, err
}
