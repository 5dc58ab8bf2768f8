package repository

import (
	"context"
	"errors"

	"leadledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 允许原子自增的计数字段
const (
	CounterTotalLeads      = "total_leads"
	CounterConversionCount = "conversion_count"
)

type AffiliateRepository struct {
	db *gorm.DB
}

func NewAffiliateRepository(db *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

func (r *AffiliateRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AffiliateRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Affiliate, error) {
	var affiliate model.Affiliate
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&affiliate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAffiliateNotFound
		}
		return nil, err
	}
	return &affiliate, nil
}

func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID string) (*model.Affiliate, error) {
	var affiliate model.Affiliate
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&affiliate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAffiliateNotFound
		}
		return nil, err
	}
	return &affiliate, nil
}

func (r *AffiliateRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Affiliate, error) {
	var affiliate model.Affiliate
	err := r.conn(tx).WithContext(ctx).Where("referral_code = ?", code).First(&affiliate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAffiliateNotFound
		}
		return nil, err
	}
	return &affiliate, nil
}

func (r *AffiliateRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*model.Affiliate, error) {
	result := make(map[int64]*model.Affiliate, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var affiliates []*model.Affiliate
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&affiliates).Error; err != nil {
		return nil, err
	}
	for _, a := range affiliates {
		result[a.ID] = a
	}
	return result, nil
}

// GetOrCreate 按 user_id 获取推广者，不存在则创建
//
// 【关键点】并发注册时依赖 user_id 唯一索引 + ON CONFLICT DO NOTHING，
// 最终只会有一条记录，所有调用方读到的都是同一个推广者
func (r *AffiliateRepository) GetOrCreate(ctx context.Context, affiliate *model.Affiliate) (*model.Affiliate, error) {
	existing, err := r.GetByUserID(ctx, affiliate.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAffiliateNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(affiliate).Error
	if err != nil {
		if IsDuplicateKey(err) {
			return nil, ErrDuplicateAffiliate
		}
		return nil, err
	}

	return r.GetByUserID(ctx, affiliate.UserID)
}

// IncrementCounter 服务端原子自增，避免"先读后写"丢失更新
func (r *AffiliateRepository) IncrementCounter(ctx context.Context, tx *gorm.DB, id int64, column string) error {
	if column != CounterTotalLeads && column != CounterConversionCount {
		return ErrInvalidCounter
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAffiliateNotFound
	}
	return nil
}

// UpdateTotalEarned 回写缓存字段，值来自已支付流水的实时汇总
func (r *AffiliateRepository) UpdateTotalEarned(ctx context.Context, id int64, total decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&model.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn("total_earned", total)
	// MySQL 在值未变化时 RowsAffected 为 0，这里不据此判断记录是否存在
	return result.Error
}

// List 按创建时间升序返回全部推广者（排行榜平局规则依赖此顺序）
func (r *AffiliateRepository) List(ctx context.Context) ([]*model.Affiliate, error) {
	var affiliates []*model.Affiliate
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&affiliates).Error
	return affiliates, err
}

func (r *AffiliateRepository) SetRole(ctx context.Context, id int64, role string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn("role", role)
	return result.Error
}
