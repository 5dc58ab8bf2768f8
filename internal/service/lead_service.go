package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LeadService struct {
	db            *gorm.DB
	leadRepo      *repository.LeadRepository
	affiliateRepo *repository.AffiliateRepository
	events        *eventWriter
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewLeadService(deps Dependencies) *LeadService {
	deps = deps.withDefaults()
	return &LeadService{
		db:            deps.DB,
		leadRepo:      repository.NewLeadRepository(deps.DB),
		affiliateRepo: repository.NewAffiliateRepository(deps.DB),
		events:        newEventWriter(deps),
		metrics:       deps.Metrics,
		logger:        deps.Logger.Named("LeadService"),
	}
}

type SubmitLeadRequest struct {
	ReferralCode        string `json:"referral_code"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
	ProjectRequirements string `json:"project_requirements"`
}

func (r *SubmitLeadRequest) normalize() error {
	r.ReferralCode = strings.TrimSpace(r.ReferralCode)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = normalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.ProjectRequirements = strings.TrimSpace(r.ProjectRequirements)

	if r.Name == "" {
		return invalid("name", "不能为空")
	}
	if r.Email == "" {
		return invalid("email", "不能为空")
	}
	if !strings.Contains(r.Email, "@") {
		return invalid("email", "格式不正确")
	}
	if r.Phone == "" {
		return invalid("phone", "不能为空")
	}
	return nil
}

// SubmitLead 通过推广码提交线索
//
// 【流程】
// 1. 参数校验（失败不产生任何副作用）
// 2. 邮箱预检查：快速返回重复错误
// 3. 开启事务：
//   - 插入线索（Pending），email 唯一索引兜底并发重复提交
//   - 推广者 total_leads 原子 +1
//   - 写入 outbox 消息
//
// 4. 提交事务
func (s *LeadService) SubmitLead(ctx context.Context, req SubmitLeadRequest) (int64, error) {
	if err := req.normalize(); err != nil {
		return 0, err
	}

	exists, err := s.leadRepo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return 0, fmt.Errorf("查询邮箱失败: %w", err)
	}
	if exists {
		return 0, ErrDuplicateEmail
	}

	var lead *model.Lead
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.affiliateRepo.GetByReferralCode(ctx, tx, req.ReferralCode)
		if err != nil {
			if errors.Is(err, repository.ErrAffiliateNotFound) {
				return ErrInvalidReferralCode
			}
			return fmt.Errorf("查询推广者失败: %w", err)
		}

		lead = &model.Lead{
			AffiliateID:         affiliate.ID,
			Name:                req.Name,
			Email:               req.Email,
			Phone:               req.Phone,
			ProjectRequirements: req.ProjectRequirements,
			Status:              model.LeadStatusPending,
		}
		if err := s.leadRepo.Create(ctx, tx, lead); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("创建线索失败: %w", err)
		}

		if err := s.affiliateRepo.IncrementCounter(ctx, tx, affiliate.ID, repository.CounterTotalLeads); err != nil {
			return fmt.Errorf("更新线索计数失败: %w", err)
		}

		return s.events.write(ctx, tx, model.EventLeadSubmitted, leadKey(lead.ID), map[string]interface{}{
			"lead_id":      lead.ID,
			"affiliate_id": affiliate.ID,
			"email":        lead.Email,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.LeadSubmitted()
	s.logger.Info("线索已提交",
		zap.Int64("lead_id", lead.ID),
		zap.Int64("affiliate_id", lead.AffiliateID))
	return lead.ID, nil
}

// RejectLead 拒绝待处理线索
// 只有 Pending 且没有流水的线索可以被拒绝，其余情况返回 ConflictError
func (s *LeadService) RejectLead(ctx context.Context, leadID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lead, err := s.leadRepo.GetByID(ctx, tx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrLeadNotFound) {
				return &NotFoundError{Entity: "lead", ID: leadID}
			}
			return fmt.Errorf("查询线索失败: %w", err)
		}

		if err := s.leadRepo.RejectOpen(ctx, tx, leadID); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return &ConflictError{Entity: "lead", ID: leadID, Reason: fmt.Sprintf("当前状态 %s 不可拒绝", lead.Status)}
			}
			return fmt.Errorf("拒绝线索失败: %w", err)
		}

		return s.events.write(ctx, tx, model.EventLeadRejected, leadKey(leadID), map[string]interface{}{
			"lead_id":      leadID,
			"affiliate_id": lead.AffiliateID,
		})
	})
	if err != nil {
		return err
	}

	s.metrics.LeadRejected()
	s.logger.Info("线索已拒绝", zap.Int64("lead_id", leadID))
	return nil
}
