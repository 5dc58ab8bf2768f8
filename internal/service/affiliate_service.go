package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadledger/internal/model"
	"leadledger/internal/repository"
	"leadledger/pkg/idgen"

	"go.uber.org/zap"
)

// referralCodeAttempts 推广码冲突时的最大重试次数
const referralCodeAttempts = 5

type AffiliateService struct {
	affiliateRepo *repository.AffiliateRepository
	codePrefix    string
	adminUserIDs  map[string]struct{}
	logger        *zap.Logger
}

func NewAffiliateService(deps Dependencies) *AffiliateService {
	deps = deps.withDefaults()

	admins := make(map[string]struct{}, len(deps.Config.Business.AdminUserIDs))
	for _, id := range deps.Config.Business.AdminUserIDs {
		admins[strings.TrimSpace(id)] = struct{}{}
	}

	return &AffiliateService{
		affiliateRepo: repository.NewAffiliateRepository(deps.DB),
		codePrefix:    deps.Config.Business.ReferralCodePrefix,
		adminUserIDs:  admins,
		logger:        deps.Logger.Named("AffiliateService"),
	}
}

// EnsureAffiliate 首次登录时建档，重复调用返回同一个推广者
//
// 并发注册依赖 user_id 唯一索引收敛到一条记录；
// 推广码冲突（极低概率）时重新生成，最多重试 referralCodeAttempts 次
func (s *AffiliateService) EnsureAffiliate(ctx context.Context, userID, name, email string) (*model.Affiliate, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "不能为空")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = userID
	}

	role := model.RoleAffiliate
	if _, ok := s.adminUserIDs[userID]; ok {
		role = model.RoleAdmin
	}

	existing, err := s.affiliateRepo.GetByUserID(ctx, userID)
	if err == nil {
		return s.syncRole(ctx, existing, role)
	}
	if !errors.Is(err, repository.ErrAffiliateNotFound) {
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := idgen.GenerateReferralCode(s.codePrefix)
		if err != nil {
			return nil, fmt.Errorf("生成推广码失败: %w", err)
		}

		affiliate, err := s.affiliateRepo.GetOrCreate(ctx, &model.Affiliate{
			UserID:       userID,
			Name:         name,
			Email:        normalizeEmail(email),
			ReferralCode: code,
			Role:         role,
		})
		if err == nil {
			return s.syncRole(ctx, affiliate, role)
		}
		// MySQL 的 ON DUPLICATE KEY 对推广码冲突同样静默，表现为插入后读不到
		if errors.Is(err, repository.ErrDuplicateAffiliate) || errors.Is(err, repository.ErrAffiliateNotFound) {
			s.logger.Warn("推广码冲突，重新生成", zap.String("user_id", userID), zap.Int("attempt", attempt+1))
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("创建推广者失败: %w", err)
	}
	return nil, fmt.Errorf("创建推广者失败，推广码重试次数耗尽: %w", lastErr)
}

// syncRole 配置里新增的管理员在下次登录时生效
func (s *AffiliateService) syncRole(ctx context.Context, affiliate *model.Affiliate, role string) (*model.Affiliate, error) {
	if role != model.RoleAdmin || affiliate.IsAdmin() {
		return affiliate, nil
	}
	if err := s.affiliateRepo.SetRole(ctx, affiliate.ID, role); err != nil {
		return nil, fmt.Errorf("更新角色失败: %w", err)
	}
	affiliate.Role = role
	return affiliate, nil
}

// LookupReferral 推广落地页：推广码 -> 推广者展示名
func (s *AffiliateService) LookupReferral(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidReferralCode
	}
	affiliate, err := s.affiliateRepo.GetByReferralCode(ctx, nil, code)
	if err != nil {
		if errors.Is(err, repository.ErrAffiliateNotFound) {
			return "", ErrInvalidReferralCode
		}
		return "", err
	}
	return affiliate.Name, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
