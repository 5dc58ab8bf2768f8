package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"leadledger/internal/infrastructure/cache"
	"leadledger/internal/infrastructure/lock"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	PaymentVariantQuick = "quick"
	PaymentVariantProof = "proof"
)

// proofURLPattern http(s) 协议，主机名至少包含一个点，路径可选
var proofURLPattern = regexp.MustCompile(`^https?://[^\s/?#]+\.[^\s/?#]+([/?#]\S*)?$`)

type PaymentService struct {
	db          *gorm.DB
	redis       *redis.Client
	transRepo   *repository.TransactionRepository
	events      *eventWriter
	leaderboard *cache.LeaderboardCache
	metrics     *metrics.Metrics
	clock       func() time.Time
	logger      *zap.Logger
}

func NewPaymentService(deps Dependencies) *PaymentService {
	deps = deps.withDefaults()
	return &PaymentService{
		db:          deps.DB,
		redis:       deps.Redis,
		transRepo:   repository.NewTransactionRepository(deps.DB),
		events:      newEventWriter(deps),
		leaderboard: deps.Leaderboard,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("PaymentService"),
	}
}

// PaymentProof 支付凭证
type PaymentProof struct {
	ReferenceID string `json:"reference_id"`
	ProofURL    string `json:"proof_url"`
	Notes       string `json:"notes"`
}

func (p *PaymentProof) normalize() error {
	p.ReferenceID = strings.TrimSpace(p.ReferenceID)
	p.ProofURL = strings.TrimSpace(p.ProofURL)
	p.Notes = strings.TrimSpace(p.Notes)

	if p.ReferenceID == "" {
		return invalid("reference_id", "不能为空")
	}
	if !proofURLPattern.MatchString(p.ProofURL) {
		return invalid("proof_url", "必须是有效的 http(s) 地址")
	}
	return nil
}

// MarkPaid 标记流水已支付，proof 为空即快速标记
//
// 【流程】
// 1. 校验凭证（失败不产生任何副作用）
// 2. 获取分布式锁（可选）
// 3. 开启事务：
//   - 条件更新流水 Pending -> Paid，paid_at 取 max(当前时间, 创建时间)
//   - 写入 outbox 消息
//
// 4. 提交事务，失效排行榜缓存
//
// 不修改推广者计数，已支付总额在读取时实时汇总
func (s *PaymentService) MarkPaid(ctx context.Context, transactionID int64, proof *PaymentProof) error {
	variant := PaymentVariantQuick
	var repoProof *repository.PaymentProof
	if proof != nil {
		if err := proof.normalize(); err != nil {
			return err
		}
		variant = PaymentVariantProof
		repoProof = &repository.PaymentProof{
			ReferenceID: proof.ReferenceID,
			ProofURL:    proof.ProofURL,
			Notes:       proof.Notes,
		}
	}

	unlock, err := s.acquire(ctx, transactionID)
	if err != nil {
		return err
	}
	defer unlock()

	var trans *model.LeadTransaction
	var paidAt time.Time
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.transRepo.GetByID(ctx, tx, transactionID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return &NotFoundError{Entity: "transaction", ID: transactionID}
			}
			return fmt.Errorf("查询流水失败: %w", err)
		}
		if trans.IsPaid() {
			return &ConflictError{Entity: "transaction", ID: transactionID, Reason: "已支付"}
		}

		// 时钟回拨时保证 paid_at 不早于 created_at
		paidAt = s.clock()
		if paidAt.Before(trans.CreatedAt) {
			paidAt = trans.CreatedAt
		}

		if err := s.transRepo.MarkPaid(ctx, tx, transactionID, paidAt, repoProof); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return &ConflictError{Entity: "transaction", ID: transactionID, Reason: "已被其他请求处理"}
			}
			return fmt.Errorf("更新流水状态失败: %w", err)
		}

		return s.events.write(ctx, tx, model.EventTransactionPaid, leadKey(trans.LeadID), map[string]interface{}{
			"transaction_id": trans.ID,
			"transaction_no": trans.TransactionNo,
			"lead_id":        trans.LeadID,
			"affiliate_id":   trans.AffiliateID,
			"reward_earned":  trans.RewardEarned.StringFixed(RewardPrecision),
			"variant":        variant,
			"paid_at":        paidAt.UTC().Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return err
	}

	s.metrics.TransactionPaid(variant)
	if err := s.leaderboard.Invalidate(ctx); err != nil {
		s.logger.Warn("排行榜缓存失效失败", zap.Error(err))
	}
	s.logger.Info("流水已支付",
		zap.Int64("transaction_id", transactionID),
		zap.Int64("affiliate_id", trans.AffiliateID),
		zap.String("variant", variant))
	return nil
}

func (s *PaymentService) acquire(ctx context.Context, transactionID int64) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	return acquireLock(ctx, lock.NewPaymentLock(s.redis, transactionID), "transaction", transactionID, s.logger)
}
