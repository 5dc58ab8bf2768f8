package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadledger/internal/infrastructure/cache"
	"leadledger/internal/infrastructure/lock"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"
	"leadledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockRetryInterval = 50 * time.Millisecond
	lockMaxRetries    = 3
)

type ConversionService struct {
	db            *gorm.DB
	redis         *redis.Client
	leadRepo      *repository.LeadRepository
	transRepo     *repository.TransactionRepository
	affiliateRepo *repository.AffiliateRepository
	events        *eventWriter
	leaderboard   *cache.LeaderboardCache
	metrics       *metrics.Metrics
	defaultRate   decimal.Decimal
	clock         func() time.Time
	logger        *zap.Logger
}

func NewConversionService(deps Dependencies) *ConversionService {
	deps = deps.withDefaults()
	return &ConversionService{
		db:            deps.DB,
		redis:         deps.Redis,
		leadRepo:      repository.NewLeadRepository(deps.DB),
		transRepo:     repository.NewTransactionRepository(deps.DB),
		affiliateRepo: repository.NewAffiliateRepository(deps.DB),
		events:        newEventWriter(deps),
		leaderboard:   deps.Leaderboard,
		metrics:       deps.Metrics,
		defaultRate:   decimal.NewFromFloat(deps.Config.Business.DefaultRewardRate),
		clock:         deps.Clock,
		logger:        deps.Logger.Named("ConversionService"),
	}
}

// ConvertLeadRequest RewardRate 为空时使用配置的默认比例
type ConvertLeadRequest struct {
	LeadID     int64
	Amount     decimal.Decimal
	RewardRate *decimal.Decimal
}

type ConvertLeadResult struct {
	TransactionID int64           `json:"transaction_id"`
	TransactionNo string          `json:"transaction_no"`
	RewardEarned  decimal.Decimal `json:"reward_earned"`
}

// ConvertLead 线索转化
//
// 【流程】
// 1. 校验金额和比例
// 2. 获取分布式锁（可选，Redis 未启用时跳过）
// 3. 开启事务：
//   - 条件更新线索 Pending -> Converted，写入金额和奖励
//   - 插入流水（lead_id 唯一索引兜底）
//   - 推广者 conversion_count 原子 +1
//   - 写入 outbox 消息
//
// 4. 提交事务，失效排行榜缓存
//
// 【关键点】任意一步失败整个事务回滚，不会出现"线索已转化但没有流水"；
// 并发转化同一线索只有一个成功，其余返回 ConflictError
func (s *ConversionService) ConvertLead(ctx context.Context, req ConvertLeadRequest) (*ConvertLeadResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	rate := s.defaultRate
	if req.RewardRate != nil {
		rate = *req.RewardRate
	}
	if err := validateRewardRate(rate); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reward := CalculateReward(req.Amount, rate)
	trans := &model.LeadTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		LeadID:        req.LeadID,
		Amount:        req.Amount,
		RewardRate:    rate,
		RewardEarned:  reward,
		Status:        model.TransactionStatusPending,
		CreatedAt:     s.clock(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lead, err := s.leadRepo.GetByID(ctx, tx, req.LeadID)
		if err != nil {
			if errors.Is(err, repository.ErrLeadNotFound) {
				return &NotFoundError{Entity: "lead", ID: req.LeadID}
			}
			return fmt.Errorf("查询线索失败: %w", err)
		}
		if lead.Status != model.LeadStatusPending {
			return &ConflictError{Entity: "lead", ID: req.LeadID, Reason: fmt.Sprintf("当前状态 %s 不可转化", lead.Status)}
		}

		err = s.leadRepo.UpdateStatus(ctx, tx, lead.ID, model.LeadStatusPending, model.LeadStatusConverted, map[string]interface{}{
			"amount": req.Amount,
			"reward": reward,
		})
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return &ConflictError{Entity: "lead", ID: req.LeadID, Reason: "已被其他请求处理"}
			}
			return fmt.Errorf("更新线索状态失败: %w", err)
		}

		trans.AffiliateID = lead.AffiliateID
		if err := s.transRepo.Create(ctx, tx, trans); err != nil {
			if errors.Is(err, repository.ErrDuplicateTransaction) {
				return &ConflictError{Entity: "lead", ID: req.LeadID, Reason: "已存在流水"}
			}
			return fmt.Errorf("创建流水失败: %w", err)
		}

		if err := s.affiliateRepo.IncrementCounter(ctx, tx, lead.AffiliateID, repository.CounterConversionCount); err != nil {
			return fmt.Errorf("更新转化计数失败: %w", err)
		}

		return s.events.write(ctx, tx, model.EventLeadConverted, leadKey(lead.ID), map[string]interface{}{
			"lead_id":        lead.ID,
			"affiliate_id":   lead.AffiliateID,
			"transaction_id": trans.ID,
			"transaction_no": trans.TransactionNo,
			"amount":         req.Amount.StringFixed(RewardPrecision),
			"reward_earned":  reward.StringFixed(RewardPrecision),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LeadConverted()
	if err := s.leaderboard.Invalidate(ctx); err != nil {
		s.logger.Warn("排行榜缓存失效失败", zap.Error(err))
	}
	s.logger.Info("线索已转化",
		zap.Int64("lead_id", req.LeadID),
		zap.Int64("transaction_id", trans.ID),
		zap.String("reward", reward.String()))

	return &ConvertLeadResult{
		TransactionID: trans.ID,
		TransactionNo: trans.TransactionNo,
		RewardEarned:  reward,
	}, nil
}

// acquire 获取线索转化锁
// 锁被占用说明有并发请求正在处理同一线索，直接返回冲突；
// Redis 异常时降级为无锁，由数据库约束保证正确性
func (s *ConversionService) acquire(ctx context.Context, leadID int64) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	return acquireLock(ctx, lock.NewConversionLock(s.redis, leadID), "lead", leadID, s.logger)
}

func acquireLock(ctx context.Context, l *lock.DistributedLock, entity string, id int64, log *zap.Logger) (func(), error) {
	err := l.Lock(ctx, lockRetryInterval, lockMaxRetries)
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, &ConflictError{Entity: entity, ID: id, Reason: "正在被其他请求处理"}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("获取分布式锁失败，降级为数据库约束", zap.String("key", l.Key()), zap.Error(err))
		return func() {}, nil
	}

	return func() {
		if err := l.Unlock(context.Background()); err != nil {
			log.Warn("释放分布式锁失败", zap.String("key", l.Key()), zap.Error(err))
		}
	}, nil
}
