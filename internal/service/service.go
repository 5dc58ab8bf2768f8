package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadledger/internal/config"
	"leadledger/internal/infrastructure/cache"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 服务依赖
// Redis / Metrics / Leaderboard 均可为空：锁和缓存只是优化，账本正确性只依赖数据库
type Dependencies struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Leaderboard *cache.LeaderboardCache
	Clock       func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	return d
}

// Actor 当前调用者，由身份中间件在每个请求里解析一次后显式传入
type Actor struct {
	AffiliateID int64
	Role        string
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// eventWriter 在业务事务内写入 outbox 消息
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
	topic      string
	clock      func() time.Time
}

func newEventWriter(d Dependencies) *eventWriter {
	return &eventWriter{
		outboxRepo: repository.NewOutboxRepository(d.DB),
		topic:      d.Config.Kafka.Topic.LeadEvents,
		clock:      d.Clock,
	}
}

func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, eventType, key string, payload map[string]interface{}) error {
	payload["event_type"] = eventType
	payload["occurred_at"] = w.clock().UTC().Format(time.RFC3339Nano)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	topic := w.topic
	if topic == "" {
		topic = "lead_events"
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func leadKey(leadID int64) string {
	return fmt.Sprintf("lead-%d", leadID)
}
