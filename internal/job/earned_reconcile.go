package job

import (
	"context"
	"sync"
	"time"

	"leadledger/internal/service"

	"go.uber.org/zap"
)

const defaultReconcileInterval = 5 * time.Minute

// EarnedReconcileJob 定期用实时汇总刷新 total_earned 缓存，然后全量核对账本
type EarnedReconcileJob struct {
	reports  *service.ReportService
	audit    *service.AuditService
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration
}

func NewEarnedReconcileJob(reports *service.ReportService, audit *service.AuditService, interval time.Duration, log *zap.Logger) *EarnedReconcileJob {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &EarnedReconcileJob{
		reports:  reports,
		audit:    audit,
		logger:   log.Named("EarnedReconcileJob"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *EarnedReconcileJob) Start(ctx context.Context) {
	j.logger.Info("对账任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// Stop 可重复调用
func (j *EarnedReconcileJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// runOnce 返回核对发现的异常条数
//
// 先刷新再核对：过期的 total_earned 在刷新时被改写，并计入
// earned_cache_divergence_total 指标，所以本轮核对不会再报 earned_divergence；
// 核对只报告刷新无法修复的问题
func (j *EarnedReconcileJob) runOnce(ctx context.Context) int {
	refreshed, err := j.reports.RefreshAllEarned(ctx)
	if err != nil {
		j.logger.Error("刷新 total_earned 失败", zap.Error(err))
	}
	if refreshed > 0 {
		j.logger.Info("total_earned 已刷新", zap.Int("affiliates", refreshed))
	}

	report, err := j.audit.Audit(ctx)
	if err != nil {
		j.logger.Error("账本核对失败", zap.Error(err))
		return 0
	}

	for _, v := range report.Violations {
		j.logger.Warn("账本异常",
			zap.String("kind", v.Kind),
			zap.Int64("lead_id", v.LeadID),
			zap.Int64("transaction_id", v.TransactionID),
			zap.Int64("affiliate_id", v.AffiliateID),
			zap.String("detail", v.Detail))
	}
	return len(report.Violations)
}
