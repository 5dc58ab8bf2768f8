package service

import (
	"context"
	"fmt"

	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 违规类型
const (
	ViolationConvertedWithoutTransaction = "converted_without_transaction"
	ViolationOpenLeadWithTransaction     = "open_lead_with_transaction"
	ViolationPaidWithoutPaidAt           = "paid_without_paid_at"
	ViolationPaidBeforeCreated           = "paid_before_created"
	ViolationPendingWithPaidAt           = "pending_with_paid_at"
	ViolationAffiliateMismatch           = "affiliate_mismatch"
	ViolationOrphanTransaction           = "orphan_transaction"
	ViolationEarnedDivergence            = "earned_divergence"
)

type Violation struct {
	Kind          string `json:"kind"`
	LeadID        int64  `json:"lead_id,omitempty"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	AffiliateID   int64  `json:"affiliate_id,omitempty"`
	Detail        string `json:"detail"`
}

type AuditReport struct {
	CheckedLeads        int         `json:"checked_leads"`
	CheckedTransactions int         `json:"checked_transactions"`
	CheckedAffiliates   int         `json:"checked_affiliates"`
	Violations          []Violation `json:"violations"`
}

func (r *AuditReport) add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// AuditService 全量核对账本不变量
type AuditService struct {
	affiliateRepo *repository.AffiliateRepository
	leadRepo      *repository.LeadRepository
	transRepo     *repository.TransactionRepository
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewAuditService(deps Dependencies) *AuditService {
	deps = deps.withDefaults()
	return &AuditService{
		affiliateRepo: repository.NewAffiliateRepository(deps.DB),
		leadRepo:      repository.NewLeadRepository(deps.DB),
		transRepo:     repository.NewTransactionRepository(deps.DB),
		metrics:       deps.Metrics,
		logger:        deps.Logger.Named("Audit"),
	}
}

// Audit 检查项：
//   - Converted 线索必须恰好有一笔流水，Pending / Rejected 线索不能有流水
//   - Paid 流水必须有 paid_at 且不早于 created_at，Pending 流水不能有 paid_at
//   - 流水的 affiliate_id 与线索一致
//   - 推广者 total_earned 缓存等于已支付流水之和
func (s *AuditService) Audit(ctx context.Context) (*AuditReport, error) {
	leads, err := s.leadRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询线索失败: %w", err)
	}
	transactions, err := s.transRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	affiliates, err := s.affiliateRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}

	report := &AuditReport{
		CheckedLeads:        len(leads),
		CheckedTransactions: len(transactions),
		CheckedAffiliates:   len(affiliates),
		Violations:          []Violation{},
	}

	transByLead := make(map[int64]*model.LeadTransaction, len(transactions))
	paidByAffiliate := make(map[int64]decimal.Decimal, len(affiliates))
	for _, t := range transactions {
		transByLead[t.LeadID] = t
		if t.IsPaid() {
			paidByAffiliate[t.AffiliateID] = paidByAffiliate[t.AffiliateID].Add(t.RewardEarned)
		}
		checkTransaction(report, t)
	}

	leadByID := make(map[int64]*model.Lead, len(leads))
	for _, l := range leads {
		leadByID[l.ID] = l
		trans := transByLead[l.ID]

		switch {
		case l.Status == model.LeadStatusConverted && trans == nil:
			report.add(Violation{
				Kind:        ViolationConvertedWithoutTransaction,
				LeadID:      l.ID,
				AffiliateID: l.AffiliateID,
				Detail:      "线索已转化但没有流水",
			})
		case l.Status != model.LeadStatusConverted && trans != nil:
			report.add(Violation{
				Kind:          ViolationOpenLeadWithTransaction,
				LeadID:        l.ID,
				TransactionID: trans.ID,
				AffiliateID:   l.AffiliateID,
				Detail:        fmt.Sprintf("线索状态为 %s 但存在流水", l.Status),
			})
		}

		if trans != nil && trans.AffiliateID != l.AffiliateID {
			report.add(Violation{
				Kind:          ViolationAffiliateMismatch,
				LeadID:        l.ID,
				TransactionID: trans.ID,
				AffiliateID:   trans.AffiliateID,
				Detail:        fmt.Sprintf("流水推广者 %d 与线索推广者 %d 不一致", trans.AffiliateID, l.AffiliateID),
			})
		}
	}

	for _, t := range transactions {
		if _, ok := leadByID[t.LeadID]; !ok {
			report.add(Violation{
				Kind:          ViolationOrphanTransaction,
				LeadID:        t.LeadID,
				TransactionID: t.ID,
				AffiliateID:   t.AffiliateID,
				Detail:        "流水引用的线索不存在",
			})
		}
	}

	for _, a := range affiliates {
		live := paidByAffiliate[a.ID]
		if !a.TotalEarned.Equal(live) {
			report.add(Violation{
				Kind:        ViolationEarnedDivergence,
				AffiliateID: a.ID,
				Detail:      fmt.Sprintf("total_earned=%s 实时汇总=%s", a.TotalEarned.String(), live.String()),
			})
		}
	}

	s.metrics.SetAuditViolations(len(report.Violations))
	if len(report.Violations) > 0 {
		s.logger.Warn("账本核对发现异常", zap.Int("violations", len(report.Violations)))
	}
	return report, nil
}

func checkTransaction(report *AuditReport, t *model.LeadTransaction) {
	switch {
	case t.IsPaid() && t.PaidAt == nil:
		report.add(Violation{
			Kind:          ViolationPaidWithoutPaidAt,
			LeadID:        t.LeadID,
			TransactionID: t.ID,
			AffiliateID:   t.AffiliateID,
			Detail:        "已支付流水缺少 paid_at",
		})
	case t.IsPaid() && t.PaidAt.Before(t.CreatedAt):
		report.add(Violation{
			Kind:          ViolationPaidBeforeCreated,
			LeadID:        t.LeadID,
			TransactionID: t.ID,
			AffiliateID:   t.AffiliateID,
			Detail:        "paid_at 早于 created_at",
		})
	case !t.IsPaid() && t.PaidAt != nil:
		report.add(Violation{
			Kind:          ViolationPendingWithPaidAt,
			LeadID:        t.LeadID,
			TransactionID: t.ID,
			AffiliateID:   t.AffiliateID,
			Detail:        "待支付流水存在 paid_at",
		})
	}
}
