package service

import (
	"context"

	"leadledger/internal/model"
	"leadledger/internal/repository"
)

// ResolveStatus 计算线索的展示状态
//
// 流水是否存在优先于线索自身的 status 字段：
//   - 有流水：Pending -> Converted-Unpaid，Paid -> Paid
//   - 无流水：直接使用线索状态（Pending / Rejected）
//
// Converted 但没有流水违反账本不变量，这里按 Converted-Unpaid 展示，由对账任务报告
func ResolveStatus(lead *model.Lead, trans *model.LeadTransaction) model.EffectiveStatus {
	if trans != nil {
		if trans.IsPaid() {
			return model.EffectivePaid
		}
		return model.EffectiveConvertedUnpaid
	}

	switch lead.Status {
	case model.LeadStatusRejected:
		return model.EffectiveRejected
	case model.LeadStatusConverted:
		return model.EffectiveConvertedUnpaid
	default:
		return model.EffectivePending
	}
}

// LeadView 带展示状态的线索
type LeadView struct {
	*model.Lead
	EffectiveStatus model.EffectiveStatus  `json:"effective_status"`
	Transaction     *model.LeadTransaction `json:"transaction,omitempty"`
}

// resolveLeads 一次查询取回全部流水后逐条计算展示状态
func resolveLeads(ctx context.Context, transRepo *repository.TransactionRepository, leads []*model.Lead) ([]LeadView, error) {
	ids := make([]int64, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.ID)
	}

	transByLead, err := transRepo.MapByLeadIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]LeadView, 0, len(leads))
	for _, l := range leads {
		trans := transByLead[l.ID]
		views = append(views, LeadView{
			Lead:            l,
			EffectiveStatus: ResolveStatus(l, trans),
			Transaction:     trans,
		})
	}
	return views, nil
}
