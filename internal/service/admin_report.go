package service

import (
	"context"
	"fmt"

	"leadledger/internal/model"
)

type AdminStats struct {
	OpenLeads       int64 `json:"open_leads"`
	ConvertedUnpaid int64 `json:"converted_unpaid"`
	Paid            int64 `json:"paid"`
}

// AdminStats 待处理线索数按差集统计，脏数据（Pending 但已有流水）不计入
func (s *ReportService) AdminStats(ctx context.Context) (*AdminStats, error) {
	open, err := s.leadRepo.CountOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计待处理线索失败: %w", err)
	}
	unpaid, err := s.transRepo.CountByStatus(ctx, model.TransactionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("统计待支付流水失败: %w", err)
	}
	paid, err := s.transRepo.CountByStatus(ctx, model.TransactionStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("统计已支付流水失败: %w", err)
	}
	return &AdminStats{OpenLeads: open, ConvertedUnpaid: unpaid, Paid: paid}, nil
}

type AdminLeadView struct {
	*model.Lead
	AffiliateName  string `json:"affiliate_name"`
	AffiliateEmail string `json:"affiliate_email"`
	ReferralCode   string `json:"referral_code"`
}

// ListOpenLeads 待处理线索，search 匹配线索姓名 / 邮箱与推广者姓名
func (s *ReportService) ListOpenLeads(ctx context.Context, search string) ([]AdminLeadView, error) {
	leads, err := s.leadRepo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询待处理线索失败: %w", err)
	}

	ids := make([]int64, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.AffiliateID)
	}
	affiliates, err := s.affiliateRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}

	views := make([]AdminLeadView, 0, len(leads))
	for _, l := range leads {
		view := AdminLeadView{Lead: l}
		if a, ok := affiliates[l.AffiliateID]; ok {
			view.AffiliateName = a.Name
			view.AffiliateEmail = a.Email
			view.ReferralCode = a.ReferralCode
		}
		if !matchesSearch(search, l.Name, l.Email, view.AffiliateName) {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

type AdminTransactionView struct {
	*model.LeadTransaction
	LeadName       string `json:"lead_name"`
	LeadEmail      string `json:"lead_email"`
	LeadPhone      string `json:"lead_phone"`
	AffiliateName  string `json:"affiliate_name"`
	AffiliateEmail string `json:"affiliate_email"`
}

// ListConvertedUnpaid 待支付流水，最新在前
func (s *ReportService) ListConvertedUnpaid(ctx context.Context, search string) ([]AdminTransactionView, error) {
	return s.listTransactions(ctx, model.TransactionStatusPending, search)
}

// ListPaid 已支付流水，按支付时间倒序
func (s *ReportService) ListPaid(ctx context.Context, search string) ([]AdminTransactionView, error) {
	return s.listTransactions(ctx, model.TransactionStatusPaid, search)
}

func (s *ReportService) listTransactions(ctx context.Context, status, search string) ([]AdminTransactionView, error) {
	transactions, err := s.transRepo.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}

	leads, err := s.leadRepo.GetByIDs(ctx, leadIDsOf(transactions))
	if err != nil {
		return nil, fmt.Errorf("查询线索失败: %w", err)
	}
	affiliateIDs := make([]int64, 0, len(transactions))
	for _, t := range transactions {
		affiliateIDs = append(affiliateIDs, t.AffiliateID)
	}
	affiliates, err := s.affiliateRepo.GetByIDs(ctx, affiliateIDs)
	if err != nil {
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}

	views := make([]AdminTransactionView, 0, len(transactions))
	for _, t := range transactions {
		view := AdminTransactionView{LeadTransaction: t}
		if l, ok := leads[t.LeadID]; ok {
			view.LeadName = l.Name
			view.LeadEmail = l.Email
			view.LeadPhone = l.Phone
		}
		if a, ok := affiliates[t.AffiliateID]; ok {
			view.AffiliateName = a.Name
			view.AffiliateEmail = a.Email
		}
		if !matchesSearch(search, view.LeadName, view.LeadEmail, view.AffiliateName) {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}
