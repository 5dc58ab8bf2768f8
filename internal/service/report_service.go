package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"leadledger/internal/infrastructure/cache"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/model"
	"leadledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	LeaderboardByEarnings    = "earnings"
	LeaderboardByConversions = "conversions"

	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100

	// RecentLeadsLimit 仪表盘展示的最近线索数
	RecentLeadsLimit = 5
)

// ReportService 汇总与报表，全部是只读快照查询
type ReportService struct {
	affiliateRepo *repository.AffiliateRepository
	leadRepo      *repository.LeadRepository
	transRepo     *repository.TransactionRepository
	leaderboard   *cache.LeaderboardCache
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewReportService(deps Dependencies) *ReportService {
	deps = deps.withDefaults()
	return &ReportService{
		affiliateRepo: repository.NewAffiliateRepository(deps.DB),
		leadRepo:      repository.NewLeadRepository(deps.DB),
		transRepo:     repository.NewTransactionRepository(deps.DB),
		leaderboard:   deps.Leaderboard,
		metrics:       deps.Metrics,
		logger:        deps.Logger.Named("ReportService"),
	}
}

// Totals 推广者奖励汇总
type Totals struct {
	Pending decimal.Decimal `json:"pending"`
	Paid    decimal.Decimal `json:"paid"`
}

func (s *ReportService) getAffiliate(ctx context.Context, affiliateID int64) (*model.Affiliate, error) {
	affiliate, err := s.affiliateRepo.GetByID(ctx, nil, affiliateID)
	if err != nil {
		if errors.Is(err, repository.ErrAffiliateNotFound) {
			return nil, &NotFoundError{Entity: "affiliate", ID: affiliateID}
		}
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}
	return affiliate, nil
}

// Totals 待支付 / 已支付奖励总额，读取时实时汇总
func (s *ReportService) Totals(ctx context.Context, affiliateID int64) (*Totals, error) {
	rows, err := s.transRepo.RewardsByAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("查询奖励失败: %w", err)
	}

	var paid, pending []decimal.Decimal
	for _, row := range rows {
		switch row.Status {
		case model.TransactionStatusPaid:
			paid = append(paid, row.RewardEarned)
		case model.TransactionStatusPending:
			pending = append(pending, row.RewardEarned)
		}
	}
	return &Totals{Pending: SumRewards(pending...), Paid: SumRewards(paid...)}, nil
}

// RefreshEarned 用已支付流水的实时汇总回写 total_earned 缓存
// 实时汇总是权威值，缓存与之不一致时记录并覆盖
func (s *ReportService) RefreshEarned(ctx context.Context, affiliateID int64) (decimal.Decimal, error) {
	affiliate, err := s.getAffiliate(ctx, affiliateID)
	if err != nil {
		return decimal.Zero, err
	}
	totals, err := s.Totals(ctx, affiliateID)
	if err != nil {
		return decimal.Zero, err
	}

	if affiliate.TotalEarned.Equal(totals.Paid) {
		return totals.Paid, nil
	}

	s.metrics.EarnedDivergence()
	s.logger.Info("total_earned 缓存已过期，按实时汇总回写",
		zap.Int64("affiliate_id", affiliateID),
		zap.String("stored", affiliate.TotalEarned.String()),
		zap.String("live", totals.Paid.String()))

	if err := s.affiliateRepo.UpdateTotalEarned(ctx, affiliateID, totals.Paid); err != nil {
		return decimal.Zero, fmt.Errorf("回写 total_earned 失败: %w", err)
	}
	return totals.Paid, nil
}

// RefreshAllEarned 逐个刷新推广者的 total_earned，返回实际被改写的数量
func (s *ReportService) RefreshAllEarned(ctx context.Context) (int, error) {
	affiliates, err := s.affiliateRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("查询推广者失败: %w", err)
	}

	refreshed := 0
	for _, a := range affiliates {
		before := a.TotalEarned
		total, err := s.RefreshEarned(ctx, a.ID)
		if err != nil {
			return refreshed, err
		}
		if !before.Equal(total) {
			refreshed++
		}
	}
	return refreshed, nil
}

type Dashboard struct {
	ReferralCode    string          `json:"referral_code"`
	TotalLeads      int64           `json:"total_leads"`
	ConversionCount int64           `json:"conversion_count"`
	PendingTotal    decimal.Decimal `json:"pending_total"`
	PaidTotal       decimal.Decimal `json:"paid_total"`
	RecentLeads     []LeadView      `json:"recent_leads"`
}

func (s *ReportService) Dashboard(ctx context.Context, affiliateID int64) (*Dashboard, error) {
	affiliate, err := s.getAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	totals, err := s.Totals(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	leads, err := s.leadRepo.ListByAffiliate(ctx, affiliateID, "", RecentLeadsLimit)
	if err != nil {
		return nil, fmt.Errorf("查询线索失败: %w", err)
	}
	recent, err := resolveLeads(ctx, s.transRepo, leads)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}

	return &Dashboard{
		ReferralCode:    affiliate.ReferralCode,
		TotalLeads:      affiliate.TotalLeads,
		ConversionCount: affiliate.ConversionCount,
		PendingTotal:    totals.Pending,
		PaidTotal:       totals.Paid,
		RecentLeads:     recent,
	}, nil
}

// ListLeads 推广者线索列表
// search 匹配姓名 / 邮箱 / 电话；statusFilter 为空或 All 时不过滤，否则按展示状态过滤
func (s *ReportService) ListLeads(ctx context.Context, affiliateID int64, search, statusFilter string) ([]LeadView, error) {
	var filter model.EffectiveStatus
	if statusFilter = strings.TrimSpace(statusFilter); statusFilter != "" && !strings.EqualFold(statusFilter, "all") {
		filter = model.EffectiveStatus(statusFilter)
		if !filter.Valid() {
			return nil, invalid("status", "不支持的状态")
		}
	}

	leads, err := s.leadRepo.ListByAffiliate(ctx, affiliateID, search, 0)
	if err != nil {
		return nil, fmt.Errorf("查询线索失败: %w", err)
	}
	views, err := resolveLeads(ctx, s.transRepo, leads)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if filter == "" {
		return views, nil
	}

	filtered := make([]LeadView, 0, len(views))
	for _, v := range views {
		if v.EffectiveStatus == filter {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

type WalletEntry struct {
	*model.LeadTransaction
	LeadName  string `json:"lead_name"`
	LeadEmail string `json:"lead_email"`
}

type Wallet struct {
	Transactions []WalletEntry   `json:"transactions"`
	PendingTotal decimal.Decimal `json:"pending_total"`
	PaidTotal    decimal.Decimal `json:"paid_total"`
	TotalEarned  decimal.Decimal `json:"total_earned"`
}

// Wallet 钱包：流水明细（最新在前）与汇总，汇总等于明细之和
func (s *ReportService) Wallet(ctx context.Context, affiliateID int64) (*Wallet, error) {
	totalEarned, err := s.RefreshEarned(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.transRepo.ListByAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	leads, err := s.leadRepo.GetByIDs(ctx, leadIDsOf(transactions))
	if err != nil {
		return nil, fmt.Errorf("查询线索失败: %w", err)
	}

	wallet := &Wallet{
		Transactions: make([]WalletEntry, 0, len(transactions)),
		TotalEarned:  totalEarned,
	}
	var paid, pending []decimal.Decimal
	for _, t := range transactions {
		entry := WalletEntry{LeadTransaction: t}
		if lead, ok := leads[t.LeadID]; ok {
			entry.LeadName = lead.Name
			entry.LeadEmail = lead.Email
		}
		wallet.Transactions = append(wallet.Transactions, entry)

		if t.IsPaid() {
			paid = append(paid, t.RewardEarned)
		} else {
			pending = append(pending, t.RewardEarned)
		}
	}
	wallet.PaidTotal = SumRewards(paid...)
	wallet.PendingTotal = SumRewards(pending...)
	return wallet, nil
}

type Invoice struct {
	TransactionID      int64           `json:"transaction_id"`
	TransactionNo      string          `json:"transaction_no"`
	AffiliateName      string          `json:"affiliate_name"`
	LeadName           string          `json:"lead_name"`
	Amount             decimal.Decimal `json:"amount"`
	RewardRate         decimal.Decimal `json:"reward_rate"`
	RewardEarned       decimal.Decimal `json:"reward_earned"`
	CreatedAt          time.Time       `json:"created_at"`
	PaidAt             time.Time       `json:"paid_at"`
	PaymentReferenceID string          `json:"payment_reference_id"`
	PaymentProofURL    string          `json:"payment_proof_url"`
	PaymentNotes       string          `json:"payment_notes"`
}

// Invoice 已支付流水的凭证，推广者只能查看自己的流水
func (s *ReportService) Invoice(ctx context.Context, actor Actor, transactionID int64) (*Invoice, error) {
	trans, err := s.transRepo.GetByID(ctx, nil, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, &NotFoundError{Entity: "transaction", ID: transactionID}
		}
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if !actor.IsAdmin() && trans.AffiliateID != actor.AffiliateID {
		return nil, ErrForbidden
	}
	if !trans.IsPaid() || trans.PaidAt == nil {
		return nil, &ConflictError{Entity: "transaction", ID: transactionID, Reason: "尚未支付"}
	}

	invoice := &Invoice{
		TransactionID:      trans.ID,
		TransactionNo:      trans.TransactionNo,
		Amount:             trans.Amount,
		RewardRate:         trans.RewardRate,
		RewardEarned:       trans.RewardEarned,
		CreatedAt:          trans.CreatedAt,
		PaidAt:             *trans.PaidAt,
		PaymentReferenceID: trans.PaymentReferenceID,
		PaymentProofURL:    trans.PaymentProofURL,
		PaymentNotes:       trans.PaymentNotes,
	}
	if lead, err := s.leadRepo.GetByID(ctx, nil, trans.LeadID); err == nil {
		invoice.LeadName = lead.Name
	}
	if affiliate, err := s.affiliateRepo.GetByID(ctx, nil, trans.AffiliateID); err == nil {
		invoice.AffiliateName = affiliate.Name
	}
	return invoice, nil
}

type LeaderboardEntry struct {
	Rank            int             `json:"rank"`
	AffiliateID     int64           `json:"affiliate_id"`
	Name            string          `json:"name"`
	ConversionCount int64           `json:"conversion_count"`
	PaidTotal       decimal.Decimal `json:"paid_total"`
}

// Leaderboard 排行榜，按已支付总额或转化数降序
// 平局按推广者创建时间升序、ID 升序；结果可能来自短 TTL 缓存
func (s *ReportService) Leaderboard(ctx context.Context, by string, limit int) ([]LeaderboardEntry, error) {
	if by == "" {
		by = LeaderboardByEarnings
	}
	if by != LeaderboardByEarnings && by != LeaderboardByConversions {
		return nil, invalid("by", "只支持 earnings / conversions")
	}
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	// 版本号必须在构建快照之前读取
	version, err := s.leaderboard.Version(ctx)
	if err != nil {
		s.logger.Warn("读取排行榜缓存版本失败", zap.Error(err))
		return s.buildLeaderboard(ctx, by, limit)
	}

	var cached []LeaderboardEntry
	hit, err := s.leaderboard.Get(ctx, version, by, limit, &cached)
	if err != nil {
		s.logger.Warn("读取排行榜缓存失败", zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	entries, err := s.buildLeaderboard(ctx, by, limit)
	if err != nil {
		return nil, err
	}

	if err := s.leaderboard.Set(ctx, version, by, limit, entries); err != nil {
		s.logger.Warn("写入排行榜缓存失败", zap.Error(err))
	}
	return entries, nil
}

func (s *ReportService) buildLeaderboard(ctx context.Context, by string, limit int) ([]LeaderboardEntry, error) {
	// 按创建时间升序，稳定排序后平局保持该顺序
	affiliates, err := s.affiliateRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询推广者失败: %w", err)
	}
	rows, err := s.transRepo.RewardsByStatus(ctx, model.TransactionStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("查询奖励失败: %w", err)
	}

	paid := make(map[int64][]decimal.Decimal, len(affiliates))
	for _, row := range rows {
		paid[row.AffiliateID] = append(paid[row.AffiliateID], row.RewardEarned)
	}

	entries := make([]LeaderboardEntry, 0, len(affiliates))
	for _, a := range affiliates {
		entries = append(entries, LeaderboardEntry{
			AffiliateID:     a.ID,
			Name:            a.Name,
			ConversionCount: a.ConversionCount,
			PaidTotal:       SumRewards(paid[a.ID]...),
		})
	}

	if by == LeaderboardByConversions {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].ConversionCount > entries[j].ConversionCount
		})
	} else {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].PaidTotal.GreaterThan(entries[j].PaidTotal)
		})
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func leadIDsOf(transactions []*model.LeadTransaction) []int64 {
	ids := make([]int64, 0, len(transactions))
	for _, t := range transactions {
		ids = append(ids, t.LeadID)
	}
	return ids
}

// matchesSearch 不区分大小写的包含匹配，search 为空时总是匹配
func matchesSearch(search string, fields ...string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}
