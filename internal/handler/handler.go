package handler

import (
	"errors"
	"strconv"

	"leadledger/internal/service"
	"leadledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	affiliateService  *service.AffiliateService
	leadService       *service.LeadService
	conversionService *service.ConversionService
	paymentService    *service.PaymentService
	reportService     *service.ReportService
	auditService      *service.AuditService
	logger            *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(deps service.Dependencies) *Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		affiliateService:  service.NewAffiliateService(deps),
		leadService:       service.NewLeadService(deps),
		conversionService: service.NewConversionService(deps),
		paymentService:    service.NewPaymentService(deps),
		reportService:     service.NewReportService(deps),
		auditService:      service.NewAuditService(deps),
		logger:            log.Named("HTTP"),
	}
}

// writeError 业务错误映射为统一响应码
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicateEmail):
		response.BusinessError(c, response.CodeDuplicateEmail, err.Error())
	case errors.Is(err, service.ErrInvalidReferralCode):
		response.BusinessError(c, response.CodeInvalidReferral, err.Error())
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, err.Error())
	default:
		h.logger.Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id 参数错误")
		return 0, false
	}
	return id, true
}

// ============================================================
// 公开接口
// ============================================================

// LookupReferral 推广落地页
// GET /api/v1/referral/:code
func (h *Handler) LookupReferral(c *gin.Context) {
	name, err := h.affiliateService.LookupReferral(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"referral_code":  c.Param("code"),
		"affiliate_name": name,
	})
}

// SubmitLeadRequest 提交线索请求
type SubmitLeadRequest struct {
	ReferralCode        string `json:"referral_code" binding:"required"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
	ProjectRequirements string `json:"project_requirements"`
}

// SubmitLead 通过推广链接提交线索
// POST /api/v1/leads
func (h *Handler) SubmitLead(c *gin.Context) {
	var req SubmitLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	leadID, err := h.leadService.SubmitLead(c.Request.Context(), service.SubmitLeadRequest{
		ReferralCode:        req.ReferralCode,
		Name:                req.Name,
		Email:               req.Email,
		Phone:               req.Phone,
		ProjectRequirements: req.ProjectRequirements,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"lead_id": leadID,
	})
}

// ============================================================
// 推广者接口
// ============================================================

// Me 当前推广者档案
// GET /api/v1/me
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, currentAffiliate(c))
}

// Dashboard GET /api/v1/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	dashboard, err := h.reportService.Dashboard(c.Request.Context(), currentAffiliate(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dashboard)
}

// ListLeads 我的线索
// GET /api/v1/leads?search=xxx&status=Converted-Unpaid
func (h *Handler) ListLeads(c *gin.Context) {
	leads, err := h.reportService.ListLeads(c.Request.Context(), currentAffiliate(c).ID, c.Query("search"), c.Query("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  leads,
		"total": len(leads),
	})
}

// Wallet GET /api/v1/wallet
func (h *Handler) Wallet(c *gin.Context) {
	wallet, err := h.reportService.Wallet(c.Request.Context(), currentAffiliate(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, wallet)
}

// Invoice 支付凭证
// GET /api/v1/transactions/:id/invoice
func (h *Handler) Invoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoice, err := h.reportService.Invoice(c.Request.Context(), currentActor(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, invoice)
}

// Leaderboard 排行榜
// GET /api/v1/leaderboard?by=earnings&limit=10
func (h *Handler) Leaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "limit 参数错误")
			return
		}
		limit = n
	}

	entries, err := h.reportService.Leaderboard(c.Request.Context(), c.Query("by"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list": entries,
	})
}

// ============================================================
// 管理员接口
// ============================================================

// AdminStats GET /api/v1/admin/stats
func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.reportService.AdminStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// ListOpenLeads 待处理线索
// GET /api/v1/admin/leads/open?search=xxx
func (h *Handler) ListOpenLeads(c *gin.Context) {
	leads, err := h.reportService.ListOpenLeads(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  leads,
		"total": len(leads),
	})
}

// ConvertLeadRequest 转化请求，reward_rate 为空时使用默认比例
type ConvertLeadRequest struct {
	Amount     decimal.Decimal  `json:"amount"`
	RewardRate *decimal.Decimal `json:"reward_rate"`
}

// ConvertLead 线索转化
// POST /api/v1/admin/leads/:id/convert
func (h *Handler) ConvertLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ConvertLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.conversionService.ConvertLead(c.Request.Context(), service.ConvertLeadRequest{
		LeadID:     id,
		Amount:     req.Amount,
		RewardRate: req.RewardRate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RejectLead 拒绝线索
// POST /api/v1/admin/leads/:id/reject
func (h *Handler) RejectLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.leadService.RejectLead(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"lead_id": id,
		"status":  "Rejected",
	})
}

// ListConvertedUnpaid GET /api/v1/admin/transactions/unpaid?search=xxx
func (h *Handler) ListConvertedUnpaid(c *gin.Context) {
	list, err := h.reportService.ListConvertedUnpaid(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}

// ListPaid GET /api/v1/admin/transactions/paid?search=xxx
func (h *Handler) ListPaid(c *gin.Context) {
	list, err := h.reportService.ListPaid(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}

// MarkPaidRequest 支付凭证，整体为空即快速标记
type MarkPaidRequest struct {
	ReferenceID string `json:"reference_id"`
	ProofURL    string `json:"proof_url"`
	Notes       string `json:"notes"`
}

func (r *MarkPaidRequest) proof() *service.PaymentProof {
	if r.ReferenceID == "" && r.ProofURL == "" && r.Notes == "" {
		return nil
	}
	return &service.PaymentProof{
		ReferenceID: r.ReferenceID,
		ProofURL:    r.ProofURL,
		Notes:       r.Notes,
	}
}

// MarkPaid 标记支付
// POST /api/v1/admin/transactions/:id/pay
func (h *Handler) MarkPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req MarkPaidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	if err := h.paymentService.MarkPaid(c.Request.Context(), id, req.proof()); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"transaction_id": id,
		"status":         "Paid",
	})
}

// RefreshEarned 重新汇总推广者已支付总额
// POST /api/v1/admin/affiliates/:id/refresh-earned
func (h *Handler) RefreshEarned(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	total, err := h.reportService.RefreshEarned(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"affiliate_id": id,
		"total_earned": total,
	})
}

// Audit 账本核对
// GET /api/v1/admin/audit
func (h *Handler) Audit(c *gin.Context) {
	report, err := h.auditService.Audit(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}
