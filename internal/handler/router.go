package handler

import (
	"leadledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(deps service.Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.Server.Mode != "" {
		gin.SetMode(deps.Config.Server.Mode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log.Named("HTTP")))
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(deps)

	api := r.Group("/api/v1")
	{
		// 公开接口：推广落地页与线索提交
		api.GET("/referral/:code", h.LookupReferral)
		api.POST("/leads", h.SubmitLead)

		// 推广者
		member := api.Group("", IdentityMiddleware(h.affiliateService))
		{
			member.GET("/me", h.Me)
			member.GET("/dashboard", h.Dashboard)
			member.GET("/leads", h.ListLeads)
			member.GET("/wallet", h.Wallet)
			member.GET("/transactions/:id/invoice", h.Invoice)
			member.GET("/leaderboard", h.Leaderboard)
		}

		// 管理员
		admin := api.Group("/admin", IdentityMiddleware(h.affiliateService), AdminOnly())
		{
			admin.GET("/stats", h.AdminStats)
			admin.GET("/leads/open", h.ListOpenLeads)
			admin.POST("/leads/:id/convert", h.ConvertLead)
			admin.POST("/leads/:id/reject", h.RejectLead)
			admin.GET("/transactions/unpaid", h.ListConvertedUnpaid)
			admin.GET("/transactions/paid", h.ListPaid)
			admin.POST("/transactions/:id/pay", h.MarkPaid)
			admin.POST("/affiliates/:id/refresh-earned", h.RefreshEarned)
			admin.GET("/audit", h.Audit)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return r
}
