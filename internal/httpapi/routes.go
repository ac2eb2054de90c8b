package httpapi

import (
	"collections-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func RegisterRoutes(r *gin.Engine, h Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireAccount())
	{
		// ACCOUNT routes
		accounts := v1.Group("/account")
		{
			accounts.GET("/balance", h.GetBalance)
			accounts.GET("/transactions",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleFinance), h.ListTransactions)
		}

		// BATCH routes
		batches := v1.Group("/batches")
		batches.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			batches.POST("", h.CreateBatch)
			batches.GET("", h.ListBatches)
			batches.GET("/:batch_id/progress", h.GetBatchProgress)
			batches.POST("/:batch_id/cancel", h.CancelBatch)
		}

		// JOB routes
		v1.GET("/jobs/:job_id",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator), h.GetJob)

		// REPORTING routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleFinance))
		{
			reports.GET("/calls", h.CallSummary)
			reports.GET("/spend", h.SpendSummary)
		}

		// ADMIN routes. Money movement is owner/finance only.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleFinance))
		{
			admin.POST("/topup", h.AdminTopUp)
			admin.POST("/bonus", h.AdminBonus)
		}
	}
}
