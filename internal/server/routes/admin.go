package routes

import (
	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler"
)

func RegisterAdminRoutes(rg *gin.RouterGroup, h *handler.AdminHandler) {
	adminGroup := rg.Group("/admin")
	// admin auth is enforced upstream at the ingress
	{
		adminGroup.GET("/transactions/reconciliation", h.ReconciliationQueue)
		adminGroup.POST("/transactions/:id/review", h.ReviewTransaction)
		adminGroup.POST("/credit-purchases/:id/review", h.ReviewPurchase)
	}
}
