package routes

import (
	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler"
)

func RegisterCreditRoutes(rg *gin.RouterGroup, h *handler.CreditHandler) {
	rg.GET("/credit-packages", h.ListPackages)

	collectors := rg.Group("/collectors/:id")
	{
		collectors.GET("/credits", h.GetCredits)
		collectors.GET("/credits/transactions", h.ListTransactions)
		collectors.POST("/credits/deduct", h.DeductCredits)
		collectors.POST("/credit-purchases", h.CreatePurchase)
	}
}
