package routes

import (
	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler"
)

// RegisterPaymentRoutes mounts settlement payment and the gateway callbacks.
// Gateways redirect the browser with GET and post webhooks, so both verbs land on one handler.
func RegisterPaymentRoutes(rg *gin.RouterGroup, h *handler.PaymentHandler) {
	rg.POST("/transactions/:id/pay", h.PayTransaction)
	rg.GET("/payments/:gateway/callback", h.Callback)
	rg.POST("/payments/:gateway/callback", h.Callback)
}
