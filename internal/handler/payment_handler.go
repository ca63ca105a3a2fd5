package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kawadi-core/internal/handler/request"
	"kawadi-core/internal/handler/response"
	"kawadi-core/internal/service/payment"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
)

// maxCallbackBody caps what a gateway may post to us.
const maxCallbackBody = 64 << 10

type PaymentHandler struct {
	payments *payment.Service
}

func NewPaymentHandler(payments *payment.Service) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// PayTransaction starts a gateway payment for a pending settlement
// @Summary Pay a settlement online
// @Tags Payment
// @Accept json
// @Produce json
// @Param id path int true "Transaction ID"
// @Param request body request.PayTransactionRequest true "Pay Request"
// @Router /api/v1/transactions/{id}/pay [post]
func (h *PaymentHandler) PayTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.PayTransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.payments.InitiateTransactionPayment(c.Request.Context(), id, req.PaymentMethod)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Callback accepts a gateway redirect (GET, query string) or webhook (POST body).
// @Summary Gateway callback
// @Tags Payment
// @Param gateway path string true "Gateway name"
// @Router /api/v1/payments/{gateway}/callback [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	name := c.Param("gateway")

	var raw []byte
	if c.Request.Method == http.MethodGet {
		raw = []byte(c.Request.URL.RawQuery)
	} else {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			response.Error(c, errno.ErrBadCallback.Wrap(err))
			return
		}
		raw = body
		if len(raw) == 0 {
			raw = []byte(c.Request.URL.RawQuery)
		}
	}

	res, err := h.payments.HandleGatewayCallback(c.Request.Context(), name, raw)
	if err != nil {
		logger.Warn("gateway callback rejected", zap.String("gateway", name), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
