package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kawadi-core/internal/handler/request"
	"kawadi-core/internal/handler/response"
	"kawadi-core/internal/service/payment"
	"kawadi-core/pkg/logger"
)

const (
	actionApprove = "approve"
	actionReject  = "reject"
)

type AdminHandler struct {
	payments *payment.Service
}

func NewAdminHandler(payments *payment.Service) *AdminHandler {
	return &AdminHandler{payments: payments}
}

// adminID reads the reviewer from X-Admin-ID. Authentication sits in front of this service.
func adminID(c *gin.Context) uint64 {
	id, _ := strconv.ParseUint(c.GetHeader("X-Admin-ID"), 10, 64)
	return id
}

// ReviewTransaction approves or rejects a settlement held for reconciliation
// @Summary Review settlement
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Transaction ID"
// @Param request body request.ReviewRequest true "Review Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/transactions/{id}/review [post]
func (h *AdminHandler) ReviewTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.ReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	logger.Info("admin review",
		zap.String("kind", "transaction"), zap.Uint64("id", id),
		zap.String("action", req.Action), zap.Uint64("admin_id", adminID(c)))

	switch req.Action {
	case actionApprove:
		tr, already, err := h.payments.ApproveTransaction(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"transaction": tr, "already_processed": already})
	case actionReject:
		tr, err := h.payments.RejectTransaction(ctx, id, req.Remark)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"transaction": tr})
	}
}

func (h *AdminHandler) ReviewPurchase(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.ReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	logger.Info("admin review",
		zap.String("kind", "credit_purchase"), zap.Uint64("id", id),
		zap.String("action", req.Action), zap.Uint64("admin_id", adminID(c)))

	switch req.Action {
	case actionApprove:
		res, err := h.payments.ConfirmPurchase(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"purchase": res.Purchase, "already_processed": res.AlreadyProcessed})
	case actionReject:
		p, already, err := h.payments.RejectPurchase(ctx, id, req.Remark)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"purchase": p, "already_processed": already})
	}
}

// ReconciliationQueue lists settlements and credit purchases whose gateway amount disagreed.
func (h *AdminHandler) ReconciliationQueue(c *gin.Context) {
	rows, err := h.payments.ReconciliationQueue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}
