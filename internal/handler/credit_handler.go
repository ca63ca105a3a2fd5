package handler

import (
	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler/request"
	"kawadi-core/internal/handler/response"
	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/service/payment"
	"kawadi-core/internal/service/purchase"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/validator"
)

type CreditHandler struct {
	credits  *credit.Service
	catalog  *purchase.Catalog
	payments *payment.Service
}

func NewCreditHandler(credits *credit.Service, catalog *purchase.Catalog, payments *payment.Service) *CreditHandler {
	return &CreditHandler{credits: credits, catalog: catalog, payments: payments}
}

// GetCredits returns the collector's credit account
// @Summary Credit balance
// @Tags Credit
// @Produce json
// @Param id path int true "Collector ID"
// @Success 200 {object} response.Response
// @Router /api/v1/collectors/{id}/credits [get]
func (h *CreditHandler) GetCredits(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	acc, err := h.credits.EnsureAccount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"account":     acc,
		"low_balance": acc.IsLowBalance(),
	})
}

func (h *CreditHandler) ListTransactions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var q request.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	rows, err := h.credits.History(c.Request.Context(), id, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}

// DeductCredits debits a collector. A refused debit answers 422 with the
// unchanged balance.
// @Summary Deduct credits
// @Tags Credit
// @Accept json
// @Produce json
// @Param id path int true "Collector ID"
// @Param request body request.DeductCreditsRequest true "Deduct Request"
// @Router /api/v1/collectors/{id}/credits/deduct [post]
func (h *CreditHandler) DeductCredits(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.DeductCreditsRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := parseMoney(c, "amount", req.Amount)
	if !ok {
		return
	}
	res, err := h.credits.DeductCredits(c.Request.Context(), id, amount, req.PickupID, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !res.Success {
		response.Error(c, res.Reason)
		return
	}
	response.Success(c, gin.H{
		"entry":   res.Entry,
		"balance": res.Balance,
	})
}

func (h *CreditHandler) ListPackages(c *gin.Context) {
	pkgs, err := h.catalog.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pkgs)
}

// CreatePurchase opens a credit purchase and hands back the gateway redirect
// @Summary Buy credits
// @Tags Credit
// @Accept json
// @Produce json
// @Param id path int true "Collector ID"
// @Param request body request.CreatePurchaseRequest true "Purchase Request"
// @Router /api/v1/collectors/{id}/credit-purchases [post]
func (h *CreditHandler) CreatePurchase(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.CreatePurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.payments.InitiateCreditPurchase(c.Request.Context(), id, req.PackageID, req.PaymentMethod)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
