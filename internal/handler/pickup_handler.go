package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"kawadi-core/internal/handler/request"
	"kawadi-core/internal/handler/response"
	"kawadi-core/internal/service/pickup"
	"kawadi-core/internal/service/settlement"
	"kawadi-core/pkg/errno"
)

type PickupHandler struct {
	pickups    *pickup.Service
	settlement *settlement.Service
}

func NewPickupHandler(pickups *pickup.Service, s *settlement.Service) *PickupHandler {
	return &PickupHandler{pickups: pickups, settlement: s}
}

// CreatePickup opens a pickup request
// @Summary Create pickup
// @Tags Pickup
// @Accept json
// @Produce json
// @Param request body request.CreatePickupRequest true "Pickup Request"
// @Success 200 {object} response.Response
// @Router /api/v1/pickups [post]
func (h *PickupHandler) CreatePickup(c *gin.Context) {
	var req request.CreatePickupRequest
	if !bindJSON(c, &req) {
		return
	}
	weight, err := decimal.NewFromString(req.EstimatedWeight)
	if err != nil {
		response.Error(c, errno.ErrInvalidWeight)
		return
	}
	p, err := h.pickups.Create(c.Request.Context(), pickup.CreateRequest{
		CustomerID:      req.CustomerID,
		CategoryID:      req.CategoryID,
		EstimatedWeight: weight,
		Address:         req.Address,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

// AssignPickup
// @Summary Assign a collector
// @Tags Pickup
// @Param id path int true "Pickup ID"
// @Param request body request.AssignPickupRequest true "Assign Request"
// @Router /api/v1/pickups/{id}/assign [post]
func (h *PickupHandler) AssignPickup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.AssignPickupRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.pickups.Assign(c.Request.Context(), id, req.CollectorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

func (h *PickupHandler) StartPickup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pickups.Start(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

func (h *PickupHandler) CancelPickup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pickups.Cancel(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

// CompletePickup records the weighed amount and settles the pickup
// @Summary Complete pickup
// @Description Finalizes weight and price, creates the settlement transaction
// @Tags Pickup
// @Accept json
// @Produce json
// @Param id path int true "Pickup ID"
// @Param request body request.CompletePickupRequest true "Complete Request"
// @Success 200 {object} response.Response
// @Router /api/v1/pickups/{id}/complete [post]
func (h *PickupHandler) CompletePickup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.CompletePickupRequest
	if !bindJSON(c, &req) {
		return
	}
	weight, err := decimal.NewFromString(req.ActualWeight)
	if err != nil {
		response.Error(c, errno.ErrInvalidWeight)
		return
	}
	res, err := h.settlement.CompletePickup(c.Request.Context(), settlement.CompleteRequest{
		PickupID:      id,
		ActualWeight:  weight,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
