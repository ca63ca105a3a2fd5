package routes

import (
	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler"
)

func RegisterPickupRoutes(rg *gin.RouterGroup, h *handler.PickupHandler) {
	pickups := rg.Group("/pickups")
	{
		pickups.POST("", h.CreatePickup)
		pickups.POST("/:id/assign", h.AssignPickup)
		pickups.POST("/:id/start", h.StartPickup)
		pickups.POST("/:id/cancel", h.CancelPickup)
		pickups.POST("/:id/complete", h.CompletePickup)
	}
}
