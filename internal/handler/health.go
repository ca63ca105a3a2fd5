package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"kawadi-core/internal/handler/response"
	"kawadi-core/pkg/errno"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck reports UP when the database answers a ping.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "UP"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Code:    errno.ErrDatabase.Code,
				Message: "database unreachable",
				Data:    gin.H{"status": "DOWN"},
			})
			return
		}
	}
	response.Success(c, gin.H{
		"status":  status,
		"version": "1.0.0",
		"service": "kawadi-core",
	})
}
