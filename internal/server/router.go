package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"kawadi-core/internal/handler"
	"kawadi-core/internal/server/routes"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/validator"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health  *handler.HealthHandler
	Pickup  *handler.PickupHandler
	Credit  *handler.CreditHandler
	Payment *handler.PaymentHandler
	Admin   *handler.AdminHandler
}

// NewHTTPRouter builds the gin engine with metrics, logging and rate limiting.
func NewHTTPRouter(h Handlers, rl config.RateLimitConfig) *gin.Engine {
	monitor.Init()
	validator.Init()

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), monitor.PrometheusMiddleware())

	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if rl.RPS > 0 {
		api.Use(RateLimitMiddleware(NewIPRateLimiter(rate.Limit(rl.RPS), rl.Burst)))
	}
	{
		api.GET("/health", h.Health.HealthCheck)
		routes.RegisterPickupRoutes(api, h.Pickup)
		routes.RegisterCreditRoutes(api, h.Credit)
		routes.RegisterPaymentRoutes(api, h.Payment)
		routes.RegisterAdminRoutes(api, h.Admin)
	}

	return r
}
