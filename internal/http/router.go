// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kottu/internal/http/handlers"
	"kottu/internal/http/middleware"
	"kottu/internal/infra"
)

type RouterDeps struct {
	Orders     handlers.OrderService
	Checkout   handlers.OrderPlacer
	Promotions handlers.PromotionService
	Realtime   handlers.Realtime
	Verifier   infra.TokenVerifier
	Logger     *slog.Logger
	// ValidateRPS and ValidateBurst throttle the public promotion checks per client.
	ValidateRPS   float64
	ValidateBurst int
	// StreamKeepAlive is the SSE ping interval; zero keeps the handler default.
	StreamKeepAlive time.Duration
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger))

	orderHandler := handlers.NewOrderHandler(deps.Orders, deps.Checkout)
	promoHandler := handlers.NewPromotionHandler(deps.Promotions)
	streamHandler := handlers.NewStreamHandler(deps.Realtime).WithKeepAlive(deps.StreamKeepAlive)

	// Customer-facing routes.
	public := r.Group("/api/restaurants/:restaurant_id")
	public.POST("/orders", orderHandler.Create)
	public.GET("/orders/:id", orderHandler.Get)
	public.GET("/orders/:id/timeline", orderHandler.Timeline)
	public.GET("/orders/:id/live", streamHandler.Order)

	checkout := public.Group("/checkout", middleware.RateLimit(deps.ValidateRPS, deps.ValidateBurst))
	checkout.POST("/validate-code", promoHandler.ValidateCode)
	checkout.POST("/auto-apply", promoHandler.AutoApply)

	// Staff routes.
	staff := r.Group("/api/restaurants/:restaurant_id",
		middleware.Auth(deps.Verifier),
		middleware.TenantAccess("restaurant_id"),
	)
	staff.PATCH("/orders/:id", orderHandler.Update)
	staff.POST("/orders/:id/advance", orderHandler.Advance)
	staff.POST("/orders/:id/cancel", orderHandler.Cancel)
	staff.GET("/kitchen/queue", orderHandler.KitchenQueue)
	staff.GET("/live/orders", streamHandler.RestaurantOrders)
	staff.GET("/live/kitchen", streamHandler.Kitchen)
	staff.GET("/live/presence", streamHandler.Presence)

	promos := staff.Group("/promotions", middleware.RequireRole(middleware.RoleManager))
	promos.POST("", promoHandler.Create)
	promos.GET("", promoHandler.List)
	promos.GET("/:id", promoHandler.Get)
	promos.POST("/:id/codes", promoHandler.CreateCode)
	promos.POST("/:id/activate", promoHandler.Activate())
	promos.POST("/:id/pause", promoHandler.Pause())
	promos.POST("/:id/resume", promoHandler.Resume())
	promos.POST("/:id/cancel", promoHandler.Cancel())

	platform := r.Group("/api/platform",
		middleware.Auth(deps.Verifier),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	platform.GET("/live/metrics", streamHandler.Metrics)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
