package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"schoolbus-tracking-backend/internal/mw"
	"schoolbus-tracking-backend/internal/routes"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("triptype", func(fl validator.FieldLevel) bool {
			_, err := routes.ParseTripType(fl.Field().String())
			return err == nil
		})
	}
}

// NewRouter creates and configures the Gin router over a fully wired
// Handler.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(h.cfg.Server.RateLimitPerSec), h.cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(h.cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// live positions
		api.POST("/buses/:bus_id/position", h.PostPosition)
		api.GET("/buses/:bus_id/position", h.GetPosition)
		api.GET("/buses/positions", h.GetAllPositions)
		api.GET("/buses/:bus_id/history", h.GetHistory)
		api.GET("/buses/:bus_id/eta", h.GetETA)

		// trip lifecycle and attendance
		api.POST("/buses/:bus_id/trip/start", h.PostStartRoute)
		api.POST("/buses/:bus_id/trip/stop", h.PostStopRoute)
		api.GET("/buses/:bus_id/trip", h.GetTrip)
		api.GET("/buses/:bus_id/next-student", h.GetNextStudent)
		api.GET("/buses/:bus_id/attendance", h.GetAttendance)
		api.POST("/attendance/scan", h.PostScan)
		api.POST("/attendance/unscan", h.PostUnscan)

		// dashboard aggregation; short response cache absorbs polling
		api.GET("/realtime/buses", caching, h.GetRealtimeBuses)
		api.GET("/realtime/buses/:bus_id", h.GetRealtimeBus)
		api.GET("/realtime/statistics", caching, h.GetStatistics)
		api.GET("/realtime/zone", h.GetZone)

		// parent push subscriptions
		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
