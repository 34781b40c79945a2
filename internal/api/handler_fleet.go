package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolbus-tracking-backend/internal/fleet"
)

// GetRealtimeBuses handles GET /api/realtime/buses.
func (h *Handler) GetRealtimeBuses(c *gin.Context) {
	buses, err := h.fleet.AllBusesRealtime(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, buses)
}

// GetRealtimeBus handles GET /api/realtime/buses/:bus_id.
func (h *Handler) GetRealtimeBus(c *gin.Context) {
	bus, err := h.fleet.BusRealtime(c.Request.Context(), c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if bus == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "bus not found"})
		return
	}
	c.JSON(http.StatusOK, bus)
}

// GetStatistics handles GET /api/realtime/statistics. The counts are
// reduced from the same snapshot the buses endpoint serves.
func (h *Handler) GetStatistics(c *gin.Context) {
	buses, err := h.fleet.AllBusesRealtime(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fleet.Reduce(buses))
}

type zoneRequest struct {
	Lat float64 `form:"lat" binding:"required,gte=-90,lte=90"`
	Lng float64 `form:"lng" binding:"required,gte=-180,lte=180"`
}

// GetZone handles GET /api/realtime/zone?lat=..&lng=..
func (h *Handler) GetZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label := h.zones.DetermineZone(req.Lat, req.Lng)
	if label == "" {
		c.JSON(http.StatusOK, gin.H{"zone": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"zone": label})
}
