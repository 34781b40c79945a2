package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolbus-tracking-backend/internal/geo"
	"schoolbus-tracking-backend/internal/live"
)

// positionReportRequest is the inbound GPS report from a driver device.
// Binding tags reject malformed coordinates before they reach the engine;
// the engine validates again independently of the transport.
type positionReportRequest struct {
	Lat        *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	SpeedKmh   *float64 `json:"speedKmh" binding:"required,gte=0"`
	HeadingDeg *float64 `json:"headingDeg" binding:"omitempty,gte=0,lte=360"`
	AccuracyM  *float64 `json:"accuracyM" binding:"omitempty,gte=0"`
	CapturedAt int64    `json:"capturedAtEpochMs" binding:"required,gt=0"`
	Arrived    bool     `json:"arrived"`
}

// PostPosition handles POST /api/buses/:bus_id/position.
func (h *Handler) PostPosition(c *gin.Context) {
	var req positionReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.live.Ingest(c.Request.Context(), c.Param("bus_id"), live.Report{
		Lat:        *req.Lat,
		Lng:        *req.Lng,
		SpeedKmh:   *req.SpeedKmh,
		HeadingDeg: req.HeadingDeg,
		AccuracyM:  req.AccuracyM,
		CapturedAt: time.UnixMilli(req.CapturedAt).UTC(),
		Arrived:    req.Arrived,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetPosition handles GET /api/buses/:bus_id/position.
func (h *Handler) GetPosition(c *gin.Context) {
	rec, err := h.live.Get(c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetAllPositions handles GET /api/buses/positions.
func (h *Handler) GetAllPositions(c *gin.Context) {
	c.JSON(http.StatusOK, h.live.GetAll())
}

// GetHistory handles GET /api/buses/:bus_id/history?date=YYYY-MM-DD.
func (h *Handler) GetHistory(c *gin.Context) {
	date := c.Query("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	rows, err := h.live.HistoryForDay(c.Request.Context(), c.Param("bus_id"), date)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type etaRequest struct {
	Lat float64 `form:"lat" binding:"required,gte=-90,lte=90"`
	Lng float64 `form:"lng" binding:"required,gte=-180,lte=180"`
}

// GetETA handles GET /api/buses/:bus_id/eta?lat=..&lng=.. and estimates
// minutes from the bus's current position to the given point. ETAs for a
// stopped bus use the floor speed and are upper bounds, not commitments.
func (h *Handler) GetETA(c *gin.Context) {
	var req etaRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.live.Get(c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	pos := rec.Position
	c.JSON(http.StatusOK, gin.H{
		"busId":      rec.BusID,
		"distanceKm": geo.DistanceKm(pos.Lat, pos.Lng, req.Lat, req.Lng),
		"etaMinutes": geo.ETAMinutes(pos.Lat, pos.Lng, req.Lat, req.Lng, pos.SpeedKmh, h.cfg.Tracking.ETAFloorSpeedKmh),
		"status":     rec.Status,
	})
}
