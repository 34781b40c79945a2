package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolbus-tracking-backend/internal/routes"
	"schoolbus-tracking-backend/internal/trip"
)

type startRouteRequest struct {
	RouteID  string `json:"routeId" binding:"required"`
	TripType string `json:"tripType" binding:"required,triptype"`
}

// PostStartRoute handles POST /api/buses/:bus_id/trip/start.
func (h *Handler) PostStartRoute(c *gin.Context) {
	var req startRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tripType, err := routes.ParseTripType(req.TripType)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.trips.StartRoute(c.Request.Context(), c.Param("bus_id"), req.RouteID, tripType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

// PostStopRoute handles POST /api/buses/:bus_id/trip/stop.
func (h *Handler) PostStopRoute(c *gin.Context) {
	state, err := h.trips.StopRoute(c.Request.Context(), c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetTrip handles GET /api/buses/:bus_id/trip.
func (h *Handler) GetTrip(c *gin.Context) {
	state, err := h.trips.Snapshot(c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type scanRequest struct {
	StudentID string   `json:"studentId" binding:"required"`
	BusID     string   `json:"busId" binding:"required"`
	Date      string   `json:"date" binding:"required"`
	Type      string   `json:"type" binding:"required,oneof=boarding alighting"`
	DriverID  string   `json:"driverId" binding:"required"`
	Lat       *float64 `json:"lat" binding:"omitempty,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" binding:"omitempty,gte=-180,lte=180"`
}

// PostScan handles POST /api/attendance/scan.
func (h *Handler) PostScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.trips.ScanStudent(c.Request.Context(), trip.ScanInput{
		StudentID: req.StudentID,
		BusID:     req.BusID,
		Date:      req.Date,
		Type:      req.Type,
		DriverID:  req.DriverID,
		Lat:       req.Lat,
		Lng:       req.Lng,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type unscanRequest struct {
	StudentID string `json:"studentId" binding:"required"`
	BusID     string `json:"busId" binding:"required"`
	Date      string `json:"date" binding:"required"`
	DriverID  string `json:"driverId" binding:"required"`
}

// PostUnscan handles POST /api/attendance/unscan.
func (h *Handler) PostUnscan(c *gin.Context) {
	var req unscanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.trips.UnscanStudent(c.Request.Context(), trip.UnscanInput{
		StudentID: req.StudentID,
		BusID:     req.BusID,
		Date:      req.Date,
		DriverID:  req.DriverID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetNextStudent handles GET /api/buses/:bus_id/next-student.
func (h *Handler) GetNextStudent(c *gin.Context) {
	next, err := h.trips.NextStudentToPickup(c.Request.Context(), c.Param("bus_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if next == nil {
		c.JSON(http.StatusOK, gin.H{"next": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"next": next})
}

// GetAttendance handles GET /api/buses/:bus_id/attendance?date=YYYY-MM-DD.
func (h *Handler) GetAttendance(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date is required"})
		return
	}
	rows, err := h.trips.AttendanceForDay(c.Request.Context(), c.Param("bus_id"), date)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
