package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/config"
	"schoolbus-tracking-backend/internal/fleet"
	"schoolbus-tracking-backend/internal/live"
	"schoolbus-tracking-backend/internal/refdata"
	"schoolbus-tracking-backend/internal/routes"
	"schoolbus-tracking-backend/internal/trip"
	"schoolbus-tracking-backend/internal/zone"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg     *config.Config
	db      *gorm.DB
	live    *live.Store
	trips   *trip.Engine
	fleet   *fleet.Aggregator
	zones   *zone.Classifier
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, db *gorm.DB, liveStore *live.Store, trips *trip.Engine, aggregator *fleet.Aggregator, zones *zone.Classifier, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		cfg:     cfg,
		db:      db,
		live:    liveStore,
		trips:   trips,
		fleet:   aggregator,
		zones:   zones,
		webpush: webpushOptions,
	}
}

// abortWithError maps engine errors onto HTTP statuses per the error
// taxonomy: validation 400, unknown entities 404, trip lifecycle misuse
// 409, roster mismatch 422, everything else 500.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, live.ErrValidation) || errors.Is(err, trip.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, live.ErrNotFound) || errors.Is(err, trip.ErrNotFound) ||
		errors.Is(err, refdata.ErrNotFound) || errors.Is(err, routes.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, trip.ErrAlreadyActive) || errors.Is(err, trip.ErrNoActiveTrip):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, trip.ErrNotAssigned):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
