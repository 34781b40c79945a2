// Package routes exposes the planner's output to the engine: the expected
// roster, stop order and destination for one route and trip slot.
package routes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/model"
)

// ErrNotFound marks an unknown route or an empty roster for the trip slot.
var ErrNotFound = errors.New("route not found")

// TripType is one of the four daily time-of-day slots.
type TripType string

const (
	TripMorningOutbound TripType = "morning_outbound" // home -> school
	TripMiddayOutbound  TripType = "midday_outbound"  // school -> home
	TripMiddayReturn    TripType = "midday_return"    // home -> school
	TripEveningReturn   TripType = "evening_return"   // school -> home
)

// ParseTripType validates a trip type string.
func ParseTripType(s string) (TripType, error) {
	switch TripType(s) {
	case TripMorningOutbound, TripMiddayOutbound, TripMiddayReturn, TripEveningReturn:
		return TripType(s), nil
	}
	return "", fmt.Errorf("unknown trip type %q", s)
}

// TowardSchool reports whether the trip ends at the school.
func (t TripType) TowardSchool() bool {
	return t == TripMorningOutbound || t == TripMiddayReturn
}

// TripTypeForTime picks the trip slot a wall-clock time falls into.
func TripTypeForTime(t time.Time) TripType {
	switch h := t.Hour(); {
	case h < 10:
		return TripMorningOutbound
	case h < 13:
		return TripMiddayOutbound
	case h < 15:
		return TripMiddayReturn
	default:
		return TripEveningReturn
	}
}

// Stop is one student pickup/drop in stop order.
type Stop struct {
	StudentID string
	StopOrder int
	Lat       float64
	Lng       float64
}

// Roster is the planner's expectation for one route and trip slot.
type Roster struct {
	Stops           []Stop
	DestLat         float64
	DestLng         float64
	PlannedDuration time.Duration
}

// Provider resolves rosters. Implemented over the route tables written by
// the external planner.
type Provider interface {
	Roster(ctx context.Context, routeID string, tripType TripType) (Roster, error)
}

type gormProvider struct {
	db *gorm.DB
}

// NewGormProvider creates a Provider reading the planner's route tables.
func NewGormProvider(db *gorm.DB) Provider {
	return &gormProvider{db: db}
}

func (p *gormProvider) Roster(ctx context.Context, routeID string, tripType TripType) (Roster, error) {
	var route model.Route
	if err := p.db.WithContext(ctx).First(&route, "id = ?", routeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Roster{}, fmt.Errorf("%w: %s", ErrNotFound, routeID)
		}
		return Roster{}, fmt.Errorf("failed to load route %s: %w", routeID, err)
	}

	var stops []model.RouteStop
	err := p.db.WithContext(ctx).
		Where("route_id = ? AND trip_type = ?", routeID, string(tripType)).
		Order("stop_order ASC").
		Find(&stops).Error
	if err != nil {
		return Roster{}, fmt.Errorf("failed to load stops for route %s: %w", routeID, err)
	}

	roster := Roster{
		Stops:           make([]Stop, 0, len(stops)),
		PlannedDuration: time.Duration(route.PlannedDurationMinutes) * time.Minute,
	}
	for _, s := range stops {
		roster.Stops = append(roster.Stops, Stop{
			StudentID: s.StudentID,
			StopOrder: s.StopOrder,
			Lat:       s.Lat,
			Lng:       s.Lng,
		})
	}

	if tripType.TowardSchool() {
		roster.DestLat, roster.DestLng = route.SchoolLat, route.SchoolLng
	} else {
		roster.DestLat, roster.DestLng = route.TerminusLat, route.TerminusLng
	}
	return roster, nil
}
