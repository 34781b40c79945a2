package live

import (
	"context"
	"time"
)

// Status is the live classification of a bus, derived from its latest
// report and trip context. It is computed, never set by a client.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusEnRoute Status = "en_route"
	StatusStopped Status = "stopped"
	StatusDelayed Status = "delayed"
	StatusArrived Status = "arrived"
)

// Position is one immutable position fix.
type Position struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	SpeedKmh   float64    `json:"speedKmh"`
	HeadingDeg *float64   `json:"headingDeg,omitempty"`
	AccuracyM  *float64   `json:"accuracyM,omitempty"`
	CapturedAt time.Time  `json:"capturedAt"`
}

// Report is a raw inbound position report for one bus. Arrived carries the
// driver's or geofence's explicit arrival signal; arrival is never inferred
// from speed alone.
type Report struct {
	Lat        float64
	Lng        float64
	SpeedKmh   float64
	HeadingDeg *float64
	AccuracyM  *float64
	CapturedAt time.Time
	Arrived    bool
}

// Record is the current live state of one bus. There is at most one Record
// per bus; it is superseded in place on every ingested report and never
// deleted.
type Record struct {
	BusID           string    `json:"busId"`
	Position        Position  `json:"position"`
	DriverID        string    `json:"driverId"`
	RouteID         string    `json:"routeId,omitempty"`
	Status          Status    `json:"status"`
	PassengersCount int       `json:"passengersCount"`
	LastUpdateAt    time.Time `json:"lastUpdateAt"`

	// ArrivedAt is set on the transition into StatusArrived and cleared on
	// the transition out. The sweeper uses it to demote long-arrived buses.
	ArrivedAt *time.Time `json:"arrivedAt,omitempty"`
}

// TripInfo is what the status classifier needs to know about a bus's
// active trip.
type TripInfo struct {
	RouteID         string
	DestLat         float64
	DestLng         float64
	ExpectedArrival time.Time
}

// TripContext exposes active-trip information to the classifier. It is
// implemented by the trip state machine and injected after construction so
// the two packages stay acyclic.
type TripContext interface {
	ActiveTrip(busID string) (TripInfo, bool)
}

// BusRef resolves a bus ID to its assigned driver and route. Implemented by
// the reference data provider.
type BusRef interface {
	BusAssignment(ctx context.Context, busID string) (driverID, routeID string, err error)
}
