package model

import "time"

// Route is the reference record for a planned bus route. The ordered stop
// list is produced by the external route planner; this engine only reads it.
type Route struct {
	ID       string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:128;not null"`
	FromZone string `gorm:"size:64"`
	ToZone   string `gorm:"size:64"`

	// Destination endpoints: school for trips toward school, terminus (last
	// drop point) for trips away from it.
	SchoolLat   float64
	SchoolLng   float64
	TerminusLat float64
	TerminusLng float64

	// PlannedDurationMinutes is the planner's estimate for one full run,
	// used as the baseline for delay classification.
	PlannedDurationMinutes int

	CreatedAt time.Time
	UpdatedAt time.Time

	Stops []RouteStop `gorm:"foreignKey:RouteID"`
}

// RouteStop is one student pickup/drop position in the ordered stop
// sequence of a route for a given trip slot.
type RouteStop struct {
	ID        int64  `gorm:"autoIncrement;primaryKey"`
	RouteID   string `gorm:"size:64;index:idx_route_stop,priority:1;not null"`
	TripType  string `gorm:"size:32;index:idx_route_stop,priority:2;not null"`
	StudentID string `gorm:"size:64;not null"`
	StopOrder int    `gorm:"not null"`
	Lat       float64
	Lng       float64
}
