package model

import "time"

// Position history event types.
const (
	EventDeparture      = "departure"
	EventArrival        = "arrival"
	EventStop           = "stop"
	EventRouteDeviation = "route_deviation"
)

// PositionHistory is one archived position report. Append-only: rows are
// never updated or deleted by the engine.
type PositionHistory struct {
	ID         int64  `gorm:"autoIncrement;primaryKey"`
	BusID      string `gorm:"size:64;index:idx_history_day,priority:1;not null"`
	Day        string `gorm:"size:10;index:idx_history_day,priority:2;not null"` // YYYY-MM-DD of RecordedAt
	Lat        float64
	Lng        float64
	SpeedKmh   float64
	HeadingDeg *float64
	AccuracyM  *float64
	CapturedAt time.Time `gorm:"not null"` // device timestamp of the report
	RecordedAt time.Time `gorm:"not null;index"`
	EventType  *string   `gorm:"size:32"`
}
