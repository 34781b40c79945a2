package model

import "time"

// Attendance scan types.
const (
	ScanBoarding  = "boarding"
	ScanAlighting = "alighting"
)

// AttendanceRecord is one boarding or alighting scan. Immutable once
// written, except for the reversal tombstone set by an unscan: a reversed
// record stays in the table for audit and no longer counts as an
// unresolved scan.
type AttendanceRecord struct {
	ID         int64  `gorm:"autoIncrement;primaryKey"`
	StudentID  string `gorm:"size:64;index:idx_attendance_student,priority:1;not null"`
	BusID      string `gorm:"size:64;index:idx_attendance_bus,priority:1;not null"`
	Date       string `gorm:"size:10;index:idx_attendance_student,priority:2;index:idx_attendance_bus,priority:2;not null"` // YYYY-MM-DD
	Type       string `gorm:"size:16;not null"`
	DriverID   string `gorm:"size:64;not null"`
	Lat        *float64
	Lng        *float64
	Timestamp  time.Time `gorm:"not null"`
	Reversed   bool      `gorm:"not null;default:false"`
	ReversedAt *time.Time
}
