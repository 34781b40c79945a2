package model

import "time"

// Bus represents a vehicle of the fleet. Reference data only: the live
// position and trip state are owned by the live and trip packages, never
// written back onto this row.
type Bus struct {
	ID          string `gorm:"primaryKey;size:64"`
	BusNumber   int    `gorm:"uniqueIndex"`
	PlateNumber string `gorm:"size:32;not null"`
	Capacity    int    `gorm:"not null"`
	Model       string `gorm:"size:128"`
	Year        int
	DriverID    *string `gorm:"size:64;index"`
	RouteID     *string `gorm:"size:64;index"`
	SchoolID    *string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
