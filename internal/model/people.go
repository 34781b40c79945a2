package model

import "time"

// Driver is the reference record for a bus driver.
type Driver struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Phone     string `gorm:"size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Student is the reference record for a transported student.
type Student struct {
	ID        string `gorm:"primaryKey;size:64"`
	FirstName string `gorm:"size:128;not null"`
	LastName  string `gorm:"size:128;not null"`
	Grade     string `gorm:"size:32"`
	BusID     *string `gorm:"size:64;index"`
	Active    bool    `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName is the display name used in notifications and pickup hints.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}
