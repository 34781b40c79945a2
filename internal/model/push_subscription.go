package model

import "time"

// PushSubscription holds a parent's browser push subscription. A parent
// subscribes to the students whose scans and bus arrivals they want to be
// notified about.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Students []*Student `gorm:"many2many:subscription_student_mapping;"`
}
