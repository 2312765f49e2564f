package models

import (
	"time"
)

// Notification is a staff-facing feed entry written for every join lifecycle
// event.
type Notification struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MerchantID string    `gorm:"type:varchar(64);not null;index" json:"merchant_id"`
	Event      string    `gorm:"type:varchar(50);not null;index" json:"event"`
	RefID      string    `gorm:"type:varchar(36);index" json:"ref_id"`
	Title      *string   `gorm:"type:varchar(100)" json:"title,omitempty"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}
