package models

import "time"

// Table is a seated party at a venue. Tables are registered by staff; the
// join coordinator only reads ID, TableNumber and MerchantID.
type Table struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MerchantID  string    `gorm:"type:varchar(64);not null;index" json:"merchant_id"`
	TableNumber string    `gorm:"type:varchar(50);not null" json:"table_number"`
	Status      string    `gorm:"type:varchar(50);not null;default:'available'" json:"status"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}
