package models

import "time"

type OccupancyTag string

const (
	OccupancyPendingOutgoing OccupancyTag = "pending_outgoing"
	OccupancyPaired          OccupancyTag = "paired"
	// OccupancyRemoving is held only inside the transaction deleting a table.
	OccupancyRemoving        OccupancyTag = "removing"
)

// TableOccupancy is the single commitment a table may hold. The primary key on
// TableID is what makes a second concurrent commitment impossible; OwnerID is
// the JoinRequest (pending_outgoing) or JoinSession (paired) holding the slot.
type TableOccupancy struct {
	TableID    uint         `gorm:"primaryKey;autoIncrement:false" json:"table_id"`
	MerchantID string       `gorm:"type:varchar(64);not null;index" json:"merchant_id"`
	Tag        OccupancyTag `gorm:"type:varchar(30);not null" json:"tag"`
	OwnerID    string       `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	AcquiredAt time.Time    `gorm:"not null" json:"acquired_at"`
}
