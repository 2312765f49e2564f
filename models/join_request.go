package models

import "time"

type JoinRequestStatus string

const (
	JoinRequestPending   JoinRequestStatus = "pending"
	JoinRequestAccepted  JoinRequestStatus = "accepted"
	JoinRequestRejected  JoinRequestStatus = "rejected"
	JoinRequestExpired   JoinRequestStatus = "expired"
	JoinRequestCancelled JoinRequestStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s JoinRequestStatus) IsTerminal() bool {
	return s != JoinRequestPending
}

// JoinRequest is a proposal from one table to pair with another table of the
// same merchant.
type JoinRequest struct {
	ID           string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	MerchantID   string            `gorm:"type:varchar(64);not null;index:idx_join_requests_merchant_status,priority:1" json:"merchant_id"`
	FromTableID  uint              `gorm:"not null;index" json:"from_table_id"`
	ToTableID    uint              `gorm:"not null;index" json:"to_table_id"`
	TemplateType string            `gorm:"type:varchar(50);not null" json:"template_type"`
	Status       JoinRequestStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_join_requests_merchant_status,priority:2" json:"status"`
	SessionID    *string           `gorm:"type:varchar(36)" json:"session_id,omitempty"`
	ResolvedBy   *string           `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
	ExpiresAt    time.Time         `gorm:"not null;index" json:"expires_at"`
	RespondedAt  *time.Time        `json:"responded_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsPastDeadline reports whether the request TTL has elapsed at now.
func (r *JoinRequest) IsPastDeadline(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Involves reports whether tableID is the sender or the recipient.
func (r *JoinRequest) Involves(tableID uint) bool {
	return r.FromTableID == tableID || r.ToTableID == tableID
}
