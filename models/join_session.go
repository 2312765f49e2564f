package models

import "time"

type JoinSessionStatus string

const (
	JoinSessionPendingConfirmation JoinSessionStatus = "pending_confirmation"
	JoinSessionConfirmed           JoinSessionStatus = "confirmed"
	JoinSessionEnded               JoinSessionStatus = "ended"
	JoinSessionCancelled           JoinSessionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s JoinSessionStatus) IsTerminal() bool {
	return s == JoinSessionEnded || s == JoinSessionCancelled
}

type EndReason string

const (
	EndReasonAdminCancelled      EndReason = "admin_cancelled"
	EndReasonGuestLeft           EndReason = "guest_left"
	EndReasonExpired             EndReason = "expired"
	EndReasonConfirmationTimeout EndReason = "confirmation_timeout"
)

// JoinSession is the paired state created when a JoinRequest is accepted.
//
// ActiveCode mirrors JoinCode while the session is non-terminal and is NULL
// afterwards, so the unique index on (merchant_id, active_code) only covers
// live sessions and codes can be reused once a session terminates.
type JoinSession struct {
	ID                   string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	MerchantID           string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_join_sessions_active_code,priority:1" json:"merchant_id"`
	RequestID            string            `gorm:"type:varchar(36);not null;uniqueIndex" json:"request_id"`
	TableAID             uint              `gorm:"not null;index" json:"table_a_id"`
	TableBID             uint              `gorm:"not null;index" json:"table_b_id"`
	JoinCode             string            `gorm:"type:varchar(16);not null" json:"join_code"`
	ActiveCode           *string           `gorm:"type:varchar(16);uniqueIndex:idx_join_sessions_active_code,priority:2" json:"-"`
	Status               JoinSessionStatus `gorm:"type:varchar(30);not null;default:'pending_confirmation';index" json:"status"`
	StartedAt            time.Time         `gorm:"not null;index" json:"started_at"`
	ConfirmationDeadline time.Time         `gorm:"not null;index" json:"confirmation_deadline"`
	ConfirmedAt          *time.Time        `json:"confirmed_at,omitempty"`
	ConfirmedBy          *string           `gorm:"type:varchar(64)" json:"confirmed_by,omitempty"`
	EndedAt              *time.Time        `json:"ended_at,omitempty"`
	EndReason            *EndReason        `gorm:"type:varchar(40)" json:"end_reason,omitempty"`
	EndedBy              *string           `gorm:"type:varchar(64)" json:"ended_by,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// IsPastDeadline reports whether the confirmation window has elapsed at now.
func (s *JoinSession) IsPastDeadline(now time.Time) bool {
	return now.After(s.ConfirmationDeadline)
}

// Involves reports whether tableID is one of the paired tables.
func (s *JoinSession) Involves(tableID uint) bool {
	return s.TableAID == tableID || s.TableBID == tableID
}

// Tables returns both paired table ids in ascending order.
func (s *JoinSession) Tables() []uint {
	if s.TableAID < s.TableBID {
		return []uint{s.TableAID, s.TableBID}
	}
	return []uint{s.TableBID, s.TableAID}
}
