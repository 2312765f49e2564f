package services

import (
	"time"

	"github.com/yeremiapane/table-join/models"
)

type JoinEventType string

const (
	EventRequestCreated   JoinEventType = "join.request.created"
	EventRequestAccepted  JoinEventType = "join.request.accepted"
	EventRequestRejected  JoinEventType = "join.request.rejected"
	EventRequestExpired   JoinEventType = "join.request.expired"
	EventRequestCancelled JoinEventType = "join.request.cancelled"
	EventSessionAllocated JoinEventType = "join.session.allocated"
	EventSessionConfirmed JoinEventType = "join.session.confirmed"
	EventSessionEnded     JoinEventType = "join.session.ended"
	EventSessionCancelled JoinEventType = "join.session.cancelled"
)

// JoinEvent is a committed fact about a request or session. Request and
// Session are snapshots taken right after the commit.
type JoinEvent struct {
	Type       JoinEventType       `json:"event"`
	MerchantID string              `json:"merchant_id"`
	TableIDs   []uint              `json:"table_ids"`
	Request    *models.JoinRequest `json:"request,omitempty"`
	Session    *models.JoinSession `json:"session,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Involves reports whether the event concerns tableID.
func (e JoinEvent) Involves(tableID uint) bool {
	for _, id := range e.TableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

// RefID is the id of the request or session the event is about.
func (e JoinEvent) RefID() string {
	if e.Session != nil {
		return e.Session.ID
	}
	if e.Request != nil {
		return e.Request.ID
	}
	return ""
}

var requestEventTypes = map[models.JoinRequestStatus]JoinEventType{
	models.JoinRequestPending:   EventRequestCreated,
	models.JoinRequestAccepted:  EventRequestAccepted,
	models.JoinRequestRejected:  EventRequestRejected,
	models.JoinRequestExpired:   EventRequestExpired,
	models.JoinRequestCancelled: EventRequestCancelled,
}

var sessionEventTypes = map[models.JoinSessionStatus]JoinEventType{
	models.JoinSessionPendingConfirmation: EventSessionAllocated,
	models.JoinSessionConfirmed:           EventSessionConfirmed,
	models.JoinSessionEnded:               EventSessionEnded,
	models.JoinSessionCancelled:           EventSessionCancelled,
}

// requestEvent derives the event from the status the request just reached.
func requestEvent(r models.JoinRequest, at time.Time) JoinEvent {
	return JoinEvent{
		Type:       requestEventTypes[r.Status],
		MerchantID: r.MerchantID,
		TableIDs:   []uint{r.FromTableID, r.ToTableID},
		Request:    &r,
		OccurredAt: at,
	}
}

// sessionEvent derives the event from the status the session just reached.
func sessionEvent(s models.JoinSession, at time.Time) JoinEvent {
	return JoinEvent{
		Type:       sessionEventTypes[s.Status],
		MerchantID: s.MerchantID,
		TableIDs:   s.Tables(),
		Session:    &s,
		OccurredAt: at,
	}
}
