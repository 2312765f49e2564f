package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveJoins is every non-terminal request and session of a merchant.
type ActiveJoins struct {
	Requests []models.JoinRequest `json:"requests"`
	Sessions []models.JoinSession `json:"sessions"`
}

// JoinStats drives the staff dashboard counters.
type JoinStats struct {
	Since            time.Time `json:"since"`
	PendingRequests  int64     `json:"pending_requests"`
	ActiveSessions   int64     `json:"active_sessions"`
	RequestsCreated  int64     `json:"requests_created"`
	RequestsAccepted int64     `json:"requests_accepted"`
}

// TableJoinStatus is what a guest screen polls for its own table.
type TableJoinStatus struct {
	TableID  uint                `json:"table_id"`
	Tag      models.OccupancyTag `json:"tag,omitempty"`
	Free     bool                `json:"free"`
	Outgoing *models.JoinRequest `json:"outgoing,omitempty"`
	Session  *models.JoinSession `json:"session,omitempty"`
}

// ListActive returns the live requests and sessions of a merchant after
// applying both sweeps to it.
func (c *JoinCoordinator) ListActive(ctx context.Context, merchantID string) (*ActiveJoins, error) {
	if err := c.sweepMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	active := &ActiveJoins{}
	db := c.db.WithContext(ctx)
	if err := db.Where("merchant_id = ?", merchantID).Where(livePendingRequests(now)).
		Order("created_at DESC").Find(&active.Requests).Error; err != nil {
		return nil, fmt.Errorf("list pending join requests: %w", err)
	}
	if err := db.Where("merchant_id = ?", merchantID).Where(liveSessions(now)).
		Order("started_at DESC").Find(&active.Sessions).Error; err != nil {
		return nil, fmt.Errorf("list live join sessions: %w", err)
	}
	return active, nil
}

// StatsSince counts current load and the traffic created since the given time.
func (c *JoinCoordinator) StatsSince(ctx context.Context, merchantID string, since time.Time) (*JoinStats, error) {
	if err := c.sweepMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	stats := &JoinStats{Since: since}
	db := c.db.WithContext(ctx)
	counts := []struct {
		into  *int64
		model interface{}
		query clause.Expression
	}{
		{&stats.PendingRequests, &models.JoinRequest{}, livePendingRequests(now)},
		{&stats.ActiveSessions, &models.JoinSession{}, liveSessions(now)},
		{&stats.RequestsCreated, &models.JoinRequest{}, clause.Gte{Column: clause.Column{Name: "created_at"}, Value: since}},
		{&stats.RequestsAccepted, &models.JoinRequest{}, clause.And(
			clause.Eq{Column: clause.Column{Name: "status"}, Value: models.JoinRequestAccepted},
			clause.Gte{Column: clause.Column{Name: "created_at"}, Value: since},
		)},
	}
	for _, q := range counts {
		if err := db.Model(q.model).Where("merchant_id = ?", merchantID).Where(q.query).Count(q.into).Error; err != nil {
			return nil, fmt.Errorf("count join stats: %w", err)
		}
	}
	return stats, nil
}

// livePendingRequests matches pending requests still inside their TTL.
func livePendingRequests(now time.Time) clause.Expression {
	return clause.And(
		clause.Eq{Column: clause.Column{Name: "status"}, Value: models.JoinRequestPending},
		clause.Gte{Column: clause.Column{Name: "expires_at"}, Value: now},
	)
}

// liveSessions matches confirmed sessions and unconfirmed ones still inside
// their confirmation window.
func liveSessions(now time.Time) clause.Expression {
	return clause.Or(
		clause.Eq{Column: clause.Column{Name: "status"}, Value: models.JoinSessionConfirmed},
		clause.And(
			clause.Eq{Column: clause.Column{Name: "status"}, Value: models.JoinSessionPendingConfirmation},
			clause.Gte{Column: clause.Column{Name: "confirmation_deadline"}, Value: now},
		),
	)
}

// GetRequest loads a request, expiring it first if it is overdue.
func (c *JoinCoordinator) GetRequest(ctx context.Context, requestID string) (*models.JoinRequest, error) {
	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.JoinRequestPending && req.IsPastDeadline(c.clock.Now()) {
		expired, events, err := c.ledger.expire(ctx, req, c.clock.Now())
		c.emit(ctx, events)
		if err != nil && !errors.Is(err, ErrAlreadyResolved) {
			return nil, err
		}
		return expired, nil
	}
	return req, nil
}

// GetSession loads a session, cancelling it first if its confirmation window
// lapsed.
func (c *JoinCoordinator) GetSession(ctx context.Context, sessionID string) (*models.JoinSession, error) {
	session, err := c.allocator.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	if session.Status == models.JoinSessionPendingConfirmation && session.IsPastDeadline(now) {
		ended, changed, err := c.allocator.terminate(ctx, session, models.JoinSessionCancelled,
			models.EndReasonConfirmationTimeout, systemActor, now, models.JoinSessionPendingConfirmation)
		if err != nil {
			return nil, err
		}
		if changed {
			c.emit(ctx, []JoinEvent{sessionEvent(*ended, now)})
		}
		return ended, nil
	}
	return session, nil
}

// IncomingRequests lists live requests addressed to a table, oldest first.
// Overdue entries are expired instead of listed.
func (c *JoinCoordinator) IncomingRequests(ctx context.Context, tableID uint) ([]models.JoinRequest, error) {
	var pending []models.JoinRequest
	err := c.db.WithContext(ctx).
		Where("to_table_id = ? AND status = ?", tableID, models.JoinRequestPending).
		Order("created_at ASC").Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("list incoming join requests: %w", err)
	}

	now := c.clock.Now()
	live := make([]models.JoinRequest, 0, len(pending))
	for i := range pending {
		if !pending[i].IsPastDeadline(now) {
			live = append(live, pending[i])
			continue
		}
		_, events, err := c.ledger.expire(ctx, &pending[i], now)
		c.emit(ctx, events)
		if err != nil && !errors.Is(err, ErrAlreadyResolved) {
			return nil, err
		}
	}
	return live, nil
}

// OutgoingRequest returns the live request a table sent, or ErrNotFound.
func (c *JoinCoordinator) OutgoingRequest(ctx context.Context, tableID uint) (*models.JoinRequest, error) {
	var req models.JoinRequest
	err := c.db.WithContext(ctx).
		Where("from_table_id = ? AND status = ?", tableID, models.JoinRequestPending).
		Order("created_at DESC").Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load outgoing join request: %w", err)
	}
	if req.IsPastDeadline(c.clock.Now()) {
		_, events, err := c.ledger.expire(ctx, &req, c.clock.Now())
		c.emit(ctx, events)
		if err != nil && !errors.Is(err, ErrAlreadyResolved) {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return &req, nil
}

// TableStatus reports the single commitment a table holds, healing stale
// slots on the way.
func (c *JoinCoordinator) TableStatus(ctx context.Context, tableID uint) (*TableJoinStatus, error) {
	events, err := c.ledger.reclaim(ctx, tableID)
	c.emit(ctx, events)
	if err != nil {
		return nil, err
	}

	slot, err := c.guard.Peek(c.db.WithContext(ctx), tableID)
	if err != nil {
		return nil, err
	}
	status := &TableJoinStatus{TableID: tableID, Free: slot == nil}
	if slot == nil {
		return status, nil
	}
	status.Tag = slot.Tag
	switch slot.Tag {
	case models.OccupancyPendingOutgoing:
		req, err := c.ledger.Get(ctx, slot.OwnerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		status.Outgoing = req
	case models.OccupancyPaired:
		session, err := c.allocator.Get(ctx, slot.OwnerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		status.Session = session
	}
	return status, nil
}

// FindActiveSessionByCode resolves the code a guest screen shows to its live
// session.
func (c *JoinCoordinator) FindActiveSessionByCode(ctx context.Context, merchantID, code string) (*models.JoinSession, error) {
	session, err := c.allocator.FindActiveByCode(ctx, merchantID, code)
	if err != nil {
		return nil, err
	}
	if session.Status == models.JoinSessionPendingConfirmation && session.IsPastDeadline(c.clock.Now()) {
		if _, err := c.GetSession(ctx, session.ID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	return session, nil
}

// RequestMerchant returns the merchant owning a request without applying any
// lazy transition. Used for staff authorisation.
func (c *JoinCoordinator) RequestMerchant(ctx context.Context, requestID string) (string, error) {
	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return "", err
	}
	return req.MerchantID, nil
}

// SessionMerchant is RequestMerchant for sessions.
func (c *JoinCoordinator) SessionMerchant(ctx context.Context, sessionID string) (string, error) {
	session, err := c.allocator.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.MerchantID, nil
}
