package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
)

// sweepBatchSize caps how many overdue rows a single sweep pass handles.
// Reads filter on the deadlines themselves, so rows left for the next pass
// are never reported as live.
var sweepBatchSize = 200

type RespondAction string

const (
	ActionAccept RespondAction = "accept"
	ActionReject RespondAction = "reject"
)

func (a RespondAction) Valid() bool {
	return a == ActionAccept || a == ActionReject
}

// RespondResult is the outcome of a respond call. Session is set only when
// the request was accepted.
type RespondResult struct {
	Request *models.JoinRequest `json:"request"`
	Session *models.JoinSession `json:"session,omitempty"`
}

// RequestLedger owns the JoinRequest lifecycle.
type RequestLedger struct {
	db                  *gorm.DB
	guard               *OccupancyGuard
	allocator           *SessionAllocator
	registry            TableRegistry
	clock               clockwork.Clock
	ttl                 time.Duration
	autoRejectCompeting bool
}

func NewRequestLedger(db *gorm.DB, guard *OccupancyGuard, allocator *SessionAllocator, registry TableRegistry, clock clockwork.Clock, ttl time.Duration, autoRejectCompeting bool) *RequestLedger {
	return &RequestLedger{
		db:                  db,
		guard:               guard,
		allocator:           allocator,
		registry:            registry,
		clock:               clock,
		ttl:                 ttl,
		autoRejectCompeting: autoRejectCompeting,
	}
}

// Create opens a pending request from one table to another and reserves the
// sender's slot. The recipient is only checked, never reserved.
func (l *RequestLedger) Create(ctx context.Context, fromTableID, toTableID uint, templateType string) (*models.JoinRequest, []JoinEvent, error) {
	if fromTableID == toTableID {
		return nil, nil, ErrInvalidPair
	}
	from, err := l.resolve(ctx, fromTableID)
	if err != nil {
		return nil, nil, err
	}
	to, err := l.resolve(ctx, toTableID)
	if err != nil {
		return nil, nil, err
	}
	if from.MerchantID != to.MerchantID {
		return nil, nil, ErrInvalidPair
	}

	events, err := l.reclaim(ctx, fromTableID, toTableID)
	if err != nil {
		return nil, nil, err
	}

	now := l.clock.Now()
	req := &models.JoinRequest{
		ID:           uuid.NewString(),
		MerchantID:   from.MerchantID,
		FromTableID:  fromTableID,
		ToTableID:    toTableID,
		TemplateType: templateType,
		Status:       models.JoinRequestPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(l.ttl),
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The recipient check is advisory: the slot is not locked, so the
		// recipient may commit its own request concurrently. Accepting
		// acquires the recipient slot through TryAcquire, which refuses then.
		slot, err := l.guard.Peek(tx, toTableID)
		if err != nil {
			return err
		}
		if slot != nil {
			return ErrTableOccupied
		}
		ok, err := l.guard.TryAcquire(tx, fromTableID, req.MerchantID, models.OccupancyPendingOutgoing, req.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTableOccupied
		}
		// A table removed since it was resolved must not gain a request.
		var tables int64
		if err := tx.Model(&models.Table{}).Where("id IN ?", []uint{fromTableID, toTableID}).Count(&tables).Error; err != nil {
			return fmt.Errorf("recheck join tables: %w", err)
		}
		if tables != 2 {
			return ErrInvalidPair
		}
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("create join request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, events, err
	}
	return req, append(events, requestEvent(*req, now)), nil
}

// Respond accepts or rejects a pending request on behalf of its recipient.
// Accepting allocates the session in the same transaction; when allocation
// fails the request stays pending.
func (l *RequestLedger) Respond(ctx context.Context, requestID string, action RespondAction, byTableID uint) (*RespondResult, []JoinEvent, error) {
	req, err := l.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.ToTableID != byTableID {
		return nil, nil, ErrForbidden
	}
	if req.Status.IsTerminal() {
		return &RespondResult{Request: req}, nil, ErrAlreadyResolved
	}

	now := l.clock.Now()
	if req.IsPastDeadline(now) {
		expired, events, err := l.expire(ctx, req, now)
		if err != nil {
			return nil, nil, err
		}
		return &RespondResult{Request: expired}, events, ErrExpired
	}

	by := TableActor(byTableID).String()
	if action == ActionReject {
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return l.resolveInTx(tx, req, models.JoinRequestRejected, by, now)
		})
		if err != nil {
			return l.lost(ctx, requestID, err)
		}
		return &RespondResult{Request: req}, []JoinEvent{requestEvent(*req, now)}, nil
	}

	events, err := l.reclaim(ctx, req.ToTableID)
	if err != nil {
		return nil, nil, err
	}

	var session *models.JoinSession
	var competing []models.JoinRequest
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accepted := *req
		if err := l.resolveInTx(tx, &accepted, models.JoinRequestAccepted, by, now); err != nil {
			return err
		}
		s, err := l.allocator.Allocate(tx, &accepted, now)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.JoinRequest{}).Where("id = ?", accepted.ID).
			Update("session_id", s.ID).Error; err != nil {
			return fmt.Errorf("link join session: %w", err)
		}
		accepted.SessionID = &s.ID
		if l.autoRejectCompeting {
			competing, err = l.rejectCompetingInTx(tx, &accepted, now)
			if err != nil {
				return err
			}
		}
		*req = accepted
		session = s
		return nil
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return l.lost(ctx, requestID, err)
		}
		return nil, events, err
	}

	events = append(events, requestEvent(*req, now), sessionEvent(*session, now))
	for _, r := range competing {
		events = append(events, requestEvent(r, now))
	}
	return &RespondResult{Request: req, Session: session}, events, nil
}

// Cancel withdraws a pending request. Only the sending table or staff may
// cancel.
func (l *RequestLedger) Cancel(ctx context.Context, requestID string, by Actor) (*models.JoinRequest, []JoinEvent, error) {
	req, err := l.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if !by.IsStaff() && by.TableID != req.FromTableID {
		return nil, nil, ErrForbidden
	}
	if req.Status.IsTerminal() {
		return req, nil, ErrAlreadyResolved
	}

	now := l.clock.Now()
	if req.IsPastDeadline(now) {
		expired, events, err := l.expire(ctx, req, now)
		if err != nil {
			return nil, nil, err
		}
		return expired, events, ErrExpired
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.resolveInTx(tx, req, models.JoinRequestCancelled, by.String(), now)
	})
	if err != nil {
		res, _, lostErr := l.lost(ctx, requestID, err)
		if res != nil {
			return res.Request, nil, lostErr
		}
		return nil, nil, lostErr
	}
	return req, []JoinEvent{requestEvent(*req, now)}, nil
}

// ExpireDue moves every overdue pending request to expired and frees the
// sender tables. Requests another transition resolved after they were read
// are skipped. An empty merchantID covers all merchants.
func (l *RequestLedger) ExpireDue(ctx context.Context, merchantID string) ([]JoinEvent, error) {
	now := l.clock.Now()
	q := l.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.JoinRequestPending, now)
	if merchantID != "" {
		q = q.Where("merchant_id = ?", merchantID)
	}
	var due []models.JoinRequest
	if err := q.Order("expires_at ASC").Limit(sweepBatchSize).Find(&due).Error; err != nil {
		return nil, fmt.Errorf("find expired join requests: %w", err)
	}

	var events []JoinEvent
	for i := range due {
		_, evs, err := l.expire(ctx, &due[i], now)
		if errors.Is(err, ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// Get loads a request by id.
func (l *RequestLedger) Get(ctx context.Context, requestID string) (*models.JoinRequest, error) {
	var req models.JoinRequest
	err := l.db.WithContext(ctx).Where("id = ?", requestID).Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load join request: %w", err)
	}
	return &req, nil
}

func (l *RequestLedger) resolve(ctx context.Context, tableID uint) (*models.Table, error) {
	table, err := l.registry.ResolveTable(ctx, tableID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidPair
	}
	return table, err
}

// expire moves req to expired in its own transaction. Losing the race to
// another transition is reported as ErrAlreadyResolved.
func (l *RequestLedger) expire(ctx context.Context, req *models.JoinRequest, now time.Time) (*models.JoinRequest, []JoinEvent, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.resolveInTx(tx, req, models.JoinRequestExpired, systemActor, now)
	})
	if errors.Is(err, errLostRace) {
		current, getErr := l.Get(ctx, req.ID)
		if getErr != nil {
			return nil, nil, getErr
		}
		return current, nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, nil, err
	}
	return req, []JoinEvent{requestEvent(*req, now)}, nil
}

// resolveInTx is the compare-and-swap from pending to a terminal status. It
// releases the sender's slot unless the request was accepted, in which case
// the allocator hands the slot over to the session. req is updated in place
// on success.
func (l *RequestLedger) resolveInTx(tx *gorm.DB, req *models.JoinRequest, status models.JoinRequestStatus, by string, now time.Time) error {
	updates := map[string]interface{}{
		"status":      status,
		"resolved_by": by,
	}
	if status == models.JoinRequestAccepted || status == models.JoinRequestRejected {
		updates["responded_at"] = now
	}
	res := tx.Model(&models.JoinRequest{}).
		Where("id = ? AND status = ?", req.ID, models.JoinRequestPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update join request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errLostRace
	}
	if status != models.JoinRequestAccepted {
		if _, err := l.guard.Release(tx, req.FromTableID, req.ID); err != nil {
			return err
		}
	}

	req.Status = status
	req.ResolvedBy = &by
	if _, ok := updates["responded_at"]; ok {
		req.RespondedAt = &now
	}
	return nil
}

// rejectCompetingInTx rejects the other pending requests addressed to either
// table of a just-accepted request.
func (l *RequestLedger) rejectCompetingInTx(tx *gorm.DB, accepted *models.JoinRequest, now time.Time) ([]models.JoinRequest, error) {
	var pending []models.JoinRequest
	err := tx.Where("status = ? AND id <> ? AND to_table_id IN ?",
		models.JoinRequestPending, accepted.ID, []uint{accepted.FromTableID, accepted.ToTableID}).
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("find competing join requests: %w", err)
	}

	var rejected []models.JoinRequest
	for i := range pending {
		err := l.resolveInTx(tx, &pending[i], models.JoinRequestRejected, systemActor, now)
		if errors.Is(err, errLostRace) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rejected = append(rejected, pending[i])
	}
	return rejected, nil
}

// lost turns a failed transition into the outcome the loser of a race sees.
func (l *RequestLedger) lost(ctx context.Context, requestID string, err error) (*RespondResult, []JoinEvent, error) {
	if !errors.Is(err, errLostRace) {
		return nil, nil, err
	}
	current, getErr := l.Get(ctx, requestID)
	if getErr != nil {
		return nil, nil, getErr
	}
	return &RespondResult{Request: current}, nil, ErrAlreadyResolved
}

// reclaim frees slots on the given tables whose owner is gone, terminal, or
// past its deadline. It commits on its own so that healing a stale table is
// not undone when the caller's transition is then rejected.
func (l *RequestLedger) reclaim(ctx context.Context, tableIDs ...uint) ([]JoinEvent, error) {
	now := l.clock.Now()
	var events []JoinEvent
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events = events[:0]
		for _, tableID := range tableIDs {
			ev, err := l.reclaimInTx(tx, tableID, now)
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (l *RequestLedger) reclaimInTx(tx *gorm.DB, tableID uint, now time.Time) (*JoinEvent, error) {
	slot, err := l.guard.Peek(tx, tableID)
	if err != nil || slot == nil {
		return nil, err
	}

	switch slot.Tag {
	case models.OccupancyPendingOutgoing:
		var req models.JoinRequest
		err := tx.Where("id = ?", slot.OwnerID).Take(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && req.Status.IsTerminal()) {
			_, err := l.guard.Release(tx, tableID, slot.OwnerID)
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("load slot owner: %w", err)
		}
		if !req.IsPastDeadline(now) {
			return nil, nil
		}
		err = l.resolveInTx(tx, &req, models.JoinRequestExpired, systemActor, now)
		if errors.Is(err, errLostRace) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ev := requestEvent(req, now)
		return &ev, nil

	case models.OccupancyPaired:
		var session models.JoinSession
		err := tx.Where("id = ?", slot.OwnerID).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && session.Status.IsTerminal()) {
			_, err := l.guard.Release(tx, tableID, slot.OwnerID)
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("load slot owner: %w", err)
		}
		timedOut, err := l.allocator.timeoutInTx(tx, &session, now)
		if err != nil || !timedOut {
			return nil, err
		}
		ev := sessionEvent(session, now)
		return &ev, nil
	}
	return nil, nil
}
