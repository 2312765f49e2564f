package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
)

const systemActor = "system"

var liveSessionStatuses = []models.JoinSessionStatus{
	models.JoinSessionPendingConfirmation,
	models.JoinSessionConfirmed,
}

// errLostRace marks a compare-and-swap that matched no row because another
// transition committed first.
var errLostRace = errors.New("status changed concurrently")

// SessionAllocator owns the JoinSession lifecycle.
type SessionAllocator struct {
	db     *gorm.DB
	guard  *OccupancyGuard
	codes  *CodeGenerator
	clock  clockwork.Clock
	window time.Duration
}

func NewSessionAllocator(db *gorm.DB, guard *OccupancyGuard, codes *CodeGenerator, clock clockwork.Clock, window time.Duration) *SessionAllocator {
	return &SessionAllocator{db: db, guard: guard, codes: codes, clock: clock, window: window}
}

// Allocate pairs the two tables of an accepted request. It must run inside
// the accepting transaction: the sender's pending_outgoing slot is handed to
// the session and the recipient's slot is acquired, in table id order.
func (a *SessionAllocator) Allocate(tx *gorm.DB, req *models.JoinRequest, now time.Time) (*models.JoinSession, error) {
	session := &models.JoinSession{
		ID:                   uuid.NewString(),
		MerchantID:           req.MerchantID,
		RequestID:            req.ID,
		TableAID:             req.FromTableID,
		TableBID:             req.ToTableID,
		Status:               models.JoinSessionPendingConfirmation,
		StartedAt:            now,
		ConfirmationDeadline: now.Add(a.window),
	}

	for _, tableID := range session.Tables() {
		var ok bool
		var err error
		if tableID == req.FromTableID {
			ok, err = a.guard.Transfer(tx, tableID, req.ID, models.OccupancyPaired, session.ID, now)
		} else {
			ok, err = a.guard.TryAcquire(tx, tableID, req.MerchantID, models.OccupancyPaired, session.ID, now)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTableOccupied
		}
	}

	code, err := a.codes.Generate(req.MerchantID, func(scope, code string) (bool, error) {
		return activeCodeTaken(tx, scope, code)
	})
	if err != nil {
		return nil, err
	}
	session.JoinCode = code
	session.ActiveCode = &code

	if err := tx.Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Another merchant transaction took the code between the check
			// and the insert.
			return nil, ErrCodeSpaceExhausted
		}
		return nil, fmt.Errorf("create join session: %w", err)
	}
	return session, nil
}

func activeCodeTaken(tx *gorm.DB, merchantID, code string) (bool, error) {
	var count int64
	err := tx.Model(&models.JoinSession{}).
		Where("merchant_id = ? AND active_code = ?", merchantID, code).
		Count(&count).Error
	return count > 0, err
}

// Confirm records staff verification of the join code. Past the deadline the
// session is cancelled with confirmation_timeout and ErrExpired is returned
// along with the cancelled record.
func (a *SessionAllocator) Confirm(ctx context.Context, sessionID, byStaff string) (*models.JoinSession, []JoinEvent, error) {
	session, err := a.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.JoinSessionPendingConfirmation {
		return session, nil, ErrWrongState
	}

	now := a.clock.Now()
	if session.IsPastDeadline(now) {
		reason := models.EndReasonConfirmationTimeout
		ended, changed, err := a.terminate(ctx, session, models.JoinSessionCancelled, reason, systemActor, now, models.JoinSessionPendingConfirmation)
		if err != nil {
			return nil, nil, err
		}
		if !changed {
			return ended, nil, ErrWrongState
		}
		return ended, []JoinEvent{sessionEvent(*ended, now)}, ErrExpired
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.JoinSession{}).
			Where("id = ? AND status = ?", session.ID, models.JoinSessionPendingConfirmation).
			Updates(map[string]interface{}{
				"status":       models.JoinSessionConfirmed,
				"confirmed_at": now,
				"confirmed_by": byStaff,
			})
		if res.Error != nil {
			return fmt.Errorf("confirm join session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		current, getErr := a.Get(ctx, sessionID)
		if getErr != nil {
			return nil, nil, getErr
		}
		return current, nil, ErrWrongState
	}
	if err != nil {
		return nil, nil, err
	}

	session.Status = models.JoinSessionConfirmed
	session.ConfirmedAt = &now
	session.ConfirmedBy = &byStaff
	return session, []JoinEvent{sessionEvent(*session, now)}, nil
}

// End terminates a live session and frees both tables. Ending a session that
// is already terminal returns the stored record unchanged and no event. An
// unconfirmed session past its deadline is cancelled with
// confirmation_timeout instead, and ErrExpired is returned with that record.
func (a *SessionAllocator) End(ctx context.Context, sessionID string, reason models.EndReason, by Actor) (*models.JoinSession, []JoinEvent, error) {
	session, err := a.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !by.IsStaff() && !session.Involves(by.TableID) {
		return nil, nil, ErrForbidden
	}
	if session.Status.IsTerminal() {
		return session, nil, nil
	}

	now := a.clock.Now()
	if session.Status == models.JoinSessionPendingConfirmation && session.IsPastDeadline(now) {
		cancelled, changed, err := a.terminate(ctx, session, models.JoinSessionCancelled, models.EndReasonConfirmationTimeout, systemActor, now, models.JoinSessionPendingConfirmation)
		if err != nil {
			return nil, nil, err
		}
		if !changed {
			return cancelled, nil, nil
		}
		return cancelled, []JoinEvent{sessionEvent(*cancelled, now)}, ErrExpired
	}

	ended, changed, err := a.terminate(ctx, session, models.JoinSessionEnded, reason, by.String(), now, liveSessionStatuses...)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return ended, nil, nil
	}
	return ended, []JoinEvent{sessionEvent(*ended, now)}, nil
}

// SweepExpiredConfirmations cancels every pending_confirmation session whose
// deadline has passed. An empty merchantID sweeps all merchants.
func (a *SessionAllocator) SweepExpiredConfirmations(ctx context.Context, merchantID string) ([]JoinEvent, error) {
	now := a.clock.Now()
	q := a.db.WithContext(ctx).
		Where("status = ? AND confirmation_deadline < ?", models.JoinSessionPendingConfirmation, now)
	if merchantID != "" {
		q = q.Where("merchant_id = ?", merchantID)
	}
	var due []models.JoinSession
	if err := q.Order("confirmation_deadline ASC").Limit(sweepBatchSize).Find(&due).Error; err != nil {
		return nil, fmt.Errorf("find expired confirmations: %w", err)
	}

	var events []JoinEvent
	for i := range due {
		ended, changed, err := a.terminate(ctx, &due[i], models.JoinSessionCancelled, models.EndReasonConfirmationTimeout, systemActor, now, models.JoinSessionPendingConfirmation)
		if err != nil {
			return events, err
		}
		if changed {
			events = append(events, sessionEvent(*ended, now))
		}
	}
	return events, nil
}

// Get loads a session by id.
func (a *SessionAllocator) Get(ctx context.Context, sessionID string) (*models.JoinSession, error) {
	var session models.JoinSession
	err := a.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load join session: %w", err)
	}
	return &session, nil
}

// FindActiveByCode looks a live session up by the code shown to the guests.
func (a *SessionAllocator) FindActiveByCode(ctx context.Context, merchantID, code string) (*models.JoinSession, error) {
	var session models.JoinSession
	err := a.db.WithContext(ctx).
		Where("merchant_id = ? AND active_code = ?", merchantID, strings.ToUpper(strings.TrimSpace(code))).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find join session by code: %w", err)
	}
	return &session, nil
}

// terminate moves session from one of the from statuses to status in its own
// transaction. changed is false when another transition won; the stored record
// is returned either way.
func (a *SessionAllocator) terminate(ctx context.Context, session *models.JoinSession, status models.JoinSessionStatus, reason models.EndReason, endedBy string, now time.Time, from ...models.JoinSessionStatus) (*models.JoinSession, bool, error) {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return a.terminateInTx(tx, session.ID, status, reason, endedBy, now, from...)
	})
	if errors.Is(err, errLostRace) {
		current, getErr := a.Get(ctx, session.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	ended := *session
	ended.Status = status
	ended.EndedAt = &now
	ended.EndReason = &reason
	ended.EndedBy = &endedBy
	ended.ActiveCode = nil
	return &ended, true, nil
}

func (a *SessionAllocator) terminateInTx(tx *gorm.DB, sessionID string, status models.JoinSessionStatus, reason models.EndReason, endedBy string, now time.Time, from ...models.JoinSessionStatus) error {
	res := tx.Model(&models.JoinSession{}).
		Where("id = ? AND status IN ?", sessionID, from).
		Updates(map[string]interface{}{
			"status":      status,
			"ended_at":    now,
			"end_reason":  reason,
			"ended_by":    endedBy,
			"active_code": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("end join session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errLostRace
	}
	if _, err := a.guard.ReleaseOwner(tx, sessionID); err != nil {
		return err
	}
	return nil
}

// timeoutInTx cancels a stale pending_confirmation session inside a caller's
// transaction. It reports false when the session was not stale.
func (a *SessionAllocator) timeoutInTx(tx *gorm.DB, session *models.JoinSession, now time.Time) (bool, error) {
	if session.Status != models.JoinSessionPendingConfirmation || !session.IsPastDeadline(now) {
		return false, nil
	}
	err := a.terminateInTx(tx, session.ID, models.JoinSessionCancelled, models.EndReasonConfirmationTimeout, systemActor, now, models.JoinSessionPendingConfirmation)
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	reason := models.EndReasonConfirmationTimeout
	actor := systemActor
	session.Status = models.JoinSessionCancelled
	session.EndedAt = &now
	session.EndReason = &reason
	session.EndedBy = &actor
	session.ActiveCode = nil
	return true, nil
}
