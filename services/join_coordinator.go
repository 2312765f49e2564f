package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-join/config"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/utils"
	"gorm.io/gorm"
)

const notifyTimeout = 5 * time.Second

// JoinCoordinator is the operation surface used by handlers and the sweeper.
// Each call is one atomic unit of work; lifecycle events are emitted only
// after the unit commits.
type JoinCoordinator struct {
	db        *gorm.DB
	guard     *OccupancyGuard
	ledger    *RequestLedger
	allocator *SessionAllocator
	notifier  Notifier
	clock     clockwork.Clock
	cfg       config.JoinConfig
}

func NewJoinCoordinator(db *gorm.DB, registry TableRegistry, notifier Notifier, clock clockwork.Clock, cfg config.JoinConfig) *JoinCoordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if registry == nil {
		registry = NewDBTableRegistry(db)
	}
	guard := NewOccupancyGuard()
	codes := NewCodeGenerator(cfg.CodeLength, cfg.CodeMaxAttempts)
	allocator := NewSessionAllocator(db, guard, codes, clock, cfg.ConfirmationWindow)
	ledger := NewRequestLedger(db, guard, allocator, registry, clock, cfg.RequestTTL, cfg.AutoRejectCompeting)
	return &JoinCoordinator{
		db:        db,
		guard:     guard,
		ledger:    ledger,
		allocator: allocator,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
	}
}

// RequestJoin opens a pending request from one table to another.
func (c *JoinCoordinator) RequestJoin(ctx context.Context, fromTableID, toTableID uint, templateType string) (*models.JoinRequest, error) {
	req, events, err := c.ledger.Create(ctx, fromTableID, toTableID, templateType)
	c.emit(ctx, events)
	if err != nil {
		c.logRejected("request join", err, logrus.Fields{"from_table_id": fromTableID, "to_table_id": toTableID})
		return nil, err
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"merchant_id": req.MerchantID,
		"table_id":    req.FromTableID,
	}).Info("Join request created")
	return req, nil
}

// RespondToJoin accepts or rejects a request. A CodeSpaceExhausted outcome
// is retried with exponential backoff before it is surfaced.
func (c *JoinCoordinator) RespondToJoin(ctx context.Context, requestID string, action RespondAction, byTableID uint) (*RespondResult, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown respond action %q", action)
	}

	backoff := c.cfg.CodeRetryBackoff
	for attempt := 0; ; attempt++ {
		result, events, err := c.ledger.Respond(ctx, requestID, action, byTableID)
		c.emit(ctx, events)
		if err == nil {
			fields := logrus.Fields{"request_id": requestID, "table_id": byTableID, "action": action}
			if result.Session != nil {
				fields["session_id"] = result.Session.ID
				fields["merchant_id"] = result.Session.MerchantID
			}
			utils.InfoLogger.WithFields(fields).Info("Join request answered")
			return result, nil
		}
		if !errors.Is(err, ErrCodeSpaceExhausted) || attempt >= c.cfg.CodeRetries {
			c.logRejected("respond to join", err, logrus.Fields{"request_id": requestID, "table_id": byTableID})
			return result, err
		}

		utils.InfoLogger.WithFields(logrus.Fields{
			"request_id": requestID,
			"attempt":    attempt + 1,
			"backoff":    backoff,
		}).Info("Join code space exhausted, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(backoff):
		}
		backoff *= 2
	}
}

// ConfirmJoin records staff verification of the code shown on both tables.
func (c *JoinCoordinator) ConfirmJoin(ctx context.Context, sessionID, byStaff string) (*models.JoinSession, error) {
	session, events, err := c.allocator.Confirm(ctx, sessionID, byStaff)
	c.emit(ctx, events)
	if err != nil {
		c.logRejected("confirm join", err, logrus.Fields{"session_id": sessionID, "staff_id": byStaff})
		return session, err
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"merchant_id": session.MerchantID,
		"staff_id":    byStaff,
	}).Info("Join session confirmed")
	return session, nil
}

// EndJoin ends a live session. Ending an already terminal session returns the
// stored record. A lapsed unconfirmed session comes back cancelled along with
// ErrExpired.
func (c *JoinCoordinator) EndJoin(ctx context.Context, sessionID string, reason models.EndReason, by Actor) (*models.JoinSession, error) {
	session, events, err := c.allocator.End(ctx, sessionID, reason, by)
	c.emit(ctx, events)
	if err != nil {
		c.logRejected("end join", err, logrus.Fields{"session_id": sessionID, "actor": by.String()})
		return session, err
	}
	if len(events) > 0 {
		utils.InfoLogger.WithFields(logrus.Fields{
			"session_id":  session.ID,
			"merchant_id": session.MerchantID,
			"reason":      reason,
			"actor":       by.String(),
		}).Info("Join session ended")
	}
	return session, nil
}

// CancelJoin withdraws a pending request.
func (c *JoinCoordinator) CancelJoin(ctx context.Context, requestID string, by Actor) (*models.JoinRequest, error) {
	req, events, err := c.ledger.Cancel(ctx, requestID, by)
	c.emit(ctx, events)
	if err != nil {
		c.logRejected("cancel join", err, logrus.Fields{"request_id": requestID, "actor": by.String()})
		return req, err
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"merchant_id": req.MerchantID,
		"actor":       by.String(),
	}).Info("Join request cancelled")
	return req, nil
}

// RemoveTable deletes a table that holds no commitment and has no pending
// request addressed to it. The table's slot is held for the whole transaction
// so no join can start on it while it is removed.
func (c *JoinCoordinator) RemoveTable(ctx context.Context, tableID uint) error {
	events, err := c.ledger.reclaim(ctx, tableID)
	c.emit(ctx, events)
	if err != nil {
		return err
	}
	if _, err := c.IncomingRequests(ctx, tableID); err != nil {
		return err
	}

	owner := "remove:" + strconv.FormatUint(uint64(tableID), 10)
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table models.Table
		if err := tx.First(&table, tableID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load table %d: %w", tableID, err)
		}
		ok, err := c.guard.TryAcquire(tx, tableID, table.MerchantID, models.OccupancyRemoving, owner, c.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrTableOccupied
		}

		var incoming int64
		if err := tx.Model(&models.JoinRequest{}).
			Where("to_table_id = ? AND status = ?", tableID, models.JoinRequestPending).
			Count(&incoming).Error; err != nil {
			return fmt.Errorf("count incoming join requests: %w", err)
		}
		if incoming > 0 {
			return ErrTableOccupied
		}

		if err := tx.Delete(&table).Error; err != nil {
			return fmt.Errorf("delete table %d: %w", tableID, err)
		}
		_, err = c.guard.Release(tx, tableID, owner)
		return err
	})
	if err != nil {
		c.logRejected("remove table", err, logrus.Fields{"table_id": tableID})
		return err
	}
	return nil
}

// ExpireDueRequests expires overdue pending requests of every merchant.
func (c *JoinCoordinator) ExpireDueRequests(ctx context.Context) (int, error) {
	events, err := c.ledger.ExpireDue(ctx, "")
	c.emit(ctx, events)
	return len(events), err
}

// SweepExpiredConfirmations cancels unconfirmed sessions past their window.
func (c *JoinCoordinator) SweepExpiredConfirmations(ctx context.Context) (int, error) {
	events, err := c.allocator.SweepExpiredConfirmations(ctx, "")
	c.emit(ctx, events)
	return len(events), err
}

// sweepMerchant applies both sweeps to one merchant before a read so that
// reads never report a stale entity as live.
func (c *JoinCoordinator) sweepMerchant(ctx context.Context, merchantID string) error {
	events, err := c.ledger.ExpireDue(ctx, merchantID)
	c.emit(ctx, events)
	if err != nil {
		return err
	}
	events, err = c.allocator.SweepExpiredConfirmations(ctx, merchantID)
	c.emit(ctx, events)
	return err
}

func (c *JoinCoordinator) emit(ctx context.Context, events []JoinEvent) {
	if c.notifier == nil || len(events) == 0 {
		return
	}
	// Delivery outlives a cancelled request context: the transition already
	// committed.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, ev := range events {
		if err := c.notifier.Notify(nctx, ev); err != nil {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"event":       ev.Type,
				"ref_id":      ev.RefID(),
				"merchant_id": ev.MerchantID,
			}).Errorf("Failed to deliver join event: %v", err)
		}
	}
}

func (c *JoinCoordinator) logRejected(op string, err error, fields logrus.Fields) {
	if JoinErrorCodeOf(err) != "" {
		fields["outcome"] = JoinErrorCodeOf(err)
		utils.InfoLogger.WithFields(fields).Infof("%s rejected", op)
		return
	}
	utils.ErrorLogger.WithFields(fields).Errorf("%s failed: %v", op, err)
}
