package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
)

// Notifier receives join lifecycle facts after they are committed. Delivery
// to guest or staff screens is the notifier's concern; an error is logged by
// the coordinator and never undoes the transition.
type Notifier interface {
	Notify(ctx context.Context, ev JoinEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev JoinEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev JoinEvent) error {
	return f(ctx, ev)
}

// MultiNotifier fans an event out to every sink, joining their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev JoinEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every event to a logrus logger.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev JoinEvent) error {
	n.Logger.WithFields(logrus.Fields{
		"event":       ev.Type,
		"merchant_id": ev.MerchantID,
		"ref_id":      ev.RefID(),
		"table_ids":   ev.TableIDs,
	}).Info("join event")
	return nil
}

// NotificationStore persists a staff-facing notification row per event.
type NotificationStore struct {
	DB *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{DB: db}
}

func (s *NotificationStore) Notify(ctx context.Context, ev JoinEvent) error {
	title, message := describeEvent(ev)
	n := models.Notification{
		MerchantID: ev.MerchantID,
		Event:      string(ev.Type),
		RefID:      ev.RefID(),
		Title:      &title,
		Message:    message,
		CreatedAt:  ev.OccurredAt,
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

func describeEvent(ev JoinEvent) (string, string) {
	switch {
	case ev.Request != nil:
		r := ev.Request
		switch ev.Type {
		case EventRequestCreated:
			return "Join requested", fmt.Sprintf("Table %d asked to join table %d (%s)", r.FromTableID, r.ToTableID, r.TemplateType)
		case EventRequestAccepted:
			return "Join accepted", fmt.Sprintf("Table %d accepted the request from table %d", r.ToTableID, r.FromTableID)
		case EventRequestRejected:
			return "Join rejected", fmt.Sprintf("Request from table %d to table %d was rejected", r.FromTableID, r.ToTableID)
		case EventRequestExpired:
			return "Join request expired", fmt.Sprintf("Request from table %d to table %d expired unanswered", r.FromTableID, r.ToTableID)
		case EventRequestCancelled:
			return "Join request cancelled", fmt.Sprintf("Request from table %d to table %d was cancelled", r.FromTableID, r.ToTableID)
		}
	case ev.Session != nil:
		s := ev.Session
		switch ev.Type {
		case EventSessionAllocated:
			return "Join awaiting confirmation", fmt.Sprintf("Tables %d and %d are waiting for staff to verify code %s", s.TableAID, s.TableBID, s.JoinCode)
		case EventSessionConfirmed:
			return "Join confirmed", fmt.Sprintf("Tables %d and %d are joined (code %s)", s.TableAID, s.TableBID, s.JoinCode)
		case EventSessionEnded, EventSessionCancelled:
			reason := ""
			if s.EndReason != nil {
				reason = string(*s.EndReason)
			}
			return "Join ended", fmt.Sprintf("Join of tables %d and %d ended (%s)", s.TableAID, s.TableBID, reason)
		}
	}
	return string(ev.Type), string(ev.Type)
}

// RedisNotifier publishes events as JSON on a per-merchant channel so other
// service instances and screens can subscribe.
type RedisNotifier struct {
	Client        *redis.Client
	ChannelPrefix string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{Client: client, ChannelPrefix: "joins:"}
}

// Channel is the pub/sub channel for a merchant.
func (n *RedisNotifier) Channel(merchantID string) string {
	return n.ChannelPrefix + merchantID
}

func (n *RedisNotifier) Notify(ctx context.Context, ev JoinEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode join event: %w", err)
	}
	if err := n.Client.Publish(ctx, n.Channel(ev.MerchantID), payload).Err(); err != nil {
		return fmt.Errorf("publish join event: %w", err)
	}
	return nil
}
