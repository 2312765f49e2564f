package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-join/utils"
)

// JoinSweeper runs both TTL sweeps on a fixed interval. Lazy checks in the
// coordinator keep reads correct between runs; the sweeper frees tables that
// nobody looks at.
type JoinSweeper struct {
	coordinator *JoinCoordinator
	interval    time.Duration
	clock       clockwork.Clock

	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

func NewJoinSweeper(coordinator *JoinCoordinator, interval time.Duration, clock clockwork.Clock) *JoinSweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JoinSweeper{coordinator: coordinator, interval: interval, clock: clock}
}

// RunOnce performs a single pass of both sweeps.
func (s *JoinSweeper) RunOnce(ctx context.Context) (expired int, cancelled int, err error) {
	expired, err = s.coordinator.ExpireDueRequests(ctx)
	if err != nil {
		return expired, 0, fmt.Errorf("expire join requests: %w", err)
	}
	cancelled, err = s.coordinator.SweepExpiredConfirmations(ctx)
	if err != nil {
		return expired, cancelled, fmt.Errorf("sweep join confirmations: %w", err)
	}
	return expired, cancelled, nil
}

// Start schedules RunOnce every interval. Runs never overlap.
func (s *JoinSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("create join sweeper: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.tick(ctx)
		}),
		gocron.WithName("join-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("schedule join sweeper: %w", err)
	}

	sched.Start()
	s.scheduler = sched
	s.cancel = cancel
	utils.InfoLogger.WithField("interval", s.interval).Info("Join sweeper started")
	return nil
}

// Stop cancels an in-flight pass and waits for the scheduler to drain.
func (s *JoinSweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return nil
	}
	s.cancel()
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	s.cancel = nil
	utils.InfoLogger.Info("Join sweeper stopped")
	return err
}

func (s *JoinSweeper) tick(ctx context.Context) {
	expired, cancelled, err := s.RunOnce(ctx)
	if err != nil {
		utils.ErrorLogger.Errorf("Join sweep failed: %v", err)
		return
	}
	if expired > 0 || cancelled > 0 {
		utils.InfoLogger.WithFields(logrus.Fields{
			"expired_requests":   expired,
			"cancelled_sessions": cancelled,
		}).Info("Join sweep completed")
	}
}
