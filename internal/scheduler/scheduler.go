// Package scheduler owns every recurring job: the metering sweep, request
// expiry, the weekly payout run, event dispatch, and retention cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	meteringservice "github.com/lumacallabs/lumacall/internal/metering/service"
	"github.com/lumacallabs/lumacall/internal/notifier"
	payoutdomain "github.com/lumacallabs/lumacall/internal/payout/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.SchedulerConfig
	genID *snowflake.Node

	metering   *meteringservice.Runner
	gifts      giftdomain.Service
	sessions   sessiondomain.Service
	payouts    payoutdomain.Service
	dispatcher *notifier.Dispatcher

	lastPayoutDay time.Time
}

type Param struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Cfg        config.Config
	Metering   *meteringservice.Runner
	Gifts      giftdomain.Service
	Sessions   sessiondomain.Service
	Payouts    payoutdomain.Service
	Dispatcher *notifier.Dispatcher
}

func New(p Param) *Scheduler {
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler"),
		clock: p.Clock,
		cfg:   p.Cfg.Scheduler,
		genID: p.GenID,

		metering:   p.Metering,
		gifts:      p.Gifts,
		sessions:   p.Sessions,
		payouts:    p.Payouts,
		dispatcher: p.Dispatcher,
	}
}

// RunForever blocks until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	meteringTicker := time.NewTicker(s.cfg.MeteringInterval)
	dispatchTicker := time.NewTicker(s.cfg.DispatchInterval)
	expiryTicker := time.NewTicker(s.cfg.ExpiryInterval)
	dailyTicker := time.NewTicker(time.Hour)
	defer meteringTicker.Stop()
	defer dispatchTicker.Stop()
	defer expiryTicker.Stop()
	defer dailyTicker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("metering_interval", s.cfg.MeteringInterval),
		zap.Duration("dispatch_interval", s.cfg.DispatchInterval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-meteringTicker.C:
			s.runJob(ctx, "metering_sweep", s.MeteringSweepJob)
		case <-dispatchTicker.C:
			s.runJob(ctx, "dispatch_events", s.DispatchEventsJob)
		case <-expiryTicker.C:
			s.runJob(ctx, "expire_gift_requests", s.ExpireGiftRequestsJob)
			s.runJob(ctx, "expire_second_peer_invites", s.ExpireSecondPeerInvitesJob)
		case <-dailyTicker.C:
			s.runJob(ctx, "weekly_payout", s.WeeklyPayoutJob)
			s.runJob(ctx, "cleanup_events", s.CleanupEventsJob)
		}
	}
}

func (s *Scheduler) MeteringSweepJob(ctx context.Context) (int, error) {
	return s.metering.Sweep(ctx)
}

func (s *Scheduler) DispatchEventsJob(ctx context.Context) (int, error) {
	return s.dispatcher.ProcessEvents(ctx)
}

func (s *Scheduler) ExpireGiftRequestsJob(ctx context.Context) (int, error) {
	return s.gifts.ExpirePending(ctx)
}

func (s *Scheduler) ExpireSecondPeerInvitesJob(ctx context.Context) (int, error) {
	return s.sessions.ExpireSecondPeerInvites(ctx)
}

// WeeklyPayoutJob settles the most recently completed week. RunWeek skips
// already-batched payees, so repeating the run changes nothing.
func (s *Scheduler) WeeklyPayoutJob(ctx context.Context) (int, error) {
	now := s.clock.Now()
	day := now.Truncate(24 * time.Hour)
	if day.Equal(s.lastPayoutDay) {
		return 0, nil
	}

	weekStart := lastCompletedWeekStart(now, s.cfg.PayoutWeekday)
	batches, err := s.payouts.RunWeek(ctx, weekStart)
	if err != nil {
		return 0, err
	}
	s.lastPayoutDay = day
	return len(batches), nil
}

func (s *Scheduler) CleanupEventsJob(ctx context.Context) (int, error) {
	if s.cfg.EventRetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.EventRetentionDays)
	result := s.db.WithContext(ctx).Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	return int(result.RowsAffected), result.Error
}

// lastCompletedWeekStart returns the start of the most recent 7-day period
// ending on (and excluding) the latest occurrence of weekday.
func lastCompletedWeekStart(now time.Time, weekday time.Weekday) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	for day.Weekday() != weekday {
		day = day.AddDate(0, 0, -1)
	}
	return day.AddDate(0, 0, -7)
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
)
