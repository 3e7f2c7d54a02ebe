package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumacallabs/lumacall/internal/config"
	meteringdomain "github.com/lumacallabs/lumacall/internal/metering/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	sessionrepo "github.com/lumacallabs/lumacall/internal/session/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leasePrefix = "metering:lease:"

// Runner sweeps every consuming session once per interval. Ticks fan out
// across sessions but a redis lease keeps any one session down to a single
// in-flight tick, even across instances.
type Runner struct {
	db       *gorm.DB
	log      *zap.Logger
	svc      *Service
	redis    *redis.Client
	sessions *sessionrepo.Repository
	interval time.Duration
}

type RunnerParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Svc   *Service
	Redis *redis.Client
	Cfg   config.Config
}

func NewRunner(p RunnerParam) *Runner {
	return &Runner{
		db:       p.DB,
		log:      p.Log.Named("metering.runner"),
		svc:      p.Svc,
		redis:    p.Redis,
		sessions: sessionrepo.NewRepository(p.DB),
		interval: p.Cfg.Scheduler.MeteringInterval,
	}
}

// Sweep ticks every consuming session once and reports how many charges
// were applied.
func (r *Runner) Sweep(ctx context.Context) (int, error) {
	consuming, err := r.sessions.ListConsuming(ctx)
	if err != nil {
		return 0, err
	}
	if len(consuming) == 0 {
		return 0, nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for _, session := range consuming {
		wg.Add(1)
		go func(session sessiondomain.Session) {
			defer wg.Done()
			if r.tickOne(ctx, session) {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}(session)
	}
	wg.Wait()
	return charged, nil
}

func (r *Runner) tickOne(ctx context.Context, session sessiondomain.Session) bool {
	key := leasePrefix + session.ID.String()
	// Lease outlives the interval so a slow tick cannot overlap its successor.
	ok, err := r.redis.SetNX(ctx, key, "1", 2*r.interval).Result()
	if err != nil {
		r.log.Warn("metering lease acquire failed", zap.Error(err), zap.String("session_id", session.ID.String()))
		return false
	}
	if !ok {
		return false
	}
	defer r.redis.Del(context.WithoutCancel(ctx), key)

	result, err := r.svc.Tick(ctx, session.ID, session.ConsumeSeq+1)
	if err != nil {
		switch {
		case errors.Is(err, meteringdomain.ErrNotConsuming),
			errors.Is(err, meteringdomain.ErrStaleTick),
			errors.Is(err, meteringdomain.ErrDuplicateTick):
			// The session ended, or another runner already charged this slot.
			return false
		}
		r.log.Error("metering tick failed", zap.Error(err), zap.String("session_id", session.ID.String()))
		return false
	}

	if result.Ended {
		r.log.Info("session ended on exhausted funds",
			zap.String("session_id", session.ID.String()),
			zap.Int64("final_charge_cents", result.Tick.CoinsChargedCents))
	}
	return result.Tick != nil
}
