package notifier

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/events"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cursorKey = "notifier:last_event_id"
	batchSize = 50
)

type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	redis     *goredis.Client
	providers []Provider
}

type DispatcherParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Redis     *goredis.Client
	Providers []Provider `group:"notifier_providers"`
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	providers := p.Providers
	if len(providers) == 0 {
		providers = []Provider{NewLogProvider(p.Log)}
	}
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("notifier.dispatcher"),
		redis:     p.Redis,
		providers: providers,
	}
}

// ProcessEvents delivers events past the stored cursor, advancing it one
// event at a time so a crash re-delivers at most the in-flight event.
func (d *Dispatcher) ProcessEvents(ctx context.Context) (int, error) {
	lastID, err := d.lastEventID(ctx)
	if err != nil {
		return 0, err
	}

	var rows []events.Event
	err = d.db.WithContext(ctx).
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(batchSize).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range rows {
		if err := d.dispatch(ctx, event); err != nil {
			// The cursor stays put so the next pass retries this event
			// before touching anything behind it.
			d.log.Error("event dispatch failed",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType))
			return delivered, nil
		}
		delivered++
		if err := d.setLastEventID(ctx, event.ID); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event events.Event) error {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}
	for _, provider := range d.providers {
		if err := provider.Deliver(ctx, event.EventType, payload); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) lastEventID(ctx context.Context) (snowflake.ID, error) {
	value, err := d.redis.Get(ctx, cursorKey).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return snowflake.ID(id), nil
}

func (d *Dispatcher) setLastEventID(ctx context.Context, id snowflake.ID) error {
	return d.redis.Set(ctx, cursorKey, id.String(), 0).Err()
}

var Module = fx.Module("notifier",
	fx.Provide(NewDispatcher),
)
