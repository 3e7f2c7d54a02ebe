// Package events is the append-only outbox consumed by the notifier
// dispatcher. Core services emit; delivery is someone else's problem.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventSessionEnded     = "session_ended"
	EventGiftReceived     = "gift_received"
	EventPayoutCreated    = "payout_created"
	EventPurchaseCredited = "purchase_credited"
)

type Event struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	EventType string         `gorm:"type:text;not null;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "events" }

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

type Publisher struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewPublisher(log *zap.Logger, genID *snowflake.Node) *Publisher {
	return &Publisher{
		log:   log.Named("events.publisher"),
		genID: genID,
	}
}

// Publish appends an event inside the caller's transaction so that an event
// exists exactly when the state change it announces committed.
func (p *Publisher) Publish(ctx context.Context, tx *gorm.DB, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{
		ID:        p.genID.Generate(),
		EventType: eventType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
		return err
	}
	p.log.Debug("event published", zap.String("event_type", eventType), zap.String("event_id", event.ID.String()))
	return nil
}
