// Package domain holds the per-session consumption record emitted by every
// metering tick.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotConsuming  = errors.New("session_not_consuming")
	ErrDuplicateTick = errors.New("duplicate_tick")
	ErrStaleTick     = errors.New("stale_tick")
)

// ConsumptionTick is append-only. Seq is monotonic per session; the unique
// (session_ref, seq) index rejects replays. gift + purchased always sum to
// coins_charged, with the gift pool drained first.
type ConsumptionTick struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	UserID      snowflake.ID `gorm:"not null;index"`
	SessionRoom string       `gorm:"type:text;not null"`
	SessionRef  snowflake.ID `gorm:"not null;uniqueIndex:ux_ticks_session_seq,priority:1"`
	Seq         int64        `gorm:"not null;uniqueIndex:ux_ticks_session_seq,priority:2"`

	ElapsedSeconds          int64 `gorm:"not null"`
	CoinsChargedCents       int64 `gorm:"not null"`
	GiftCoinsUsedCents      int64 `gorm:"not null"`
	PurchasedCoinsUsedCents int64 `gorm:"not null"`
	BalanceAfterCents       int64 `gorm:"not null"`

	ChargedAt time.Time `gorm:"not null"`
}

func (ConsumptionTick) TableName() string { return "consumption_ticks" }

// DueCents converts elapsed seconds to the charge at a per-minute rate,
// rounded half-up in coin cents. Integer math only; thousands of ticks must
// not drift.
func DueCents(elapsedSeconds, ratePerMinuteCents int64) int64 {
	if elapsedSeconds <= 0 || ratePerMinuteCents <= 0 {
		return 0
	}
	return (elapsedSeconds*ratePerMinuteCents + 30) / 60
}
