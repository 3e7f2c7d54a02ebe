// Package domain holds the per-session and per-gift earnings rollups.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SourceType string

const (
	SourceMeteredSession SourceType = "metered_session"
	SourceDirectGift     SourceType = "direct_gift"
)

var (
	ErrSessionNotEnded = errors.New("session_not_ended")
	ErrNoPayee         = errors.New("no_payee")
)

// EarningsRecord is written once per ended session or accepted direct gift
// and mutated only to attach a payout batch. The checksum makes re-running
// aggregation a no-op.
type EarningsRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	PayeeID       snowflake.ID `gorm:"not null;index:ix_earnings_payee"`
	CounterpartID snowflake.ID `gorm:"not null"`
	SourceType    SourceType   `gorm:"type:text;not null"`
	SessionRef    *snowflake.ID
	GiftRef       *snowflake.ID

	SessionDurationSeconds int64 `gorm:"not null;default:0"`
	GrossTimeCents         int64 `gorm:"not null;default:0"`
	GrossGiftCents         int64 `gorm:"not null;default:0"`
	// ProcessingFeeCents is the externally reported deduction on the
	// purchase-funded portion; tracked, never folded away.
	ProcessingFeeCents int64 `gorm:"not null;default:0"`
	// TimeShareCents + GiftShareCents = PayeeShareCents; kept split so
	// payout batches can report time vs gift income separately.
	TimeShareCents     int64 `gorm:"not null;default:0"`
	GiftShareCents     int64 `gorm:"not null;default:0"`
	PayeeShareCents    int64 `gorm:"not null"`
	PlatformShareCents int64 `gorm:"not null"`

	PayoutBatchID *snowflake.ID `gorm:"index"`
	EarnedAt      time.Time     `gorm:"not null;index"`
	Checksum      string        `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (EarningsRecord) TableName() string { return "earnings_records" }

type DirectGiftEarning struct {
	GiftID        snowflake.ID
	PayeeID       snowflake.ID
	CounterpartID snowflake.ID
	GrossCents    int64
	PayeeCents    int64
	PlatformCents int64
	AcceptedAt    time.Time
}

type Service interface {
	// AggregateSession rolls an ended session's ticks and room gifts into a
	// single record. Idempotent: the existing record is returned on re-run.
	AggregateSession(ctx context.Context, sessionID snowflake.ID) (*EarningsRecord, error)

	// RecordDirectGift writes the earnings row for a gift accepted outside a
	// live session, inside the caller's transaction.
	RecordDirectGift(ctx context.Context, tx *gorm.DB, gift DirectGiftEarning) (*EarningsRecord, error)

	ListByPayee(ctx context.Context, payeeID snowflake.ID) ([]EarningsRecord, error)
}
