// Package domain holds the weekly payout batch, the settled aggregation of
// one payee's earnings over one period.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchPaid    BatchStatus = "paid"
)

var (
	ErrBatchNotFound = errors.New("payout_batch_not_found")
	ErrBatchPaid     = errors.New("payout_batch_already_paid")
)

// PayoutBatch is immutable after creation except for the paid stamp. The
// (payee_id, period_start) index allows at most one batch per payee per
// period, which is what makes the weekly run re-entrant.
type PayoutBatch struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	PayeeID     snowflake.ID `gorm:"not null;uniqueIndex:ux_payout_payee_period,priority:1"`
	PeriodStart time.Time    `gorm:"not null;uniqueIndex:ux_payout_payee_period,priority:2"`
	PeriodEnd   time.Time    `gorm:"not null"`

	AmountCents     int64 `gorm:"not null"`
	TimeAmountCents int64 `gorm:"not null;default:0"`
	GiftAmountCents int64 `gorm:"not null;default:0"`

	Status    BatchStatus `gorm:"type:text;not null"`
	PaidAt    *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PayoutBatch) TableName() string { return "payout_batches" }

type Service interface {
	// RunPeriod batches every payee whose unsettled earnings inside
	// [periodStart, periodEnd) meet the minimum threshold. Re-entrant:
	// already-batched payees are skipped.
	RunPeriod(ctx context.Context, periodStart, periodEnd time.Time) ([]PayoutBatch, error)
	// RunWeek batches the calendar week (7 days) starting at weekStart.
	RunWeek(ctx context.Context, weekStart time.Time) ([]PayoutBatch, error)

	MarkPaid(ctx context.Context, id snowflake.ID) (*PayoutBatch, error)
	ListByPayee(ctx context.Context, payeeID snowflake.ID) ([]PayoutBatch, error)
}
