// Package domain models the gift request protocol: a pending ask that only
// ever moves coins on the transition to accepted.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type GiftStatus string

const (
	GiftPending  GiftStatus = "pending"
	GiftAccepted GiftStatus = "accepted"
	GiftRejected GiftStatus = "rejected"
	GiftExpired  GiftStatus = "expired"
)

func (s GiftStatus) Terminal() bool { return s != GiftPending }

var (
	ErrGiftNotFound = errors.New("gift_request_not_found")
	ErrInvalidState = errors.New("gift_request_not_pending")
	ErrGiftExpired  = errors.New("gift_request_expired")
	ErrNotPayer     = errors.New("not_gift_payer")
)

// GiftRequest: requester_id asks payer_id to fund a gift. Settled amounts
// stay zero until acceptance.
type GiftRequest struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	RequesterID snowflake.ID `gorm:"not null;index"`
	PayerID     snowflake.ID `gorm:"not null;index"`
	GiftID      snowflake.ID `gorm:"not null"`
	AmountCents int64        `gorm:"not null"`
	Room        string       `gorm:"type:text;not null;index"`
	Status      GiftStatus   `gorm:"type:text;not null;index"`

	ExpiresAt   time.Time `gorm:"not null"`
	ProcessedAt *time.Time

	SettledAmountCents  int64  `gorm:"not null;default:0"`
	RecipientShareCents int64  `gorm:"not null;default:0"`
	PlatformShareCents  int64  `gorm:"not null;default:0"`
	RejectionReason     string `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (GiftRequest) TableName() string { return "gift_requests" }

// Split applies the platform commission to an accepted amount.
func Split(amountCents, recipientSharePercent int64) (recipientCents, platformCents int64) {
	recipientCents = amountCents * recipientSharePercent / 100
	return recipientCents, amountCents - recipientCents
}

type RequestGift struct {
	RequesterID snowflake.ID
	PayerID     snowflake.ID
	GiftID      snowflake.ID
	AmountCents int64
	Room        string
}

type Service interface {
	Request(ctx context.Context, req RequestGift) (*GiftRequest, error)
	Get(ctx context.Context, id snowflake.ID) (*GiftRequest, error)

	// Accept atomically debits the payer's purchased pool, credits the
	// requester's gift pool with the recipient share, and records the
	// commission split. Insufficient payer funds leave the request pending.
	Accept(ctx context.Context, id, payerID snowflake.ID) (*GiftRequest, error)
	Reject(ctx context.Context, id, payerID snowflake.ID, reason string) (*GiftRequest, error)

	// ExpirePending marks overdue pending requests expired. No ledger effect.
	ExpirePending(ctx context.Context) (int, error)
}
