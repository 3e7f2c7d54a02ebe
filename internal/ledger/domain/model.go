// Package domain holds the balance aggregate and its append-only entry log.
// All amounts are coin cents: two-decimal fixed point stored as int64.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntryKind string

const (
	EntryKindPurchased EntryKind = "purchased"
	EntryKindGift      EntryKind = "gift"
)

const (
	SourcePurchase    = "purchase"
	SourceConsumption = "consumption"
	SourceGiftSend    = "gift_send"
	SourceGiftReceive = "gift_receive"
)

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrLedgerFrozen      = errors.New("ledger_frozen")
	ErrBalanceMismatch   = errors.New("balance_mismatch")
)

// Balance is the per-user aggregate. The purchased and gift pools are spent
// identically but reported separately; both stay >= 0 at all times.
type Balance struct {
	UserID                 snowflake.ID `gorm:"primaryKey"`
	PurchasedCents         int64        `gorm:"not null;default:0"`
	GiftCents              int64        `gorm:"not null;default:0"`
	LifetimePurchasedCents int64        `gorm:"not null;default:0"`
	LifetimeConsumedCents  int64        `gorm:"not null;default:0"`
	LastPurchaseAt         *time.Time
	LastConsumptionAt      *time.Time
	// Frozen is set when replaying the entry log no longer reproduces this
	// row. A frozen balance refuses every write until reconciled by hand.
	Frozen    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Balance) TableName() string { return "balances" }

func (b *Balance) AvailableCents() int64 {
	return b.PurchasedCents + b.GiftCents
}

// LedgerEntry is append-only; balance_after_cents snapshots the total
// available balance once the entry applied, for audit replay.
type LedgerEntry struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	UserID            snowflake.ID `gorm:"not null;index:ix_ledger_entries_user"`
	Kind              EntryKind    `gorm:"type:text;not null"`
	DeltaCents        int64        `gorm:"not null"`
	USDCents          int64        `gorm:"not null;default:0"`
	Source            string       `gorm:"type:text;not null"`
	ReferenceID       string       `gorm:"type:text;not null;default:''"`
	BalanceAfterCents int64        `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Allocate splits a charge across the two pools, draining the gift pool
// first. It never allocates more than the pools hold.
func Allocate(amountCents, giftCents, purchasedCents int64) (giftUsed, purchasedUsed int64) {
	if amountCents <= 0 {
		return 0, 0
	}
	giftUsed = amountCents
	if giftUsed > giftCents {
		giftUsed = giftCents
	}
	purchasedUsed = amountCents - giftUsed
	if purchasedUsed > purchasedCents {
		purchasedUsed = purchasedCents
	}
	return giftUsed, purchasedUsed
}

// USDEquivalentCents converts a signed coin-cent delta to USD cents using
// the configured rate (USD cents per hundred coins).
func USDEquivalentCents(deltaCents, usdCentsPerHundredCoins int64) int64 {
	return deltaCents * usdCentsPerHundredCoins / 10000
}

// ApplyDebit spends from both pools; amounts must already be allocated.
func (b *Balance) ApplyDebit(giftUsed, purchasedUsed int64, at time.Time) {
	b.GiftCents -= giftUsed
	b.PurchasedCents -= purchasedUsed
	b.LifetimeConsumedCents += giftUsed + purchasedUsed
	b.LastConsumptionAt = &at
	b.UpdatedAt = at
}

// ApplyPurchase credits the purchased pool from a completed top-up.
func (b *Balance) ApplyPurchase(amountCents int64, at time.Time) {
	b.PurchasedCents += amountCents
	b.LifetimePurchasedCents += amountCents
	b.LastPurchaseAt = &at
	b.UpdatedAt = at
}

// ApplyGiftCredit credits the gift pool from an accepted gift.
func (b *Balance) ApplyGiftCredit(amountCents int64, at time.Time) {
	b.GiftCents += amountCents
	b.UpdatedAt = at
}
