package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type DebitResult struct {
	GiftUsedCents      int64
	PurchasedUsedCents int64
	BalanceAfterCents  int64
}

type Service interface {
	GetBalance(ctx context.Context, userID snowflake.ID) (*Balance, error)
	ListEntries(ctx context.Context, userID snowflake.ID) ([]LedgerEntry, error)

	// CreditPurchase applies a completed top-up reported by the payment
	// provider. Idempotent on reference: a replay returns the original entry.
	CreditPurchase(ctx context.Context, userID snowflake.ID, amountCents int64, reference string) (*LedgerEntry, error)

	// Debit charges the user gift-pool-first. Fails with
	// ErrInsufficientFunds when the pools cannot cover the full amount.
	Debit(ctx context.Context, userID snowflake.ID, amountCents int64, source, reference string) (*DebitResult, error)

	// VerifyUser replays the entry log against the balance row and freezes
	// the balance on mismatch.
	VerifyUser(ctx context.Context, userID snowflake.ID) error
}
