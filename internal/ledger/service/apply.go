package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumacallabs/lumacall/internal/config"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
)

// ApplyDebit performs the read-modify-write shared by the metering tick and
// gift acceptance: allocate gift-pool-first, persist the balance, and append
// one entry per pool actually drawn from. The caller owns the transaction,
// must have loaded the balance under lock, and must have capped amountCents
// at the available balance.
func ApplyDebit(
	ctx context.Context,
	repoTx ledgerdomain.Repository,
	genID *snowflake.Node,
	billing config.BillingConfig,
	balance *ledgerdomain.Balance,
	amountCents int64,
	source, reference string,
	now time.Time,
) (*ledgerdomain.DebitResult, error) {
	if amountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if balance.AvailableCents() < amountCents {
		return nil, ledgerdomain.ErrInsufficientFunds
	}

	giftUsed, purchasedUsed := ledgerdomain.Allocate(amountCents, balance.GiftCents, balance.PurchasedCents)
	balance.ApplyDebit(giftUsed, purchasedUsed, now)
	if err := repoTx.Save(ctx, balance); err != nil {
		return nil, err
	}

	running := balance.AvailableCents() + purchasedUsed
	if giftUsed > 0 {
		entry := ledgerdomain.LedgerEntry{
			ID:                genID.Generate(),
			UserID:            balance.UserID,
			Kind:              ledgerdomain.EntryKindGift,
			DeltaCents:        -giftUsed,
			USDCents:          ledgerdomain.USDEquivalentCents(-giftUsed, billing.USDCentsPerHundredCoins),
			Source:            source,
			ReferenceID:       reference,
			BalanceAfterCents: running,
			CreatedAt:         now,
		}
		if err := repoTx.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	if purchasedUsed > 0 {
		running -= purchasedUsed
		entry := ledgerdomain.LedgerEntry{
			ID:                genID.Generate(),
			UserID:            balance.UserID,
			Kind:              ledgerdomain.EntryKindPurchased,
			DeltaCents:        -purchasedUsed,
			USDCents:          ledgerdomain.USDEquivalentCents(-purchasedUsed, billing.USDCentsPerHundredCoins),
			Source:            source,
			ReferenceID:       reference,
			BalanceAfterCents: running,
			CreatedAt:         now,
		}
		if err := repoTx.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
	}

	return &ledgerdomain.DebitResult{
		GiftUsedCents:      giftUsed,
		PurchasedUsedCents: purchasedUsed,
		BalanceAfterCents:  balance.AvailableCents(),
	}, nil
}

// ApplyGiftCredit credits the recipient's gift pool inside the caller's
// transaction; the recipient balance must be loaded under lock.
func ApplyGiftCredit(
	ctx context.Context,
	repoTx ledgerdomain.Repository,
	genID *snowflake.Node,
	billing config.BillingConfig,
	balance *ledgerdomain.Balance,
	amountCents int64,
	reference string,
	now time.Time,
) (*ledgerdomain.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if balance.Frozen {
		return nil, ledgerdomain.ErrLedgerFrozen
	}

	balance.ApplyGiftCredit(amountCents, now)
	if err := repoTx.Save(ctx, balance); err != nil {
		return nil, err
	}

	entry := ledgerdomain.LedgerEntry{
		ID:                genID.Generate(),
		UserID:            balance.UserID,
		Kind:              ledgerdomain.EntryKindGift,
		DeltaCents:        amountCents,
		USDCents:          ledgerdomain.USDEquivalentCents(amountCents, billing.USDCentsPerHundredCoins),
		Source:            ledgerdomain.SourceGiftReceive,
		ReferenceID:       reference,
		BalanceAfterCents: balance.AvailableCents(),
		CreatedAt:         now,
	}
	if err := repoTx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
