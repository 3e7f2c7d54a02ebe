package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	"github.com/lumacallabs/lumacall/internal/events"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	"github.com/lumacallabs/lumacall/internal/ledger/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.Fake) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Balance{},
		&ledgerdomain.LedgerEntry{},
		&events.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := &Service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		repo:      repository.NewRepository(db),
		clock:     fake,
		publisher: events.NewPublisher(zap.NewNop(), node),
		billing: config.BillingConfig{
			RatePerMinuteCents:      1000,
			RecipientSharePercent:   70,
			PayeeSharePercent:       70,
			USDCentsPerHundredCoins: 100,
		},
	}
	return svc, db, fake
}

func TestCreditPurchaseIsIdempotentOnReference(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(42)

	first, err := svc.CreditPurchase(ctx, userID, 50000, "topup-abc")
	require.NoError(t, err)
	require.Equal(t, int64(50000), first.DeltaCents)
	require.Equal(t, int64(500), first.USDCents)

	replay, err := svc.CreditPurchase(ctx, userID, 50000, "topup-abc")
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), balance.PurchasedCents)

	var entryCount int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntry{}).Count(&entryCount).Error)
	require.Equal(t, int64(1), entryCount)
}

func TestDebitSpendsGiftPoolFirst(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(7)

	require.NoError(t, db.Create(&ledgerdomain.Balance{
		UserID:         userID,
		GiftCents:      10000,
		PurchasedCents: 5000,
	}).Error)

	result, err := svc.Debit(ctx, userID, 12000, ledgerdomain.SourceConsumption, "room:1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), result.GiftUsedCents)
	require.Equal(t, int64(2000), result.PurchasedUsedCents)
	require.Equal(t, int64(3000), result.BalanceAfterCents)

	entries, err := svc.ListEntries(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ledgerdomain.EntryKindGift, entries[0].Kind)
	require.Equal(t, int64(-10000), entries[0].DeltaCents)
	require.Equal(t, ledgerdomain.EntryKindPurchased, entries[1].Kind)
	require.Equal(t, int64(-2000), entries[1].DeltaCents)
	require.Equal(t, int64(3000), entries[1].BalanceAfterCents)
}

func TestDebitRejectsOverdraw(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(8)

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: userID, GiftCents: 100}).Error)

	_, err := svc.Debit(ctx, userID, 500, ledgerdomain.SourceConsumption, "room:1")
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.GiftCents)
}

func TestDebitRefusesFrozenBalance(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(9)

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: userID, PurchasedCents: 1000, Frozen: true}).Error)

	_, err := svc.Debit(ctx, userID, 100, ledgerdomain.SourceConsumption, "room:1")
	require.ErrorIs(t, err, ledgerdomain.ErrLedgerFrozen)
}

func TestVerifyUserFreezesOnMismatch(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(10)

	_, err := svc.CreditPurchase(ctx, userID, 30000, "topup-1")
	require.NoError(t, err)
	require.NoError(t, svc.VerifyUser(ctx, userID))

	// Corrupt the balance behind the ledger's back.
	require.NoError(t, db.Model(&ledgerdomain.Balance{}).
		Where("user_id = ?", userID).
		Update("purchased_cents", 99999).Error)

	err = svc.VerifyUser(ctx, userID)
	require.ErrorIs(t, err, ledgerdomain.ErrBalanceMismatch)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.True(t, balance.Frozen)

	// Every write is refused until reconciled.
	_, err = svc.CreditPurchase(ctx, userID, 1000, "topup-2")
	require.ErrorIs(t, err, ledgerdomain.ErrLedgerFrozen)
}

func TestVerifyUserNoBalanceIsClean(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.VerifyUser(context.Background(), snowflake.ID(12345)))
}
