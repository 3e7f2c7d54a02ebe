package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	earningsservice "github.com/lumacallabs/lumacall/internal/earnings/service"
	"github.com/lumacallabs/lumacall/internal/events"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	meteringdomain "github.com/lumacallabs/lumacall/internal/metering/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTickFixture(t *testing.T) (*Service, *gorm.DB, *clock.Fake) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Balance{},
		&ledgerdomain.LedgerEntry{},
		&sessiondomain.Session{},
		&meteringdomain.ConsumptionTick{},
		&giftdomain.GiftRequest{},
		&earningsdomain.EarningsRecord{},
		&events.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{Billing: config.BillingConfig{
		RatePerMinuteCents:      1000,
		RecipientSharePercent:   70,
		PayeeSharePercent:       70,
		USDCentsPerHundredCoins: 100,
	}}

	earnings := earningsservice.NewService(earningsservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   cfg,
	})

	svc := &Service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     fake,
		publisher: events.NewPublisher(zap.NewNop(), node),
		earnings:  earnings,
		billing:   cfg.Billing,
	}
	return svc, db, fake
}

var sessionSeq int64

func seedActiveSession(t *testing.T, db *gorm.DB, fake *clock.Fake, callerID, payeeID snowflake.ID) *sessiondomain.Session {
	now := fake.Now()
	peer := payeeID
	id := snowflake.ID(atomic.AddInt64(&sessionSeq, 1))
	session := &sessiondomain.Session{
		ID:            id,
		InitiatorID:   callerID,
		PrimaryPeerID: &peer,
		RoomToken:     "room-" + t.Name() + "-" + id.String(),
		Kind:          sessiondomain.SessionKindCall,
		CallMedium:    sessiondomain.CallMediumVideo,
		CallerID:      callerID,
		Status:        sessiondomain.StatusActive,
		StartedAt:     &now,
		IsConsuming:   true,
		LastChargedAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestTickChargesGiftPoolFirst(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()
	caller, payee := snowflake.ID(100), snowflake.ID(200)

	require.NoError(t, db.Create(&ledgerdomain.Balance{
		UserID:         caller,
		GiftCents:      10000,
		PurchasedCents: 5000,
	}).Error)
	session := seedActiveSession(t, db, fake, caller, payee)

	// 12 minutes at 10 coins/min = 120 coins = 12000 coin cents.
	fake.Advance(12 * time.Minute)
	result, err := svc.Tick(ctx, session.ID, 1)
	require.NoError(t, err)
	require.False(t, result.Ended)
	require.Equal(t, int64(12000), result.Tick.CoinsChargedCents)
	require.Equal(t, int64(10000), result.Tick.GiftCoinsUsedCents)
	require.Equal(t, int64(2000), result.Tick.PurchasedCoinsUsedCents)
	require.Equal(t, int64(3000), result.Tick.BalanceAfterCents)
	require.Equal(t, int64(1), result.Session.ConsumeSeq)

	var balance ledgerdomain.Balance
	require.NoError(t, db.First(&balance, "user_id = ?", caller).Error)
	require.Equal(t, int64(0), balance.GiftCents)
	require.Equal(t, int64(3000), balance.PurchasedCents)
}

func TestTickRejectsStaleAndFutureSeq(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()
	caller, payee := snowflake.ID(100), snowflake.ID(200)

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: caller, PurchasedCents: 100000}).Error)
	session := seedActiveSession(t, db, fake, caller, payee)

	fake.Advance(15 * time.Second)
	_, err := svc.Tick(ctx, session.ID, 1)
	require.NoError(t, err)

	// Replay of the applied seq.
	_, err = svc.Tick(ctx, session.ID, 1)
	require.ErrorIs(t, err, meteringdomain.ErrStaleTick)

	// Skipping ahead is equally refused.
	_, err = svc.Tick(ctx, session.ID, 3)
	require.ErrorIs(t, err, meteringdomain.ErrStaleTick)
}

func TestTickEndsSessionWhenFundsRunOut(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()
	caller, payee := snowflake.ID(100), snowflake.ID(200)

	// 125s at 1000/min is due 2083; only 2000 available.
	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: caller, PurchasedCents: 2000}).Error)
	session := seedActiveSession(t, db, fake, caller, payee)

	fake.Advance(125 * time.Second)
	result, err := svc.Tick(ctx, session.ID, 1)
	require.NoError(t, err)
	require.True(t, result.Ended)
	require.Equal(t, int64(2000), result.Tick.CoinsChargedCents)
	require.Equal(t, int64(0), result.Tick.BalanceAfterCents)
	require.Equal(t, sessiondomain.StatusEnded, result.Session.Status)
	require.Equal(t, sessiondomain.EndReasonInsufficientFunds, result.Session.EndReason)
	require.False(t, result.Session.IsConsuming)

	// The partial charge never overdraws.
	var balance ledgerdomain.Balance
	require.NoError(t, db.First(&balance, "user_id = ?", caller).Error)
	require.Equal(t, int64(0), balance.AvailableCents())

	// The forced end aggregated earnings for the payee.
	var record earningsdomain.EarningsRecord
	require.NoError(t, db.First(&record, "payee_id = ?", payee).Error)
	require.Equal(t, int64(2000), record.GrossTimeCents)

	// Further ticks see a dead session.
	_, err = svc.Tick(ctx, session.ID, 2)
	require.ErrorIs(t, err, meteringdomain.ErrNotConsuming)
}

func TestTickIgnoresNonConsumingSession(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()

	now := fake.Now()
	session := &sessiondomain.Session{
		ID:          snowflake.ID(1),
		InitiatorID: 100,
		RoomToken:   "idle-room",
		Kind:        sessiondomain.SessionKindChat,
		CallerID:    100,
		Status:      sessiondomain.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, db.Create(session).Error)

	_, err := svc.Tick(ctx, session.ID, 1)
	require.ErrorIs(t, err, meteringdomain.ErrNotConsuming)
}

func TestTickCarriesFractionalSeconds(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()
	caller, payee := snowflake.ID(100), snowflake.ID(200)

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: caller, PurchasedCents: 100000}).Error)
	session := seedActiveSession(t, db, fake, caller, payee)

	// Sweeps land mid-second; the half seconds must accumulate across ticks
	// instead of being dropped at each one.
	fake.Advance(15*time.Second + 500*time.Millisecond)
	first, err := svc.Tick(ctx, session.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(15), first.Tick.ElapsedSeconds)

	fake.Advance(15*time.Second + 500*time.Millisecond)
	second, err := svc.Tick(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(16), second.Tick.ElapsedSeconds)

	var totalElapsed int64
	require.NoError(t, db.Model(&meteringdomain.ConsumptionTick{}).
		Where("session_ref = ?", session.ID).
		Select("COALESCE(SUM(elapsed_seconds), 0)").Scan(&totalElapsed).Error)
	require.Equal(t, int64(31), totalElapsed)
}

func TestTickSequenceAccumulatesWithoutDrift(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	ctx := context.Background()
	caller, payee := snowflake.ID(100), snowflake.ID(200)

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: caller, PurchasedCents: 100000}).Error)
	session := seedActiveSession(t, db, fake, caller, payee)

	for seq := int64(1); seq <= 8; seq++ {
		fake.Advance(15 * time.Second)
		_, err := svc.Tick(ctx, session.ID, seq)
		require.NoError(t, err)
	}

	// 8 ticks x 15s = 2 minutes = 2000 coin cents.
	var total int64
	require.NoError(t, db.Model(&meteringdomain.ConsumptionTick{}).
		Where("session_ref = ?", session.ID).
		Select("COALESCE(SUM(coins_charged_cents), 0)").Scan(&total).Error)
	require.Equal(t, int64(2000), total)
}
