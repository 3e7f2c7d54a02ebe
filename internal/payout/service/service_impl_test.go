package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lumacallabs/lumacall/internal/clock"
	"github.com/lumacallabs/lumacall/internal/config"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	"github.com/lumacallabs/lumacall/internal/events"
	payoutdomain "github.com/lumacallabs/lumacall/internal/payout/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newPayoutFixture(t *testing.T) (*Service, *gorm.DB, *clock.Fake) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&earningsdomain.EarningsRecord{},
		&payoutdomain.PayoutBatch{},
		&events.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC))

	svc := &Service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     fake,
		publisher: events.NewPublisher(zap.NewNop(), node),
		billing:   config.BillingConfig{MinimumPayoutCents: 50000},
	}
	return svc, db, fake
}

func seedEarning(t *testing.T, db *gorm.DB, id, payee snowflake.ID, payeeCents, timeCents, giftCents int64, earnedAt time.Time) {
	require.NoError(t, db.Create(&earningsdomain.EarningsRecord{
		ID:                 id,
		PayeeID:            payee,
		CounterpartID:      999,
		SourceType:         earningsdomain.SourceMeteredSession,
		TimeShareCents:     timeCents,
		GiftShareCents:     giftCents,
		PayeeShareCents:    payeeCents,
		PlatformShareCents: 0,
		EarnedAt:           earnedAt,
		Checksum:           "ck-" + id.String(),
	}).Error)
}

func TestRunWeekBatchesPerPayee(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	inWeek := weekStart.Add(48 * time.Hour)

	seedEarning(t, db, 1, 10, 40000, 40000, 0, inWeek)
	seedEarning(t, db, 2, 10, 30000, 20000, 10000, inWeek.Add(time.Hour))
	seedEarning(t, db, 3, 20, 60000, 60000, 0, inWeek)

	batches, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	byPayee := map[snowflake.ID]payoutdomain.PayoutBatch{}
	for _, batch := range batches {
		byPayee[batch.PayeeID] = batch
	}
	require.Equal(t, int64(70000), byPayee[10].AmountCents)
	require.Equal(t, int64(60000), byPayee[10].TimeAmountCents)
	require.Equal(t, int64(10000), byPayee[10].GiftAmountCents)
	require.Equal(t, int64(60000), byPayee[20].AmountCents)
	require.Equal(t, payoutdomain.BatchPending, byPayee[10].Status)

	// Every record in the window is attached to exactly one batch.
	var unattached int64
	require.NoError(t, db.Model(&earningsdomain.EarningsRecord{}).
		Where("payout_batch_id IS NULL").Count(&unattached).Error)
	require.Zero(t, unattached)
}

func TestRunWeekSkipsBelowThreshold(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	seedEarning(t, db, 1, 10, 20000, 20000, 0, weekStart.Add(time.Hour))

	batches, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Empty(t, batches)

	// The record stays unbatched and carries into a later window.
	var record earningsdomain.EarningsRecord
	require.NoError(t, db.First(&record, "id = ?", 1).Error)
	require.Nil(t, record.PayoutBatchID)

	// Next week's run sees the leftover plus the new earnings and the payee
	// crosses the line.
	nextWeek := weekStart.AddDate(0, 0, 7)
	seedEarning(t, db, 2, 10, 40000, 40000, 0, nextWeek.Add(time.Hour))

	batches, err = svc.RunWeek(ctx, nextWeek)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, int64(60000), batches[0].AmountCents)

	var unattached int64
	require.NoError(t, db.Model(&earningsdomain.EarningsRecord{}).
		Where("payout_batch_id IS NULL").Count(&unattached).Error)
	require.Zero(t, unattached)
}

func TestRunWeekCarriesSubThresholdAcrossPeriods(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	week1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	week2 := week1.AddDate(0, 0, 7)

	// Neither week alone reaches the 50000 minimum.
	seedEarning(t, db, 1, 10, 30000, 30000, 0, week1.Add(time.Hour))

	batches, err := svc.RunWeek(ctx, week1)
	require.NoError(t, err)
	require.Empty(t, batches)

	seedEarning(t, db, 2, 10, 40000, 40000, 0, week2.Add(time.Hour))

	// Week 2's run must see week 1's stranded row, not just its own window.
	batches, err = svc.RunWeek(ctx, week2)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, int64(70000), batches[0].AmountCents)
	require.Equal(t, week2, batches[0].PeriodStart)

	var unattached int64
	require.NoError(t, db.Model(&earningsdomain.EarningsRecord{}).
		Where("payout_batch_id IS NULL").Count(&unattached).Error)
	require.Zero(t, unattached)
}

func TestRunWeekIsReentrant(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	seedEarning(t, db, 1, 10, 70000, 70000, 0, weekStart.Add(time.Hour))

	first, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Empty(t, second)

	var batchCount int64
	require.NoError(t, db.Model(&payoutdomain.PayoutBatch{}).Count(&batchCount).Error)
	require.Equal(t, int64(1), batchCount)
}

func TestRunWeekExcludesFutureEarnings(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// Unbatched earnings from before the period carry in; earnings past the
	// period end wait for their own run.
	seedEarning(t, db, 1, 10, 70000, 70000, 0, weekStart.Add(-time.Hour))
	seedEarning(t, db, 2, 10, 70000, 70000, 0, weekStart.AddDate(0, 0, 7))

	batches, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, int64(70000), batches[0].AmountCents)

	var future earningsdomain.EarningsRecord
	require.NoError(t, db.First(&future, "id = ?", 2).Error)
	require.Nil(t, future.PayoutBatchID)
}

func TestMarkPaid(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	seedEarning(t, db, 1, 10, 70000, 70000, 0, weekStart.Add(time.Hour))
	batches, err := svc.RunWeek(ctx, weekStart)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	paid, err := svc.MarkPaid(ctx, batches[0].ID)
	require.NoError(t, err)
	require.Equal(t, payoutdomain.BatchPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = svc.MarkPaid(ctx, batches[0].ID)
	require.ErrorIs(t, err, payoutdomain.ErrBatchPaid)

	_, err = svc.MarkPaid(ctx, snowflake.ID(424242))
	require.ErrorIs(t, err, payoutdomain.ErrBatchNotFound)
}

func TestListByPayee(t *testing.T) {
	svc, db, _ := newPayoutFixture(t)
	ctx := context.Background()

	week1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	week2 := week1.AddDate(0, 0, 7)
	seedEarning(t, db, 1, 10, 70000, 70000, 0, week1.Add(time.Hour))
	seedEarning(t, db, 2, 10, 80000, 80000, 0, week2.Add(time.Hour))

	_, err := svc.RunWeek(ctx, week1)
	require.NoError(t, err)
	_, err = svc.RunWeek(ctx, week2)
	require.NoError(t, err)

	batches, err := svc.ListByPayee(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	// Most recent period first.
	require.True(t, batches[0].PeriodStart.After(batches[1].PeriodStart))
}
