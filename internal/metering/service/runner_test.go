package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	meteringdomain "github.com/lumacallabs/lumacall/internal/metering/domain"
	sessionrepo "github.com/lumacallabs/lumacall/internal/session/repository"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRunner(svc *Service, mr *miniredis.Miniredis) *Runner {
	return &Runner{
		db:       svc.db,
		log:      zap.NewNop(),
		svc:      svc,
		redis:    goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
		sessions: sessionrepo.NewRepository(svc.db),
		interval: 15 * time.Second,
	}
}

func TestSweepChargesEveryConsumingSession(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	runner := newRunner(svc, miniredis.RunT(t))
	ctx := context.Background()

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: 100, PurchasedCents: 100000}).Error)
	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: 300, PurchasedCents: 100000}).Error)
	seedActiveSession(t, db, fake, 100, 200)
	seedActiveSession(t, db, fake, 300, 400)

	fake.Advance(15 * time.Second)
	charged, err := runner.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, charged)

	var tickCount int64
	require.NoError(t, db.Model(&meteringdomain.ConsumptionTick{}).Count(&tickCount).Error)
	require.Equal(t, int64(2), tickCount)
}

func TestSweepSkipsLeasedSessions(t *testing.T) {
	svc, db, fake := newTickFixture(t)
	mr := miniredis.RunT(t)
	runner := newRunner(svc, mr)
	ctx := context.Background()

	require.NoError(t, db.Create(&ledgerdomain.Balance{UserID: 100, PurchasedCents: 100000}).Error)
	session := seedActiveSession(t, db, fake, 100, 200)

	// Another instance holds this session's lease.
	require.NoError(t, mr.Set(leasePrefix+session.ID.String(), "1"))

	fake.Advance(15 * time.Second)
	charged, err := runner.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, charged)

	// Lease released: the next sweep picks the session up again.
	mr.Del(leasePrefix + session.ID.String())
	charged, err = runner.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, charged)
}

func TestSweepWithNothingConsuming(t *testing.T) {
	svc, _, _ := newTickFixture(t)
	runner := newRunner(svc, miniredis.RunT(t))

	charged, err := runner.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, charged)
}
