package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lumacallabs/lumacall/internal/events"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type captureProvider struct {
	mu       sync.Mutex
	types    []string
	failures int
}

func (p *captureProvider) Name() string { return "capture" }

func (p *captureProvider) Deliver(_ context.Context, eventType string, _ map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("push gateway unavailable")
	}
	p.types = append(p.types, eventType)
	return nil
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *gorm.DB, *captureProvider) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&events.Event{}))

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	capture := &captureProvider{}
	dispatcher := &Dispatcher{
		db:        db,
		log:       zap.NewNop(),
		redis:     client,
		providers: []Provider{capture},
	}
	return dispatcher, db, capture
}

func seedEvent(t *testing.T, db *gorm.DB, id snowflake.ID, eventType string) {
	require.NoError(t, db.Create(&events.Event{
		ID:        id,
		EventType: eventType,
		Payload:   datatypes.JSON(`{"k":"v"}`),
	}).Error)
}

func TestProcessEventsDeliversInOrderAndAdvancesCursor(t *testing.T) {
	dispatcher, db, capture := newDispatcherFixture(t)
	ctx := context.Background()

	seedEvent(t, db, 1, events.EventSessionEnded)
	seedEvent(t, db, 2, events.EventGiftReceived)
	seedEvent(t, db, 3, events.EventPayoutCreated)

	delivered, err := dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, delivered)
	require.Equal(t, []string{
		events.EventSessionEnded,
		events.EventGiftReceived,
		events.EventPayoutCreated,
	}, capture.types)

	// A second pass past the cursor sees nothing.
	delivered, err = dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Len(t, capture.types, 3)
}

func TestProcessEventsPicksUpNewEvents(t *testing.T) {
	dispatcher, db, capture := newDispatcherFixture(t)
	ctx := context.Background()

	seedEvent(t, db, 1, events.EventSessionEnded)
	_, err := dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)

	seedEvent(t, db, 2, events.EventPurchaseCredited)
	delivered, err := dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, events.EventPurchaseCredited, capture.types[len(capture.types)-1])
}

func TestProcessEventsHoldsCursorOnDeliveryFailure(t *testing.T) {
	dispatcher, db, capture := newDispatcherFixture(t)
	ctx := context.Background()

	seedEvent(t, db, 1, events.EventSessionEnded)
	seedEvent(t, db, 2, events.EventGiftReceived)
	capture.failures = 1

	// The first event fails; the cursor must not move past it.
	delivered, err := dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Empty(t, capture.types)

	// Once the provider recovers, both events arrive in order.
	delivered, err = dispatcher.ProcessEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Equal(t, []string{
		events.EventSessionEnded,
		events.EventGiftReceived,
	}, capture.types)
}
