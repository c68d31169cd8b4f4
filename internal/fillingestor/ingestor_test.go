package fillingestor

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridbot/internal/concurrency"
	"gridbot/internal/core"
	"gridbot/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysFound(botID string) BotLookup {
	return func(ctx context.Context, userID, symbol, venueOrderID string) (string, bool) {
		return botID, true
	}
}

func TestDispatchProcessesSameOrderInArrivalOrder(t *testing.T) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 100}, logging.Global())

	var mu sync.Mutex
	var seen []decimal.Decimal
	handler := func(ctx context.Context, botID string, update core.OrderUpdate) error {
		time.Sleep(2 * time.Millisecond) // exaggerate any race between stages
		mu.Lock()
		seen = append(seen, update.ExecutedQty)
		mu.Unlock()
		return nil
	}

	ing := New(pool, alwaysFound("bot1"), handler, nil, logging.Global(), nil)

	for i := 1; i <= 5; i++ {
		ing.Dispatch(context.Background(), "user1", core.OrderUpdate{Symbol: "FOOUSDT", VenueOrderID: "v1", ExecutedQty: decimal.NewFromInt(int64(i))})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		assert.True(t, v.Equal(decimal.NewFromInt(int64(i+1))), "fills for the same venue order must land in arrival order, got %v", seen)
	}
}

func TestDispatchDiscardsUnknownOrder(t *testing.T) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 10}, logging.Global())

	called := false
	handler := func(ctx context.Context, botID string, update core.OrderUpdate) error {
		called = true
		return nil
	}
	lookup := func(ctx context.Context, userID, symbol, venueOrderID string) (string, bool) { return "", false }

	ing := New(pool, lookup, handler, nil, logging.Global(), nil)
	ing.Dispatch(context.Background(), "user1", core.OrderUpdate{Symbol: "FOOUSDT", VenueOrderID: "ghost"})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, called, "a push event for an order with no owning bot must be discarded, not handled")
}

func TestDispatchTriggersBackpressureOnSaturation(t *testing.T) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 1, MaxCapacity: 1, NonBlocking: true}, logging.Global())

	release := make(chan struct{})
	blocker := func(ctx context.Context, botID string, update core.OrderUpdate) error {
		<-release
		return nil
	}
	ing := New(pool, alwaysFound("bot1"), blocker, nil, logging.Global(), nil)

	var backpressured int32
	var mu sync.Mutex
	ing.onBackpressure = func(ctx context.Context, userID string, update core.OrderUpdate) {
		mu.Lock()
		backpressured++
		mu.Unlock()
	}

	// Occupy the single worker, then fill and overflow the one-slot queue
	// with distinct keys so none of them chain-wait on each other.
	for i := 0; i < 5; i++ {
		ing.Dispatch(context.Background(), "user1", core.OrderUpdate{Symbol: "FOOUSDT", VenueOrderID: string(rune('a' + i))})
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return backpressured > 0
	}, time.Second, time.Millisecond, "pool saturation must surface as backpressure, not a silent drop")
}
