package sqlite

import (
	"context"
	"testing"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGetBotRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bot := core.Bot{ID: "bot1", OwnerID: "user1", State: core.BotActive, Config: core.BotConfig{
		UpperPrice: decimal.NewFromInt(11), LowerPrice: decimal.NewFromInt(9), GridLevels: 11,
	}}
	require.NoError(t, s.SaveBot(ctx, bot))

	got, err := s.GetBot(ctx, "bot1")
	require.NoError(t, err)
	assert.Equal(t, bot.OwnerID, got.OwnerID)
	assert.True(t, got.Config.UpperPrice.Equal(decimal.NewFromInt(11)))
}

func TestGetBotNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetBot(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSaveBotUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBot(ctx, core.Bot{ID: "bot1", OwnerID: "user1", State: core.BotActive}))
	require.NoError(t, s.SaveBot(ctx, core.Bot{ID: "bot1", OwnerID: "user1", State: core.BotPaused}))

	got, err := s.GetBot(ctx, "bot1")
	require.NoError(t, err)
	assert.Equal(t, core.BotPaused, got.State)
}

func TestSaveFillTransactionPersistsBotAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bot := core.Bot{ID: "b1", OwnerID: "u1", State: core.BotActive}
	orders := []core.Order{
		{LocalID: "o1", BotID: "b1", Status: core.OrderFilled},
		{LocalID: "o2", BotID: "b1", Status: core.OrderNew},
	}
	require.NoError(t, s.SaveFillTransaction(ctx, bot, orders))

	listed, err := s.ListOrders(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestListActiveBotsFiltersByState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveBot(ctx, core.Bot{ID: "b1", OwnerID: "u1", State: core.BotActive}))
	require.NoError(t, s.SaveBot(ctx, core.Bot{ID: "b2", OwnerID: "u1", State: core.BotStopped}))

	active, err := s.ListActiveBots(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b1", active[0].ID)
}

func TestKeyAuditEventsOrderedByInsertion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendKeyAuditEvent(ctx, core.KeyAuditEvent{ID: "e1", UserID: "u1", Action: core.KeyAdded}))
	require.NoError(t, s.AppendKeyAuditEvent(ctx, core.KeyAuditEvent{ID: "e2", UserID: "u1", Action: core.KeyRemoved}))

	events, err := s.ListKeyAuditEvents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}
