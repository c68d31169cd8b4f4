package bot

import (
	"context"
	"testing"

	"gridbot/internal/core"
	"gridbot/internal/exchange/mock"
	"gridbot/internal/logging"
	"gridbot/internal/persistence/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seededGateway() *mock.Gateway {
	g := mock.NewGateway()
	g.SetSymbol(core.SymbolInfo{Symbol: "FOOUSDT", TickSize: d("0.01"), StepSize: d("0.001"), MinQty: d("0.001"), MinNotional: d("1"), BaseAsset: "FOO", QuoteAsset: "USDT"})
	g.SetPrice("FOOUSDT", d("10"))
	g.SetBalance(core.Balance{Asset: "USDT", Free: d("1000")})
	g.SetBalance(core.Balance{Asset: "FOO", Free: d("100")})
	return g
}

func newTestController(t *testing.T, gw core.ExchangeGateway, store core.PersistenceStore) *Controller {
	t.Helper()
	return New(store, func(ctx context.Context, userID string) (core.ExchangeGateway, error) {
		return gw, nil
	}, 0.1, logging.Global(), nil)
}

func validConfig() core.BotConfig {
	return core.BotConfig{UpperPrice: d("11"), LowerPrice: d("9"), GridLevels: 3, InvestmentAmount: d("30"), ProfitPerGrid: d("1")}
}

func TestCreateBotPlacesInitialCoverage(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	got, err := ctrl.CreateBot(ctx, "u1", "FOOUSDT", validConfig())
	require.NoError(t, err)
	assert.Equal(t, core.BotActive, got.State)

	orders, err := store.ListOrders(ctx, got.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, orders, "initial coverage plan must place at least one order")

	open, err := gw.OpenOrders(ctx, "FOOUSDT")
	require.NoError(t, err)
	assert.Len(t, open, len(orders))
}

func TestCreateBotRejectsPriceOutOfRange(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	gw.SetPrice("FOOUSDT", d("50"))
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	_, err := ctrl.CreateBot(ctx, "u1", "FOOUSDT", validConfig())
	require.Error(t, err)
}

func TestCreateBotRejectsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	gw.SetBalance(core.Balance{Asset: "USDT", Free: d("1")})
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	_, err := ctrl.CreateBot(ctx, "u1", "FOOUSDT", validConfig())
	require.Error(t, err)
}

func TestHandleFillOnBuyPlacesPairSell(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	got, err := ctrl.CreateBot(ctx, "u1", "FOOUSDT", validConfig())
	require.NoError(t, err)

	orders, err := store.ListOrders(ctx, got.ID)
	require.NoError(t, err)

	var buy core.Order
	for _, o := range orders {
		if o.Side == core.SideBuy {
			buy = o
			break
		}
	}
	require.NotEmpty(t, buy.LocalID, "expected at least one initial buy rung")

	err = ctrl.HandleFill(ctx, got.ID, core.OrderUpdate{
		VenueOrderID: buy.VenueID, Status: core.OrderFilled, ExecutedQty: buy.Quantity, ExecutedPrice: buy.Price,
	})
	require.NoError(t, err)

	after, err := store.ListOrders(ctx, got.ID)
	require.NoError(t, err)

	var pairSell *core.Order
	for i := range after {
		if after[i].ParentID == buy.LocalID {
			pairSell = &after[i]
		}
	}
	require.NotNil(t, pairSell, "a filled buy must place a paired sell")
	assert.True(t, pairSell.Price.GreaterThan(buy.Price))
}

func TestHandleFillOnSellCreditsRealizedPnL(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	bot := core.Bot{ID: "b1", OwnerID: "u1", Symbol: "FOOUSDT", State: core.BotActive, Config: validConfig()}
	require.NoError(t, store.SaveBot(ctx, bot))
	ctrl.Attach(bot)

	buyVenueID, err := gw.PlaceLimit(ctx, "FOOUSDT", core.SideBuy, d("9.5"), d("1"))
	require.NoError(t, err)
	require.NoError(t, store.SaveOrder(ctx, core.Order{
		LocalID: "buy1", BotID: "b1", VenueID: buyVenueID, Side: core.SideBuy,
		Price: d("9.5"), ExecutedPrice: d("9.5"), ExecutedQty: d("1"), Quantity: d("1"), Status: core.OrderFilled,
	}))

	sellVenueID, err := gw.PlaceLimit(ctx, "FOOUSDT", core.SideSell, d("9.6"), d("1"))
	require.NoError(t, err)
	require.NoError(t, store.SaveOrder(ctx, core.Order{
		LocalID: "sell1", BotID: "b1", VenueID: sellVenueID, ParentID: "buy1", Side: core.SideSell,
		Price: d("9.6"), Quantity: d("1"), GridLevel: 1, Status: core.OrderNew,
	}))

	err = ctrl.HandleFill(ctx, "b1", core.OrderUpdate{VenueOrderID: sellVenueID, Status: core.OrderFilled, ExecutedQty: d("1"), ExecutedPrice: d("9.6")})
	require.NoError(t, err)

	updated, err := store.GetBot(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, updated.Statistics.TotalProfit.Equal(d("0.1")), "got %s", updated.Statistics.TotalProfit)
	assert.Equal(t, 1, updated.Statistics.TotalTrades)
}

func TestPauseThenStopLifecycle(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	got, err := ctrl.CreateBot(ctx, "u1", "FOOUSDT", validConfig())
	require.NoError(t, err)

	require.NoError(t, ctrl.Pause(ctx, got.ID))
	paused, err := store.GetBot(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BotPaused, paused.State)

	require.Error(t, ctrl.Pause(ctx, got.ID), "pausing a non-active bot must fail")

	require.NoError(t, ctrl.Stop(ctx, got.ID))
	stopped, err := store.GetBot(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BotStopped, stopped.State)

	open, err := gw.OpenOrders(ctx, "FOOUSDT")
	require.NoError(t, err)
	assert.Empty(t, open, "stop must cancel every resting order best-effort")

	require.Error(t, ctrl.Stop(ctx, got.ID), "stopping an already-stopped bot must fail")
}

func TestHandleFillUnknownVenueOrderIsDiscarded(t *testing.T) {
	ctx := context.Background()
	gw := seededGateway()
	store := memory.New()
	ctrl := newTestController(t, gw, store)

	bot := core.Bot{ID: "b1", OwnerID: "u1", Symbol: "FOOUSDT", State: core.BotActive, Config: validConfig()}
	require.NoError(t, store.SaveBot(ctx, bot))
	ctrl.Attach(bot)

	err := ctrl.HandleFill(ctx, "b1", core.OrderUpdate{VenueOrderID: "ghost", Status: core.OrderFilled})
	assert.NoError(t, err, "a fill for an order not on record is logged and discarded, not an error")
}
