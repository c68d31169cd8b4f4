package performance

import (
	"testing"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestProjectPairsExplicitParentLink(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("1"), UpdatedAt: t0},
		{LocalID: "sell1", ParentID: "buy1", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10.1"), ExecutedQty: d("1"), UpdatedAt: t0.Add(time.Hour)},
	}

	snap := Project("b1", orders, d("10.1"))
	require.Equal(t, 1, snap.TradeCount)
	assert.True(t, snap.RealizedPnL.Equal(d("0.1")), "got %s", snap.RealizedPnL)
	assert.Empty(t, snap.UnpairedSellDiagnostic)
}

func TestProjectPairsFIFOWhenNoParentLink(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("1"), UpdatedAt: t0},
		{LocalID: "buy2", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 2, ExecutedPrice: d("9"), ExecutedQty: d("1"), UpdatedAt: t0.Add(time.Minute)},
		// Only one SELL clears both BUYs' price bar; it must pair with the
		// earliest-filled BUY (buy1), not the cheaper buy2.
		{LocalID: "sell1", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10.5"), ExecutedQty: d("1"), UpdatedAt: t0.Add(2 * time.Hour)},
	}

	snap := Project("b1", orders, d("10.5"))
	require.Equal(t, 1, snap.TradeCount)
	assert.True(t, snap.RealizedPnL.Equal(d("0.5")), "sell1 must pair with buy1 (earlier fill), got pnl %s", snap.RealizedPnL)
	// buy2 is left open, contributing unrealized PnL at the mark.
	assert.True(t, snap.UnrealizedPnL.Equal(d("1.5")), "got %s", snap.UnrealizedPnL)
}

func TestProjectSkipsSellBelowBuyPriceForFIFOPairing(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("1"), UpdatedAt: t0},
		{LocalID: "sell1", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("9.5"), ExecutedQty: d("1"), UpdatedAt: t0.Add(time.Hour)},
	}

	snap := Project("b1", orders, d("9.5"))
	assert.Equal(t, 0, snap.TradeCount, "a sell priced below the buy must never be paired as a realized trade")
	require.Len(t, snap.UnpairedSellDiagnostic, 1)
}

func TestProjectIsDeterministicOnReplay(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("1"), UpdatedAt: t0, Commission: d("0.01")},
		{LocalID: "sell1", ParentID: "buy1", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10.1"), ExecutedQty: d("1"), UpdatedAt: t0.Add(time.Hour), Commission: d("0.01")},
		{LocalID: "buy2", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 2, ExecutedPrice: d("9"), ExecutedQty: d("1"), UpdatedAt: t0.Add(2 * time.Hour)},
	}

	first := Project("b1", orders, d("9.5"))
	second := Project("b1", orders, d("9.5"))

	assert.True(t, first.RealizedPnL.Equal(second.RealizedPnL))
	assert.True(t, first.UnrealizedPnL.Equal(second.UnrealizedPnL))
	assert.Equal(t, first.WinRate, second.WinRate)
	assert.Equal(t, first.TradeCount, second.TradeCount)
}

func TestProjectWinRateAndBestWorstTrade(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("1"), UpdatedAt: t0},
		{LocalID: "sell1", ParentID: "buy1", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 1, ExecutedPrice: d("10.2"), ExecutedQty: d("1"), UpdatedAt: t0.Add(time.Hour)},
		{LocalID: "buy2", Side: core.SideBuy, Status: core.OrderFilled, GridLevel: 2, ExecutedPrice: d("9"), ExecutedQty: d("1"), UpdatedAt: t0.Add(2 * time.Hour)},
		{LocalID: "sell2", ParentID: "buy2", Side: core.SideSell, Status: core.OrderFilled, GridLevel: 2, ExecutedPrice: d("9.05"), ExecutedQty: d("1"), UpdatedAt: t0.Add(3 * time.Hour)},
	}

	snap := Project("b1", orders, d("9.05"))
	require.Equal(t, 2, snap.TradeCount)
	assert.True(t, snap.WinRate.Equal(d("1")), "both trades are profitable, got %s", snap.WinRate)
	assert.True(t, snap.BestTrade.Equal(d("0.2")), "got %s", snap.BestTrade)
	assert.True(t, snap.WorstTrade.Equal(d("0.05")), "got %s", snap.WorstTrade)
	assert.Len(t, snap.ProfitByGridLevel, 2)
}

func TestProjectIncludesPartiallyFilledOrderInUnrealizedPnL(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []core.Order{
		{LocalID: "buy1", Side: core.SideBuy, Status: core.OrderPartiallyFilled, GridLevel: 1, ExecutedPrice: d("10"), ExecutedQty: d("0.5"), UpdatedAt: t0},
	}

	snap := Project("b1", orders, d("11"))
	assert.Equal(t, 0, snap.TradeCount, "a partial fill is never FIFO/parent-link paired")
	assert.True(t, snap.UnrealizedPnL.Equal(d("0.5")), "got %s", snap.UnrealizedPnL)
}
