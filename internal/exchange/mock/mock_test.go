package mock

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func seededGateway() *Gateway {
	g := NewGateway()
	g.SetSymbol(core.SymbolInfo{
		Symbol: "FOOUSDT", TickSize: d("0.001"), StepSize: d("0.01"),
		MinQty: d("0.1"), MinNotional: d("5"),
	})
	g.SetPrice("FOOUSDT", d("10.00"))
	return g
}

func TestPlaceLimitRejectsBelowMinNotional(t *testing.T) {
	g := seededGateway()
	_, err := g.PlaceLimit(context.Background(), "FOOUSDT", core.SideBuy, d("10.00"), d("0.1"))
	assert.ErrorIs(t, err, apperrors.ErrMinNotional)
}

func TestPlaceLimitAcceptsValidOrder(t *testing.T) {
	g := seededGateway()
	venueID, err := g.PlaceLimit(context.Background(), "FOOUSDT", core.SideBuy, d("10.00"), d("1.0"))
	require.NoError(t, err)
	assert.NotEmpty(t, venueID)

	open, err := g.OpenOrders(context.Background(), "FOOUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, core.OrderNew, open[0].Status)
}

func TestSimulateFillDeliversToStreamHandler(t *testing.T) {
	g := seededGateway()
	venueID, err := g.PlaceLimit(context.Background(), "FOOUSDT", core.SideBuy, d("10.00"), d("1.0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan core.OrderUpdate, 1)
	go g.UserDataStream(ctx, func(u core.OrderUpdate) { received <- u })

	// Give UserDataStream's registration a moment to land.
	time.Sleep(10 * time.Millisecond)
	g.SimulateFill("FOOUSDT", venueID, d("1.0"), d("10.00"))

	select {
	case u := <-received:
		assert.Equal(t, core.OrderFilled, u.Status)
		assert.True(t, u.ExecutedQty.Equal(d("1.0")))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fill update")
	}
}

func TestCancelTerminalOrderFails(t *testing.T) {
	g := seededGateway()
	venueID, err := g.PlaceLimit(context.Background(), "FOOUSDT", core.SideBuy, d("10.00"), d("1.0"))
	require.NoError(t, err)

	require.NoError(t, g.Cancel(context.Background(), "FOOUSDT", venueID))
	assert.Error(t, g.Cancel(context.Background(), "FOOUSDT", venueID))
}
