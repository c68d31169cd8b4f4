package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/exchange/mock"
	"gridbot/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededGateway() *mock.Gateway {
	g := mock.NewGateway()
	g.SetPrice("FOOUSDT", decimal.NewFromInt(10))
	return g
}

func TestAdviseUsesFallbackWhenNoUpstream(t *testing.T) {
	g := seededGateway()
	o := New(g, nil, FallbackConfig{BandPercent: 10, GridLevels: 8, ProfitPct: 1}, time.Second, logging.Global())

	advice, err := o.Advise(context.Background(), "FOOUSDT", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, 8, advice.GridLevels)
	assert.True(t, advice.UpperPrice.GreaterThan(advice.LowerPrice))
}

func TestAdviseFallsBackOnUpstreamError(t *testing.T) {
	g := seededGateway()
	failing := func(ctx context.Context, symbol string, investment decimal.Decimal, klines []core.Kline) (core.OracleAdvice, error) {
		return core.OracleAdvice{}, errors.New("timeout")
	}
	o := New(g, failing, FallbackConfig{BandPercent: 5, GridLevels: 10, ProfitPct: 1}, time.Second, logging.Global())

	advice, err := o.Advise(context.Background(), "FOOUSDT", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, 10, advice.GridLevels)
}

func TestAdviseFallsBackOnMalformedUpstreamAdvice(t *testing.T) {
	g := seededGateway()
	malformed := func(ctx context.Context, symbol string, investment decimal.Decimal, klines []core.Kline) (core.OracleAdvice, error) {
		return core.OracleAdvice{UpperPrice: decimal.NewFromInt(5), LowerPrice: decimal.NewFromInt(9)}, nil
	}
	o := New(g, malformed, FallbackConfig{BandPercent: 5, GridLevels: 6, ProfitPct: 1}, time.Second, logging.Global())

	advice, err := o.Advise(context.Background(), "FOOUSDT", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, 6, advice.GridLevels, "malformed advice (upper <= lower) is rejected in favor of the fallback")
}

func TestAdviseAcceptsSaneUpstreamAdvice(t *testing.T) {
	g := seededGateway()
	sane := func(ctx context.Context, symbol string, investment decimal.Decimal, klines []core.Kline) (core.OracleAdvice, error) {
		return core.OracleAdvice{
			UpperPrice: decimal.NewFromInt(12), LowerPrice: decimal.NewFromInt(8),
			GridLevels: 12, ProfitPerGrid: decimal.NewFromInt(2), Reasoning: "volatility band",
		}, nil
	}
	o := New(g, sane, FallbackConfig{BandPercent: 5, GridLevels: 6, ProfitPct: 1}, time.Second, logging.Global())

	advice, err := o.Advise(context.Background(), "FOOUSDT", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, 12, advice.GridLevels)
	assert.Equal(t, "volatility band", advice.Reasoning)
}
