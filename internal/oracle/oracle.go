// Package oracle implements the optional Parameter Oracle (§4.8): a
// pure advisory collaborator that proposes grid parameters from recent
// market data, falling back to a deterministic band/rung/profit
// configuration when the upstream advisor times out or returns garbage.
package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// AdviceFunc is the upstream advisory call (an LLM, a volatility model, a
// remote service — anything); Advise wraps it with the deterministic
// fallback the spec requires.
type AdviceFunc func(ctx context.Context, symbol string, investment decimal.Decimal, klines []core.Kline) (core.OracleAdvice, error)

// FallbackConfig is the deterministic "±X%, fixed N rungs, fixed p%"
// fallback (§4.8), sourced from TradingDefaultsConfig.
type FallbackConfig struct {
	BandPercent float64
	GridLevels  int
	ProfitPct   float64
}

// Oracle wraps an optional upstream AdviceFunc with the required
// fallback and a fixed timeout, plus klines fetched from the Exchange
// Gateway to ground the advice in current volatility.
type Oracle struct {
	exchange core.ExchangeGateway
	advise   AdviceFunc
	fallback FallbackConfig
	timeout  time.Duration
	logger   core.Logger
}

// New builds an Oracle. advise may be nil, in which case every call goes
// straight to the deterministic fallback.
func New(exchange core.ExchangeGateway, advise AdviceFunc, fallback FallbackConfig, timeout time.Duration, logger core.Logger) *Oracle {
	return &Oracle{
		exchange: exchange,
		advise:   advise,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger.With("component", "parameter_oracle"),
	}
}

// Exchange exposes the market-data gateway the advisor grounds its
// advice in, for callers (previewParameters, §6) that need symbol
// metadata outside of any one user's session.
func (o *Oracle) Exchange() core.ExchangeGateway { return o.exchange }

// Advise returns grid parameters for symbol. The Bot Controller treats
// the result as a proposal, never a command: creation validation (§4.2)
// still applies to whatever comes back.
func (o *Oracle) Advise(ctx context.Context, symbol string, investment decimal.Decimal) (core.OracleAdvice, error) {
	klines, err := o.exchange.Klines(ctx, symbol, "1h", 24)
	if err != nil {
		o.logger.Warn("oracle klines fetch failed, using deterministic fallback", "symbol", symbol, "error", err)
		return o.fallbackAdvice(symbol, investment, decimal.Zero), nil
	}

	currentPrice := decimal.Zero
	if len(klines) > 0 {
		currentPrice = klines[len(klines)-1].Close
	}

	if o.advise == nil {
		return o.fallbackAdvice(symbol, investment, currentPrice), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	advice, err := o.advise(callCtx, symbol, investment, klines)
	if err != nil {
		o.logger.Warn("upstream advisor failed, using deterministic fallback", "symbol", symbol, "error", err)
		return o.fallbackAdvice(symbol, investment, currentPrice), nil
	}

	if !adviceIsSane(advice) {
		o.logger.Warn("upstream advisor returned malformed advice, using deterministic fallback", "symbol", symbol)
		return o.fallbackAdvice(symbol, investment, currentPrice), nil
	}

	return advice, nil
}

func adviceIsSane(a core.OracleAdvice) bool {
	if a.UpperPrice.LessThanOrEqual(a.LowerPrice) {
		return false
	}
	if a.GridLevels < 2 {
		return false
	}
	if a.ProfitPerGrid.IsNegative() || a.ProfitPerGrid.IsZero() {
		return false
	}
	return true
}

func (o *Oracle) fallbackAdvice(symbol string, investment, currentPrice decimal.Decimal) core.OracleAdvice {
	band := decimal.NewFromFloat(o.fallback.BandPercent / 100)
	upper := currentPrice.Mul(decimal.NewFromInt(1).Add(band))
	lower := currentPrice.Mul(decimal.NewFromInt(1).Sub(band))

	levels := o.fallback.GridLevels
	if levels < 2 {
		levels = 2
	}

	return core.OracleAdvice{
		UpperPrice:    upper,
		LowerPrice:    lower,
		GridLevels:    levels,
		ProfitPerGrid: decimal.NewFromFloat(o.fallback.ProfitPct),
		Reasoning: fmt.Sprintf(
			"deterministic fallback: +/-%.2f%% band around last price, %d rungs, %.2f%% target profit per rung",
			o.fallback.BandPercent, levels, o.fallback.ProfitPct,
		),
	}
}

// stdDev returns the sample standard deviation of closes, for sizing a
// band from realized volatility instead of a fixed percentage. Nothing in
// this package calls it: Advise and the fallback use a fixed band.
func stdDev(closes []decimal.Decimal) float64 {
	if len(closes) < 2 {
		return 0
	}
	floats := make([]float64, len(closes))
	var sum float64
	for i, c := range closes {
		f, _ := c.Float64()
		floats[i] = f
		sum += f
	}
	mean := sum / float64(len(floats))

	var variance float64
	for _, f := range floats {
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(len(floats) - 1)
	return math.Sqrt(variance)
}
