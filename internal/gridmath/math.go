// Package gridmath holds the pure, deterministic arithmetic behind the
// fixed grid: rung pricing, quantization to venue tick/step size, and the
// coverage-plan decision of which side a rung's initial order belongs on.
package gridmath

import (
	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// RoundPrice quantizes a price down to the nearest tickSize multiple.
func RoundPrice(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundPriceUp quantizes a price up to the nearest tickSize multiple, used
// when clamping a replenishment/pair SELL price so it is never undershot
// (Testable Property 3).
func RoundPriceUp(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	div := price.Div(tickSize)
	floor := div.Floor()
	if div.Equal(floor) {
		return floor.Mul(tickSize)
	}
	return floor.Add(decimal.NewFromInt(1)).Mul(tickSize)
}

// RoundQuantity quantizes a quantity down to the nearest stepSize
// multiple, the conservative direction for anything the venue must accept.
func RoundQuantity(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}

// RungSide is which side of the book rung r's initial order belongs on,
// relative to the current price.
type RungSide int

const (
	RungBuy RungSide = iota
	RungSellIfBaseHeld
	RungAtPrice
)

// CoveragePlanEntry is the intended order for one rung (§4.2 step 4).
type CoveragePlanEntry struct {
	GridLevel int
	Price     decimal.Decimal
	Side      RungSide
}

// BuildCoveragePlan computes, for every rung in [0, cfg.GridLevels), which
// side of the book its initial order belongs on relative to currentPrice.
// Rungs priced below currentPrice get a BUY; rungs above get a SELL only
// if the account already holds base asset (RungSellIfBaseHeld defers that
// decision to the caller, which knows the held balance); a rung landing
// exactly on currentPrice is reported as RungAtPrice for the caller to
// seed as a BUY per §4.2 step 4 ("seeded as latent... armed BUY at the
// nearest lower rung").
func BuildCoveragePlan(cfg core.BotConfig, currentPrice decimal.Decimal) []CoveragePlanEntry {
	plan := make([]CoveragePlanEntry, 0, cfg.GridLevels)
	for r := 0; r < cfg.GridLevels; r++ {
		price := cfg.RungPrice(r)
		var side RungSide
		switch {
		case price.LessThan(currentPrice):
			side = RungBuy
		case price.GreaterThan(currentPrice):
			side = RungSellIfBaseHeld
		default:
			side = RungAtPrice
		}
		plan = append(plan, CoveragePlanEntry{GridLevel: r, Price: price, Side: side})
	}
	return plan
}

// QuantityForBuy is perRungInvestment/price, the quantity a BUY rung
// acquires for its fixed quote allocation.
func QuantityForBuy(perRungInvestment, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return perRungInvestment.Div(price)
}

// PairSellPrice computes the SELL price that closes a filled BUY's pair:
// executedPrice*(1+profitPerGrid/100), clamped into [lowerPrice,
// upperPrice] and quantized up to tickSize so it is never priced below
// the profit target (§4.2 fill handling, Testable Property 3).
func PairSellPrice(executedPrice, profitPerGrid, lowerPrice, upperPrice, tickSize decimal.Decimal) decimal.Decimal {
	raw := executedPrice.Mul(decimal.NewFromInt(1).Add(profitPerGrid.Div(decimal.NewFromInt(100))))
	clamped := clamp(raw, lowerPrice, upperPrice)
	return RoundPriceUp(clamped, tickSize)
}

// ReplenishBuyPrice computes the price of a replenishing BUY placed at
// the same rung after a SELL closes (§4.2 fill handling, §4.2a policy).
func ReplenishBuyPrice(sellPrice, profitPerGrid decimal.Decimal) decimal.Decimal {
	denom := decimal.NewFromInt(1).Add(profitPerGrid.Div(decimal.NewFromInt(100)))
	if denom.IsZero() {
		return sellPrice
	}
	return sellPrice.Div(denom)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// InRange reports whether price lies in [lower, upper] inclusive.
func InRange(price, lower, upper decimal.Decimal) bool {
	return !price.LessThan(lower) && !price.GreaterThan(upper)
}
