package gridmath

import (
	"testing"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// s1Config reproduces the spec's S1 scenario: FOO/USDT, tick=0.001,
// step=0.01, minNotional=5, minQty=0.1, price=10.000, lowerPrice=9.00,
// upperPrice=11.00, gridLevels=11, investment=110, profitPerGrid=1.
func s1Config() core.BotConfig {
	return core.BotConfig{
		UpperPrice:       d("11.00"),
		LowerPrice:       d("9.00"),
		GridLevels:       11,
		InvestmentAmount: d("110"),
		ProfitPerGrid:    d("1"),
	}
}

func TestBuildCoveragePlan_S1(t *testing.T) {
	cfg := s1Config()
	price := d("10.000")

	plan := BuildCoveragePlan(cfg, price)
	require.Len(t, plan, 11)

	buys, sells, atPrice := 0, 0, 0
	for _, entry := range plan {
		switch entry.Side {
		case RungBuy:
			buys++
		case RungSellIfBaseHeld:
			sells++
		case RungAtPrice:
			atPrice++
		}
	}

	assert.Equal(t, 5, buys, "rungs 9.00..9.80 (five rungs strictly below 10.00) are BUYs")
	assert.Equal(t, 5, sells, "rungs 10.20..11.00 are SELL candidates")
	assert.Equal(t, 1, atPrice, "the rung at 10.00 lands exactly on price")

	assert.True(t, plan[0].Price.Equal(d("9.00")))
	assert.True(t, plan[10].Price.Equal(d("11.00")))
}

func TestRoundPriceUpNeverUndershoots(t *testing.T) {
	tick := d("0.001")
	got := RoundPriceUp(d("9.8980001"), tick)
	assert.True(t, got.GreaterThanOrEqual(d("9.8980001")))
	assert.True(t, got.Mod(tick).IsZero())
}

func TestPairSellPrice_S2(t *testing.T) {
	// A BUY at 9.80 fills; SELL target = 9.80 * 1.01 = 9.898, quantized up.
	sellPrice := PairSellPrice(d("9.80"), d("1"), d("9.00"), d("11.00"), d("0.001"))
	assert.True(t, sellPrice.GreaterThanOrEqual(d("9.898")))
}

func TestReplenishBuyPrice_S3(t *testing.T) {
	// SELL fills at 9.90 -> replenishing BUY at 9.90/1.01.
	buyPrice := ReplenishBuyPrice(d("9.90"), d("1"))
	expected := d("9.90").Div(d("1.01"))
	assert.True(t, buyPrice.Sub(expected).Abs().LessThan(d("0.0001")))
}

func TestRoundQuantityFloorsToStep(t *testing.T) {
	got := RoundQuantity(d("1.025"), d("0.01"))
	assert.True(t, got.Equal(d("1.02")))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(d("9.00"), d("9.00"), d("11.00")))
	assert.True(t, InRange(d("11.00"), d("9.00"), d("11.00")))
	assert.False(t, InRange(d("8.99"), d("9.00"), d("11.00")))
}
