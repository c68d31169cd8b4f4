package binance

import (
	"context"

	"golang.org/x/time/rate"
)

// weightClass buckets endpoints by their Binance request-weight cost so a
// handful of heavy endpoints (exchangeInfo, klines) don't starve the cheap,
// latency-sensitive ones (order placement, cancel) out of the shared
// per-venue budget (§4.1a).
type weightClass int

const (
	weightOrder weightClass = iota
	weightQuery
	weightMarketData
)

// limiterSet is one token bucket per weight class, all drawing from the
// same venue connection but rationed independently.
type limiterSet struct {
	order      *rate.Limiter
	query      *rate.Limiter
	marketData *rate.Limiter
}

// newLimiterSet builds one bucket per class: 8 requests/s (burst 10) for
// orders, 15/s (burst 20) for queries and 5/s (burst 10) for market data.
// The buckets count requests, not Binance request weight, and no joint
// cap sits above them: together they allow up to 28 requests/s.
func newLimiterSet() *limiterSet {
	return &limiterSet{
		order:      rate.NewLimiter(rate.Limit(8), 10),
		query:      rate.NewLimiter(rate.Limit(15), 20),
		marketData: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (l *limiterSet) wait(ctx context.Context, class weightClass) error {
	switch class {
	case weightOrder:
		return l.order.Wait(ctx)
	case weightQuery:
		return l.query.Wait(ctx)
	default:
		return l.marketData.Wait(ctx)
	}
}
