// Package performance implements the Performance Projection (§4.4): a
// pure, deterministic order-pairing algorithm over persisted Order
// history that derives realized/unrealized PnL, win rate, and per-day
// and per-grid-level profit breakdowns. Nothing here is persisted on
// its own; a PerformanceSnapshot is always rebuildable from the Order
// history alone.
package performance

import (
	"sort"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Project builds a PerformanceSnapshot for botID from its full Order
// history, marking any still-open BUY exposure at currentMark.
func Project(botID string, orders []core.Order, currentMark decimal.Decimal) core.PerformanceSnapshot {
	pairs, unpairedBuys, unpairedSells := pairOrders(orders)

	snap := core.PerformanceSnapshot{
		BotID:             botID,
		TradeCount:        len(pairs),
		ProfitByDay:       make(map[string]decimal.Decimal),
		ProfitByGridLevel: make(map[int]decimal.Decimal),
	}

	wins := 0
	for i, p := range pairs {
		snap.RealizedPnL = snap.RealizedPnL.Add(p.RealizedPnL)
		if p.RealizedPnL.IsPositive() {
			wins++
		}
		if i == 0 || p.RealizedPnL.GreaterThan(snap.BestTrade) {
			snap.BestTrade = p.RealizedPnL
		}
		if i == 0 || p.RealizedPnL.LessThan(snap.WorstTrade) {
			snap.WorstTrade = p.RealizedPnL
		}

		day := p.Sell.UpdatedAt.Format("2006-01-02")
		snap.ProfitByDay[day] = snap.ProfitByDay[day].Add(p.RealizedPnL)
		snap.ProfitByGridLevel[p.Buy.GridLevel] = snap.ProfitByGridLevel[p.Buy.GridLevel].Add(p.RealizedPnL)
	}
	if len(pairs) > 0 {
		snap.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(pairs))))
	}

	for _, buy := range unpairedBuys {
		unrealized := currentMark.Sub(buy.ExecutedPrice).Mul(buy.ExecutedQty).Sub(buy.Commission)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(unrealized)
	}
	for _, sell := range unpairedSells {
		// A SELL with no BUY to close is a short position: its unrealized
		// PnL moves opposite a long's, and it is surfaced separately since
		// it should not occur under normal grid operation.
		unrealized := sell.ExecutedPrice.Sub(currentMark).Mul(sell.ExecutedQty).Sub(sell.Commission)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(unrealized)
		snap.UnpairedSellDiagnostic = append(snap.UnpairedSellDiagnostic, unpairedSellDiagnostic(sell))
	}

	// A PARTIALLY_FILLED order is never FIFO/parent-link paired (§4.2b):
	// it contributes its executed slice to unrealized PnL as an unpaired
	// partial position until a later fill makes it terminal.
	for _, o := range orders {
		if o.Status != core.OrderPartiallyFilled || o.ExecutedQty.IsZero() {
			continue
		}
		switch o.Side {
		case core.SideBuy:
			snap.UnrealizedPnL = snap.UnrealizedPnL.Add(currentMark.Sub(o.ExecutedPrice).Mul(o.ExecutedQty).Sub(o.Commission))
		case core.SideSell:
			snap.UnrealizedPnL = snap.UnrealizedPnL.Add(o.ExecutedPrice.Sub(currentMark).Mul(o.ExecutedQty).Sub(o.Commission))
		}
	}

	snap.ComputedAt = time.Now()
	return snap
}

func unpairedSellDiagnostic(sell core.Order) string {
	return "unpaired SELL " + sell.LocalID + " at grid level " + itoa(sell.GridLevel) + " has no matching BUY"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// pairOrders applies spec.md §4.4's pairing rules in order: explicit
// parent link first, then FIFO among the remainder by fill time with
// sellExecPrice > buyExecPrice. It is a pure function of orders so two
// runs over the same history produce identical pairs.
func pairOrders(orders []core.Order) (pairs []core.Pair, unpairedBuys, unpairedSells []core.Order) {
	var filledBuys, filledSells []core.Order
	byLocalID := make(map[string]core.Order)
	for _, o := range orders {
		byLocalID[o.LocalID] = o
		if o.Status != core.OrderFilled {
			continue
		}
		switch o.Side {
		case core.SideBuy:
			filledBuys = append(filledBuys, o)
		case core.SideSell:
			filledSells = append(filledSells, o)
		}
	}

	pairedBuy := make(map[string]bool)
	pairedSell := make(map[string]bool)

	// Step 1: explicit parent link.
	for _, sell := range filledSells {
		if sell.ParentID == "" || pairedSell[sell.LocalID] {
			continue
		}
		buy, ok := byLocalID[sell.ParentID]
		if !ok || buy.Side != core.SideBuy || buy.Status != core.OrderFilled || pairedBuy[buy.LocalID] {
			continue
		}
		pairs = append(pairs, makePair(buy, sell))
		pairedBuy[buy.LocalID] = true
		pairedSell[sell.LocalID] = true
	}

	// Step 2: FIFO among the unpaired remainder, BUYs in fill-time order.
	sort.SliceStable(filledBuys, func(i, j int) bool { return filledBuys[i].UpdatedAt.Before(filledBuys[j].UpdatedAt) })
	sort.SliceStable(filledSells, func(i, j int) bool { return filledSells[i].UpdatedAt.Before(filledSells[j].UpdatedAt) })

	for _, buy := range filledBuys {
		if pairedBuy[buy.LocalID] {
			continue
		}
		for _, sell := range filledSells {
			if pairedSell[sell.LocalID] {
				continue
			}
			if sell.UpdatedAt.Before(buy.UpdatedAt) {
				continue
			}
			if !sell.ExecutedPrice.GreaterThan(buy.ExecutedPrice) {
				continue
			}
			pairs = append(pairs, makePair(buy, sell))
			pairedBuy[buy.LocalID] = true
			pairedSell[sell.LocalID] = true
			break
		}
	}

	// Step 3: whatever is left is unrealized exposure.
	for _, buy := range filledBuys {
		if !pairedBuy[buy.LocalID] {
			unpairedBuys = append(unpairedBuys, buy)
		}
	}
	for _, sell := range filledSells {
		if !pairedSell[sell.LocalID] {
			unpairedSells = append(unpairedSells, sell)
		}
	}

	return pairs, unpairedBuys, unpairedSells
}

func makePair(buy, sell core.Order) core.Pair {
	qty := buy.ExecutedQty
	if sell.ExecutedQty.LessThan(qty) {
		qty = sell.ExecutedQty
	}
	realized := sell.ExecutedPrice.Sub(buy.ExecutedPrice).Mul(qty).Sub(buy.Commission).Sub(sell.Commission)
	return core.Pair{Buy: buy, Sell: sell, RealizedPnL: realized}
}
