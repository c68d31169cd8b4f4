// Package mock implements core.ExchangeGateway in memory, for
// engine-level tests that never touch a network.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Gateway is an in-memory venue double: orders placed via PlaceLimit sit
// as NEW until the test calls SimulateFill, at which point a handler
// registered via UserDataStream is invoked, exactly as a real push
// stream would deliver it.
type Gateway struct {
	mu             sync.Mutex
	symbols        map[string]core.SymbolInfo
	prices         map[string]decimal.Decimal
	balances       map[string]core.Balance
	orders         map[string]*core.Order
	orderIDCounter int64

	streamHandlers []func(core.OrderUpdate)
}

// NewGateway builds a Gateway with no symbols registered; call
// SetSymbol/SetPrice/SetBalance to seed it before use.
func NewGateway() *Gateway {
	return &Gateway{
		symbols:  make(map[string]core.SymbolInfo),
		prices:   make(map[string]decimal.Decimal),
		balances: make(map[string]core.Balance),
		orders:   make(map[string]*core.Order),
	}
}

// SetSymbol registers metadata for a symbol.
func (g *Gateway) SetSymbol(info core.SymbolInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info.FetchedAt = time.Now()
	g.symbols[info.Symbol] = info
}

// SetPrice sets the symbol's current price.
func (g *Gateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// SetBalance sets an asset's free/locked balance.
func (g *Gateway) SetBalance(b core.Balance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[b.Asset] = b
}

func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.symbols[symbol]
	if !ok {
		return core.SymbolInfo{}, apperrors.ErrSymbolUnknown
	}
	return info, nil
}

func (g *Gateway) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prices[symbol]
	if !ok {
		return decimal.Zero, apperrors.ErrSymbolUnknown
	}
	return p, nil
}

func (g *Gateway) Klines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	g.mu.Lock()
	price, ok := g.prices[symbol]
	g.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrSymbolUnknown
	}

	klines := make([]core.Kline, limit)
	now := time.Now()
	for i := range klines {
		klines[i] = core.Kline{
			OpenTime: now.Add(-time.Duration(limit-i) * time.Minute),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   decimal.NewFromInt(1),
		}
	}
	return klines, nil
}

func (g *Gateway) AccountInfo(ctx context.Context) (core.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info := core.AccountInfo{CanTrade: true}
	for _, b := range g.balances {
		info.Balances = append(info.Balances, b)
	}
	return info, nil
}

// PlaceLimit validates against the registered symbol filters and books a
// NEW order.
func (g *Gateway) PlaceLimit(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	info, ok := g.symbols[symbol]
	if !ok {
		return "", apperrors.ErrSymbolUnknown
	}
	if !info.StepSize.IsZero() && !qty.Mod(info.StepSize).IsZero() {
		return "", apperrors.ErrLotSize
	}
	if qty.LessThan(info.MinQty) {
		return "", apperrors.ErrLotSize
	}
	if price.Mul(qty).LessThan(info.MinNotional) {
		return "", apperrors.ErrMinNotional
	}

	g.orderIDCounter++
	venueID := fmt.Sprintf("mock-%d", g.orderIDCounter)
	g.orders[venueID] = &core.Order{
		VenueID:  venueID,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Status:   core.OrderNew,
	}
	return venueID, nil
}

func (g *Gateway) Cancel(ctx context.Context, symbol, venueOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[venueOrderID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order already %s", apperrors.ErrVenueFatal, o.Status)
	}
	o.Status = core.OrderCancelled
	return nil
}

func (g *Gateway) QueryOrder(ctx context.Context, symbol, venueOrderID string) (core.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[venueOrderID]
	if !ok {
		return core.OrderUpdate{}, apperrors.ErrNotFound
	}
	return orderToUpdate(symbol, o), nil
}

func (g *Gateway) OpenOrders(ctx context.Context, symbol string) ([]core.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []core.OrderUpdate
	for _, o := range g.orders {
		if o.Status == core.OrderNew || o.Status == core.OrderPartiallyFilled {
			out = append(out, orderToUpdate(symbol, o))
		}
	}
	return out, nil
}

func orderToUpdate(symbol string, o *core.Order) core.OrderUpdate {
	return core.OrderUpdate{
		Symbol:        symbol,
		VenueOrderID:  o.VenueID,
		Status:        o.Status,
		ExecutedQty:   o.ExecutedQty,
		ExecutedPrice: o.ExecutedPrice,
		Commission:    o.Commission,
		EventTime:     time.Now(),
	}
}

// UserDataStream registers handler and blocks until ctx is cancelled.
// SimulateFill delivers updates to every registered handler.
func (g *Gateway) UserDataStream(ctx context.Context, handler func(core.OrderUpdate)) error {
	g.mu.Lock()
	g.streamHandlers = append(g.streamHandlers, handler)
	g.mu.Unlock()

	<-ctx.Done()
	return nil
}

// SimulateFill marks venueOrderID filled (fully, by default) and pushes
// the update to every registered stream handler, the way a real venue's
// executionReport event would arrive.
func (g *Gateway) SimulateFill(symbol, venueOrderID string, executedQty, executedPrice decimal.Decimal) {
	g.mu.Lock()
	o, ok := g.orders[venueOrderID]
	if !ok {
		g.mu.Unlock()
		return
	}
	o.Status = core.OrderFilled
	o.ExecutedQty = executedQty
	o.ExecutedPrice = executedPrice
	update := orderToUpdate(symbol, o)
	handlers := append([]func(core.OrderUpdate){}, g.streamHandlers...)
	g.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}
}

// ForgetOrder drops venueOrderID from the mock venue's bookkeeping
// without cancelling it first, for reconciler tests that need a ghost
// order the venue no longer recognizes.
func (g *Gateway) ForgetOrder(venueOrderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, venueOrderID)
}
