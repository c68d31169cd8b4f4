// Package reconciler implements the Reconciliation/Recovery Service
// (§4.5): it reconciles each bot's persisted order state against the
// venue's actual open orders at startup, on a periodic tick, and on
// manual trigger, treating the push stream as best-effort and itself as
// authoritative.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/concurrency"
	"gridbot/internal/core"
	"gridbot/internal/gridmath"

	"github.com/shopspring/decimal"
)

// GatewayFactory returns the bound Exchange Gateway for one user, the way
// the engine wires one gateway instance per (user, venue) session.
type GatewayFactory func(ctx context.Context, userID string) (core.ExchangeGateway, error)

// FillHandlerFunc is the Bot Controller's authoritative fill-handling
// path (§4.2); the RS routes every order update it resolves through the
// same path a push event would have used.
type FillHandlerFunc func(ctx context.Context, botID string, update core.OrderUpdate) error

// RecoveryPlacer is the Bot Controller surface the RS places and cancels
// orders through, instead of calling the gateway/store directly: every
// placement still funnels through the bot's single-writer command lane
// so a reconciliation tick can never race a concurrent push fill for the
// same bot (§5, §9 design note, Testable Property 8).
type RecoveryPlacer interface {
	PlaceRecoveryOrder(ctx context.Context, botID string, gw core.ExchangeGateway, symbol string, order core.Order) (core.Order, error)
	CancelRecoveryOrder(ctx context.Context, botID string, gw core.ExchangeGateway, symbol string, order core.Order) error
}

// Result summarizes one bot's reconciliation pass, the concrete shape of
// spec.md §4.5 step 5's recoveryHistory entry.
type Result struct {
	Restored   int
	Cancelled  int
	Skipped    int
	Diagnostic string
}

type reconcilerMetrics interface {
	ObserveReconciliation(botID string, restored, cancelled, skipped int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveReconciliation(string, int, int, int) {}

// Service is the Reconciliation/Recovery Service.
type Service struct {
	store      core.PersistenceStore
	gatewayFor GatewayFactory
	handleFill FillHandlerFunc
	placer     RecoveryPlacer
	pool       *concurrency.WorkerPool
	logger     core.Logger
	metrics    reconcilerMetrics
}

// New builds a Service. pool bounds the fan-out across bots on a
// process-wide reconciliation sweep. placer is the Bot Controller the RS
// routes every drift-restore/re-anchor placement through.
func New(store core.PersistenceStore, gatewayFor GatewayFactory, handleFill FillHandlerFunc, placer RecoveryPlacer, pool *concurrency.WorkerPool, logger core.Logger, metrics reconcilerMetrics) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		store:      store,
		gatewayFor: gatewayFor,
		handleFill: handleFill,
		placer:     placer,
		pool:       pool,
		logger:     logger.With("component", "reconciler"),
		metrics:    metrics,
	}
}

// ReconcileAll runs ReconcileBot for every bot in trigger's scope
// (startup and manual trigger cover every active bot; the periodic tick
// skips paused bots per SPEC_FULL.md §4.2c).
func (s *Service) ReconcileAll(ctx context.Context, trigger core.RecoveryTrigger) {
	bots, err := s.store.ListActiveBots(ctx)
	if err != nil {
		s.logger.Error("list active bots for reconciliation failed", "error", err)
		return
	}

	for _, b := range bots {
		if trigger == core.TriggerTick && b.State == core.BotPaused {
			continue
		}
		bot := b
		s.pool.Submit(func() {
			if _, err := s.ReconcileBot(ctx, bot, trigger); err != nil {
				s.logger.Error("reconcile bot failed", "bot_id", bot.ID, "error", err)
			}
		})
	}
}

// ReconcileBot reconciles one bot's persisted orders against the venue
// (§4.5 steps 1-5) and appends the outcome to its recoveryHistory.
func (s *Service) ReconcileBot(ctx context.Context, bot core.Bot, trigger core.RecoveryTrigger) (Result, error) {
	gw, err := s.gatewayFor(ctx, bot.OwnerID)
	if err != nil {
		return Result{}, fmt.Errorf("gateway for bot %s: %w", bot.ID, err)
	}

	openOrders, err := gw.OpenOrders(ctx, bot.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("fetch open orders: %w", err)
	}
	openByVenueID := make(map[string]core.OrderUpdate, len(openOrders))
	for _, o := range openOrders {
		openByVenueID[o.VenueOrderID] = o
	}

	persisted, err := s.store.ListOrders(ctx, bot.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list persisted orders: %w", err)
	}

	result := Result{}

	// Step 2: any persisted NEW/PARTIALLY_FILLED order absent from the
	// venue's open set has reached a terminal state we missed.
	liveVenueIDs := make(map[string]bool, len(persisted))
	for _, o := range persisted {
		if o.Status.IsTerminal() {
			continue
		}
		liveVenueIDs[o.VenueID] = true

		if _, stillOpen := openByVenueID[o.VenueID]; stillOpen {
			continue
		}

		update, err := gw.QueryOrder(ctx, bot.Symbol, o.VenueID)
		if err != nil {
			s.logger.Warn("query order during reconciliation failed", "bot_id", bot.ID, "order_id", o.LocalID, "error", err)
			result.Skipped++
			continue
		}

		if update.Status == core.OrderCancelled || update.Status == core.OrderExpired || update.Status == core.OrderRejected {
			result.Cancelled++
		} else {
			result.Restored++
		}

		if err := s.handleFill(ctx, bot.ID, update); err != nil {
			s.logger.Error("recovery fill handling failed", "bot_id", bot.ID, "order_id", o.LocalID, "error", err)
			result.Skipped++
		}
	}

	// Step 3: drift — a rung that should have a live order but doesn't.
	price, priceErr := gw.Price(ctx, bot.Symbol)
	if priceErr == nil {
		account, acctErr := gw.AccountInfo(ctx)
		if acctErr == nil {
			restored := s.restoreMissingRungs(ctx, gw, bot, price, account, liveVenueIDs, persisted)
			result.Restored += restored
		}
	}

	// Step 4: a live SELL with no parent link is a stale anchor - a
	// crash between a BUY fill and placing its paired SELL can leave
	// the SELL priced from grid-level math instead of the BUY's
	// actual fill price. Re-anchor it to the real fill.
	result.Restored += s.reanchorStaleSells(ctx, gw, bot, persisted)

	result.Diagnostic = fmt.Sprintf("trigger=%s restored=%d cancelled=%d skipped=%d", trigger, result.Restored, result.Cancelled, result.Skipped)
	s.metrics.ObserveReconciliation(bot.ID, result.Restored, result.Cancelled, result.Skipped)

	entry := core.RecoveryHistoryEntry{
		Timestamp:  time.Now(),
		Trigger:    trigger,
		Restored:   result.Restored,
		Cancelled:  result.Cancelled,
		Skipped:    result.Skipped,
		Diagnostic: result.Diagnostic,
	}
	bot.RecoveryHistory = append(bot.RecoveryHistory, entry)
	if err := s.store.SaveBot(ctx, bot); err != nil {
		s.logger.Error("save recovery history failed", "bot_id", bot.ID, "error", err)
	}

	return result, nil
}

// restoreMissingRungs places the expected order for any coverage-plan
// rung that has no live order and no unfilled local order covering it,
// subject to current balances and the bot's price range (§4.5 step 3).
func (s *Service) restoreMissingRungs(ctx context.Context, gw core.ExchangeGateway, bot core.Bot, price decimal.Decimal, account core.AccountInfo, liveVenueIDs map[string]bool, persisted []core.Order) int {
	if !gridmath.InRange(price, bot.Config.LowerPrice, bot.Config.UpperPrice) {
		return 0
	}

	symbolInfo, err := gw.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return 0
	}

	plan := gridmath.BuildCoveragePlan(bot.Config, price)
	covered := make(map[string]bool, len(persisted))
	for _, o := range persisted {
		if !o.Status.IsTerminal() {
			covered[o.Price.String()] = true
		}
	}

	restored := 0
	for _, entry := range plan {
		if entry.Side == gridmath.RungAtPrice {
			continue
		}
		if covered[entry.Price.String()] {
			continue
		}

		side := core.SideBuy
		if entry.Side == gridmath.RungSellIfBaseHeld {
			side = core.SideSell
		}

		qty := gridmath.QuantityForBuy(bot.Config.PerRungInvestment(), entry.Price)
		if !hasBalanceFor(account, symbolInfo, side, entry.Price, qty) {
			continue
		}

		roundedPrice := gridmath.RoundPrice(entry.Price, symbolInfo.TickSize)
		roundedQty := gridmath.RoundQuantity(qty, symbolInfo.StepSize)
		_, err = s.placer.PlaceRecoveryOrder(ctx, bot.ID, gw, bot.Symbol, core.Order{
			BotID:           bot.ID,
			Side:            side,
			Price:           roundedPrice,
			Quantity:        roundedQty,
			GridLevel:       entry.GridLevel,
			Status:          core.OrderNew,
			IsRecoveryOrder: true,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		})
		if err != nil {
			s.logger.Warn("reconciliation drift restore failed", "bot_id", bot.ID, "price", entry.Price, "error", err)
			continue
		}
		restored++
	}
	return restored
}

// reanchorStaleSells finds live SELL orders with no ParentID (§4.5 step
// 4) and re-prices them off the actual fill of the most recent FILLED
// BUY at the same grid level, never off grid-level math: a crash
// between a BUY fill and its paired SELL being placed can otherwise
// leave the SELL anchored to the theoretical rung price instead of
// what was actually paid for the base asset it's meant to close out.
func (s *Service) reanchorStaleSells(ctx context.Context, gw core.ExchangeGateway, bot core.Bot, persisted []core.Order) int {
	symbolInfo, err := gw.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return 0
	}

	reanchored := 0
	for _, sellOrder := range persisted {
		if sellOrder.Side != core.SideSell || sellOrder.Status.IsTerminal() || sellOrder.ParentID != "" {
			continue
		}

		buy, ok := latestFilledBuyAtLevel(persisted, sellOrder.GridLevel)
		if !ok {
			continue
		}

		// Only re-anchor when the existing SELL would realize a loss
		// against what was actually paid for the BUY it closes; a SELL
		// already priced above the real fill is left alone even if it
		// doesn't match grid-level math exactly.
		if sellOrder.Price.GreaterThan(buy.ExecutedPrice) {
			continue
		}

		correctPrice := buy.ExecutedPrice.Mul(decimal.NewFromInt(1).Add(bot.Config.ProfitPerGrid.Div(decimal.NewFromInt(100))))
		// Quantize up, matching the online pair-SELL path (gridmath.PairSellPrice):
		// flooring here could land one tick below buyExec*(1+p/100), giving up
		// the last tick of margin Property 3 otherwise guarantees.
		roundedCorrect := gridmath.RoundPriceUp(correctPrice, symbolInfo.TickSize)

		if err := s.placer.CancelRecoveryOrder(ctx, bot.ID, gw, bot.Symbol, sellOrder); err != nil {
			s.logger.Warn("cancel stale sell for re-anchoring failed", "bot_id", bot.ID, "order_id", sellOrder.LocalID, "error", err)
			continue
		}

		qty := gridmath.RoundQuantity(buy.ExecutedQty, symbolInfo.StepSize)
		_, err = s.placer.PlaceRecoveryOrder(ctx, bot.ID, gw, bot.Symbol, core.Order{
			BotID:           bot.ID,
			ParentID:        buy.LocalID,
			Side:            core.SideSell,
			Price:           roundedCorrect,
			Quantity:        qty,
			GridLevel:       sellOrder.GridLevel,
			Status:          core.OrderNew,
			IsRecoveryOrder: true,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		})
		if err != nil {
			s.logger.Warn("re-anchored sell placement failed", "bot_id", bot.ID, "grid_level", sellOrder.GridLevel, "error", err)
			continue
		}
		reanchored++
	}
	return reanchored
}

// latestFilledBuyAtLevel returns the most recently updated FILLED BUY
// order at gridLevel, since more than one BUY can have filled at the
// same level over a bot's lifetime.
func latestFilledBuyAtLevel(orders []core.Order, gridLevel int) (core.Order, bool) {
	var best core.Order
	found := false
	for _, o := range orders {
		if o.Side != core.SideBuy || o.Status != core.OrderFilled || o.GridLevel != gridLevel {
			continue
		}
		if !found || o.UpdatedAt.After(best.UpdatedAt) {
			best = o
			found = true
		}
	}
	return best, found
}

// hasBalanceFor checks whether the free balance of the relevant asset
// (quote for a BUY, base for a SELL) covers the order's notional/quantity.
func hasBalanceFor(account core.AccountInfo, info core.SymbolInfo, side core.OrderSide, price, qty decimal.Decimal) bool {
	var asset string
	var required decimal.Decimal
	if side == core.SideBuy {
		asset = info.QuoteAsset
		required = price.Mul(qty)
	} else {
		asset = info.BaseAsset
		required = qty
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			return b.Free.GreaterThanOrEqual(required)
		}
	}
	return false
}
