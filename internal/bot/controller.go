// Package bot implements the Bot Controller (§4.2): the per-bot grid
// state machine that validates and places a bot's initial coverage,
// handles fills from either the push stream or the Recovery Service,
// and serializes every command against one bot through a single
// consumer goroutine so "at most one placement in flight per bot"
// holds regardless of how many callers submit work concurrently.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
	"gridbot/internal/gridmath"
	"gridbot/internal/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GatewayFactory returns the bound Exchange Gateway for one user.
type GatewayFactory func(ctx context.Context, userID string) (core.ExchangeGateway, error)

type controllerMetrics interface {
	BotCreated(symbol string)
	FillHandled(botID string, side core.OrderSide)
}

type noopMetrics struct{}

func (noopMetrics) BotCreated(string)                  {}
func (noopMetrics) FillHandled(string, core.OrderSide) {}

// Controller owns every bot's single-writer command lane.
type Controller struct {
	store          core.PersistenceStore
	gatewayFor     GatewayFactory
	safetyFeePct   decimal.Decimal
	logger         core.Logger
	metrics        controllerMetrics
	tracer         trace.Tracer

	mu      sync.Mutex
	runners map[string]*runner
}

// runner is one bot's single-consumer command lane; every mutation of
// that bot's state and every venue placement for it funnels through
// this one goroutine.
type runner struct {
	cmds   chan func()
	cancel context.CancelFunc
}

// New builds a Controller. safetyFeePercent is the configured cushion
// added to required balance checks (§4.2 step 5, §4.2a).
func New(store core.PersistenceStore, gatewayFor GatewayFactory, safetyFeePercent float64, logger core.Logger, metrics controllerMetrics) *Controller {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Controller{
		store:        store,
		gatewayFor:   gatewayFor,
		safetyFeePct: decimal.NewFromFloat(safetyFeePercent),
		logger:       logger.With("component", "bot_controller"),
		metrics:      metrics,
		tracer:       telemetry.GetTracer("bot-controller"),
		runners:      make(map[string]*runner),
	}
}

// Attach starts a bot's command lane without running creation
// validation again, for bots restored from the store at process
// startup (the Recovery Service then reconciles them).
func (c *Controller) Attach(bot core.Bot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.runners[bot.ID]; ok {
		return
	}
	c.startRunnerLocked(bot.ID)
}

func (c *Controller) startRunnerLocked(botID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{cmds: make(chan func(), 32), cancel: cancel}
	c.runners[botID] = r
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-r.cmds:
				if !ok {
					return
				}
				cmd()
			}
		}
	}()
}

// submit runs fn on botID's single-writer lane and waits for it to
// complete, so callers see a synchronous result while still getting
// per-bot serialization against every other submitted command.
func (c *Controller) submit(ctx context.Context, botID string, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	r, ok := c.runners[botID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bot %s has no active command lane", apperrors.ErrNotFound, botID)
	}

	result := make(chan error, 1)
	select {
	case r.cmds <- func() { result <- fn(ctx) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateBot runs §4.2's six-step creation validation and, on success,
// places the initial coverage plan and starts the bot's command lane.
// Any unrecoverable placement failure rolls back every order already
// placed and leaves nothing persisted.
func (c *Controller) CreateBot(ctx context.Context, ownerID, symbol string, cfg core.BotConfig) (core.Bot, error) {
	ctx, span := c.tracer.Start(ctx, "BotController.CreateBot")
	defer span.End()

	gw, err := c.gatewayFor(ctx, ownerID)
	if err != nil {
		return core.Bot{}, fmt.Errorf("resolve gateway: %w", err)
	}

	// Step 1: resolve symbol metadata.
	info, err := gw.SymbolInfo(ctx, symbol)
	if err != nil {
		return core.Bot{}, fmt.Errorf("%w: %w", apperrors.ErrSymbolUnknown, err)
	}

	// Step 2: validate config.
	if err := ValidateConfig(cfg, info); err != nil {
		return core.Bot{}, err
	}

	// Step 3: current price must be inside the grid for initial coverage.
	currentPrice, err := gw.Price(ctx, symbol)
	if err != nil {
		return core.Bot{}, fmt.Errorf("fetch current price: %w", err)
	}
	if !gridmath.InRange(currentPrice, cfg.LowerPrice, cfg.UpperPrice) {
		return core.Bot{}, apperrors.ErrPriceRange
	}

	account, err := gw.AccountInfo(ctx)
	if err != nil {
		return core.Bot{}, fmt.Errorf("fetch account info: %w", err)
	}
	baseFree := balanceOf(account, info.BaseAsset)
	quoteFree := balanceOf(account, info.QuoteAsset)

	// Step 4: simulate the initial coverage plan.
	plan := gridmath.BuildCoveragePlan(cfg, currentPrice)
	perRung := cfg.PerRungInvestment()

	type placement struct {
		level int
		side  core.OrderSide
		price decimal.Decimal
		qty   decimal.Decimal
	}
	var placements []placement
	requiredQuote := decimal.Zero
	requiredBase := decimal.Zero
	for _, entry := range plan {
		switch entry.Side {
		case gridmath.RungBuy, gridmath.RungAtPrice:
			qty := gridmath.RoundQuantity(gridmath.QuantityForBuy(perRung, entry.Price), info.StepSize)
			placements = append(placements, placement{entry.GridLevel, core.SideBuy, gridmath.RoundPrice(entry.Price, info.TickSize), qty})
			requiredQuote = requiredQuote.Add(entry.Price.Mul(qty))
		case gridmath.RungSellIfBaseHeld:
			qty := gridmath.RoundQuantity(gridmath.QuantityForBuy(perRung, entry.Price), info.StepSize)
			if requiredBase.Add(qty).LessThanOrEqual(baseFree) {
				placements = append(placements, placement{entry.GridLevel, core.SideSell, gridmath.RoundPriceUp(entry.Price, info.TickSize), qty})
				requiredBase = requiredBase.Add(qty)
			}
			// otherwise the rung is seeded as latent: no initial order, the
			// RS/replenishment path arms it once a BUY at the nearest lower
			// rung fills.
		}
	}

	// Step 5: balance sufficiency, including the configured safety cushion.
	safetyFee := requiredQuote.Mul(c.safetyFeePct).Div(decimal.NewFromInt(100))
	if quoteFree.LessThan(requiredQuote.Add(safetyFee)) {
		return core.Bot{}, apperrors.ErrInsufficientBalance
	}
	if requiredBase.GreaterThan(baseFree) {
		return core.Bot{}, apperrors.ErrInsufficientBalance
	}

	// Step 6: place one by one, rolling back every placed order on the
	// first unrecoverable failure; the bot and its orders are persisted
	// only once every placement has succeeded.
	now := time.Now()
	newBot := core.Bot{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Symbol:    symbol,
		Config:    cfg,
		State:     core.BotActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var placedOrders []core.Order
	for _, p := range placements {
		venueID, err := gw.PlaceLimit(ctx, symbol, p.side, p.price, p.qty)
		if err != nil {
			c.rollback(ctx, gw, symbol, placedOrders)
			return core.Bot{}, fmt.Errorf("place initial rung %d: %w", p.level, err)
		}
		placedOrders = append(placedOrders, core.Order{
			LocalID: uuid.NewString(), BotID: newBot.ID, VenueID: venueID,
			Side: p.side, Price: p.price, Quantity: p.qty, GridLevel: p.level,
			Status: core.OrderNew, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err := c.store.SaveBot(ctx, newBot); err != nil {
		c.rollback(ctx, gw, symbol, placedOrders)
		return core.Bot{}, fmt.Errorf("persist bot: %w", err)
	}
	for _, o := range placedOrders {
		if err := c.store.SaveOrder(ctx, o); err != nil {
			c.logger.Error("persist initial order failed", "bot_id", newBot.ID, "order_id", o.LocalID, "error", err)
		}
	}

	c.mu.Lock()
	c.startRunnerLocked(newBot.ID)
	c.mu.Unlock()

	c.metrics.BotCreated(symbol)
	span.SetAttributes(attribute.String("bot_id", newBot.ID), attribute.String("symbol", symbol))
	return newBot, nil
}

func (c *Controller) rollback(ctx context.Context, gw core.ExchangeGateway, symbol string, placed []core.Order) {
	for _, o := range placed {
		if err := gw.Cancel(ctx, symbol, o.VenueID); err != nil {
			c.logger.Warn("rollback cancel failed", "order_id", o.VenueID, "error", err)
		}
	}
}

// ValidateConfig runs §4.2 step 2's config checks against symbol metadata,
// exported so the Control API's previewParameters can validate an Oracle
// proposal before it is ever used to create a bot.
func ValidateConfig(cfg core.BotConfig, info core.SymbolInfo) error {
	if !cfg.UpperPrice.GreaterThan(cfg.LowerPrice) {
		return fmt.Errorf("%w: upper price must exceed lower price", apperrors.ErrValidation)
	}
	if cfg.GridLevels < 2 {
		return fmt.Errorf("%w: grid must have at least 2 rungs", apperrors.ErrValidation)
	}
	if !cfg.ProfitPerGrid.IsPositive() {
		return fmt.Errorf("%w: profit per grid must be positive", apperrors.ErrValidation)
	}
	if cfg.StepSize().LessThan(info.TickSize) {
		return fmt.Errorf("%w: grid step size smaller than symbol tick size", apperrors.ErrValidation)
	}
	perRung := cfg.PerRungInvestment()
	for r := 0; r < cfg.GridLevels; r++ {
		price := cfg.RungPrice(r)
		if perRung.LessThan(info.MinNotional) {
			return fmt.Errorf("%w: per-rung investment below symbol minimum notional", apperrors.ErrMinNotional)
		}
		qty := gridmath.RoundQuantity(gridmath.QuantityForBuy(perRung, price), info.StepSize)
		if qty.LessThan(info.MinQty) {
			return fmt.Errorf("%w: rung %d quantity below symbol minimum", apperrors.ErrLotSize, r)
		}
	}
	return nil
}

func balanceOf(account core.AccountInfo, asset string) decimal.Decimal {
	for _, b := range account.Balances {
		if b.Asset == asset {
			return b.Free
		}
	}
	return decimal.Zero
}

// HandleFill is the authoritative fill-handling path (§4.2): both the
// Fill Ingestor (push) and the Recovery Service (pull) route every
// observed terminal/partial order update through this one method, and
// it always runs on botID's single-writer lane.
func (c *Controller) HandleFill(ctx context.Context, botID string, update core.OrderUpdate) error {
	return c.submit(ctx, botID, func(ctx context.Context) error {
		return c.handleFillLocked(ctx, botID, update)
	})
}

func (c *Controller) handleFillLocked(ctx context.Context, botID string, update core.OrderUpdate) error {
	ctx, span := c.tracer.Start(ctx, "BotController.handleFill", trace.WithAttributes(
		attribute.String("bot_id", botID),
		attribute.String("venue_order_id", update.VenueOrderID),
	))
	defer span.End()

	bot, err := c.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("load bot: %w", err)
	}

	order, found, err := c.findOrderByVenueID(ctx, botID, update.VenueOrderID)
	if err != nil {
		return err
	}
	if !found {
		c.logger.Warn("fill update for order not on record, discarding", "bot_id", botID, "venue_order_id", update.VenueOrderID)
		return nil
	}

	gw, err := c.gatewayFor(ctx, bot.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve gateway: %w", err)
	}

	terminal := update.Status == core.OrderFilled || (update.Status == core.OrderPartiallyFilled && update.ExecutedQty.GreaterThanOrEqual(order.Quantity))

	order.ExecutedQty = update.ExecutedQty
	order.ExecutedPrice = update.ExecutedPrice
	order.Commission = order.Commission.Add(update.Commission)
	order.CommissionAsset = update.CommissionAsset
	order.UpdatedAt = time.Now()

	if !terminal {
		order.Status = core.OrderPartiallyFilled
		return c.store.SaveOrder(ctx, order)
	}
	order.Status = core.OrderFilled

	c.metrics.FillHandled(botID, order.Side)

	info, err := gw.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("load symbol info: %w", err)
	}

	var toSave []core.Order
	switch order.Side {
	case core.SideBuy:
		sellPrice := gridmath.PairSellPrice(order.ExecutedPrice, bot.Config.ProfitPerGrid, bot.Config.LowerPrice, bot.Config.UpperPrice, info.TickSize)
		sellQty := gridmath.RoundQuantity(order.ExecutedQty, info.StepSize)
		toSave = append(toSave, order)
		if sellQty.GreaterThanOrEqual(info.MinQty) {
			venueID, err := gw.PlaceLimit(ctx, bot.Symbol, core.SideSell, sellPrice, sellQty)
			if err != nil {
				c.logger.Error("pair sell placement failed", "bot_id", botID, "order_id", order.LocalID, "error", err)
			} else {
				order.HasCorrespondingSell = true
				pairSell := core.Order{
					LocalID: uuid.NewString(), BotID: botID, VenueID: venueID, ParentID: order.LocalID,
					Side: core.SideSell, Price: sellPrice, Quantity: sellQty, GridLevel: order.GridLevel,
					Status: core.OrderNew, CreatedAt: time.Now(), UpdatedAt: time.Now(),
				}
				toSave[0] = order
				toSave = append(toSave, pairSell)
			}
		} else {
			c.logger.Warn("executed quantity too small to quantize a pair sell, rung left dormant", "bot_id", botID, "order_id", order.LocalID)
			bot.DormantRungs = append(bot.DormantRungs, core.DormantRung{
				GridLevel: order.GridLevel, Side: core.SideSell, Reason: core.DormantNoBaseBalance, UpdatedAt: time.Now(),
			})
		}

	case core.SideSell:
		toSave = append(toSave, order)
		if order.ParentID != "" {
			parent, err := c.store.GetOrder(ctx, order.ParentID)
			if err != nil {
				c.logger.Warn("parent buy for sell fill not found, realized pnl not credited", "bot_id", botID, "sell_id", order.LocalID, "error", err)
			} else {
				qty := parent.ExecutedQty
				if order.ExecutedQty.LessThan(qty) {
					qty = order.ExecutedQty
				}
				realized := order.ExecutedPrice.Sub(parent.ExecutedPrice).Mul(qty).Sub(parent.Commission).Sub(order.Commission)
				bot.Statistics.TotalProfit = bot.Statistics.TotalProfit.Add(realized)
				bot.Statistics.TotalTrades++
			}

			account, err := gw.AccountInfo(ctx)
			replenish := core.DormantRung{GridLevel: order.GridLevel, Side: core.SideBuy, UpdatedAt: time.Now()}
			switch {
			case err != nil:
				c.logger.Warn("account info for replenishment check failed", "bot_id", botID, "error", err)
			default:
				replenishPrice := gridmath.ReplenishBuyPrice(order.ExecutedPrice, bot.Config.ProfitPerGrid)
				freeQuote := balanceOf(account, info.QuoteAsset)
				perRung := bot.Config.PerRungInvestment()
				safetyFee := perRung.Mul(c.safetyFeePct).Div(decimal.NewFromInt(100))
				switch {
				case !gridmath.InRange(replenishPrice, bot.Config.LowerPrice, bot.Config.UpperPrice):
					replenish.Reason = core.DormantOutOfRange
					bot.DormantRungs = append(bot.DormantRungs, replenish)
				case freeQuote.LessThan(perRung.Add(safetyFee)):
					replenish.Reason = core.DormantInsufficientQuote
					bot.DormantRungs = append(bot.DormantRungs, replenish)
				default:
					qty := gridmath.RoundQuantity(gridmath.QuantityForBuy(perRung, replenishPrice), info.StepSize)
					venueID, err := gw.PlaceLimit(ctx, bot.Symbol, core.SideBuy, replenishPrice, qty)
					if err != nil {
						c.logger.Error("replenishment buy placement failed", "bot_id", botID, "error", err)
					} else {
						toSave = append(toSave, core.Order{
							LocalID: uuid.NewString(), BotID: botID, VenueID: venueID,
							Side: core.SideBuy, Price: replenishPrice, Quantity: qty, GridLevel: order.GridLevel,
							Status: core.OrderNew, CreatedAt: time.Now(), UpdatedAt: time.Now(),
						})
					}
				}
			}
		}
	}

	bot.UpdatedAt = time.Now()
	if err := c.store.SaveFillTransaction(ctx, bot, toSave); err != nil {
		return fmt.Errorf("save fill transaction: %w", err)
	}
	return nil
}

func (c *Controller) findOrderByVenueID(ctx context.Context, botID, venueID string) (core.Order, bool, error) {
	orders, err := c.store.ListOrders(ctx, botID)
	if err != nil {
		return core.Order{}, false, fmt.Errorf("list orders: %w", err)
	}
	for _, o := range orders {
		if o.VenueID == venueID {
			return o, true, nil
		}
	}
	return core.Order{}, false, nil
}

// PlaceRecoveryOrder places one order for botID on its single-writer
// command lane and persists it, so the Recovery Service's drift-restore
// and stale-SELL re-anchor passes can never race a concurrent push fill
// for the same bot (§5, §9 design note, Testable Property 8). gw is the
// caller's already-resolved gateway for the bot's owner; order carries
// every field except LocalID/VenueID, which are filled in from the venue
// response.
func (c *Controller) PlaceRecoveryOrder(ctx context.Context, botID string, gw core.ExchangeGateway, symbol string, order core.Order) (core.Order, error) {
	err := c.submit(ctx, botID, func(ctx context.Context) error {
		venueID, err := gw.PlaceLimit(ctx, symbol, order.Side, order.Price, order.Quantity)
		if err != nil {
			return err
		}
		order.LocalID = venueID
		order.VenueID = venueID
		return c.store.SaveOrder(ctx, order)
	})
	return order, err
}

// CancelRecoveryOrder cancels order (if it carries a live venue id) and
// persists it as cancelled, on botID's single-writer lane, for the
// Recovery Service's stale-SELL re-anchor path (§4.5 step 4, §9 design
// note).
func (c *Controller) CancelRecoveryOrder(ctx context.Context, botID string, gw core.ExchangeGateway, symbol string, order core.Order) error {
	return c.submit(ctx, botID, func(ctx context.Context) error {
		if order.VenueID != "" {
			if err := gw.Cancel(ctx, symbol, order.VenueID); err != nil {
				return err
			}
		}
		order.Status = core.OrderCancelled
		order.UpdatedAt = time.Now()
		return c.store.SaveOrder(ctx, order)
	})
}

// Pause marks botID paused, leaving resting orders untouched (§4.2); the
// periodic reconciliation tick skips paused bots. HandleFill does not
// check the bot's state: a fill that arrives while the bot is paused
// still places its pair SELL or replenishing BUY.
func (c *Controller) Pause(ctx context.Context, botID string) error {
	return c.submit(ctx, botID, func(ctx context.Context) error {
		bot, err := c.store.GetBot(ctx, botID)
		if err != nil {
			return err
		}
		if bot.State != core.BotActive {
			return fmt.Errorf("%w: bot is %s", apperrors.ErrNotActive, bot.State)
		}
		bot.State = core.BotPaused
		bot.UpdatedAt = time.Now()
		return c.store.SaveBot(ctx, bot)
	})
}

// Start resumes a paused bot to active so the periodic reconciliation
// tick covers it again.
func (c *Controller) Start(ctx context.Context, botID string) error {
	return c.submit(ctx, botID, func(ctx context.Context) error {
		bot, err := c.store.GetBot(ctx, botID)
		if err != nil {
			return err
		}
		if bot.State == core.BotActive {
			return apperrors.ErrAlreadyActive
		}
		if bot.State == core.BotStopped {
			return fmt.Errorf("%w: restart a stopped bot via createBot", apperrors.ErrAlreadyStopped)
		}
		bot.State = core.BotActive
		bot.UpdatedAt = time.Now()
		return c.store.SaveBot(ctx, bot)
	})
}

// Stop cancels every live order best-effort, then marks the bot
// stopped regardless of cancellation failures: the Recovery Service
// sweeps any leftovers on next startup (§4.2).
func (c *Controller) Stop(ctx context.Context, botID string) error {
	err := c.submit(ctx, botID, func(ctx context.Context) error {
		bot, err := c.store.GetBot(ctx, botID)
		if err != nil {
			return err
		}
		if bot.State == core.BotStopped {
			return apperrors.ErrAlreadyStopped
		}

		gw, err := c.gatewayFor(ctx, bot.OwnerID)
		if err != nil {
			return fmt.Errorf("resolve gateway: %w", err)
		}
		orders, err := c.store.ListOrders(ctx, botID)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		for _, o := range orders {
			if o.Status.IsTerminal() || o.VenueID == "" {
				continue
			}
			if err := gw.Cancel(ctx, bot.Symbol, o.VenueID); err != nil {
				c.logger.Warn("cancel on stop failed, RS will sweep on next startup", "bot_id", botID, "order_id", o.LocalID, "error", err)
			}
		}

		bot.State = core.BotStopped
		bot.UpdatedAt = time.Now()
		return c.store.SaveBot(ctx, bot)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if r, ok := c.runners[botID]; ok {
		r.cancel()
		delete(c.runners, botID)
	}
	c.mu.Unlock()
	return nil
}
