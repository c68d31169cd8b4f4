// Package engine implements the Grid Engine orchestrator: it wires the
// Bot Controller, Fill Ingestor, and Reconciliation/Recovery Service
// into one running process and exposes the Control API surface an
// external HTTP layer (out of scope here, §1) would call into.
package engine

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/bot"
	"gridbot/internal/clocksync"
	"gridbot/internal/core"
	"gridbot/internal/fillingestor"
	"gridbot/internal/oracle"
	"gridbot/internal/performance"
	"gridbot/internal/reconciler"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ControlAPI is the in-process surface §6's Control API table maps
// onto (§4.9): no HTTP/gRPC framing, a plain Go interface the
// out-of-scope HTTP layer would call directly.
type ControlAPI interface {
	CreateBot(ctx context.Context, params CreateBotParams) (core.Bot, error)
	StartBot(ctx context.Context, botID string) error
	StopBot(ctx context.Context, botID string) error
	PauseBot(ctx context.Context, botID string) error
	DeleteBot(ctx context.Context, botID string) error
	StopAllBots(ctx context.Context, ownerID string) (int, error)

	GetBot(ctx context.Context, botID string) (core.Bot, error)
	ListBots(ctx context.Context, ownerID string) ([]core.Bot, error)
	GetPerformance(ctx context.Context, botID string) (core.PerformanceSnapshot, error)
	GetTradingHistory(ctx context.Context, botID string) ([]core.Order, error)
	GetDiagnostics(ctx context.Context, botID string) (core.Bot, error)

	PreviewParameters(ctx context.Context, symbol string, investment decimal.Decimal) (core.OracleAdvice, error)
	RecoverBot(ctx context.Context, botID string) (reconciler.Result, error)
}

// CreateBotParams is createBot's input (§6): Upper/Lower/GridLevels/
// ProfitPerGrid are optional — zero means "ask the Parameter Oracle".
type CreateBotParams struct {
	OwnerID       string
	Symbol        string
	Investment    decimal.Decimal
	UpperPrice    decimal.Decimal
	LowerPrice    decimal.Decimal
	GridLevels    int
	ProfitPerGrid decimal.Decimal
}

// GatewayFactory returns the bound Exchange Gateway for one user.
type GatewayFactory func(ctx context.Context, userID string) (core.ExchangeGateway, error)

// Engine is the Grid Engine: it implements ControlAPI and Run, the
// process-lifetime errgroup composition of every long-lived component.
type Engine struct {
	store      core.PersistenceStore
	gatewayFor GatewayFactory
	ctrl       *bot.Controller
	reconciler *reconciler.Service
	ingestor   *fillingestor.Ingestor
	advisor    *oracle.Oracle
	clockSyncs []*clocksync.Sync
	reconcileTick time.Duration
	logger     core.Logger
}

// New assembles a GridEngine from its already-constructed
// collaborators; cmd/gridbotd is responsible for building each one
// with its concrete concrete transport/persistence implementation.
func New(
	store core.PersistenceStore,
	gatewayFor GatewayFactory,
	ctrl *bot.Controller,
	rs *reconciler.Service,
	ingestor *fillingestor.Ingestor,
	advisor *oracle.Oracle,
	clockSyncs []*clocksync.Sync,
	reconcileTick time.Duration,
	logger core.Logger,
) *Engine {
	return &Engine{
		store:         store,
		gatewayFor:    gatewayFor,
		ctrl:          ctrl,
		reconciler:    rs,
		ingestor:      ingestor,
		advisor:       advisor,
		clockSyncs:    clockSyncs,
		reconcileTick: reconcileTick,
		logger:        logger.With("component", "grid_engine"),
	}
}

// Run brings up every long-lived subsystem and blocks until ctx is
// cancelled: clock sync per venue, a push-stream subscription per user
// with an active bot, and the reconciliation tick. It runs the
// startup reconciliation sweep before the tick loop so every restored
// bot is known-correct before normal operation resumes (§4.5).
func (e *Engine) Run(ctx context.Context) error {
	bots, err := e.store.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("list active bots at startup: %w", err)
	}
	for _, b := range bots {
		e.ctrl.Attach(b)
	}

	e.reconciler.ReconcileAll(ctx, core.TriggerStartup)

	g, ctx := errgroup.WithContext(ctx)

	for _, cs := range e.clockSyncs {
		cs := cs
		g.Go(func() error { return cs.Run(ctx, 5*time.Minute) })
	}

	seenUsers := make(map[string]bool)
	for _, b := range bots {
		if seenUsers[b.OwnerID] {
			continue
		}
		seenUsers[b.OwnerID] = true
		userID := b.OwnerID
		gw, err := e.gatewayFor(ctx, userID)
		if err != nil {
			e.logger.Error("resolve gateway for push subscription failed", "user_id", userID, "error", err)
			continue
		}
		g.Go(func() error { return e.ingestor.Subscribe(ctx, userID, gw) })
	}

	g.Go(func() error { return e.runReconcileTicker(ctx) })

	return g.Wait()
}

func (e *Engine) runReconcileTicker(ctx context.Context) error {
	ticker := time.NewTicker(e.reconcileTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.reconciler.ReconcileAll(ctx, core.TriggerTick)
		}
	}
}

func (e *Engine) CreateBot(ctx context.Context, params CreateBotParams) (core.Bot, error) {
	cfg := core.BotConfig{
		UpperPrice:       params.UpperPrice,
		LowerPrice:       params.LowerPrice,
		GridLevels:       params.GridLevels,
		InvestmentAmount: params.Investment,
		ProfitPerGrid:    params.ProfitPerGrid,
	}

	if cfg.UpperPrice.IsZero() || cfg.LowerPrice.IsZero() || cfg.GridLevels == 0 || cfg.ProfitPerGrid.IsZero() {
		advice, err := e.advisor.Advise(ctx, params.Symbol, params.Investment)
		if err != nil {
			return core.Bot{}, fmt.Errorf("parameter oracle advise: %w", err)
		}
		if cfg.UpperPrice.IsZero() {
			cfg.UpperPrice = advice.UpperPrice
		}
		if cfg.LowerPrice.IsZero() {
			cfg.LowerPrice = advice.LowerPrice
		}
		if cfg.GridLevels == 0 {
			cfg.GridLevels = advice.GridLevels
		}
		if cfg.ProfitPerGrid.IsZero() {
			cfg.ProfitPerGrid = advice.ProfitPerGrid
		}
	}

	return e.ctrl.CreateBot(ctx, params.OwnerID, params.Symbol, cfg)
}

func (e *Engine) StartBot(ctx context.Context, botID string) error { return e.ctrl.Start(ctx, botID) }
func (e *Engine) StopBot(ctx context.Context, botID string) error  { return e.ctrl.Stop(ctx, botID) }
func (e *Engine) PauseBot(ctx context.Context, botID string) error { return e.ctrl.Pause(ctx, botID) }

func (e *Engine) DeleteBot(ctx context.Context, botID string) error {
	b, err := e.store.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if b.State != core.BotStopped {
		return fmt.Errorf("%w: bot must be stopped before deletion", apperrors.ErrNotActive)
	}
	return e.store.DeleteBot(ctx, botID)
}

func (e *Engine) StopAllBots(ctx context.Context, ownerID string) (int, error) {
	bots, err := e.store.ListBots(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, b := range bots {
		if b.State == core.BotStopped {
			continue
		}
		if err := e.ctrl.Stop(ctx, b.ID); err != nil {
			e.logger.Warn("stop during stopAllBots failed", "bot_id", b.ID, "error", err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

func (e *Engine) GetBot(ctx context.Context, botID string) (core.Bot, error) {
	return e.store.GetBot(ctx, botID)
}

func (e *Engine) ListBots(ctx context.Context, ownerID string) ([]core.Bot, error) {
	return e.store.ListBots(ctx, ownerID)
}

func (e *Engine) GetDiagnostics(ctx context.Context, botID string) (core.Bot, error) {
	return e.store.GetBot(ctx, botID)
}

func (e *Engine) GetTradingHistory(ctx context.Context, botID string) ([]core.Order, error) {
	return e.store.ListOrders(ctx, botID)
}

// GetPerformance recomputes the bot's performance projection from its
// full Order history and the venue's current mark, persisting the
// refreshed snapshot (§4.4).
func (e *Engine) GetPerformance(ctx context.Context, botID string) (core.PerformanceSnapshot, error) {
	b, err := e.store.GetBot(ctx, botID)
	if err != nil {
		return core.PerformanceSnapshot{}, err
	}
	orders, err := e.store.ListOrders(ctx, botID)
	if err != nil {
		return core.PerformanceSnapshot{}, err
	}
	gw, err := e.gatewayFor(ctx, b.OwnerID)
	if err != nil {
		return core.PerformanceSnapshot{}, fmt.Errorf("resolve gateway: %w", err)
	}
	mark, err := gw.Price(ctx, b.Symbol)
	if err != nil {
		return core.PerformanceSnapshot{}, fmt.Errorf("fetch current price: %w", err)
	}

	snap := performance.Project(botID, orders, mark)
	if err := e.store.SavePerformanceSnapshot(ctx, snap); err != nil {
		e.logger.Warn("persist performance snapshot failed", "bot_id", botID, "error", err)
	}
	return snap, nil
}

// PreviewParameters returns the Oracle's proposal for symbol pre-validated
// against the venue's symbol metadata (§6: "oracle output + validation"),
// the same check §4.2 step 2 applies before ever placing a bot's coverage.
func (e *Engine) PreviewParameters(ctx context.Context, symbol string, investment decimal.Decimal) (core.OracleAdvice, error) {
	advice, err := e.advisor.Advise(ctx, symbol, investment)
	if err != nil {
		return core.OracleAdvice{}, err
	}

	info, err := e.advisor.Exchange().SymbolInfo(ctx, symbol)
	if err != nil {
		return advice, fmt.Errorf("fetch symbol metadata for validation: %w", err)
	}

	cfg := core.BotConfig{
		UpperPrice:       advice.UpperPrice,
		LowerPrice:       advice.LowerPrice,
		GridLevels:       advice.GridLevels,
		InvestmentAmount: investment,
		ProfitPerGrid:    advice.ProfitPerGrid,
	}
	if err := bot.ValidateConfig(cfg, info); err != nil {
		return advice, fmt.Errorf("proposed parameters failed validation: %w", err)
	}
	return advice, nil
}

func (e *Engine) RecoverBot(ctx context.Context, botID string) (reconciler.Result, error) {
	b, err := e.store.GetBot(ctx, botID)
	if err != nil {
		return reconciler.Result{}, err
	}
	return e.reconciler.ReconcileBot(ctx, b, core.TriggerManual)
}

var _ ControlAPI = (*Engine)(nil)
