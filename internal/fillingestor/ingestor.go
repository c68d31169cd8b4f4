// Package fillingestor implements the Fill Ingestor (§4.3): a single
// process-wide consumer of every user's venue push stream that
// normalizes each event and dispatches it to the owning bot, guaranteeing
// per-order serialization while letting different orders process
// concurrently.
package fillingestor

import (
	"context"
	"sync"

	"gridbot/internal/concurrency"
	"gridbot/internal/core"
	"gridbot/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BotLookup resolves the bot that owns a persisted order, since a push
// event carries only the venue's (symbol, venueOrderId), not a bot id.
type BotLookup func(ctx context.Context, userID, symbol, venueOrderID string) (botID string, ok bool)

// FillHandler is the Bot Controller's fill-handling path (§4.2); the
// Fill Ingestor is a push-side caller of the same path the Recovery
// Service uses on its pull side.
type FillHandler func(ctx context.Context, botID string, update core.OrderUpdate) error

// BackpressureFunc is invoked when the dispatch pool is saturated
// (NonBlocking Submit failed): instead of blocking the stream consumer
// or dropping the event, the caller triggers an out-of-band
// reconciliation tick for the affected user/symbol (§5).
type BackpressureFunc func(ctx context.Context, userID string, update core.OrderUpdate)

type ingestorMetrics interface {
	IncomingEvent(userID, symbol string)
	UnknownOrderDiscarded(userID, symbol string)
	HandlerError(botID string)
}

type noopMetrics struct{}

func (noopMetrics) IncomingEvent(string, string)          {}
func (noopMetrics) UnknownOrderDiscarded(string, string)  {}
func (noopMetrics) HandlerError(string)                   {}

// Ingestor dispatches push order updates to bots with per-
// (userId, venueOrderId) ordering.
type Ingestor struct {
	pool           *concurrency.WorkerPool
	lookup         BotLookup
	handleFill     FillHandler
	onBackpressure BackpressureFunc
	logger         core.Logger
	metrics        ingestorMetrics
	tracer         trace.Tracer

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New builds an Ingestor. pool should be configured NonBlocking so
// saturation surfaces as an error Dispatch routes to onBackpressure
// instead of stalling the stream consumer or silently dropping events.
func New(pool *concurrency.WorkerPool, lookup BotLookup, handleFill FillHandler, onBackpressure BackpressureFunc, logger core.Logger, metrics ingestorMetrics) *Ingestor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Ingestor{
		pool:           pool,
		lookup:         lookup,
		handleFill:     handleFill,
		onBackpressure: onBackpressure,
		logger:         logger.With("component", "fill_ingestor"),
		metrics:        metrics,
		tracer:         telemetry.GetTracer("fill-ingestor"),
		tails:          make(map[string]chan struct{}),
	}
}

// Subscribe starts (or resumes, after a disconnect) userID's push stream
// on gw and dispatches every event it emits. It blocks until ctx is
// cancelled or the stream ends; callers run one Subscribe per user
// (typically via errgroup.Go).
func (i *Ingestor) Subscribe(ctx context.Context, userID string, gw core.ExchangeGateway) error {
	return gw.UserDataStream(ctx, func(update core.OrderUpdate) {
		i.Dispatch(ctx, userID, update)
	})
}

// Dispatch normalizes and routes one push event. Events sharing
// (userID, update.VenueOrderID) are processed strictly in the order
// Dispatch was called for them; events for different orders run
// concurrently, bounded by the pool.
func (i *Ingestor) Dispatch(ctx context.Context, userID string, update core.OrderUpdate) {
	i.metrics.IncomingEvent(userID, update.Symbol)
	key := userID + "|" + update.VenueOrderID

	i.mu.Lock()
	prev := i.tails[key]
	done := make(chan struct{})
	i.tails[key] = done
	depth := i.queueDepthLocked(key)
	i.mu.Unlock()

	telemetry.GetGlobalMetrics().SetFillQueueDepth(key, depth)

	submitErr := i.pool.Submit(func() {
		defer i.finish(key, done)
		if prev != nil {
			<-prev
		}
		i.process(ctx, userID, update)
	})
	if submitErr != nil {
		i.logger.Warn("fill ingestor pool saturated, triggering out-of-band reconciliation", "user_id", userID, "symbol", update.Symbol, "error", submitErr)
		close(done)
		i.mu.Lock()
		if i.tails[key] == done {
			delete(i.tails, key)
		}
		i.mu.Unlock()
		if i.onBackpressure != nil {
			i.onBackpressure(ctx, userID, update)
		}
	}
}

func (i *Ingestor) finish(key string, done chan struct{}) {
	close(done)
	i.mu.Lock()
	if i.tails[key] == done {
		delete(i.tails, key)
	}
	depth := i.queueDepthLocked(key)
	i.mu.Unlock()
	telemetry.GetGlobalMetrics().SetFillQueueDepth(key, depth)
}

// queueDepthLocked reports whether key currently has a pending chain
// (0 or 1, since only the tail is tracked); called with i.mu held.
func (i *Ingestor) queueDepthLocked(key string) int64 {
	if _, ok := i.tails[key]; ok {
		return 1
	}
	return 0
}

func (i *Ingestor) process(ctx context.Context, userID string, update core.OrderUpdate) {
	ctx, span := i.tracer.Start(ctx, "FillIngestor.process", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("symbol", update.Symbol),
		attribute.String("venue_order_id", update.VenueOrderID),
	))
	defer span.End()

	update.UserID = userID

	botID, ok := i.lookup(ctx, userID, update.Symbol, update.VenueOrderID)
	if !ok {
		i.logger.Warn("push event for unknown order, discarding", "user_id", userID, "symbol", update.Symbol, "venue_order_id", update.VenueOrderID)
		i.metrics.UnknownOrderDiscarded(userID, update.Symbol)
		return
	}

	if err := i.handleFill(ctx, botID, update); err != nil {
		i.logger.Error("fill handling failed", "bot_id", botID, "venue_order_id", update.VenueOrderID, "error", err)
		i.metrics.HandlerError(botID)
	}
}
