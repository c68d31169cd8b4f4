package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names, mirroring the engine's domain vocabulary.
const (
	MetricOrdersPlacedTotal    = "gridbot_orders_placed_total"
	MetricOrdersFilledTotal    = "gridbot_orders_filled_total"
	MetricPnLRealizedTotal     = "gridbot_pnl_realized_total"
	MetricPnLUnrealized        = "gridbot_pnl_unrealized"
	MetricBotsActive           = "gridbot_bots_active"
	MetricReconcileDriftTotal  = "gridbot_reconcile_drift_total"
	MetricClockOffsetMillis    = "gridbot_clock_offset_ms"
	MetricProxyCooldownActive  = "gridbot_proxy_cooldown_active"
	MetricVenueLatencyMillis   = "gridbot_venue_latency_ms"
	MetricFillQueueDepth       = "gridbot_fill_queue_depth"
)

// MetricsHolder owns the initialized instruments and the state observable
// gauges read from on each collection pass.
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	OrdersFilledTotal   metric.Int64Counter
	PnLRealizedTotal    metric.Float64Counter
	ReconcileDriftTotal metric.Int64Counter
	VenueLatencyMillis  metric.Float64Histogram

	PnLUnrealized       metric.Float64ObservableGauge
	BotsActive          metric.Int64ObservableGauge
	ClockOffsetMillis    metric.Float64ObservableGauge
	ProxyCooldownActive metric.Int64ObservableGauge
	FillQueueDepth      metric.Int64ObservableGauge

	mu                sync.RWMutex
	unrealizedPnLMap  map[string]float64
	botsActiveMap     map[string]int64
	clockOffsetMap    map[string]float64
	proxyCooldownMap  map[string]int64
	fillQueueDepthMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics singleton.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap:  make(map[string]float64),
			botsActiveMap:     make(map[string]int64),
			clockOffsetMap:    make(map[string]float64),
			proxyCooldownMap:  make(map[string]int64),
			fillQueueDepthMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// Init creates every instrument on the given meter.
func (m *MetricsHolder) Init(meter metric.Meter) error {
	var err error

	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total orders placed across all bots")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Total orders that reached FILLED")); err != nil {
		return err
	}
	if m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal,
		metric.WithDescription("Cumulative realized profit/loss across all bots")); err != nil {
		return err
	}
	if m.ReconcileDriftTotal, err = meter.Int64Counter(MetricReconcileDriftTotal,
		metric.WithDescription("Count of rungs found drifted by reconciliation")); err != nil {
		return err
	}
	if m.VenueLatencyMillis, err = meter.Float64Histogram(MetricVenueLatencyMillis,
		metric.WithDescription("Exchange Gateway REST call latency"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized,
		metric.WithDescription("Current unrealized PnL per bot"),
		metric.WithFloat64Callback(m.observeFloat(&m.unrealizedPnLMap))); err != nil {
		return err
	}
	if m.BotsActive, err = meter.Int64ObservableGauge(MetricBotsActive,
		metric.WithDescription("Bots currently in active state, by symbol"),
		metric.WithInt64Callback(m.observeInt(&m.botsActiveMap))); err != nil {
		return err
	}
	if m.ClockOffsetMillis, err = meter.Float64ObservableGauge(MetricClockOffsetMillis,
		metric.WithDescription("Signed clock offset versus venue server time"),
		metric.WithFloat64Callback(m.observeFloat(&m.clockOffsetMap))); err != nil {
		return err
	}
	if m.ProxyCooldownActive, err = meter.Int64ObservableGauge(MetricProxyCooldownActive,
		metric.WithDescription("Proxies currently cooling down, by endpoint"),
		metric.WithInt64Callback(m.observeInt(&m.proxyCooldownMap))); err != nil {
		return err
	}
	if m.FillQueueDepth, err = meter.Int64ObservableGauge(MetricFillQueueDepth,
		metric.WithDescription("Fill Ingestor per-key queue depth"),
		metric.WithInt64Callback(m.observeInt(&m.fillQueueDepthMap))); err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeFloat(src *map[string]float64) metric.Float64Callback {
	return func(ctx context.Context, obs metric.Float64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for k, v := range *src {
			obs.Observe(v, metric.WithAttributes(attribute.String("key", k)))
		}
		return nil
	}
}

func (m *MetricsHolder) observeInt(src *map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for k, v := range *src {
			obs.Observe(v, metric.WithAttributes(attribute.String("key", k)))
		}
		return nil
	}
}

// SetUnrealizedPnL records the latest unrealized PnL for a bot.
func (m *MetricsHolder) SetUnrealizedPnL(botID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[botID] = value
}

// SetBotsActive records the count of active bots for a symbol.
func (m *MetricsHolder) SetBotsActive(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botsActiveMap[symbol] = count
}

// SetClockOffset records the clock offset for a venue.
func (m *MetricsHolder) SetClockOffset(venue string, millis float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockOffsetMap[venue] = millis
}

// SetProxyCooldown records whether a proxy endpoint is cooling down.
func (m *MetricsHolder) SetProxyCooldown(endpoint string, cooling bool) {
	val := int64(0)
	if cooling {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxyCooldownMap[endpoint] = val
}

// SetFillQueueDepth records the current depth of a Fill Ingestor lane.
func (m *MetricsHolder) SetFillQueueDepth(key string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillQueueDepthMap[key] = depth
}
