// Command gridbotd is the grid trading engine process: it loads
// configuration, wires every collaborator (persistence, vault, exchange
// gateways, oracle, reconciler, fill ingestor, bot controller), and runs
// the Grid Engine until an OS signal asks it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gridbot/internal/bot"
	"gridbot/internal/clocksync"
	"gridbot/internal/concurrency"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/exchange/binance"
	"gridbot/internal/exchange/httpclient"
	"gridbot/internal/exchange/symbolcache"
	"gridbot/internal/fillingestor"
	"gridbot/internal/logging"
	"gridbot/internal/oracle"
	"gridbot/internal/persistence/sqlite"
	"gridbot/internal/proxypool"
	"gridbot/internal/reconciler"
	"gridbot/internal/telemetry"
	"gridbot/internal/vault"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the process YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gridbotd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.System.LogLevel, "gridbotd")
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	telem, err := telemetry.Setup("gridbotd")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if cfg.Telemetry.EnableMetrics {
		go serveMetrics(cfg.Telemetry.MetricsPort, logger)
	}

	store, err := sqlite.Open(cfg.App.DatabasePath)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	venueCfg, ok := cfg.Venues[cfg.App.CurrentVenue]
	if !ok {
		return fmt.Errorf("venue %q not configured", cfg.App.CurrentVenue)
	}

	secrets := vault.New()
	// The HTTP/API layer that would register a user's own venue
	// credentials is out of scope (§1); the process seeds the venue's
	// configured key as the one default tenant's credentials so the
	// engine has at least one working session to manage out of the box.
	secrets.Set(defaultOwnerID, core.Credentials{APIKey: venueCfg.APIKey, APISecret: venueCfg.APISecret})

	pool, err := buildProxyPool(cfg, logger)
	if err != nil {
		return fmt.Errorf("build proxy pool: %w", err)
	}

	callTimeout := time.Duration(cfg.Timing.VenueCallTimeoutSeconds) * time.Second
	bootstrap := httpclient.New(callTimeout, nil) // unsigned calls only: server time, exchangeInfo

	clock := clocksync.New(cfg.App.CurrentVenue, func(ctx context.Context) (time.Time, error) {
		return binance.FetchServerTime(ctx, bootstrap, venueCfg.RESTBaseURL)
	}, logger, nil)

	symbols := symbolcache.New(5*time.Minute, func(ctx context.Context, symbol string) (core.SymbolInfo, error) {
		return binance.FetchSymbolInfo(ctx, bootstrap, venueCfg.RESTBaseURL, symbol)
	})

	adapterCfg := binance.Config{
		RESTBaseURL: venueCfg.RESTBaseURL,
		WSBaseURL:   venueCfg.WSBaseURL,
		CallTimeout: callTimeout,
	}
	gateways := newGatewayCache(adapterCfg, clock, symbols, secrets, pool, logger)
	gatewayFor := gateways.get

	ctrl := bot.New(store, gatewayFor, cfg.Defaults.SafetyFeePercent, logger, nil)

	reconcilePool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "reconciler", MaxWorkers: 8}, logger)
	rs := reconciler.New(store, gatewayFor, ctrl.HandleFill, ctrl, reconcilePool, logger, nil)

	ingestPool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "fill-ingestor", MaxWorkers: 16}, logger)
	ing := fillingestor.New(ingestPool, venueOrderLookup(store), ctrl.HandleFill, nil, logger, nil)

	fallback := oracle.FallbackConfig{
		BandPercent: cfg.Defaults.FallbackBandPercent,
		GridLevels:  cfg.Defaults.FallbackGridLevels,
		ProfitPct:   cfg.Defaults.FallbackProfitPct,
	}
	defaultGateway, err := gatewayFor(context.Background(), defaultOwnerID)
	if err != nil {
		return fmt.Errorf("resolve default gateway: %w", err)
	}
	advisor := oracle.New(defaultGateway, nil, fallback, callTimeout, logger)

	eng := engine.New(
		store, gatewayFor, ctrl, rs, ing, advisor,
		[]*clocksync.Sync{clock},
		time.Duration(cfg.Timing.ReconcileTickSeconds)*time.Second,
		logger,
	)

	return serve(eng, time.Duration(cfg.System.ShutdownGraceSeconds)*time.Second, logger)
}

// defaultOwnerID names the single tenant cmd/gridbotd provisions out of
// the box, since onboarding additional users is the out-of-scope HTTP
// layer's job (§1), not this process's.
const defaultOwnerID = "default"

// serve runs the engine under an errgroup, cancelling on SIGINT/SIGTERM
// and giving it grace before the process exits regardless.
func serve(eng *engine.Engine, grace time.Duration, logger core.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	<-ctx.Done()
	logger.Info("shutdown signal received, draining", "grace", grace)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		logger.Warn("shutdown grace period elapsed, exiting")
		return nil
	}
}

func serveMetrics(port int, logger core.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func buildProxyPool(cfg *config.Config, logger core.Logger) (*proxypool.Pool, error) {
	if len(cfg.Proxy.Endpoints) == 0 {
		return nil, nil
	}
	base := time.Duration(cfg.Proxy.CooldownBaseSeconds) * time.Second
	maxCooldown := time.Duration(cfg.Proxy.CooldownMaxSeconds) * time.Second
	probe := func(ctx context.Context, endpoint string) error { return nil }
	return proxypool.New(cfg.Proxy.Endpoints, base, maxCooldown, probe, logger, nil), nil
}

// gatewayCache lazily builds and memoizes one binance.Adapter per user,
// since an Adapter carries per-user signed-request state but the clock
// offset and symbol metadata caches it wraps are venue-wide singletons.
type gatewayCache struct {
	cfg     binance.Config
	clock   *clocksync.Sync
	symbols *symbolcache.Cache
	secrets core.SecretVault
	pool    *proxypool.Pool
	logger  core.Logger

	mu       sync.Mutex
	adapters map[string]*binance.Adapter
}

func newGatewayCache(cfg binance.Config, clock *clocksync.Sync, symbols *symbolcache.Cache, secrets core.SecretVault, pool *proxypool.Pool, logger core.Logger) *gatewayCache {
	return &gatewayCache{
		cfg:      cfg,
		clock:    clock,
		symbols:  symbols,
		secrets:  secrets,
		pool:     pool,
		logger:   logger,
		adapters: make(map[string]*binance.Adapter),
	}
}

func (g *gatewayCache) get(ctx context.Context, userID string) (core.ExchangeGateway, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if a, ok := g.adapters[userID]; ok {
		return a, nil
	}

	creds, err := g.secrets.CredentialsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", userID, err)
	}

	cfg := g.cfg
	cfg.APIKey = creds.APIKey
	cfg.APISecret = creds.APISecret

	if g.pool != nil {
		cfg.ProxyPool = g.pool
		cfg.UserID = userID
		endpoint, err := g.pool.Acquire(ctx, userID)
		if err != nil {
			g.logger.Warn("no proxy endpoint available, connecting directly", "user_id", userID, "error", err)
		} else {
			cfg.ProxyURL = endpoint
		}
		// The Adapter reports its own proxy failures and rebinds in
		// place (§4.1, §4.7); evicting it here too means the next
		// gatewayCache.get for this user picks up a fresh Adapter built
		// against whatever proxy it just rebound to, instead of this
		// memoized instance going stale if it's ever replaced outright.
		cfg.OnProxyRebind = func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.adapters, userID)
		}
	}

	a := binance.New(cfg, g.clock, g.symbols, g.logger)
	g.adapters[userID] = a
	return a, nil
}

// venueOrderLookup resolves a push-stream fill's (userID, symbol,
// venueOrderID) triple to the owning bot by scanning that user's bots:
// bot counts per user are small enough that a linear scan beats adding a
// secondary index to the Persistence Store interface for this alone.
func venueOrderLookup(store core.PersistenceStore) fillingestor.BotLookup {
	return func(ctx context.Context, userID, symbol, venueOrderID string) (string, bool) {
		bots, err := store.ListBots(ctx, userID)
		if err != nil {
			return "", false
		}
		for _, b := range bots {
			if b.Symbol != symbol {
				continue
			}
			orders, err := store.ListOrders(ctx, b.ID)
			if err != nil {
				continue
			}
			for _, o := range orders {
				if o.VenueID == venueOrderID {
					return b.ID, true
				}
			}
		}
		return "", false
	}
}
