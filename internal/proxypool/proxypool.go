// Package proxypool implements the process-wide, stateful Proxy Pool
// (§4.7): sticky per-user assignment to a healthy egress endpoint, with
// cooldown-on-failure and exponential backoff.
package proxypool

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
)

// FailureKind is a reported proxy failure class (§4.7).
type FailureKind string

const (
	FailureRegionBlock  FailureKind = "REGION_BLOCK"
	FailureConnectRefused FailureKind = "CONNECT_REFUSED"
	FailureDNSFail      FailureKind = "DNS_FAIL"
	FailureTimeout      FailureKind = "TIMEOUT"
	FailureRateLimit    FailureKind = "RATE_LIMIT"
)

type proxyState struct {
	endpoint            string
	cooling             bool
	cooldownUntil       time.Time
	consecutiveFailures int
}

// ProbeFunc synthetically checks whether a cooled-down proxy has recovered,
// grounded on §4.7's "synthetic probe against the venue's exchangeInfo
// endpoint".
type ProbeFunc func(ctx context.Context, endpoint string) error

// Pool is the mutex-protected, process-wide proxy registry.
type Pool struct {
	mu         sync.Mutex
	proxies    []*proxyState
	assignment map[string]string // userID -> endpoint
	nextRR     int

	baseCooldown time.Duration
	maxCooldown  time.Duration
	probe        ProbeFunc

	logger  core.Logger
	metrics poolMetrics
}

type poolMetrics interface {
	SetProxyCooldown(endpoint string, cooling bool)
}

type noopMetrics struct{}

func (noopMetrics) SetProxyCooldown(string, bool) {}

// New builds a Pool from an ordered list of egress endpoints.
func New(endpoints []string, baseCooldown, maxCooldown time.Duration, probe ProbeFunc, logger core.Logger, metrics poolMetrics) *Pool {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	proxies := make([]*proxyState, 0, len(endpoints))
	for _, e := range endpoints {
		proxies = append(proxies, &proxyState{endpoint: e})
	}
	return &Pool{
		proxies:      proxies,
		assignment:   make(map[string]string),
		baseCooldown: baseCooldown,
		maxCooldown:  maxCooldown,
		probe:        probe,
		logger:       logger.With("component", "proxy_pool"),
		metrics:      metrics,
	}
}

// Acquire returns userId's sticky proxy, assigning the next healthy one
// round-robin on first request or after reassignment.
func (p *Pool) Acquire(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return "", apperrors.ErrProxyUnavailable
	}

	if endpoint, ok := p.assignment[userID]; ok {
		if st := p.find(endpoint); st != nil && !p.isCooling(st) {
			return endpoint, nil
		}
	}

	return p.assignNextHealthyLocked(userID)
}

func (p *Pool) assignNextHealthyLocked(userID string) (string, error) {
	n := len(p.proxies)
	for i := 0; i < n; i++ {
		idx := (p.nextRR + i) % n
		st := p.proxies[idx]
		if !p.isCooling(st) {
			p.nextRR = (idx + 1) % n
			p.assignment[userID] = st.endpoint
			return st.endpoint, nil
		}
	}
	return "", apperrors.ErrProxyUnavailable
}

func (p *Pool) isCooling(st *proxyState) bool {
	if !st.cooling {
		return false
	}
	if time.Now().Before(st.cooldownUntil) {
		return true
	}
	// Cooldown elapsed; the proxy stays "cooling" in bookkeeping terms
	// until a probe clears it, per §4.7.
	if p.probe == nil {
		st.cooling = false
		p.metrics.SetProxyCooldown(st.endpoint, false)
		return false
	}
	if err := p.probe(context.Background(), st.endpoint); err != nil {
		st.cooldownUntil = time.Now().Add(p.baseCooldown)
		return true
	}
	st.cooling = false
	st.consecutiveFailures = 0
	p.metrics.SetProxyCooldown(st.endpoint, false)
	return false
}

// Report records a failure of kind for endpoint; on a listed kind the
// proxy is cooled down (exponential backoff) and callers of Acquire get a
// different proxy on their next call.
func (p *Pool) Report(ctx context.Context, userID, endpoint string, kind FailureKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.find(endpoint)
	if st == nil {
		return
	}

	switch kind {
	case FailureRegionBlock, FailureConnectRefused, FailureDNSFail, FailureTimeout, FailureRateLimit:
	default:
		return
	}

	st.consecutiveFailures++
	st.cooling = true
	backoff := p.baseCooldown * time.Duration(1<<uint(minInt(st.consecutiveFailures-1, 10)))
	if backoff > p.maxCooldown {
		backoff = p.maxCooldown
	}
	st.cooldownUntil = time.Now().Add(backoff)
	p.metrics.SetProxyCooldown(endpoint, true)

	p.logger.Warn("proxy cooled down", "endpoint", endpoint, "kind", kind, "cooldown", backoff)

	// Reassign this user away from the failing proxy immediately.
	if p.assignment[userID] == endpoint {
		delete(p.assignment, userID)
	}
}

// Release drops a user's sticky assignment (process/user teardown).
func (p *Pool) Release(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.assignment, userID)
}

func (p *Pool) find(endpoint string) *proxyState {
	for _, st := range p.proxies {
		if st.endpoint == endpoint {
			return st
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Status is a diagnostic snapshot of one proxy, for dashboards/tests.
type Status struct {
	Endpoint            string
	Cooling             bool
	CooldownUntil       time.Time
	ConsecutiveFailures int
}

// Snapshot returns the current state of every proxy.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.proxies))
	for _, st := range p.proxies {
		out = append(out, Status{
			Endpoint:            st.endpoint,
			Cooling:             st.cooling,
			CooldownUntil:       st.cooldownUntil,
			ConsecutiveFailures: st.consecutiveFailures,
		})
	}
	return out
}
