// Package memory implements core.PersistenceStore in memory, for tests.
package memory

import (
	"context"
	"sync"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
)

// Store holds every record in plain Go maps guarded by one mutex; there
// is no concurrency benefit to sharding it further at this scale.
type Store struct {
	mu sync.RWMutex

	bots              map[string]core.Bot
	orders            map[string]core.Order
	ordersByBot       map[string][]string
	performance       map[string]core.PerformanceSnapshot
	keyAuditByUser    map[string][]core.KeyAuditEvent
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		bots:           make(map[string]core.Bot),
		orders:         make(map[string]core.Order),
		ordersByBot:    make(map[string][]string),
		performance:    make(map[string]core.PerformanceSnapshot),
		keyAuditByUser: make(map[string][]core.KeyAuditEvent),
	}
}

func (s *Store) SaveBot(ctx context.Context, b core.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
	return nil
}

func (s *Store) GetBot(ctx context.Context, botID string) (core.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[botID]
	if !ok {
		return core.Bot{}, apperrors.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBots(ctx context.Context, ownerID string) ([]core.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Bot
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListActiveBots returns every bot still under management: active and
// paused. Stopped bots are excluded, but paused ones stay so the
// Recovery Service can still reconcile them on startup/manual triggers
// and only skip them on the periodic tick (SPEC_FULL.md §4.2c).
func (s *Store) ListActiveBots(ctx context.Context) ([]core.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Bot
	for _, b := range s.bots {
		if b.State != core.BotStopped && b.State != core.BotError {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.bots, botID)
	for _, orderID := range s.ordersByBot[botID] {
		delete(s.orders, orderID)
	}
	delete(s.ordersByBot, botID)
	delete(s.performance, botID)
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, o core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveOrderLocked(o)
	return nil
}

func (s *Store) saveOrderLocked(o core.Order) {
	if _, exists := s.orders[o.LocalID]; !exists {
		s.ordersByBot[o.BotID] = append(s.ordersByBot[o.BotID], o.LocalID)
	}
	s.orders[o.LocalID] = o
}

func (s *Store) GetOrder(ctx context.Context, localID string) (core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[localID]
	if !ok {
		return core.Order{}, apperrors.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, botID string) ([]core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.ordersByBot[botID]
	out := make([]core.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.orders[id])
	}
	return out, nil
}

// SaveFillTransaction persists the bot's updated statistics and every
// touched order as a single critical section, standing in for the real
// store's SQL transaction (§5 shared-resource policy).
func (s *Store) SaveFillTransaction(ctx context.Context, bot core.Bot, orders []core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[bot.ID] = bot
	for _, o := range orders {
		s.saveOrderLocked(o)
	}
	return nil
}

func (s *Store) SavePerformanceSnapshot(ctx context.Context, p core.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performance[p.BotID] = p
	return nil
}

func (s *Store) GetPerformanceSnapshot(ctx context.Context, botID string) (core.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.performance[botID]
	if !ok {
		return core.PerformanceSnapshot{}, apperrors.ErrNotFound
	}
	return p, nil
}

func (s *Store) AppendKeyAuditEvent(ctx context.Context, e core.KeyAuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyAuditByUser[e.UserID] = append(s.keyAuditByUser[e.UserID], e)
	return nil
}

func (s *Store) ListKeyAuditEvents(ctx context.Context, userID string) ([]core.KeyAuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.KeyAuditEvent{}, s.keyAuditByUser[userID]...), nil
}

func (s *Store) Close() error { return nil }
