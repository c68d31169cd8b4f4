package clocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridbot/internal/logging"
)

var errFailed = errors.New("server time unavailable")

func TestResyncComputesSignedOffset(t *testing.T) {
	serverTime := func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(3 * time.Second), nil
	}
	s := New("binance", serverTime, logging.Global(), nil)

	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	offset := s.Offset()
	if offset < 2*time.Second || offset > 4*time.Second {
		t.Errorf("expected offset close to +3s, got %v", offset)
	}
	if s.LastSynced().IsZero() {
		t.Error("expected LastSynced to be set after a successful resync")
	}
}

func TestNowAppliesOffset(t *testing.T) {
	serverTime := func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(time.Hour), nil
	}
	s := New("binance", serverTime, logging.Global(), nil)
	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	drift := s.Now().Sub(time.Now())
	if drift < 59*time.Minute || drift > 61*time.Minute {
		t.Errorf("expected Now() to reflect the ~1h offset, got drift %v", drift)
	}
}

func TestResyncLeavesOffsetUnchangedOnError(t *testing.T) {
	calls := 0
	serverTime := func(ctx context.Context) (time.Time, error) {
		calls++
		return time.Now(), errFailed
	}
	s := New("binance", serverTime, logging.Global(), nil)

	if err := s.Resync(context.Background()); err == nil {
		t.Fatal("expected the injected error to surface")
	}
	if !s.LastSynced().IsZero() {
		t.Error("a failed resync must not advance LastSynced")
	}
	if s.Offset() != 0 {
		t.Error("a failed resync must not change the offset")
	}
}
