// Package audit wraps the Persistence Store's append-only credential
// audit log (§3 KeyAuditEvent): required for trust infrastructure, not
// for trading logic, so it stays a thin recorder rather than part of
// the Bot Controller's hot path.
package audit

import (
	"context"
	"time"

	"gridbot/internal/core"

	"github.com/google/uuid"
)

// Log appends KeyAuditEvents to the Persistence Store.
type Log struct {
	store core.PersistenceStore
}

// New builds a Log over store.
func New(store core.PersistenceStore) *Log {
	return &Log{store: store}
}

// Record appends one credential action event.
func (l *Log) Record(ctx context.Context, userID string, action core.KeyAuditAction, clientAddr, outcome string) error {
	return l.store.AppendKeyAuditEvent(ctx, core.KeyAuditEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		ClientAddr: clientAddr,
		Outcome:    outcome,
		Timestamp:  time.Now(),
	})
}

// History returns userID's full credential audit trail.
func (l *Log) History(ctx context.Context, userID string) ([]core.KeyAuditEvent, error) {
	return l.store.ListKeyAuditEvents(ctx, userID)
}
