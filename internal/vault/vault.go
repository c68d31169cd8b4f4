// Package vault provides a core.SecretVault implementation for
// environments where credential storage/encryption is out of scope
// (spec.md §1): an in-memory map the process owner seeds at startup from
// whatever real secret store fronts it.
package vault

import (
	"context"
	"sync"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
)

// InMemory holds plaintext credentials per user for the lifetime of the
// process. It never persists anything; credentials are injected once at
// startup and held only as long as the process runs.
type InMemory struct {
	mu          sync.RWMutex
	credentials map[string]core.Credentials
}

// New builds an empty InMemory vault.
func New() *InMemory {
	return &InMemory{credentials: make(map[string]core.Credentials)}
}

// Set seeds or replaces a user's credentials.
func (v *InMemory) Set(userID string, creds core.Credentials) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credentials[userID] = creds
}

// Remove deletes a user's credentials, e.g. on key revocation.
func (v *InMemory) Remove(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.credentials, userID)
}

func (v *InMemory) CredentialsFor(ctx context.Context, userID string) (core.Credentials, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	creds, ok := v.credentials[userID]
	if !ok {
		return core.Credentials{}, apperrors.ErrNotFound
	}
	return creds, nil
}
