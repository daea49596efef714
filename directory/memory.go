package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// MemoryDirectory is an in-process Directory fed by explicit registration.
// The engine registers a user's public key after setup; lookups for unknown
// users fail with ErrRecipientNotFound.
type MemoryDirectory struct {
	mu   sync.RWMutex
	keys map[interfaces.UserID]interfaces.PublicKey
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{keys: make(map[interfaces.UserID]interfaces.PublicKey)}
}

// Register records or replaces the public key for a user.
func (d *MemoryDirectory) Register(ctx context.Context, user interfaces.UserID, key interfaces.PublicKey) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: empty public key", interfaces.ErrInvalidKeyFormat)
	}

	stored := make(interfaces.PublicKey, len(key))
	copy(stored, key)

	d.mu.Lock()
	d.keys[user] = stored
	d.mu.Unlock()
	return nil
}

// PublicKeyFor returns the registered key for the user.
func (d *MemoryDirectory) PublicKeyFor(ctx context.Context, user interfaces.UserID) (interfaces.PublicKey, error) {
	d.mu.RLock()
	key, ok := d.keys[user]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecipientNotFound, user.String())
	}

	out := make(interfaces.PublicKey, len(key))
	copy(out, key)
	return out, nil
}
