package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// PinningDirectory wraps a Directory with trust-on-first-use pinning. The
// first key seen for a user is pinned; a later lookup returning a different
// key fails with ErrKeyPinMismatch until the pin is cleared deliberately.
type PinningDirectory struct {
	inner interfaces.Directory
	log   *slog.Logger

	mu   sync.Mutex
	pins map[interfaces.UserID]string
}

// NewPinningDirectory wraps the given directory.
func NewPinningDirectory(inner interfaces.Directory, log *slog.Logger) *PinningDirectory {
	if log == nil {
		log = slog.Default()
	}
	return &PinningDirectory{
		inner: inner,
		log:   log,
		pins:  make(map[interfaces.UserID]string),
	}
}

// PublicKeyFor resolves through the inner directory and enforces the pin.
func (d *PinningDirectory) PublicKeyFor(ctx context.Context, user interfaces.UserID) (interfaces.PublicKey, error) {
	key, err := d.inner.PublicKeyFor(ctx, user)
	if err != nil {
		return nil, err
	}
	fingerprint := key.Fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()

	pinned, ok := d.pins[user]
	if !ok {
		d.pins[user] = fingerprint
		d.log.Debug("public key pinned", "user", user.String(), "fingerprint", fingerprint)
		return key, nil
	}
	if pinned != fingerprint {
		d.log.Warn("public key changed for pinned user", "user", user.String())
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyPinMismatch, user.String())
	}
	return key, nil
}

// ClearPin drops the pin for a user, accepting whatever key the inner
// directory returns next. Meant for a deliberate key-rotation acknowledgement
// in the UI, never called automatically.
func (d *PinningDirectory) ClearPin(user interfaces.UserID) {
	d.mu.Lock()
	delete(d.pins, user)
	d.mu.Unlock()
}
