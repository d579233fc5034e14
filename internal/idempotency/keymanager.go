// Package idempotency implements the client-side idempotency key
// lifecycle: one key per submission session, generated lazily, replaced
// only after the holder observed a successful submission.
package idempotency

import (
	"sync"

	"github.com/google/uuid"
)

// state models the key lifecycle explicitly. A key is active while a
// submission session is in flight; Rotate marks it pending-rotation so
// the next Current call issues a fresh key.
type state int

const (
	stateActive state = iota
	statePendingRotation
)

// KeyManager issues one idempotency key per submission attempt session.
// Retries of a failed submission reuse the same key, which is what makes
// them safe to repeat; the key changes only after a confirmed success.
type KeyManager struct {
	mu    sync.Mutex
	key   string
	state state
}

// NewKeyManager returns a manager with no key yet; the first Current
// call generates one.
func NewKeyManager() *KeyManager {
	return &KeyManager{state: statePendingRotation}
}

// Current returns the active key, generating a fresh one if none is
// active. Repeated calls between rotations return the same key.
func (m *KeyManager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == statePendingRotation || m.key == "" {
		m.key = uuid.NewString()
		m.state = stateActive
	}
	return m.key
}

// Rotate discards the active key. Call it only after the in-flight
// submission was confirmed successful (a created response or a
// duplicate-of-mine replay both count). After a failed submission the
// key must not be rotated, so a retry reuses it.
func (m *KeyManager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = statePendingRotation
}
