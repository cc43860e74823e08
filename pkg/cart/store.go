// Package cart holds the live shopping cart state: the raw code+quantity
// snapshots received from the agent, and the reconciled, priced view
// produced by joining them against the product catalog.
package cart

import (
	"sync"

	"github.com/darkwings/voicecart/pkg/live/protocol"
)

// Store owns the latest raw cart snapshot and the cart-view visibility flag.
// Each snapshot replaces the previous one wholesale; visibility gates
// whether reconciliation fetches run at all.
type Store struct {
	mu      sync.Mutex
	raw     protocol.RawCart
	visible bool
	subs    []func()
}

// NewStore creates an empty, hidden store.
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers fn to run after every raw-cart or visibility change.
// Callbacks run synchronously on the mutating goroutine, outside the lock.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Replace installs a full cart snapshot, discarding the previous one.
func (s *Store) Replace(raw protocol.RawCart) {
	s.mu.Lock()
	s.raw = append(protocol.RawCart(nil), raw...)
	s.mu.Unlock()
	s.notify()
}

// Clear drops the raw cart.
func (s *Store) Clear() {
	s.Replace(nil)
}

// SetVisible flips the cart-view visibility flag.
func (s *Store) SetVisible(visible bool) {
	s.mu.Lock()
	changed := s.visible != visible
	s.visible = visible
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Raw returns a copy of the current raw cart.
func (s *Store) Raw() protocol.RawCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(protocol.RawCart(nil), s.raw...)
}

// Visible reports the visibility flag.
func (s *Store) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *Store) notify() {
	s.mu.Lock()
	subs := append(([]func())(nil), s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
