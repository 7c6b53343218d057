// Package mirror keeps a client-side optimistic view of a match: darts the
// device has entered but not yet seen confirmed by an authoritative snapshot.
package mirror

import (
	"fmt"
	"sync"

	"github.com/dartcounter/dartcounter/internal/checkout"
	"github.com/dartcounter/dartcounter/internal/match"
)

// maxPending matches the darts of one turn; a device never has more than a
// turn's worth of unconfirmed input in flight.
const maxPending = 3

// Mirror tracks the latest authoritative snapshot plus the locally entered
// darts still awaiting confirmation. It is safe for concurrent use.
type Mirror struct {
	mu       sync.Mutex
	rule     match.CheckoutRule
	latest   match.Snapshot
	hasState bool
	pending  []string
}

// New creates a mirror for a session played under the given checkout rule.
func New(rule match.CheckoutRule) *Mirror {
	return &Mirror{rule: rule}
}

// RecordLocal notes a dart the device just entered, before the server
// confirms it. A full turn's worth of unconfirmed darts blocks further input
// until a snapshot arrives.
func (m *Mirror) RecordLocal(d match.Dart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) >= maxPending {
		return fmt.Errorf("%w: %d darts awaiting confirmation", match.ErrValidation, len(m.pending))
	}
	m.pending = append(m.pending, d.Label())
	return nil
}

// ApplySnapshot absorbs an authoritative snapshot. Error snapshots change
// nothing: they confirm no dart and carry no new state. A turn change or a
// dart-count decrease means the in-flight darts were resolved (confirmed,
// busted or undone), so the pending list is cleared wholesale.
func (m *Mirror) ApplySnapshot(snap match.Snapshot) {
	if snap.IsError() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasState {
		if snap.CurrentPlayerIndex != m.latest.CurrentPlayerIndex || snap.DartsThrown < m.latest.DartsThrown {
			m.pending = nil
		} else if n := snap.DartsThrown - m.latest.DartsThrown; n > 0 {
			// Same turn moved forward: the oldest pending darts are confirmed.
			if n >= len(m.pending) {
				m.pending = nil
			} else {
				m.pending = append([]string(nil), m.pending[n:]...)
			}
		}
	}
	m.latest = snap
	m.hasState = true
}

// Pending returns the unconfirmed dart labels in entry order.
func (m *Mirror) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.pending))
	copy(out, m.pending)
	return out
}

// Latest returns the last authoritative snapshot and whether one has arrived.
func (m *Mirror) Latest() (match.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasState
}

// Suggestion returns the checkout sequence for the current player's
// authoritative score and the darts left in the turn, or false when no
// snapshot has arrived, the match is not active, or no finish exists.
func (m *Mirror) Suggestion() ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasState || m.latest.Status != match.StatusActive {
		return nil, false
	}
	if m.latest.CurrentPlayerIndex >= len(m.latest.Players) {
		return nil, false
	}
	score := m.latest.Players[m.latest.CurrentPlayerIndex].Score
	return checkout.Suggest(score, maxPending-m.latest.DartsThrown, m.rule)
}
