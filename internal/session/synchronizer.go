package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dartcounter/dartcounter/internal/match"
)

// Action names the commands a client may submit over the streaming channel.
type Action string

const (
	ActionThrow Action = "throw"
	ActionUndo  Action = "undo"
	ActionNext  Action = "next"
	ActionReset Action = "reset"
	ActionStart Action = "start"
	ActionSync  Action = "sync"
)

// Command is one client-submitted operation. A throw carries either
// base+multiplier or precomputed points, plus the version the client last
// observed.
type Command struct {
	Action          Action `json:"action"`
	Base            *int   `json:"base,omitempty"`
	Multiplier      *int   `json:"multiplier,omitempty"`
	Points          *int   `json:"points,omitempty"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// subscriberBuffer is the per-subscriber snapshot queue depth. A subscriber
// that falls this far behind is dropped rather than delivered a gap.
const subscriberBuffer = 256

// Subscriber is one receiving end of a session's snapshot stream. C is
// closed on unsubscribe, session deletion, or when the subscriber is too
// slow to keep up.
type Subscriber struct {
	ID uuid.UUID
	C  chan match.Snapshot
}

// Session binds a code to exactly one live match and the set of subscribed
// clients. All commands are applied under one mutex, so no two commands for
// the same session ever interleave and subscribers observe snapshots in
// production order.
type Session struct {
	Code string

	mu          sync.Mutex
	match       *match.Match
	subscribers map[uuid.UUID]*Subscriber
	touched     time.Time
	closed      bool

	clock     clockwork.Clock
	publisher SnapshotPublisher
}

func newSession(code string, m *match.Match, clock clockwork.Clock, publisher SnapshotPublisher) *Session {
	return &Session{
		Code:        code,
		match:       m,
		subscribers: make(map[uuid.UUID]*Subscriber),
		touched:     clock.Now(),
		clock:       clock,
		publisher:   publisher,
	}
}

// Apply executes one command against the authoritative match. On success
// the resulting snapshot is broadcast to every subscriber and returned; on
// failure nothing is mutated or broadcast, and the returned snapshot is an
// error snapshot for the submitting client alone.
func (s *Session) Apply(cmd Command) (match.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.clock.Now()

	message, err := s.applyLocked(cmd)
	if err != nil {
		log.Debug().
			Str("session_code", s.Code).
			Str("action", string(cmd.Action)).
			Err(err).
			Msg("command rejected")
		return match.Snapshot{
			SessionCode: s.Code,
			Status:      s.match.Status(),
			Version:     s.match.Version(),
			Message:     match.ErrorPrefix + err.Error(),
		}, err
	}

	snap := s.match.Snapshot(s.Code, message)
	s.broadcastLocked(snap)
	return snap, nil
}

func (s *Session) applyLocked(cmd Command) (string, error) {
	switch cmd.Action {
	case ActionThrow:
		return s.applyThrowLocked(cmd)
	case ActionUndo:
		if !s.match.Undo() {
			// Empty history is a no-op, not an error; tell the table so.
			return "Nothing to undo", nil
		}
		return "Undo successful", nil
	case ActionNext:
		if err := s.match.AdvanceTurn(); err != nil {
			return "", err
		}
		return "", nil
	case ActionReset:
		s.match.Reset()
		return "Game reset", nil
	case ActionStart:
		if err := s.match.Start(); err != nil {
			return "", err
		}
		return "Game started!", nil
	case ActionSync:
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", match.ErrValidation, cmd.Action)
	}
}

func (s *Session) applyThrowLocked(cmd Command) (string, error) {
	dart, err := dartFromCommand(cmd)
	if err != nil {
		return "", err
	}

	// A stale expectedVersion means the client was behind; the command is
	// still applied against current state, last write wins per session.
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != s.match.Version() {
		log.Debug().
			Str("session_code", s.Code).
			Int64("expected_version", *cmd.ExpectedVersion).
			Int64("current_version", s.match.Version()).
			Msg("throw submitted against stale version")
	}

	outcome, err := s.match.RecordThrow(dart)
	if err != nil {
		return "", err
	}

	switch outcome {
	case match.OutcomeBust:
		return "BUST! Turn reverted.", nil
	case match.OutcomeWin:
		return s.match.Winner() + " wins!", nil
	default:
		return "", nil
	}
}

func dartFromCommand(cmd Command) (match.Dart, error) {
	if cmd.Base != nil {
		multiplier := 1
		if cmd.Multiplier != nil {
			multiplier = *cmd.Multiplier
		}
		return match.NewDart(*cmd.Base, multiplier)
	}
	if cmd.Points != nil {
		return match.DartFromPoints(*cmd.Points)
	}
	return match.Dart{}, fmt.Errorf("%w: throw needs base/multiplier or points", match.ErrValidation)
}

// Subscribe registers a new subscriber and queues the latest snapshot so
// the client starts from current state with no gap before later pushes.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.New(),
		C:  make(chan match.Snapshot, subscriberBuffer),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.C)
		return sub
	}
	s.subscribers[sub.ID] = sub
	s.touched = s.clock.Now()
	sub.C <- s.match.Snapshot(s.Code, "")

	log.Debug().
		Str("session_code", s.Code).
		Str("subscriber_id", sub.ID.String()).
		Int("subscribers", len(s.subscribers)).
		Msg("subscriber added")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. In-flight
// commands complete and broadcast regardless.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub.ID]; !ok {
		return
	}
	delete(s.subscribers, sub.ID)
	close(sub.C)

	log.Debug().
		Str("session_code", s.Code).
		Str("subscriber_id", sub.ID.String()).
		Int("subscribers", len(s.subscribers)).
		Msg("subscriber removed")
}

// Snapshot returns the current authoritative state without mutating it.
func (s *Session) Snapshot() match.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match.Snapshot(s.Code, "")
}

// Status returns the match's lifecycle phase.
func (s *Session) Status() match.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match.Status()
}

// Rule returns the checkout rule of the session's match.
func (s *Session) Rule() match.CheckoutRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match.Rule()
}

// Touch records client activity that is not a command, e.g. a REST join.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.clock.Now()
}

// SubscriberCount returns the number of connected subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub.C)
	}
}

// broadcastLocked fans the snapshot out in production order. A subscriber
// whose buffer is full would otherwise observe a gap, so it is dropped and
// must re-fetch state on reconnect.
func (s *Session) broadcastLocked(snap match.Snapshot) {
	for id, sub := range s.subscribers {
		select {
		case sub.C <- snap:
		default:
			delete(s.subscribers, id)
			close(sub.C)
			log.Warn().
				Str("session_code", s.Code).
				Str("subscriber_id", id.String()).
				Msg("subscriber buffer full, dropping subscriber")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(snap); err != nil {
			log.Error().
				Err(err).
				Str("session_code", s.Code).
				Int64("version", snap.Version).
				Msg("failed to publish snapshot")
		}
	}
}
