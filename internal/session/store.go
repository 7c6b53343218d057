// Package session owns the live sessions of the service: a registry keyed
// by short codes, and the per-session synchronizer that serializes client
// commands against the authoritative match.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dartcounter/dartcounter/internal/match"
)

// ErrNotFound is returned for lookups of unknown session codes.
var ErrNotFound = errors.New("session not found")

// CodeLength is the fixed length of session codes.
const CodeLength = 6

// codeAlphabet omits easily-confused characters (I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 100

// SnapshotPublisher receives every broadcast snapshot for delivery outside
// the process. Implementations must not block for long; publishing happens
// on the command path.
type SnapshotPublisher interface {
	Publish(snap match.Snapshot) error
}

// Store maps session codes to live sessions. It is safe for concurrent use;
// mutation of any one match stays single-writer because each Session
// serializes its own commands.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	clock     clockwork.Clock
	ttl       time.Duration
	publisher SnapshotPublisher
}

// NewStore creates an empty registry. ttl bounds session inactivity before
// the reaper reclaims it; publisher may be nil.
func NewStore(clock clockwork.Clock, ttl time.Duration, publisher SnapshotPublisher) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		clock:     clock,
		ttl:       ttl,
		publisher: publisher,
	}
}

// Create validates the match parameters, allocates a fresh collision-free
// code and registers a new session in WAITING.
func (s *Store) Create(playerNames []string, startingScore int, rule match.CheckoutRule) (*Session, error) {
	m, err := match.New(playerNames, startingScore, rule)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.generateCodeLocked()
	if err != nil {
		return nil, err
	}

	sess := newSession(code, m, s.clock, s.publisher)
	s.sessions[code] = sess

	log.Info().
		Str("session_code", code).
		Int("players", len(playerNames)).
		Int("starting_score", startingScore).
		Str("checkout_rule", string(rule)).
		Msg("session created")
	return sess, nil
}

// Get looks up a session by code. The code is normalized before lookup;
// malformed codes fail without touching the registry.
func (s *Store) Get(code string) (*Session, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, normalized)
	}
	return sess, nil
}

// Delete removes a session and disconnects its subscribers.
func (s *Store) Delete(code string) error {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sess, ok := s.sessions[normalized]
	if ok {
		delete(s.sessions, normalized)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, normalized)
	}
	sess.close()
	log.Info().Str("session_code", normalized).Msg("session deleted")
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunReaper sweeps idle sessions until the context is cancelled. A session
// is idle once no command, join or subscription change has touched it for
// the store's TTL.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.reapIdle()
		}
	}
}

func (s *Store) reapIdle() {
	now := s.clock.Now()

	s.mu.Lock()
	var reaped []*Session
	for code, sess := range s.sessions {
		if now.Sub(sess.lastActive()) >= s.ttl {
			delete(s.sessions, code)
			reaped = append(reaped, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range reaped {
		sess.close()
		log.Info().Str("session_code", sess.Code).Msg("idle session reaped")
	}
}

// NormalizeCode uppercases a client-supplied code and validates its length
// before any lookup happens.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: session code must be %d characters", match.ErrValidation, CodeLength)
	}
	return code, nil
}

func (s *Store) generateCodeLocked() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, taken := s.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("could not generate unique session code")
}

func randomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// The alphabet has 32 characters, so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
