package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dartcounter/dartcounter/internal/match"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return NewStore(clock, 30*time.Minute, nil), clock
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already normalized", raw: "ABC234", want: "ABC234"},
		{name: "lowercase", raw: "abc234", want: "ABC234"},
		{name: "surrounding whitespace", raw: "  abc234 ", want: "ABC234"},
		{name: "too short", raw: "ABC23", wantErr: true},
		{name: "too long", raw: "ABC2345", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCode(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, match.ErrValidation) {
					t.Fatalf("NormalizeCode(%q) error = %v, want ErrValidation", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeCode(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeCode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	sess, err := store.Create([]string{"Alice", "Bob"}, match.StartingScore501, match.RuleDoubleOut)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.Code) != CodeLength {
		t.Fatalf("code %q has length %d, want %d", sess.Code, len(sess.Code), CodeLength)
	}
	for _, c := range sess.Code {
		if !containsRune(codeAlphabet, c) {
			t.Fatalf("code %q contains %q outside the alphabet", sess.Code, c)
		}
	}

	got, err := store.Get(sess.Code)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Fatal("Get returned a different session")
	}

	snap := got.Snapshot()
	if snap.Status != match.StatusWaiting {
		t.Fatalf("new session status = %v, want WAITING", snap.Status)
	}
	if snap.StartingScore != match.StartingScore501 {
		t.Fatalf("starting score = %d, want 501", snap.StartingScore)
	}
}

func TestStoreCreateRejectsBadParams(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Create([]string{"Solo"}, match.StartingScore301, match.RuleDoubleOut); !errors.Is(err, match.ErrValidation) {
		t.Fatalf("single player error = %v, want ErrValidation", err)
	}
	if _, err := store.Create([]string{"A", "B"}, 400, match.RuleDoubleOut); !errors.Is(err, match.ErrValidation) {
		t.Fatalf("bad score error = %v, want ErrValidation", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store has %d sessions after failed creates, want 0", store.Len())
	}
}

func TestStoreGetUnknownCode(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get("ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get("nope"); !errors.Is(err, match.ErrValidation) {
		t.Fatalf("malformed code error = %v, want ErrValidation", err)
	}
}

func TestStoreDeleteClosesSubscribers(t *testing.T) {
	store, _ := newTestStore(t)

	sess, err := store.Create([]string{"Alice", "Bob"}, match.StartingScore301, match.RuleDoubleOut)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub := sess.Subscribe()
	<-sub.C // initial snapshot

	if err := store.Delete(sess.Code); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("subscriber channel still open after delete")
	}
	if _, err := store.Get(sess.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(sess.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestReaperReclaimsIdleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock, 30*time.Minute, nil)

	idle, err := store.Create([]string{"Alice", "Bob"}, match.StartingScore301, match.RuleDoubleOut)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	busy, err := store.Create([]string{"Carol", "Dave"}, match.StartingScore301, match.RuleDoubleOut)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.RunReaper(ctx, time.Minute)
	}()
	clock.BlockUntil(1)

	// Keep one session warm past the idle threshold.
	clock.Advance(20 * time.Minute)
	busy.Touch()
	clock.Advance(11 * time.Minute)

	clock.BlockUntil(1)
	deadline := time.After(2 * time.Second)
	for store.Len() != 1 {
		select {
		case <-deadline:
			t.Fatalf("store has %d sessions, want 1", store.Len())
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := store.Get(idle.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle session still present: %v", err)
	}
	if _, err := store.Get(busy.Code); err != nil {
		t.Fatalf("active session reaped: %v", err)
	}

	cancel()
	<-done
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
