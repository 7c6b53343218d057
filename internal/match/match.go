package match

import (
	"fmt"
)

// Status is the lifecycle phase of a match. Transitions are one-directional
// WAITING → ACTIVE → FINISHED; only Undo and Reset can move a match out of
// FINISHED.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Starting scores supported by the scorer.
const (
	StartingScore301 = 301
	StartingScore501 = 501
)

// maxUndoHistory bounds the undo stack; older records are discarded.
const maxUndoHistory = 64

// dartsPerTurn is fixed by the rules of x01 darts.
const dartsPerTurn = 3

// Player is one participant of a match. Order is the playing-order index and
// never changes for the lifetime of the match.
type Player struct {
	Name         string
	Score        int
	CurrentThrow int
	Order        int
}

// undoRecord captures everything needed to reverse one RecordThrow call,
// including a bust's whole rollback-and-advance, as a single unit.
type undoRecord struct {
	playerIndex  int
	score        int
	currentThrow int
	dartsThrown  int
}

// Match is the authoritative state machine for one darts leg. It is not
// safe for concurrent use; the session synchronizer is its single writer.
type Match struct {
	players       []*Player
	current       int
	dartsThrown   int
	startingScore int
	rule          CheckoutRule
	status        Status
	winner        string
	version       int64
	history       []undoRecord
}

// New creates a match in WAITING with one player per name, all at the
// starting score. At least two unique names are required.
func New(names []string, startingScore int, rule CheckoutRule) (*Match, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 players", ErrValidation)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty player name", ErrValidation)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate player name %q", ErrValidation, name)
		}
		seen[name] = true
	}
	if startingScore != StartingScore301 && startingScore != StartingScore501 {
		return nil, fmt.Errorf("%w: starting score must be 301 or 501, got %d", ErrValidation, startingScore)
	}
	switch rule {
	case "":
		rule = RuleDoubleOut
	case RuleDoubleOut, RuleTripleOut:
	default:
		return nil, fmt.Errorf("%w: unknown checkout rule %q", ErrValidation, rule)
	}

	m := &Match{
		players:       make([]*Player, 0, len(names)),
		startingScore: startingScore,
		rule:          rule,
		status:        StatusWaiting,
	}
	for i, name := range names {
		m.players = append(m.players, &Player{Name: name, Score: startingScore, Order: i})
	}
	return m, nil
}

// Start moves the match from WAITING to ACTIVE.
func (m *Match) Start() error {
	if m.status != StatusWaiting {
		return fmt.Errorf("%w: game already started or finished", ErrInvalidState)
	}
	m.status = StatusActive
	m.version++
	return nil
}

// RecordThrow applies one dart for the active player. On a bust the whole
// turn's points are rolled back and the turn passes on; on a win the match
// finishes; otherwise the score is reduced and the turn advances
// automatically once three darts have been recorded. The returned outcome
// tells the caller which of these happened.
func (m *Match) RecordThrow(d Dart) (Outcome, error) {
	if m.status != StatusActive {
		return OutcomeNormal, fmt.Errorf("%w: game is not active", ErrInvalidState)
	}

	p := m.players[m.current]
	m.pushUndo()

	points, outcome := Evaluate(p.Score, d, m.rule)
	switch outcome {
	case OutcomeBust:
		// Discard everything scored this turn, not just this dart.
		p.Score += p.CurrentThrow
		p.CurrentThrow = 0
		m.advance()
	case OutcomeWin:
		p.Score = 0
		p.CurrentThrow += points
		m.status = StatusFinished
		m.winner = p.Name
	default:
		p.Score -= points
		p.CurrentThrow += points
		m.dartsThrown++
		if m.dartsThrown >= dartsPerTurn {
			m.advance()
		}
	}

	m.version++
	return outcome, nil
}

// Undo reverses the most recent throw, restoring the exact prior player,
// score, turn accrual and dart count. Undoing a finishing throw reactivates
// the match and clears the winner. With empty history it reports false and
// changes nothing.
func (m *Match) Undo() bool {
	if len(m.history) == 0 {
		return false
	}
	rec := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]

	p := m.players[rec.playerIndex]
	p.Score = rec.score
	p.CurrentThrow = rec.currentThrow
	m.current = rec.playerIndex
	m.dartsThrown = rec.dartsThrown

	if m.status == StatusFinished {
		m.status = StatusActive
		m.winner = ""
	}

	m.version++
	return true
}

// AdvanceTurn is the explicit manual skip, independent of the dart count.
func (m *Match) AdvanceTurn() error {
	if m.status != StatusActive {
		return fmt.Errorf("%w: game is not active", ErrInvalidState)
	}
	m.advance()
	m.version++
	return nil
}

// Reset re-seeds the same players at the starting score and puts the match
// straight back into ACTIVE, clearing winner and history. This is the "new
// game" action: the fresh leg keeps the session code.
func (m *Match) Reset() {
	for _, p := range m.players {
		p.Score = m.startingScore
		p.CurrentThrow = 0
	}
	m.current = 0
	m.dartsThrown = 0
	m.status = StatusActive
	m.winner = ""
	m.history = nil
	m.version++
}

// Version is the monotonically increasing change counter. Every successful
// state-changing operation, including Undo, bumps it.
func (m *Match) Version() int64 { return m.version }

// Status returns the current lifecycle phase.
func (m *Match) Status() Status { return m.status }

// Winner returns the winning player's name, set only while FINISHED.
func (m *Match) Winner() string { return m.winner }

// Rule returns the checkout rule the match was created with.
func (m *Match) Rule() CheckoutRule { return m.rule }

// CurrentPlayer returns the active player.
func (m *Match) CurrentPlayer() *Player { return m.players[m.current] }

func (m *Match) pushUndo() {
	p := m.players[m.current]
	if len(m.history) >= maxUndoHistory {
		m.history = m.history[1:]
	}
	m.history = append(m.history, undoRecord{
		playerIndex:  m.current,
		score:        p.Score,
		currentThrow: p.CurrentThrow,
		dartsThrown:  m.dartsThrown,
	})
}

func (m *Match) advance() {
	m.players[m.current].CurrentThrow = 0
	m.current = (m.current + 1) % len(m.players)
	m.dartsThrown = 0
}
