package match

import "strings"

// ErrorPrefix marks a snapshot message as an error so subscribers can tell
// failures apart from normal state pushes on the same channel.
const ErrorPrefix = "Error: "

// PlayerState is the wire form of one player inside a snapshot.
type PlayerState struct {
	Name         string `json:"name"`
	Score        int    `json:"score"`
	CurrentThrow int    `json:"currentThrow"`
	PlayerOrder  int    `json:"playerOrder"`
}

// Snapshot is the immutable, version-stamped representation of match state
// that the synchronizer broadcasts to subscribers.
type Snapshot struct {
	SessionCode        string        `json:"sessionCode"`
	Status             Status        `json:"status"`
	StartingScore      int           `json:"startingScore"`
	Players            []PlayerState `json:"players"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex"`
	DartsThrown        int           `json:"dartsThrown"`
	Version            int64         `json:"version"`
	WinnerName         string        `json:"winnerName,omitempty"`
	Message            string        `json:"message,omitempty"`
}

// IsError reports whether the snapshot carries an error message instead of
// an applied state change.
func (s Snapshot) IsError() bool {
	return strings.HasPrefix(s.Message, ErrorPrefix)
}

// Snapshot renders the current authoritative state under the given session
// code, with an optional human-readable message.
func (m *Match) Snapshot(code, message string) Snapshot {
	players := make([]PlayerState, len(m.players))
	for i, p := range m.players {
		players[i] = PlayerState{
			Name:         p.Name,
			Score:        p.Score,
			CurrentThrow: p.CurrentThrow,
			PlayerOrder:  p.Order,
		}
	}
	return Snapshot{
		SessionCode:        code,
		Status:             m.status,
		StartingScore:      m.startingScore,
		Players:            players,
		CurrentPlayerIndex: m.current,
		DartsThrown:        m.dartsThrown,
		Version:            m.version,
		WinnerName:         m.winner,
		Message:            message,
	}
}
