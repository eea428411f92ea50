package domain

import "time"

// TournamentStatus tracks which round of the bracket is being played
type TournamentStatus string

const (
	TournamentQuarterFinals TournamentStatus = "quarter_finals"
	TournamentSemiFinals    TournamentStatus = "semi_finals"
	TournamentFinals        TournamentStatus = "finals"
	TournamentCompleted     TournamentStatus = "completed"
)

// BracketMatch is one node of a single-elimination bracket. Player slots of
// later rounds stay nil until the feeding matches resolve.
type BracketMatch struct {
	ID       string          `json:"id"`
	Ordinal  int             `json:"ordinal"`
	Round    Round           `json:"round"`
	Player1  *PlayerIdentity `json:"player1,omitempty"`
	Player2  *PlayerIdentity `json:"player2,omitempty"`
	WinnerID *int64          `json:"winner_id,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	Walkover bool            `json:"walkover,omitempty"`
}

// Ready reports whether both slots are filled and no winner was recorded
func (m BracketMatch) Ready() bool {
	return m.Player1 != nil && m.Player2 != nil && m.WinnerID == nil
}

// Has reports whether playerID occupies one of the slots
func (m BracketMatch) Has(playerID int64) bool {
	return (m.Player1 != nil && m.Player1.ID == playerID) ||
		(m.Player2 != nil && m.Player2.ID == playerID)
}

// Tournament is an 8-player single-elimination bracket. Players holds the
// seeding order produced by the initial shuffle.
type Tournament struct {
	ID          string           `json:"id"`
	Status      TournamentStatus `json:"status"`
	Players     []PlayerIdentity `json:"players"`
	Matches     []BracketMatch   `json:"matches"`
	Champion    *PlayerIdentity  `json:"champion,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand outside the owning lock
func (t *Tournament) Clone() Tournament {
	c := *t
	c.Players = append([]PlayerIdentity(nil), t.Players...)
	c.Matches = make([]BracketMatch, len(t.Matches))
	for i, m := range t.Matches {
		c.Matches[i] = m.Clone()
	}
	if t.Champion != nil {
		champ := *t.Champion
		c.Champion = &champ
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}

// Clone returns a deep copy of m
func (m BracketMatch) Clone() BracketMatch {
	if m.Player1 != nil {
		p := *m.Player1
		m.Player1 = &p
	}
	if m.Player2 != nil {
		p := *m.Player2
		m.Player2 = &p
	}
	if m.WinnerID != nil {
		w := *m.WinnerID
		m.WinnerID = &w
	}
	return m
}
