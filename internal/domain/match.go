package domain

import "time"

// Mode selects how a room is populated and whether its outcome is ranked
type Mode string

const (
	ModeSolo        Mode = "solo"
	ModeAI          Mode = "ai"
	ModeMatchmaking Mode = "matchmaking"
	ModeTournament  Mode = "tournament"
)

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeAI, ModeMatchmaking, ModeTournament:
		return true
	}
	return false
}

// Ranked reports whether outcomes in this mode touch stored progression
func (m Mode) Ranked() bool {
	return m == ModeMatchmaking || m == ModeTournament
}

// Role is a participant's side of the board. Player1 defends the left goal.
type Role string

const (
	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"
	RoleBoth    Role = "both" // solo practice controls both paddles
	// RoleSpectator receives broadcasts and controls nothing
	RoleSpectator Role = "spectator"
)

// Opponent returns the other side of the board
func (r Role) Opponent() Role {
	switch r {
	case RolePlayer1:
		return RolePlayer2
	case RolePlayer2:
		return RolePlayer1
	}
	return ""
}

// Round identifies a tournament stage
type Round string

const (
	RoundQuarterFinal Round = "quarter_final"
	RoundSemiFinal    Round = "semi_final"
	RoundFinal        Round = "final"
)

// MatchResult is the only artifact handed to outcome reconciliation
type MatchResult struct {
	ID           string        `json:"id"`
	Mode         Mode          `json:"mode"`
	Player1ID    int64         `json:"player1_id"`
	Player2ID    int64         `json:"player2_id"`
	Player1Score int           `json:"player1_score"`
	Player2Score int           `json:"player2_score"`
	WinnerID     int64         `json:"winner_id"`
	Duration     time.Duration `json:"duration"`
	EndedAt      time.Time     `json:"ended_at"`
	Forfeit      bool          `json:"forfeit,omitempty"`

	TournamentID string `json:"tournament_id,omitempty"`
	MatchID      string `json:"match_id,omitempty"`
	Round        Round  `json:"round,omitempty"`
}

// LoserID returns the id of the participant that did not win
func (r MatchResult) LoserID() int64 {
	if r.WinnerID == r.Player1ID {
		return r.Player2ID
	}
	return r.Player1ID
}

// ProgressionChange is a before/after pair for one participant, used by result screens
type ProgressionChange struct {
	PlayerID int64       `json:"player_id"`
	Name     string      `json:"name"`
	Won      bool        `json:"won"`
	Before   Progression `json:"before"`
	After    Progression `json:"after"`
	XPDelta  int64       `json:"xp_delta"`
	RRDelta  int         `json:"rr_delta"`
}

// MatchRecord is a persisted match summary for history listings
type MatchRecord struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Player1ID    int64     `json:"player1_id"`
	Player1Name  string    `json:"player1_name"`
	Player2ID    int64     `json:"player2_id"`
	Player2Name  string    `json:"player2_name"`
	Player1Score int       `json:"player1_score"`
	Player2Score int       `json:"player2_score"`
	WinnerID     int64     `json:"winner_id"`
	DurationMs   int64     `json:"duration_ms"`
	TournamentID string    `json:"tournament_id,omitempty"`
	Round        Round     `json:"round,omitempty"`
	EndedAt      time.Time `json:"ended_at"`
}

// RoomSummary describes a live room for the HTTP API
type RoomSummary struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Player1      string    `json:"player1"`
	Player2      string    `json:"player2,omitempty"`
	Player1Score int       `json:"player1_score"`
	Player2Score int       `json:"player2_score"`
	Spectators   int       `json:"spectators"`
	Finished     bool      `json:"finished"`
	CreatedAt    time.Time `json:"created_at"`
	TournamentID string    `json:"tournament_id,omitempty"`
}
