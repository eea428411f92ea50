package domain

import "time"

// Player is an authenticated identity plus its current progression
type Player struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Progression Progression `json:"progression"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

// Progression is the ranked record mutated by outcome reconciliation
type Progression struct {
	Level       int     `json:"level"`
	Experience  int64   `json:"experience"`
	RankPoints  int     `json:"rank_points"`
	RankTier    string  `json:"rank_tier"`
	GamesPlayed int     `json:"games_played"`
	GamesWon    int     `json:"games_won"`
	GamesLost   int     `json:"games_lost"`
	WinRate     float64 `json:"win_rate"`
	Streak      int     `json:"streak"`
}

// NewProgression returns the record a freshly registered player starts with
func NewProgression() Progression {
	return Progression{
		Level:    1,
		RankTier: "Bronze I",
	}
}

// PlayerIdentity is what the authenticator vouches for
type PlayerIdentity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Identity strips the progression from a player
func (p Player) Identity() PlayerIdentity {
	return PlayerIdentity{ID: p.ID, Name: p.Name}
}

// LeaderboardEntry represents a player's position on the rank leaderboard
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	PlayerID    int64   `json:"player_id"`
	Name        string  `json:"name"`
	RankPoints  int     `json:"rank_points"`
	RankTier    string  `json:"rank_tier"`
	Level       int     `json:"level"`
	GamesPlayed int     `json:"games_played"`
	WinRate     float64 `json:"win_rate"`
}
