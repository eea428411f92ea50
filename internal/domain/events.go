package domain

import "time"

// Event types pushed to connections
const (
	EventState                 = "state"
	EventWaitingForOpponent    = "waitingForOpponent"
	EventGameJoined            = "gameJoined"
	EventGameLeft              = "gameLeft"
	EventAuthError             = "authError"
	EventMatchCancelled        = "matchCancelled"
	EventMatchmakingTimeout    = "matchmakingTimeout"
	EventPlayerLeft            = "playerLeft"
	EventGameAborted           = "gameAborted"
	EventOpponentDisconnected  = "opponentDisconnected"
	EventTournamentQueued      = "tournamentQueued"
	EventTournamentMatchReady  = "tournamentMatchReady"
	EventTournamentMatchResult = "tournamentMatchResult"
	EventTournamentChampion    = "tournamentChampion"
	EventGameResult            = "gameResult"
	EventStatsUpdated          = "statsUpdated"
	EventError                 = "error"
)

// Event is the envelope for every server-to-client message
type Event struct {
	Type      string      `json:"event"`
	RoomID    string      `json:"room_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time
func NewEvent(eventType, roomID string, data interface{}) Event {
	return Event{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Vec is a point or velocity on the board
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PaddleView is one side of the per-tick snapshot
type PaddleView struct {
	Y     float64 `json:"y"`
	Score int     `json:"score"`
}

// StateSnapshot is broadcast to every participant and spectator once per tick
type StateSnapshot struct {
	Ball      Vec        `json:"ball"`
	Player1   PaddleView `json:"player1"`
	Player2   PaddleView `json:"player2"`
	Winner    Role       `json:"winner,omitempty"`
	Countdown int        `json:"countdown"`
}

// WaitingEvent is sent when a player is queued for matchmaking
type WaitingEvent struct {
	Mode     Mode `json:"mode"`
	Position int  `json:"position"`
}

// GameJoinedEvent is sent to each participant once a room exists
type GameJoinedEvent struct {
	RoomID       string `json:"room_id"`
	Mode         Mode   `json:"mode"`
	Role         Role   `json:"role"`
	OpponentName string `json:"opponent_name,omitempty"`
	AIDifficulty string `json:"ai_difficulty,omitempty"`
}

// PlayerLeftEvent is sent to the remaining participant when the other side leaves
type PlayerLeftEvent struct {
	PlayerID   int64  `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// GameAbortedEvent is sent when a match ends before meaningful progress
type GameAbortedEvent struct {
	Reason string `json:"reason"`
}

// OpponentDisconnectedEvent is sent when the remaining participant is awarded the win
type OpponentDisconnectedEvent struct {
	PlayerName   string `json:"player_name"`
	Player1Score int    `json:"player1_score"`
	Player2Score int    `json:"player2_score"`
}

// GameResultEvent carries before/after progression for result screens
type GameResultEvent struct {
	MatchID      string              `json:"match_id"`
	Mode         Mode                `json:"mode"`
	WinnerID     int64               `json:"winner_id"`
	Player1Score int                 `json:"player1_score"`
	Player2Score int                 `json:"player2_score"`
	DurationMs   int64               `json:"duration_ms"`
	Changes      []ProgressionChange `json:"changes,omitempty"`
}

// StatsUpdatedEvent carries a player's fresh progression
type StatsUpdatedEvent struct {
	PlayerID    int64       `json:"player_id"`
	Progression Progression `json:"progression"`
}

// TournamentQueuedEvent is sent when a player joins the tournament queue
type TournamentQueuedEvent struct {
	Position int `json:"position"`
	Needed   int `json:"needed"`
}

// TournamentMatchReadyEvent announces a bracket match that now has a room
type TournamentMatchReadyEvent struct {
	TournamentID string `json:"tournament_id"`
	MatchID      string `json:"match_id"`
	Round        Round  `json:"round"`
	RoomID       string `json:"room_id,omitempty"`
	Opponent     string `json:"opponent"`
}

// TournamentMatchResultEvent announces a resolved bracket match
type TournamentMatchResultEvent struct {
	TournamentID string `json:"tournament_id"`
	MatchID      string `json:"match_id"`
	Round        Round  `json:"round"`
	WinnerID     int64  `json:"winner_id"`
	WinnerName   string `json:"winner_name"`
	LoserID      int64  `json:"loser_id"`
	Walkover     bool   `json:"walkover,omitempty"`
}

// TournamentChampionEvent announces the winner of a completed bracket
type TournamentChampionEvent struct {
	TournamentID string `json:"tournament_id"`
	ChampionID   int64  `json:"champion_id"`
	ChampionName string `json:"champion_name"`
}

// ErrorEvent reports a rejected command without closing the connection
type ErrorEvent struct {
	Message string `json:"message"`
}
