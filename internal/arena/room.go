package arena

import (
	"time"

	"github.com/ernie/rally/internal/ai"
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/game"
)

// Connection is a live client channel owned by the transport. Send must not
// block; it reports false when the event was dropped.
type Connection interface {
	ID() string
	Player() domain.Player
	Send(ev domain.Event) bool
	Close(code int, reason string)
}

// seat is a participant currently attached to a room
type seat struct {
	conn Connection
	role domain.Role
}

// Room is one match instance. All fields are guarded by the coordinator lock.
type Room struct {
	id         string
	mode       domain.Mode
	seats      []seat
	spectators map[string]Connection
	state      *game.State
	opponent   *ai.Opponent // nil unless mode is ai

	// players are fixed at creation so results survive a participant leaving
	player1 domain.PlayerIdentity
	player2 domain.PlayerIdentity

	createdAt  time.Time
	startedAt  time.Time // first serve
	finishedAt time.Time
	processed  bool // result handed off (or nothing to hand off)
	aborted    bool
	forfeit    bool

	tournamentID string
	bracketMatch string
	round        domain.Round
}

// closed reports whether the room no longer steps
func (r *Room) closed() bool {
	return r.aborted || r.state.Finished()
}

func (r *Room) seatOf(connID string) (seat, bool) {
	for _, s := range r.seats {
		if s.conn.ID() == connID {
			return s, true
		}
	}
	return seat{}, false
}

func (r *Room) removeSeat(connID string) (seat, bool) {
	for i, s := range r.seats {
		if s.conn.ID() == connID {
			r.seats = append(r.seats[:i], r.seats[i+1:]...)
			return s, true
		}
	}
	return seat{}, false
}

// audience is every connection that receives room broadcasts
func (r *Room) audience() []Connection {
	out := make([]Connection, 0, len(r.seats)+len(r.spectators))
	for _, s := range r.seats {
		out = append(out, s.conn)
	}
	for _, c := range r.spectators {
		out = append(out, c)
	}
	return out
}

func (r *Room) broadcast(ev domain.Event) {
	for _, c := range r.audience() {
		c.Send(ev)
	}
}

// playerFor maps a board side to the player seated there at creation
func (r *Room) playerFor(role domain.Role) domain.PlayerIdentity {
	if role == domain.RolePlayer2 {
		return r.player2
	}
	return r.player1
}

func (r *Room) summary() domain.RoomSummary {
	p1, p2 := r.state.Scores()
	s := domain.RoomSummary{
		ID:           r.id,
		Mode:         r.mode,
		Player1:      r.player1.Name,
		Player2:      r.player2.Name,
		Player1Score: p1,
		Player2Score: p2,
		Spectators:   len(r.spectators),
		Finished:     r.closed(),
		CreatedAt:    r.createdAt,
		TournamentID: r.tournamentID,
	}
	if r.opponent != nil {
		s.Player2 = "AI (" + r.opponent.Difficulty().Name + ")"
	}
	return s
}

// result builds the reconciliation artifact for a finished room
func (r *Room) result(id string, now time.Time) domain.MatchResult {
	p1, p2 := r.state.Scores()
	start := r.startedAt
	if start.IsZero() {
		start = r.createdAt
	}
	res := domain.MatchResult{
		ID:           id,
		Mode:         r.mode,
		Player1ID:    r.player1.ID,
		Player2ID:    r.player2.ID,
		Player1Score: p1,
		Player2Score: p2,
		Duration:     now.Sub(start),
		EndedAt:      now,
		Forfeit:      r.forfeit,
		TournamentID: r.tournamentID,
		MatchID:      r.bracketMatch,
		Round:        r.round,
	}
	if w := r.state.Winner(); w != "" {
		res.WinnerID = r.playerFor(w).ID
	}
	return res
}
