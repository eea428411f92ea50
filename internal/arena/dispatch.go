package arena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/rally/internal/ai"
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/tournament"
)

// dispatchLocked applies one command. Work that calls out of the arena is
// returned for the caller to run after unlocking.
func (c *Coordinator) dispatchLocked(cmd domain.Command) []afterUnlock {
	switch cmd := cmd.(type) {
	case domain.JoinCommand:
		return c.joinLocked(cmd)
	case domain.UpdateCommand:
		c.updateLocked(cmd)
		return nil
	case domain.ResetCommand:
		return c.resetLocked(cmd)
	case domain.CancelCommand:
		return c.cancelLocked(cmd)
	case domain.DisconnectCommand:
		return c.disconnectLocked(cmd)
	}
	c.logger.Warn().Str("type", fmt.Sprintf("%T", cmd)).Msg("Unhandled command")
	return nil
}

func (c *Coordinator) reject(conn Connection, err error) {
	c.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("Command rejected")
	conn.Send(domain.NewEvent(domain.EventError, "", domain.ErrorEvent{Message: err.Error()}))
}

func (c *Coordinator) joinLocked(cmd domain.JoinCommand) []afterUnlock {
	conn, ok := c.conns[cmd.ConnID]
	if !ok {
		return nil
	}
	if !cmd.Mode.Valid() {
		c.reject(conn, domain.Invalid("mode", fmt.Sprintf("unknown mode %q", cmd.Mode)))
		return nil
	}
	if c.inLiveRoomLocked(conn.ID()) {
		c.reject(conn, domain.Invalid("mode", "already in a room"))
		return nil
	}
	c.detachLocked(conn.ID())
	player := conn.Player().Identity()
	if c.queue.contains(conn.ID()) || (cmd.Mode == domain.ModeTournament && c.queue.hasPlayer(player.ID)) {
		c.reject(conn, domain.Invalid("mode", "already queued for matchmaking"))
		return nil
	}
	if cmd.Mode == domain.ModeMatchmaking && c.tournaments != nil && c.tournaments.Queued(player.ID) {
		c.reject(conn, domain.Invalid("mode", "already queued for a tournament"))
		return nil
	}

	switch cmd.Mode {
	case domain.ModeSolo:
		c.unspectateLocked(conn.ID())
		room := c.newRoomLocked(domain.ModeSolo, c.settings.Rules)
		room.player1 = player
		c.seatLocked(room, conn, domain.RoleBoth)
		c.announceLocked(room)
		c.logger.Debug().Str("room", room.id).Str("player", player.Name).Msg("Solo room created")

	case domain.ModeAI:
		d, err := ai.LookupDifficulty(cmd.AIDifficulty)
		if err != nil {
			c.reject(conn, domain.Invalid("ai_difficulty", err.Error()))
			return nil
		}
		c.unspectateLocked(conn.ID())
		room := c.newAIRoomLocked(conn, d)
		c.announceLocked(room)
		c.logger.Debug().Str("room", room.id).Str("difficulty", d.Name).Msg("AI room created")

	case domain.ModeMatchmaking:
		c.unspectateLocked(conn.ID())
		c.matchLocked(conn)

	case domain.ModeTournament:
		if c.tournaments == nil {
			c.reject(conn, domain.Invalid("mode", "tournaments are disabled"))
			return nil
		}
		c.unspectateLocked(conn.ID())
		return []afterUnlock{func(ctx context.Context) { c.joinTournament(ctx, conn, player) }}
	}
	return nil
}

// matchLocked pairs conn with the oldest waiting connection, or queues it
func (c *Coordinator) matchLocked(conn Connection) {
	player := conn.Player().Identity()
	if c.queue.hasPlayer(player.ID) {
		c.reject(conn, domain.Invalid("mode", "already queued for matchmaking"))
		return
	}

	for {
		opp, ok := c.queue.pop()
		if !ok {
			break
		}
		if _, live := c.conns[opp.conn.ID()]; !live || c.inLiveRoomLocked(opp.conn.ID()) {
			continue
		}
		room := c.newRoomLocked(domain.ModeMatchmaking, c.settings.Rules)
		room.player1 = opp.conn.Player().Identity()
		room.player2 = player
		c.seatLocked(room, opp.conn, domain.RolePlayer1)
		c.seatLocked(room, conn, domain.RolePlayer2)
		c.announceLocked(room)
		c.logger.Info().
			Str("room", room.id).
			Str("player1", room.player1.Name).
			Str("player2", room.player2.Name).
			Dur("waited", c.now().Sub(opp.joinedAt)).
			Msg("Matchmaking pair created")
		return
	}

	pos := c.queue.push(&waiting{conn: conn, playerID: player.ID, joinedAt: c.now()})
	conn.Send(domain.NewEvent(domain.EventWaitingForOpponent, "", domain.WaitingEvent{
		Mode:     domain.ModeMatchmaking,
		Position: pos,
	}))
}

func (c *Coordinator) joinTournament(ctx context.Context, conn Connection, player domain.PlayerIdentity) {
	pos, started, err := c.tournaments.AddToQueue(ctx, player)
	switch {
	case errors.Is(err, tournament.ErrAlreadyQueued):
		c.reject(conn, domain.Invalid("mode", err.Error()))
	case err != nil && started == nil:
		c.logger.Error().Err(err).Str("player", player.Name).Msg("Failed to queue for tournament")
		c.reject(conn, errors.New("could not join the tournament queue"))
	case started != nil:
		if err != nil {
			c.logger.Error().Err(err).Str("tournament", started.ID).Msg("Tournament started with launch failures")
		}
	default:
		conn.Send(domain.NewEvent(domain.EventTournamentQueued, "", domain.TournamentQueuedEvent{
			Position: pos,
			Needed:   tournament.BracketSize - pos,
		}))
	}
}

func (c *Coordinator) updateLocked(cmd domain.UpdateCommand) {
	conn, ok := c.conns[cmd.ConnID]
	if !ok {
		return
	}
	roomID, ok := c.roomOf[conn.ID()]
	if !ok {
		if _, watching := c.spectating[conn.ID()]; watching {
			c.reject(conn, domain.Invalid("update", "spectators cannot move paddles"))
		} else {
			c.reject(conn, domain.Invalid("update", "not in a room"))
		}
		return
	}
	room := c.rooms[roomID]
	if room == nil || room.closed() {
		return
	}
	s, _ := room.seatOf(conn.ID())

	if s.role == domain.RoleBoth {
		if cmd.P1DY != nil {
			room.state.ApplyMovement(domain.RolePlayer1, *cmd.P1DY)
		}
		if cmd.P2DY != nil {
			room.state.ApplyMovement(domain.RolePlayer2, *cmd.P2DY)
		}
		return
	}

	// A multiplayer participant only ever moves its own paddle, whichever
	// field the client filled in.
	own, other := cmd.P1DY, cmd.P2DY
	if s.role == domain.RolePlayer2 {
		own, other = other, own
	}
	if own == nil {
		own = other
	}
	if own != nil {
		room.state.ApplyMovement(s.role, *own)
	}
}

func (c *Coordinator) resetLocked(cmd domain.ResetCommand) []afterUnlock {
	conn, ok := c.conns[cmd.ConnID]
	if !ok {
		return nil
	}
	roomID, ok := c.roomOf[conn.ID()]
	if !ok {
		c.reject(conn, domain.Invalid("reset", "not in a room"))
		return nil
	}
	room := c.rooms[roomID]
	if room == nil {
		return nil
	}

	if !room.mode.Ranked() {
		room.state.Restart()
		if room.opponent != nil {
			room.opponent = ai.NewOpponent(room.opponent.Role(), room.opponent.Difficulty(), c.settings.AIRefreshTicks, c.childRand())
		}
		room.startedAt, room.finishedAt = time.Time{}, time.Time{}
		room.processed, room.aborted = false, false
		c.announceLocked(room)
		return nil
	}

	after := c.leaveLocked(conn.ID(), "opponent left")
	conn.Send(domain.NewEvent(domain.EventGameLeft, roomID, nil))
	return after
}

func (c *Coordinator) cancelLocked(cmd domain.CancelCommand) []afterUnlock {
	conn, ok := c.conns[cmd.ConnID]
	if !ok {
		return nil
	}
	if c.queue.remove(conn.ID()) {
		conn.Send(domain.NewEvent(domain.EventMatchCancelled, "", nil))
		return nil
	}
	if c.tournaments == nil {
		return nil
	}
	playerID := conn.Player().ID
	return []afterUnlock{func(context.Context) {
		if c.tournaments.RemoveFromQueue(playerID) {
			conn.Send(domain.NewEvent(domain.EventMatchCancelled, "", nil))
		}
	}}
}

func (c *Coordinator) disconnectLocked(cmd domain.DisconnectCommand) []afterUnlock {
	conn, ok := c.conns[cmd.ConnID]
	if !ok {
		return nil
	}
	c.queue.remove(conn.ID())
	c.unspectateLocked(conn.ID())
	after := c.leaveLocked(conn.ID(), "opponent disconnected")
	delete(c.conns, conn.ID())

	playerID := conn.Player().ID
	if c.byPlayer[playerID] != conn.ID() {
		return after
	}
	delete(c.byPlayer, playerID)
	for _, other := range c.conns {
		if other.Player().ID == playerID {
			c.byPlayer[playerID] = other.ID()
			return after
		}
	}
	if c.tournaments != nil {
		after = append(after, func(context.Context) { c.tournaments.RemoveFromQueue(playerID) })
	}
	c.logger.Debug().Str("conn", conn.ID()).Int64("player", playerID).Msg("Connection removed")
	return after
}
