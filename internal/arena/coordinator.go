// Package arena owns every live room and connection. A single mutex guards
// the room, connection and queue tables; transport goroutines only append to
// a command buffer that the tick loop drains.
package arena

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ernie/rally/internal/ai"
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/game"
	"github.com/ernie/rally/internal/outcome"
	"github.com/ernie/rally/internal/tournament"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrRoomNotFound      = errors.New("room not found")
)

// Reconciler turns finished matches into progression changes
type Reconciler interface {
	Reconcile(ctx context.Context, r domain.MatchResult) (*outcome.Outcome, error)
}

// Tournaments is the slice of the orchestrator the coordinator drives.
// Queued is called with the coordinator lock held; the rest run after it is
// released.
type Tournaments interface {
	AddToQueue(ctx context.Context, p domain.PlayerIdentity) (int, *domain.Tournament, error)
	RemoveFromQueue(playerID int64) bool
	Queued(playerID int64) bool
	RecordResult(ctx context.Context, tournamentID, matchID string, winnerID int64) (tournament.Resolution, error)
	RecordWalkover(ctx context.Context, tournamentID, matchID string, winnerID int64) (tournament.Resolution, error)
}

// Settings tunes rooms and queues
type Settings struct {
	Rules          game.Rules
	AISpeedCap     float64
	AIRefreshTicks int
	FinishedGrace  time.Duration // finished rooms linger this long for late readers
	QueueTimeout   time.Duration // 0 disables matchmaking expiry
	HandoffTimeout time.Duration // bounds each reconciliation or bracket call
}

// DefaultSettings mirrors the stock configuration
func DefaultSettings() Settings {
	return Settings{
		Rules:          game.DefaultRules(),
		AISpeedCap:     9,
		AIRefreshTicks: 60,
		FinishedGrace:  5 * time.Second,
		QueueTimeout:   2 * time.Minute,
		HandoffTimeout: 10 * time.Second,
	}
}

// afterUnlock is work that must run once the coordinator lock is released
type afterUnlock func(ctx context.Context)

// Coordinator routes commands to rooms and pairs queued players
type Coordinator struct {
	settings    Settings
	reconciler  Reconciler
	tournaments Tournaments
	logger      zerolog.Logger
	now         func() time.Time

	mu         sync.Mutex
	rng        *rand.Rand
	conns      map[string]Connection
	byPlayer   map[int64]string // player ID -> newest connection ID
	rooms      map[string]*Room
	roomOf     map[string]string // connection ID -> room ID, participants only
	spectating map[string]string // connection ID -> room ID
	queue      *waitQueue

	pendingMu sync.Mutex
	pending   []domain.Command
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithReconciler hands finished matches to r
func WithReconciler(r Reconciler) Option {
	return func(c *Coordinator) { c.reconciler = r }
}

// WithTournaments routes tournament joins to t
func WithTournaments(t Tournaments) Option {
	return func(c *Coordinator) { c.tournaments = t }
}

// WithClock overrides the time source for queue and room timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand seeds serves and AI errors
func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// NewCoordinator creates an empty coordinator
func NewCoordinator(settings Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		settings:   settings,
		logger:     log.With().Str("component", "arena").Logger(),
		now:        time.Now,
		conns:      make(map[string]Connection),
		byPlayer:   make(map[int64]string),
		rooms:      make(map[string]*Room),
		roomOf:     make(map[string]string),
		spectating: make(map[string]string),
		queue:      newWaitQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Register makes a connection addressable. A player's newest connection
// receives player-targeted events.
func (c *Coordinator) Register(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID()] = conn
	c.byPlayer[conn.Player().ID] = conn.ID()
	c.logger.Debug().Str("conn", conn.ID()).Int64("player", conn.Player().ID).Msg("Connection registered")
}

// Submit buffers a command for the next tick. Safe for any goroutine.
func (c *Coordinator) Submit(cmd domain.Command) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, cmd)
	c.pendingMu.Unlock()
}

func (c *Coordinator) drainCommands() []domain.Command {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	cmds := c.pending
	c.pending = nil
	return cmds
}

// HandleInput applies a command immediately instead of waiting for a tick
func (c *Coordinator) HandleInput(cmd domain.Command) {
	c.mu.Lock()
	after := c.dispatchLocked(cmd)
	c.mu.Unlock()
	c.runAfter(after)
}

// Enqueue joins a connection to mode
func (c *Coordinator) Enqueue(connID string, mode domain.Mode, difficulty string) {
	c.HandleInput(domain.JoinCommand{ConnID: connID, Mode: mode, AIDifficulty: difficulty})
}

// Cancel withdraws a connection from whichever queue holds it
func (c *Coordinator) Cancel(connID string) {
	c.HandleInput(domain.CancelCommand{ConnID: connID})
}

// HandleDisconnect forgets a connection and settles any room it was in
func (c *Coordinator) HandleDisconnect(connID string) {
	c.HandleInput(domain.DisconnectCommand{ConnID: connID})
}

// Spectate attaches a connection to a room's broadcasts
func (c *Coordinator) Spectate(connID, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	room, ok := c.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if current, ok := c.roomOf[connID]; ok {
		if r := c.rooms[current]; r != nil && !r.closed() {
			return domain.Invalid("room", "already playing in a room")
		}
		c.detachLocked(connID)
	}
	c.unspectateLocked(connID)

	room.spectators[connID] = conn
	c.spectating[connID] = roomID
	conn.Send(domain.NewEvent(domain.EventGameJoined, room.id, domain.GameJoinedEvent{
		RoomID: room.id,
		Mode:   room.mode,
		Role:   domain.RoleSpectator,
	}))
	conn.Send(domain.NewEvent(domain.EventState, room.id, room.state.Snapshot()))
	return nil
}

// Rooms summarizes every room, oldest first
func (c *Coordinator) Rooms() []domain.RoomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RoomSummary, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// QueueLength returns the number of connections waiting for matchmaking
func (c *Coordinator) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Connections returns the number of registered connections
func (c *Coordinator) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// ExpireQueue drops matchmaking entries older than the queue timeout and
// tells their connections. It returns how many were dropped.
func (c *Coordinator) ExpireQueue(now time.Time) int {
	if c.settings.QueueTimeout <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := c.queue.expire(now.Add(-c.settings.QueueTimeout))
	for _, w := range expired {
		w.conn.Send(domain.NewEvent(domain.EventMatchmakingTimeout, "", nil))
	}
	return len(expired)
}

// LaunchTournamentMatch opens a room for a bracket match. Players without a
// connection, or busy in another ranked room, are reported absent and no
// room is created.
func (c *Coordinator) LaunchTournamentMatch(tournamentID string, m domain.BracketMatch) (tournament.Launch, error) {
	if !m.Ready() {
		return tournament.Launch{}, domain.Invalid("match", "bracket match "+m.ID+" is not ready")
	}

	c.mu.Lock()
	var (
		launch tournament.Launch
		conns  [2]Connection
		after  []afterUnlock
	)
	for i, p := range []*domain.PlayerIdentity{m.Player1, m.Player2} {
		conn, ok := c.connForPlayerLocked(p.ID)
		if ok {
			if roomID, busy := c.roomOf[conn.ID()]; busy {
				r := c.rooms[roomID]
				switch {
				case r == nil || r.closed():
					c.detachLocked(conn.ID())
				case !r.mode.Ranked():
					after = append(after, c.leaveLocked(conn.ID(), "called to a tournament match")...)
				default:
					ok = false
				}
			}
		}
		if !ok {
			launch.Absent = append(launch.Absent, p.ID)
			continue
		}
		conns[i] = conn
	}

	if len(launch.Absent) == 0 {
		room := c.newRoomLocked(domain.ModeTournament, c.settings.Rules)
		room.player1, room.player2 = *m.Player1, *m.Player2
		room.tournamentID, room.bracketMatch, room.round = tournamentID, m.ID, m.Round
		for _, conn := range conns {
			for _, w := range c.queue.removePlayer(conn.Player().ID) {
				w.conn.Send(domain.NewEvent(domain.EventMatchCancelled, "", nil))
			}
		}
		c.seatLocked(room, conns[0], domain.RolePlayer1)
		c.seatLocked(room, conns[1], domain.RolePlayer2)
		c.announceLocked(room)
		launch.RoomID = room.id
		c.logger.Info().
			Str("room", room.id).
			Str("tournament", tournamentID).
			Str("match", m.ID).
			Str("round", string(m.Round)).
			Msg("Tournament room created")
	}
	c.mu.Unlock()
	c.runAfter(after)
	return launch, nil
}

// NotifyPlayers sends ev to each player's newest connection
func (c *Coordinator) NotifyPlayers(ids []int64, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if conn, ok := c.connForPlayerLocked(id); ok {
			conn.Send(ev)
		}
	}
}

// inLiveRoomLocked reports whether connID is seated in a room still in play
func (c *Coordinator) inLiveRoomLocked(connID string) bool {
	roomID, ok := c.roomOf[connID]
	if !ok {
		return false
	}
	r := c.rooms[roomID]
	return r != nil && !r.closed()
}

func (c *Coordinator) connForPlayerLocked(playerID int64) (Connection, bool) {
	connID, ok := c.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	conn, ok := c.conns[connID]
	return conn, ok
}

// newRoomLocked registers an empty room
func (c *Coordinator) newRoomLocked(mode domain.Mode, rules game.Rules) *Room {
	room := &Room{
		id:         uuid.NewString(),
		mode:       mode,
		spectators: make(map[string]Connection),
		state:      game.NewState(rules, c.childRand()),
		createdAt:  c.now(),
	}
	c.rooms[room.id] = room
	return room
}

func (c *Coordinator) childRand() *rand.Rand {
	return rand.New(rand.NewPCG(c.rng.Uint64(), c.rng.Uint64()))
}

func (c *Coordinator) seatLocked(room *Room, conn Connection, role domain.Role) {
	c.unspectateLocked(conn.ID())
	room.seats = append(room.seats, seat{conn: conn, role: role})
	c.roomOf[conn.ID()] = room.id
}

// announceLocked sends gameJoined to every seat
func (c *Coordinator) announceLocked(room *Room) {
	for _, s := range room.seats {
		ev := domain.GameJoinedEvent{RoomID: room.id, Mode: room.mode, Role: s.role}
		switch {
		case room.opponent != nil:
			ev.AIDifficulty = room.opponent.Difficulty().Name
		case s.role == domain.RolePlayer1 && room.mode != domain.ModeSolo:
			ev.OpponentName = room.player2.Name
		case s.role == domain.RolePlayer2:
			ev.OpponentName = room.player1.Name
		}
		s.conn.Send(domain.NewEvent(domain.EventGameJoined, room.id, ev))
	}
}

// detachLocked unlinks a connection from a closed room
func (c *Coordinator) detachLocked(connID string) {
	roomID, ok := c.roomOf[connID]
	if !ok {
		return
	}
	delete(c.roomOf, connID)
	if room, ok := c.rooms[roomID]; ok {
		room.removeSeat(connID)
		if len(room.seats) == 0 && room.processed {
			c.deleteRoomLocked(room)
		}
	}
}

func (c *Coordinator) unspectateLocked(connID string) {
	roomID, ok := c.spectating[connID]
	if !ok {
		return
	}
	delete(c.spectating, connID)
	if room, ok := c.rooms[roomID]; ok {
		delete(room.spectators, connID)
	}
}

func (c *Coordinator) deleteRoomLocked(room *Room) {
	for _, s := range room.seats {
		if c.roomOf[s.conn.ID()] == room.id {
			delete(c.roomOf, s.conn.ID())
		}
	}
	for id := range room.spectators {
		delete(c.spectating, id)
	}
	delete(c.rooms, room.id)
	c.logger.Debug().Str("room", room.id).Msg("Room removed")
}

// leaveLocked removes a participant and settles the room it leaves:
// practice rooms end, ranked rooms abort when nobody has scored and are
// otherwise forfeited to the remaining side.
func (c *Coordinator) leaveLocked(connID, reason string) []afterUnlock {
	roomID, ok := c.roomOf[connID]
	if !ok {
		return nil
	}
	room := c.rooms[roomID]
	delete(c.roomOf, connID)
	if room == nil {
		return nil
	}
	left, _ := room.removeSeat(connID)
	var after []afterUnlock

	if room.closed() {
		if !room.processed {
			after = append(after, c.finishLocked(room, c.now()))
		}
		if len(room.seats) == 0 {
			c.deleteRoomLocked(room)
		}
		return after
	}

	if !room.mode.Ranked() {
		room.aborted, room.processed = true, true
		c.deleteRoomLocked(room)
		return nil
	}

	leaver := room.playerFor(left.role)
	room.broadcast(domain.NewEvent(domain.EventPlayerLeft, room.id, domain.PlayerLeftEvent{
		PlayerID:   leaver.ID,
		PlayerName: leaver.Name,
	}))
	remaining := room.playerFor(left.role.Opponent())

	if !room.state.HasProgress() {
		room.aborted, room.processed = true, true
		room.finishedAt = c.now()
		room.broadcast(domain.NewEvent(domain.EventGameAborted, room.id, domain.GameAbortedEvent{Reason: reason}))
		c.logger.Info().Str("room", room.id).Str("reason", reason).Msg("Match aborted before any score")
		if room.tournamentID != "" {
			after = append(after, c.advanceBracket(room.tournamentID, room.bracketMatch, remaining.ID))
		}
	} else {
		room.state.ForceWin(left.role.Opponent())
		room.forfeit = true
		p1, p2 := room.state.Scores()
		room.broadcast(domain.NewEvent(domain.EventOpponentDisconnected, room.id, domain.OpponentDisconnectedEvent{
			PlayerName:   leaver.Name,
			Player1Score: p1,
			Player2Score: p2,
		}))
		c.logger.Info().Str("room", room.id).Str("winner", remaining.Name).Msg("Match forfeited")
		after = append(after, c.finishLocked(room, c.now()))
	}

	for _, s := range append([]seat(nil), room.seats...) {
		c.detachLocked(s.conn.ID())
	}
	return after
}

// finishLocked marks a finished room processed and returns its hand-off
func (c *Coordinator) finishLocked(room *Room, now time.Time) afterUnlock {
	room.processed = true
	room.finishedAt = now
	res := room.result(uuid.NewString(), now)
	audience := room.audience()
	roomID := room.id
	c.logger.Info().
		Str("room", roomID).
		Str("mode", string(res.Mode)).
		Int("p1", res.Player1Score).
		Int("p2", res.Player2Score).
		Bool("forfeit", res.Forfeit).
		Msg("Match finished")
	return func(ctx context.Context) { c.settle(ctx, roomID, res, audience) }
}

// settle reconciles a result and tells the room and the players about it
func (c *Coordinator) settle(ctx context.Context, roomID string, res domain.MatchResult, audience []Connection) {
	ev := domain.GameResultEvent{
		MatchID:      res.ID,
		Mode:         res.Mode,
		WinnerID:     res.WinnerID,
		Player1Score: res.Player1Score,
		Player2Score: res.Player2Score,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if c.reconciler != nil {
		out, err := c.reconciler.Reconcile(ctx, res)
		switch {
		case errors.Is(err, domain.ErrAlreadyReconciled):
			c.logger.Debug().Str("match", res.ID).Msg("Result already reconciled")
			return
		case err != nil:
			c.logger.Error().Err(err).Str("room", roomID).Str("match", res.ID).Msg("Failed to reconcile match")
		case out != nil:
			ev.WinnerID = out.Result.WinnerID
			ev.Changes = out.Changes
		}
	}

	for _, conn := range audience {
		conn.Send(domain.NewEvent(domain.EventGameResult, roomID, ev))
	}
	for _, ch := range ev.Changes {
		c.NotifyPlayers([]int64{ch.PlayerID}, domain.NewEvent(domain.EventStatsUpdated, "", domain.StatsUpdatedEvent{
			PlayerID:    ch.PlayerID,
			Progression: ch.After,
		}))
	}
}

// advanceBracket resolves an aborted bracket match as a walkover, without rewards
func (c *Coordinator) advanceBracket(tournamentID, matchID string, winnerID int64) afterUnlock {
	return func(ctx context.Context) {
		if c.tournaments == nil {
			return
		}
		if _, err := c.tournaments.RecordWalkover(ctx, tournamentID, matchID, winnerID); err != nil {
			c.logger.Error().Err(err).Str("tournament", tournamentID).Str("match", matchID).Msg("Failed to advance bracket")
		}
	}
}

func (c *Coordinator) runAfter(after []afterUnlock) {
	for _, fn := range after {
		ctx, cancel := c.handoffContext()
		fn(ctx)
		cancel()
	}
}

func (c *Coordinator) handoffContext() (context.Context, context.CancelFunc) {
	if c.settings.HandoffTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.settings.HandoffTimeout)
}

// newAIRoomLocked seats a human on the left against an AI on the right
func (c *Coordinator) newAIRoomLocked(conn Connection, d ai.Difficulty) *Room {
	room := c.newRoomLocked(domain.ModeAI, game.AIRules(c.settings.AISpeedCap))
	room.player1 = conn.Player().Identity()
	room.player2 = domain.PlayerIdentity{Name: "AI"}
	room.opponent = ai.NewOpponent(domain.RolePlayer2, d, c.settings.AIRefreshTicks, c.childRand())
	c.seatLocked(room, conn, domain.RolePlayer1)
	return room
}
