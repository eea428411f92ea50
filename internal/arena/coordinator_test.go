package arena

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/outcome"
	"github.com/ernie/rally/internal/tournament"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	player domain.Player

	mu     sync.Mutex
	events []domain.Event
}

func newFakeConn(id string, playerID int64, name string) *fakeConn {
	return &fakeConn{id: id, player: domain.Player{ID: playerID, Name: name, Progression: domain.NewProgression()}}
}

func (f *fakeConn) ID() string            { return f.id }
func (f *fakeConn) Player() domain.Player { return f.player }
func (f *fakeConn) Close(int, string)     {}

func (f *fakeConn) Send(ev domain.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) ofType(eventType string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T, eventType string) domain.Event {
	t.Helper()
	evs := f.ofType(eventType)
	require.NotEmpty(t, evs, "no %s event for %s", eventType, f.id)
	return evs[len(evs)-1]
}

type fakeReconciler struct {
	mu      sync.Mutex
	results []domain.MatchResult
}

func (f *fakeReconciler) Reconcile(_ context.Context, r domain.MatchResult) (*outcome.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	out := &outcome.Outcome{Result: r}
	if r.Mode.Ranked() {
		for _, id := range []int64{r.Player1ID, r.Player2ID} {
			out.Changes = append(out.Changes, domain.ProgressionChange{PlayerID: id, Won: id == r.WinnerID})
		}
	}
	return out, nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type bracketCall struct {
	tournamentID, matchID string
	winnerID              int64
	walkover              bool
}

type fakeTournaments struct {
	mu      sync.Mutex
	queued  []domain.PlayerIdentity
	results []bracketCall
}

func (f *fakeTournaments) AddToQueue(_ context.Context, p domain.PlayerIdentity) (int, *domain.Tournament, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queued {
		if q.ID == p.ID {
			return 0, nil, tournament.ErrAlreadyQueued
		}
	}
	f.queued = append(f.queued, p)
	return len(f.queued), nil, nil
}

func (f *fakeTournaments) RemoveFromQueue(playerID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, q := range f.queued {
		if q.ID == playerID {
			f.queued = append(f.queued[:i], f.queued[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeTournaments) Queued(playerID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queued {
		if q.ID == playerID {
			return true
		}
	}
	return false
}

func (f *fakeTournaments) RecordResult(_ context.Context, tid, mid string, winnerID int64) (tournament.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, bracketCall{tid, mid, winnerID, false})
	return tournament.Resolution{TournamentID: tid}, nil
}

func (f *fakeTournaments) RecordWalkover(_ context.Context, tid, mid string, winnerID int64) (tournament.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, bracketCall{tid, mid, winnerID, true})
	return tournament.Resolution{TournamentID: tid}, nil
}

type harness struct {
	coord       *Coordinator
	reconciler  *fakeReconciler
	tournaments *fakeTournaments
	clock       time.Time
}

func newHarness(t *testing.T, mutate ...func(*Settings)) *harness {
	t.Helper()
	h := &harness{
		reconciler:  &fakeReconciler{},
		tournaments: &fakeTournaments{},
		clock:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	settings := DefaultSettings()
	for _, m := range mutate {
		m(&settings)
	}
	h.coord = NewCoordinator(settings,
		WithReconciler(h.reconciler),
		WithTournaments(h.tournaments),
		WithClock(func() time.Time { return h.clock }),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	return h
}

func (h *harness) connect(id string, playerID int64, name string) *fakeConn {
	conn := newFakeConn(id, playerID, name)
	h.coord.Register(conn)
	return conn
}

// step advances the clock one tick and steps the coordinator
func (h *harness) step() {
	h.clock = h.clock.Add(time.Second / 60)
	h.coord.Step(h.clock)
}

func (h *harness) onlyRoom(t *testing.T) *Room {
	t.Helper()
	h.coord.mu.Lock()
	defer h.coord.mu.Unlock()
	require.Len(t, h.coord.rooms, 1)
	for _, r := range h.coord.rooms {
		return r
	}
	return nil
}

// playUntilScore parks both paddles at the top until somebody scores
func (h *harness) playUntilScore(t *testing.T, conns ...*fakeConn) {
	t.Helper()
	up := -10.0
	for i := 0; i < 20000; i++ {
		for _, c := range conns {
			h.coord.HandleInput(domain.UpdateCommand{ConnID: c.id, P1DY: &up, P2DY: &up})
		}
		h.step()
		room := h.onlyRoom(t)
		h.coord.mu.Lock()
		scored := room.state.HasProgress()
		h.coord.mu.Unlock()
		if scored {
			return
		}
	}
	t.Fatal("nobody scored")
}

func (h *harness) pair(t *testing.T) (*fakeConn, *fakeConn) {
	t.Helper()
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	h.coord.Enqueue(bob.id, domain.ModeMatchmaking, "")
	return alice, bob
}

func TestMatchmakingPairsOldestFirst(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")

	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	waiting := alice.last(t, domain.EventWaitingForOpponent).Data.(domain.WaitingEvent)
	assert.Equal(t, 1, waiting.Position)
	assert.Equal(t, 1, h.coord.QueueLength())

	h.coord.Enqueue(bob.id, domain.ModeMatchmaking, "")
	assert.Zero(t, h.coord.QueueLength())

	aj := alice.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	bj := bob.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, domain.RolePlayer1, aj.Role)
	assert.Equal(t, "bob", aj.OpponentName)
	assert.Equal(t, domain.RolePlayer2, bj.Role)
	assert.Equal(t, "alice", bj.OpponentName)
	assert.Equal(t, aj.RoomID, bj.RoomID)

	rooms := h.coord.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "alice", rooms[0].Player1)
	assert.Equal(t, "bob", rooms[0].Player2)
}

func TestMatchmakingRejectsSecondJoin(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	other := h.connect("c-alice-2", 1, "alice")

	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	h.coord.Enqueue(other.id, domain.ModeMatchmaking, "")

	assert.Len(t, alice.ofType(domain.EventError), 1)
	assert.Len(t, other.ofType(domain.EventError), 1, "a player is never paired with itself")
	assert.Equal(t, 1, h.coord.QueueLength())
	assert.Empty(t, h.coord.Rooms())
}

func TestDisconnectBeforeAnyScoreAborts(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.pair(t)
	h.step()

	h.coord.HandleDisconnect(bob.id)

	left := alice.last(t, domain.EventPlayerLeft).Data.(domain.PlayerLeftEvent)
	assert.Equal(t, "bob", left.PlayerName)
	alice.last(t, domain.EventGameAborted)
	assert.Empty(t, alice.ofType(domain.EventGameResult))
	assert.Zero(t, h.reconciler.count(), "an aborted match is never reconciled")
	assert.Empty(t, h.coord.Rooms())
	assert.Equal(t, 1, h.coord.Connections())

	// alice is free to queue again straight away
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	alice.last(t, domain.EventWaitingForOpponent)
}

func TestDisconnectAfterScoreForfeits(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.pair(t)
	h.playUntilScore(t, alice, bob)

	h.coord.HandleDisconnect(alice.id)

	dc := bob.last(t, domain.EventOpponentDisconnected).Data.(domain.OpponentDisconnectedEvent)
	assert.Equal(t, "alice", dc.PlayerName)
	assert.Equal(t, 5, dc.Player2Score)

	require.Equal(t, 1, h.reconciler.count())
	res := h.reconciler.results[0]
	assert.Equal(t, int64(2), res.WinnerID)
	assert.Equal(t, int64(1), res.Player1ID)
	assert.True(t, res.Forfeit)
	assert.NotEmpty(t, res.ID)

	result := bob.last(t, domain.EventGameResult).Data.(domain.GameResultEvent)
	assert.Equal(t, int64(2), result.WinnerID)
	assert.Len(t, result.Changes, 2)
	stats := bob.last(t, domain.EventStatsUpdated).Data.(domain.StatsUpdatedEvent)
	assert.Equal(t, int64(2), stats.PlayerID)

	for i := 0; i < 10; i++ {
		h.step()
	}
	assert.Equal(t, 1, h.reconciler.count(), "a result is handed off once")
}

func TestFinishedRoomIsProcessedOnceAndCollected(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.pair(t)
	room := h.onlyRoom(t)

	h.coord.mu.Lock()
	room.state.ForceWin(domain.RolePlayer1)
	h.coord.mu.Unlock()

	h.step()
	h.step()
	h.step()
	require.Equal(t, 1, h.reconciler.count())
	assert.Equal(t, int64(1), h.reconciler.results[0].WinnerID)
	assert.False(t, h.reconciler.results[0].Forfeit)
	assert.Len(t, alice.ofType(domain.EventGameResult), 1)
	assert.Len(t, bob.ofType(domain.EventGameResult), 1)

	rooms := h.coord.Rooms()
	require.Len(t, rooms, 1, "finished rooms linger for the grace window")
	assert.True(t, rooms[0].Finished)

	h.clock = h.clock.Add(6 * time.Second)
	h.coord.Step(h.clock)
	assert.Empty(t, h.coord.Rooms())
	assert.Equal(t, 1, h.reconciler.count())
}

func TestFinishedParticipantCanRejoin(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.pair(t)
	room := h.onlyRoom(t)
	h.coord.mu.Lock()
	room.state.ForceWin(domain.RolePlayer2)
	h.coord.mu.Unlock()
	h.step()

	h.coord.Enqueue(alice.id, domain.ModeSolo, "")
	assert.Empty(t, alice.ofType(domain.EventError))
	assert.Len(t, h.coord.Rooms(), 2)
}

func TestSoloResetRestartsInPlace(t *testing.T) {
	h := newHarness(t)
	solo := h.connect("c-solo", 5, "sam")
	h.coord.Enqueue(solo.id, domain.ModeSolo, "")
	joined := solo.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, domain.RoleBoth, joined.Role)

	room := h.onlyRoom(t)
	h.coord.mu.Lock()
	room.state.ForceWin(domain.RolePlayer1)
	h.coord.mu.Unlock()
	h.step()
	require.Equal(t, 1, h.reconciler.count())
	assert.Equal(t, domain.ModeSolo, h.reconciler.results[0].Mode)

	h.coord.HandleInput(domain.ResetCommand{ConnID: solo.id})
	assert.Same(t, room, h.onlyRoom(t))
	assert.Len(t, solo.ofType(domain.EventGameJoined), 2)
	h.coord.mu.Lock()
	assert.False(t, room.state.Finished())
	p1, p2 := room.state.Scores()
	h.coord.mu.Unlock()
	assert.Zero(t, p1+p2)
}

func TestSoloControlsBothPaddles(t *testing.T) {
	h := newHarness(t)
	solo := h.connect("c-solo", 5, "sam")
	h.coord.Enqueue(solo.id, domain.ModeSolo, "")
	room := h.onlyRoom(t)
	h.coord.mu.Lock()
	for room.state.Countdown() > 0 {
		room.state.Step()
	}
	h.coord.mu.Unlock()

	up, down := -4.0, 6.0
	h.coord.HandleInput(domain.UpdateCommand{ConnID: solo.id, P1DY: &up, P2DY: &down})

	h.coord.mu.Lock()
	defer h.coord.mu.Unlock()
	assert.Equal(t, up, room.state.Paddle(domain.RolePlayer1).VY)
	assert.Equal(t, down, room.state.Paddle(domain.RolePlayer2).VY)
}

func TestMultiplayerUpdateMovesOwnPaddleOnly(t *testing.T) {
	h := newHarness(t)
	_, bob := h.pair(t)
	room := h.onlyRoom(t)
	h.coord.mu.Lock()
	for room.state.Countdown() > 0 {
		room.state.Step()
	}
	h.coord.mu.Unlock()

	dy := 7.0
	h.coord.HandleInput(domain.UpdateCommand{ConnID: bob.id, P1DY: &dy})

	h.coord.mu.Lock()
	defer h.coord.mu.Unlock()
	assert.Zero(t, room.state.Paddle(domain.RolePlayer1).VY)
	assert.Equal(t, dy, room.state.Paddle(domain.RolePlayer2).VY)
}

func TestMultiplayerResetEvictsSender(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.pair(t)

	h.coord.HandleInput(domain.ResetCommand{ConnID: alice.id})

	alice.last(t, domain.EventGameLeft)
	bob.last(t, domain.EventPlayerLeft)
	bob.last(t, domain.EventGameAborted)
	assert.Empty(t, h.coord.Rooms())
	assert.Equal(t, 2, h.coord.Connections(), "eviction keeps the connection")
}

func TestUpdateOutsideRoomIsRejected(t *testing.T) {
	h := newHarness(t)
	lone := h.connect("c-lone", 9, "lone")
	dy := 1.0
	h.coord.HandleInput(domain.UpdateCommand{ConnID: lone.id, P1DY: &dy})
	msg := lone.last(t, domain.EventError).Data.(domain.ErrorEvent)
	assert.Contains(t, msg.Message, "not in a room")
}

func TestCancelMatchmaking(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	h.coord.Cancel(alice.id)

	alice.last(t, domain.EventMatchCancelled)
	assert.Zero(t, h.coord.QueueLength())

	bob := h.connect("c-bob", 2, "bob")
	h.coord.Enqueue(bob.id, domain.ModeMatchmaking, "")
	assert.Empty(t, h.coord.Rooms(), "a cancelled entry is never paired")
}

func TestCancelTournamentQueue(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	h.coord.Enqueue(alice.id, domain.ModeTournament, "")
	queued := alice.last(t, domain.EventTournamentQueued).Data.(domain.TournamentQueuedEvent)
	assert.Equal(t, 1, queued.Position)
	assert.Equal(t, 7, queued.Needed)

	h.coord.Enqueue(alice.id, domain.ModeTournament, "")
	alice.last(t, domain.EventError)

	h.coord.Cancel(alice.id)
	alice.last(t, domain.EventMatchCancelled)
	assert.Empty(t, h.tournaments.queued)
}

func TestQueueExpiry(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")

	assert.Zero(t, h.coord.ExpireQueue(h.clock.Add(time.Minute)))
	assert.Equal(t, 1, h.coord.ExpireQueue(h.clock.Add(3*time.Minute)))
	alice.last(t, domain.EventMatchmakingTimeout)
	assert.Zero(t, h.coord.QueueLength())
}

func TestQueueExpiryDisabled(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.QueueTimeout = 0 })
	alice := h.connect("c-alice", 1, "alice")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	assert.Zero(t, h.coord.ExpireQueue(h.clock.Add(time.Hour)))
	assert.Equal(t, 1, h.coord.QueueLength())
}

func TestSubmitIsAppliedOnNextStep(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	h.coord.Submit(domain.JoinCommand{ConnID: alice.id, Mode: domain.ModeSolo})
	assert.Empty(t, h.coord.Rooms())

	h.step()
	assert.Len(t, h.coord.Rooms(), 1)
	alice.last(t, domain.EventGameJoined)
	alice.last(t, domain.EventState)
}

func TestAIRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")

	h.coord.Enqueue(alice.id, domain.ModeAI, "nightmare")
	alice.last(t, domain.EventError)
	assert.Empty(t, h.coord.Rooms())

	h.coord.Enqueue(alice.id, domain.ModeAI, "hard")
	joined := alice.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, "hard", joined.AIDifficulty)
	assert.Equal(t, domain.RolePlayer1, joined.Role)

	for i := 0; i < 400; i++ {
		h.step()
	}
	assert.NotEmpty(t, alice.ofType(domain.EventState))

	h.coord.HandleDisconnect(alice.id)
	assert.Empty(t, h.coord.Rooms())
	assert.Zero(t, h.reconciler.count())
}

func TestSpectator(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	room := h.onlyRoom(t)
	watcher := h.connect("c-watch", 7, "watcher")

	require.NoError(t, h.coord.Spectate(watcher.id, room.id))
	joined := watcher.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, domain.RoleSpectator, joined.Role)

	h.step()
	assert.GreaterOrEqual(t, len(watcher.ofType(domain.EventState)), 2)

	dy := 3.0
	h.coord.HandleInput(domain.UpdateCommand{ConnID: watcher.id, P1DY: &dy})
	assert.Contains(t, watcher.last(t, domain.EventError).Data.(domain.ErrorEvent).Message, "spectators")

	assert.ErrorIs(t, h.coord.Spectate(watcher.id, "missing"), ErrRoomNotFound)
	assert.ErrorIs(t, h.coord.Spectate("ghost", room.id), ErrUnknownConnection)
	assert.Equal(t, 1, h.coord.Rooms()[0].Spectators)
}

func bracketMatch(p1, p2 domain.PlayerIdentity) domain.BracketMatch {
	return domain.BracketMatch{ID: "t1-m0", Round: domain.RoundQuarterFinal, Player1: &p1, Player2: &p2}
}

func TestLaunchTournamentMatch(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")

	launch, err := h.coord.LaunchTournamentMatch("t1", bracketMatch(alice.player.Identity(), bob.player.Identity()))
	require.NoError(t, err)
	assert.Empty(t, launch.Absent)
	require.NotEmpty(t, launch.RoomID)

	aj := alice.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, domain.ModeTournament, aj.Mode)
	assert.Equal(t, launch.RoomID, aj.RoomID)
	assert.Equal(t, "bob", aj.OpponentName)
	assert.Equal(t, "t1", h.coord.Rooms()[0].TournamentID)
}

func TestLaunchTournamentMatchReportsAbsent(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	ghost := domain.PlayerIdentity{ID: 99, Name: "ghost"}

	launch, err := h.coord.LaunchTournamentMatch("t1", bracketMatch(alice.player.Identity(), ghost))
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, launch.Absent)
	assert.Empty(t, launch.RoomID)
	assert.Empty(t, h.coord.Rooms())
}

func TestLaunchTournamentMatchPullsPlayerOutOfPractice(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	h.coord.Enqueue(alice.id, domain.ModeSolo, "")

	launch, err := h.coord.LaunchTournamentMatch("t1", bracketMatch(alice.player.Identity(), bob.player.Identity()))
	require.NoError(t, err)
	assert.Empty(t, launch.Absent)
	rooms := h.coord.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.ModeTournament, rooms[0].Mode)
}

func TestAbortedTournamentMatchAdvancesBracket(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	_, err := h.coord.LaunchTournamentMatch("t1", bracketMatch(alice.player.Identity(), bob.player.Identity()))
	require.NoError(t, err)

	h.coord.HandleDisconnect(alice.id)

	bob.last(t, domain.EventGameAborted)
	require.Len(t, h.tournaments.results, 1)
	assert.Equal(t, bracketCall{"t1", "t1-m0", 2, true}, h.tournaments.results[0], "a no-contest advances as a walkover")
	assert.Zero(t, h.reconciler.count())
}

func TestTournamentQueueExcludesMatchmaking(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	bobTab := h.connect("c-bob-2", 2, "bob")

	h.coord.Enqueue(alice.id, domain.ModeTournament, "")
	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")
	assert.Len(t, alice.ofType(domain.EventError), 1)
	assert.Zero(t, h.coord.QueueLength())

	h.coord.Enqueue(bob.id, domain.ModeMatchmaking, "")
	h.coord.Enqueue(bobTab.id, domain.ModeTournament, "")
	assert.Len(t, bobTab.ofType(domain.EventError), 1)
	assert.False(t, h.tournaments.Queued(2))
}

func TestTournamentLaunchWithdrawsMatchmakingEntry(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	carol := h.connect("c-carol", 3, "carol")

	// both joins land in the same tick, before either queue sees the other
	h.coord.Submit(domain.JoinCommand{ConnID: alice.id, Mode: domain.ModeTournament})
	h.coord.Submit(domain.JoinCommand{ConnID: alice.id, Mode: domain.ModeMatchmaking})
	h.step()
	require.Equal(t, 1, h.coord.QueueLength())

	_, err := h.coord.LaunchTournamentMatch("t1", bracketMatch(alice.player.Identity(), bob.player.Identity()))
	require.NoError(t, err)
	assert.Zero(t, h.coord.QueueLength())
	alice.last(t, domain.EventMatchCancelled)

	h.coord.Enqueue(carol.id, domain.ModeMatchmaking, "")
	carol.last(t, domain.EventWaitingForOpponent)

	rooms := h.coord.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.ModeTournament, rooms[0].Mode)
	assert.Equal(t, "alice", rooms[0].Player1)
}

func TestMatchmakingSkipsSeatedEntries(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	carol := h.connect("c-carol", 3, "carol")
	dave := h.connect("c-dave", 4, "dave")

	h.coord.Enqueue(alice.id, domain.ModeMatchmaking, "")

	// seat alice elsewhere while her entry is still queued
	h.coord.mu.Lock()
	room := h.coord.newRoomLocked(domain.ModeMatchmaking, h.coord.settings.Rules)
	room.player1, room.player2 = alice.player.Identity(), bob.player.Identity()
	h.coord.seatLocked(room, alice, domain.RolePlayer1)
	h.coord.seatLocked(room, bob, domain.RolePlayer2)
	h.coord.mu.Unlock()

	h.coord.Enqueue(carol.id, domain.ModeMatchmaking, "")
	carol.last(t, domain.EventWaitingForOpponent)
	assert.Empty(t, carol.ofType(domain.EventGameJoined))

	h.coord.Enqueue(dave.id, domain.ModeMatchmaking, "")
	dj := dave.last(t, domain.EventGameJoined).Data.(domain.GameJoinedEvent)
	assert.Equal(t, "carol", dj.OpponentName)
	assert.Len(t, h.coord.Rooms(), 2)
}

func TestNotifyPlayersUsesNewestConnection(t *testing.T) {
	h := newHarness(t)
	old := h.connect("c-1", 1, "alice")
	fresh := h.connect("c-2", 1, "alice")

	h.coord.NotifyPlayers([]int64{1, 42}, domain.NewEvent(domain.EventTournamentChampion, "", nil))
	assert.Empty(t, old.ofType(domain.EventTournamentChampion))
	assert.Len(t, fresh.ofType(domain.EventTournamentChampion), 1)

	h.coord.HandleDisconnect(fresh.id)
	h.coord.NotifyPlayers([]int64{1}, domain.NewEvent(domain.EventTournamentChampion, "", nil))
	assert.Len(t, old.ofType(domain.EventTournamentChampion), 1)
}

func TestPanickingRoomIsIsolated(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("c-alice", 1, "alice")
	bob := h.connect("c-bob", 2, "bob")
	h.coord.Enqueue(alice.id, domain.ModeSolo, "")
	h.coord.Enqueue(bob.id, domain.ModeSolo, "")

	h.coord.mu.Lock()
	for _, r := range h.coord.rooms {
		if r.player1.ID == alice.player.ID {
			r.opponent = nil
			r.state = nil
		}
	}
	h.coord.mu.Unlock()

	require.NotPanics(t, h.step)
	rooms := h.coord.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "bob", rooms[0].Player1)
	alice.last(t, domain.EventGameAborted)
	bob.last(t, domain.EventState)
}
