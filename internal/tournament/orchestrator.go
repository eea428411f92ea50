// Package tournament runs 8-player single-elimination brackets: it queues
// players, seeds and launches each round through a MatchLauncher, and
// advances the bracket as results are recorded.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ernie/rally/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SubjectCompleted is the bus subject completed brackets are announced on
const SubjectCompleted = "rally.tournament.completed"

var (
	ErrAlreadyQueued = errors.New("player already queued for a tournament")
	ErrMatchResolved = errors.New("bracket match already resolved")
)

// Launch is what a MatchLauncher reports for one bracket match. Absent lists
// the players that had no live connection; they forfeit by walkover.
type Launch struct {
	RoomID string
	Absent []int64
}

// MatchLauncher builds a room for a ready bracket match
type MatchLauncher interface {
	LaunchTournamentMatch(tournamentID string, m domain.BracketMatch) (Launch, error)
}

// Notifier delivers tournament events to players by id
type Notifier interface {
	NotifyPlayers(playerIDs []int64, ev domain.Event)
}

// Archive persists completed tournaments
type Archive interface {
	SaveTournament(ctx context.Context, t domain.Tournament) error
}

// Publisher announces completed tournaments on the event bus
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// Resolution describes one recorded bracket result
type Resolution struct {
	TournamentID string
	Match        domain.BracketMatch
	Winner       domain.PlayerIdentity
	Loser        domain.PlayerIdentity
	WinnerReward Reward
	LoserReward  Reward
	Completed    bool
}

// Orchestrator owns the tournament queue and all running brackets. Launching
// rooms and notifying players always happens after its lock is released.
type Orchestrator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	queue  []domain.PlayerIdentity
	active map[string]*domain.Tournament

	launcher  MatchLauncher
	notifier  Notifier
	archive   Archive
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithArchive stores completed brackets
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithPublisher announces completed brackets
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. rng seeds the bracket shuffle.
func New(rng *rand.Rand, opts ...Option) *Orchestrator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	o := &Orchestrator{
		rng:    rng,
		active: make(map[string]*domain.Tournament),
		logger: log.With().Str("component", "tournament").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bind wires the room launcher and the event sink. The coordinator is both,
// and it is constructed after the orchestrator.
func (o *Orchestrator) Bind(launcher MatchLauncher, notifier Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.launcher = launcher
	o.notifier = notifier
}

// AddToQueue queues a player. It returns the 1-based queue position, or the
// started tournament when this player filled the bracket.
func (o *Orchestrator) AddToQueue(ctx context.Context, p domain.PlayerIdentity) (int, *domain.Tournament, error) {
	o.mu.Lock()
	for _, q := range o.queue {
		if q.ID == p.ID {
			o.mu.Unlock()
			return 0, nil, ErrAlreadyQueued
		}
	}
	o.queue = append(o.queue, p)
	position := len(o.queue)
	if position < BracketSize {
		o.mu.Unlock()
		return position, nil, nil
	}

	t := o.startLocked()
	started := t.Clone()
	o.mu.Unlock()

	o.logger.Info().Str("tournament", started.ID).Msg("Tournament started")
	if err := o.CreateRoundMatches(ctx, started.ID, domain.RoundQuarterFinal); err != nil {
		return position, &started, err
	}
	return position, &started, nil
}

// RemoveFromQueue withdraws a queued player. It reports whether anything was removed.
func (o *Orchestrator) RemoveFromQueue(playerID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, q := range o.queue {
		if q.ID == playerID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Queued reports whether playerID is waiting for a bracket
func (o *Orchestrator) Queued(playerID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, q := range o.queue {
		if q.ID == playerID {
			return true
		}
	}
	return false
}

// QueueLength returns the number of players waiting for a bracket
func (o *Orchestrator) QueueLength() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Get returns a copy of a running tournament
func (o *Orchestrator) Get(id string) (domain.Tournament, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.active[id]
	if !ok {
		return domain.Tournament{}, fmt.Errorf("tournament %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// Active returns copies of every running tournament, oldest first
func (o *Orchestrator) Active() []domain.Tournament {
	o.mu.Lock()
	out := make([]domain.Tournament, 0, len(o.active))
	for _, t := range o.active {
		out = append(out, t.Clone())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// startLocked consumes the first BracketSize queued players
func (o *Orchestrator) startLocked() *domain.Tournament {
	players := make([]domain.PlayerIdentity, BracketSize)
	copy(players, o.queue[:BracketSize])
	o.queue = append(o.queue[:0], o.queue[BracketSize:]...)

	t := newBracket(players, o.rng, o.now())
	o.active[t.ID] = t
	return t
}

// CreateRoundMatches launches a room for every ready match of round. Players
// without a connection lose by walkover; when neither is present player1
// advances.
func (o *Orchestrator) CreateRoundMatches(ctx context.Context, tournamentID string, round domain.Round) error {
	o.mu.Lock()
	t, ok := o.active[tournamentID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("tournament %s: %w", tournamentID, domain.ErrNotFound)
	}
	launcher, notifier := o.launcher, o.notifier
	var pending []domain.BracketMatch
	for _, m := range t.Matches {
		if m.Round == round && m.Ready() && m.RoomID == "" {
			pending = append(pending, m.Clone())
		}
	}
	o.mu.Unlock()

	if launcher == nil {
		return errors.New("tournament: no match launcher bound")
	}

	var errs []error
	for _, m := range pending {
		launch, err := launcher.LaunchTournamentMatch(tournamentID, m)
		if err != nil {
			o.logger.Error().Err(err).Str("tournament", tournamentID).Str("match", m.ID).Msg("Failed to launch bracket match")
			launch = Launch{Absent: []int64{m.Player1.ID, m.Player2.ID}}
		}

		if len(launch.Absent) > 0 {
			winner := walkoverWinner(m, launch.Absent)
			if _, err := o.record(ctx, tournamentID, m.ID, winner, true); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		o.mu.Lock()
		if live := findMatch(t, m.ID); live != nil {
			live.RoomID = launch.RoomID
		}
		o.mu.Unlock()

		if notifier != nil {
			notifier.NotifyPlayers([]int64{m.Player1.ID}, readyEvent(tournamentID, m, launch.RoomID, m.Player2.Name))
			notifier.NotifyPlayers([]int64{m.Player2.ID}, readyEvent(tournamentID, m, launch.RoomID, m.Player1.Name))
		}
	}
	return errors.Join(errs...)
}

// RecordResult resolves a bracket match. Recording a match twice fails with
// ErrMatchResolved.
func (o *Orchestrator) RecordResult(ctx context.Context, tournamentID, matchID string, winnerID int64) (Resolution, error) {
	return o.record(ctx, tournamentID, matchID, winnerID, false)
}

// RecordWalkover resolves a bracket match that was never contested
func (o *Orchestrator) RecordWalkover(ctx context.Context, tournamentID, matchID string, winnerID int64) (Resolution, error) {
	return o.record(ctx, tournamentID, matchID, winnerID, true)
}

func (o *Orchestrator) record(ctx context.Context, tournamentID, matchID string, winnerID int64, walkover bool) (Resolution, error) {
	o.mu.Lock()
	t, ok := o.active[tournamentID]
	if !ok {
		o.mu.Unlock()
		return Resolution{}, fmt.Errorf("tournament %s: %w", tournamentID, domain.ErrNotFound)
	}
	m := findMatch(t, matchID)
	if m == nil {
		o.mu.Unlock()
		return Resolution{}, fmt.Errorf("bracket match %s: %w", matchID, domain.ErrNotFound)
	}
	if m.WinnerID != nil {
		o.mu.Unlock()
		return Resolution{}, ErrMatchResolved
	}
	winner, loser, ok := playerByID(m, winnerID)
	if !ok {
		o.mu.Unlock()
		return Resolution{}, domain.Invalid("winner", fmt.Sprintf("player %d is not in match %s", winnerID, matchID))
	}

	id := winnerID
	m.WinnerID = &id
	m.Walkover = walkover
	res := Resolution{
		TournamentID: tournamentID,
		Match:        m.Clone(),
		Winner:       *winner,
		Loser:        *loser,
		WinnerReward: RewardFor(m.Round, true),
		LoserReward:  RewardFor(m.Round, false),
	}

	if next, slot, ok := feeds(m.Ordinal); ok {
		advanced := *winner
		if slot == 1 {
			t.Matches[next].Player1 = &advanced
		} else {
			t.Matches[next].Player2 = &advanced
		}
	}

	var launchRound domain.Round
	if roundComplete(t, m.Round) {
		if next, ok := nextRound(m.Round); ok {
			t.Status = statusFor(next)
			launchRound = next
		} else {
			champ := *winner
			at := o.now()
			t.Status = domain.TournamentCompleted
			t.Champion = &champ
			t.CompletedAt = &at
			res.Completed = true
			delete(o.active, tournamentID)
		}
	}
	snapshot := t.Clone()
	notifier := o.notifier
	o.mu.Unlock()

	o.logger.Info().
		Str("tournament", tournamentID).
		Str("match", matchID).
		Str("round", string(res.Match.Round)).
		Int64("winner", winnerID).
		Bool("walkover", walkover).
		Msg("Bracket match resolved")

	if notifier != nil {
		notifier.NotifyPlayers([]int64{winner.ID, loser.ID}, domain.NewEvent(domain.EventTournamentMatchResult, res.Match.RoomID, domain.TournamentMatchResultEvent{
			TournamentID: tournamentID,
			MatchID:      matchID,
			Round:        res.Match.Round,
			WinnerID:     winner.ID,
			WinnerName:   winner.Name,
			LoserID:      loser.ID,
			Walkover:     walkover,
		}))
	}

	if res.Completed {
		o.complete(ctx, snapshot)
		return res, nil
	}
	if launchRound != "" {
		if err := o.CreateRoundMatches(ctx, tournamentID, launchRound); err != nil {
			return res, err
		}
	}
	return res, nil
}

// complete announces the champion and archives the finished bracket
func (o *Orchestrator) complete(ctx context.Context, t domain.Tournament) {
	o.logger.Info().Str("tournament", t.ID).Str("champion", t.Champion.Name).Msg("Tournament completed")

	o.mu.Lock()
	notifier := o.notifier
	o.mu.Unlock()
	if notifier != nil {
		ids := make([]int64, len(t.Players))
		for i, p := range t.Players {
			ids[i] = p.ID
		}
		notifier.NotifyPlayers(ids, domain.NewEvent(domain.EventTournamentChampion, "", domain.TournamentChampionEvent{
			TournamentID: t.ID,
			ChampionID:   t.Champion.ID,
			ChampionName: t.Champion.Name,
		}))
	}

	if o.archive != nil {
		if err := o.archive.SaveTournament(ctx, t); err != nil {
			o.logger.Error().Err(err).Str("tournament", t.ID).Msg("Failed to archive tournament")
		}
	}
	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, SubjectCompleted, t); err != nil {
			o.logger.Warn().Err(err).Str("tournament", t.ID).Msg("Failed to publish tournament completion")
		}
	}
}

func walkoverWinner(m domain.BracketMatch, absent []int64) int64 {
	p1Absent, p2Absent := false, false
	for _, id := range absent {
		if id == m.Player1.ID {
			p1Absent = true
		}
		if id == m.Player2.ID {
			p2Absent = true
		}
	}
	if p1Absent && !p2Absent {
		return m.Player2.ID
	}
	return m.Player1.ID
}

func readyEvent(tournamentID string, m domain.BracketMatch, roomID, opponent string) domain.Event {
	return domain.NewEvent(domain.EventTournamentMatchReady, roomID, domain.TournamentMatchReadyEvent{
		TournamentID: tournamentID,
		MatchID:      m.ID,
		Round:        m.Round,
		RoomID:       roomID,
		Opponent:     opponent,
	})
}
