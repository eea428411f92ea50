// Package outcome turns finished match results into progression changes.
// Every result is applied at most once, keyed by its id.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/tournament"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bus subjects
const (
	SubjectMatchResult = "rally.match.result"
	SubjectProgression = "rally.player.progression"
)

// TiePolicy names the side awarded a result that arrives level
const TiePolicy = domain.RolePlayer1

// Store is the progression key-value service. RecordMatchResult writes the
// result together with the updated players and fails with
// domain.ErrAlreadyReconciled when the result id was stored before.
type Store interface {
	GetPlayer(ctx context.Context, id int64) (*domain.Player, error)
	UpdatePlayer(ctx context.Context, p *domain.Player) error
	RecordMatchResult(ctx context.Context, r domain.MatchResult, players ...domain.Player) error
}

// Bracket resolves tournament matches and reports their reward schedule
type Bracket interface {
	RecordResult(ctx context.Context, tournamentID, matchID string, winnerID int64) (tournament.Resolution, error)
}

// Publisher announces reconciled results
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// Outcome is what a reconciliation produced
type Outcome struct {
	Result    domain.MatchResult
	Changes   []domain.ProgressionChange
	Bracket   *tournament.Resolution
	Persisted bool
}

// Change returns the progression change of playerID, if any
func (o *Outcome) Change(playerID int64) (domain.ProgressionChange, bool) {
	for _, c := range o.Changes {
		if c.PlayerID == playerID {
			return c, true
		}
	}
	return domain.ProgressionChange{}, false
}

// Reconciler applies match results to stored progression
type Reconciler struct {
	store     Store
	bracket   Bracket
	publisher Publisher
	logger    zerolog.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewReconciler creates a reconciler. bracket and publisher may be nil.
func NewReconciler(store Store, bracket Bracket, publisher Publisher) *Reconciler {
	return &Reconciler{
		store:     store,
		bracket:   bracket,
		publisher: publisher,
		logger:    log.With().Str("component", "outcome").Logger(),
		processed: make(map[string]struct{}),
	}
}

// Reconcile applies r exactly once. Practice modes are acknowledged without
// touching the store. A second call with the same id returns
// domain.ErrAlreadyReconciled.
func (rc *Reconciler) Reconcile(ctx context.Context, r domain.MatchResult) (*Outcome, error) {
	if r.ID == "" {
		return nil, domain.Invalid("id", "match result has no id")
	}
	if !rc.claim(r.ID) {
		return nil, domain.ErrAlreadyReconciled
	}

	if r.WinnerID == 0 {
		switch {
		case r.Player1Score > r.Player2Score:
			r.WinnerID = r.Player1ID
		case r.Player2Score > r.Player1Score:
			r.WinnerID = r.Player2ID
		default:
			rc.logger.Warn().
				Str("match", r.ID).
				Int("score", r.Player1Score).
				Str("policy", string(TiePolicy)).
				Msg("Tied result, awarding player1")
			r.WinnerID = r.Player1ID
		}
	}

	out := &Outcome{Result: r}
	if !r.Mode.Ranked() {
		return out, nil
	}
	if r.Player1ID == 0 || r.Player2ID == 0 {
		return out, domain.Invalid("player", "ranked result is missing a participant")
	}

	// The bracket advances even when the store is failing
	if r.Mode == domain.ModeTournament {
		res, err := rc.recordBracket(ctx, r)
		if err != nil {
			return out, err
		}
		out.Bracket = &res
	}

	winner, err := rc.store.GetPlayer(ctx, r.WinnerID)
	if err != nil {
		return out, fmt.Errorf("%w: load winner %d: %w", domain.ErrPersistence, r.WinnerID, err)
	}
	loser, err := rc.store.GetPlayer(ctx, r.LoserID())
	if err != nil {
		return out, fmt.Errorf("%w: load loser %d: %w", domain.ErrPersistence, r.LoserID(), err)
	}

	var winChange, loseChange domain.ProgressionChange
	switch r.Mode {
	case domain.ModeTournament:
		res := out.Bracket
		winChange = change(winner, true, func(p domain.Progression) (domain.Progression, int64, int) {
			return ApplyReward(p, res.WinnerReward.Experience, res.WinnerReward.RankPoints)
		})
		loseChange = change(loser, false, func(p domain.Progression) (domain.Progression, int64, int) {
			return ApplyReward(p, res.LoserReward.Experience, res.LoserReward.RankPoints)
		})
	default:
		winChange = change(winner, true, func(p domain.Progression) (domain.Progression, int64, int) {
			return ApplyRanked(p, true)
		})
		loseChange = change(loser, false, func(p domain.Progression) (domain.Progression, int64, int) {
			return ApplyRanked(p, false)
		})
	}

	winner.Progression = winChange.After
	loser.Progression = loseChange.After
	if err := rc.store.RecordMatchResult(ctx, r, *winner, *loser); err != nil {
		if errors.Is(err, domain.ErrAlreadyReconciled) {
			return nil, err
		}
		return out, fmt.Errorf("%w: record match %s: %w", domain.ErrPersistence, r.ID, err)
	}
	out.Persisted = true
	out.Changes = []domain.ProgressionChange{winChange, loseChange}

	rc.logger.Info().
		Str("match", r.ID).
		Str("mode", string(r.Mode)).
		Int64("winner", r.WinnerID).
		Int("winner_rr", winChange.RRDelta).
		Int("loser_rr", loseChange.RRDelta).
		Msg("Match reconciled")

	rc.publish(ctx, out)
	return out, nil
}

// Processed reports whether a result id was already reconciled here
func (rc *Reconciler) Processed(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.processed[id]
	return ok
}

func (rc *Reconciler) claim(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.processed[id]; ok {
		return false
	}
	rc.processed[id] = struct{}{}
	return true
}

func (rc *Reconciler) recordBracket(ctx context.Context, r domain.MatchResult) (tournament.Resolution, error) {
	if rc.bracket == nil {
		round := r.Round
		return tournament.Resolution{
			TournamentID: r.TournamentID,
			WinnerReward: tournament.RewardFor(round, true),
			LoserReward:  tournament.RewardFor(round, false),
		}, nil
	}
	res, err := rc.bracket.RecordResult(ctx, r.TournamentID, r.MatchID, r.WinnerID)
	if err != nil {
		return res, fmt.Errorf("record bracket result %s/%s: %w", r.TournamentID, r.MatchID, err)
	}
	return res, nil
}

func (rc *Reconciler) publish(ctx context.Context, out *Outcome) {
	if rc.publisher == nil {
		return
	}
	if err := rc.publisher.Publish(ctx, SubjectMatchResult, out.Result); err != nil {
		rc.logger.Warn().Err(err).Str("match", out.Result.ID).Msg("Failed to publish match result")
	}
	for _, c := range out.Changes {
		if err := rc.publisher.Publish(ctx, SubjectProgression, c); err != nil {
			rc.logger.Warn().Err(err).Int64("player", c.PlayerID).Msg("Failed to publish progression")
		}
	}
}

func change(p *domain.Player, won bool, apply func(domain.Progression) (domain.Progression, int64, int)) domain.ProgressionChange {
	after, xp, rr := apply(p.Progression)
	return domain.ProgressionChange{
		PlayerID: p.ID,
		Name:     p.Name,
		Won:      won,
		Before:   p.Progression,
		After:    after,
		XPDelta:  xp,
		RRDelta:  rr,
	}
}
