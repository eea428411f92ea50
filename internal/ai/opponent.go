// Package ai implements the synthetic opponent that drives one paddle of an
// AI-mode room.
//
// The opponent re-plans on a fixed interval rather than every tick. Between
// refreshes it is in one of two phases:
//
//	Tracking(target) -- step toward target each tick
//	Holding          -- inside the tolerance band; issue no movement
//
// A paddle that reached its target stays put until the next refresh even if
// the ball has since changed course. Phase and Target expose this state.
package ai

import (
	"math"
	"math/rand/v2"

	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/game"
)

// DefaultRefreshTicks is one second at the default tick rate
const DefaultRefreshTicks = 60

// Phase is the opponent's movement state between refreshes
type Phase int

const (
	PhaseHolding Phase = iota
	PhaseTracking
)

func (p Phase) String() string {
	if p == PhaseTracking {
		return "tracking"
	}
	return "holding"
}

// Opponent is a per-room input source for one paddle
type Opponent struct {
	role         domain.Role
	difficulty   Difficulty
	rng          *rand.Rand
	refreshTicks int

	tick      int
	snapshot  Snapshot
	phase     Phase
	target    float64
	direction int
	sinceTurn int
}

// NewOpponent creates an opponent for role. refreshTicks <= 0 uses DefaultRefreshTicks.
func NewOpponent(role domain.Role, difficulty Difficulty, refreshTicks int, rng *rand.Rand) *Opponent {
	if refreshTicks <= 0 {
		refreshTicks = DefaultRefreshTicks
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Opponent{
		role:         role,
		difficulty:   difficulty,
		rng:          rng,
		refreshTicks: refreshTicks,
		phase:        PhaseHolding,
		target:       game.BoardHeight / 2,
		sinceTurn:    difficulty.ReactionTicks,
	}
}

// Role returns the paddle this opponent drives
func (o *Opponent) Role() domain.Role { return o.role }

// Difficulty returns the tier this opponent plays at
func (o *Opponent) Difficulty() Difficulty { return o.difficulty }

// Phase returns the current movement phase
func (o *Opponent) Phase() Phase { return o.phase }

// Target returns the paddle-center y the opponent is steering toward
func (o *Opponent) Target() float64 { return o.target }

// Tick is called once per game tick and returns the paddle velocity to apply
func (o *Opponent) Tick(obs game.Observation) float64 {
	if o.tick%o.refreshTicks == 0 {
		o.refresh(obs)
	}
	o.tick++
	o.sinceTurn++

	ownY := obs.Paddle2Y
	if o.role == domain.RolePlayer1 {
		ownY = obs.Paddle1Y
	}
	return o.track(ownY)
}

// refresh captures a snapshot, predicts the intercept and perturbs it into a target
func (o *Opponent) refresh(obs game.Observation) {
	o.snapshot = Snapshot{Ball: obs.Ball, Playing: obs.Active}
	if o.role == domain.RolePlayer1 {
		o.snapshot.OwnY = obs.Paddle1Y
	} else {
		o.snapshot.OwnY = obs.Paddle2Y
	}

	estimate := game.BoardHeight / 2
	if o.snapshot.Playing {
		estimate = PredictIntercept(o.snapshot.Ball, o.role, o.difficulty.Lookahead)
	}

	if o.difficulty.ErrorRate > 0 && o.rng.Float64() < o.difficulty.ErrorRate {
		estimate += (o.rng.Float64()*2 - 1) * game.PaddleHeight * 1.5
	}
	if o.difficulty.Jitter > 0 {
		estimate += (o.rng.Float64()*2 - 1) * o.difficulty.Jitter
	}

	o.target = math.Max(game.PaddleHeight/2, math.Min(game.BoardHeight-game.PaddleHeight/2, estimate))
	o.phase = PhaseTracking
}

func (o *Opponent) track(ownY float64) float64 {
	if o.phase == PhaseHolding {
		return 0
	}

	diff := o.target - (ownY + game.PaddleHeight/2)
	if math.Abs(diff) <= o.difficulty.Tolerance {
		o.phase = PhaseHolding
		return 0
	}

	dir := 1
	if diff < 0 {
		dir = -1
	}
	if dir != o.direction {
		if o.direction != 0 && o.sinceTurn < o.difficulty.ReactionTicks {
			return 0
		}
		o.direction = dir
		o.sinceTurn = 0
	}

	step := math.Min(o.difficulty.Speed, math.Abs(diff))
	return float64(dir) * step
}
