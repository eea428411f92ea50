// Package game holds the authoritative physics and round state of one match.
// A State is not safe for concurrent use; the arena serializes access to it.
package game

import (
	"math"
	"math/rand/v2"

	"github.com/ernie/rally/internal/domain"
)

// Ball is the ball's top-left corner and velocity per tick
type Ball struct {
	Pos domain.Vec
	Vel domain.Vec
}

// Paddle is one paddle's top edge and vertical velocity per tick
type Paddle struct {
	Y  float64
	VY float64
}

// StepOutcome reports what happened during one Step
type StepOutcome struct {
	Scorer   domain.Role
	Returned bool
	Served   bool
	Finished bool
}

// Observation is the read-only view an input source plans against
type Observation struct {
	Ball      Ball
	Paddle1Y  float64
	Paddle2Y  float64
	Countdown int
	Active    bool
}

// State is the ball/paddle physics plus the countdown and scoring state machine:
// Resetting(countdown>0) -> Active -> Resetting ... -> Finished.
type State struct {
	rules Rules
	rng   *rand.Rand

	ball    Ball
	paddles [2]Paddle
	score   [2]int

	countdown      int
	countdownTicks int
	serveToward    domain.Role

	active    bool
	finished  bool
	winner    domain.Role
	rallies   int
	baseSpeed float64
}

// NewState creates a match in its first countdown
func NewState(rules Rules, rng *rand.Rand) *State {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if rules.TicksPerSecond <= 0 {
		rules.TicksPerSecond = DefaultRules().TicksPerSecond
	}
	if rules.WinningScore <= 0 {
		rules.WinningScore = DefaultRules().WinningScore
	}
	s := &State{rules: rules, rng: rng}
	s.Restart()
	return s
}

// Restart puts the match back to 0-0 with a fresh countdown
func (s *State) Restart() {
	s.score = [2]int{}
	s.finished = false
	s.winner = ""
	s.rallies = 0
	s.baseSpeed = s.rules.BaseSpeed
	s.ResetBall("")
}

// ResetBall re-centers everything and starts the countdown. The next serve
// goes toward loser, or a random side when loser is empty.
func (s *State) ResetBall(loser domain.Role) {
	s.ball = Ball{Pos: domain.Vec{X: (BoardWidth - BallSize) / 2, Y: (BoardHeight - BallSize) / 2}}
	for i := range s.paddles {
		s.paddles[i] = Paddle{Y: MaxPaddleY / 2}
	}
	s.active = false
	s.serveToward = loser
	s.countdown = s.rules.CountdownSteps
	s.countdownTicks = s.rules.TicksPerSecond
	if s.countdown <= 0 {
		s.countdown = 0
		s.serve()
	}
}

// ApplyMovement sets a paddle's velocity. It is ignored during the countdown
// and after the match finished. Returns whether the input was applied.
func (s *State) ApplyMovement(role domain.Role, dy float64) bool {
	if s.countdown > 0 || s.finished {
		return false
	}
	if math.IsNaN(dy) || math.IsInf(dy, 0) {
		return false
	}
	idx, ok := roleIndex(role)
	if !ok {
		return false
	}
	s.paddles[idx].VY = clamp(dy, -MaxPaddleSpeed, MaxPaddleSpeed)
	return true
}

// Step advances the match by one tick
func (s *State) Step() StepOutcome {
	var out StepOutcome
	if s.finished {
		return out
	}

	if s.countdown > 0 {
		s.countdownTicks--
		if s.countdownTicks <= 0 {
			s.countdown--
			s.countdownTicks = s.rules.TicksPerSecond
			if s.countdown == 0 {
				s.serve()
				out.Served = true
			}
		}
		return out
	}

	for i := range s.paddles {
		p := &s.paddles[i]
		p.Y = clamp(p.Y+p.VY, 0, MaxPaddleY)
	}

	s.ball.Pos.X += s.ball.Vel.X
	s.ball.Pos.Y, s.ball.Vel.Y, _ = ReflectY(s.ball.Pos.Y, s.ball.Vel.Y)

	if s.hitsPaddle(0) {
		s.ball.Pos.X = LeftPaddleFace
		s.ball.Vel.X = math.Abs(s.ball.Vel.X)
		s.rallies++
		out.Returned = true
	} else if s.hitsPaddle(1) {
		s.ball.Pos.X = RightPaddleFace - BallSize
		s.ball.Vel.X = -math.Abs(s.ball.Vel.X)
		s.rallies++
		out.Returned = true
	}

	switch {
	case s.ball.Pos.X+BallSize < 0:
		out.Scorer = domain.RolePlayer2
	case s.ball.Pos.X > BoardWidth:
		out.Scorer = domain.RolePlayer1
	default:
		return out
	}

	idx, _ := roleIndex(out.Scorer)
	s.score[idx]++
	if s.score[idx] >= s.rules.WinningScore {
		s.finish(out.Scorer)
		out.Finished = true
		return out
	}

	s.raiseSpeed()
	s.ResetBall(out.Scorer.Opponent())
	return out
}

// ForceWin ends the match in role's favour with the winning score, leaving
// the opponent's score untouched.
func (s *State) ForceWin(role domain.Role) {
	idx, ok := roleIndex(role)
	if !ok {
		return
	}
	s.score[idx] = s.rules.WinningScore
	s.finish(role)
}

// Snapshot returns the per-tick broadcast view
func (s *State) Snapshot() domain.StateSnapshot {
	return domain.StateSnapshot{
		Ball:      s.ball.Pos,
		Player1:   domain.PaddleView{Y: s.paddles[0].Y, Score: s.score[0]},
		Player2:   domain.PaddleView{Y: s.paddles[1].Y, Score: s.score[1]},
		Winner:    s.winner,
		Countdown: s.countdown,
	}
}

// Observe returns the planning view used by AI input sources
func (s *State) Observe() Observation {
	return Observation{
		Ball:      s.ball,
		Paddle1Y:  s.paddles[0].Y,
		Paddle2Y:  s.paddles[1].Y,
		Countdown: s.countdown,
		Active:    s.active,
	}
}

// Scores returns player1's and player2's points
func (s *State) Scores() (int, int) { return s.score[0], s.score[1] }

// HasProgress reports whether any point has been scored
func (s *State) HasProgress() bool { return s.score[0] > 0 || s.score[1] > 0 }

func (s *State) Countdown() int      { return s.countdown }
func (s *State) Active() bool        { return s.active }
func (s *State) Finished() bool      { return s.finished }
func (s *State) Winner() domain.Role { return s.winner }
func (s *State) Rallies() int        { return s.rallies }
func (s *State) BaseSpeed() float64  { return s.baseSpeed }
func (s *State) WinningScore() int   { return s.rules.WinningScore }
func (s *State) Ball() Ball          { return s.ball }
func (s *State) TicksPerSecond() int { return s.rules.TicksPerSecond }

// Paddle returns the paddle for role
func (s *State) Paddle(role domain.Role) Paddle {
	idx, ok := roleIndex(role)
	if !ok {
		return Paddle{}
	}
	return s.paddles[idx]
}

func (s *State) serve() {
	angle := (s.rng.Float64()*2 - 1) * math.Pi / 4
	dir := 1.0
	switch s.serveToward {
	case domain.RolePlayer1:
		dir = -1
	case domain.RolePlayer2:
		dir = 1
	default:
		if s.rng.IntN(2) == 0 {
			dir = -1
		}
	}
	s.ball.Vel = domain.Vec{
		X: dir * math.Cos(angle) * s.baseSpeed,
		Y: math.Sin(angle) * s.baseSpeed,
	}
	s.active = true
}

func (s *State) raiseSpeed() {
	next := s.baseSpeed + s.rules.SpeedIncrement
	if s.rules.SpeedCap > 0 && next > s.rules.SpeedCap {
		next = s.rules.SpeedCap
	}
	if next > s.baseSpeed {
		s.baseSpeed = next
	}
}

func (s *State) finish(winner domain.Role) {
	s.finished = true
	s.active = false
	s.winner = winner
	s.ball.Vel = domain.Vec{}
	for i := range s.paddles {
		s.paddles[i].VY = 0
	}
}

func (s *State) hitsPaddle(idx int) bool {
	p := s.paddles[idx]
	if s.ball.Pos.Y+BallSize < p.Y || s.ball.Pos.Y > p.Y+PaddleHeight {
		return false
	}
	if idx == 0 {
		return s.ball.Vel.X < 0 && s.ball.Pos.X <= LeftPaddleFace && s.ball.Pos.X+BallSize >= PaddleOffset
	}
	return s.ball.Vel.X > 0 && s.ball.Pos.X+BallSize >= RightPaddleFace && s.ball.Pos.X <= BoardWidth-PaddleOffset
}

func roleIndex(role domain.Role) (int, bool) {
	switch role {
	case domain.RolePlayer1:
		return 0, true
	case domain.RolePlayer2:
		return 1, true
	}
	return 0, false
}
