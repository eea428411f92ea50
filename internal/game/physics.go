package game

// Board geometry. Player1 defends x=0, player2 defends x=BoardWidth.
const (
	BoardWidth   = 800.0
	BoardHeight  = 600.0
	PaddleWidth  = 10.0
	PaddleHeight = 100.0
	PaddleOffset = 20.0
	BallSize     = 10.0

	// LeftPaddleFace and RightPaddleFace are the x coordinates the ball's
	// leading edge meets when it is returned.
	LeftPaddleFace  = PaddleOffset + PaddleWidth
	RightPaddleFace = BoardWidth - PaddleOffset - PaddleWidth

	MaxPaddleSpeed = 10.0
	MaxBallY       = BoardHeight - BallSize
	MaxPaddleY     = BoardHeight - PaddleHeight
)

// Rules are the tunables of a single match
type Rules struct {
	WinningScore   int
	CountdownSteps int
	TicksPerSecond int
	BaseSpeed      float64
	SpeedIncrement float64
	SpeedCap       float64 // 0 means uncapped
}

// DefaultRules returns the standard ranked rules
func DefaultRules() Rules {
	return Rules{
		WinningScore:   5,
		CountdownSteps: 3,
		TicksPerSecond: 60,
		BaseSpeed:      5,
		SpeedIncrement: 0.5,
	}
}

// AIRules caps ball speed so AI matches stay winnable
func AIRules(speedCap float64) Rules {
	r := DefaultRules()
	r.SpeedCap = speedCap
	return r
}

// ReflectY moves a ball coordinate by vy and bounces it off the top and
// bottom walls, returning the new y and vertical velocity. The AI's
// trajectory prediction uses the same rule.
func ReflectY(y, vy float64) (float64, float64, bool) {
	y += vy
	switch {
	case y <= 0:
		return 0, -vy, true
	case y >= MaxBallY:
		return MaxBallY, -vy, true
	}
	return y, vy, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
