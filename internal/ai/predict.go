package ai

import (
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/game"
)

// maxSimSteps bounds the forward simulation for near-vertical trajectories
const maxSimSteps = 4096

// Snapshot is the ball/paddle capture a refresh plans against. It is taken
// once per refresh interval and never updated in between.
type Snapshot struct {
	Ball    game.Ball
	OwnY    float64
	Playing bool
}

// PredictIntercept forward-simulates the ball with wall reflections only and
// returns the y of the ball's center when it reaches the paddle plane of
// role. Once more than lookahead bounces have happened the current y is
// returned. Balls moving away (or not yet served) predict the board center.
func PredictIntercept(ball game.Ball, role domain.Role, lookahead int) float64 {
	center := game.BoardHeight / 2
	if ball.Vel.X == 0 {
		return center
	}

	var plane float64
	switch role {
	case domain.RolePlayer2:
		if ball.Vel.X < 0 {
			return center
		}
		plane = game.RightPaddleFace - game.BallSize
	case domain.RolePlayer1:
		if ball.Vel.X > 0 {
			return center
		}
		plane = game.LeftPaddleFace
	default:
		return center
	}

	x, y, vy := ball.Pos.X, ball.Pos.Y, ball.Vel.Y
	bounces := 0
	for i := 0; i < maxSimSteps; i++ {
		if (ball.Vel.X > 0 && x >= plane) || (ball.Vel.X < 0 && x <= plane) {
			break
		}
		x += ball.Vel.X
		var bounced bool
		y, vy, bounced = game.ReflectY(y, vy)
		if bounced {
			bounces++
			if bounces > lookahead {
				break
			}
		}
	}
	return y + game.BallSize/2
}
