package tournament

import "github.com/ernie/rally/internal/domain"

// Reward is the rank-point and experience adjustment for one bracket result
type Reward struct {
	RankPoints int   `json:"rank_points"`
	Experience int64 `json:"experience"`
}

type roundRewards struct {
	win  Reward
	loss Reward
}

var schedule = map[domain.Round]roundRewards{
	domain.RoundQuarterFinal: {win: Reward{RankPoints: 2, Experience: 15}, loss: Reward{RankPoints: -5, Experience: 5}},
	domain.RoundSemiFinal:    {win: Reward{RankPoints: 5, Experience: 40}, loss: Reward{RankPoints: 0, Experience: 25}},
	domain.RoundFinal:        {win: Reward{RankPoints: 10, Experience: 100}, loss: Reward{RankPoints: 3, Experience: 60}},
}

// RewardFor returns the schedule entry for a round. Unknown rounds earn nothing.
func RewardFor(round domain.Round, won bool) Reward {
	r, ok := schedule[round]
	if !ok {
		return Reward{}
	}
	if won {
		return r.win
	}
	return r.loss
}
