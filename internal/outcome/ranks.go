package outcome

import (
	"math"

	"github.com/ernie/rally/internal/domain"
)

const (
	MinRankPoints = 0
	MaxRankPoints = 999

	// bandWidth is the rank-point span of every band below Radiant
	bandWidth = 20
)

var bands = []string{
	"Bronze I", "Bronze II", "Bronze III",
	"Silver I", "Silver II", "Silver III",
	"Gold I", "Gold II", "Gold III",
	"Platinum I", "Platinum II", "Platinum III",
	"Diamond I", "Diamond II", "Diamond III",
	"Immortal I", "Immortal II", "Immortal III",
	"Radiant",
}

// RadiantThreshold is the first rank-point value of the top band
var RadiantThreshold = (len(bands) - 1) * bandWidth

// TierFor maps rank points to a tier name and level (1-based band index)
func TierFor(rankPoints int) (string, int) {
	idx := clampRR(rankPoints) / bandWidth
	if idx >= len(bands) {
		idx = len(bands) - 1
	}
	return bands[idx], idx + 1
}

func clampRR(rr int) int {
	if rr < MinRankPoints {
		return MinRankPoints
	}
	if rr > MaxRankPoints {
		return MaxRankPoints
	}
	return rr
}

// Ranked win: base XP 25 and RR 3, plus a streak bonus
const (
	winXP        = 25
	winRR        = 3
	lossXP       = 10
	lossRR       = -2
	maxStreakXP  = 10
	maxStreakRR  = 2
	streakXPStep = 2
)

// ApplyRanked returns p after one ranked matchmaking result along with the
// xp and rank-point deltas that were added.
func ApplyRanked(p domain.Progression, won bool) (domain.Progression, int64, int) {
	var xp int64
	var rr int
	p.GamesPlayed++
	if won {
		xp = winXP + int64(min(p.Streak*streakXPStep, maxStreakXP))
		rr = winRR + min(p.Streak/2, maxStreakRR)
		p.GamesWon++
		p.Streak++
	} else {
		xp = lossXP
		rr = lossRR
		p.GamesLost++
		p.Streak = 0
	}
	return adjust(p, xp, rr)
}

// ApplyReward adds a fixed reward without touching game counts or streak,
// as tournament rounds do.
func ApplyReward(p domain.Progression, xp int64, rr int) (domain.Progression, int64, int) {
	return adjust(p, xp, rr)
}

// adjust applies the deltas, clamps rank points, and recomputes the derived
// fields. The returned rank-point delta is the clamped, effective one.
func adjust(p domain.Progression, xp int64, rr int) (domain.Progression, int64, int) {
	before := p.RankPoints
	p.Experience += xp
	p.RankPoints = clampRR(p.RankPoints + rr)
	p.RankTier, p.Level = TierFor(p.RankPoints)
	p.WinRate = winRate(p.GamesWon, p.GamesPlayed)
	return p, xp, p.RankPoints - before
}

func winRate(won, played int) float64 {
	if played == 0 {
		return 0
	}
	return math.Round(float64(won)/float64(played)*100) / 100
}
