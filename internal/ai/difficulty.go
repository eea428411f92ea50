package ai

import (
	"fmt"
	"strings"
)

// Difficulty is the set of knobs that make an opponent beatable
type Difficulty struct {
	Name string
	// Speed is the paddle step per tick while tracking
	Speed float64
	// ErrorRate is the probability a refresh misreads the intercept
	ErrorRate float64
	// ReactionTicks is the minimum number of ticks between direction reversals
	ReactionTicks int
	// Lookahead is how many wall bounces the prediction follows
	Lookahead int
	// Jitter bounds the continuous aim offset added to every target
	Jitter float64
	// Tolerance is the half-width of the band around the target where the paddle holds
	Tolerance float64
}

var difficulties = map[string]Difficulty{
	"easy": {
		Name: "easy", Speed: 4, ErrorRate: 0.35, ReactionTicks: 20,
		Lookahead: 1, Jitter: 40, Tolerance: 12,
	},
	"medium": {
		Name: "medium", Speed: 6, ErrorRate: 0.2, ReactionTicks: 12,
		Lookahead: 2, Jitter: 25, Tolerance: 10,
	},
	"hard": {
		Name: "hard", Speed: 8, ErrorRate: 0.1, ReactionTicks: 6,
		Lookahead: 3, Jitter: 12, Tolerance: 8,
	},
	"impossible": {
		Name: "impossible", Speed: 10, ErrorRate: 0, ReactionTicks: 0,
		Lookahead: 8, Jitter: 2, Tolerance: 5,
	},
}

// DefaultDifficulty is used when a join omits the tier
const DefaultDifficulty = "medium"

// LookupDifficulty resolves a tier name, case-insensitively
func LookupDifficulty(name string) (Difficulty, error) {
	if name == "" {
		name = DefaultDifficulty
	}
	d, ok := difficulties[strings.ToLower(name)]
	if !ok {
		return Difficulty{}, fmt.Errorf("unknown ai difficulty %q", name)
	}
	return d, nil
}
