package tournament

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ernie/rally/internal/domain"
	"github.com/google/uuid"
)

// BracketSize is the number of players that starts a tournament
const BracketSize = 8

// Ordinals of the seven bracket matches. Quarter-finals 0-3 feed semi-finals
// 4-5 pairwise, and both semi-finals feed the final.
const (
	firstSemiFinal = 4
	finalOrdinal   = 6
	matchCount     = 7
)

// newBracket shuffles players in place and lays out a full bracket with the
// later rounds as empty placeholders.
func newBracket(players []domain.PlayerIdentity, rng *rand.Rand, now time.Time) *domain.Tournament {
	seeded := append([]domain.PlayerIdentity(nil), players...)
	shuffle(seeded, rng)

	t := &domain.Tournament{
		ID:        uuid.NewString(),
		Status:    domain.TournamentQuarterFinals,
		Players:   seeded,
		Matches:   make([]domain.BracketMatch, matchCount),
		CreatedAt: now,
	}
	for i := range t.Matches {
		t.Matches[i] = domain.BracketMatch{
			ID:      fmt.Sprintf("%s-m%d", t.ID[:8], i),
			Ordinal: i,
			Round:   roundOf(i),
		}
	}
	for i := 0; i < firstSemiFinal; i++ {
		p1, p2 := seeded[2*i], seeded[2*i+1]
		t.Matches[i].Player1 = &p1
		t.Matches[i].Player2 = &p2
	}
	return t
}

// shuffle is an unbiased Fisher-Yates over the injected source
func shuffle(players []domain.PlayerIdentity, rng *rand.Rand) {
	for i := len(players) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		players[i], players[j] = players[j], players[i]
	}
}

func roundOf(ordinal int) domain.Round {
	switch {
	case ordinal < firstSemiFinal:
		return domain.RoundQuarterFinal
	case ordinal < finalOrdinal:
		return domain.RoundSemiFinal
	}
	return domain.RoundFinal
}

// feeds returns the ordinal and slot (1 or 2) the winner of ordinal moves to.
// The final feeds nothing.
func feeds(ordinal int) (int, int, bool) {
	switch {
	case ordinal < firstSemiFinal:
		return firstSemiFinal + ordinal/2, ordinal%2 + 1, true
	case ordinal < finalOrdinal:
		return finalOrdinal, ordinal - firstSemiFinal + 1, true
	}
	return 0, 0, false
}

func statusFor(round domain.Round) domain.TournamentStatus {
	switch round {
	case domain.RoundSemiFinal:
		return domain.TournamentSemiFinals
	case domain.RoundFinal:
		return domain.TournamentFinals
	}
	return domain.TournamentQuarterFinals
}

func nextRound(round domain.Round) (domain.Round, bool) {
	switch round {
	case domain.RoundQuarterFinal:
		return domain.RoundSemiFinal, true
	case domain.RoundSemiFinal:
		return domain.RoundFinal, true
	}
	return "", false
}

func findMatch(t *domain.Tournament, matchID string) *domain.BracketMatch {
	for i := range t.Matches {
		if t.Matches[i].ID == matchID {
			return &t.Matches[i]
		}
	}
	return nil
}

// roundComplete reports whether every match of round has a winner
func roundComplete(t *domain.Tournament, round domain.Round) bool {
	for _, m := range t.Matches {
		if m.Round == round && m.WinnerID == nil {
			return false
		}
	}
	return true
}

func playerByID(m *domain.BracketMatch, id int64) (winner, loser *domain.PlayerIdentity, ok bool) {
	switch {
	case m.Player1 != nil && m.Player1.ID == id:
		return m.Player1, m.Player2, true
	case m.Player2 != nil && m.Player2.ID == id:
		return m.Player2, m.Player1, true
	}
	return nil, nil, false
}
