package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ernie/rally/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "rally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePlayer(ctx, "  alice ", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, domain.NewProgression(), p.Progression)
	assert.False(t, p.CreatedAt.IsZero())

	byName, err := s.GetPlayerByName(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	_, err = s.CreatePlayer(ctx, "Alice", "other")
	assert.Error(t, err, "names are unique regardless of case")

	_, err = s.CreatePlayer(ctx, " ", "hash")
	assert.Error(t, err)

	_, err = s.GetPlayer(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdatePlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreatePlayer(ctx, "bob", "hash")
	require.NoError(t, err)

	p.Progression.RankPoints = 42
	p.Progression.RankTier = "Bronze III"
	p.Progression.Level = 3
	p.Progression.Experience = 250
	p.Progression.WinRate = 0.5
	require.NoError(t, s.UpdatePlayer(ctx, p))

	got, err := s.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Progression, got.Progression)

	missing := &domain.Player{ID: 999}
	assert.ErrorIs(t, s.UpdatePlayer(ctx, missing), domain.ErrNotFound)
}

func TestCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreatePlayer(ctx, "carol", "secret-hash")
	require.NoError(t, err)

	c, err := s.GetCredentials(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, p.ID, c.PlayerID)
	assert.Equal(t, "secret-hash", c.PasswordHash)
	assert.Nil(t, c.LastLogin)

	require.NoError(t, s.UpdateLastLogin(ctx, p.ID))
	require.NoError(t, s.UpdatePassword(ctx, p.ID, "new-hash"))
	c, err = s.GetCredentials(ctx, "carol")
	require.NoError(t, err)
	assert.NotNil(t, c.LastLogin)
	assert.Equal(t, "new-hash", c.PasswordHash)

	_, err = s.GetCredentials(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordMatchResultIsOnceOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.CreatePlayer(ctx, "a", "h")
	require.NoError(t, err)
	b, err := s.CreatePlayer(ctx, "b", "h")
	require.NoError(t, err)

	r := domain.MatchResult{
		ID: "result-1", Mode: domain.ModeMatchmaking,
		Player1ID: a.ID, Player2ID: b.ID, Player1Score: 5, Player2Score: 3,
		WinnerID: a.ID, Duration: 90 * time.Second, EndedAt: time.Now(),
	}
	a.Progression.RankPoints = 3
	a.Progression.GamesPlayed = 1
	require.NoError(t, s.RecordMatchResult(ctx, r, *a, *b))

	a.Progression.RankPoints = 100
	err = s.RecordMatchResult(ctx, r, *a)
	assert.ErrorIs(t, err, domain.ErrAlreadyReconciled)

	got, err := s.GetPlayer(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Progression.RankPoints, "rejected write leaves progression alone")

	matches, err := s.GetRecentMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Player1Name)
	assert.Equal(t, "b", matches[0].Player2Name)
	assert.Equal(t, int64(90_000), matches[0].DurationMs)
	assert.Empty(t, matches[0].TournamentID)

	mine, err := s.GetPlayerMatches(ctx, b.ID, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestRecordMatchResultRollsBackOnMissingPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.CreatePlayer(ctx, "a", "h")
	require.NoError(t, err)
	b, err := s.CreatePlayer(ctx, "b", "h")
	require.NoError(t, err)

	r := domain.MatchResult{ID: "r", Mode: domain.ModeMatchmaking, Player1ID: a.ID, Player2ID: b.ID, WinnerID: a.ID}
	err = s.RecordMatchResult(ctx, r, *a, domain.Player{ID: 404})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	matches, err := s.GetRecentMatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLeaderboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, rr := range []int{10, 80, 45} {
		p, err := s.CreatePlayer(ctx, string(rune('a'+i)), "h")
		require.NoError(t, err)
		p.Progression.RankPoints = rr
		require.NoError(t, s.UpdatePlayer(ctx, p))
	}

	entries, err := s.GetLeaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Name)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "c", entries[1].Name)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestTournamentArchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	champ, err := s.CreatePlayer(ctx, "champ", "h")
	require.NoError(t, err)

	done := time.Now().UTC().Truncate(time.Second)
	winner := champ.ID
	tour := domain.Tournament{
		ID:          "t-1",
		Status:      domain.TournamentCompleted,
		Players:     []domain.PlayerIdentity{{ID: champ.ID, Name: "champ"}},
		Matches:     []domain.BracketMatch{{ID: "t-1-m6", Ordinal: 6, Round: domain.RoundFinal, WinnerID: &winner}},
		Champion:    &domain.PlayerIdentity{ID: champ.ID, Name: "champ"},
		CreatedAt:   done.Add(-time.Hour),
		CompletedAt: &done,
	}
	require.NoError(t, s.SaveTournament(ctx, tour))
	require.NoError(t, s.SaveTournament(ctx, tour), "saving twice replaces")

	got, err := s.GetTournament(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, tour.ID, got.ID)
	assert.Equal(t, domain.TournamentCompleted, got.Status)
	require.NotNil(t, got.Champion)
	assert.Equal(t, champ.ID, got.Champion.ID)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, winner, *got.Matches[0].WinnerID)

	wins, err := s.CountTournamentWins(ctx, champ.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, wins)

	_, err = s.GetTournament(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
