package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/rally/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// notFound maps sql.ErrNoRows onto the domain sentinel
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

// --- Player methods ---

const playerColumns = `id, name, level, experience, rank_points, rank_tier,
	games_played, games_won, games_lost, win_rate, streak, created_at, updated_at`

// CreatePlayer registers a player with fresh progression
func (s *Store) CreatePlayer(ctx context.Context, name, passwordHash string) (*domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("player name is required")
	}
	prog := domain.NewProgression()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO players (name, password_hash, level, rank_tier)
		VALUES (?, ?, ?, ?)
	`, name, passwordHash, prog.Level, prog.RankTier)
	if err != nil {
		return nil, fmt.Errorf("creating player %s: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetPlayer(ctx, id)
}

// GetPlayer returns a player and its progression
func (s *Store) GetPlayer(ctx context.Context, id int64) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("player %d", id))
	}
	return p, nil
}

// GetPlayerByName finds a player by name, case-insensitively
func (s *Store) GetPlayerByName(ctx context.Context, name string) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE name = ?`, name)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, notFound(err, "player "+name)
	}
	return p, nil
}

// ListPlayers returns all players ordered by name
func (s *Store) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// UpdatePlayer writes a player's progression
func (s *Store) UpdatePlayer(ctx context.Context, p *domain.Player) error {
	return updateProgression(ctx, s.db, p)
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateProgression(ctx context.Context, db execer, p *domain.Player) error {
	pr := p.Progression
	result, err := db.ExecContext(ctx, `
		UPDATE players SET
			level = ?, experience = ?, rank_points = ?, rank_tier = ?,
			games_played = ?, games_won = ?, games_lost = ?, win_rate = ?, streak = ?,
			updated_at = ?
		WHERE id = ?
	`, pr.Level, pr.Experience, pr.RankPoints, pr.RankTier,
		pr.GamesPlayed, pr.GamesWon, pr.GamesLost, pr.WinRate, pr.Streak,
		formatTimestamp(time.Now()), p.ID)
	if err != nil {
		return fmt.Errorf("updating player %d: %w", p.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("player %d: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Credential methods ---

// Credentials is the login record of a player
type Credentials struct {
	PlayerID     int64
	Name         string
	PasswordHash string
	LastLogin    *time.Time
}

// GetCredentials returns the password hash for a player name
func (s *Store) GetCredentials(ctx context.Context, name string) (*Credentials, error) {
	var c Credentials
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, password_hash, last_login FROM players WHERE name = ?
	`, name).Scan(&c.PlayerID, &c.Name, &c.PasswordHash, &lastLogin)
	if err != nil {
		return nil, notFound(err, "player "+name)
	}
	c.LastLogin = scanNullTime(lastLogin)
	return &c, nil
}

// UpdatePassword replaces a player's password hash
func (s *Store) UpdatePassword(ctx context.Context, playerID int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE players SET password_hash = ? WHERE id = ?`, passwordHash, playerID)
	return err
}

// UpdateLastLogin updates the last login timestamp
func (s *Store) UpdateLastLogin(ctx context.Context, playerID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET last_login = CURRENT_TIMESTAMP WHERE id = ?
	`, playerID)
	return err
}

// --- Match result methods ---

// RecordMatchResult stores a result and the updated progression of its
// participants in one transaction. A result id that was stored before fails
// with domain.ErrAlreadyReconciled and changes nothing.
func (s *Store) RecordMatchResult(ctx context.Context, r domain.MatchResult, players ...domain.Player) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	endedAt := r.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO match_results (id, mode, player1_id, player2_id, player1_score, player2_score,
			winner_id, duration_ms, forfeit, tournament_id, bracket_match_id, round, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, string(r.Mode), r.Player1ID, r.Player2ID, r.Player1Score, r.Player2Score,
		r.WinnerID, r.Duration.Milliseconds(), r.Forfeit,
		nullString(r.TournamentID), nullString(r.MatchID), nullString(string(r.Round)),
		formatTimestamp(endedAt))
	if err != nil {
		return fmt.Errorf("inserting match result: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrAlreadyReconciled
	}

	for i := range players {
		if err := updateProgression(ctx, tx, &players[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const matchRecordQuery = `
	SELECT m.id, m.mode, m.player1_id, p1.name, m.player2_id, p2.name,
		m.player1_score, m.player2_score, m.winner_id, m.duration_ms,
		m.tournament_id, m.round, m.ended_at
	FROM match_results m
	JOIN players p1 ON p1.id = m.player1_id
	JOIN players p2 ON p2.id = m.player2_id
`

// GetRecentMatches returns the most recently finished ranked matches
func (s *Store) GetRecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, matchRecordQuery+`ORDER BY m.ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectMatchRecords(rows)
}

// GetPlayerMatches returns a player's most recent matches
func (s *Store) GetPlayerMatches(ctx context.Context, playerID int64, limit int) ([]domain.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, matchRecordQuery+`
		WHERE m.player1_id = ? OR m.player2_id = ?
		ORDER BY m.ended_at DESC LIMIT ?
	`, playerID, playerID, limit)
	if err != nil {
		return nil, err
	}
	return collectMatchRecords(rows)
}

func collectMatchRecords(rows *sql.Rows) ([]domain.MatchRecord, error) {
	defer rows.Close()
	records := []domain.MatchRecord{}
	for rows.Next() {
		m, err := scanMatchRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *m)
	}
	return records, rows.Err()
}

// --- Leaderboard methods ---

// GetLeaderboard ranks players by rank points, then experience
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, rank_points, rank_tier, level, games_played, win_rate
		FROM players
		ORDER BY rank_points DESC, experience DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Name, &e.RankPoints, &e.RankTier, &e.Level, &e.GamesPlayed, &e.WinRate); err != nil {
			return nil, err
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Tournament methods ---

// SaveTournament creates or replaces an archived bracket
func (s *Store) SaveTournament(ctx context.Context, t domain.Tournament) error {
	bracket, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding tournament %s: %w", t.ID, err)
	}
	var championID *int64
	if t.Champion != nil {
		championID = &t.Champion.ID
	}
	var completedAt *string
	if t.CompletedAt != nil {
		ts := formatTimestamp(*t.CompletedAt)
		completedAt = &ts
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tournaments (id, status, champion_id, bracket, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			champion_id = excluded.champion_id,
			bracket = excluded.bracket,
			completed_at = excluded.completed_at
	`, t.ID, string(t.Status), championID, string(bracket), formatTimestamp(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("saving tournament %s: %w", t.ID, err)
	}
	return nil
}

// GetTournament loads an archived bracket
func (s *Store) GetTournament(ctx context.Context, id string) (*domain.Tournament, error) {
	var bracket string
	err := s.db.QueryRowContext(ctx, `SELECT bracket FROM tournaments WHERE id = ?`, id).Scan(&bracket)
	if err != nil {
		return nil, notFound(err, "tournament "+id)
	}
	var t domain.Tournament
	if err := json.Unmarshal([]byte(bracket), &t); err != nil {
		return nil, fmt.Errorf("decoding tournament %s: %w", id, err)
	}
	return &t, nil
}

// CountTournamentWins returns how many archived brackets a player won
func (s *Store) CountTournamentWins(ctx context.Context, playerID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tournaments WHERE champion_id = ?
	`, playerID).Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
