package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/rally/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanPlayer scans the playerColumns of a players row
func scanPlayer(s scanner) (*domain.Player, error) {
	var p domain.Player
	pr := &p.Progression
	err := s.Scan(&p.ID, &p.Name, &pr.Level, &pr.Experience, &pr.RankPoints, &pr.RankTier,
		&pr.GamesPlayed, &pr.GamesWon, &pr.GamesLost, &pr.WinRate, &pr.Streak,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanMatchRecord scans a row of matchRecordQuery
func scanMatchRecord(s scanner) (*domain.MatchRecord, error) {
	var m domain.MatchRecord
	var mode string
	var tournamentID, round sql.NullString

	err := s.Scan(&m.ID, &mode, &m.Player1ID, &m.Player1Name, &m.Player2ID, &m.Player2Name,
		&m.Player1Score, &m.Player2Score, &m.WinnerID, &m.DurationMs,
		&tournamentID, &round, &m.EndedAt)
	if err != nil {
		return nil, err
	}

	m.Mode = domain.Mode(mode)
	m.TournamentID = scanNullStringValue(tournamentID)
	m.Round = domain.Round(scanNullStringValue(round))
	return &m, nil
}
