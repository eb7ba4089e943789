// Copyright 2024 The Algo Rumble Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type MatchStatus string

const (
	MatchStatusCreated   MatchStatus = "created"
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusDeclined  MatchStatus = "declined"
	MatchStatusCancelled MatchStatus = "cancelled"
)

func (s MatchStatus) Terminal() bool {
	switch s {
	case MatchStatusCompleted, MatchStatusDeclined, MatchStatusCancelled:
		return true
	}
	return false
}

type Match struct {
	ID               uuid.UUID
	Player1ID        uuid.UUID
	Player2ID        uuid.UUID
	ProblemID        uuid.NullUUID
	WinnerID         uuid.NullUUID
	Status           MatchStatus
	Player1Accepted  bool
	Player2Accepted  bool
	Player1OldRating sql.NullInt64
	Player2OldRating sql.NullInt64
	Player1NewRating sql.NullInt64
	Player2NewRating sql.NullInt64
	StartTime        time.Time
	EndTime          sql.NullTime
}

// IsParticipant reports whether the user plays one of the two sides.
func (m *Match) IsParticipant(userID uuid.UUID) bool {
	return m.Player1ID == userID || m.Player2ID == userID
}

// Opponent returns the other side's user ID. The caller must have checked participation.
func (m *Match) Opponent(userID uuid.UUID) uuid.UUID {
	if m.Player1ID == userID {
		return m.Player2ID
	}
	return m.Player1ID
}

// Accepted reports the acceptance flag for the given participant.
func (m *Match) Accepted(userID uuid.UUID) bool {
	if m.Player1ID == userID {
		return m.Player1Accepted
	}
	return m.Player2Accepted
}

// RatingSnapshot carries the per-side old and new ratings written at completion.
type RatingSnapshot struct {
	Player1Old int
	Player2Old int
	Player1New int
	Player2New int
}

type MatchStore interface {
	CreateMatch(ctx context.Context, match *Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*Match, error)
	// GetActiveOrPendingMatch returns ErrMatchNotFound when the user has no in-progress match.
	GetActiveOrPendingMatch(ctx context.Context, userID uuid.UUID) (*Match, error)
	ListCompletedMatches(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Match, error)
	ListStaleMatches(ctx context.Context, status MatchStatus, olderThan time.Time) ([]uuid.UUID, error)

	// The transition writes below are compare-and-set on status. They return
	// ErrMatchStateConflict when the guard no longer holds and ErrMatchNotFound
	// when the row does not exist.
	SetAccepted(ctx context.Context, id, userID uuid.UUID) error
	ActivateMatch(ctx context.Context, id uuid.UUID, startTime time.Time) error
	CancelMatch(ctx context.Context, id uuid.UUID, endTime time.Time) error
	CompleteMatch(ctx context.Context, id uuid.UUID, winnerID uuid.NullUUID, snapshot *RatingSnapshot, endTime time.Time) error
}

type sqlMatchStore struct {
	logger *zap.Logger
	db     *sql.DB
}

func NewSqlMatchStore(logger *zap.Logger, db *sql.DB) MatchStore {
	return &sqlMatchStore{
		logger: logger,
		db:     db,
	}
}

const matchColumns = "id, player1_id, player2_id, problem_id, winner_id, status, player1_accepted, player2_accepted, player1_old_rating, player2_old_rating, player1_new_rating, player2_new_rating, start_time, end_time"

func scanMatch(scan func(dest ...interface{}) error) (*Match, error) {
	m := &Match{}
	err := scan(&m.ID, &m.Player1ID, &m.Player2ID, &m.ProblemID, &m.WinnerID, &m.Status,
		&m.Player1Accepted, &m.Player2Accepted,
		&m.Player1OldRating, &m.Player2OldRating, &m.Player1NewRating, &m.Player2NewRating,
		&m.StartTime, &m.EndTime)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *sqlMatchStore) CreateMatch(ctx context.Context, match *Match) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO matches (id, player1_id, player2_id, problem_id, status, player1_accepted, player2_accepted, start_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		match.ID, match.Player1ID, match.Player2ID, match.ProblemID, match.Status,
		match.Player1Accepted, match.Player2Accepted, match.StartTime)
	if err != nil {
		s.logger.Error("Error inserting match", zap.String("mid", match.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (s *sqlMatchStore) GetMatch(ctx context.Context, id uuid.UUID) (*Match, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+matchColumns+" FROM matches WHERE id = $1", id)
	match, err := scanMatch(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMatchNotFound
		}
		s.logger.Error("Error querying match", zap.String("mid", id.String()), zap.Error(err))
		return nil, err
	}
	return match, nil
}

func (s *sqlMatchStore) GetActiveOrPendingMatch(ctx context.Context, userID uuid.UUID) (*Match, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+matchColumns+` FROM matches
WHERE (player1_id = $1 OR player2_id = $1) AND status IN ($2, $3)
ORDER BY start_time DESC
LIMIT 1`, userID, MatchStatusPending, MatchStatusActive)
	match, err := scanMatch(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMatchNotFound
		}
		s.logger.Error("Error querying in-progress match", zap.String("uid", userID.String()), zap.Error(err))
		return nil, err
	}
	return match, nil
}

func (s *sqlMatchStore) ListCompletedMatches(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Match, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+matchColumns+` FROM matches
WHERE (player1_id = $1 OR player2_id = $1) AND status = $2
ORDER BY end_time DESC
LIMIT $3 OFFSET $4`, userID, MatchStatusCompleted, limit, offset)
	if err != nil {
		s.logger.Error("Error querying match history", zap.String("uid", userID.String()), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	matches := make([]*Match, 0, limit)
	for rows.Next() {
		match, err := scanMatch(rows.Scan)
		if err != nil {
			s.logger.Error("Error scanning match row", zap.Error(err))
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *sqlMatchStore) ListStaleMatches(ctx context.Context, status MatchStatus, olderThan time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM matches WHERE status = $1 AND start_time < $2", status, olderThan)
	if err != nil {
		s.logger.Error("Error querying stale matches", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sqlMatchStore) SetAccepted(ctx context.Context, id, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET
  player1_accepted = player1_accepted OR (player1_id = $2),
  player2_accepted = player2_accepted OR (player2_id = $2)
WHERE id = $1 AND status = $3`, id, userID, MatchStatusPending)
	if err != nil {
		s.logger.Error("Error updating match acceptance", zap.String("mid", id.String()), zap.Error(err))
		return err
	}
	return s.transitioned(ctx, res, id)
}

func (s *sqlMatchStore) ActivateMatch(ctx context.Context, id uuid.UUID, startTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET status = $2, start_time = $3
WHERE id = $1 AND status = $4 AND player1_accepted AND player2_accepted`,
		id, MatchStatusActive, startTime, MatchStatusPending)
	if err != nil {
		s.logger.Error("Error activating match", zap.String("mid", id.String()), zap.Error(err))
		return err
	}
	return s.transitioned(ctx, res, id)
}

func (s *sqlMatchStore) CancelMatch(ctx context.Context, id uuid.UUID, endTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET status = $2, end_time = $3
WHERE id = $1 AND status = $4`, id, MatchStatusCancelled, endTime, MatchStatusPending)
	if err != nil {
		s.logger.Error("Error cancelling match", zap.String("mid", id.String()), zap.Error(err))
		return err
	}
	return s.transitioned(ctx, res, id)
}

// CompleteMatch commits the terminal status, the winner, the rating snapshot
// columns and both users' new ratings in a single transaction.
func (s *sqlMatchStore) CompleteMatch(ctx context.Context, id uuid.UUID, winnerID uuid.NullUUID, snapshot *RatingSnapshot, endTime time.Time) error {
	var conflict bool
	err := ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		conflict = false
		var player1ID, player2ID uuid.UUID
		err := tx.QueryRowContext(ctx, `
UPDATE matches SET
  status = $2, winner_id = $3, end_time = $4,
  player1_old_rating = $5, player2_old_rating = $6,
  player1_new_rating = $7, player2_new_rating = $8
WHERE id = $1 AND status = $9
RETURNING player1_id, player2_id`,
			id, MatchStatusCompleted, winnerID, endTime,
			snapshot.Player1Old, snapshot.Player2Old, snapshot.Player1New, snapshot.Player2New,
			MatchStatusActive).Scan(&player1ID, &player2ID)
		if err != nil {
			if err == sql.ErrNoRows {
				conflict = true
				return nil
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, "UPDATE users SET rating = $2 WHERE id = $1", player1ID, snapshot.Player1New); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE users SET rating = $2 WHERE id = $1", player2ID, snapshot.Player2New); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Error completing match", zap.String("mid", id.String()), zap.Error(err))
		return err
	}
	if conflict {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *sqlMatchStore) transitioned(ctx context.Context, res sql.Result, id uuid.UUID) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (s *sqlMatchStore) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrMatchNotFound
	}
	return ErrMatchStateConflict
}
