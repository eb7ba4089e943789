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

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type ProblemStore interface {
	// SelectProblem picks the problem closest in rating to the target that
	// neither player has already faced in a completed match. An invalid
	// NullUUID means the catalog had no candidate at all.
	SelectProblem(ctx context.Context, player1ID, player2ID uuid.UUID, targetRating int) (uuid.NullUUID, error)
}

type sqlProblemStore struct {
	logger *zap.Logger
	db     *sql.DB
}

func NewSqlProblemStore(logger *zap.Logger, db *sql.DB) ProblemStore {
	return &sqlProblemStore{
		logger: logger,
		db:     db,
	}
}

func (s *sqlProblemStore) SelectProblem(ctx context.Context, player1ID, player2ID uuid.UUID, targetRating int) (uuid.NullUUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM problems
WHERE id NOT IN (
  SELECT problem_id FROM matches
  WHERE problem_id IS NOT NULL AND status = $3
    AND (player1_id IN ($1, $2) OR player2_id IN ($1, $2))
)
ORDER BY abs(rating - $4), id
LIMIT 1`, player1ID, player2ID, MatchStatusCompleted, targetRating).Scan(&id)
	if err == nil {
		return uuid.NullUUID{UUID: id, Valid: true}, nil
	}
	if err != sql.ErrNoRows {
		s.logger.Error("Error selecting problem", zap.Error(err))
		return uuid.NullUUID{}, err
	}

	// Both players have seen everything near this rating. Fall back to the
	// closest problem regardless of history rather than refusing the match.
	err = s.db.QueryRowContext(ctx, "SELECT id FROM problems ORDER BY abs(rating - $1), id LIMIT 1", targetRating).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return uuid.NullUUID{}, nil
		}
		s.logger.Error("Error selecting fallback problem", zap.Error(err))
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}
