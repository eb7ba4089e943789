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
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// DefaultRating is the rating assigned to newly registered players.
const DefaultRating = 1000

type User struct {
	ID        uuid.UUID
	Username  string
	Rating    int
	CreatedAt time.Time
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error)
}

type sqlUserStore struct {
	logger *zap.Logger
	db     *sql.DB
}

func NewSqlUserStore(logger *zap.Logger, db *sql.DB) UserStore {
	return &sqlUserStore{
		logger: logger,
		db:     db,
	}
}

func (s *sqlUserStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user := &User{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT username, rating, created_at FROM users WHERE id = $1", id).
		Scan(&user.Username, &user.Rating, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		s.logger.Error("Error querying user", zap.String("uid", id.String()), zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (s *sqlUserStore) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*User{}, nil
	}

	params := make([]interface{}, 0, len(ids))
	placeholders := make([]string, 0, len(ids))
	for i, id := range ids {
		params = append(params, id)
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
	}

	query := "SELECT id, username, rating, created_at FROM users WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		s.logger.Error("Error querying users", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	users := make(map[uuid.UUID]*User, len(ids))
	for rows.Next() {
		user := &User{}
		if err := rows.Scan(&user.ID, &user.Username, &user.Rating, &user.CreatedAt); err != nil {
			s.logger.Error("Error scanning user row", zap.Error(err))
			return nil, err
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
