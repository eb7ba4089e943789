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
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// testConfig uses timers long enough to never fire during a test run.
func testConfig() Config {
	c := NewConfig()
	c.Matchmaker.AcceptanceTimeoutSec = 60
	c.Matchmaker.DrawTimeoutSec = 3600
	c.Matchmaker.SweepIntervalSec = 3600
	return c
}

// shortTimerConfig makes the acceptance and draw timers fire almost
// immediately for timeout behavior tests.
func shortTimerConfig() Config {
	c := NewConfig()
	c.Matchmaker.AcceptanceTimeoutSec = 1
	c.Matchmaker.DrawTimeoutSec = 1
	c.Matchmaker.SweepIntervalSec = 3600
	return c
}

type fakeUserStore struct {
	sync.Mutex
	users map[uuid.UUID]*User
}

func newFakeUserStore(users ...*User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[uuid.UUID]*User)}
	for _, user := range users {
		s.users[user.ID] = user
	}
	return s
}

func (s *fakeUserStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	s.Lock()
	defer s.Unlock()
	user, found := s.users[id]
	if !found {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	s.Lock()
	defer s.Unlock()
	users := make(map[uuid.UUID]*User, len(ids))
	for _, id := range ids {
		if user, found := s.users[id]; found {
			copied := *user
			users[id] = &copied
		}
	}
	return users, nil
}

// fakeMatchStore mirrors the SQL store's compare-and-set transition
// semantics in memory.
type fakeMatchStore struct {
	sync.Mutex
	matches map[uuid.UUID]*Match
	users   *fakeUserStore
}

func newFakeMatchStore(users *fakeUserStore) *fakeMatchStore {
	return &fakeMatchStore{
		matches: make(map[uuid.UUID]*Match),
		users:   users,
	}
}

func (s *fakeMatchStore) CreateMatch(ctx context.Context, match *Match) error {
	s.Lock()
	defer s.Unlock()
	copied := *match
	s.matches[match.ID] = &copied
	return nil
}

func (s *fakeMatchStore) GetMatch(ctx context.Context, id uuid.UUID) (*Match, error) {
	s.Lock()
	defer s.Unlock()
	match, found := s.matches[id]
	if !found {
		return nil, ErrMatchNotFound
	}
	copied := *match
	return &copied, nil
}

func (s *fakeMatchStore) GetActiveOrPendingMatch(ctx context.Context, userID uuid.UUID) (*Match, error) {
	s.Lock()
	defer s.Unlock()
	for _, match := range s.matches {
		if match.IsParticipant(userID) && (match.Status == MatchStatusPending || match.Status == MatchStatusActive) {
			copied := *match
			return &copied, nil
		}
	}
	return nil, ErrMatchNotFound
}

func (s *fakeMatchStore) ListCompletedMatches(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Match, error) {
	s.Lock()
	defer s.Unlock()
	matches := make([]*Match, 0)
	for _, match := range s.matches {
		if match.IsParticipant(userID) && match.Status == MatchStatusCompleted {
			copied := *match
			matches = append(matches, &copied)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].EndTime.Time.After(matches[j].EndTime.Time)
	})
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *fakeMatchStore) ListStaleMatches(ctx context.Context, status MatchStatus, olderThan time.Time) ([]uuid.UUID, error) {
	s.Lock()
	defer s.Unlock()
	ids := make([]uuid.UUID, 0)
	for _, match := range s.matches {
		if match.Status == status && match.StartTime.Before(olderThan) {
			ids = append(ids, match.ID)
		}
	}
	return ids, nil
}

func (s *fakeMatchStore) SetAccepted(ctx context.Context, id, userID uuid.UUID) error {
	s.Lock()
	defer s.Unlock()
	match, found := s.matches[id]
	if !found {
		return ErrMatchNotFound
	}
	if match.Status != MatchStatusPending {
		return ErrMatchStateConflict
	}
	if match.Player1ID == userID {
		match.Player1Accepted = true
	}
	if match.Player2ID == userID {
		match.Player2Accepted = true
	}
	return nil
}

func (s *fakeMatchStore) ActivateMatch(ctx context.Context, id uuid.UUID, startTime time.Time) error {
	s.Lock()
	defer s.Unlock()
	match, found := s.matches[id]
	if !found {
		return ErrMatchNotFound
	}
	if match.Status != MatchStatusPending || !match.Player1Accepted || !match.Player2Accepted {
		return ErrMatchStateConflict
	}
	match.Status = MatchStatusActive
	match.StartTime = startTime
	return nil
}

func (s *fakeMatchStore) CancelMatch(ctx context.Context, id uuid.UUID, endTime time.Time) error {
	s.Lock()
	defer s.Unlock()
	match, found := s.matches[id]
	if !found {
		return ErrMatchNotFound
	}
	if match.Status != MatchStatusPending {
		return ErrMatchStateConflict
	}
	match.Status = MatchStatusCancelled
	match.EndTime.Time, match.EndTime.Valid = endTime, true
	return nil
}

func (s *fakeMatchStore) CompleteMatch(ctx context.Context, id uuid.UUID, winnerID uuid.NullUUID, snapshot *RatingSnapshot, endTime time.Time) error {
	s.Lock()
	defer s.Unlock()
	match, found := s.matches[id]
	if !found {
		return ErrMatchNotFound
	}
	if match.Status != MatchStatusActive {
		return ErrMatchStateConflict
	}
	match.Status = MatchStatusCompleted
	match.WinnerID = winnerID
	match.EndTime.Time, match.EndTime.Valid = endTime, true
	match.Player1OldRating.Int64, match.Player1OldRating.Valid = int64(snapshot.Player1Old), true
	match.Player2OldRating.Int64, match.Player2OldRating.Valid = int64(snapshot.Player2Old), true
	match.Player1NewRating.Int64, match.Player1NewRating.Valid = int64(snapshot.Player1New), true
	match.Player2NewRating.Int64, match.Player2NewRating.Valid = int64(snapshot.Player2New), true

	if s.users != nil {
		s.users.Lock()
		if user, found := s.users.users[match.Player1ID]; found {
			user.Rating = snapshot.Player1New
		}
		if user, found := s.users.users[match.Player2ID]; found {
			user.Rating = snapshot.Player2New
		}
		s.users.Unlock()
	}
	return nil
}

type fakeQueueStore struct {
	sync.Mutex
	entries []*QueueEntry
	blocked map[string]struct{}
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{blocked: make(map[string]struct{})}
}

func (s *fakeQueueStore) Enqueue(ctx context.Context, entry *QueueEntry) (bool, error) {
	s.Lock()
	defer s.Unlock()
	for _, existing := range s.entries {
		if existing.UserID == entry.UserID {
			return false, nil
		}
	}
	copied := *entry
	s.entries = append(s.entries, &copied)
	return true, nil
}

func (s *fakeQueueStore) Remove(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.Lock()
	defer s.Unlock()
	for i, existing := range s.entries {
		if existing.UserID == userID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeQueueStore) Entries(ctx context.Context) ([]*QueueEntry, error) {
	s.Lock()
	defer s.Unlock()
	entries := make([]*QueueEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		copied := *entry
		entries = append(entries, &copied)
	}
	return entries, nil
}

func (s *fakeQueueStore) BlockToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.Lock()
	defer s.Unlock()
	s.blocked[tokenID] = struct{}{}
	return nil
}

func (s *fakeQueueStore) IsTokenBlocked(ctx context.Context, tokenID string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	_, found := s.blocked[tokenID]
	return found, nil
}

func (s *fakeQueueStore) Stop() {}

type fakeProblemStore struct {
	problemID uuid.NullUUID
}

func (s *fakeProblemStore) SelectProblem(ctx context.Context, player1ID, player2ID uuid.UUID, targetRating int) (uuid.NullUUID, error) {
	return s.problemID, nil
}

// fakeRouter captures every event per recipient for assertions.
type fakeRouter struct {
	sync.Mutex
	events map[uuid.UUID][]interface{}
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{events: make(map[uuid.UUID][]interface{})}
}

func (r *fakeRouter) SendToUser(userID uuid.UUID, payload interface{}) {
	r.Lock()
	defer r.Unlock()
	r.events[userID] = append(r.events[userID], payload)
}

func (r *fakeRouter) eventsFor(userID uuid.UUID) []interface{} {
	r.Lock()
	defer r.Unlock()
	return append([]interface{}(nil), r.events[userID]...)
}

type fakeMetrics struct{}

func (fakeMetrics) CountEnqueued(delta int64)         {}
func (fakeMetrics) CountPairsFormed(delta int64)      {}
func (fakeMetrics) CountMatchesCompleted(delta int64) {}
func (fakeMetrics) CountMatchesCancelled(delta int64) {}
func (fakeMetrics) CountMatchesDrawn(delta int64)     {}
func (fakeMetrics) CountDroppedEvents(delta int64)    {}
func (fakeMetrics) GaugeSessions(value float64)       {}
func (fakeMetrics) GaugeQueueSize(value float64)      {}
func (fakeMetrics) MatchmakerTick(d time.Duration)    {}
func (fakeMetrics) Stop(logger *zap.Logger)           {}
