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
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Matchmaker owns the waiting-player queue and the pairing loop.
type Matchmaker interface {
	// Add places the user into the queue. Fails with ErrAlreadyInMatch when
	// the user has an unfinished match and ErrAlreadyQueued when already
	// waiting.
	Add(ctx context.Context, userID uuid.UUID) error
	// Remove takes the user out of the queue. Removing a user who is not
	// queued is not an error.
	Remove(ctx context.Context, userID uuid.UUID) error
	Stop()
}

type LocalMatchmaker struct {
	logger  *zap.Logger
	config  Config
	metrics Metrics

	queueStore   QueueStore
	matchStore   MatchStore
	userStore    UserStore
	problemStore ProblemStore
	registry     MatchRegistry

	wakeCh chan struct{}

	ctx         context.Context
	ctxCancelFn context.CancelFunc
	wg          sync.WaitGroup
}

func NewLocalMatchmaker(logger *zap.Logger, config Config, queueStore QueueStore, matchStore MatchStore, userStore UserStore, problemStore ProblemStore, registry MatchRegistry, metrics Metrics) Matchmaker {
	ctx, ctxCancelFn := context.WithCancel(context.Background())
	m := &LocalMatchmaker{
		logger:  logger,
		config:  config,
		metrics: metrics,

		queueStore:   queueStore,
		matchStore:   matchStore,
		userStore:    userStore,
		problemStore: problemStore,
		registry:     registry,

		wakeCh: make(chan struct{}, 1),

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
	}

	m.wg.Add(1)
	go m.processLoop()

	return m
}

func (m *LocalMatchmaker) Add(ctx context.Context, userID uuid.UUID) error {
	_, err := m.matchStore.GetActiveOrPendingMatch(ctx, userID)
	if err == nil {
		return ErrAlreadyInMatch
	}
	if err != ErrMatchNotFound {
		return err
	}

	user, err := m.userStore.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	added, err := m.queueStore.Enqueue(ctx, &QueueEntry{
		UserID:     userID,
		Rating:     user.Rating,
		EnqueuedAt: time.Now().UTC().Unix(),
	})
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyQueued
	}
	m.metrics.CountEnqueued(1)

	// Nudge the process loop so small queues pair without waiting a full tick.
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}

	m.logger.Debug("User enqueued", zap.String("uid", userID.String()), zap.Int("rating", user.Rating))
	return nil
}

func (m *LocalMatchmaker) Remove(ctx context.Context, userID uuid.UUID) error {
	_, err := m.queueStore.Remove(ctx, userID)
	return err
}

func (m *LocalMatchmaker) Stop() {
	m.ctxCancelFn()
	m.wg.Wait()
}

func (m *LocalMatchmaker) processLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(m.config.GetMatchmaker().IntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.process()
		case <-m.wakeCh:
			m.process()
		}
	}
}

func (m *LocalMatchmaker) process() {
	startAt := time.Now()
	defer func() {
		m.metrics.MatchmakerTick(time.Since(startAt))
	}()

	entries, err := m.queueStore.Entries(m.ctx)
	if err != nil {
		m.logger.Error("Error reading matchmaking queue", zap.Error(err))
		return
	}
	m.metrics.GaugeQueueSize(float64(len(entries)))
	if len(entries) < 2 {
		return
	}

	for _, pair := range formPairs(entries) {
		m.formMatch(pair[0], pair[1])
	}
}

// formPairs pairs waiting players, earliest enqueued first, each with the
// remaining player nearest in rating. Ties go to the earlier enqueued
// candidate. Entries arrive sorted by enqueue time.
func formPairs(entries []*QueueEntry) [][2]*QueueEntry {
	pairs := make([][2]*QueueEntry, 0, len(entries)/2)
	paired := make([]bool, len(entries))

	for i, entry := range entries {
		if paired[i] {
			continue
		}
		best := -1
		bestDistance := 0
		for j := i + 1; j < len(entries); j++ {
			if paired[j] {
				continue
			}
			distance := entries[j].Rating - entry.Rating
			if distance < 0 {
				distance = -distance
			}
			if best == -1 || distance < bestDistance {
				best = j
				bestDistance = distance
			}
		}
		if best == -1 {
			break
		}
		paired[i] = true
		paired[best] = true
		pairs = append(pairs, [2]*QueueEntry{entry, entries[best]})
	}
	return pairs
}

func (m *LocalMatchmaker) formMatch(entry1, entry2 *QueueEntry) {
	ctx := m.ctx

	// The queue can lag reality: a player may have entered a match through
	// another path since enqueueing. Re-verify both against the store and
	// silently drop anyone no longer eligible.
	for _, entry := range []*QueueEntry{entry1, entry2} {
		_, err := m.matchStore.GetActiveOrPendingMatch(ctx, entry.UserID)
		if err == ErrMatchNotFound {
			continue
		}
		if err == nil {
			m.logger.Debug("Dropping busy player from queue", zap.String("uid", entry.UserID.String()))
			if _, err := m.queueStore.Remove(ctx, entry.UserID); err != nil {
				m.logger.Error("Error removing queue entry", zap.String("uid", entry.UserID.String()), zap.Error(err))
			}
		} else {
			m.logger.Error("Error verifying player eligibility", zap.String("uid", entry.UserID.String()), zap.Error(err))
		}
		return
	}

	users, err := m.userStore.GetUsers(ctx, []uuid.UUID{entry1.UserID, entry2.UserID})
	if err != nil {
		m.logger.Error("Error reading paired users", zap.Error(err))
		return
	}
	player1, found1 := users[entry1.UserID]
	player2, found2 := users[entry2.UserID]
	if !found1 || !found2 {
		// A queued account no longer exists. Drop whatever is stale.
		for _, entry := range []*QueueEntry{entry1, entry2} {
			if _, found := users[entry.UserID]; !found {
				_, _ = m.queueStore.Remove(ctx, entry.UserID)
			}
		}
		return
	}

	targetRating := (player1.Rating + player2.Rating) / 2
	problemID, err := m.problemStore.SelectProblem(ctx, player1.ID, player2.ID, targetRating)
	if err != nil {
		m.logger.Error("Error selecting problem", zap.Error(err))
		return
	}

	if _, err := m.registry.CreatePending(ctx, player1, player2, problemID); err != nil {
		m.logger.Error("Error creating match", zap.String("player1", player1.ID.String()),
			zap.String("player2", player2.ID.String()), zap.Error(err))
		return
	}
	m.metrics.CountPairsFormed(1)

	for _, entry := range []*QueueEntry{entry1, entry2} {
		if _, err := m.queueStore.Remove(ctx, entry.UserID); err != nil {
			m.logger.Error("Error removing paired queue entry", zap.String("uid", entry.UserID.String()), zap.Error(err))
		}
	}
}
