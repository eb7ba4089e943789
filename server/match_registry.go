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
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// MatchRegistry drives the per-match lifecycle: pending creation, acceptance
// accounting, timers, and result finalization with rating updates.
type MatchRegistry interface {
	// CreatePending creates a PENDING match between the two players and
	// notifies both sides. The acceptance timer starts immediately.
	CreatePending(ctx context.Context, player1, player2 *User, problemID uuid.NullUUID) (*Match, error)
	Accept(ctx context.Context, matchID, userID uuid.UUID) error
	Decline(ctx context.Context, matchID, userID uuid.UUID) error
	// SubmitVerdict reduces a judged submission to a state transition. A
	// correct verdict finalizes the match with the submitter as winner; an
	// incorrect one only notifies the submitter.
	SubmitVerdict(ctx context.Context, matchID, userID uuid.UUID, correct bool) error
	Capitulate(ctx context.Context, matchID, loserID uuid.UUID) error

	Stop()
}

// keyedMutex serializes all inputs for one match while letting distinct
// matches proceed in parallel. Entries are reference counted so the map does
// not grow with match history.
type keyedMutex struct {
	sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	mutex sync.Mutex
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[uuid.UUID]*keyedLock),
	}
}

func (k *keyedMutex) Lock(id uuid.UUID) {
	k.Mutex.Lock()
	lock, found := k.locks[id]
	if !found {
		lock = &keyedLock{}
		k.locks[id] = lock
	}
	lock.refs++
	k.Mutex.Unlock()

	lock.mutex.Lock()
}

func (k *keyedMutex) Unlock(id uuid.UUID) {
	k.Mutex.Lock()
	lock := k.locks[id]
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, id)
	}
	k.Mutex.Unlock()

	lock.mutex.Unlock()
}

type LocalMatchRegistry struct {
	logger  *zap.Logger
	config  Config
	metrics Metrics

	matchStore MatchStore
	userStore  UserStore
	router     MessageRouter

	locks *keyedMutex

	ctx         context.Context
	ctxCancelFn context.CancelFunc
	wg          sync.WaitGroup
}

func NewLocalMatchRegistry(logger *zap.Logger, config Config, matchStore MatchStore, userStore UserStore, router MessageRouter, metrics Metrics) MatchRegistry {
	ctx, ctxCancelFn := context.WithCancel(context.Background())
	r := &LocalMatchRegistry{
		logger:  logger,
		config:  config,
		metrics: metrics,

		matchStore: matchStore,
		userStore:  userStore,
		router:     router,

		locks: newKeyedMutex(),

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
	}

	r.wg.Add(1)
	go r.sweepLoop()

	return r
}

func (r *LocalMatchRegistry) CreatePending(ctx context.Context, player1, player2 *User, problemID uuid.NullUUID) (*Match, error) {
	match := &Match{
		ID:        uuid.Must(uuid.NewV4()),
		Player1ID: player1.ID,
		Player2ID: player2.ID,
		ProblemID: problemID,
		Status:    MatchStatusPending,
		StartTime: time.Now().UTC(),
	}
	if err := r.matchStore.CreateMatch(ctx, match); err != nil {
		return nil, err
	}

	timeout := r.config.GetMatchmaker().AcceptanceTimeoutSec
	time.AfterFunc(time.Duration(timeout)*time.Second, func() {
		r.acceptanceTimeout(match.ID)
	})

	problemIDStr := ""
	if problemID.Valid {
		problemIDStr = problemID.UUID.String()
	}
	r.router.SendToUser(player1.ID, &MatchFoundEvent{
		Status:           EventMatchFound,
		MatchID:          match.ID.String(),
		OpponentID:       player2.ID.String(),
		OpponentUsername: player2.Username,
		OpponentRating:   player2.Rating,
		ProblemID:        problemIDStr,
		TimeoutSec:       timeout,
		Message:          fmt.Sprintf("Match found against %s. You have %d seconds to accept.", player2.Username, timeout),
	})
	r.router.SendToUser(player2.ID, &MatchFoundEvent{
		Status:           EventMatchFound,
		MatchID:          match.ID.String(),
		OpponentID:       player1.ID.String(),
		OpponentUsername: player1.Username,
		OpponentRating:   player1.Rating,
		ProblemID:        problemIDStr,
		TimeoutSec:       timeout,
		Message:          fmt.Sprintf("Match found against %s. You have %d seconds to accept.", player1.Username, timeout),
	})

	r.logger.Info("Created pending match", zap.String("mid", match.ID.String()),
		zap.String("player1", player1.ID.String()), zap.String("player2", player2.ID.String()))
	return match, nil
}

func (r *LocalMatchRegistry) Accept(ctx context.Context, matchID, userID uuid.UUID) error {
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsParticipant(userID) {
		return ErrNotParticipant
	}
	if match.Status != MatchStatusPending {
		return ErrMatchStateConflict
	}
	if match.Accepted(userID) {
		// Repeated accept from the same side changes nothing and must not
		// emit a second event.
		return nil
	}

	if err := r.matchStore.SetAccepted(ctx, matchID, userID); err != nil {
		return err
	}
	match, err = r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}

	if !(match.Player1Accepted && match.Player2Accepted) {
		event := &MatchAcceptStatusEvent{
			Status:          EventMatchAcceptStatus,
			MatchID:         matchID.String(),
			Player1Accepted: match.Player1Accepted,
			Player2Accepted: match.Player2Accepted,
			Message:         "Waiting for your opponent to accept.",
		}
		r.router.SendToUser(match.Player1ID, event)
		r.router.SendToUser(match.Player2ID, event)
		return nil
	}

	startTime := time.Now().UTC()
	if err := r.matchStore.ActivateMatch(ctx, matchID, startTime); err != nil {
		return err
	}
	time.AfterFunc(time.Duration(r.config.GetMatchmaker().DrawTimeoutSec)*time.Second, func() {
		r.drawTimeout(matchID)
	})

	users, err := r.userStore.GetUsers(ctx, []uuid.UUID{match.Player1ID, match.Player2ID})
	if err != nil {
		return err
	}
	problemIDStr := ""
	if match.ProblemID.Valid {
		problemIDStr = match.ProblemID.UUID.String()
	}
	r.sendToBoth(match, func(side, opponent uuid.UUID) interface{} {
		opponentUsername := ""
		if opponentUser, found := users[opponent]; found {
			opponentUsername = opponentUser.Username
		}
		return &MatchStartedEvent{
			Status:           EventMatchStarted,
			MatchID:          matchID.String(),
			OpponentUsername: opponentUsername,
			ProblemID:        problemIDStr,
			StartTime:        startTime.Format(time.RFC3339),
			Message:          "Both players accepted. The match has started.",
		}
	})

	r.logger.Info("Match started", zap.String("mid", matchID.String()))
	return nil
}

func (r *LocalMatchRegistry) Decline(ctx context.Context, matchID, userID uuid.UUID) error {
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsParticipant(userID) {
		return ErrNotParticipant
	}
	if match.Status != MatchStatusPending {
		return ErrMatchStateConflict
	}

	if err := r.matchStore.CancelMatch(ctx, matchID, time.Now().UTC()); err != nil {
		return err
	}
	r.metrics.CountMatchesCancelled(1)

	event := &MatchCancelledEvent{
		Status:  EventMatchCancelled,
		MatchID: matchID.String(),
		Reason:  "declined",
		Message: "The match was declined.",
	}
	r.router.SendToUser(match.Player1ID, event)
	r.router.SendToUser(match.Player2ID, event)

	r.logger.Info("Match declined", zap.String("mid", matchID.String()), zap.String("uid", userID.String()))
	return nil
}

func (r *LocalMatchRegistry) SubmitVerdict(ctx context.Context, matchID, userID uuid.UUID, correct bool) error {
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsParticipant(userID) {
		return ErrNotParticipant
	}
	if match.Status != MatchStatusActive {
		// A repeated correct verdict from the recorded winner is a no-op.
		if correct && match.Status == MatchStatusCompleted && match.WinnerID.Valid && match.WinnerID.UUID == userID {
			return nil
		}
		return ErrMatchStateConflict
	}

	if !correct {
		r.router.SendToUser(userID, &SubmissionResultEvent{
			Status:    EventSubmissionResult,
			MatchID:   matchID.String(),
			IsCorrect: false,
			Message:   "Your solution did not pass. Keep trying.",
		})
		return nil
	}

	return r.finalize(ctx, match, userID, "Your solution passed. You win!", "Your opponent solved the problem first.")
}

func (r *LocalMatchRegistry) Capitulate(ctx context.Context, matchID, loserID uuid.UUID) error {
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsParticipant(loserID) {
		return ErrNotParticipant
	}
	if match.Status != MatchStatusActive {
		return ErrMatchStateConflict
	}

	winnerID := match.Opponent(loserID)
	return r.finalize(ctx, match, winnerID, "Your opponent surrendered. You win!", "You surrendered the match.")
}

// finalize commits the decisive result and pushes match_completed to both
// sides. The caller holds the match lock and has verified ACTIVE status.
func (r *LocalMatchRegistry) finalize(ctx context.Context, match *Match, winnerID uuid.UUID, winnerMessage, loserMessage string) error {
	users, err := r.userStore.GetUsers(ctx, []uuid.UUID{match.Player1ID, match.Player2ID})
	if err != nil {
		return err
	}
	player1, found1 := users[match.Player1ID]
	player2, found2 := users[match.Player2ID]
	if !found1 || !found2 {
		return ErrUserNotFound
	}

	snapshot := &RatingSnapshot{Player1Old: player1.Rating, Player2Old: player2.Rating}
	if winnerID == match.Player1ID {
		snapshot.Player1New, snapshot.Player2New = ApplyResult(player1.Rating, player2.Rating)
	} else {
		snapshot.Player2New, snapshot.Player1New = ApplyResult(player2.Rating, player1.Rating)
	}

	err = r.matchStore.CompleteMatch(ctx, match.ID, uuid.NullUUID{UUID: winnerID, Valid: true}, snapshot, time.Now().UTC())
	if err != nil {
		return err
	}
	r.metrics.CountMatchesCompleted(1)

	r.sendToBoth(match, func(side, opponent uuid.UUID) interface{} {
		event := &MatchCompletedEvent{
			Status:  EventMatchCompleted,
			MatchID: match.ID.String(),
		}
		if side == match.Player1ID {
			event.OldRating, event.NewRating = snapshot.Player1Old, snapshot.Player1New
		} else {
			event.OldRating, event.NewRating = snapshot.Player2Old, snapshot.Player2New
		}
		if side == winnerID {
			event.Result, event.Message = "win", winnerMessage
		} else {
			event.Result, event.Message = "loss", loserMessage
		}
		return event
	})

	r.logger.Info("Match completed", zap.String("mid", match.ID.String()), zap.String("winner", winnerID.String()))
	return nil
}

// acceptanceTimeout is the acceptance timer body. It re-reads state and is a
// no-op unless the match is still PENDING.
func (r *LocalMatchRegistry) acceptanceTimeout(matchID uuid.UUID) {
	if r.ctx.Err() != nil {
		return
	}
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	ctx := r.ctx
	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		if err != ErrMatchNotFound {
			r.logger.Error("Error reading match on acceptance timeout", zap.String("mid", matchID.String()), zap.Error(err))
		}
		return
	}
	if match.Status != MatchStatusPending {
		return
	}

	if err := r.matchStore.CancelMatch(ctx, matchID, time.Now().UTC()); err != nil {
		if err != ErrMatchStateConflict {
			r.logger.Error("Error cancelling match on acceptance timeout", zap.String("mid", matchID.String()), zap.Error(err))
		}
		return
	}
	r.metrics.CountMatchesCancelled(1)

	reason := "acceptance_timeout"
	var slow []string
	if !match.Player1Accepted {
		slow = append(slow, match.Player1ID.String())
	}
	if !match.Player2Accepted {
		slow = append(slow, match.Player2ID.String())
	}
	event := &MatchCancelledEvent{
		Status:  EventMatchCancelled,
		MatchID: matchID.String(),
		Reason:  reason,
		Message: fmt.Sprintf("Match cancelled: no acceptance in time from %v.", slow),
	}
	r.router.SendToUser(match.Player1ID, event)
	r.router.SendToUser(match.Player2ID, event)

	r.logger.Info("Match cancelled on acceptance timeout", zap.String("mid", matchID.String()))
}

// drawTimeout is the draw timer body. It re-reads state and is a no-op
// unless the match is still ACTIVE.
func (r *LocalMatchRegistry) drawTimeout(matchID uuid.UUID) {
	if r.ctx.Err() != nil {
		return
	}
	r.locks.Lock(matchID)
	defer r.locks.Unlock(matchID)

	ctx := r.ctx
	match, err := r.matchStore.GetMatch(ctx, matchID)
	if err != nil {
		if err != ErrMatchNotFound {
			r.logger.Error("Error reading match on draw timeout", zap.String("mid", matchID.String()), zap.Error(err))
		}
		return
	}
	if match.Status != MatchStatusActive {
		return
	}

	users, err := r.userStore.GetUsers(ctx, []uuid.UUID{match.Player1ID, match.Player2ID})
	if err != nil {
		r.logger.Error("Error reading users on draw timeout", zap.String("mid", matchID.String()), zap.Error(err))
		return
	}
	player1, found1 := users[match.Player1ID]
	player2, found2 := users[match.Player2ID]
	if !found1 || !found2 {
		return
	}

	snapshot := &RatingSnapshot{Player1Old: player1.Rating, Player2Old: player2.Rating}
	snapshot.Player1New, snapshot.Player2New = ApplyDraw(player1.Rating, player2.Rating)

	if err := r.matchStore.CompleteMatch(ctx, matchID, uuid.NullUUID{}, snapshot, time.Now().UTC()); err != nil {
		if err != ErrMatchStateConflict {
			r.logger.Error("Error completing match as draw", zap.String("mid", matchID.String()), zap.Error(err))
		}
		return
	}
	r.metrics.CountMatchesDrawn(1)

	r.sendToBoth(match, func(side, opponent uuid.UUID) interface{} {
		event := &MatchDrawEvent{
			Status:  EventMatchDraw,
			MatchID: matchID.String(),
			Message: "Time expired with no winner. The match is a draw.",
		}
		if side == match.Player1ID {
			event.OldRating, event.NewRating = snapshot.Player1Old, snapshot.Player1New
		} else {
			event.OldRating, event.NewRating = snapshot.Player2Old, snapshot.Player2New
		}
		return event
	})

	r.logger.Info("Match drawn on timeout", zap.String("mid", matchID.String()))
}

// sweepLoop is the crash-recovery pass. Timers are in-memory only, so after
// a restart stale PENDING and ACTIVE rows would otherwise hang forever.
func (r *LocalMatchRegistry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Duration(r.config.GetMatchmaker().SweepIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *LocalMatchRegistry) sweep() {
	now := time.Now().UTC()
	matchmakerConfig := r.config.GetMatchmaker()

	pendingCutoff := now.Add(-time.Duration(matchmakerConfig.PendingSweepSec) * time.Second)
	stalePending, err := r.matchStore.ListStaleMatches(r.ctx, MatchStatusPending, pendingCutoff)
	if err == nil {
		for _, matchID := range stalePending {
			r.acceptanceTimeout(matchID)
		}
	}

	activeCutoff := now.Add(-time.Duration(matchmakerConfig.DrawTimeoutSec) * time.Second)
	staleActive, err := r.matchStore.ListStaleMatches(r.ctx, MatchStatusActive, activeCutoff)
	if err == nil {
		for _, matchID := range staleActive {
			r.drawTimeout(matchID)
		}
	}
}

func (r *LocalMatchRegistry) sendToBoth(match *Match, build func(side, opponent uuid.UUID) interface{}) {
	r.router.SendToUser(match.Player1ID, build(match.Player1ID, match.Player2ID))
	r.router.SendToUser(match.Player2ID, build(match.Player2ID, match.Player1ID))
}

func (r *LocalMatchRegistry) Stop() {
	r.ctxCancelFn()
	r.wg.Wait()
}
