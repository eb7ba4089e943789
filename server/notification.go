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
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Event status discriminators. Every payload pushed over a socket carries
// exactly one of these in its "status" field.
const (
	EventMatchFound        = "match_found"
	EventMatchAcceptStatus = "match_accept_status"
	EventMatchStarted      = "match_started"
	EventMatchCancelled    = "match_cancelled"
	EventSubmissionResult  = "submission_result"
	EventMatchCompleted    = "match_completed"
	EventMatchDraw         = "match_draw"
)

type MatchFoundEvent struct {
	Status           string `json:"status"`
	MatchID          string `json:"match_id"`
	OpponentID       string `json:"opponent_id"`
	OpponentUsername string `json:"opponent_username"`
	OpponentRating   int    `json:"opponent_rating"`
	ProblemID        string `json:"problem_id,omitempty"`
	TimeoutSec       int    `json:"timeout"`
	Message          string `json:"message"`
}

type MatchAcceptStatusEvent struct {
	Status          string `json:"status"`
	MatchID         string `json:"match_id"`
	Player1Accepted bool   `json:"player1_accepted"`
	Player2Accepted bool   `json:"player2_accepted"`
	Message         string `json:"message"`
}

type MatchStartedEvent struct {
	Status           string `json:"status"`
	MatchID          string `json:"match_id"`
	OpponentUsername string `json:"opponent_username"`
	ProblemID        string `json:"problem_id,omitempty"`
	StartTime        string `json:"start_time"`
	Message          string `json:"message"`
}

type MatchCancelledEvent struct {
	Status  string `json:"status"`
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type SubmissionResultEvent struct {
	Status    string `json:"status"`
	MatchID   string `json:"match_id"`
	IsCorrect bool   `json:"is_correct"`
	Message   string `json:"message"`
}

type MatchCompletedEvent struct {
	Status    string `json:"status"`
	MatchID   string `json:"match_id"`
	Result    string `json:"result"`
	OldRating int    `json:"old_rating"`
	NewRating int    `json:"new_rating"`
	Message   string `json:"message"`
}

type MatchDrawEvent struct {
	Status    string `json:"status"`
	MatchID   string `json:"match_id"`
	OldRating int    `json:"old_rating"`
	NewRating int    `json:"new_rating"`
	Message   string `json:"message"`
}

// MessageRouter delivers event payloads to all of a user's live sessions.
// Delivery is best-effort and at-most-once; offline users simply miss the
// event and resynchronize over REST.
type MessageRouter interface {
	SendToUser(userID uuid.UUID, payload interface{})
}

type localMessageRouter struct {
	logger          *zap.Logger
	tracker         Tracker
	sessionRegistry SessionRegistry
	metrics         Metrics
}

func NewLocalMessageRouter(logger *zap.Logger, tracker Tracker, sessionRegistry SessionRegistry, metrics Metrics) MessageRouter {
	return &localMessageRouter{
		logger:          logger,
		tracker:         tracker,
		sessionRegistry: sessionRegistry,
		metrics:         metrics,
	}
}

func (r *localMessageRouter) SendToUser(userID uuid.UUID, payload interface{}) {
	sessionIDs := r.tracker.ListSessionIDs(userID)
	if len(sessionIDs) == 0 {
		r.metrics.CountDroppedEvents(1)
		return
	}
	for _, sessionID := range sessionIDs {
		session := r.sessionRegistry.Get(sessionID)
		if session == nil {
			// The session disconnected between tracker lookup and here.
			r.tracker.Untrack(sessionID, userID)
			continue
		}
		if err := session.Send(payload); err != nil {
			r.logger.Debug("Could not deliver event, dropping session",
				zap.String("uid", userID.String()), zap.String("sid", sessionID.String()), zap.Error(err))
			r.metrics.CountDroppedEvents(1)
			session.Close()
		}
	}
}
