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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
)

type matchResponse struct {
	ID               string `json:"id"`
	Player1ID        string `json:"player1_id"`
	Player2ID        string `json:"player2_id"`
	Player1Username  string `json:"player1_username,omitempty"`
	Player2Username  string `json:"player2_username,omitempty"`
	ProblemID        string `json:"problem_id,omitempty"`
	WinnerID         string `json:"winner_id,omitempty"`
	Status           string `json:"status"`
	Player1Accepted  bool   `json:"player1_accepted"`
	Player2Accepted  bool   `json:"player2_accepted"`
	Player1OldRating *int64 `json:"player1_old_rating,omitempty"`
	Player2OldRating *int64 `json:"player2_old_rating,omitempty"`
	Player1NewRating *int64 `json:"player1_new_rating,omitempty"`
	Player2NewRating *int64 `json:"player2_new_rating,omitempty"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time,omitempty"`
}

func (s *ApiServer) matchToResponse(ctx context.Context, match *Match) *matchResponse {
	resp := &matchResponse{
		ID:              match.ID.String(),
		Player1ID:       match.Player1ID.String(),
		Player2ID:       match.Player2ID.String(),
		Status:          string(match.Status),
		Player1Accepted: match.Player1Accepted,
		Player2Accepted: match.Player2Accepted,
		StartTime:       match.StartTime.Format(time.RFC3339),
	}
	if match.ProblemID.Valid {
		resp.ProblemID = match.ProblemID.UUID.String()
	}
	if match.WinnerID.Valid {
		resp.WinnerID = match.WinnerID.UUID.String()
	}
	if match.Player1OldRating.Valid {
		resp.Player1OldRating = &match.Player1OldRating.Int64
	}
	if match.Player2OldRating.Valid {
		resp.Player2OldRating = &match.Player2OldRating.Int64
	}
	if match.Player1NewRating.Valid {
		resp.Player1NewRating = &match.Player1NewRating.Int64
	}
	if match.Player2NewRating.Valid {
		resp.Player2NewRating = &match.Player2NewRating.Int64
	}
	if match.EndTime.Valid {
		resp.EndTime = match.EndTime.Time.Format(time.RFC3339)
	}

	users, err := s.userStore.GetUsers(ctx, []uuid.UUID{match.Player1ID, match.Player2ID})
	if err == nil {
		if user, found := users[match.Player1ID]; found {
			resp.Player1Username = user.Username
		}
		if user, found := users[match.Player2ID]; found {
			resp.Player2Username = user.Username
		}
	}
	return resp
}

func (s *ApiServer) findMatch(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if err := s.matchmaker.Add(r.Context(), principal.UserID); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"detail": "Searching for an opponent."})
}

func (s *ApiServer) cancelFind(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if err := s.matchmaker.Remove(r.Context(), principal.UserID); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"detail": "Search cancelled."})
}

func (s *ApiServer) acceptMatch(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	var body struct {
		MatchID string `json:"match_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	matchID, err := uuid.FromString(body.MatchID)
	if err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	if err := s.matchRegistry.Accept(r.Context(), matchID, principal.UserID); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"detail": "Match accepted."})
}

func (s *ApiServer) declineMatch(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	matchID, err := uuid.FromString(mux.Vars(r)["match_id"])
	if err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	if err := s.matchRegistry.Decline(r.Context(), matchID, principal.UserID); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"detail": "Match declined."})
}

func (s *ApiServer) capitulate(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	var body struct {
		MatchID string `json:"match_id"`
		LoserID string `json:"loser_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	matchID, err := uuid.FromString(body.MatchID)
	if err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	// Players surrender only on their own behalf.
	if body.LoserID != "" && body.LoserID != principal.UserID.String() {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	if err := s.matchRegistry.Capitulate(r.Context(), matchID, principal.UserID); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"detail": "Match surrendered."})
}

func (s *ApiServer) activeMatch(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	match, err := s.matchStore.GetActiveOrPendingMatch(r.Context(), principal.UserID)
	if err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, s.matchToResponse(r.Context(), match))
}

func (s *ApiServer) matchHistory(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			respondError(s.logger, w, ErrInvalidInput)
			return
		}
		limit = parsed
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(s.logger, w, ErrInvalidInput)
			return
		}
		offset = parsed
	}

	matches, err := s.matchStore.ListCompletedMatches(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		respondError(s.logger, w, err)
		return
	}
	responses := make([]*matchResponse, 0, len(matches))
	for _, match := range matches {
		responses = append(responses, s.matchToResponse(r.Context(), match))
	}
	respondJSON(s.logger, w, http.StatusOK, responses)
}

func (s *ApiServer) matchDetails(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	matchID, err := uuid.FromString(mux.Vars(r)["match_id"])
	if err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	match, err := s.matchStore.GetMatch(r.Context(), matchID)
	if err != nil {
		respondError(s.logger, w, err)
		return
	}
	if !match.IsParticipant(principal.UserID) {
		respondError(s.logger, w, ErrNotParticipant)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, s.matchToResponse(r.Context(), match))
}
