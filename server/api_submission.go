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
	"encoding/json"
	"net/http"

	"github.com/gofrs/uuid"
)

type submissionRequest struct {
	MatchID  string `json:"match_id"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// submitSolution judges a participant's code and reduces the verdict to a
// match transition. The judge call is made without holding any match lock.
func (s *ApiServer) submitSolution(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	var body submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	matchID, err := uuid.FromString(body.MatchID)
	if err != nil || body.Code == "" {
		respondError(s.logger, w, ErrInvalidInput)
		return
	}
	if !IsLanguageSupported(body.Language) {
		respondError(s.logger, w, ErrInvalidLanguage)
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
	if match.Status != MatchStatusActive {
		respondError(s.logger, w, ErrMatchStateConflict)
		return
	}
	if !match.ProblemID.Valid {
		respondError(s.logger, w, ErrNoProblemAssigned)
		return
	}

	correct, err := s.judge.Verdict(r.Context(), match.ProblemID.UUID, body.Language, body.Code)
	if err != nil {
		respondError(s.logger, w, err)
		return
	}

	if err := s.matchRegistry.SubmitVerdict(r.Context(), matchID, principal.UserID, correct); err != nil {
		respondError(s.logger, w, err)
		return
	}
	respondJSON(s.logger, w, http.StatusOK, map[string]interface{}{
		"detail":     "Submission judged.",
		"is_correct": correct,
	})
}
