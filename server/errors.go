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
	"errors"
	"net/http"

	"go.uber.org/zap"
)

var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotParticipant     = errors.New("user is not a participant in this match")
	ErrMatchStateConflict = errors.New("match is not in the required state")
	ErrAlreadyQueued      = errors.New("user is already in the matchmaking queue")
	ErrAlreadyInMatch     = errors.New("user already has a pending or active match")
	ErrNoProblemAssigned  = errors.New("no problem is assigned to this match")
	ErrInvalidLanguage    = errors.New("unknown submission language")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthenticated    = errors.New("missing or invalid session token")
)

// httpStatusForError maps domain errors to the HTTP codes of the REST surface.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, ErrMatchNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyQueued), errors.Is(err, ErrAlreadyInMatch):
		return http.StatusConflict
	case errors.Is(err, ErrMatchStateConflict), errors.Is(err, ErrNoProblemAssigned):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidLanguage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func respondError(logger *zap.Logger, w http.ResponseWriter, err error) {
	code := httpStatusForError(err)
	detail := err.Error()
	if code == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		detail = "An unexpected error occurred. Please try again later."
	}
	respondJSON(logger, w, code, &errorResponse{Detail: detail})
}

func respondJSON(logger *zap.Logger, w http.ResponseWriter, code int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Could not marshal response payload", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
