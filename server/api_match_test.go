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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	alice   *User
	bob     *User
	users   *fakeUserStore
	matches *fakeMatchStore
	queue   *fakeQueueStore
	server  *ApiServer
}

func newApiFixture(t *testing.T) *apiFixture {
	t.Helper()
	alice := &User{ID: uuid.Must(uuid.NewV4()), Username: "alice", Rating: 1000}
	bob := &User{ID: uuid.Must(uuid.NewV4()), Username: "bob", Rating: 1200}
	users := newFakeUserStore(alice, bob)
	matches := newFakeMatchStore(users)
	queue := newFakeQueueStore()
	config := testConfig()

	registry := NewLocalMatchRegistry(testLogger(), config, matches, users, newFakeRouter(), fakeMetrics{})
	t.Cleanup(registry.Stop)
	matchmaker := NewLocalMatchmaker(testLogger(), config, queue, matches, users, &fakeProblemStore{}, registry, fakeMetrics{})
	t.Cleanup(matchmaker.Stop)

	return &apiFixture{
		alice:   alice,
		bob:     bob,
		users:   users,
		matches: matches,
		queue:   queue,
		server: &ApiServer{
			logger:        testLogger(),
			config:        config,
			matchmaker:    matchmaker,
			matchRegistry: registry,
			matchStore:    matches,
			userStore:     users,
			queueStore:    queue,
			metrics:       fakeMetrics{},
		},
	}
}

func authedRequest(method, target, body string, principal *UserPrincipal) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(r.Context(), ctxPrincipalKey{}, principal)
	return r.WithContext(ctx)
}

func principalFor(user *User) *UserPrincipal {
	return &UserPrincipal{UserID: user.ID, Username: user.Username, Role: "user"}
}

func TestFindMatchEnqueues(t *testing.T) {
	f := newApiFixture(t)

	w := httptest.NewRecorder()
	f.server.findMatch(w, authedRequest(http.MethodPost, "/match/find", "", principalFor(f.alice)))

	assert.Equal(t, http.StatusOK, w.Code)
	entries, err := f.queue.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f.alice.ID, entries[0].UserID)
}

func TestFindMatchConflictWhenAlreadyQueued(t *testing.T) {
	f := newApiFixture(t)
	principal := principalFor(f.alice)

	w := httptest.NewRecorder()
	f.server.findMatch(w, authedRequest(http.MethodPost, "/match/find", "", principal))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	f.server.findMatch(w, authedRequest(http.MethodPost, "/match/find", "", principal))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelFindRemovesQueueEntry(t *testing.T) {
	f := newApiFixture(t)
	principal := principalFor(f.alice)

	w := httptest.NewRecorder()
	f.server.findMatch(w, authedRequest(http.MethodPost, "/match/find", "", principal))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	f.server.cancelFind(w, authedRequest(http.MethodPost, "/match/cancel_find", "", principal))
	assert.Equal(t, http.StatusOK, w.Code)

	entries, err := f.queue.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestActiveMatchNotFound(t *testing.T) {
	f := newApiFixture(t)

	w := httptest.NewRecorder()
	f.server.activeMatch(w, authedRequest(http.MethodGet, "/match/active", "", principalFor(f.alice)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActiveMatchReturnsPendingMatch(t *testing.T) {
	f := newApiFixture(t)
	matchID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.matches.CreateMatch(context.Background(), &Match{
		ID:        matchID,
		Player1ID: f.alice.ID,
		Player2ID: f.bob.ID,
		Status:    MatchStatusPending,
		StartTime: time.Now(),
	}))

	w := httptest.NewRecorder()
	f.server.activeMatch(w, authedRequest(http.MethodGet, "/match/active", "", principalFor(f.alice)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp matchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, matchID.String(), resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "alice", resp.Player1Username)
	assert.Equal(t, "bob", resp.Player2Username)
}

func TestMatchDetailsForbiddenForOutsider(t *testing.T) {
	f := newApiFixture(t)
	carol := &User{ID: uuid.Must(uuid.NewV4()), Username: "carol", Rating: 1000}
	f.users.Lock()
	f.users.users[carol.ID] = carol
	f.users.Unlock()

	matchID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.matches.CreateMatch(context.Background(), &Match{
		ID:        matchID,
		Player1ID: f.alice.ID,
		Player2ID: f.bob.ID,
		Status:    MatchStatusActive,
		StartTime: time.Now(),
	}))

	r := authedRequest(http.MethodGet, "/match/details/"+matchID.String(), "", principalFor(carol))
	r = mux.SetURLVars(r, map[string]string{"match_id": matchID.String()})
	w := httptest.NewRecorder()
	f.server.matchDetails(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMatchHistoryRejectsBadLimit(t *testing.T) {
	f := newApiFixture(t)

	w := httptest.NewRecorder()
	f.server.matchHistory(w, authedRequest(http.MethodGet, "/match/history?limit=0", "", principalFor(f.alice)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSolutionRejectsUnknownLanguage(t *testing.T) {
	f := newApiFixture(t)
	matchID := uuid.Must(uuid.NewV4())
	body := `{"match_id":"` + matchID.String() + `","language":"cobol","code":"x"}`

	w := httptest.NewRecorder()
	f.server.submitSolution(w, authedRequest(http.MethodPost, "/submissions/match", body, principalFor(f.alice)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSolutionConflictOnMatchWithoutProblem(t *testing.T) {
	f := newApiFixture(t)
	matchID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.matches.CreateMatch(context.Background(), &Match{
		ID:              matchID,
		Player1ID:       f.alice.ID,
		Player2ID:       f.bob.ID,
		Status:          MatchStatusActive,
		Player1Accepted: true,
		Player2Accepted: true,
		StartTime:       time.Now(),
	}))
	body := `{"match_id":"` + matchID.String() + `","language":"python","code":"print(1)"}`

	w := httptest.NewRecorder()
	f.server.submitSolution(w, authedRequest(http.MethodPost, "/submissions/match", body, principalFor(f.alice)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeclineEndpointCancelsPending(t *testing.T) {
	f := newApiFixture(t)
	matchID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.matches.CreateMatch(context.Background(), &Match{
		ID:        matchID,
		Player1ID: f.alice.ID,
		Player2ID: f.bob.ID,
		Status:    MatchStatusPending,
		StartTime: time.Now(),
	}))

	r := authedRequest(http.MethodPost, "/match/decline/"+matchID.String(), "", principalFor(f.bob))
	r = mux.SetURLVars(r, map[string]string{"match_id": matchID.String()})
	w := httptest.NewRecorder()
	f.server.declineMatch(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := f.matches.GetMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.Equal(t, MatchStatusCancelled, stored.Status)
}
