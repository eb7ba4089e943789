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
	"sync"

	"github.com/gofrs/uuid"
)

// Tracker maintains the process-wide mapping from users to their live
// socket sessions. A user may hold several sessions at once (multiple tabs
// or devices); events fan out to all of them.
type Tracker interface {
	Track(sessionID, userID uuid.UUID)
	Untrack(sessionID, userID uuid.UUID)
	// ListSessionIDs returns the live session ids for a user, or nil if the
	// user has no open sessions.
	ListSessionIDs(userID uuid.UUID) []uuid.UUID
	Count() int
}

type localTracker struct {
	sync.RWMutex
	presencesByUser map[uuid.UUID]map[uuid.UUID]struct{}
	count           int
}

func NewLocalTracker() Tracker {
	return &localTracker{
		presencesByUser: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (t *localTracker) Track(sessionID, userID uuid.UUID) {
	t.Lock()
	sessions, found := t.presencesByUser[userID]
	if !found {
		sessions = make(map[uuid.UUID]struct{}, 1)
		t.presencesByUser[userID] = sessions
	}
	if _, found := sessions[sessionID]; !found {
		sessions[sessionID] = struct{}{}
		t.count++
	}
	t.Unlock()
}

func (t *localTracker) Untrack(sessionID, userID uuid.UUID) {
	t.Lock()
	sessions, found := t.presencesByUser[userID]
	if !found {
		t.Unlock()
		return
	}
	if _, found := sessions[sessionID]; found {
		delete(sessions, sessionID)
		t.count--
	}
	if len(sessions) == 0 {
		delete(t.presencesByUser, userID)
	}
	t.Unlock()
}

func (t *localTracker) ListSessionIDs(userID uuid.UUID) []uuid.UUID {
	t.RLock()
	sessions, found := t.presencesByUser[userID]
	if !found {
		t.RUnlock()
		return nil
	}
	ids := make([]uuid.UUID, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	t.RUnlock()
	return ids
}

func (t *localTracker) Count() int {
	t.RLock()
	count := t.count
	t.RUnlock()
	return count
}
