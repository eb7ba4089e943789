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

// Session is a single live client socket.
type Session interface {
	ID() uuid.UUID
	UserID() uuid.UUID
	Username() string

	// Send marshals the payload and queues it for delivery. Returns an error
	// when the session can no longer accept writes.
	Send(payload interface{}) error
	// Consume runs the read loop until the connection drops.
	Consume()
	Close()
}

type SessionRegistry interface {
	Get(sessionID uuid.UUID) Session
	Add(session Session)
	Remove(sessionID uuid.UUID)
	Count() int
	Stop()
}

type localSessionRegistry struct {
	sync.RWMutex
	sessions map[uuid.UUID]Session
}

func NewLocalSessionRegistry() SessionRegistry {
	return &localSessionRegistry{
		sessions: make(map[uuid.UUID]Session),
	}
}

func (r *localSessionRegistry) Get(sessionID uuid.UUID) Session {
	r.RLock()
	session := r.sessions[sessionID]
	r.RUnlock()
	return session
}

func (r *localSessionRegistry) Add(session Session) {
	r.Lock()
	r.sessions[session.ID()] = session
	r.Unlock()
}

func (r *localSessionRegistry) Remove(sessionID uuid.UUID) {
	r.Lock()
	delete(r.sessions, sessionID)
	r.Unlock()
}

func (r *localSessionRegistry) Count() int {
	r.RLock()
	count := len(r.sessions)
	r.RUnlock()
	return count
}

func (r *localSessionRegistry) Stop() {
	r.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
