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
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrSessionQueueFull = errors.New("session outgoing queue full")

// sessionWS is a client connection used purely as a notification sink. The
// read loop only services control frames and client disconnects; all domain
// inputs arrive over REST.
type sessionWS struct {
	sync.Mutex
	logger   *zap.Logger
	id       uuid.UUID
	userID   uuid.UUID
	username string

	conn       *websocket.Conn
	closed     *atomic.Bool
	outgoingCh chan []byte
	stoppedCh  chan struct{}

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	maxMsgSize int64

	tracker         Tracker
	sessionRegistry SessionRegistry
}

func NewSessionWS(logger *zap.Logger, config Config, userID uuid.UUID, username string, conn *websocket.Conn, tracker Tracker, sessionRegistry SessionRegistry) Session {
	sessionID := uuid.Must(uuid.NewV4())
	sessionLogger := logger.With(zap.String("uid", userID.String()), zap.String("sid", sessionID.String()))
	sessionLogger.Info("New WebSocket session connected")

	socketConfig := config.GetSocket()
	return &sessionWS{
		logger:   sessionLogger,
		id:       sessionID,
		userID:   userID,
		username: username,

		conn:       conn,
		closed:     atomic.NewBool(false),
		outgoingCh: make(chan []byte, 16),
		stoppedCh:  make(chan struct{}),

		writeWait:  time.Duration(socketConfig.WriteWaitMs) * time.Millisecond,
		pongWait:   time.Duration(socketConfig.PongWaitMs) * time.Millisecond,
		pingPeriod: time.Duration(socketConfig.PingPeriodMs) * time.Millisecond,
		maxMsgSize: socketConfig.MaxMessageSizeBytes,

		tracker:         tracker,
		sessionRegistry: sessionRegistry,
	}
}

func (s *sessionWS) ID() uuid.UUID {
	return s.id
}

func (s *sessionWS) UserID() uuid.UUID {
	return s.userID
}

func (s *sessionWS) Username() string {
	return s.username
}

func (s *sessionWS) Send(payload interface{}) error {
	if s.closed.Load() {
		return errors.New("session is closed")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case s.outgoingCh <- data:
		return nil
	default:
		// Backpressure: the client is not draining its socket. Drop the
		// session rather than block the notifier.
		s.logger.Warn("Session outgoing queue full, closing session")
		s.Close()
		return ErrSessionQueueFull
	}
}

func (s *sessionWS) Consume() {
	go s.processOutgoing()

	s.conn.SetReadLimit(s.maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		// Inbound payloads are discarded; the read keeps the connection's
		// control-frame processing alive and detects disconnects.
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("Error reading from socket", zap.Error(err))
			}
			break
		}
	}
	s.Close()
}

func (s *sessionWS) processOutgoing() {
	pingTicker := time.NewTicker(s.pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-s.stoppedCh:
			return
		case <-pingTicker.C:
			s.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.Unlock()
			if err != nil {
				s.logger.Debug("Could not send ping", zap.Error(err))
				s.Close()
				return
			}
		case data := <-s.outgoingCh:
			s.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			err := s.conn.WriteMessage(websocket.TextMessage, data)
			s.Unlock()
			if err != nil {
				s.logger.Warn("Could not write message", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *sessionWS) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.stoppedCh)

	s.tracker.Untrack(s.id, s.userID)
	s.sessionRegistry.Remove(s.id)

	s.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.Unlock()
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Could not close socket", zap.Error(err))
	}
	s.logger.Info("Closed WebSocket session")
}
