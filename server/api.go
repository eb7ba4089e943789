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
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ApiServer is the client-facing HTTP and WebSocket listener.
type ApiServer struct {
	logger     *zap.Logger
	config     Config
	httpServer *http.Server
	upgrader   *websocket.Upgrader

	matchmaker      Matchmaker
	matchRegistry   MatchRegistry
	matchStore      MatchStore
	userStore       UserStore
	queueStore      QueueStore
	judge           Judge
	tracker         Tracker
	sessionRegistry SessionRegistry
	metrics         Metrics
}

func StartApiServer(logger, startupLogger *zap.Logger, config Config, matchmaker Matchmaker, matchRegistry MatchRegistry, matchStore MatchStore, userStore UserStore, queueStore QueueStore, judge Judge, tracker Tracker, sessionRegistry SessionRegistry, metrics Metrics) *ApiServer {
	s := &ApiServer{
		logger: logger,
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},

		matchmaker:      matchmaker,
		matchRegistry:   matchRegistry,
		matchStore:      matchStore,
		userStore:       userStore,
		queueStore:      queueStore,
		judge:           judge,
		tracker:         tracker,
		sessionRegistry: sessionRegistry,
		metrics:         metrics,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", s.healthcheck).Methods(http.MethodGet)

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return authRequired(logger, config, queueStore, next)
	}
	router.HandleFunc("/match/find", auth(s.findMatch)).Methods(http.MethodPost)
	router.HandleFunc("/match/cancel_find", auth(s.cancelFind)).Methods(http.MethodPost)
	router.HandleFunc("/match/accept", auth(s.acceptMatch)).Methods(http.MethodPost)
	router.HandleFunc("/match/decline/{match_id}", auth(s.declineMatch)).Methods(http.MethodPost)
	router.HandleFunc("/match/capitulate", auth(s.capitulate)).Methods(http.MethodPost)
	router.HandleFunc("/match/active", auth(s.activeMatch)).Methods(http.MethodGet)
	router.HandleFunc("/match/history", auth(s.matchHistory)).Methods(http.MethodGet)
	router.HandleFunc("/match/details/{match_id}", auth(s.matchDetails)).Methods(http.MethodGet)
	router.HandleFunc("/match/ws/{user_id}", s.serveWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/submissions/match", auth(s.submitSolution)).Methods(http.MethodPost)

	CORSHeaders := handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "User-Agent"})
	CORSOrigins := handlers.AllowedOrigins([]string{"*"})
	CORSMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodHead})
	handlerWithCORS := handlers.CORS(CORSHeaders, CORSOrigins, CORSMethods)(router)

	socketConfig := config.GetSocket()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", socketConfig.Port),
		ReadTimeout:  time.Duration(socketConfig.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(socketConfig.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  time.Duration(socketConfig.IdleTimeoutMs) * time.Millisecond,
		Handler:      handlerWithCORS,
	}

	startupLogger.Info("Starting API server for HTTP and WebSocket requests", zap.Int("port", socketConfig.Port))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server listener failed", zap.Error(err))
		}
	}()

	return s
}

func (s *ApiServer) healthcheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveWebSocket upgrades the connection into a notification sink session.
// The token user must match the user in the path.
func (s *ApiServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := authenticate(r, s.config, s.queueStore)
	if err != nil {
		respondError(s.logger, w, err)
		return
	}
	pathUserID, err := uuid.FromString(mux.Vars(r)["user_id"])
	if err != nil || pathUserID != principal.UserID {
		respondError(s.logger, w, ErrUnauthenticated)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		s.logger.Debug("Could not upgrade to WebSocket", zap.Error(err))
		return
	}

	session := NewSessionWS(s.logger, s.config, principal.UserID, principal.Username, conn, s.tracker, s.sessionRegistry)
	s.sessionRegistry.Add(session)
	s.tracker.Track(session.ID(), principal.UserID)
	s.metrics.GaugeSessions(float64(s.sessionRegistry.Count()))

	// Blocks for the lifetime of the connection.
	session.Consume()
	s.metrics.GaugeSessions(float64(s.sessionRegistry.Count()))
}

func (s *ApiServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown failed", zap.Error(err))
	}
}
