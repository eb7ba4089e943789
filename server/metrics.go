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
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/zap"
)

type Metrics interface {
	CountEnqueued(delta int64)
	CountPairsFormed(delta int64)
	CountMatchesCompleted(delta int64)
	CountMatchesCancelled(delta int64)
	CountMatchesDrawn(delta int64)
	CountDroppedEvents(delta int64)
	GaugeSessions(value float64)
	GaugeQueueSize(value float64)
	MatchmakerTick(elapsed time.Duration)

	Stop(logger *zap.Logger)
}

type LocalMetrics struct {
	logger *zap.Logger

	prometheusScope      tally.Scope
	prometheusCloser     io.Closer
	prometheusHTTPServer *http.Server
}

func NewLocalMetrics(logger, startupLogger *zap.Logger, config Config) *LocalMetrics {
	m := &LocalMetrics{
		logger: logger,
	}

	reporter := prometheus.NewReporter(prometheus.Options{
		OnRegisterError: func(err error) {
			logger.Error("Error registering Prometheus metric", zap.Error(err))
		},
	})
	tags := map[string]string{"node_name": config.GetName()}
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:          config.GetMetrics().Namespace,
		Tags:            tags,
		CachedReporter:  reporter,
		Separator:       prometheus.DefaultSeparator,
		SanitizeOptions: &prometheus.DefaultSanitizerOpts,
	}, time.Duration(config.GetMetrics().ReportingFreqSec)*time.Second)
	m.prometheusScope = scope
	m.prometheusCloser = closer

	if port := config.GetMetrics().PrometheusPort; port > 0 {
		CORSHeaders := handlers.AllowedHeaders([]string{"Content-Type"})
		CORSOrigins := handlers.AllowedOrigins([]string{"*"})

		router := mux.NewRouter()
		router.Handle("/", reporter.HTTPHandler()).Methods("GET")
		handlerWithCORS := handlers.CORS(CORSHeaders, CORSOrigins)(router)

		m.prometheusHTTPServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			Handler:      handlerWithCORS,
		}
		startupLogger.Info("Starting Prometheus server for metrics requests", zap.Int("port", port))
		go func() {
			if err := m.prometheusHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Prometheus listener failed", zap.Error(err))
			}
		}()
	}

	return m
}

func (m *LocalMetrics) CountEnqueued(delta int64) {
	m.prometheusScope.Counter("matchmaker_enqueued_count").Inc(delta)
}

func (m *LocalMetrics) CountPairsFormed(delta int64) {
	m.prometheusScope.Counter("matchmaker_pairs_formed_count").Inc(delta)
}

func (m *LocalMetrics) CountMatchesCompleted(delta int64) {
	m.prometheusScope.Counter("match_completed_count").Inc(delta)
}

func (m *LocalMetrics) CountMatchesCancelled(delta int64) {
	m.prometheusScope.Counter("match_cancelled_count").Inc(delta)
}

func (m *LocalMetrics) CountMatchesDrawn(delta int64) {
	m.prometheusScope.Counter("match_drawn_count").Inc(delta)
}

func (m *LocalMetrics) CountDroppedEvents(delta int64) {
	m.prometheusScope.Counter("notification_dropped_count").Inc(delta)
}

func (m *LocalMetrics) GaugeSessions(value float64) {
	m.prometheusScope.Gauge("sessions_open").Update(value)
}

func (m *LocalMetrics) GaugeQueueSize(value float64) {
	m.prometheusScope.Gauge("matchmaker_queue_size").Update(value)
}

func (m *LocalMetrics) MatchmakerTick(elapsed time.Duration) {
	m.prometheusScope.Timer("matchmaker_tick_duration").Record(elapsed)
}

func (m *LocalMetrics) Stop(logger *zap.Logger) {
	if m.prometheusHTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.prometheusHTTPServer.Shutdown(ctx); err != nil {
			logger.Error("Prometheus listener shutdown failed", zap.Error(err))
		}
	}
	if err := m.prometheusCloser.Close(); err != nil {
		logger.Error("Prometheus reporter close failed", zap.Error(err))
	}
}
