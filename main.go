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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/buts00/algo-rumble-service/migrate"
	"github.com/buts00/algo-rumble-service/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version  string = "1.0.0"
	commitID string = "dev"
)

func main() {
	semver := fmt.Sprintf("%s+%s", version, commitID)

	tmpLogger := server.NewJSONLogger(os.Stdout, zapcore.InfoLevel)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Println(semver)
			return
		case "migrate":
			migrate.Parse(os.Args[2:], tmpLogger)
		}
	}

	config := server.ParseArgs(tmpLogger, os.Args)
	logger, startupLogger := server.SetupLogging(tmpLogger, config)
	config.Validate(startupLogger)

	startupLogger.Info("Algo Rumble starting", zap.String("version", semver), zap.String("name", config.GetName()))

	db := server.DbConnect(startupLogger, config)
	migrate.StartupCheck(startupLogger, db)

	metrics := server.NewLocalMetrics(logger, startupLogger, config)
	queueStore := server.NewRedisQueueStore(startupLogger, config)

	matchStore := server.NewSqlMatchStore(logger, db)
	userStore := server.NewSqlUserStore(logger, db)
	problemStore := server.NewSqlProblemStore(logger, db)

	tracker := server.NewLocalTracker()
	sessionRegistry := server.NewLocalSessionRegistry()
	router := server.NewLocalMessageRouter(logger, tracker, sessionRegistry, metrics)

	matchRegistry := server.NewLocalMatchRegistry(logger, config, matchStore, userStore, router, metrics)
	matchmaker := server.NewLocalMatchmaker(logger, config, queueStore, matchStore, userStore, problemStore, matchRegistry, metrics)
	judge := server.NewHTTPJudge(logger, config)

	apiServer := server.StartApiServer(logger, startupLogger, config, matchmaker, matchRegistry, matchStore, userStore, queueStore, judge, tracker, sessionRegistry, metrics)

	startupLogger.Info("Startup done")

	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt

	logger.Info("Shutting down")

	// Stop accepting new inputs first, then drain the internal components.
	apiServer.Stop()
	matchmaker.Stop()
	matchRegistry.Stop()
	sessionRegistry.Stop()
	queueStore.Stop()
	metrics.Stop(logger)
	if err := db.Close(); err != nil {
		logger.Warn("Error closing database", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	os.Exit(0)
}
