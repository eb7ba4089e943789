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
	"flag"
	"os"
	"strings"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration surface exposed to all components.
type Config interface {
	GetName() string
	GetLogger() *LoggerConfig
	GetSocket() *SocketConfig
	GetDatabase() *DatabaseConfig
	GetRedis() *RedisConfig
	GetSession() *SessionConfig
	GetMatchmaker() *MatchmakerConfig
	GetJudge() *JudgeConfig
	GetMetrics() *MetricsConfig

	Validate(*zap.Logger)
}

func ParseArgs(logger *zap.Logger, args []string) Config {
	config := NewConfig()

	flagSet := flag.NewFlagSet("algo-rumble", flag.ExitOnError)
	configPath := flagSet.String("config", "", "The absolute file path to the configuration YAML file.")
	flagSet.StringVar(&config.Name, "name", config.Name, "Server node name - must be unique.")
	flagSet.StringVar(&config.Logger.Level, "logger.level", config.Logger.Level, "Log level: DEBUG, INFO, WARN or ERROR.")
	flagSet.StringVar(&config.Logger.File, "logger.file", config.Logger.File, "Log file path. Empty logs to stdout only.")
	flagSet.IntVar(&config.Socket.Port, "socket.port", config.Socket.Port, "The port for accepting client connections.")
	flagSet.StringVar(&config.Database.Address, "database.address", config.Database.Address, "Address of the PostgreSQL server (username:password@address:port/dbname).")
	flagSet.StringVar(&config.Redis.Address, "redis.address", config.Redis.Address, "Address of the Redis server (host:port).")
	flagSet.StringVar(&config.Session.EncryptionKey, "session.encryption_key", config.Session.EncryptionKey, "The key used to verify client session tokens.")
	flagSet.StringVar(&config.Judge.Address, "judge.address", config.Judge.Address, "Base URL of the external judge service.")
	flagSet.IntVar(&config.Metrics.PrometheusPort, "metrics.prometheus_port", config.Metrics.PrometheusPort, "Port to expose Prometheus metrics on. 0 disables the exporter.")
	if err := flagSet.Parse(args[1:]); err != nil {
		logger.Fatal("Could not parse command line arguments", zap.Error(err))
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Fatal("Could not read config file", zap.String("path", *configPath), zap.Error(err))
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			logger.Fatal("Could not parse config file", zap.String("path", *configPath), zap.Error(err))
		}
		config.Config = *configPath

		// Command line values take precedence over the file, so apply them again.
		if err := flagSet.Parse(args[1:]); err != nil {
			logger.Fatal("Could not parse command line arguments", zap.Error(err))
		}
	}

	return config
}

type config struct {
	Name       string            `yaml:"name" json:"name"`
	Config     string            `yaml:"config" json:"config"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Socket     *SocketConfig     `yaml:"socket" json:"socket"`
	Database   *DatabaseConfig   `yaml:"database" json:"database"`
	Redis      *RedisConfig      `yaml:"redis" json:"redis"`
	Session    *SessionConfig    `yaml:"session" json:"session"`
	Matchmaker *MatchmakerConfig `yaml:"matchmaker" json:"matchmaker"`
	Judge      *JudgeConfig      `yaml:"judge" json:"judge"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// NewConfig constructs a config struct populated with default settings.
func NewConfig() *config {
	nodeName := "algorumble-" + strings.Split(uuid.Must(uuid.NewV4()).String(), "-")[3]
	return &config{
		Name:       nodeName,
		Logger:     NewLoggerConfig(),
		Socket:     NewSocketConfig(),
		Database:   NewDatabaseConfig(),
		Redis:      NewRedisConfig(),
		Session:    NewSessionConfig(),
		Matchmaker: NewMatchmakerConfig(),
		Judge:      NewJudgeConfig(),
		Metrics:    NewMetricsConfig(),
	}
}

func (c *config) GetName() string {
	return c.Name
}

func (c *config) GetLogger() *LoggerConfig {
	return c.Logger
}

func (c *config) GetSocket() *SocketConfig {
	return c.Socket
}

func (c *config) GetDatabase() *DatabaseConfig {
	return c.Database
}

func (c *config) GetRedis() *RedisConfig {
	return c.Redis
}

func (c *config) GetSession() *SessionConfig {
	return c.Session
}

func (c *config) GetMatchmaker() *MatchmakerConfig {
	return c.Matchmaker
}

func (c *config) GetJudge() *JudgeConfig {
	return c.Judge
}

func (c *config) GetMetrics() *MetricsConfig {
	return c.Metrics
}

func (c *config) Validate(logger *zap.Logger) {
	if c.Socket.PongWaitMs <= c.Socket.PingPeriodMs {
		logger.Fatal("Socket pong_wait_ms must be greater than ping_period_ms",
			zap.Int("pong_wait_ms", c.Socket.PongWaitMs), zap.Int("ping_period_ms", c.Socket.PingPeriodMs))
	}
	if c.Session.EncryptionKey == "" {
		logger.Fatal("Session encryption_key must be set")
	}
	if c.Matchmaker.IntervalSec < 1 {
		logger.Fatal("Matchmaker interval_sec must be at least 1")
	}
	if c.Matchmaker.AcceptanceTimeoutSec >= c.Matchmaker.PendingSweepSec {
		logger.Fatal("Matchmaker pending_sweep_sec must exceed acceptance_timeout_sec",
			zap.Int("acceptance_timeout_sec", c.Matchmaker.AcceptanceTimeoutSec), zap.Int("pending_sweep_sec", c.Matchmaker.PendingSweepSec))
	}
}

// LoggerConfig is configuration relevant to logging levels and output.
type LoggerConfig struct {
	Level      string `yaml:"level" json:"level"`
	Stdout     bool   `yaml:"stdout" json:"stdout"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	LocalTime  bool   `yaml:"local_time" json:"local_time"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		Stdout:     true,
		File:       "",
		MaxSizeMB:  100,
		MaxAgeDays: 0,
		MaxBackups: 0,
	}
}

// SocketConfig is configuration relevant to the client-facing HTTP and WebSocket listener.
type SocketConfig struct {
	Port                int   `yaml:"port" json:"port"`
	MaxMessageSizeBytes int64 `yaml:"max_message_size_bytes" json:"max_message_size_bytes"`
	ReadTimeoutMs       int   `yaml:"read_timeout_ms" json:"read_timeout_ms"`
	WriteTimeoutMs      int   `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	IdleTimeoutMs       int   `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`
	WriteWaitMs         int   `yaml:"write_wait_ms" json:"write_wait_ms"`
	PongWaitMs          int   `yaml:"pong_wait_ms" json:"pong_wait_ms"`
	PingPeriodMs        int   `yaml:"ping_period_ms" json:"ping_period_ms"`
}

func NewSocketConfig() *SocketConfig {
	return &SocketConfig{
		Port:                7350,
		MaxMessageSizeBytes: 4096,
		ReadTimeoutMs:       10000,
		WriteTimeoutMs:      10000,
		IdleTimeoutMs:       60000,
		WriteWaitMs:         5000,
		PongWaitMs:          25000,
		PingPeriodMs:        15000,
	}
}

// DatabaseConfig is configuration relevant to the PostgreSQL connection pool.
type DatabaseConfig struct {
	Address           string `yaml:"address" json:"address"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" json:"conn_max_lifetime_ms"`
	MaxOpenConns      int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns" json:"max_idle_conns"`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Address:           "postgres@localhost:5432/algorumble",
		ConnMaxLifetimeMs: 3600000,
		MaxOpenConns:      100,
		MaxIdleConns:      100,
	}
}

// RedisConfig is configuration relevant to the queue store connection.
type RedisConfig struct {
	Address    string `yaml:"address" json:"address"`
	Password   string `yaml:"password" json:"password"`
	Db         int    `yaml:"db" json:"db"`
	TLSEnabled bool   `yaml:"tls_enabled" json:"tls_enabled"`
}

func NewRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:  "localhost:6379",
		Password: "",
		Db:       0,
	}
}

// SessionConfig is configuration relevant to session token validation.
type SessionConfig struct {
	EncryptionKey  string `yaml:"encryption_key" json:"encryption_key"`
	TokenExpirySec int64  `yaml:"token_expiry_sec" json:"token_expiry_sec"`
}

func NewSessionConfig() *SessionConfig {
	return &SessionConfig{
		EncryptionKey:  "defaultencryptionkey",
		TokenExpirySec: 3600,
	}
}

// MatchmakerConfig is configuration relevant to the queue consumer and match timers.
type MatchmakerConfig struct {
	IntervalSec          int `yaml:"interval_sec" json:"interval_sec"`
	AcceptanceTimeoutSec int `yaml:"acceptance_timeout_sec" json:"acceptance_timeout_sec"`
	DrawTimeoutSec       int `yaml:"draw_timeout_sec" json:"draw_timeout_sec"`
	PendingSweepSec      int `yaml:"pending_sweep_sec" json:"pending_sweep_sec"`
	SweepIntervalSec     int `yaml:"sweep_interval_sec" json:"sweep_interval_sec"`
	QueueEntryTTLSec     int `yaml:"queue_entry_ttl_sec" json:"queue_entry_ttl_sec"`
}

func NewMatchmakerConfig() *MatchmakerConfig {
	return &MatchmakerConfig{
		IntervalSec:          1,
		AcceptanceTimeoutSec: 30,
		DrawTimeoutSec:       2700,
		PendingSweepSec:      300,
		SweepIntervalSec:     60,
		QueueEntryTTLSec:     3600,
	}
}

// JudgeConfig is configuration relevant to the external judge collaborator.
type JudgeConfig struct {
	Address   string `yaml:"address" json:"address"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

func NewJudgeConfig() *JudgeConfig {
	return &JudgeConfig{
		Address:   "http://localhost:9010",
		TimeoutMs: 120000,
	}
}

// MetricsConfig is configuration relevant to the Prometheus exporter.
type MetricsConfig struct {
	ReportingFreqSec int    `yaml:"reporting_freq_sec" json:"reporting_freq_sec"`
	Namespace        string `yaml:"namespace" json:"namespace"`
	PrometheusPort   int    `yaml:"prometheus_port" json:"prometheus_port"`
}

func NewMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		ReportingFreqSec: 5,
		Namespace:        "",
		PrometheusPort:   0,
	}
}
