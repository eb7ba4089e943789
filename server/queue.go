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
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

const (
	queueKey           = "matchmaking_queue"
	queueUserKeyPrefix = "queue:user:"
	blockedTokenPrefix = "jti:"
)

// QueueEntry is the JSON document stored as a sorted set member for each
// waiting player.
type QueueEntry struct {
	UserID     uuid.UUID `json:"user_id"`
	Rating     int       `json:"rating"`
	EnqueuedAt int64     `json:"enqueued_at"`
}

type QueueStore interface {
	// Enqueue adds the user to the queue. Returns false if the user is
	// already waiting.
	Enqueue(ctx context.Context, entry *QueueEntry) (bool, error)
	// Remove takes the user out of the queue. Returns false if the user was
	// not waiting.
	Remove(ctx context.Context, userID uuid.UUID) (bool, error)
	// Entries returns the full queue in enqueue order, oldest first.
	Entries(ctx context.Context) ([]*QueueEntry, error)

	BlockToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenBlocked(ctx context.Context, tokenID string) (bool, error)

	Stop()
}

type redisQueueStore struct {
	logger   *zap.Logger
	client   *redis.Client
	entryTTL time.Duration
}

func NewRedisQueueStore(logger *zap.Logger, config Config) QueueStore {
	redisConfig := config.GetRedis()
	options := &redis.Options{
		Addr:     redisConfig.Address,
		Password: redisConfig.Password,
		DB:       redisConfig.Db,
	}
	if redisConfig.TLSEnabled {
		options.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("Error pinging Redis", zap.String("address", redisConfig.Address), zap.Error(err))
	}

	return &redisQueueStore{
		logger:   logger,
		client:   client,
		entryTTL: time.Duration(config.GetMatchmaker().QueueEntryTTLSec) * time.Second,
	}
}

func (s *redisQueueStore) Enqueue(ctx context.Context, entry *QueueEntry) (bool, error) {
	// The per-user marker is the uniqueness guard. It expires on its own so a
	// crashed node cannot lock a player out of the queue forever.
	set, err := s.client.SetNX(ctx, queueUserKeyPrefix+entry.UserID.String(), "1", s.entryTTL).Result()
	if err != nil {
		s.logger.Error("Error setting queue marker", zap.String("uid", entry.UserID.String()), zap.Error(err))
		return false, err
	}
	if !set {
		return false, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	if err := s.client.ZAdd(ctx, queueKey, &redis.Z{Score: float64(entry.EnqueuedAt), Member: string(data)}).Err(); err != nil {
		s.logger.Error("Error adding queue entry", zap.String("uid", entry.UserID.String()), zap.Error(err))
		s.client.Del(ctx, queueUserKeyPrefix+entry.UserID.String())
		return false, err
	}
	return true, nil
}

func (s *redisQueueStore) Remove(ctx context.Context, userID uuid.UUID) (bool, error) {
	members, err := s.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		s.logger.Error("Error scanning queue", zap.Error(err))
		return false, err
	}

	removed := false
	for _, member := range members {
		var entry QueueEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if entry.UserID != userID {
			continue
		}
		if err := s.client.ZRem(ctx, queueKey, member).Err(); err != nil {
			s.logger.Error("Error removing queue entry", zap.String("uid", userID.String()), zap.Error(err))
			return false, err
		}
		removed = true
	}

	deleted, err := s.client.Del(ctx, queueUserKeyPrefix+userID.String()).Result()
	if err != nil {
		s.logger.Error("Error removing queue marker", zap.String("uid", userID.String()), zap.Error(err))
		return removed, err
	}
	return removed || deleted > 0, nil
}

func (s *redisQueueStore) Entries(ctx context.Context) ([]*QueueEntry, error) {
	members, err := s.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		s.logger.Error("Error reading queue", zap.Error(err))
		return nil, err
	}
	return parseQueueEntries(s.logger, members), nil
}

func (s *redisQueueStore) BlockToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired, nothing to block.
		return nil
	}
	if err := s.client.Set(ctx, blockedTokenPrefix+tokenID, "1", ttl).Err(); err != nil {
		s.logger.Error("Error blocking token", zap.String("jti", tokenID), zap.Error(err))
		return err
	}
	return nil
}

func (s *redisQueueStore) IsTokenBlocked(ctx context.Context, tokenID string) (bool, error) {
	count, err := s.client.Exists(ctx, blockedTokenPrefix+tokenID).Result()
	if err != nil {
		s.logger.Error("Error checking token blocklist", zap.String("jti", tokenID), zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

func (s *redisQueueStore) Stop() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Error closing Redis client", zap.Error(err))
	}
}

// parseQueueEntries decodes sorted set members, dropping any that fail to
// parse so one corrupt member cannot stall the whole queue.
func parseQueueEntries(logger *zap.Logger, members []string) []*QueueEntry {
	entries := make([]*QueueEntry, 0, len(members))
	for _, member := range members {
		entry := &QueueEntry{}
		if err := json.Unmarshal([]byte(member), entry); err != nil {
			logger.Warn("Dropping unreadable queue entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
