package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// SessionKeyPrefix is the prefix for session snapshots.
	// Format: fvg:session:{symbol}
	SessionKeyPrefix = "fvg:session"

	// SessionStateTTL outlives one trading day so a restart resumes the same session.
	// Snapshots holding an open position never expire.
	SessionStateTTL = 36 * time.Hour
)

// snapshotTTL returns the Redis expiry for snap, 0 meaning none
func snapshotTTL(snap session.Snapshot) time.Duration {
	if snap.Position.IsOpen() {
		return 0
	}
	return SessionStateTTL
}

// SessionStateStore keeps live session snapshots in Redis with an in-memory
// fallback when Redis is unavailable.
type SessionStateStore struct {
	client         *redis.Client
	cache          map[string]session.Snapshot
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
	logger         zerolog.Logger
}

// NewSessionStateStore creates a store. A nil client runs memory-only.
func NewSessionStateStore(ctx context.Context, client *redis.Client, logger zerolog.Logger) *SessionStateStore {
	s := &SessionStateStore{
		client: client,
		cache:  make(map[string]session.Snapshot),
		logger: logger.With().Str("component", "SessionState").Logger(),
	}

	if client == nil {
		s.logger.Info().Msg("No Redis client provided, using in-memory cache only")
		return s
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
	} else {
		s.logger.Info().Msg("Redis connected")
		s.redisAvailable.Store(true)
	}
	return s
}

func sessionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", SessionKeyPrefix, symbol)
}

// Save stores snap under its symbol
func (s *SessionStateStore) Save(ctx context.Context, snap session.Snapshot) error {
	if snap.Symbol == "" {
		return errors.New("cannot save session snapshot without a symbol")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[snap.Symbol] = snap
	s.cacheMu.Unlock()

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}
	if err := s.client.Set(ctx, sessionKey(snap.Symbol), data, snapshotTTL(snap)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save to Redis, using in-memory cache")
		s.redisAvailable.Store(false)
	}
	return nil
}

// Load returns the snapshot for symbol; ok is false when none exists
func (s *SessionStateStore) Load(ctx context.Context, symbol string) (session.Snapshot, bool, error) {
	if s.client != nil && s.redisAvailable.Load() {
		data, err := s.client.Get(ctx, sessionKey(symbol)).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			return s.fromCache(symbol)
		case err != nil:
			s.logger.Warn().Err(err).Msg("Redis read error, using in-memory cache")
			s.redisAvailable.Store(false)
			return s.fromCache(symbol)
		}

		var snap session.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return session.Snapshot{}, false, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
		}
		s.cacheMu.Lock()
		s.cache[symbol] = snap
		s.cacheMu.Unlock()
		return snap, true, nil
	}
	return s.fromCache(symbol)
}

func (s *SessionStateStore) fromCache(symbol string) (session.Snapshot, bool, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	snap, ok := s.cache[symbol]
	return snap, ok, nil
}

// Delete removes the snapshot for symbol
func (s *SessionStateStore) Delete(ctx context.Context, symbol string) error {
	s.cacheMu.Lock()
	delete(s.cache, symbol)
	s.cacheMu.Unlock()

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(symbol)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete from Redis")
		s.redisAvailable.Store(false)
	}
	return nil
}

// IsRedisAvailable returns whether Redis is currently in use
func (s *SessionStateStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

// CheckRedisConnection pings Redis and, on recovery, pushes cached snapshots back
func (s *SessionStateStore) CheckRedisConnection(ctx context.Context) error {
	if s.client == nil {
		return errors.New("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info().Msg("Redis connection recovered")
		return s.syncCacheToRedis(ctx)
	}
	return nil
}

func (s *SessionStateStore) syncCacheToRedis(ctx context.Context) error {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	pipe := s.client.TxPipeline()
	for symbol, snap := range s.cache {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		pipe.Set(ctx, sessionKey(symbol), data, snapshotTTL(snap))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync session cache to Redis: %w", err)
	}
	return nil
}

// SessionStateStats describes the store for the status endpoint
type SessionStateStats struct {
	RedisAvailable    bool `json:"redis_available"`
	InMemoryCacheSize int  `json:"in_memory_cache_size"`
}

// GetStats returns statistics about the store
func (s *SessionStateStore) GetStats() SessionStateStats {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return SessionStateStats{
		RedisAvailable:    s.redisAvailable.Load(),
		InMemoryCacheSize: len(s.cache),
	}
}
