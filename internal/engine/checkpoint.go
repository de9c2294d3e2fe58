package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/scout/config"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a session.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted snapshot of a suspended session. It carries the
// whole state so a crash during suspension loses nothing.
type Checkpoint struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	SavedAt   time.Time    `json:"saved_at"`
}

// CheckpointStore persists suspended sessions across process restarts.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, sessionID string) (Checkpoint, error)
	Delete(ctx context.Context, sessionID string) error
}

const checkpointTTL = 7 * 24 * time.Hour

// RedisCheckpointStore keeps checkpoints in redis under scout:checkpoint:<id>.
type RedisCheckpointStore struct {
	rdb *redis.Client
}

// NewRedisCheckpointStore connects to redis and verifies the connection.
func NewRedisCheckpointStore(ctx context.Context, cfg config.RedisConfig) (*RedisCheckpointStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCheckpointStore{rdb: rdb}, nil
}

func checkpointKey(sessionID string) string { return "scout:checkpoint:" + sessionID }

func (s *RedisCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.rdb.Set(ctx, checkpointKey(cp.SessionID), payload, checkpointTTL).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, sessionID string) (Checkpoint, error) {
	raw, err := s.rdb.Get(ctx, checkpointKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	return cp, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, checkpointKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// MemoryCheckpointStore is a process-local store for tests and redis-less
// deployments.
type MemoryCheckpointStore struct {
	mu  sync.Mutex
	cps map[string]Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{cps: make(map[string]Checkpoint)}
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.SessionID] = cp
	return nil
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, sessionID string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[sessionID]
	if !ok {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, sessionID)
	return nil
}

var (
	_ CheckpointStore = (*RedisCheckpointStore)(nil)
	_ CheckpointStore = (*MemoryCheckpointStore)(nil)
)
