// Package redisstore keeps dead letters in Redis so several processes can
// share one reconciliation queue.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/fortressi/stepsaga"
)

// DefaultPrefix is prepended to every key the store writes.
const DefaultPrefix = "stepsaga:deadletter:"

// Store implements stepsaga.DeadLetterStore using Redis. Each letter is a
// JSON string value; a sorted set indexes the letters by recording time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ stepsaga.DeadLetterStore = (*Store)(nil)

type Option func(*Store)

// WithTTL expires dead letters after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Put stores the letter and adds it to the index in one pipeline.
func (s *Store) Put(ctx context.Context, letter stepsaga.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	id := letter.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(letter.RecordedAt.UnixMicro()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save dead letter to redis: %w", err)
	}
	return nil
}

// Get retrieves a dead letter by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*stepsaga.DeadLetter, error) {
	val, err := s.client.Get(ctx, s.key(id.String())).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", stepsaga.ErrDeadLetterNotFound, id)
		}
		return nil, fmt.Errorf("failed to get dead letter from redis: %w", err)
	}
	return decode(val)
}

// List returns the letters oldest first. Index entries whose value has
// expired are pruned on the way.
func (s *Store) List(ctx context.Context) ([]stepsaga.DeadLetter, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}

	letters := make([]stepsaga.DeadLetter, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		letter, err := decode(raw)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *letter)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired dead letters: %w", err)
		}
	}
	return letters, nil
}

// Delete removes the letter and its index entry.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id.String()))
	pipe.ZRem(ctx, s.indexKey(), id.String())

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(raw string) (*stepsaga.DeadLetter, error) {
	var letter stepsaga.DeadLetter
	if err := json.Unmarshal([]byte(raw), &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}
