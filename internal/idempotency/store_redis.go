package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"registrar/pkg/platform/sentinel"
)

const (
	// Redis key prefix for fingerprint records
	fingerprintKeyPrefix = "idem:fp:"
)

// RedisStore is a Redis-backed implementation of Store. This is the
// production-recommended implementation for distributed deployments where
// multiple instances must agree on which submission won a fingerprint.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed fingerprint store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Begin relies on SETNX for the compare-and-swap on absence: exactly one of
// two racing callers creates the in-flight record, the TTL rides on the key.
func (s *RedisStore) Begin(ctx context.Context, fingerprint string, ttl time.Duration) (bool, *Record, error) {
	key := fingerprintKeyPrefix + fingerprint
	now := time.Now()
	record := &Record{
		Fingerprint: fingerprint,
		State:       StateInFlight,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, nil, fmt.Errorf("marshal fingerprint record: %w", err)
	}

	created, err := s.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("setnx fingerprint: %w", err)
	}
	if created {
		return true, record, nil
	}

	existing, err := s.Get(ctx, fingerprint)
	if errors.Is(err, sentinel.ErrNotFound) {
		// The key expired or was failed between SETNX and GET; treat as
		// contention and let the guard retry acquisition.
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Record, error) {
	key := fingerprintKeyPrefix + fingerprint
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}

	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal fingerprint record: %w", err)
	}
	return &record, nil
}

// Complete rewrites the record in place, keeping the TTL set at Begin so the
// replay window is measured from first submission.
func (s *RedisStore) Complete(ctx context.Context, fingerprint string, result json.RawMessage) error {
	key := fingerprintKeyPrefix + fingerprint

	record, err := s.Get(ctx, fingerprint)
	if err != nil {
		return err
	}
	if record.State != StateInFlight {
		return sentinel.ErrInvalidState
	}
	record.State = StateCompleted
	record.Result = result

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal fingerprint record: %w", err)
	}
	err = s.client.SetArgs(ctx, key, payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("complete fingerprint: %w", err)
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, fingerprint string) error {
	key := fingerprintKeyPrefix + fingerprint
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}
