package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"registrar/pkg/platform/sentinel"
)

// InMemoryStore implements Store with a mutex-guarded map. Suitable for
// single-instance deployments and tests; distributed deployments use
// RedisStore so instances share fingerprint state.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// InMemoryStoreOption configures an InMemoryStore.
type InMemoryStoreOption func(*InMemoryStore)

// WithClock sets the clock function for testability.
func WithClock(now func() time.Time) InMemoryStoreOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore creates an empty in-memory fingerprint store.
func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Begin atomically creates an in-flight record when the fingerprint is absent
// or expired. Expiry is checked lazily on access rather than by a janitor.
func (s *InMemoryStore) Begin(ctx context.Context, fingerprint string, ttl time.Duration) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.records[fingerprint]; ok && !existing.Expired(now) {
		return false, cloneRecord(existing), nil
	}

	record := &Record{
		Fingerprint: fingerprint,
		State:       StateInFlight,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[fingerprint] = record
	return true, cloneRecord(record), nil
}

func (s *InMemoryStore) Get(ctx context.Context, fingerprint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fingerprint]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if record.Expired(s.now()) {
		delete(s.records, fingerprint)
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *InMemoryStore) Complete(ctx context.Context, fingerprint string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fingerprint]
	if !ok || record.Expired(s.now()) {
		return sentinel.ErrNotFound
	}
	if record.State != StateInFlight {
		return sentinel.ErrInvalidState
	}
	record.State = StateCompleted
	record.Result = result
	return nil
}

func (s *InMemoryStore) Fail(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, fingerprint)
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.Result != nil {
		c.Result = make(json.RawMessage, len(r.Result))
		copy(c.Result, r.Result)
	}
	return &c
}
