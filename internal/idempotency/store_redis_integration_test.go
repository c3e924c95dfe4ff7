//go:build integration

package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"registrar/internal/idempotency"
	"registrar/pkg/platform/sentinel"
	"registrar/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *idempotency.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = idempotency.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestBeginIsAtomic() {
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _, err := s.store.Begin(ctx, "fp-race", time.Minute)
			s.NoError(err)
			wins <- created
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for created := range wins {
		if created {
			winners++
		}
	}
	s.Equal(1, winners)
}

func (s *RedisStoreSuite) TestCompleteKeepsTTL() {
	ctx := context.Background()

	created, _, err := s.store.Begin(ctx, "fp-ttl", 2*time.Second)
	s.Require().NoError(err)
	s.Require().True(created)

	s.Require().NoError(s.store.Complete(ctx, "fp-ttl", json.RawMessage(`{"ok":true}`)))

	record, err := s.store.Get(ctx, "fp-ttl")
	s.Require().NoError(err)
	s.Equal(idempotency.StateCompleted, record.State)
	s.JSONEq(`{"ok":true}`, string(record.Result))

	// The replay window is measured from Begin; the completed record must
	// still expire on the original schedule.
	s.Require().Eventually(func() bool {
		_, err := s.store.Get(ctx, "fp-ttl")
		return errors.Is(err, sentinel.ErrNotFound)
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisStoreSuite) TestFailFreesFingerprint() {
	ctx := context.Background()

	created, _, err := s.store.Begin(ctx, "fp-fail", time.Minute)
	s.Require().NoError(err)
	s.Require().True(created)

	s.Require().NoError(s.store.Fail(ctx, "fp-fail"))

	created, _, err = s.store.Begin(ctx, "fp-fail", time.Minute)
	s.Require().NoError(err)
	s.True(created)
}
