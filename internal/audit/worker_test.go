package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/internal/domain"
)

type WorkerSuite struct {
	suite.Suite
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) TestPersistsEmittedEntries() {
	store := NewInMemoryStore()
	inbox := make(chan Entry, 8)
	worker := NewWorker(store, inbox)
	publisher := NewPublisher(inbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	entry := Entry{
		Kind:        domain.KindAccount,
		Rule:        "email",
		KeyValue:    "dup@families.example",
		WinnerID:    uuid.New(),
		AbsorbedIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}
	s.Require().NoError(publisher.Emit(ctx, entry))

	s.Require().Eventually(func() bool {
		entries, err := store.List(context.Background())
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	entries, err := store.List(context.Background())
	s.Require().NoError(err)
	s.Equal(entry.Rule, entries[0].Rule)
	s.Equal(entry.WinnerID, entries[0].WinnerID)
	s.Len(entries[0].AbsorbedIDs, 2)
	s.NotZero(entries[0].ID, "publisher assigns an id")
	s.False(entries[0].MergedAt.IsZero(), "publisher stamps the merge time")

	cancel()
	<-done
}

func (s *WorkerSuite) TestEmitHonorsContext() {
	inbox := make(chan Entry) // unbuffered, nobody reading
	publisher := NewPublisher(inbox)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := publisher.Emit(ctx, Entry{Kind: domain.KindAccount, Rule: "email"})
	s.Require().ErrorIs(err, context.DeadlineExceeded)
}
