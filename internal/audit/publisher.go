package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher hands merge entries to the worker's inbox. Emit blocks only
// until the buffer accepts the entry or the context ends, so a slow store
// backs pressure up instead of losing entries.
type Publisher struct {
	inbox chan<- Entry
}

func NewPublisher(inbox chan<- Entry) *Publisher {
	return &Publisher{inbox: inbox}
}

func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.MergedAt.IsZero() {
		entry.MergedAt = time.Now().UTC()
	}
	select {
	case p.inbox <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
