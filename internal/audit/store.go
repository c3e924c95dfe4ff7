package audit

import "context"

// Store persists merge entries. Append-only; nothing updates or deletes a
// recorded merge.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
}
