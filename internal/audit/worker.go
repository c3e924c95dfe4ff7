package audit

import "context"

// Worker consumes merge entries from a channel and persists them, keeping
// the remediation path free of storage latency.
type Worker struct {
	store Store
	inbox <-chan Entry
}

func NewWorker(store Store, inbox <-chan Entry) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			if err := w.store.Append(ctx, entry); err != nil {
				return err
			}
		}
	}
}
