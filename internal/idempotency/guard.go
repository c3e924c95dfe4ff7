package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"registrar/internal/platform/config"
	"registrar/internal/platform/metrics"
)

// Status is the caller-visible outcome of a guarded submission.
type Status string

const (
	// StatusCompleted: this submission won the fingerprint and executed.
	StatusCompleted Status = "completed"
	// StatusReplayed: an earlier identical submission already completed; the
	// cached result is returned without re-executing.
	StatusReplayed Status = "replayed"
	// StatusInProgress: an identical submission is still in flight and did
	// not finish within the wait budget; the caller should retry later.
	StatusInProgress Status = "in-progress"
	// StatusFailed: the underlying operation failed; nothing was cached and
	// an immediate retry is safe.
	StatusFailed Status = "failed"
)

// Outcome carries the submission status and, for completed and replayed
// submissions, the operation result.
type Outcome struct {
	Status Status
	Result json.RawMessage
}

// Operation is the mutating work a caller asks the guard to protect.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Guard is the single entry point for deduplicated writes. It fingerprints
// the request, wins or loses the in-flight record atomically, executes the
// operation at most once per live fingerprint, and replays cached results.
type Guard struct {
	engine  *Engine
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
}

// NewGuard wires the guard. Engine, store and logger are required; metrics
// may be nil in tests.
func NewGuard(engine *Engine, store Store, logger *slog.Logger, m *metrics.Metrics, cfg config.IdempotencyConfig) (*Guard, error) {
	if engine == nil {
		return nil, fmt.Errorf("fingerprint engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("idempotency TTL must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	// Zero is a valid wait budget (losers report in-progress immediately);
	// negative is a misconfiguration.
	if cfg.WaitTimeout < 0 {
		return nil, fmt.Errorf("wait timeout must not be negative")
	}
	return &Guard{
		engine:       engine,
		store:        store,
		logger:       logger,
		metrics:      m,
		ttl:          cfg.TTL,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: cfg.PollInterval,
	}, nil
}

// Submit guards op behind the request's fingerprint. Exactly one of N
// concurrent identical submissions executes op; the rest observe either the
// cached result (replayed) or a bounded in-progress signal. The guard never
// blocks callers of unrelated fingerprints.
func (g *Guard) Submit(ctx context.Context, in Input, op Operation) (Outcome, error) {
	fingerprint, err := g.engine.Fingerprint(in)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	start := time.Now()
	deadline := start.Add(g.waitTimeout)

	for {
		created, existing, err := g.store.Begin(ctx, fingerprint, g.ttl)
		if err != nil {
			g.observe("failed")
			return Outcome{Status: StatusFailed}, fmt.Errorf("begin fingerprint: %w", err)
		}

		if created {
			return g.execute(ctx, fingerprint, in, op)
		}

		if existing != nil && existing.State == StateCompleted {
			g.observe("replayed")
			g.observeWait(time.Since(start))
			g.logger.InfoContext(ctx, "idempotent replay",
				"operation", in.Operation,
				"actor_id", in.ActorID,
			)
			return Outcome{Status: StatusReplayed, Result: existing.Result}, nil
		}

		// An identical submission is in flight (or the record vanished
		// between SETNX and read). Wait one poll interval and re-check by
		// looping back to Begin: a completed winner becomes a replay, a
		// failed winner frees the fingerprint for a fresh attempt.
		if !g.sleepUntilRecheck(ctx, deadline) {
			g.observe("in_progress")
			g.observeWait(time.Since(start))
			return Outcome{Status: StatusInProgress}, nil
		}
	}
}

func (g *Guard) execute(ctx context.Context, fingerprint string, in Input, op Operation) (Outcome, error) {
	result, err := op(ctx)
	if err != nil {
		// Not cached: the action did not happen, a retry must be allowed to
		// re-attempt immediately.
		if failErr := g.store.Fail(ctx, fingerprint); failErr != nil {
			g.logger.ErrorContext(ctx, "failed to release fingerprint after operation error",
				"error", failErr,
				"operation", in.Operation,
			)
		}
		g.observe("failed")
		return Outcome{Status: StatusFailed}, err
	}

	if err := g.store.Complete(ctx, fingerprint, result); err != nil {
		// The operation succeeded; a lost record only weakens replay for
		// this fingerprint, it does not affect the returned result.
		g.logger.WarnContext(ctx, "failed to cache submission result",
			"error", err,
			"operation", in.Operation,
		)
	}
	g.observe("completed")
	return Outcome{Status: StatusCompleted, Result: result}, nil
}

// sleepUntilRecheck waits one poll interval. It returns false when the wait
// budget or the request context is exhausted.
func (g *Guard) sleepUntilRecheck(ctx context.Context, deadline time.Time) bool {
	if !time.Now().Before(deadline) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(g.pollInterval):
		return time.Now().Before(deadline)
	}
}

func (g *Guard) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveGuardOutcome(outcome)
	}
}

func (g *Guard) observeWait(d time.Duration) {
	if g.metrics != nil {
		g.metrics.ObserveGuardWait(d)
	}
}
