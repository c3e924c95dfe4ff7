// Package remediation merges auto-fixable duplicate groups into their
// canonical winners.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"registrar/internal/audit"
	"registrar/internal/dedup/models"
	"registrar/internal/dedup/rules"
	"registrar/internal/domain"
	"registrar/internal/entity"
	"registrar/internal/platform/metrics"
	"registrar/pkg/platform/sentinel"
)

// Recorder receives an audit entry for every applied merge.
type Recorder interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Engine applies merges group by group. Each group gets its own transaction
// and its own verdict; one failed merge never aborts the batch.
type Engine struct {
	store        entity.Store
	ruleset      []rules.Rule
	recorder     Recorder
	logger       *slog.Logger
	metrics      *metrics.Metrics
	groupTimeout time.Duration
	now          func() time.Time
}

type Option func(*Engine)

// WithRecorder wires the merge audit trail.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics wires merge outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithGroupTimeout bounds each group's merge transaction.
func WithGroupTimeout(d time.Duration) Option {
	return func(e *Engine) { e.groupTimeout = d }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store entity.Store, ruleset []rules.Rule, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("remediation: entity store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("remediation: logger is required")
	}
	if err := rules.Validate(ruleset); err != nil {
		return nil, err
	}
	e := &Engine{
		store:        store,
		ruleset:      ruleset,
		logger:       logger,
		groupTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Remediate processes every group in the batch and reports per-group
// verdicts. Only context cancellation stops the batch early.
func (e *Engine) Remediate(ctx context.Context, groups []models.DuplicateGroup) (*models.RemediationReport, error) {
	report := &models.RemediationReport{StartedAt: e.now().UTC()}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome := e.processGroup(ctx, group)
		switch outcome.Status {
		case models.FixStatusFixed:
			report.Fixed++
		case models.FixStatusStale:
			report.Stale++
		case models.FixStatusFailed:
			report.Failed++
		case models.FixStatusManual:
			report.Manual++
		}
		if e.metrics != nil {
			e.metrics.ObserveMerge(string(outcome.Status))
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.FinishedAt = e.now().UTC()
	e.logger.InfoContext(ctx, "remediation run complete",
		"fixed", report.Fixed,
		"stale", report.Stale,
		"failed", report.Failed,
		"manual", report.Manual,
	)
	return report, nil
}

func (e *Engine) processGroup(ctx context.Context, group models.DuplicateGroup) models.GroupOutcome {
	outcome := models.GroupOutcome{Group: group}

	if !group.AutoFixable {
		outcome.Status = models.FixStatusManual
		return outcome
	}
	rule, ok := rules.Lookup(e.ruleset, group.Kind, group.Rule)
	if !ok || !rule.AutoFixable() {
		outcome.Status = models.FixStatusFailed
		outcome.Error = fmt.Sprintf("rule %s/%s is gone or no longer auto-fixable", group.Kind, group.Rule)
		return outcome
	}

	gctx, cancel := context.WithTimeout(ctx, e.groupTimeout)
	defer cancel()

	// Re-derive membership from current data. A scan result can be minutes
	// old; merging on stale membership could absorb a record that no longer
	// belongs to the group.
	members, version, err := e.currentMembers(gctx, rule, group.KeyValue)
	if err != nil {
		outcome.Status = models.FixStatusFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.ObservedVersion = version
	if !sameMembers(group.MemberIDs, members) {
		e.logger.WarnContext(gctx, "skipping stale duplicate group",
			"kind", group.Kind,
			"rule", group.Rule,
			"scan_version", group.SnapshotVersion,
			"observed_version", version,
		)
		outcome.Status = models.FixStatusStale
		return outcome
	}

	winnerID := rule.Merge(members)
	absorbed := make([]uuid.UUID, 0, len(members)-1)
	for _, m := range members {
		if m.ID != winnerID {
			absorbed = append(absorbed, m.ID)
		}
	}

	plan := entity.MergePlan{Kind: group.Kind, WinnerID: winnerID, AbsorbedIDs: absorbed}
	if err := e.store.Merge(gctx, plan); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			outcome.Status = models.FixStatusStale
			return outcome
		}
		e.logger.ErrorContext(gctx, "merge failed",
			"kind", group.Kind,
			"rule", group.Rule,
			"winner_id", winnerID,
			"error", err,
		)
		outcome.Status = models.FixStatusFailed
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = models.FixStatusFixed
	outcome.WinnerID = winnerID
	outcome.AbsorbedIDs = absorbed

	if e.recorder != nil {
		entry := audit.Entry{
			Kind:        group.Kind,
			Rule:        group.Rule,
			KeyValue:    group.KeyValue,
			WinnerID:    winnerID,
			AbsorbedIDs: absorbed,
			MergedAt:    e.now().UTC(),
		}
		if err := e.recorder.Emit(ctx, entry); err != nil {
			// The merge itself is committed; losing the trail entry is worth
			// a noisy log line, not a failed outcome.
			e.logger.ErrorContext(ctx, "failed to record merge audit entry", "error", err)
		}
	}
	return outcome
}

// currentMembers re-runs the group's rule against a fresh read of its kind.
func (e *Engine) currentMembers(ctx context.Context, rule rules.Rule, keyValue string) ([]*domain.Entity, int64, error) {
	entities, version, err := e.store.ListByKind(ctx, rule.Kind)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", rule.Kind, err)
	}
	var members []*domain.Entity
	for _, candidate := range entities {
		key, ok := rule.Key(candidate)
		if ok && key == keyValue {
			members = append(members, candidate)
		}
	}
	return members, version, nil
}

func sameMembers(recorded []uuid.UUID, current []*domain.Entity) bool {
	if len(recorded) != len(current) {
		return false
	}
	set := make(map[uuid.UUID]bool, len(recorded))
	for _, id := range recorded {
		set[id] = true
	}
	for _, m := range current {
		if !set[m.ID] {
			return false
		}
	}
	return true
}
