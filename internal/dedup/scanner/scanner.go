// Package scanner finds duplicate groups across the record collections by
// applying the uniqueness rule set to one consistent snapshot.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"registrar/internal/dedup/models"
	"registrar/internal/dedup/rules"
	"registrar/internal/domain"
	"registrar/internal/entity"
	"registrar/internal/platform/metrics"
)

// SnapshotSource supplies the consistent read view a scan operates on.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*entity.Snapshot, error)
}

// Scanner runs read-only duplicate detection passes. Safe for concurrent
// use; each Scan works on its own snapshot.
type Scanner struct {
	source  SnapshotSource
	ruleset []rules.Rule
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New validates the rule set up front; a malformed set fails construction
// rather than a scan at 3am.
func New(source SnapshotSource, ruleset []rules.Rule, logger *slog.Logger, m *metrics.Metrics) (*Scanner, error) {
	if source == nil {
		return nil, fmt.Errorf("scanner: snapshot source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("scanner: logger is required")
	}
	if err := rules.Validate(ruleset); err != nil {
		return nil, err
	}
	return &Scanner{source: source, ruleset: ruleset, logger: logger, metrics: m}, nil
}

// Scan takes one snapshot and evaluates every rule against it. Kinds are
// scanned concurrently; the result is sorted so identical data always
// produces an identical report.
func (s *Scanner) Scan(ctx context.Context) (*models.ScanResult, error) {
	start := time.Now()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: snapshot: %w", err)
	}

	var (
		mu     sync.Mutex
		groups []models.DuplicateGroup
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.Kinds() {
		kind := kind
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found := s.scanKind(kind, snap)
			mu.Lock()
			groups = append(groups, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.KeyValue < b.KeyValue
	})

	result := &models.ScanResult{
		TakenAt:  snap.TakenAt,
		Versions: snap.Versions,
		Groups:   groups,
	}

	elapsed := time.Since(start)
	s.logger.InfoContext(ctx, "duplication scan complete",
		"groups", len(groups),
		"duration_ms", elapsed.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.ObserveScan(elapsed, result.GroupsPerKind())
	}
	return result, nil
}

func (s *Scanner) scanKind(kind domain.Kind, snap *entity.Snapshot) []models.DuplicateGroup {
	entities := snap.Entities[kind]
	version := snap.Versions[kind]

	var groups []models.DuplicateGroup
	for _, rule := range rules.ForKind(s.ruleset, kind) {
		buckets := make(map[string][]*domain.Entity)
		for _, e := range entities {
			key, ok := rule.Key(e)
			if !ok {
				continue
			}
			buckets[key] = append(buckets[key], e)
		}
		for key, members := range buckets {
			if len(members) < 2 {
				continue
			}
			if rule.Filter != nil && !rule.Filter(members) {
				continue
			}
			ids := make([]uuid.UUID, len(members))
			for i, m := range members {
				ids[i] = m.ID
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
			severity, autoFixable := rules.Classify(rule)
			groups = append(groups, models.DuplicateGroup{
				Kind:            kind,
				Rule:            rule.Name,
				KeyValue:        key,
				MemberIDs:       ids,
				Severity:        severity,
				AutoFixable:     autoFixable,
				SnapshotVersion: version,
			})
		}
	}
	return groups
}
