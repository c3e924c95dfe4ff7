// Package models defines the duplication-audit data model shared by the
// scanner, classifier, remediation engine and reporter.
package models

import (
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
)

// Severity classifies how serious a duplicate group is. Critical groups are
// data defects; informational groups are surfaced but may be legitimate
// (a shared family phone, a teacher working at several schools).
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityInformational Severity = "informational"
)

// FixStatus describes what happened (or can happen) to a duplicate group.
type FixStatus string

const (
	// FixStatusFixed: the group was merged into its canonical winner.
	FixStatusFixed FixStatus = "fixed"
	// FixStatusStale: membership changed between scan and remediation; the
	// group was skipped and needs a re-scan.
	FixStatusStale FixStatus = "stale"
	// FixStatusFailed: the merge transaction failed and was rolled back.
	FixStatusFailed FixStatus = "failed"
	// FixStatusManual: no deterministic merge policy; needs an administrator.
	FixStatusManual FixStatus = "manual"
)

// DuplicateGroup is a set of records of one kind sharing a uniqueness-rule
// key value. Always has at least two members; AutoFixable is true only when
// the originating rule carries a merge policy.
type DuplicateGroup struct {
	Kind            domain.Kind `json:"kind"`
	Rule            string      `json:"rule"`
	KeyValue        string      `json:"key_value"`
	MemberIDs       []uuid.UUID `json:"member_ids"`
	Severity        Severity    `json:"severity"`
	AutoFixable     bool        `json:"auto_fixable"`
	SnapshotVersion int64       `json:"snapshot_version"`
}

// ScanResult is one scanner pass: all duplicate groups observed at a single
// consistent point in time, plus the per-kind collection versions of that
// snapshot.
type ScanResult struct {
	TakenAt  time.Time             `json:"taken_at"`
	Versions map[domain.Kind]int64 `json:"versions"`
	Groups   []DuplicateGroup      `json:"groups"`
}

// GroupsPerKind counts duplicate groups by kind, including kinds with zero
// groups so gauges reset.
func (r *ScanResult) GroupsPerKind() map[string]int {
	counts := make(map[string]int, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		counts[string(kind)] = 0
	}
	for _, g := range r.Groups {
		counts[string(g.Kind)]++
	}
	return counts
}

// GroupOutcome records what the remediation engine did with one group.
type GroupOutcome struct {
	Group       DuplicateGroup `json:"group"`
	Status      FixStatus      `json:"status"`
	WinnerID    uuid.UUID      `json:"winner_id,omitempty"`
	AbsorbedIDs []uuid.UUID    `json:"absorbed_ids,omitempty"`
	// ObservedVersion is the collection version seen at remediation time;
	// differs from the group's snapshot version for stale groups.
	ObservedVersion int64  `json:"observed_version,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RemediationReport itemizes one remediation run. Failed merges never abort
// the run; every group gets an outcome.
type RemediationReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Fixed      int            `json:"fixed"`
	Stale      int            `json:"stale"`
	Failed     int            `json:"failed"`
	Manual     int            `json:"manual"`
	Outcomes   []GroupOutcome `json:"outcomes"`
}

// KindSummary aggregates one kind's duplicate groups for the dashboard.
type KindSummary struct {
	Kind             domain.Kind    `json:"kind"`
	TotalGroups      int            `json:"total_groups"`
	CriticalCount    int            `json:"critical_count"`
	AutoFixableCount int            `json:"auto_fixable_count"`
	ByRule           map[string]int `json:"by_rule"`
}

// AuditReport is the dashboard-facing aggregate. Immutable once produced;
// the next scan supersedes it wholesale.
type AuditReport struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	PerKind          []KindSummary `json:"per_kind"`
	TotalDuplicates  int           `json:"total_duplicates"`
	CriticalCount    int           `json:"critical_count"`
	AutoFixableCount int           `json:"auto_fixable_count"`
}
