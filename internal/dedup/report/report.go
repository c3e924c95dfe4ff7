// Package report turns scan and remediation results into the dashboard
// aggregate and a plain-text export for administrators.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"registrar/internal/dedup/models"
	"registrar/internal/domain"
)

// Build aggregates one scan into a dashboard report. Kinds with no duplicate
// groups still appear with zero counts so the dashboard can show a clean
// bill of health, not a blank.
func Build(scan *models.ScanResult) *models.AuditReport {
	report := &models.AuditReport{GeneratedAt: scan.TakenAt}

	byKind := make(map[domain.Kind]*models.KindSummary, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		byKind[kind] = &models.KindSummary{Kind: kind, ByRule: make(map[string]int)}
	}
	for _, g := range scan.Groups {
		summary := byKind[g.Kind]
		summary.TotalGroups++
		summary.ByRule[g.Rule]++
		if g.Severity == models.SeverityCritical {
			summary.CriticalCount++
			report.CriticalCount++
		}
		if g.AutoFixable {
			summary.AutoFixableCount++
			report.AutoFixableCount++
		}
		report.TotalDuplicates++
	}

	for _, kind := range domain.Kinds() {
		report.PerKind = append(report.PerKind, *byKind[kind])
	}
	return report
}

// Export renders the scan as plain text, one line per duplicate group, with
// the latest remediation verdicts folded in when available.
func Export(scan *models.ScanResult, remediation *models.RemediationReport) string {
	verdicts := make(map[string]models.GroupOutcome)
	if remediation != nil {
		for _, o := range remediation.Outcomes {
			verdicts[groupKey(o.Group)] = o
		}
	}

	var b strings.Builder
	b.WriteString("DUPLICATION AUDIT\n")
	fmt.Fprintf(&b, "generated: %s\n", scan.TakenAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "duplicate groups: %d\n\n", len(scan.Groups))

	if len(scan.Groups) == 0 {
		b.WriteString("no duplicates found\n")
		return b.String()
	}

	for _, g := range scan.Groups {
		ids := make([]string, len(g.MemberIDs))
		for i, id := range g.MemberIDs {
			ids[i] = id.String()
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "kind=%s rule=%s key=%q severity=%s members=%d [%s] %s\n",
			g.Kind, g.Rule, g.KeyValue, g.Severity, len(g.MemberIDs),
			strings.Join(ids, ","), status(g, verdicts))
	}
	return b.String()
}

func status(g models.DuplicateGroup, verdicts map[string]models.GroupOutcome) string {
	if o, ok := verdicts[groupKey(g)]; ok {
		switch o.Status {
		case models.FixStatusFixed:
			return fmt.Sprintf("fixed: merged into %s", o.WinnerID)
		case models.FixStatusStale:
			return "stale: membership changed, re-scan needed"
		case models.FixStatusFailed:
			return "fix failed: " + o.Error
		case models.FixStatusManual:
			return "needs manual review"
		}
	}
	if g.AutoFixable {
		return "auto-fixable"
	}
	return "needs manual review"
}

func groupKey(g models.DuplicateGroup) string {
	return string(g.Kind) + "/" + g.Rule + "/" + g.KeyValue
}
