package report

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/internal/dedup/models"
	"registrar/internal/domain"
)

type ReportSuite struct {
	suite.Suite
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportSuite))
}

func (s *ReportSuite) scan() *models.ScanResult {
	return &models.ScanResult{
		TakenAt: time.Date(2026, 4, 2, 7, 0, 0, 0, time.UTC),
		Groups: []models.DuplicateGroup{
			{
				Kind: domain.KindAccount, Rule: "email", KeyValue: "dup@families.example",
				MemberIDs: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
				Severity:  models.SeverityCritical, AutoFixable: true,
			},
			{
				Kind: domain.KindAccount, Rule: "phone", KeyValue: "+23760",
				MemberIDs: []uuid.UUID{uuid.New(), uuid.New()},
				Severity:  models.SeverityInformational,
			},
			{
				Kind: domain.KindOrganization, Rule: "registration_code", KeyValue: "code-1",
				MemberIDs: []uuid.UUID{uuid.New(), uuid.New()},
				Severity:  models.SeverityCritical, AutoFixable: true,
			},
		},
	}
}

func (s *ReportSuite) TestBuildAggregates() {
	report := Build(s.scan())

	s.Equal(3, report.TotalDuplicates)
	s.Equal(2, report.CriticalCount)
	s.Equal(2, report.AutoFixableCount)

	s.Require().Len(report.PerKind, len(domain.Kinds()), "every kind appears, duplicates or not")
	byKind := make(map[domain.Kind]models.KindSummary)
	for _, summary := range report.PerKind {
		byKind[summary.Kind] = summary
	}
	s.Equal(2, byKind[domain.KindAccount].TotalGroups)
	s.Equal(1, byKind[domain.KindAccount].CriticalCount)
	s.Equal(1, byKind[domain.KindAccount].ByRule["email"])
	s.Equal(1, byKind[domain.KindOrganization].TotalGroups)
	s.Zero(byKind[domain.KindStudent].TotalGroups)
}

func (s *ReportSuite) TestExportOneLinePerGroup() {
	scan := s.scan()
	text := Export(scan, nil)

	lines := strings.Split(strings.TrimSpace(text), "\n")
	var groupLines []string
	for _, line := range lines {
		if strings.HasPrefix(line, "kind=") {
			groupLines = append(groupLines, line)
		}
	}
	s.Len(groupLines, len(scan.Groups))
	s.Contains(text, "auto-fixable")
	s.Contains(text, "needs manual review")
}

// Every group line names the colliding key value; without it an
// administrator cannot tell which email or code a group collides on.
func (s *ReportSuite) TestExportNamesCollidingKey() {
	scan := s.scan()
	text := Export(scan, nil)

	for _, g := range scan.Groups {
		s.Contains(text, `key="`+g.KeyValue+`"`)
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.HasPrefix(line, "kind=") {
			s.Contains(line, " key=", "group line missing its key: %s", line)
		}
	}
}

func (s *ReportSuite) TestExportFoldsInVerdicts() {
	scan := s.scan()
	winner := uuid.New()
	remediation := &models.RemediationReport{
		Outcomes: []models.GroupOutcome{
			{Group: scan.Groups[0], Status: models.FixStatusFixed, WinnerID: winner},
			{Group: scan.Groups[2], Status: models.FixStatusStale},
		},
	}

	text := Export(scan, remediation)
	s.Contains(text, "fixed: merged into "+winner.String())
	s.Contains(text, "stale: membership changed")
}

func (s *ReportSuite) TestExportEmptyScan() {
	text := Export(&models.ScanResult{TakenAt: time.Now()}, nil)
	s.Contains(text, "no duplicates found")
}
