// Package dedup orchestrates the duplication audit cycle: scan, classify,
// remediate, report.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"registrar/internal/dedup/models"
	"registrar/internal/dedup/remediation"
	"registrar/internal/dedup/report"
	"registrar/internal/dedup/scanner"
)

// Service is the integrity subsystem's front door. It serializes audit
// cycles so two administrators clicking auto-fix at once cannot race each
// other, and caches the latest results for the read endpoints.
type Service struct {
	scanner  *scanner.Scanner
	engine   *remediation.Engine
	logger   *slog.Logger
	interval time.Duration

	// runMu serializes full cycles; mu guards the cached results.
	runMu sync.Mutex
	mu    sync.RWMutex

	latestScan        *models.ScanResult
	latestRemediation *models.RemediationReport
}

func NewService(sc *scanner.Scanner, engine *remediation.Engine, logger *slog.Logger, interval time.Duration) (*Service, error) {
	if sc == nil || engine == nil {
		return nil, fmt.Errorf("dedup: scanner and remediation engine are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("dedup: logger is required")
	}
	return &Service{scanner: sc, engine: engine, logger: logger, interval: interval}, nil
}

// Analyze runs a fresh scan and returns the aggregated report.
func (s *Service) Analyze(ctx context.Context) (*models.AuditReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.analyzeLocked(ctx)
}

func (s *Service) analyzeLocked(ctx context.Context) (*models.AuditReport, error) {
	scan, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.latestScan = scan
	s.mu.Unlock()
	return report.Build(scan), nil
}

// Latest returns the report for the most recent scan, scanning first if none
// has run yet.
func (s *Service) Latest(ctx context.Context) (*models.AuditReport, error) {
	s.mu.RLock()
	scan := s.latestScan
	s.mu.RUnlock()
	if scan == nil {
		return s.Analyze(ctx)
	}
	return report.Build(scan), nil
}

// AutoFix scans, merges every auto-fixable group, then scans again so the
// cached report reflects the cleaned-up state.
func (s *Service) AutoFix(ctx context.Context) (*models.RemediationReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	scan, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	remediated, err := s.engine.Remediate(ctx, scan.Groups)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.latestRemediation = remediated
	s.mu.Unlock()

	if _, err := s.analyzeLocked(ctx); err != nil {
		// Merges are committed; only the cached report refresh failed.
		s.logger.WarnContext(ctx, "post-fix rescan failed", "error", err)
	}
	return remediated, nil
}

// Export renders the latest scan as plain text, with remediation verdicts
// when an auto-fix has run.
func (s *Service) Export(ctx context.Context) (string, error) {
	s.mu.RLock()
	scan, remediated := s.latestScan, s.latestRemediation
	s.mu.RUnlock()
	if scan == nil {
		if _, err := s.Analyze(ctx); err != nil {
			return "", err
		}
		s.mu.RLock()
		scan, remediated = s.latestScan, s.latestRemediation
		s.mu.RUnlock()
	}
	return report.Export(scan, remediated), nil
}

// Run executes scheduled scans until the context ends. A non-positive
// interval disables scheduling and Run returns immediately.
func (s *Service) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Analyze(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduled scan failed", "error", err)
			}
		}
	}
}
