// Package handler exposes the duplication audit over the admin HTTP surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"registrar/internal/dedup/models"
	"registrar/internal/platform/middleware"
	"registrar/internal/transport/http/shared"
	dErrors "registrar/pkg/domain-errors"
)

// Service defines the integrity operations the admin surface needs.
type Service interface {
	Latest(ctx context.Context) (*models.AuditReport, error)
	Analyze(ctx context.Context) (*models.AuditReport, error)
	AutoFix(ctx context.Context) (*models.RemediationReport, error)
	Export(ctx context.Context) (string, error)
}

// Handler handles the admin integrity endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts the admin integrity routes. Everything here is
// administrator-only.
func (h *Handler) Register(r chi.Router) {
	admin := chi.NewRouter()
	admin.Use(middleware.RequireAdmin(h.jwtValidator, h.logger))
	// Auto-fix merges groups one by one; give a large batch room to finish.
	admin.Use(middleware.Timeout(60 * time.Second))
	admin.Get("/analysis", h.handleLatest)
	admin.Post("/analysis", h.handleAnalyze)
	admin.Post("/auto-fix", h.handleAutoFix)
	admin.Get("/report", h.handleReport)

	r.Mount("/admin/integrity", admin)
}

// handleLatest returns the most recent audit report, scanning on first use.
func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Latest(r.Context())
	if err != nil {
		h.fail(w, r, "latest analysis", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

// handleAnalyze runs a fresh scan.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Analyze(r.Context())
	if err != nil {
		h.fail(w, r, "analysis", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

// handleAutoFix merges every auto-fixable group and itemizes the outcome.
func (h *Handler) handleAutoFix(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AutoFix(r.Context())
	if err != nil {
		h.fail(w, r, "auto-fix", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

// handleReport returns the plain-text export.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	text, err := h.service.Export(r.Context())
	if err != nil {
		h.fail(w, r, "report export", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "integrity operation failed",
		"operation", op,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	shared.WriteError(w, dErrors.New(dErrors.CodeUnavailable, op+" failed"))
}
