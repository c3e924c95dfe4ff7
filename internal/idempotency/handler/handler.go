// Package handler exposes the guarded write endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"registrar/internal/entity"
	"registrar/internal/idempotency"
	"registrar/internal/platform/middleware"
	"registrar/internal/transport/http/shared"
	dErrors "registrar/pkg/domain-errors"
)

// writeRequest is the guarded write envelope. The actor comes from the
// bearer token, never from the body.
type writeRequest struct {
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload"`
}

type writeResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Handler handles guarded write submissions.
type Handler struct {
	guard        *idempotency.Guard
	operations   map[string]entity.OperationFunc
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(guard *idempotency.Guard, operations map[string]entity.OperationFunc, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{guard: guard, operations: operations, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts the write surface.
func (h *Handler) Register(r chi.Router) {
	writes := chi.NewRouter()
	writes.Use(middleware.ContentTypeJSON)
	writes.Use(middleware.Timeout(30 * time.Second))
	writes.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	writes.Post("/", h.handleWrite)

	r.Mount("/writes", writes)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	actorID := middleware.GetActorID(ctx)
	if actorID == "" {
		h.logger.ErrorContext(ctx, "actor missing from context despite auth middleware",
			"request_id", requestID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	// UseNumber keeps numeric payload values stable for fingerprinting:
	// 1 and 1.0 decode to distinct json.Number tokens as written.
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var req writeRequest
	if err := decoder.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid write request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	op, ok := h.operations[req.Operation]
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown operation"))
		return
	}

	outcome, err := h.guard.Submit(ctx, idempotency.Input{
		ActorID:   actorID,
		Operation: req.Operation,
		Payload:   req.Payload,
	}, func(opCtx context.Context) (json.RawMessage, error) {
		return op(opCtx, req.Payload)
	})

	switch outcome.Status {
	case idempotency.StatusCompleted:
		shared.WriteJSON(w, http.StatusCreated, writeResponse{Status: string(outcome.Status), Result: outcome.Result})
	case idempotency.StatusReplayed:
		shared.WriteJSON(w, http.StatusOK, writeResponse{Status: string(outcome.Status), Result: outcome.Result})
	case idempotency.StatusInProgress:
		shared.WriteJSON(w, http.StatusAccepted, writeResponse{Status: string(outcome.Status)})
	default:
		h.logger.WarnContext(ctx, "guarded write failed",
			"request_id", requestID,
			"operation", req.Operation,
			"error", err,
		)
		shared.WriteError(w, err)
	}
}
