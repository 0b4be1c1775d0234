package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/middleware"
	"github.com/upkab/approval-api/internal/service"
	"github.com/upkab/approval-api/internal/workflow"
)

// ApprovalServicer defines the engine methods needed by approval handlers.
// Satisfied by *service.ApprovalService; narrow interface for testability.
type ApprovalServicer interface {
	Submit(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
	Approve(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
	Reject(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
	Cancel(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
	Progress(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (*service.Progress, error)
	Permissions(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (*service.Permissions, error)
	ListLogs(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) ([]database.ApprovalLog, error)
}

// ApprovalHandler handles approval workflow endpoints for every kind.
type ApprovalHandler struct {
	svc      ApprovalServicer
	validate *validator.Validate
	log      zerolog.Logger
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(svc ApprovalServicer, log zerolog.Logger) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, validate: validator.New(), log: log}
}

// RegisterRoutes registers approval endpoints on the given Chi router.
// Expected to be mounted at /approvals behind Authenticate.
func (h *ApprovalHandler) RegisterRoutes(r chi.Router) {
	r.Route("/{kind}/{id}", func(r chi.Router) {
		r.Post("/submit", h.transition(enum.ActionSubmit))
		r.Post("/approve", h.transition(enum.ActionApprove))
		r.Post("/reject", h.transition(enum.ActionReject))
		r.Post("/cancel", h.transition(enum.ActionCancel))
		r.Get("/steps", h.Steps)
		r.Get("/logs", h.Logs)
		r.Get("/permissions", h.Permissions)
	})
}

// --- Request / Response types ---

type transitionRequest struct {
	Notes          string `json:"notes" validate:"max=2000"`
	ExpectedStatus string `json:"expected_status" validate:"omitempty,max=64,uppercase"`
}

type approvableResponse struct {
	Kind            enum.Kind   `json:"kind"`
	ID              uuid.UUID   `json:"id"`
	UnitID          *uuid.UUID  `json:"unit_id"`
	ApprovalStatus  enum.Status `json:"approval_status"`
	PathVariant     string      `json:"path_variant,omitempty"`
	SubmittedBy     *uuid.UUID  `json:"submitted_by"`
	SubmittedAt     *time.Time  `json:"submitted_at"`
	IsFullyApproved bool        `json:"is_fully_approved"`
	FullyApprovedBy *uuid.UUID  `json:"fully_approved_by"`
	FullyApprovedAt *time.Time  `json:"fully_approved_at"`
	DocumentNumber  string      `json:"document_number,omitempty"`
	TotalAmount     *string     `json:"total_amount,omitempty"`
	IsExpired       bool        `json:"is_expired,omitempty"`
}

type approvalLogResponse struct {
	ID             uuid.UUID   `json:"id"`
	PreviousStatus enum.Status `json:"previous_status"`
	ApprovalStatus enum.Status `json:"approval_status"`
	Action         string      `json:"action"`
	ActionBy       uuid.UUID   `json:"action_by"`
	RoleName       string      `json:"role_name"`
	ScopeUnitID    *uuid.UUID  `json:"scope_unit_id"`
	Notes          string      `json:"notes"`
	CreatedAt      time.Time   `json:"created_at"`
}

type transitionResponse struct {
	Entity approvableResponse  `json:"entity"`
	Log    approvalLogResponse `json:"log"`
}

type stepsResponse struct {
	Entity   approvableResponse  `json:"entity"`
	Progress workflow.Projection `json:"progress"`
}

// --- Handlers ---

// transition handles POST /approvals/{kind}/{id}/{action}.
func (h *ApprovalHandler) transition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, userID, ok := h.target(w, r)
		if !ok {
			return
		}

		var body transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := h.validate.Struct(body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "validation failed",
				"fields": validationFields(err),
			})
			return
		}

		req := service.TransitionRequest{
			Kind:           kind,
			EntityID:       id,
			ActorID:        userID,
			Notes:          body.Notes,
			ExpectedStatus: enum.Status(body.ExpectedStatus),
		}

		var (
			res *service.TransitionResult
			err error
		)
		switch action {
		case enum.ActionSubmit:
			res, err = h.svc.Submit(r.Context(), req)
		case enum.ActionApprove:
			res, err = h.svc.Approve(r.Context(), req)
		case enum.ActionReject:
			res, err = h.svc.Reject(r.Context(), req)
		case enum.ActionCancel:
			res, err = h.svc.Cancel(r.Context(), req)
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, transitionResponse{
			Entity: toApprovableResponse(res.Entity),
			Log:    toApprovalLogResponse(res.Log),
		})
	}
}

// Steps handles GET /approvals/{kind}/{id}/steps.
func (h *ApprovalHandler) Steps(w http.ResponseWriter, r *http.Request) {
	kind, id, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Progress(r.Context(), kind, id, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stepsResponse{
		Entity:   toApprovableResponse(p.Entity),
		Progress: p.Projection,
	})
}

// Logs handles GET /approvals/{kind}/{id}/logs.
func (h *ApprovalHandler) Logs(w http.ResponseWriter, r *http.Request) {
	kind, id, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	logs, err := h.svc.ListLogs(r.Context(), kind, id, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]approvalLogResponse, len(logs))
	for i, l := range logs {
		resp[i] = toApprovalLogResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Permissions handles GET /approvals/{kind}/{id}/permissions.
func (h *ApprovalHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	kind, id, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Permissions(r.Context(), kind, id, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

// target parses the kind and entity ID from the URL and the caller from the
// token. It writes the error response itself and reports false on failure.
func (h *ApprovalHandler) target(w http.ResponseWriter, r *http.Request) (enum.Kind, uuid.UUID, uuid.UUID, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return "", uuid.Nil, uuid.Nil, false
	}

	kind, ok := enum.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown workflow kind"})
		return "", uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entity ID"})
		return "", uuid.Nil, uuid.Nil, false
	}
	return kind, id, claims.UserID, true
}

func (h *ApprovalHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("approval request failed")
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotSubmittable),
		errors.Is(err, service.ErrInvalidStateTransition),
		errors.Is(err, service.ErrNotCancelable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["body"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func toApprovableResponse(a database.Approvable) approvableResponse {
	return approvableResponse{
		Kind:            a.Kind,
		ID:              a.ID,
		UnitID:          a.UnitID,
		ApprovalStatus:  a.ApprovalStatus,
		PathVariant:     a.PathVariant,
		SubmittedBy:     a.SubmittedBy,
		SubmittedAt:     a.SubmittedAt,
		IsFullyApproved: a.IsFullyApproved,
		FullyApprovedBy: a.FullyApprovedBy,
		FullyApprovedAt: a.FullyApprovedAt,
		DocumentNumber:  a.DocumentNumber,
		TotalAmount:     numericToString(a.TotalAmount),
		IsExpired:       a.IsExpired,
	}
}

func toApprovalLogResponse(l database.ApprovalLog) approvalLogResponse {
	return approvalLogResponse{
		ID:             l.ID,
		PreviousStatus: l.PreviousStatus,
		ApprovalStatus: l.ApprovalStatus,
		Action:         l.Action,
		ActionBy:       l.ActionBy,
		RoleName:       l.RoleName,
		ScopeUnitID:    l.ScopeUnitID,
		Notes:          l.Notes,
		CreatedAt:      l.CreatedAt,
	}
}

// numericToString renders a money column with two decimals; nil when NULL.
func numericToString(n pgtype.Numeric) *string {
	if !n.Valid {
		return nil
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return nil
	}
	str, ok := val.(string)
	if !ok {
		return nil
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
