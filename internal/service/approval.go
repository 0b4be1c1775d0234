package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/metrics"
	"github.com/upkab/approval-api/internal/notify"
	"github.com/upkab/approval-api/internal/scope"
	"github.com/upkab/approval-api/internal/unit"
	"github.com/upkab/approval-api/internal/workflow"
)

// Errors returned by the approval service.
var (
	ErrUnauthorized           = errors.New("not authorized")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotSubmittable         = errors.New("not submittable")
	ErrNotCancelable          = errors.New("not cancelable")
	ErrNoNextStatus           = errors.New("no next status configured")
	ErrConcurrentModification = errors.New("entity was modified concurrently")
	ErrDependencyUnavailable  = errors.New("dependency unavailable")
	ErrNotFound               = errors.New("entity not found")
	ErrUnknownKind            = errors.New("unknown workflow kind")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ApprovalStore defines the DB methods a transition needs.
// Satisfied by *database.Queries.
type ApprovalStore interface {
	GetApprovable(ctx context.Context, kind enum.Kind, id uuid.UUID) (database.Approvable, error)
	UpdateApprovalState(ctx context.Context, arg database.UpdateApprovalStateParams) error
	CreateApprovalLog(ctx context.Context, arg database.CreateApprovalLogParams) (database.ApprovalLog, error)
	NextDocumentSequence(ctx context.Context, arg database.NextDocumentSequenceParams) (int32, error)
	SetDocumentNumber(ctx context.Context, arg database.SetDocumentNumberParams) error
	MarkBookingExpired(ctx context.Context, id uuid.UUID) error
	ListApprovalLogs(ctx context.Context, arg database.ListApprovalLogsParams) ([]database.ApprovalLog, error)
}

// NewApprovalStore creates an ApprovalStore from a DBTX (pool or tx).
type NewApprovalStore func(db database.DBTX) ApprovalStore

// RoleDirectory resolves the role assignments of a user.
type RoleDirectory interface {
	GetRoleAssignments(ctx context.Context, userID uuid.UUID) ([]scope.Assignment, error)
}

// HierarchyProvider returns a unit hierarchy snapshot of bounded staleness.
type HierarchyProvider interface {
	Hierarchy(ctx context.Context) (*unit.Graph, error)
}

// Notifier receives events after their transaction has committed.
// Implementations must not block.
type Notifier interface {
	Notify(e notify.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(notify.Event) {}

// TransitionRequest identifies an entity, the acting user and a note.
type TransitionRequest struct {
	Kind     enum.Kind
	EntityID uuid.UUID
	ActorID  uuid.UUID
	Notes    string
	// ExpectedStatus is the status the caller last saw. When set, the
	// transition fails with ErrConcurrentModification if it no longer holds.
	ExpectedStatus enum.Status
}

// TransitionResult is the entity after the transition and its audit entry.
type TransitionResult struct {
	Entity database.Approvable
	Log    database.ApprovalLog
}

// ApprovalService runs Submit, Approve, Reject and Cancel for every workflow
// kind. Each transition re-reads the entity inside its own transaction and
// writes the new state, any terminal side effect and the audit entry
// together.
type ApprovalService struct {
	pool      TxBeginner
	newStore  NewApprovalStore
	directory RoleDirectory
	units     HierarchyProvider
	hooks     map[enum.Kind]TerminalHook
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures an ApprovalService.
type Option func(*ApprovalService)

// WithHooks replaces the terminal side effects run on approval.
func WithHooks(hooks map[enum.Kind]TerminalHook) Option {
	return func(s *ApprovalService) { s.hooks = hooks }
}

func WithNotifier(n Notifier) Option {
	return func(s *ApprovalService) { s.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *ApprovalService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *ApprovalService) { s.now = now }
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(pool TxBeginner, newStore NewApprovalStore, directory RoleDirectory, units HierarchyProvider, opts ...Option) *ApprovalService {
	s := &ApprovalService{
		pool:      pool,
		newStore:  newStore,
		directory: directory,
		units:     units,
		hooks:     DefaultHooks(),
		notifier:  nopNotifier{},
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// actor is the acting principal with everything needed to authorize it.
type actor struct {
	id          uuid.UUID
	assignments []scope.Assignment
	authz       *scope.Authorizer
	system      bool
}

func (a actor) findRole(required []string, target *uuid.UUID) (string, bool) {
	if a.system {
		return enum.RoleSuperAdmin, true
	}
	return a.authz.FindAuthorizedRole(a.assignments, required, target)
}

// change is the outcome of planning a transition.
type change struct {
	action string
	role   string
	// to is the stored status; logged is the status written to the audit
	// entry. They differ only for reject.
	to      enum.Status
	logged  enum.Status
	variant string
	submit  bool
	reset   bool
	expire  bool
	notes   string
}

type planFunc func(def *workflow.Definition, cur database.Approvable, who actor) (change, error)

// Submit moves a draft to the first pending step of its path.
func (s *ApprovalService) Submit(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, enum.ActionSubmit, req, planSubmit)
}

// Approve advances a pending entity one step, or approves a draft directly
// on a bypass path.
func (s *ApprovalService) Approve(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, enum.ActionApprove, req, planApprove)
}

// Reject resets a pending entity to draft. The audit entry records REJECTED.
func (s *ApprovalService) Reject(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, enum.ActionReject, req, planReject)
}

// Cancel ends a cancelable entity that is not yet terminal.
func (s *ApprovalService) Cancel(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, enum.ActionCancel, req, planCancel)
}

func (s *ApprovalService) transition(ctx context.Context, action string, req TransitionRequest, plan planFunc) (*TransitionResult, error) {
	who, err := s.resolveActor(ctx, req.ActorID)
	if err != nil {
		s.observe(req.Kind, action, time.Now(), err)
		return nil, err
	}
	return s.execute(ctx, action, req, who, plan)
}

func (s *ApprovalService) resolveActor(ctx context.Context, userID uuid.UUID) (actor, error) {
	assignments, err := s.directory.GetRoleAssignments(ctx, userID)
	if err != nil {
		return actor{}, fmt.Errorf("%w: role assignments: %w", ErrDependencyUnavailable, err)
	}
	graph, err := s.units.Hierarchy(ctx)
	if err != nil {
		return actor{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}
	return actor{
		id:          userID,
		assignments: assignments,
		authz:       scope.NewAuthorizer(graph, enum.GlobalRoles...),
	}, nil
}

func (s *ApprovalService) execute(ctx context.Context, action string, req TransitionRequest, who actor, plan planFunc) (res *TransitionResult, err error) {
	start := time.Now()
	defer func() { s.observe(req.Kind, action, start, err) }()

	def, ok := workflow.For(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", ErrDependencyUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	cur, err := store.GetApprovable(ctx, req.Kind, req.EntityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, req.Kind, req.EntityID)
		}
		return nil, fmt.Errorf("%w: load entity: %w", ErrDependencyUnavailable, err)
	}
	if req.ExpectedStatus != "" && cur.ApprovalStatus != req.ExpectedStatus {
		return nil, fmt.Errorf("%w: %s is now %s, not %s; reload and retry",
			ErrConcurrentModification, req.Kind, statusName(cur.ApprovalStatus), req.ExpectedStatus)
	}

	ch, err := plan(def, cur, who)
	if err != nil {
		if errors.Is(err, ErrNoNextStatus) {
			s.log.Error().Err(err).
				Str("kind", string(req.Kind)).
				Str("entity_id", req.EntityID.String()).
				Str("status", string(cur.ApprovalStatus)).
				Msg("approval table has no transition")
		}
		return nil, err
	}
	if req.Notes != "" {
		ch.notes = req.Notes
	}

	now := s.now()
	next := apply(cur, ch, who.id, now)

	err = store.UpdateApprovalState(ctx, database.UpdateApprovalStateParams{
		Kind:            next.Kind,
		ID:              next.ID,
		ApprovalStatus:  next.ApprovalStatus,
		PathVariant:     next.PathVariant,
		SubmittedBy:     next.SubmittedBy,
		SubmittedAt:     next.SubmittedAt,
		IsFullyApproved: next.IsFullyApproved,
		FullyApprovedBy: next.FullyApprovedBy,
		FullyApprovedAt: next.FullyApprovedAt,
		ExpectedStatus:  cur.ApprovalStatus,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s changed while it was being updated; reload and retry", ErrConcurrentModification, req.Kind)
		}
		return nil, fmt.Errorf("%w: update status: %w", ErrDependencyUnavailable, err)
	}

	if ch.expire {
		if err := store.MarkBookingExpired(ctx, next.ID); err != nil {
			return nil, fmt.Errorf("%w: mark expired: %w", ErrDependencyUnavailable, err)
		}
		next.IsExpired = true
	}

	if next.ApprovalStatus == enum.StatusApproved {
		if hook, ok := s.hooks[next.Kind]; ok {
			if err := hook.OnApproved(ctx, store, &next, now); err != nil {
				return nil, fmt.Errorf("%w: terminal hook: %w", ErrDependencyUnavailable, err)
			}
		}
	}

	entry, err := store.CreateApprovalLog(ctx, database.CreateApprovalLogParams{
		Kind:           next.Kind,
		EntityID:       next.ID,
		PreviousStatus: cur.ApprovalStatus,
		ApprovalStatus: ch.logged,
		Action:         ch.action,
		ActionBy:       who.id,
		RoleName:       ch.role,
		ScopeUnitID:    next.UnitID,
		Notes:          ch.notes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: append audit log: %w", ErrDependencyUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrDependencyUnavailable, err)
	}

	s.log.Info().
		Str("kind", string(next.Kind)).
		Str("entity_id", next.ID.String()).
		Str("action", ch.action).
		Str("role", ch.role).
		Str("actor_id", who.id.String()).
		Str("from_status", string(cur.ApprovalStatus)).
		Str("to_status", string(next.ApprovalStatus)).
		Msg("approval transition")

	s.notifier.Notify(toEvent(cur, next, ch, who.id, now))

	return &TransitionResult{Entity: next, Log: entry}, nil
}

// apply computes the entity state after ch. is_fully_approved and the
// fully_approved_* columns always follow the new status.
func apply(cur database.Approvable, ch change, actorID uuid.UUID, now time.Time) database.Approvable {
	next := cur
	next.ApprovalStatus = ch.to

	switch {
	case ch.submit:
		next.PathVariant = ch.variant
		by, at := actorID, now
		next.SubmittedBy = &by
		next.SubmittedAt = &at
	case ch.reset:
		next.PathVariant = ""
	case ch.variant != "":
		next.PathVariant = ch.variant
	}

	next.IsFullyApproved = ch.to == enum.StatusApproved
	next.FullyApprovedBy = nil
	next.FullyApprovedAt = nil
	if next.IsFullyApproved {
		by, at := actorID, now
		next.FullyApprovedBy = &by
		next.FullyApprovedAt = &at
	}
	return next
}

func toEvent(cur, next database.Approvable, ch change, actorID uuid.UUID, now time.Time) notify.Event {
	e := notify.Event{
		Type:       notify.EventType(ch.action),
		Kind:       next.Kind,
		EntityID:   next.ID,
		UnitID:     next.UnitID,
		FromStatus: cur.ApprovalStatus,
		Status:     ch.logged,
		Action:     ch.action,
		ActorID:    actorID,
		Role:       ch.role,
		Terminal:   next.ApprovalStatus == enum.StatusApproved || next.ApprovalStatus == enum.StatusCanceled,
		Number:     next.DocumentNumber,
		Notes:      ch.notes,
		At:         now,
	}
	if next.TotalAmount.Valid {
		if d, err := numericToDecimal(next.TotalAmount); err == nil {
			e.TotalAmount = &d
		}
	}
	return e
}

// contextOf builds the path-selection context of an entity. The stored
// variant is only honoured once the entity has been submitted.
func contextOf(a database.Approvable) workflow.Context {
	c := workflow.Context{PaymentCode: a.PaymentCode, RecipientCode: a.RecipientCode}
	if !workflow.IsStart(a.ApprovalStatus) {
		c.Variant = a.PathVariant
	}
	return c
}

func planSubmit(def *workflow.Definition, cur database.Approvable, who actor) (change, error) {
	status := cur.ApprovalStatus
	if !workflow.IsStart(status) {
		if _, ok := who.findRole(def.SubmitRoles, cur.UnitID); ok && def.IsPending(status) {
			return change{}, fmt.Errorf("%w: %w: %s was already submitted and is %s; reload and retry",
				ErrNotSubmittable, ErrConcurrentModification, def.Kind, statusName(status))
		}
		return change{}, fmt.Errorf("%w: %s is %s; only a draft or rejected entry can be submitted",
			ErrNotSubmittable, def.Kind, statusName(status))
	}
	c := contextOf(cur)
	if def.IsBypass(c) {
		return change{}, fmt.Errorf("%w: %s qualifies for direct approval; %s must approve it instead",
			ErrNotSubmittable, def.Kind, def.BypassRole)
	}
	if def.RequiresRecipient && !cur.HasRecipient {
		return change{}, fmt.Errorf("%w: %s has no recipient status yet", ErrNotSubmittable, def.Kind)
	}
	if cur.UnitID == nil {
		return change{}, fmt.Errorf("%w: %s has no owning unit", ErrNotSubmittable, def.Kind)
	}

	role, ok := who.findRole(def.SubmitRoles, cur.UnitID)
	if !ok {
		return change{}, unauthorized(enum.ActionSubmit, def.Kind, def.SubmitRoles, cur.UnitID)
	}
	next, ok := def.NextStatus(status, c)
	if !ok {
		return change{}, fmt.Errorf("%w: %s from %s", ErrNoNextStatus, def.Kind, statusName(status))
	}
	return change{
		action:  enum.ActionSubmit,
		role:    role,
		to:      next,
		logged:  next,
		variant: def.Path(c),
		submit:  true,
	}, nil
}

func planApprove(def *workflow.Definition, cur database.Approvable, who actor) (change, error) {
	status := cur.ApprovalStatus
	c := contextOf(cur)
	if def.IsTerminal(status) {
		return change{}, fmt.Errorf("%w: %s is already %s", ErrInvalidStateTransition, def.Kind, statusName(status))
	}
	bypass := workflow.IsStart(status) && def.IsBypass(c)
	if workflow.IsStart(status) && !bypass {
		return change{}, fmt.Errorf("%w: %s is %s; it must be submitted before it can be approved",
			ErrInvalidStateTransition, def.Kind, statusName(status))
	}
	if !bypass && !def.IsPending(status) {
		return change{}, fmt.Errorf("%w: %s has unknown status %s", ErrInvalidStateTransition, def.Kind, status)
	}

	roles := def.ApproverRoles(status, c)
	if len(roles) == 0 {
		return change{}, fmt.Errorf("%w: %s has no approver for %s on path %s", ErrNoNextStatus, def.Kind, status, def.Path(c))
	}
	role, ok := who.findRole(roles, cur.UnitID)
	if !ok {
		if !bypass && heldEarlierStep(def, c, status, who, cur.UnitID) {
			return change{}, movedOn(def.Kind, status)
		}
		return change{}, unauthorized(enum.ActionApprove, def.Kind, roles, cur.UnitID)
	}
	next, ok := def.NextStatus(status, c)
	if !ok {
		return change{}, fmt.Errorf("%w: %s from %s on path %s", ErrNoNextStatus, def.Kind, statusName(status), def.Path(c))
	}

	ch := change{action: enum.ActionApprove, role: role, to: next, logged: next}
	if bypass {
		ch.variant = def.Path(c)
	}
	return ch, nil
}

func planReject(def *workflow.Definition, cur database.Approvable, who actor) (change, error) {
	status := cur.ApprovalStatus
	if def.IsTerminal(status) {
		return change{}, fmt.Errorf("%w: %s is already %s", ErrInvalidStateTransition, def.Kind, statusName(status))
	}
	if !def.IsPending(status) {
		return change{}, fmt.Errorf("%w: %s is %s; only a pending entry can be rejected",
			ErrInvalidStateTransition, def.Kind, statusName(status))
	}

	c := contextOf(cur)
	roles := def.ApproverRoles(status, c)
	if len(roles) == 0 {
		return change{}, fmt.Errorf("%w: %s has no approver for %s on path %s", ErrNoNextStatus, def.Kind, status, def.Path(c))
	}
	role, ok := who.findRole(roles, cur.UnitID)
	if !ok {
		if heldEarlierStep(def, c, status, who, cur.UnitID) {
			return change{}, movedOn(def.Kind, status)
		}
		return change{}, unauthorized(enum.ActionReject, def.Kind, roles, cur.UnitID)
	}
	return change{
		action: enum.ActionReject,
		role:   role,
		to:     enum.StatusDraft,
		logged: enum.StatusRejected,
		reset:  true,
		notes:  fmt.Sprintf("%s rejected and reset to draft. Please resubmit after making corrections.", kindLabel(def.Kind)),
	}, nil
}

func planCancel(def *workflow.Definition, cur database.Approvable, who actor) (change, error) {
	if !def.Cancelable {
		return change{}, fmt.Errorf("%w: %s entries cannot be canceled", ErrNotCancelable, def.Kind)
	}
	if def.IsTerminal(cur.ApprovalStatus) {
		return change{}, fmt.Errorf("%w: %s is already %s", ErrInvalidStateTransition, def.Kind, statusName(cur.ApprovalStatus))
	}
	role, ok := who.findRole(def.SubmitRoles, cur.UnitID)
	if !ok {
		return change{}, unauthorized(enum.ActionCancel, def.Kind, def.SubmitRoles, cur.UnitID)
	}
	return change{
		action: enum.ActionCancel,
		role:   role,
		to:     enum.StatusCanceled,
		logged: enum.StatusCanceled,
		notes:  fmt.Sprintf("%s canceled.", kindLabel(def.Kind)),
	}, nil
}

// heldEarlierStep reports whether who may act on a step of the path that
// comes before status. Such a caller read the entity before another approver
// moved it on, so the failure is a stale read rather than a missing role.
func heldEarlierStep(def *workflow.Definition, c workflow.Context, status enum.Status, who actor, unitID *uuid.UUID) bool {
	for _, st := range def.Steps(c) {
		if st.Status == status {
			return false
		}
		if _, ok := who.findRole([]string{st.Role}, unitID); ok {
			return true
		}
	}
	return false
}

func movedOn(kind enum.Kind, status enum.Status) error {
	return fmt.Errorf("%w: %s already moved past your step and is %s; reload and retry",
		ErrConcurrentModification, kind, statusName(status))
}

func unauthorized(action string, kind enum.Kind, roles []string, unitID *uuid.UUID) error {
	target := "any unit"
	if unitID != nil {
		target = "unit " + unitID.String()
	}
	return fmt.Errorf("%w: %s on %s requires role %s over %s",
		ErrUnauthorized, action, kind, strings.Join(roles, " or "), target)
}

func statusName(s enum.Status) string {
	if s == "" {
		return "not submitted"
	}
	return string(s)
}

func kindLabel(k enum.Kind) string {
	switch k {
	case enum.KindBookingOrder:
		return "Booking order"
	case enum.KindProduct:
		return "Product"
	case enum.KindVoucher:
		return "Voucher"
	case enum.KindBlockedSlot:
		return "Blocked slot"
	case enum.KindInvoice:
		return "Invoice"
	}
	return string(k)
}

func (s *ApprovalService) observe(kind enum.Kind, action string, start time.Time, err error) {
	metrics.Transitions.WithLabelValues(string(kind), action, outcome(err)).Inc()
	metrics.TransitionDuration.WithLabelValues(string(kind), action).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrNotSubmittable):
		return "not_submittable"
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrNotCancelable):
		return "invalid_state"
	case errors.Is(err, ErrNoNextStatus):
		return "no_next_status"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownKind):
		return "not_found"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency"
	}
	return "error"
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero, err
	}
	str, ok := val.(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected numeric value %T", val)
	}
	return decimal.NewFromString(str)
}
