package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/scope"
	"github.com/upkab/approval-api/internal/unit"
)

// --- Fixture ---

var testNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

// Unit tree: root -> a -> a1, root -> b.
type fixture struct {
	db       *memDB
	dir      *mapDirectory
	units    *staticHierarchy
	notifier *recordingNotifier
	svc      *ApprovalService
	users    map[string]uuid.UUID

	root, a, a1, b uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       newMemDB(),
		notifier: &recordingNotifier{},
		users:    make(map[string]uuid.UUID),
		root:     uuid.New(),
		a:        uuid.New(),
		a1:       uuid.New(),
		b:        uuid.New(),
	}
	f.units = &staticHierarchy{graph: unit.NewGraph([]unit.Unit{
		{ID: f.root, Name: "UPKAB"},
		{ID: f.a, ParentID: &f.root, Name: "Unit A"},
		{ID: f.a1, ParentID: &f.a, Name: "Unit A1"},
		{ID: f.b, ParentID: &f.root, Name: "Unit B"},
	})}

	roles := map[uuid.UUID][]scope.Assignment{}
	add := func(name, role string, units ...uuid.UUID) {
		id := uuid.New()
		f.users[name] = id
		roles[id] = []scope.Assignment{{Role: role, Units: units}}
	}
	add("operator", enum.RoleOperatorUnit, f.a1)
	add("spv", enum.RoleSpvUnit, f.a)
	add("spvB", enum.RoleSpvUnit, f.b)
	add("manajer", enum.RoleManajerUpkab, f.root)
	add("qc", enum.RoleQcProduk)
	add("verpajak", enum.RoleVerifikatorPajak)
	add("ka", enum.RoleKaUpkab, f.root)
	add("kasir", enum.RoleKasirUnit, f.a1)
	add("wr2", enum.RoleWr2)
	add("verif", enum.RoleVerifPajak)
	add("kepala", enum.RoleKepalaUpkab, f.root)
	add("super", enum.RoleSuperAdmin)
	f.dir = &mapDirectory{roles: roles}

	f.svc = NewApprovalService(f.db, newMemStore, f.dir, f.units,
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func (f *fixture) seed(kind enum.Kind, mutate ...func(*database.Approvable)) uuid.UUID {
	unitID := f.a1
	a := database.Approvable{
		Kind:           kind,
		ID:             uuid.New(),
		UnitID:         &unitID,
		ApprovalStatus: enum.StatusDraft,
	}
	for _, m := range mutate {
		m(&a)
	}
	f.db.put(a)
	return a.ID
}

func (f *fixture) req(kind enum.Kind, id uuid.UUID, user string) TransitionRequest {
	return TransitionRequest{Kind: kind, EntityID: id, ActorID: f.users[user]}
}

func withRecipient(code string) func(*database.Approvable) {
	return func(a *database.Approvable) {
		a.RecipientCode = code
		a.HasRecipient = true
	}
}

func withPayment(code string) func(*database.Approvable) {
	return func(a *database.Approvable) { a.PaymentCode = code }
}

func withStatus(s enum.Status) func(*database.Approvable) {
	return func(a *database.Approvable) { a.ApprovalStatus = s }
}

// --- Product: full standard path ---

func TestProductFullPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindProduct)

	res, err := f.svc.Submit(ctx, f.req(enum.KindProduct, id, "operator"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingSpvUnit, res.Entity.ApprovalStatus)
	assert.Equal(t, enum.PathStandard, res.Entity.PathVariant)
	require.NotNil(t, res.Entity.SubmittedAt)
	assert.Equal(t, testNow, *res.Entity.SubmittedAt)
	assert.Equal(t, enum.RoleOperatorUnit, res.Log.RoleName)

	steps := []struct {
		user string
		role string
		want enum.Status
	}{
		{"spv", enum.RoleSpvUnit, enum.StatusPendingManajerUpkab},
		{"manajer", enum.RoleManajerUpkab, enum.StatusPendingQcProduk},
		{"qc", enum.RoleQcProduk, enum.StatusPendingVerPajak},
		{"verpajak", enum.RoleVerifikatorPajak, enum.StatusPendingKaUpkab},
		{"ka", enum.RoleKaUpkab, enum.StatusApproved},
	}
	for _, st := range steps {
		res, err := f.svc.Approve(ctx, f.req(enum.KindProduct, id, st.user))
		require.NoError(t, err, st.user)
		assert.Equal(t, st.want, res.Entity.ApprovalStatus, st.user)
		assert.Equal(t, st.role, res.Log.RoleName, st.user)
		assert.Equal(t, st.want == enum.StatusApproved, res.Entity.IsFullyApproved, st.user)
	}

	got := f.db.get(id)
	assert.Equal(t, enum.StatusApproved, got.ApprovalStatus)
	assert.True(t, got.IsFullyApproved)
	require.NotNil(t, got.FullyApprovedBy)
	assert.Equal(t, f.users["ka"], *got.FullyApprovedBy)
	assert.Empty(t, got.DocumentNumber, "products are not numbered")

	logs := f.db.logsFor(id)
	require.Len(t, logs, 6)
	assert.Equal(t, enum.StatusDraft, logs[0].PreviousStatus)
	assert.Equal(t, enum.ActionSubmit, logs[0].Action)
	assert.Equal(t, enum.StatusPendingKaUpkab, logs[5].PreviousStatus)
	assert.Equal(t, enum.StatusApproved, logs[5].ApprovalStatus)
	assert.Len(t, f.notifier.all(), 6)
}

func TestApproveOutsideScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingSpvUnit))

	_, err := f.svc.Approve(ctx, f.req(enum.KindVoucher, id, "spvB"))
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, enum.StatusPendingSpvUnit, f.db.get(id).ApprovalStatus)
	assert.Empty(t, f.db.logsFor(id))
	assert.Empty(t, f.notifier.all())
}

func TestApproveWrongRole(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingSpvUnit))

	_, err := f.svc.Approve(context.Background(), f.req(enum.KindVoucher, id, "manajer"))

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitOperatorOfParentUnitOnly(t *testing.T) {
	f := newFixture(t)
	// The operator is scoped to a1; an entity owned by a is above their scope.
	id := f.seed(enum.KindProduct, func(a *database.Approvable) { a.UnitID = &f.a })

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestApproveDraftIsInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct)

	_, err := f.svc.Approve(context.Background(), f.req(enum.KindProduct, id, "spv"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestApproveApprovedIsInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct, withStatus(enum.StatusApproved))

	_, err := f.svc.Approve(context.Background(), f.req(enum.KindProduct, id, "super"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestSubmitPendingIsNotSubmittable(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct, withStatus(enum.StatusPendingManajerUpkab))

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))

	assert.ErrorIs(t, err, ErrNotSubmittable)
}

func TestSubmitUnsetStatus(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBlockedSlot, withStatus(""))

	res, err := f.svc.Submit(context.Background(), f.req(enum.KindBlockedSlot, id, "operator"))

	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingSpvUnit, res.Entity.ApprovalStatus)
	assert.Equal(t, enum.Status(""), res.Log.PreviousStatus)
}

func TestGlobalRoleStillNeedsStepRole(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingSpvUnit),
		func(a *database.Approvable) { a.UnitID = &f.b })

	res, err := f.svc.Approve(context.Background(), f.req(enum.KindVoucher, id, "super"))

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, res)
}

func TestRolePriorityDecidesRecordedRole(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindInvoice, withPayment("02"), withRecipient("010"))
	both := uuid.New()
	f.dir.roles[both] = []scope.Assignment{
		{Role: enum.RoleOperatorUnit, Units: []uuid.UUID{f.a}},
		{Role: enum.RoleKasirUnit, Units: []uuid.UUID{f.a1}},
	}

	res, err := f.svc.Submit(context.Background(), TransitionRequest{Kind: enum.KindInvoice, EntityID: id, ActorID: both})

	require.NoError(t, err)
	assert.Equal(t, enum.RoleOperatorUnit, res.Log.RoleName)
}

// --- Reject ---

func TestRejectResetsToDraftAndAllowsResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindProduct)

	_, err := f.svc.Submit(ctx, f.req(enum.KindProduct, id, "operator"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.req(enum.KindProduct, id, "spv"))
	require.NoError(t, err)

	res, err := f.svc.Reject(ctx, f.req(enum.KindProduct, id, "manajer"))
	require.NoError(t, err)

	assert.Equal(t, enum.StatusDraft, res.Entity.ApprovalStatus)
	assert.Empty(t, res.Entity.PathVariant)
	assert.False(t, res.Entity.IsFullyApproved)
	assert.Nil(t, res.Entity.FullyApprovedBy)
	assert.Equal(t, enum.StatusRejected, res.Log.ApprovalStatus)
	assert.Equal(t, enum.StatusPendingManajerUpkab, res.Log.PreviousStatus)
	assert.Equal(t, enum.ActionReject, res.Log.Action)
	assert.Contains(t, res.Log.Notes, "Product rejected")

	res, err = f.svc.Submit(ctx, f.req(enum.KindProduct, id, "operator"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingSpvUnit, res.Entity.ApprovalStatus)
	assert.Len(t, f.db.logsFor(id), 4)
}

func TestRejectKeepsCallerNotes(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingSpvUnit), func(a *database.Approvable) {
		a.PathVariant = enum.PathStandard
	})
	req := f.req(enum.KindVoucher, id, "spv")
	req.Notes = "discount too high"

	res, err := f.svc.Reject(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "discount too high", res.Log.Notes)
}

func TestRejectDraftIsInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBookingOrder, withRecipient(enum.RecipientCodeDirect))

	_, err := f.svc.Reject(context.Background(), f.req(enum.KindBookingOrder, id, "operator"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

// --- Booking order ---

func TestBookingDirectRecipientBypass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindBookingOrder, withRecipient(enum.RecipientCodeDirect))

	_, err := f.svc.Submit(ctx, f.req(enum.KindBookingOrder, id, "operator"))
	require.ErrorIs(t, err, ErrNotSubmittable)

	res, err := f.svc.Approve(ctx, f.req(enum.KindBookingOrder, id, "operator"))
	require.NoError(t, err)

	assert.Equal(t, enum.StatusApproved, res.Entity.ApprovalStatus)
	assert.True(t, res.Entity.IsFullyApproved)
	assert.Equal(t, enum.PathDirect, res.Entity.PathVariant)
	assert.Equal(t, "0001/BO/X/2026", res.Entity.DocumentNumber)
	assert.Equal(t, enum.RoleOperatorUnit, res.Log.RoleName)
	assert.Equal(t, "0001/BO/X/2026", f.db.get(id).DocumentNumber)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, "0001/BO/X/2026", events[0].Number)
}

func TestBookingStandardPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindBookingOrder, withRecipient("010"))

	_, err := f.svc.Submit(ctx, f.req(enum.KindBookingOrder, id, "operator"))
	require.NoError(t, err)
	res, err := f.svc.Approve(ctx, f.req(enum.KindBookingOrder, id, "spv"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingKasirUnit, res.Entity.ApprovalStatus)

	res, err = f.svc.Approve(ctx, f.req(enum.KindBookingOrder, id, "kasir"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusApproved, res.Entity.ApprovalStatus)
	assert.Equal(t, "0001/BO/X/2026", res.Entity.DocumentNumber)

	second := f.seed(enum.KindBookingOrder, withRecipient(enum.RecipientCodeDirect))
	res, err = f.svc.Approve(ctx, f.req(enum.KindBookingOrder, second, "operator"))
	require.NoError(t, err)
	assert.Equal(t, "0002/BO/X/2026", res.Entity.DocumentNumber)
}

func TestBookingSubmitRequiresRecipient(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBookingOrder)

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindBookingOrder, id, "operator"))

	assert.ErrorIs(t, err, ErrNotSubmittable)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBookingOrder, withRecipient("010"), withStatus(enum.StatusPendingSpvUnit))

	res, err := f.svc.Cancel(context.Background(), f.req(enum.KindBookingOrder, id, "operator"))

	require.NoError(t, err)
	assert.Equal(t, enum.StatusCanceled, res.Entity.ApprovalStatus)
	assert.False(t, res.Entity.IsFullyApproved)
	assert.Equal(t, enum.ActionCancel, res.Log.Action)
	assert.Equal(t, "Booking order canceled.", res.Log.Notes)
	assert.False(t, res.Entity.IsExpired)
}

func TestCancelKeepsCallerNotes(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBookingOrder, withRecipient("010"))
	req := f.req(enum.KindBookingOrder, id, "operator")
	req.Notes = "guest postponed"

	res, err := f.svc.Cancel(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "guest postponed", res.Log.Notes)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	product := f.seed(enum.KindProduct)
	approved := f.seed(enum.KindBookingOrder, withStatus(enum.StatusApproved))
	other := f.seed(enum.KindBookingOrder, func(a *database.Approvable) { a.UnitID = &f.b })

	_, err := f.svc.Cancel(context.Background(), f.req(enum.KindProduct, product, "operator"))
	assert.ErrorIs(t, err, ErrNotCancelable)

	_, err = f.svc.Cancel(context.Background(), f.req(enum.KindBookingOrder, approved, "operator"))
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = f.svc.Cancel(context.Background(), f.req(enum.KindBookingOrder, other, "operator"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// --- Invoice ---

func TestInvoiceVirtualAccountPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindInvoice, withPayment(enum.PaymentCodeVirtualAccount), withRecipient("010"))

	res, err := f.svc.Submit(ctx, f.req(enum.KindInvoice, id, "kasir"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingVerifPajak, res.Entity.ApprovalStatus)
	assert.Equal(t, enum.PathVirtualAccount, res.Entity.PathVariant)

	res, err = f.svc.Approve(ctx, f.req(enum.KindInvoice, id, "verif"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingKepalaUpkab, res.Entity.ApprovalStatus)

	res, err = f.svc.Approve(ctx, f.req(enum.KindInvoice, id, "kepala"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusApproved, res.Entity.ApprovalStatus)
	assert.Equal(t, "0001/INV/X/2026", res.Entity.DocumentNumber)
}

func TestInvoicePathIsPinnedAtSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindInvoice, withPayment("02"), withRecipient("010"))

	res, err := f.svc.Submit(ctx, f.req(enum.KindInvoice, id, "kasir"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingWr2, res.Entity.ApprovalStatus)

	// The payment method changes after submission.
	changed := f.db.get(id)
	changed.PaymentCode = enum.PaymentCodeVirtualAccount
	f.db.put(changed)

	res, err = f.svc.Approve(ctx, f.req(enum.KindInvoice, id, "wr2"))
	require.NoError(t, err)
	assert.Equal(t, enum.StatusPendingVerifPajak, res.Entity.ApprovalStatus)
	assert.Equal(t, enum.PathStandard, res.Entity.PathVariant)
}

func TestStatusOffPinnedPathHasNoNextStatus(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindInvoice, withStatus(enum.StatusPendingWr2), func(a *database.Approvable) {
		a.PathVariant = enum.PathVirtualAccount
	})

	_, err := f.svc.Approve(context.Background(), f.req(enum.KindInvoice, id, "wr2"))

	assert.ErrorIs(t, err, ErrNoNextStatus)
	assert.Empty(t, f.db.logsFor(id))
}

// --- Concurrency and atomicity ---

func TestConcurrentApproveOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingSpvUnit), func(a *database.Approvable) {
		a.PathVariant = enum.PathStandard
	})

	// Both transactions read PENDING_SPV_UNIT before either writes.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.db.afterRead = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, f.req(enum.KindVoucher, id, "spv"))
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConcurrentModification):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, enum.StatusPendingManajerUpkab, f.db.get(id).ApprovalStatus)
	assert.Len(t, f.db.logsFor(id), 1)
}

func TestSequentialDoubleApproveIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindProduct, withStatus(enum.StatusPendingSpvUnit), func(a *database.Approvable) {
		a.PathVariant = enum.PathStandard
	})

	_, err := f.svc.Approve(ctx, f.req(enum.KindProduct, id, "spv"))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, f.req(enum.KindProduct, id, "spv"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Reject(ctx, f.req(enum.KindProduct, id, "spv"))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	assert.Equal(t, enum.StatusPendingManajerUpkab, f.db.get(id).ApprovalStatus)
	assert.Len(t, f.db.logsFor(id), 1)
}

func TestLaterStepHolderStaysUnauthorized(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct, withStatus(enum.StatusPendingManajerUpkab), func(a *database.Approvable) {
		a.PathVariant = enum.PathStandard
	})

	// qc acts after manajer, and spvB is outside the entity's unit.
	_, err := f.svc.Approve(context.Background(), f.req(enum.KindProduct, id, "qc"))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Approve(context.Background(), f.req(enum.KindProduct, id, "spvB"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrConcurrentModification)
}

func TestSequentialDoubleSubmitIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(enum.KindVoucher)

	_, err := f.svc.Submit(ctx, f.req(enum.KindVoucher, id, "operator"))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, f.req(enum.KindVoucher, id, "operator"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, ErrNotSubmittable)

	_, err = f.svc.Submit(ctx, f.req(enum.KindVoucher, id, "spv"))
	assert.ErrorIs(t, err, ErrNotSubmittable)
	assert.NotErrorIs(t, err, ErrConcurrentModification)
	assert.Len(t, f.db.logsFor(id), 1)
}

func TestExpectedStatusMismatch(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindVoucher, withStatus(enum.StatusPendingManajerUpkab))
	req := f.req(enum.KindVoucher, id, "manajer")
	req.ExpectedStatus = enum.StatusPendingSpvUnit

	_, err := f.svc.Approve(context.Background(), req)

	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, enum.StatusPendingManajerUpkab, f.db.get(id).ApprovalStatus)
}

func TestAuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct)
	f.db.logErr = errBoom

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))

	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, enum.StatusDraft, f.db.get(id).ApprovalStatus)
	assert.Empty(t, f.db.logsFor(id))
	assert.Empty(t, f.notifier.all())
}

func TestTerminalHookFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindBookingOrder, withRecipient("010"), withStatus(enum.StatusPendingKasirUnit),
		func(a *database.Approvable) { a.PathVariant = enum.PathStandard })
	f.db.seqErr = errBoom

	_, err := f.svc.Approve(context.Background(), f.req(enum.KindBookingOrder, id, "kasir"))

	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	got := f.db.get(id)
	assert.Equal(t, enum.StatusPendingKasirUnit, got.ApprovalStatus)
	assert.False(t, got.IsFullyApproved)
	assert.Empty(t, got.DocumentNumber)
	assert.Empty(t, f.db.logsFor(id))
}

func TestCommitFailure(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct)
	f.db.commitErr = errBoom

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))

	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Empty(t, f.notifier.all())
}

func TestDependencyUnavailable(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct)

	f.dir.err = errBoom
	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	f.dir.err = nil
	f.units.err = errBoom
	_, err = f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	f.units.err = nil
	f.db.beginErr = errBoom
	_, err = f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
}

func TestUnknownEntityAndKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, uuid.New(), "operator"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Submit(context.Background(), f.req(enum.Kind("settlement"), uuid.New(), "operator"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEventCarriesTransition(t *testing.T) {
	f := newFixture(t)
	id := f.seed(enum.KindProduct)

	_, err := f.svc.Submit(context.Background(), f.req(enum.KindProduct, id, "operator"))
	require.NoError(t, err)

	events := f.notifier.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "approval.submit", e.Type)
	assert.Equal(t, enum.StatusDraft, e.FromStatus)
	assert.Equal(t, enum.StatusPendingSpvUnit, e.Status)
	assert.Equal(t, f.users["operator"], e.ActorID)
	require.NotNil(t, e.UnitID)
	assert.Equal(t, f.a1, *e.UnitID)
	assert.False(t, e.Terminal)
}

func TestFormatDocumentNumber(t *testing.T) {
	tests := []struct {
		seq    int32
		prefix string
		at     time.Time
		want   string
	}{
		{1, "BO", time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC), "0001/BO/I/2026"},
		{42, "INV", time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC), "0042/INV/IV/2026"},
		{12345, "BO", time.Date(2027, time.December, 31, 0, 0, 0, 0, time.UTC), "12345/BO/XII/2027"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDocumentNumber(tt.seq, tt.prefix, tt.at))
	}
}
