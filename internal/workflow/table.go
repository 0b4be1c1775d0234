package workflow

import (
	"github.com/upkab/approval-api/internal/enum"
)

// Context carries the entity data that selects a path variant.
type Context struct {
	PaymentCode   string
	RecipientCode string
	// Variant pins the path chosen at submission. Empty means "not yet
	// chosen" and the variant is derived from the fields above.
	Variant string
}

// Step is one pending status of a path and the role that acts on it.
type Step struct {
	Status enum.Status
	Role   string
	Label  string
}

// Definition is the static approval table of one workflow kind.
type Definition struct {
	Kind       enum.Kind
	DraftLabel string
	// SubmitRoles may submit a draft; the first is the primary submitter.
	SubmitRoles []string
	// BypassRole approves a draft directly on a path with no steps.
	BypassRole string
	// Cancelable kinds accept Cancel and the expiry sweep.
	Cancelable bool
	// RequiresRecipient blocks Submit until a recipient status is recorded.
	RequiresRecipient bool

	paths      map[string][]Step
	selectPath func(Context) string
}

var (
	stepSpvUnit      = Step{Status: enum.StatusPendingSpvUnit, Role: enum.RoleSpvUnit, Label: "SPV Unit"}
	stepManajerUpkab = Step{Status: enum.StatusPendingManajerUpkab, Role: enum.RoleManajerUpkab, Label: "Manajer UPKAB"}
	stepQcProduk     = Step{Status: enum.StatusPendingQcProduk, Role: enum.RoleQcProduk, Label: "QC Produk"}
	stepVerPajak     = Step{Status: enum.StatusPendingVerPajak, Role: enum.RoleVerifikatorPajak, Label: "Verifikator Pajak"}
	stepKaUpkab      = Step{Status: enum.StatusPendingKaUpkab, Role: enum.RoleKaUpkab, Label: "KA UPKAB"}
	stepKasirUnit    = Step{Status: enum.StatusPendingKasirUnit, Role: enum.RoleKasirUnit, Label: "Kasir Unit"}
	stepWr2          = Step{Status: enum.StatusPendingWr2, Role: enum.RoleWr2, Label: "WR 2"}
	stepVerifPajak   = Step{Status: enum.StatusPendingVerifPajak, Role: enum.RoleVerifPajak, Label: "Verifikasi Pajak"}
	stepKepalaUpkab  = Step{Status: enum.StatusPendingKepalaUpkab, Role: enum.RoleKepalaUpkab, Label: "Kepala UPKAB"}
)

func standardOnly(Context) string { return enum.PathStandard }

var definitions = map[enum.Kind]*Definition{
	enum.KindProduct: {
		Kind:        enum.KindProduct,
		DraftLabel:  "Diusulkan Operator",
		SubmitRoles: []string{enum.RoleOperatorUnit},
		paths: map[string][]Step{
			enum.PathStandard: {stepSpvUnit, stepManajerUpkab, stepQcProduk, stepVerPajak, stepKaUpkab},
		},
		selectPath: standardOnly,
	},
	enum.KindVoucher: {
		Kind:        enum.KindVoucher,
		DraftLabel:  "Diusulkan Operator",
		SubmitRoles: []string{enum.RoleOperatorUnit},
		paths: map[string][]Step{
			enum.PathStandard: {stepSpvUnit, stepManajerUpkab, stepKaUpkab},
		},
		selectPath: standardOnly,
	},
	enum.KindBlockedSlot: {
		Kind:        enum.KindBlockedSlot,
		DraftLabel:  "Diusulkan Operator",
		SubmitRoles: []string{enum.RoleOperatorUnit},
		paths: map[string][]Step{
			enum.PathStandard: {stepSpvUnit, stepManajerUpkab, stepKaUpkab},
		},
		selectPath: standardOnly,
	},
	enum.KindBookingOrder: {
		Kind:              enum.KindBookingOrder,
		DraftLabel:        "Diusulkan Operator Unit",
		SubmitRoles:       []string{enum.RoleOperatorUnit},
		BypassRole:        enum.RoleOperatorUnit,
		Cancelable:        true,
		RequiresRecipient: true,
		paths: map[string][]Step{
			enum.PathStandard: {stepSpvUnit, stepKasirUnit},
			enum.PathDirect:   {},
		},
		selectPath: func(c Context) string {
			if c.RecipientCode == enum.RecipientCodeDirect {
				return enum.PathDirect
			}
			return enum.PathStandard
		},
	},
	enum.KindInvoice: {
		Kind:        enum.KindInvoice,
		DraftLabel:  "Draft",
		SubmitRoles: []string{enum.RoleKasirUnit, enum.RoleOperatorUnit},
		BypassRole:  enum.RoleOperatorUnit,
		paths: map[string][]Step{
			enum.PathStandard:       {stepWr2, stepVerifPajak, stepKepalaUpkab},
			enum.PathVirtualAccount: {stepVerifPajak, stepKepalaUpkab},
			enum.PathDirect:         {},
		},
		selectPath: func(c Context) string {
			switch {
			case c.RecipientCode == enum.RecipientCodeDirect:
				return enum.PathDirect
			case c.PaymentCode == enum.PaymentCodeVirtualAccount:
				return enum.PathVirtualAccount
			default:
				return enum.PathStandard
			}
		},
	},
}

// For returns the definition of kind.
func For(kind enum.Kind) (*Definition, bool) {
	d, ok := definitions[kind]
	return d, ok
}

// InitialStatus is the status every new entity starts in.
func (d *Definition) InitialStatus() enum.Status {
	return enum.StatusDraft
}

// Path returns the variant name that applies to c. A pinned variant wins.
func (d *Definition) Path(c Context) string {
	if c.Variant != "" {
		if _, ok := d.paths[c.Variant]; ok {
			return c.Variant
		}
	}
	return d.selectPath(c)
}

// Steps returns the pending steps of the path that applies to c.
func (d *Definition) Steps(c Context) []Step {
	return d.paths[d.Path(c)]
}

// IsBypass reports whether c selects a path with no pending steps, where a
// draft is approved directly by BypassRole.
func (d *Definition) IsBypass(c Context) bool {
	return d.BypassRole != "" && len(d.Steps(c)) == 0
}

// IsStart reports whether s is a not-yet-submitted status. Rejected counts as
// a start status since a rejected entity is stored back as a draft.
func IsStart(s enum.Status) bool {
	return s == "" || s == enum.StatusDraft || s == enum.StatusRejected
}

// IsTerminal reports whether s ends the workflow.
func (d *Definition) IsTerminal(s enum.Status) bool {
	return s == enum.StatusApproved || s == enum.StatusCanceled
}

// IsPending reports whether s is a pending step of any path of this kind.
func (d *Definition) IsPending(s enum.Status) bool {
	for _, steps := range d.paths {
		for _, st := range steps {
			if st.Status == s {
				return true
			}
		}
	}
	return false
}

// ApproverRoles returns the roles that may act on s under c: the submit roles
// (or the bypass role) for a draft, the step role for a pending status, none
// for a terminal status or a status that is not on the path.
func (d *Definition) ApproverRoles(s enum.Status, c Context) []string {
	if IsStart(s) {
		if d.IsBypass(c) {
			return []string{d.BypassRole}
		}
		return d.SubmitRoles
	}
	if i := indexOf(d.Steps(c), s); i >= 0 {
		return []string{d.Steps(c)[i].Role}
	}
	return nil
}

// ApproverRole returns the designated role for s under c.
func (d *Definition) ApproverRole(s enum.Status, c Context) (string, bool) {
	roles := d.ApproverRoles(s, c)
	if len(roles) == 0 {
		return "", false
	}
	return roles[0], true
}

// NextStatus returns the status that follows s under c. It reports false for
// terminal statuses and for pending statuses that are not on the path.
func (d *Definition) NextStatus(s enum.Status, c Context) (enum.Status, bool) {
	if d.IsTerminal(s) {
		return "", false
	}
	steps := d.Steps(c)
	if IsStart(s) {
		if len(steps) == 0 {
			if d.BypassRole == "" {
				return "", false
			}
			return enum.StatusApproved, true
		}
		return steps[0].Status, true
	}
	i := indexOf(steps, s)
	if i < 0 {
		return "", false
	}
	if i == len(steps)-1 {
		return enum.StatusApproved, true
	}
	return steps[i+1].Status, true
}

// StepIndex returns the zero-based position of s among the pending steps of
// the path. Approved maps to the number of steps. Start statuses, Canceled
// and statuses off the path map to -1.
func (d *Definition) StepIndex(s enum.Status, c Context) int {
	steps := d.Steps(c)
	if s == enum.StatusApproved {
		return len(steps)
	}
	return indexOf(steps, s)
}

// Statuses lists every status an entity of this kind can be stored in.
func (d *Definition) Statuses() []enum.Status {
	out := []enum.Status{enum.StatusDraft}
	seen := map[enum.Status]bool{enum.StatusDraft: true}
	for _, name := range []string{enum.PathStandard, enum.PathVirtualAccount, enum.PathDirect} {
		for _, st := range d.paths[name] {
			if !seen[st.Status] {
				seen[st.Status] = true
				out = append(out, st.Status)
			}
		}
	}
	out = append(out, enum.StatusApproved)
	if d.Cancelable {
		out = append(out, enum.StatusCanceled)
	}
	return out
}

func indexOf(steps []Step, s enum.Status) int {
	for i, st := range steps {
		if st.Status == s {
			return i
		}
	}
	return -1
}
