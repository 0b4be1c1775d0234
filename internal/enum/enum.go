package enum

// Kind identifies which entity family's approval rules apply.
type Kind string

// Status is an approval status value. The zero value means "not set".
type Status string

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	KindBookingOrder Kind = "booking_order"
	KindProduct      Kind = "product"
	KindVoucher      Kind = "voucher"
	KindBlockedSlot  Kind = "blocked_slot"
	KindInvoice      Kind = "invoice"
)

// Kinds lists every workflow kind in a stable order.
var Kinds = []Kind{KindBookingOrder, KindProduct, KindVoucher, KindBlockedSlot, KindInvoice}

// ParseKind reports whether s names a known workflow kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

const (
	StatusDraft               Status = "DRAFT"
	StatusPendingSpvUnit      Status = "PENDING_SPV_UNIT"
	StatusPendingManajerUpkab Status = "PENDING_MANAJER_UPKAB"
	StatusPendingQcProduk     Status = "PENDING_QC_PRODUK"
	StatusPendingVerPajak     Status = "PENDING_VER_PAJAK"
	StatusPendingKaUpkab      Status = "PENDING_KA_UPKAB"
	StatusPendingKasirUnit    Status = "PENDING_KASIR_UNIT"
	StatusPendingWr2          Status = "PENDING_WR2"
	StatusPendingVerifPajak   Status = "PENDING_VERIF_PAJAK"
	StatusPendingKepalaUpkab  Status = "PENDING_KEPALA_UPKAB"
	StatusApproved            Status = "APPROVED"
	StatusRejected            Status = "REJECTED"
	StatusCanceled            Status = "CANCELED"
)

const (
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionCancel  = "cancel"
	ActionExpire  = "expire"
)

// ── Group C: Borderline (directory role names) ──

const (
	RoleSuperAdmin       = "super_admin"
	RoleOperatorUnit     = "operator_unit"
	RoleSpvUnit          = "spv_unit"
	RoleKasirUnit        = "kasir_unit"
	RoleManajerUpkab     = "manajer_upkab"
	RoleKaUpkab          = "ka_upkab"
	RoleKepalaUpkab      = "kepala_upkab"
	RoleQcProduk         = "qc_produk"
	RoleVerifikatorPajak = "verifikator_pajak"
	RoleVerifPajak       = "verif_pajak"
	RoleWr2              = "wr2"
)

// GlobalRoles act on any unit without a scope check.
var GlobalRoles = []string{
	RoleSuperAdmin,
	RoleQcProduk,
	RoleVerifikatorPajak,
	RoleVerifPajak,
	RoleWr2,
}

// ── Group B: Configurable labels (no DB constraint) ──

const (
	PathStandard       = "standard"
	PathVirtualAccount = "virtual_account"
	PathDirect         = "direct"
)

const (
	PaymentCodeVirtualAccount = "01"
	RecipientCodeDirect       = "011"
)

const (
	NumberPrefixBookingOrder = "BO"
	NumberPrefixInvoice      = "INV"
)
