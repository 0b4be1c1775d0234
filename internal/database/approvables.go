package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/upkab/approval-api/internal/enum"
)

// kindTable describes where one workflow kind keeps its approval columns.
type kindTable struct {
	table     string
	from      string
	unit      string
	payment   string
	recipient string
	hasRecip  string
	number    string
	amount    string
	expiredAt string
	isExpired string
	// numberCol receives the document number on approval; empty if none.
	numberCol string
	// activeCol mirrors is_fully_approved; empty if the table has none.
	activeCol string
}

const plainPayment = `''`

var kindTables = map[enum.Kind]kindTable{
	enum.KindBookingOrder: {
		table: "booking_orders",
		from: `booking_orders t
			LEFT JOIN payment_methods pm ON pm.id = t.payment_method_id
			LEFT JOIN recipient_statuses rs ON rs.id = t.recipient_status_id`,
		unit:      "t.unit_id",
		payment:   "COALESCE(pm.payment_code, '')",
		recipient: "COALESCE(rs.status_code, '')",
		hasRecip:  "t.recipient_status_id IS NOT NULL",
		number:    "COALESCE(t.order_number, '')",
		amount:    "t.total_amount",
		expiredAt: "t.expired_at",
		isExpired: "t.is_expired",
		numberCol: "order_number",
	},
	enum.KindInvoice: {
		table: "invoices",
		from: `invoices t
			JOIN booking_orders b ON b.id = t.booking_order_id
			LEFT JOIN payment_methods pm ON pm.id = b.payment_method_id
			LEFT JOIN recipient_statuses rs ON rs.id = b.recipient_status_id`,
		unit:      "b.unit_id",
		payment:   "COALESCE(pm.payment_code, '')",
		recipient: "COALESCE(rs.status_code, '')",
		hasRecip:  "b.recipient_status_id IS NOT NULL",
		number:    "COALESCE(t.invoice_number, '')",
		amount:    "t.total_amount",
		expiredAt: "NULL::timestamptz",
		isExpired: "false",
		numberCol: "invoice_number",
	},
	enum.KindProduct:     plainTable("products", "is_active"),
	enum.KindVoucher:     plainTable("vouchers", "is_active"),
	enum.KindBlockedSlot: plainTable("blocked_slots", ""),
}

func plainTable(table, activeCol string) kindTable {
	return kindTable{
		table:     table,
		from:      table + " t",
		unit:      "t.unit_id",
		payment:   plainPayment,
		recipient: plainPayment,
		hasRecip:  "false",
		number:    plainPayment,
		amount:    "NULL::numeric",
		expiredAt: "NULL::timestamptz",
		isExpired: "false",
		activeCol: activeCol,
	}
}

func tableFor(kind enum.Kind) (kindTable, error) {
	kt, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("no table for workflow kind %q", kind)
	}
	return kt, nil
}

func (kt kindTable) selectSQL() string {
	return fmt.Sprintf(`
		SELECT t.id, %s, COALESCE(t.approval_status, ''), COALESCE(t.path_variant, ''),
		       t.submitted_by, t.submitted_at,
		       t.is_fully_approved, t.fully_approved_by, t.fully_approved_at,
		       %s, %s, %s, %s, %s, %s, %s
		FROM %s`,
		kt.unit, kt.payment, kt.recipient, kt.hasRecip, kt.number, kt.amount, kt.expiredAt, kt.isExpired, kt.from)
}

// GetApprovable loads the approval state of one entity.
// Returns pgx.ErrNoRows if it does not exist.
func (q *Queries) GetApprovable(ctx context.Context, kind enum.Kind, id uuid.UUID) (Approvable, error) {
	kt, err := tableFor(kind)
	if err != nil {
		return Approvable{}, err
	}

	a := Approvable{Kind: kind}
	var status string
	err = q.db.QueryRow(ctx, kt.selectSQL()+" WHERE t.id = $1", id).Scan(
		&a.ID,
		&a.UnitID,
		&status,
		&a.PathVariant,
		&a.SubmittedBy,
		&a.SubmittedAt,
		&a.IsFullyApproved,
		&a.FullyApprovedBy,
		&a.FullyApprovedAt,
		&a.PaymentCode,
		&a.RecipientCode,
		&a.HasRecipient,
		&a.DocumentNumber,
		&a.TotalAmount,
		&a.ExpiredAt,
		&a.IsExpired,
	)
	a.ApprovalStatus = enum.Status(status)
	return a, err
}

// UpdateApprovalStateParams is the full approval state written by a transition.
type UpdateApprovalStateParams struct {
	Kind            enum.Kind
	ID              uuid.UUID
	ApprovalStatus  enum.Status
	PathVariant     string
	SubmittedBy     *uuid.UUID
	SubmittedAt     *time.Time
	IsFullyApproved bool
	FullyApprovedBy *uuid.UUID
	FullyApprovedAt *time.Time
	// ExpectedStatus is compared against the stored status; the row is only
	// written if they still match.
	ExpectedStatus enum.Status
}

// UpdateApprovalState writes a transition as a compare-and-swap on the
// current status. Returns pgx.ErrNoRows if the status changed since it was
// read.
func (q *Queries) UpdateApprovalState(ctx context.Context, arg UpdateApprovalStateParams) error {
	kt, err := tableFor(arg.Kind)
	if err != nil {
		return err
	}

	active := ""
	if kt.activeCol != "" {
		active = fmt.Sprintf(", %s = $6", kt.activeCol)
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET
		    approval_status = $2,
		    path_variant = NULLIF($3, ''),
		    submitted_by = $4,
		    submitted_at = $5,
		    is_fully_approved = $6,
		    fully_approved_by = $7,
		    fully_approved_at = $8,
		    updated_at = now()%s
		WHERE id = $1 AND COALESCE(approval_status, '') = $9
		RETURNING id`, kt.table, active)

	var id uuid.UUID
	return q.db.QueryRow(ctx, sql,
		arg.ID,
		string(arg.ApprovalStatus),
		arg.PathVariant,
		arg.SubmittedBy,
		arg.SubmittedAt,
		arg.IsFullyApproved,
		arg.FullyApprovedBy,
		arg.FullyApprovedAt,
		string(arg.ExpectedStatus),
	).Scan(&id)
}

// SetDocumentNumberParams assigns the printed number of an approved entity.
type SetDocumentNumberParams struct {
	Kind   enum.Kind
	ID     uuid.UUID
	Number string
}

// SetDocumentNumber stores the order or invoice number.
func (q *Queries) SetDocumentNumber(ctx context.Context, arg SetDocumentNumberParams) error {
	kt, err := tableFor(arg.Kind)
	if err != nil {
		return err
	}
	if kt.numberCol == "" {
		return fmt.Errorf("workflow kind %q has no document number", arg.Kind)
	}
	_, err = q.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $2, updated_at = now() WHERE id = $1`, kt.table, kt.numberCol),
		arg.ID, arg.Number)
	return err
}

// MarkBookingExpired flags a booking order as canceled by expiry.
func (q *Queries) MarkBookingExpired(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx,
		`UPDATE booking_orders SET is_expired = true, updated_at = now() WHERE id = $1`, id)
	return err
}

// ListExpirableBookingsParams bounds one sweep.
type ListExpirableBookingsParams struct {
	Now   time.Time
	Limit int32
}

// ListExpirableBookings returns draft booking orders with no recipient status
// whose expiry time has passed, oldest expiry first.
func (q *Queries) ListExpirableBookings(ctx context.Context, arg ListExpirableBookingsParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM booking_orders
		WHERE COALESCE(approval_status, 'DRAFT') = 'DRAFT'
		  AND recipient_status_id IS NULL
		  AND is_expired = false
		  AND expired_at IS NOT NULL
		  AND expired_at <= $1
		ORDER BY expired_at, id
		LIMIT $2`, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// NextDocumentSequenceParams selects one numbering series.
type NextDocumentSequenceParams struct {
	Prefix string
	Year   int32
}

// NextDocumentSequence increments and returns the series counter. The row
// lock taken by the upsert serializes concurrent approvals until commit.
func (q *Queries) NextDocumentSequence(ctx context.Context, arg NextDocumentSequenceParams) (int32, error) {
	var v int32
	err := q.db.QueryRow(ctx, `
		INSERT INTO document_sequences (prefix, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, arg.Prefix, arg.Year).Scan(&v)
	return v, err
}
