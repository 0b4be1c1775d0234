package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/notify"
	"github.com/upkab/approval-api/internal/scope"
	"github.com/upkab/approval-api/internal/unit"
)

// --- In-memory database ---

// memDB keeps committed rows and hands out memTx transactions. Writes are
// staged per transaction and only become visible on Commit. UpdateApprovalState
// takes a per-row lock held until commit or rollback and then re-checks the
// committed status, as a Postgres UPDATE ... WHERE does.
type memDB struct {
	mu       sync.Mutex
	entities map[uuid.UUID]database.Approvable
	logs     []database.ApprovalLog
	seqs     map[string]int32
	rowLocks map[uuid.UUID]*sync.Mutex
	system   uuid.UUID

	beginErr  error
	commitErr error
	logErr    error
	seqErr    error
	listErr   error
	// afterRead runs after every GetApprovable; used to line up concurrent
	// transactions.
	afterRead func()
}

func newMemDB() *memDB {
	return &memDB{
		entities: make(map[uuid.UUID]database.Approvable),
		seqs:     make(map[string]int32),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
		system:   uuid.New(),
	}
}

func (db *memDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &memTx{
		db:     db,
		staged: make(map[uuid.UUID]database.Approvable),
		seqs:   make(map[string]int32),
		held:   make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

func (db *memDB) put(a database.Approvable) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entities[a.ID] = a
}

func (db *memDB) get(id uuid.UUID) database.Approvable {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.entities[id]
}

func (db *memDB) logsFor(id uuid.UUID) []database.ApprovalLog {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []database.ApprovalLog
	for _, l := range db.logs {
		if l.EntityID == id {
			out = append(out, l)
		}
	}
	return out
}

func (db *memDB) rowLock(id uuid.UUID) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, ok := db.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		db.rowLocks[id] = l
	}
	return l
}

func (db *memDB) ListExpirableBookings(ctx context.Context, arg database.ListExpirableBookingsParams) ([]uuid.UUID, error) {
	if db.listErr != nil {
		return nil, db.listErr
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	var due []database.Approvable
	for _, a := range db.entities {
		if a.Kind != enum.KindBookingOrder || a.IsExpired || a.HasRecipient || a.ExpiredAt == nil {
			continue
		}
		if a.ApprovalStatus != "" && a.ApprovalStatus != enum.StatusDraft {
			continue
		}
		if a.ExpiredAt.After(arg.Now) {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiredAt.Before(*due[j].ExpiredAt) })
	ids := make([]uuid.UUID, 0, len(due))
	for i, a := range due {
		if int32(i) >= arg.Limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (db *memDB) GetSystemPrincipal(ctx context.Context) (uuid.UUID, error) {
	return db.system, nil
}

// memTx implements pgx.Tx and ApprovalStore. The raw query methods panic so
// we catch accidental calls.
type memTx struct {
	db     *memDB
	staged map[uuid.UUID]database.Approvable
	logs   []database.ApprovalLog
	seqs   map[string]int32
	held   map[uuid.UUID]*sync.Mutex
	closed bool
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (t *memTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (t *memTx) Conn() *pgx.Conn { panic("not implemented") }

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	defer t.release()
	if t.db.commitErr != nil {
		return t.db.commitErr
	}
	t.db.mu.Lock()
	for id, a := range t.staged {
		t.db.entities[id] = a
	}
	t.db.logs = append(t.db.logs, t.logs...)
	for k, v := range t.seqs {
		t.db.seqs[k] = v
	}
	t.db.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	t.closed = true
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *memTx) current(id uuid.UUID) (database.Approvable, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	a, ok := t.db.entities[id]
	return a, ok
}

func (t *memTx) GetApprovable(ctx context.Context, kind enum.Kind, id uuid.UUID) (database.Approvable, error) {
	a, ok := t.current(id)
	if t.db.afterRead != nil {
		t.db.afterRead()
	}
	if !ok || a.Kind != kind {
		return database.Approvable{}, pgx.ErrNoRows
	}
	return a, nil
}

func (t *memTx) UpdateApprovalState(ctx context.Context, arg database.UpdateApprovalStateParams) error {
	if _, ok := t.held[arg.ID]; !ok {
		l := t.db.rowLock(arg.ID)
		l.Lock()
		t.held[arg.ID] = l
	}
	a, ok := t.current(arg.ID)
	if !ok || a.Kind != arg.Kind || a.ApprovalStatus != arg.ExpectedStatus {
		return pgx.ErrNoRows
	}
	a.ApprovalStatus = arg.ApprovalStatus
	a.PathVariant = arg.PathVariant
	a.SubmittedBy = arg.SubmittedBy
	a.SubmittedAt = arg.SubmittedAt
	a.IsFullyApproved = arg.IsFullyApproved
	a.FullyApprovedBy = arg.FullyApprovedBy
	a.FullyApprovedAt = arg.FullyApprovedAt
	t.staged[arg.ID] = a
	return nil
}

func (t *memTx) CreateApprovalLog(ctx context.Context, arg database.CreateApprovalLogParams) (database.ApprovalLog, error) {
	if t.db.logErr != nil {
		return database.ApprovalLog{}, t.db.logErr
	}
	l := database.ApprovalLog{
		ID:             uuid.New(),
		Kind:           arg.Kind,
		EntityID:       arg.EntityID,
		PreviousStatus: arg.PreviousStatus,
		ApprovalStatus: arg.ApprovalStatus,
		Action:         arg.Action,
		ActionBy:       arg.ActionBy,
		RoleName:       arg.RoleName,
		ScopeUnitID:    arg.ScopeUnitID,
		Notes:          arg.Notes,
		CreatedAt:      time.Now(),
	}
	t.logs = append(t.logs, l)
	return l, nil
}

func (t *memTx) NextDocumentSequence(ctx context.Context, arg database.NextDocumentSequenceParams) (int32, error) {
	if t.db.seqErr != nil {
		return 0, t.db.seqErr
	}
	key := fmt.Sprintf("%s/%d", arg.Prefix, arg.Year)
	v, ok := t.seqs[key]
	if !ok {
		t.db.mu.Lock()
		v = t.db.seqs[key]
		t.db.mu.Unlock()
	}
	v++
	t.seqs[key] = v
	return v, nil
}

func (t *memTx) SetDocumentNumber(ctx context.Context, arg database.SetDocumentNumberParams) error {
	a, ok := t.current(arg.ID)
	if !ok {
		return pgx.ErrNoRows
	}
	a.DocumentNumber = arg.Number
	t.staged[arg.ID] = a
	return nil
}

func (t *memTx) MarkBookingExpired(ctx context.Context, id uuid.UUID) error {
	a, ok := t.current(id)
	if !ok {
		return pgx.ErrNoRows
	}
	a.IsExpired = true
	t.staged[id] = a
	return nil
}

func (t *memTx) ListApprovalLogs(ctx context.Context, arg database.ListApprovalLogsParams) ([]database.ApprovalLog, error) {
	var out []database.ApprovalLog
	for _, l := range t.db.logsFor(arg.EntityID) {
		if l.Kind == arg.Kind {
			out = append(out, l)
		}
	}
	return out, nil
}

func newMemStore(db database.DBTX) ApprovalStore {
	return db.(*memTx)
}

// --- Directory and hierarchy ---

type mapDirectory struct {
	roles map[uuid.UUID][]scope.Assignment
	err   error
}

func (d *mapDirectory) GetRoleAssignments(ctx context.Context, userID uuid.UUID) ([]scope.Assignment, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.roles[userID], nil
}

type staticHierarchy struct {
	graph *unit.Graph
	err   error
}

func (h *staticHierarchy) Hierarchy(ctx context.Context) (*unit.Graph, error) {
	return h.graph, h.err
}

// --- Notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

var errBoom = errors.New("boom")
