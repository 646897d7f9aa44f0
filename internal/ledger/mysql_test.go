package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	xerrors "SafeGuard-Agent/internal/errors"
)

func TestMySQLStoreCreate(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`INSERT INTO transfers
        (id, source, chat_id, user_id, username, amount, recipient, state, nonce, safe_tx_hash, exec_tx_hash, error_code, error_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, mockResult{rowsAffected: 1}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	store := newMySQLStore(db)
	transfer := &Transfer{ID: "t-1", Amount: "1", Recipient: "0xabc"}
	if err := store.Create(context.Background(), transfer); err != nil {
		t.Fatalf("create: %v", err)
	}
	if transfer.State != StateReceived {
		t.Fatalf("expected default state, got %s", transfer.State)
	}
}

func TestMySQLStoreTransition(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(`SELECT `+selectColumns+` FROM transfers WHERE id = ?`, transferRows(
			[]driver.Value{"t-1", "telegram", int64(42), int64(7), "alice", "1", "0xabc", "signed", nil, "0xsafe", "", "", nil, int64(100), int64(100)},
		)),
		execOp(`UPDATE transfers SET state = ?, nonce = ?, safe_tx_hash = ?, exec_tx_hash = ?, error_code = ?, error_message = ?, updated_at = ?
        WHERE id = ? AND state = ?`, mockResult{rowsAffected: 1}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	store := newMySQLStore(db)
	if err := store.Transition(context.Background(), "t-1", StateRelaySubmitted, Patch{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
}

func TestMySQLStoreTransitionTerminal(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp("", transferRows(
			[]driver.Value{"t-1", "telegram", int64(42), int64(7), "alice", "1", "0xabc", "executed", int64(3), "0xsafe", "0xexec", "", nil, int64(100), int64(110)},
		)),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	err := newMySQLStore(db).Transition(context.Background(), "t-1", StateFailed, Patch{})
	if !xerrors.HasCode(err, CodeTransferConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreGetNotFound(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{queryOp("", transferRows())}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	_, err := newMySQLStore(db).Get(context.Background(), "missing")
	if !xerrors.HasCode(err, CodeTransferNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreListScansNonce(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(`SELECT `+selectColumns+` FROM transfers WHERE state IN (?) ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT ? OFFSET ?`, transferRows(
			[]driver.Value{"t-2", "cli", int64(0), int64(0), "", "2", "0xdef", "pending_cosign", int64(9), "0xsafe", "", "", nil, int64(100), int64(120)},
		)),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	results, err := newMySQLStore(db).List(context.Background(), WithStates(StatePendingCosign))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 1 || results[0].Nonce == nil || *results[0].Nonce != 9 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestMySQLStoreStats(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(`SELECT state, COUNT(*), MIN(updated_at), MAX(updated_at) FROM transfers GROUP BY state`, mockRowsData{
			columns: []string{"state", "count", "oldest", "newest"},
			values: [][]driver.Value{
				{"executed", int64(2), int64(100), int64(200)},
				{"guard_rejected", int64(1), int64(50), int64(50)},
			},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	stats, err := newMySQLStore(db).Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.ByState[StateExecuted] != 2 || stats.OldestUpdatedAt != 50 || stats.NewestUpdatedAt != 200 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migration order %+v", files)
	}

	ops := []mockOperation{
		execOp(createSchemaMigrations, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, m := range files {
		ops = append(ops, beginOp())
		for _, stmt := range m.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp("", mockResult{}),
		queryOp("", mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}, {"0002"}}}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestRunMigrationsRollsBackFailedFile(t *testing.T) {
	t.Parallel()

	files, err := loadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	last := files[len(files)-1]

	ops := []mockOperation{
		execOp("", mockResult{}),
		queryOp("", mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}}}),
		beginOp(),
		{typ: opExec, query: last.statements[0], err: errors.New("duplicate key name")},
		{typ: opRollback},
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	err = runMigrations(context.Background(), db)
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_create_transfers.sql": "0001",
		"0003.sql":                  "0003",
		"_odd.sql":                  "_odd",
	}
	for name, want := range cases {
		if got := migrationVersion(name); got != want {
			t.Fatalf("migrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestMySQLStoreListFiltersBySourceAndUser(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(`SELECT `+selectColumns+` FROM transfers WHERE source = ? AND user_id = ? ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`, transferRows()),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	results, err := newMySQLStore(db).List(context.Background(), WithSource(" Telegram "), WithUserID(42), WithSortOrder(SortByUpdatedAsc))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %d", len(results))
	}
}

func transferRows(values ...[]driver.Value) mockRowsData {
	return mockRowsData{
		columns: []string{"id", "source", "chat_id", "user_id", "username", "amount", "recipient", "state", "nonce",
			"safe_tx_hash", "exec_tx_hash", "error_code", "error_message", "created_at", "updated_at"},
		values: values,
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-ledger-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Minute)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && query != "" {
		if want, got := normalizeSQL(op.query), normalizeSQL(query); want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
