package store

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryExpectation struct {
	expect *regexp.Regexp
	args   []any
	// value is scanned into a single destination; []any values fill one
	// destination each.
	value any
	err   error
}

type execExpectation struct {
	expect *regexp.Regexp
	args   []any
	tag    string
	err    error
}

// rowsExpectation scripts one Query call.
type rowsExpectation struct {
	expect *regexp.Regexp
	rows   [][]any
	err    error
}

type mockPool struct {
	t       *testing.T
	queries []queryExpectation
	execs   []execExpectation
	rows    []rowsExpectation
	txs     []*mockTx
	txIdx   int

	// batch scripts the results of SendBatch in queue order.
	batch   [][][]any
	batches []*pgx.Batch
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(m.queries) == 0 {
		m.t.Fatalf("unexpected query: %s", sql)
	}
	exp := m.queries[0]
	m.queries = m.queries[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("query mismatch: %s", sql)
	}
	assertArgs(m.t, exp.args, args)
	return mockRow{value: exp.value, err: exp.err}
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if len(m.rows) == 0 {
		m.t.Fatalf("unexpected query: %s", sql)
	}
	exp := m.rows[0]
	m.rows = m.rows[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("query mismatch: %s", sql)
	}
	if exp.err != nil {
		return nil, exp.err
	}
	return &mockRows{rows: exp.rows}, nil
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if len(m.execs) == 0 {
		m.t.Fatalf("unexpected exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("exec mismatch: %s", sql)
	}
	assertArgs(m.t, exp.args, arguments)
	return commandTag(exp.tag), exp.err
}

func (m *mockPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if m.txIdx >= len(m.txs) {
		m.t.Fatalf("unexpected begin tx (no more transactions)")
	}
	tx := m.txs[m.txIdx]
	m.txIdx++
	tx.started = true
	return tx, nil
}

func (m *mockPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	m.batches = append(m.batches, b)
	results := m.batch
	m.batch = nil
	return &mockBatchResults{results: results}
}

func (m *mockPool) Ping(ctx context.Context) error { return nil }

func (m *mockPool) assertDone() {
	if len(m.queries) != 0 {
		m.t.Fatalf("pending queries: %v", m.queries)
	}
	if len(m.execs) != 0 {
		m.t.Fatalf("pending execs: %v", m.execs)
	}
	if len(m.rows) != 0 {
		m.t.Fatalf("pending row queries: %v", m.rows)
	}
	if m.txIdx != len(m.txs) {
		m.t.Fatalf("expected %d transactions, got %d", len(m.txs), m.txIdx)
	}
}

func commandTag(tag string) pgconn.CommandTag {
	if tag == "" {
		tag = "MOCK 1"
	}
	return pgconn.NewCommandTag(tag)
}

type mockRow struct {
	value any
	err   error
}

func (m mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	values, ok := m.value.([]any)
	if !ok {
		values = []any{m.value}
	}
	return scanValues(values, dest)
}

// scanValues assigns values to destinations the way pgx would for matching
// column types. A nil value zeroes its destination.
func scanValues(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("unexpected dest count: %d, have %d values", len(dest), len(values))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if v == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		val := reflect.ValueOf(v)
		switch {
		case val.Type().AssignableTo(elem.Type()):
			elem.Set(val)
		case elem.Kind() == reflect.Pointer && val.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(val)
			elem.Set(p)
		default:
			return fmt.Errorf("cannot scan %T into %s", v, elem.Type())
		}
	}
	return nil
}

type mockRows struct {
	rows   [][]any
	pos    int
	closed bool
}

func (m *mockRows) Close()                                       { m.closed = true }
func (m *mockRows) Err() error                                   { return nil }
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) Next() bool {
	if m.closed || m.pos >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}
func (m *mockRows) Scan(dest ...any) error {
	if m.pos == 0 {
		return fmt.Errorf("scan before next")
	}
	return scanValues(m.rows[m.pos-1], dest)
}
func (m *mockRows) Values() ([]any, error) { return m.rows[m.pos-1], nil }
func (m *mockRows) RawValues() [][]byte    { return nil }
func (m *mockRows) Conn() *pgx.Conn        { return nil }

type mockBatchResults struct {
	results [][][]any
	execs   int
	closed  bool
}

func (m *mockBatchResults) Exec() (pgconn.CommandTag, error) {
	m.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockBatchResults) Query() (pgx.Rows, error) {
	if len(m.results) == 0 {
		return nil, fmt.Errorf("unexpected batch query")
	}
	rows := m.results[0]
	m.results = m.results[1:]
	return &mockRows{rows: rows}, nil
}

func (m *mockBatchResults) QueryRow() pgx.Row {
	return mockRow{err: fmt.Errorf("unexpected batch queryrow")}
}

func (m *mockBatchResults) Close() error {
	m.closed = true
	return nil
}

type mockTx struct {
	execs     []execExpectation
	queries   []queryExpectation
	rows      []rowsExpectation
	started   bool
	committed bool
	rolled    bool
	batches   []*pgx.Batch
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("unexpected nested begin")
}
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolled = true
	}
	return nil
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("unexpected CopyFrom")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	m.batches = append(m.batches, b)
	return &mockBatchResults{}
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("unexpected Prepare")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if len(m.execs) == 0 {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected tx exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		return pgconn.CommandTag{}, fmt.Errorf("exec mismatch: %s", sql)
	}
	if err := assertArgs(nil, exp.args, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	return commandTag(exp.tag), exp.err
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if len(m.rows) == 0 {
		return nil, fmt.Errorf("unexpected tx query: %s", sql)
	}
	exp := m.rows[0]
	m.rows = m.rows[1:]
	if !exp.expect.MatchString(sql) {
		return nil, fmt.Errorf("query mismatch: %s", sql)
	}
	if exp.err != nil {
		return nil, exp.err
	}
	return &mockRows{rows: exp.rows}, nil
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(m.queries) == 0 {
		return mockRow{err: fmt.Errorf("unexpected queryrow: %s", sql)}
	}
	exp := m.queries[0]
	m.queries = m.queries[1:]
	if !exp.expect.MatchString(sql) {
		return mockRow{err: fmt.Errorf("queryrow mismatch: %s", sql)}
	}
	if err := assertArgs(nil, exp.args, args); err != nil {
		return mockRow{err: err}
	}
	return mockRow{value: exp.value, err: exp.err}
}
func (m *mockTx) Conn() *pgx.Conn { return nil }

func (m *mockTx) assertDone() {
	if len(m.execs) != 0 {
		panic(fmt.Sprintf("pending tx execs: %v", m.execs))
	}
	if len(m.queries) != 0 {
		panic(fmt.Sprintf("pending tx queries: %v", m.queries))
	}
	if len(m.rows) != 0 {
		panic(fmt.Sprintf("pending tx row queries: %v", m.rows))
	}
	if !m.committed && !m.rolled {
		panic("transaction not finished")
	}
}

// queued returns the SQL of every statement sent in tx batches.
func (m *mockTx) queued() []*pgx.QueuedQuery {
	var out []*pgx.QueuedQuery
	for _, b := range m.batches {
		out = append(out, b.QueuedQueries...)
	}
	return out
}

func assertArgs(t *testing.T, expected, actual []any) error {
	if len(expected) == 0 {
		return nil
	}
	if len(expected) != len(actual) {
		if t != nil {
			t.Fatalf("argument length mismatch: expected %d got %d", len(expected), len(actual))
		}
		return fmt.Errorf("argument length mismatch")
	}
	for i, exp := range expected {
		if exp == nil {
			continue
		}
		if !reflect.DeepEqual(exp, actual[i]) {
			if t != nil {
				t.Fatalf("argument mismatch at %d: expected %v got %v", i, exp, actual[i])
			}
			return fmt.Errorf("argument mismatch at %d: expected %v got %v", i, exp, actual[i])
		}
	}
	return nil
}
