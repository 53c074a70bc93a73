package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/store"
)

// Call is one request observed by FakeSession: a single Execute or one
// ExecuteConcurrent batch.
type Call struct {
	Table       string
	Batch       bool
	Rows        [][]any
	Opts        store.ExecOptions
	Concurrency int
}

// FakeSession is an in-memory store.Session that records every call and
// keeps inserted rows per table.
type FakeSession struct {
	mu       sync.Mutex
	prepared []schema.Insert
	calls    []Call
	tables   map[string][][]any

	// FailRow, when set, decides per row whether the write fails.
	FailRow func(table string, row []any) error

	inFlight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Bool
}

var _ store.Session = (*FakeSession)(nil)

func NewFakeSession() *FakeSession {
	return &FakeSession{tables: make(map[string][][]any)}
}

func (s *FakeSession) Prepare(_ context.Context, insert schema.Insert) (*store.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = append(s.prepared, insert)
	return &store.Statement{Insert: insert, Query: insert.CQL()}, nil
}

func (s *FakeSession) Execute(_ context.Context, stmt *store.Statement, args []any, opts store.ExecOptions) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Table: stmt.Insert.Table, Rows: [][]any{args}, Opts: opts})
	s.mu.Unlock()

	return s.write(stmt, args)
}

func (s *FakeSession) ExecuteConcurrent(ctx context.Context, stmt *store.Statement, rows [][]any, opts store.ExecOptions, maxConcurrency int) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{
		Table:       stmt.Insert.Table,
		Batch:       true,
		Rows:        rows,
		Opts:        opts,
		Concurrency: maxConcurrency,
	})
	s.mu.Unlock()

	return store.RunConcurrent(ctx, len(rows), maxConcurrency, func(_ context.Context, i int) error {
		cur := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			p := s.peak.Load()
			if cur <= p || s.peak.CompareAndSwap(p, cur) {
				break
			}
		}
		return s.write(stmt, rows[i])
	})
}

func (s *FakeSession) write(stmt *store.Statement, row []any) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if len(row) != stmt.Insert.Arity() {
		return fmt.Errorf("%w: %s", store.ErrArity, stmt.Insert.Table)
	}
	if s.FailRow != nil {
		if err := s.FailRow(stmt.Insert.Table, row); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[stmt.Insert.Table] = append(s.tables[stmt.Insert.Table], row)

	return nil
}

func (s *FakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *FakeSession) Prepared() []schema.Insert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Insert(nil), s.prepared...)
}

func (s *FakeSession) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Rows returns the rows persisted in table.
func (s *FakeSession) Rows(table string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.tables[table]...)
}

// PeakConcurrency is the highest number of simultaneous batch writes seen.
func (s *FakeSession) PeakConcurrency() int {
	return int(s.peak.Load())
}

func (s *FakeSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.tables = make(map[string][][]any)
	s.peak.Store(0)
}
