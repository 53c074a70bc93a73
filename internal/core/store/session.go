package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
)

var (
	ErrTimeout       = errors.New("store write timed out")
	ErrClosed        = errors.New("store session closed")
	ErrArity         = errors.New("bound values do not match statement")
	ErrUnknownStore  = errors.New("unknown store backend")
	ErrInvalidConfig = errors.New("invalid store config")
)

func IsTimeoutErr(err error) bool { return errors.Is(err, ErrTimeout) }

// Statement is a prepared insert. It is immutable and safe for concurrent use.
type Statement struct {
	Insert schema.Insert
	Query  string
}

// ExecOptions are the per-request options applied to every write.
type ExecOptions struct {
	// Profile names the execution profile (consistency settings) to use.
	Profile string
	// Timeout bounds a single write. Zero means no timeout.
	Timeout time.Duration
}

// Session is the store connection the writer drives.
type Session interface {
	Prepare(ctx context.Context, insert schema.Insert) (*Statement, error)
	Execute(ctx context.Context, stmt *Statement, args []any, opts ExecOptions) error
	// ExecuteConcurrent runs one write per row with at most maxConcurrency in
	// flight and returns after every write resolved. A partial failure is a
	// *BatchError.
	ExecuteConcurrent(ctx context.Context, stmt *Statement, rows [][]any, opts ExecOptions, maxConcurrency int) error
	Close() error
}

func checkArity(stmt *Statement, args []any) error {
	if len(args) != stmt.Insert.Arity() {
		return fmt.Errorf("%w: %s expects %d values, got %d", ErrArity, stmt.Insert.Table, stmt.Insert.Arity(), len(args))
	}
	return nil
}

// BatchError reports which rows of a concurrent batch failed.
type BatchError struct {
	Total  int
	Failed map[int]error
}

// Indices returns the failed row indices in ascending order.
func (e *BatchError) Indices() []int {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (e *BatchError) Error() string {
	idx := e.Indices()
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d writes failed", len(idx), e.Total)
	if len(idx) > 0 {
		fmt.Fprintf(&b, ", first (row %d): %v", idx[0], e.Failed[idx[0]])
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, i := range e.Indices() {
		errs = append(errs, e.Failed[i])
	}
	return errs
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
