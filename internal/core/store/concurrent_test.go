package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
)

func TestRunConcurrent_Empty(t *testing.T) {
	called := false
	err := RunConcurrent(context.Background(), 0, 4, func(context.Context, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRunConcurrent_RespectsLimit(t *testing.T) {
	const (
		n     = 100
		limit = 7
	)

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		seen     sync.Map
	)

	err := RunConcurrent(context.Background(), n, limit, func(_ context.Context, i int) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		seen.Store(i, struct{}{})
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	count := 0
	seen.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, n, count)
}

func TestRunConcurrent_FailureDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("boom")
	var done atomic.Int32

	err := RunConcurrent(context.Background(), 10, 3, func(ctx context.Context, i int) error {
		if i%4 == 0 {
			return fmt.Errorf("row %d: %w", i, boom)
		}
		time.Sleep(2 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		done.Add(1)
		return nil
	})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 10, batchErr.Total)
	assert.Equal(t, []int{0, 4, 8}, batchErr.Indices())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(7), done.Load())
	assert.Contains(t, err.Error(), "3 of 10 writes failed")
}

func TestBatchError_IsTimeout(t *testing.T) {
	err := &BatchError{Total: 2, Failed: map[int]error{
		1: fmt.Errorf("%w: data", ErrTimeout),
	}}
	assert.True(t, IsTimeoutErr(err))
}

func TestCheckArity(t *testing.T) {
	stmt := &Statement{Insert: schema.Insert{Table: "t", Columns: []string{"id", "a"}}}
	require.NoError(t, checkArity(stmt, []any{1, 2}))
	require.ErrorIs(t, checkArity(stmt, []any{1}), ErrArity)
}

func TestParseProfiles(t *testing.T) {
	fallback, profiles, err := parseProfiles(CassandraConfig{
		Consistency: "one",
		Profiles:    map[string]string{"strict": "all"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ONE", fallback.Consistency.String())
	assert.Equal(t, fallback, profiles[DefaultProfile])
	assert.Equal(t, "ALL", profiles["strict"].Consistency.String())

	_, _, err = parseProfiles(CassandraConfig{Consistency: "sometimes"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "mongo"})
	require.ErrorIs(t, err, ErrUnknownStore)
}

func TestNewCassandra_NoHosts(t *testing.T) {
	_, err := NewCassandra(CassandraConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
