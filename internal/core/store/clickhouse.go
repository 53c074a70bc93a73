package store

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
)

type ClickHouseConfig struct {
	Host     string `json:"host" default:"127.0.0.1"`
	Port     string `json:"port" default:"9000"`
	Username string `json:"username" default:"default"`
	Secure   bool   `json:"tls_enabled" default:"false"`
	Password string `json:"password"` // base64 encoded
	Database string `json:"database" default:"default"`
	MaxConns int    `json:"max_conns" default:"8" split_words:"true"`
}

// ClickHouse is a Session backed by the native ClickHouse protocol. Concurrent
// writes are sent as one column batch, the bulk path ClickHouse is built for.
type ClickHouse struct {
	conn   driver.Conn
	closed atomic.Bool
}

func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	pswd, err := base64.StdEncoding.DecodeString(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode password: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.Secure {
		tlsConfig = &tls.Config{} //nolint:gosec,exhaustruct // server defaults
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}

	//nolint:exhaustruct // optional config
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{cfg.Host + ":" + cfg.Port},
		Protocol: clickhouse.Native,
		TLS:      tlsConfig,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: string(pswd),
		},
		MaxOpenConns: maxConns,
		MaxIdleConns: maxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err = conn.Ping(ctx); err != nil {
		conn.Close()
		var ex *clickhouse.Exception
		if errors.As(err, &ex) {
			return nil, fmt.Errorf("ping failed: exception [%d] %s", ex.Code, ex.Message)
		}
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) Prepare(_ context.Context, insert schema.Insert) (*Statement, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return &Statement{Insert: insert, Query: insert.CQL()}, nil
}

func (c *ClickHouse) Execute(ctx context.Context, stmt *Statement, args []any, opts ExecOptions) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := checkArity(stmt, args); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := c.conn.Exec(ctx, stmt.Query, args...); err != nil {
		return classifyContextErr(ctx, stmt, err)
	}

	return nil
}

// ExecuteConcurrent appends every row to one native batch. maxConcurrency does
// not apply: the batch is a single request.
func (c *ClickHouse) ExecuteConcurrent(ctx context.Context, stmt *Statement, rows [][]any, opts ExecOptions, _ int) error {
	if len(rows) == 0 {
		return nil
	}
	if c.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	batch, err := newColumnBatch(ctx, c.conn, stmt)
	if err != nil {
		return classifyContextErr(ctx, stmt, err)
	}

	failed := make(map[int]error)
	for i, row := range rows {
		if err := checkArity(stmt, row); err != nil {
			failed[i] = err
			continue
		}
		if err := batch.Append(i, row...); err != nil {
			failed[i] = err
		}
	}

	if batch.Size() > 0 {
		if err := batch.Send(); err != nil {
			err = classifyContextErr(ctx, stmt, err)
			for _, i := range batch.Rows() {
				failed[i] = err
			}
		}
	} else {
		_ = batch.Abort()
	}

	if len(failed) > 0 {
		return &BatchError{Total: len(rows), Failed: failed}
	}

	return nil
}

func (c *ClickHouse) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close clickhouse connection: %w", err)
	}
	return nil
}

func classifyContextErr(ctx context.Context, stmt *Statement, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, stmt.Insert.Table, err)
	}
	return fmt.Errorf("insert into %s: %w", stmt.Insert.Table, err)
}

// columnBatch tracks which rows made it into a driver batch.
type columnBatch struct {
	current driver.Batch
	rows    []int
}

func newColumnBatch(ctx context.Context, conn driver.Conn, stmt *Statement) (*columnBatch, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s)", stmt.Insert.Table, strings.Join(stmt.Insert.Columns, ", "))
	batch, err := conn.PrepareBatch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	return &columnBatch{current: batch}, nil
}

func (b *columnBatch) Size() int {
	return len(b.rows)
}

func (b *columnBatch) Rows() []int {
	return b.rows
}

func (b *columnBatch) Append(row int, data ...any) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("append failed: %v", recovered)
		}
	}()

	if err := b.current.Append(data...); err != nil {
		return fmt.Errorf("append failed: %w", err)
	}
	b.rows = append(b.rows, row)

	return nil
}

func (b *columnBatch) Send() error {
	if err := b.current.Send(); err != nil {
		return fmt.Errorf("failed to send the batch: %w", err)
	}
	return nil
}

func (b *columnBatch) Abort() error {
	return b.current.Abort()
}
