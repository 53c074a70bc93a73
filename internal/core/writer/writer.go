// Package writer persists records into a metadata table and a data table that
// share a generated UUID, either one record at a time or in queued batches
// dispatched with bounded concurrency.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/loader"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/store"
	"github.com/glassflow/cassandra-dataset-etl/internal/metrics"
)

const (
	DefaultConcurrency  = 32
	DefaultWriteTimeout = 30 * time.Second
)

type BatchConfig struct {
	// Concurrency bounds in-flight writes during a flush and sets the
	// auto-flush threshold.
	Concurrency      int    `json:"concurrency" default:"32"`
	WriteTimeout     int    `json:"write_timeout" default:"30" split_words:"true"` // seconds
	ExecutionProfile string `json:"execution_profile" default:"tuple" split_words:"true"`
}

// Writer queues records for the metadata and data tables and flushes them as
// two concurrent batches.
//
// A Writer is not safe for concurrent use: one producer drives Enqueue and
// Flush. The session and prepared statements are shared with the in-flight
// writes of a flush.
type Writer struct {
	sess        store.Session
	mapper      *schema.Mapper
	loader      loader.Loader
	concurrency int
	opts        store.ExecOptions
	newID       func() uuid.UUID

	metaStmt *store.Statement
	dataStmt *store.Statement

	// index i of both queues belongs to the same record
	metaQueue [][]any
	dataQueue [][]any
}

// New creates a writer and prepares its insert statements. load may be nil
// when the path based APIs are not used.
func New(ctx context.Context, sess store.Session, mapper *schema.Mapper, load loader.Loader, cfg BatchConfig) (*Writer, error) {
	if sess == nil || mapper == nil {
		return nil, fmt.Errorf("writer needs a store session and a schema mapper")
	}

	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency < 0 {
		return nil, fmt.Errorf("invalid concurrency, should be > 0: %d", concurrency)
	}

	timeout := DefaultWriteTimeout
	if cfg.WriteTimeout > 0 {
		timeout = time.Duration(cfg.WriteTimeout) * time.Second
	}

	profile := cfg.ExecutionProfile
	if profile == "" {
		profile = store.DefaultProfile
	}

	w := &Writer{
		sess:        sess,
		mapper:      mapper,
		loader:      load,
		concurrency: concurrency,
		opts:        store.ExecOptions{Profile: profile, Timeout: timeout},
		newID:       uuid.New,
		metaQueue:   make([][]any, 0, concurrency),
		dataQueue:   make([][]any, 0, concurrency),
	}

	if err := w.PrepareStatements(ctx); err != nil {
		return nil, err
	}

	return w, nil
}

// PrepareStatements prepares the metadata insert (id, columns...) and the
// data insert (id, label, data). It runs once; later calls are no-ops.
func (w *Writer) PrepareStatements(ctx context.Context) error {
	if w.metaStmt != nil && w.dataStmt != nil {
		return nil
	}

	meta, err := w.sess.Prepare(ctx, w.mapper.MetadataInsert())
	if err != nil {
		return fmt.Errorf("prepare metadata insert: %w", err)
	}

	data, err := w.sess.Prepare(ctx, w.mapper.DataInsert())
	if err != nil {
		return fmt.Errorf("prepare data insert: %w", err)
	}

	w.metaStmt, w.dataStmt = meta, data

	return nil
}

func (w *Writer) Concurrency() int { return w.concurrency }

// Pending returns the number of queued, unflushed records.
func (w *Writer) Pending() int { return len(w.metaQueue) }

// newRecord validates item and mints its id.
func (w *Writer) newRecord(item Item) (Record, error) {
	if item.Label.Kind() != w.mapper.LabelKind() {
		return Record{}, fmt.Errorf("%w: label kind %q, table expects %q", ErrValidation, item.Label.Kind(), w.mapper.LabelKind())
	}

	values, err := w.mapper.Values(item.Partition)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return Record{
		ID:        w.newID(),
		Label:     item.Label,
		Payload:   item.Payload,
		Partition: values,
	}, nil
}

// Write inserts the metadata row and then the data row, each awaited with the
// write timeout. Nothing is rolled back: if the data insert fails after the
// metadata insert succeeded a *PartialWriteError is returned.
func (w *Writer) Write(ctx context.Context, item Item) (uuid.UUID, error) {
	rec, err := w.newRecord(item)
	if err != nil {
		return uuid.Nil, err
	}

	return rec.ID, w.writeRecord(ctx, rec)
}

func (w *Writer) writeRecord(ctx context.Context, rec Record) error {
	err := w.sess.Execute(ctx, w.metaStmt, rec.metadataRow(), w.opts)
	metrics.ObserveWrite("metadata", err)
	if err != nil {
		return fmt.Errorf("record %s: insert into %s: %w", rec.ID, w.metaStmt.Insert.Table, storeErr(err))
	}

	err = w.sess.Execute(ctx, w.dataStmt, rec.dataRow(), w.opts)
	metrics.ObserveWrite("data", err)
	if err != nil {
		return &PartialWriteError{ID: rec.ID, Table: w.dataStmt.Insert.Table, Err: storeErr(err)}
	}

	return nil
}

// Enqueue validates item and appends its two rows to the queues. It never
// contacts the store.
func (w *Writer) Enqueue(item Item) (uuid.UUID, error) {
	rec, err := w.newRecord(item)
	if err != nil {
		return uuid.Nil, err
	}

	// queued rows must not change if the caller reuses its buffer
	rec.Payload = bytes.Clone(rec.Payload)
	w.metaQueue = append(w.metaQueue, rec.metadataRow())
	w.dataQueue = append(w.dataQueue, rec.dataRow())

	return rec.ID, nil
}

// Submit enqueues item and flushes once the queue holds a multiple of the
// concurrency limit, so at most one batch stays resident.
func (w *Writer) Submit(ctx context.Context, item Item) (uuid.UUID, error) {
	id, err := w.Enqueue(item)
	if err != nil {
		return uuid.Nil, err
	}

	if len(w.metaQueue)%w.concurrency == 0 {
		if err := w.Flush(ctx); err != nil {
			return id, err
		}
	}

	return id, nil
}

// Flush dispatches the queued data rows and then the queued metadata rows,
// each as one batch with at most Concurrency writes in flight, and waits for
// both. The queues are cleared whatever the outcome; rows that were not
// acknowledged are returned in a *FlushError.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.dataQueue) == 0 && len(w.metaQueue) == 0 {
		return nil
	}

	start := time.Now()
	dataRows, metaRows := w.dataQueue, w.metaQueue
	w.dataQueue = make([][]any, 0, w.concurrency)
	w.metaQueue = make([][]any, 0, w.concurrency)

	var dataErr, metaErr error
	if len(dataRows) > 0 {
		dataErr = w.sess.ExecuteConcurrent(ctx, w.dataStmt, dataRows, w.opts, w.concurrency)
	}
	if len(metaRows) > 0 {
		metaErr = w.sess.ExecuteConcurrent(ctx, w.metaStmt, metaRows, w.opts, w.concurrency)
	}

	if dataErr == nil && metaErr == nil {
		metrics.ObserveFlush(len(metaRows), 0, 0, time.Since(start))
		return nil
	}

	fe := newFlushError(dataRows, metaRows, dataErr, metaErr)
	metrics.ObserveFlush(len(metaRows), len(failedRows(dataErr, len(dataRows))), len(failedRows(metaErr, len(metaRows))), time.Since(start))

	return fe
}

// Requeue puts the records of a failed flush back on the queues. Both rows
// are queued again; Cassandra inserts are upserts, so a row that was
// acknowledged is simply rewritten.
func (w *Writer) Requeue(fe *FlushError) {
	if fe == nil {
		return
	}
	for _, r := range fe.Failed {
		w.metaQueue = append(w.metaQueue, r.metadataRow)
		w.dataQueue = append(w.dataQueue, r.dataRow)
	}
}

// WriteFromPath loads the payload and the label through the loader and writes
// the record synchronously.
func (w *Writer) WriteFromPath(ctx context.Context, source, label string, partition []any) (uuid.UUID, error) {
	item, err := w.resolve(ctx, source, label, partition)
	if err != nil {
		return uuid.Nil, err
	}

	return w.Write(ctx, item)
}

// EnqueueFromPath loads the payload and the label through the loader and
// submits the record, flushing when the batch is full.
func (w *Writer) EnqueueFromPath(ctx context.Context, source, label string, partition []any) (uuid.UUID, error) {
	item, err := w.resolve(ctx, source, label, partition)
	if err != nil {
		return uuid.Nil, err
	}

	return w.Submit(ctx, item)
}

func (w *Writer) resolve(ctx context.Context, source, label string, partition []any) (Item, error) {
	if w.loader == nil {
		return Item{}, fmt.Errorf("%w: no content loader configured", ErrContentLoad)
	}

	payload, err := w.loader.Load(ctx, source)
	if err != nil {
		return Item{}, fmt.Errorf("%w: payload: %w", ErrContentLoad, err)
	}

	raw, err := w.loader.Load(ctx, label)
	if err != nil {
		return Item{}, fmt.Errorf("%w: label: %w", ErrContentLoad, err)
	}

	lbl, err := w.parseLabel(raw)
	if err != nil {
		return Item{}, err
	}

	return Item{Label: lbl, Payload: payload, Partition: partition}, nil
}

// parseLabel turns loaded label content into a Label of the table's kind;
// integer labels are stored as decimal text.
func (w *Writer) parseLabel(raw []byte) (Label, error) {
	if w.mapper.LabelKind() == schema.LabelBytes {
		return BytesLabel(raw), nil
	}

	class, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return Label{}, fmt.Errorf("%w: integer label: %w", ErrValidation, err)
	}

	return IntLabel(class), nil
}
