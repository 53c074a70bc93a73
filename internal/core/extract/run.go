package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/loader"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
	"github.com/glassflow/cassandra-dataset-etl/internal/metrics"
)

const metricsSource = "extract"

type Mode string

const (
	// ModeSync writes each record with two awaited inserts.
	ModeSync Mode = "sync"
	// ModeBatch queues records and flushes them in batches.
	ModeBatch Mode = "batch"
)

func (m Mode) Valid() bool {
	return m == ModeSync || m == ModeBatch
}

// Result counts the images of a run. In batch mode an image counts as
// written once queued; Run only returns without error after the final flush.
type Result struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

type Runner struct {
	w      *writer.Writer
	loader loader.Loader
	fields []string
	mode   Mode
	log    *slog.Logger
}

// NewRunner binds a writer to the dataset. fields name the job attributes
// that fill the metadata columns, in column order.
func NewRunner(w *writer.Writer, load loader.Loader, fields []string, mode Mode, log *slog.Logger) (*Runner, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
	for _, f := range fields {
		if _, err := (Job{}).Field(f); err != nil {
			return nil, err
		}
	}

	return &Runner{w: w, loader: load, fields: fields, mode: mode, log: log}, nil
}

// Run stores every job and flushes what is left at the end. Images that
// cannot be read or do not fit the table are skipped and counted; a store
// failure aborts the run.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Result, error) {
	var res Result

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := r.store(ctx, job)
		switch {
		case writer.IsValidationErr(err), writer.IsContentLoadErr(err):
			res.Skipped++
			metrics.ObserveJob(metricsSource, "rejected")
			r.log.Warn("Image skipped", slog.String("path", job.Path), slog.Any("error", err))
			continue
		case err != nil:
			metrics.ObserveJob(metricsSource, "failed")
			return res, fmt.Errorf("store %s: %w", job.Path, err)
		}

		metrics.ObserveJob(metricsSource, "ok")
		res.Written++
	}

	if r.mode == ModeBatch {
		if err := r.w.Flush(ctx); err != nil {
			return res, fmt.Errorf("final flush: %w", err)
		}
	}

	return res, nil
}

func (r *Runner) store(ctx context.Context, job Job) error {
	partition, err := job.Partition(r.fields)
	if err != nil {
		return fmt.Errorf("%w: %w", writer.ErrValidation, err)
	}

	payload, err := r.loader.Load(ctx, job.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", writer.ErrContentLoad, err)
	}

	item := writer.Item{Label: writer.IntLabel(job.Label), Payload: payload, Partition: partition}

	if r.mode == ModeSync {
		_, err = r.w.Write(ctx, item)
	} else {
		_, err = r.w.Submit(ctx, item)
	}

	return err
}
