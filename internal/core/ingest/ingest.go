// Package ingest drains image jobs from a JetStream consumer into a batched
// writer and acknowledges messages only once their records are persisted.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/stream"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
	"github.com/glassflow/cassandra-dataset-etl/internal/metrics"
)

const (
	metricsSource = "nats"

	DefaultFlushAttempts = 3
	DefaultRetryWait     = time.Second
)

// Source yields job messages. Next returns nats.ErrTimeout when nothing
// arrived within its fetch window.
type Source interface {
	Next() (jetstream.Msg, error)
}

type Stats struct {
	Received int64 `json:"received"`
	Queued   int64 `json:"queued"`
	Rejected int64 `json:"rejected"`
	Acked    int64 `json:"acked"`
	Pending  int64 `json:"pending"`
}

type Runner struct {
	src Source
	w   *writer.Writer
	log *slog.Logger

	flushAttempts int
	retryWait     time.Duration

	// last message handled and not yet acknowledged
	last jetstream.Msg

	received atomic.Int64
	queued   atomic.Int64
	rejected atomic.Int64
	acked    atomic.Int64
	pending  atomic.Int64
}

func NewRunner(src Source, w *writer.Writer, log *slog.Logger) *Runner {
	return &Runner{
		src:           src,
		w:             w,
		log:           log,
		flushAttempts: DefaultFlushAttempts,
		retryWait:     DefaultRetryWait,
	}
}

// Stats is safe to call while Run is active.
func (r *Runner) Stats() Stats {
	return Stats{
		Received: r.received.Load(),
		Queued:   r.queued.Load(),
		Rejected: r.rejected.Load(),
		Acked:    r.acked.Load(),
		Pending:  r.pending.Load(),
	}
}

// Run consumes jobs until ctx is cancelled. Jobs that cannot be decoded or
// loaded are logged and skipped. Records of a failed flush are requeued under
// their ids and flushed again. Once the attempts are used up the runner stops
// without acknowledging the batch, so JetStream redelivers it after the ack
// wait. Redelivered jobs get new ids: delivery is at least once, and records
// stored before the failure are stored again.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Ingest is in progress...")

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Received stop event")
			// the final flush must not inherit the cancellation
			return r.flushAndAck(context.WithoutCancel(ctx))
		default:
			if err := r.step(ctx); err != nil {
				return fmt.Errorf("error on ingesting jobs: %w", err)
			}
		}
	}
}

func (r *Runner) step(ctx context.Context) error {
	msg, err := r.src.Next()
	switch {
	case errors.Is(err, nats.ErrTimeout):
		// idle stream: persist the partial batch
		return r.flushAndAck(ctx)
	case err != nil:
		return fmt.Errorf("failed to get next message: %w", err)
	}

	// leave it unacked for redelivery rather than load it with a dead context
	if ctx.Err() != nil {
		return nil
	}

	r.received.Add(1)
	r.last = msg

	if err := r.handle(ctx, msg); err != nil {
		return err
	}

	r.pending.Store(int64(r.w.Pending()))

	// an empty queue means every record up to msg is stored
	if r.w.Pending() == 0 {
		return r.ack()
	}

	return nil
}

func (r *Runner) handle(ctx context.Context, msg jetstream.Msg) error {
	job, err := stream.DecodeJob(msg.Data())
	if err != nil {
		r.reject(err)
		return nil
	}

	id, err := r.w.EnqueueFromPath(ctx, job.Source, job.Label, job.Partition)
	switch {
	case writer.IsValidationErr(err), writer.IsContentLoadErr(err):
		r.reject(err, slog.String("source", job.Source))
		return nil
	case err != nil:
		// the record was queued and the auto-flush failed
		err = r.retryFlush(ctx, err)
	}
	if err != nil {
		metrics.ObserveJob(metricsSource, "failed")
		return fmt.Errorf("failed to store batch: %w", err)
	}

	r.queued.Add(1)
	metrics.ObserveJob(metricsSource, "queued")
	r.log.Debug("Job queued", slog.String("id", id.String()), slog.String("source", job.Source))

	return nil
}

func (r *Runner) reject(err error, attrs ...any) {
	r.rejected.Add(1)
	metrics.ObserveJob(metricsSource, "rejected")
	r.log.Warn("Job rejected", append(attrs, slog.Any("error", err))...)
}

func (r *Runner) flushAndAck(ctx context.Context) error {
	if r.w.Pending() > 0 {
		if err := r.retryFlush(ctx, r.w.Flush(ctx)); err != nil {
			r.pending.Store(0)
			return fmt.Errorf("failed to flush batch: %w", err)
		}
		r.pending.Store(0)
		r.log.Debug("Batch sent")
	}

	return r.ack()
}

// retryFlush requeues the records of a failed flush and flushes them again
// until they are stored or the attempts run out.
func (r *Runner) retryFlush(ctx context.Context, err error) error {
	for attempt := 1; err != nil && attempt < r.flushAttempts; attempt++ {
		var fe *writer.FlushError
		if !errors.As(err, &fe) {
			return err
		}

		r.log.Warn("Flush failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("failed", len(fe.Failed)),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.retryWait):
		}

		r.w.Requeue(fe)
		err = r.w.Flush(ctx)
	}

	return err
}

func (r *Runner) ack() error {
	if r.last == nil {
		return nil
	}

	if err := r.last.Ack(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}

	r.acked.Add(1)
	r.last = nil
	r.log.Debug("Messages acked")

	return nil
}
