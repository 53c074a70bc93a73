package writer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/store"
)

var ErrValidation = errors.New("invalid record")

func IsValidationErr(err error) bool { return errors.Is(err, ErrValidation) }

var ErrContentLoad = errors.New("content load failed")

func IsContentLoadErr(err error) bool { return errors.Is(err, ErrContentLoad) }

var ErrStoreTimeout = errors.New("store write timed out")

func IsStoreTimeoutErr(err error) bool { return errors.Is(err, ErrStoreTimeout) }

var ErrStoreWrite = errors.New("store write failed")

func IsStoreWriteErr(err error) bool { return errors.Is(err, ErrStoreWrite) }

// IsStoreErr reports whether err came from the store rather than the input.
func IsStoreErr(err error) bool { return IsStoreTimeoutErr(err) || IsStoreWriteErr(err) }

func storeErr(err error) error {
	if store.IsTimeoutErr(err) {
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreWrite, err)
}

// PartialWriteError is returned by Write when the metadata row was written
// but the data row was not. The tables disagree until the caller retries.
type PartialWriteError struct {
	ID    uuid.UUID
	Table string
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("record %s: metadata written, insert into %s failed: %v", e.ID, e.Table, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// FailedRecord is a record at least one of whose rows was not acknowledged
// during a flush.
type FailedRecord struct {
	ID          uuid.UUID
	DataErr     error
	MetadataErr error

	dataRow     []any
	metadataRow []any
}

// Partial reports whether exactly one of the two rows was written.
func (r FailedRecord) Partial() bool {
	return (r.DataErr == nil) != (r.MetadataErr == nil)
}

// FlushError reports the records a flush could not persist. The writer has
// already dropped them from its queues; pass the error to Requeue to retry.
type FlushError struct {
	Total       int
	Failed      []FailedRecord
	DataErr     error
	MetadataErr error
}

func (e *FlushError) Error() string {
	msg := fmt.Sprintf("flush: %d of %d records failed", len(e.Failed), e.Total)
	if e.DataErr != nil {
		msg += fmt.Sprintf("; data: %v", e.DataErr)
	}
	if e.MetadataErr != nil {
		msg += fmt.Sprintf("; metadata: %v", e.MetadataErr)
	}
	return msg
}

func (e *FlushError) Unwrap() []error {
	var errs []error
	if e.DataErr != nil {
		errs = append(errs, e.DataErr)
	}
	if e.MetadataErr != nil {
		errs = append(errs, e.MetadataErr)
	}
	return errs
}

// IDs returns the ids of the failed records in enqueue order.
func (e *FlushError) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Failed))
	for i, r := range e.Failed {
		ids[i] = r.ID
	}
	return ids
}

// failedRows maps a dispatch error to the row indices it covers.
func failedRows(err error, n int) map[int]error {
	if err == nil {
		return nil
	}

	var batchErr *store.BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Failed
	}

	all := make(map[int]error, n)
	for i := 0; i < n; i++ {
		all[i] = err
	}
	return all
}

func newFlushError(dataRows, metaRows [][]any, dataErr, metaErr error) *FlushError {
	dataFailed := failedRows(dataErr, len(dataRows))
	metaFailed := failedRows(metaErr, len(metaRows))

	fe := &FlushError{Total: len(metaRows)}
	if dataErr != nil {
		fe.DataErr = storeErr(dataErr)
	}
	if metaErr != nil {
		fe.MetadataErr = storeErr(metaErr)
	}

	for i := range metaRows {
		dErr, dFailed := dataFailed[i]
		mErr, mFailed := metaFailed[i]
		if !dFailed && !mFailed {
			continue
		}

		rec := FailedRecord{
			ID:          metaRows[i][0].(uuid.UUID), //nolint:forcetypeassert // id is always the first bound value
			dataRow:     dataRows[i],
			metadataRow: metaRows[i],
		}
		if dFailed {
			rec.DataErr = storeErr(dErr)
		}
		if mFailed {
			rec.MetadataErr = storeErr(mErr)
		}
		fe.Failed = append(fe.Failed, rec)
	}

	return fe
}
