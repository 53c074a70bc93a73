package writer

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
)

// Label is either an integer class code or an opaque blob (e.g. a mask).
type Label struct {
	kind  schema.LabelKind
	class int64
	blob  []byte
}

func IntLabel(class int64) Label {
	return Label{kind: schema.LabelInt, class: class}
}

func BytesLabel(blob []byte) Label {
	return Label{kind: schema.LabelBytes, blob: bytes.Clone(blob)}
}

func (l Label) Kind() schema.LabelKind { return l.kind }

// Any returns the value bound to the label column.
func (l Label) Any() any {
	if l.kind == schema.LabelBytes {
		return l.blob
	}
	return l.class
}

// Item is what a producer hands to the writer. Partition values are raw and
// get converted to the metadata column types.
type Item struct {
	Label     Label
	Payload   []byte
	Partition []any
}

// Record is one logical row: the metadata part and the heavy data part share
// ID and are written to their own tables.
type Record struct {
	ID        uuid.UUID
	Label     Label
	Payload   []byte
	Partition []schema.Value
}

func (r Record) metadataRow() []any {
	row := make([]any, 0, len(r.Partition)+1)
	row = append(row, r.ID)
	for _, v := range r.Partition {
		row = append(row, v.Any())
	}
	return row
}

func (r Record) dataRow() []any {
	return []any{r.ID, r.Label.Any(), r.Payload}
}
