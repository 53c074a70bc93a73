package schema

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataType represents supported metadata column types
type DataType string

const (
	TypeString   DataType = "string"
	TypeInt      DataType = "int"
	TypeFloat    DataType = "float"
	TypeBool     DataType = "bool"
	TypeBytes    DataType = "bytes"
	TypeUUID     DataType = "uuid"
	TypeDateTime DataType = "datetime"
)

func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeBytes, TypeUUID, TypeDateTime:
		return true
	default:
		return false
	}
}

// Value is a typed scalar bound to one metadata column.
// The zero Value is invalid.
type Value struct {
	typ DataType
	v   any
}

func Int(v int64) Value          { return Value{typ: TypeInt, v: v} }
func Float(v float64) Value      { return Value{typ: TypeFloat, v: v} }
func String(v string) Value      { return Value{typ: TypeString, v: v} }
func Bool(v bool) Value          { return Value{typ: TypeBool, v: v} }
func UUID(v uuid.UUID) Value     { return Value{typ: TypeUUID, v: v} }
func DateTime(v time.Time) Value { return Value{typ: TypeDateTime, v: v} }

// Bytes copies v so the value stays immutable after construction.
func Bytes(v []byte) Value {
	return Value{typ: TypeBytes, v: bytes.Clone(v)}
}

func (v Value) Type() DataType { return v.typ }

func (v Value) IsZero() bool { return v.typ == "" }

// Any returns the driver-ready representation of the value.
func (v Value) Any() any { return v.v }

func (v Value) String() string {
	if v.IsZero() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.v)
}

// Column is one metadata column and the type of values it accepts.
type Column struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// LabelKind selects how the label column is populated.
type LabelKind string

const (
	LabelInt   LabelKind = "int"
	LabelBytes LabelKind = "bytes"
)

func (k LabelKind) Valid() bool {
	return k == LabelInt || k == LabelBytes
}
