package schema

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrArity      = errors.New("partition values do not match metadata columns")
	ErrConversion = errors.New("value conversion failed")
)

// Mapper holds the table layout and turns raw partition values into typed
// values positionally matched to the metadata columns.
type Mapper struct {
	cfg            TableConfig
	typeConverters map[DataType]func(any) (any, error)
	metadataInsert Insert
	dataInsert     Insert
}

// NewMapper creates a mapper from the table configuration
func NewMapper(cfg TableConfig) (*Mapper, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Mapper{cfg: cfg}

	metaCols := make([]string, 0, len(cfg.Columns)+1)
	metaCols = append(metaCols, cfg.IDColumn)
	for _, col := range cfg.Columns {
		metaCols = append(metaCols, col.Name)
	}

	m.metadataInsert = Insert{Table: cfg.MetadataTable, Columns: metaCols}
	m.dataInsert = Insert{Table: cfg.DataTable, Columns: []string{cfg.IDColumn, cfg.LabelColumn, cfg.DataColumn}}

	m.initTypeConverters()

	return m, nil
}

func (m *Mapper) Config() TableConfig { return m.cfg }

func (m *Mapper) Columns() []Column { return m.cfg.Columns }

func (m *Mapper) LabelKind() LabelKind { return m.cfg.LabelKind }

// MetadataInsert returns the template (id, columns...) for the metadata table.
func (m *Mapper) MetadataInsert() Insert { return m.metadataInsert }

// DataInsert returns the template (id, label, data) for the data table.
func (m *Mapper) DataInsert() Insert { return m.dataInsert }

// Values converts raw partition values into typed values, one per column.
func (m *Mapper) Values(raw []any) ([]Value, error) {
	if len(raw) != len(m.cfg.Columns) {
		return nil, fmt.Errorf("%w: got %d values for %d columns", ErrArity, len(raw), len(m.cfg.Columns))
	}

	values := make([]Value, len(raw))
	for i, col := range m.cfg.Columns {
		v, err := m.Convert(col, raw[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	return values, nil
}

// ParseStrings is Values for textual input such as CLI flags or file names.
func (m *Mapper) ParseStrings(raw []string) ([]Value, error) {
	vals := make([]any, len(raw))
	for i, s := range raw {
		vals[i] = s
	}
	return m.Values(vals)
}

// Check verifies already typed values against the column list.
func (m *Mapper) Check(values []Value) error {
	if len(values) != len(m.cfg.Columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrArity, len(values), len(m.cfg.Columns))
	}

	for i, col := range m.cfg.Columns {
		if values[i].Type() != col.Type {
			return fmt.Errorf("%w: column %s expects %s, got %s", ErrConversion, col.Name, col.Type, values[i])
		}
	}

	return nil
}

// Convert converts a single raw value to the column type.
func (m *Mapper) Convert(col Column, raw any) (Value, error) {
	if v, ok := raw.(Value); ok {
		if v.Type() != col.Type {
			return Value{}, fmt.Errorf("%w: column %s expects %s, got %s", ErrConversion, col.Name, col.Type, v)
		}
		return v, nil
	}

	converter, ok := m.typeConverters[col.Type]
	if !ok {
		return Value{}, fmt.Errorf("%w: unsupported type %s for column %s", ErrConversion, col.Type, col.Name)
	}

	converted, err := converter(raw)
	if err != nil {
		return Value{}, fmt.Errorf("%w: column %s: %w", ErrConversion, col.Name, err)
	}

	return Value{typ: col.Type, v: converted}, nil
}

// initTypeConverters initializes type conversion functions
func (m *Mapper) initTypeConverters() {
	m.typeConverters = make(map[DataType]func(any) (any, error))

	m.typeConverters[TypeString] = func(v any) (any, error) {
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		case nil:
			return nil, fmt.Errorf("cannot convert nil to string")
		default:
			return fmt.Sprintf("%v", val), nil
		}
	}

	m.typeConverters[TypeInt] = func(v any) (any, error) {
		switch val := v.(type) {
		case float64:
			return floatToInt(val)
		case int, int64, int32, int16, int8:
			return reflect.ValueOf(val).Int(), nil
		case uint, uint64, uint32, uint16, uint8:
			u := reflect.ValueOf(val).Uint()
			if u > math.MaxInt64 {
				return nil, fmt.Errorf("%d overflows int64", u)
			}
			return int64(u), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		case []byte:
			return strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		default:
			return nil, fmt.Errorf("cannot convert %v to int", val)
		}
	}

	m.typeConverters[TypeFloat] = func(v any) (any, error) {
		switch val := v.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		case int, int64, int32:
			return float64(reflect.ValueOf(val).Int()), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(val), 64)
		case []byte:
			return strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		default:
			return nil, fmt.Errorf("cannot convert %v to float", val)
		}
	}

	m.typeConverters[TypeBool] = func(v any) (any, error) {
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			return strconv.ParseBool(val)
		case []byte:
			return strconv.ParseBool(string(val))
		case int, int64:
			return reflect.ValueOf(val).Int() != 0, nil
		case float64:
			return val != 0, nil
		default:
			return nil, fmt.Errorf("cannot convert %v to bool", val)
		}
	}

	m.typeConverters[TypeBytes] = func(v any) (any, error) {
		switch val := v.(type) {
		case string:
			return base64.StdEncoding.DecodeString(val)
		case []byte:
			return bytes.Clone(val), nil
		default:
			return nil, fmt.Errorf("cannot convert %v to bytes", val)
		}
	}

	m.typeConverters[TypeUUID] = func(v any) (any, error) {
		switch val := v.(type) {
		case uuid.UUID:
			return val, nil
		case string:
			u, err := uuid.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("failed to parse UUID: %w", err)
			}
			return u, nil
		case []byte:
			u, err := uuid.FromBytes(val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert binary UUID: %w", err)
			}
			return u, nil
		default:
			return nil, fmt.Errorf("cannot convert %v to uuid", val)
		}
	}

	m.typeConverters[TypeDateTime] = func(v any) (any, error) {
		switch val := v.(type) {
		case time.Time:
			return val, nil
		case string:
			return parseDateTime(val)
		case int64:
			return time.Unix(val, 0), nil
		case float64:
			sec, dec := math.Modf(val)
			if _, err := floatToInt(sec); err != nil {
				return nil, err
			}
			return time.Unix(int64(sec), int64(dec*1e9)), nil
		case []byte:
			return parseDateTime(string(val))
		default:
			return nil, fmt.Errorf("cannot convert %v to datetime", val)
		}
	}
}

// floatToInt accepts whole numbers representable as int64. JSON decoding
// yields float64 for every number, so this is the common path for ints.
func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("cannot convert %v to int without loss", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is out of range
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

// parseDateTime attempts to parse a string as a datetime using various formats
func parseDateTime(value string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999",
		"2006-01-02",
	}

	// Unix seconds within 1970-2100
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		if i > 0 && i < 4102444800 {
			return time.Unix(i, 0), nil
		}
	}

	for _, layout := range formats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse datetime from '%s'", value)
}
