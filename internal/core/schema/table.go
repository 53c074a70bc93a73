package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidTable = errors.New("invalid table config")

// identifiers are interpolated into statements, so only plain names are allowed
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TableConfig describes the metadata/data table pair a dataset is split into.
// Both tables share the id column, which joins them back into one logical row.
type TableConfig struct {
	DataTable     string    `json:"data_table" split_words:"true"`
	MetadataTable string    `json:"metadata_table" split_words:"true"`
	IDColumn      string    `json:"id_column" default:"id" split_words:"true"`
	LabelColumn   string    `json:"label_column" default:"label" split_words:"true"`
	DataColumn    string    `json:"data_column" default:"data" split_words:"true"`
	LabelKind     LabelKind `json:"label_kind" default:"int" split_words:"true"`
	Columns       []Column  `json:"columns" ignored:"true"`
}

// WithDefaults fills the optional fields JSON decoding leaves empty.
func (c TableConfig) WithDefaults() TableConfig {
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.LabelColumn == "" {
		c.LabelColumn = "label"
	}
	if c.DataColumn == "" {
		c.DataColumn = "data"
	}
	if c.LabelKind == "" {
		c.LabelKind = LabelInt
	}
	return c
}

func (c TableConfig) Validate() error {
	for name, ident := range map[string]string{
		"data table":     c.DataTable,
		"metadata table": c.MetadataTable,
		"id column":      c.IDColumn,
		"label column":   c.LabelColumn,
		"data column":    c.DataColumn,
	} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("%w: %s %q is not a valid identifier", ErrInvalidTable, name, ident)
		}
	}

	if !c.LabelKind.Valid() {
		return fmt.Errorf("%w: unsupported label kind %q", ErrInvalidTable, c.LabelKind)
	}

	seen := map[string]struct{}{c.IDColumn: {}}
	for _, col := range c.Columns {
		if !identRe.MatchString(col.Name) || strings.Contains(col.Name, ".") {
			return fmt.Errorf("%w: column %q is not a valid identifier", ErrInvalidTable, col.Name)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("%w: column %q has unsupported type %q", ErrInvalidTable, col.Name, col.Type)
		}
		if _, ok := seen[col.Name]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidTable, col.Name)
		}
		seen[col.Name] = struct{}{}
	}

	return nil
}

// Insert is a parameterized insert template: one placeholder per column.
type Insert struct {
	Table   string
	Columns []string
}

// CQL renders the template as `INSERT INTO t (a, b) VALUES (?, ?)`.
func (i Insert) CQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(i.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", i.Table, strings.Join(i.Columns, ", "), placeholders)
}

// Arity is the number of values a row bound to the template must carry.
func (i Insert) Arity() int {
	return len(i.Columns)
}

// ParseColumns parses a "name:type,name:type" list as used in env config.
func ParseColumns(spec string) ([]Column, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	parts := strings.Split(spec, ",")
	cols := make([]Column, 0, len(parts))
	for _, p := range parts {
		name, typ, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			typ = string(TypeString)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty column name in %q", ErrInvalidTable, spec)
		}
		cols = append(cols, Column{Name: name, Type: DataType(strings.TrimSpace(typ))})
	}

	return cols, nil
}
