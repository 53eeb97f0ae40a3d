package ml

import (
	"fmt"
	"math"
	"strconv"
)

// ColumnKind is the declared value type of a column. The string values follow
// pandas dtype names since they are reported back to clients verbatim.
type ColumnKind string

const (
	KindInteger  ColumnKind = "int64"
	KindFloat    ColumnKind = "float64"
	KindText     ColumnKind = "object"
	KindCategory ColumnKind = "category"
)

// IsNumeric reports whether values of this kind are stored as numbers.
func (k ColumnKind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat
}

// Column is a single named column. Numeric kinds use Numbers with NaN marking a
// missing value, text kinds use Strings with "" marking a missing value.
type Column struct {
	Name    string     `json:"name"`
	Kind    ColumnKind `json:"kind"`
	Numbers []float64  `json:"numbers,omitempty"`
	Strings []string   `json:"strings,omitempty"`
}

func NewNumericColumn(name string, kind ColumnKind, values []float64) *Column {
	if !kind.IsNumeric() {
		kind = KindFloat
	}
	return &Column{Name: name, Kind: kind, Numbers: values}
}

func NewTextColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: KindText, Strings: values}
}

func (c *Column) Len() int {
	if c.Kind.IsNumeric() {
		return len(c.Numbers)
	}
	return len(c.Strings)
}

// Text returns the column coerced to strings. Numeric values are formatted the
// same way regardless of where they came from, so codes learned at training
// time stay stable.
func (c *Column) Text() []string {
	if !c.Kind.IsNumeric() {
		return c.Strings
	}
	out := make([]string, len(c.Numbers))
	for i, v := range c.Numbers {
		out[i] = formatNumber(v)
	}
	return out
}

// Float returns the column coerced to float64. Empty strings become NaN.
func (c *Column) Float() ([]float64, error) {
	if c.Kind.IsNumeric() {
		return c.Numbers, nil
	}
	out := make([]float64, len(c.Strings))
	for i, s := range c.Strings {
		if s == "" {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q value %q is not numeric", ErrSchemaMismatch, c.Name, s)
		}
		out[i] = v
	}
	return out, nil
}

// Value returns row i as a JSON friendly value. Missing numbers become nil.
func (c *Column) Value(i int) interface{} {
	switch c.Kind {
	case KindInteger:
		if math.IsNaN(c.Numbers[i]) {
			return nil
		}
		return int64(c.Numbers[i])
	case KindFloat:
		if math.IsNaN(c.Numbers[i]) || math.IsInf(c.Numbers[i], 0) {
			return nil
		}
		return c.Numbers[i]
	default:
		return c.Strings[i]
	}
}

// Missing counts NaN numbers or empty strings.
func (c *Column) Missing() int {
	n := 0
	if c.Kind.IsNumeric() {
		for _, v := range c.Numbers {
			if math.IsNaN(v) {
				n++
			}
		}
		return n
	}
	for _, s := range c.Strings {
		if s == "" {
			n++
		}
	}
	return n
}

// Take returns a new column holding the given rows in order.
func (c *Column) Take(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind.IsNumeric() {
		out.Numbers = make([]float64, len(rows))
		for i, r := range rows {
			out.Numbers[i] = c.Numbers[r]
		}
		return out
	}
	out.Strings = make([]string, len(rows))
	for i, r := range rows {
		out.Strings[i] = c.Strings[r]
	}
	return out
}

func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Table is an ordered set of equally sized, uniquely named columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

func NewTable(columns ...*Column) (*Table, error) {
	t := &Table{
		columns: make([]*Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if col == nil {
			return nil, fmt.Errorf("%w: column %d is nil", ErrInvalidDataset, i)
		}
		if col.Name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrInvalidDataset, i)
		}
		if _, ok := t.index[col.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidDataset, col.Name)
		}
		if i == 0 {
			t.rows = col.Len()
		} else if col.Len() != t.rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, expected %d", ErrInvalidDataset, col.Name, col.Len(), t.rows)
		}
		t.index[col.Name] = i
		t.columns = append(t.columns, col)
	}
	return t, nil
}

func (t *Table) NumRows() int    { return t.rows }
func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.columns...)
}

func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Select returns the named columns in the requested order, dropping the rest.
// Absent names are reported together in a *MissingFeatureError.
func (t *Table) Select(names []string) (*Table, error) {
	var missing []string
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		col, ok := t.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols = append(cols, col)
	}
	if len(missing) > 0 {
		return nil, &MissingFeatureError{Missing: missing}
	}
	return NewTable(cols...)
}

// SplitTarget separates the target column from the feature columns.
func (t *Table) SplitTarget(target string) (*Table, *Column, error) {
	col, ok := t.Column(target)
	if !ok {
		return nil, nil, fmt.Errorf("%w: target column %q not found", ErrInvalidDataset, target)
	}
	cols := make([]*Column, 0, len(t.columns)-1)
	for _, c := range t.columns {
		if c.Name != target {
			cols = append(cols, c)
		}
	}
	features, err := NewTable(cols...)
	if err != nil {
		return nil, nil, err
	}
	return features, col, nil
}

// Take returns a new table holding the given rows in order.
func (t *Table) Take(rows []int) *Table {
	cols := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col.Take(rows)
	}
	out, _ := NewTable(cols...)
	if len(cols) == 0 {
		out.rows = len(rows)
	}
	return out
}

// Records renders up to limit rows as maps. A negative limit renders all rows.
func (t *Table) Records(limit int) []map[string]interface{} {
	n := t.rows
	if limit >= 0 && limit < n {
		n = limit
	}
	records := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		record := make(map[string]interface{}, len(t.columns))
		for _, col := range t.columns {
			record[col.Name] = col.Value(i)
		}
		records[i] = record
	}
	return records
}
