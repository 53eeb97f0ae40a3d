package ml

// ColumnSpec is the declared kind of one feature column.
type ColumnSpec struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Schema is the frozen feature layout captured at training time.
type Schema struct {
	Columns []ColumnSpec `json:"columns"`
}

// ClassifyColumns partitions a feature table by declared kind. The result is
// computed once per training run and never re-derived from inference input.
func ClassifyColumns(t *Table) Schema {
	specs := make([]ColumnSpec, 0, t.NumColumns())
	for _, col := range t.Columns() {
		specs = append(specs, ColumnSpec{Name: col.Name, Kind: col.Kind})
	}
	return Schema{Columns: specs}
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s Schema) Numerical() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Kind.IsNumeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

func (s Schema) Categorical() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Kind.IsNumeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

func (s Schema) Kind(name string) (ColumnKind, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Kind, true
		}
	}
	return "", false
}
