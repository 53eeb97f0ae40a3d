package ml

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelEncoder maps string values to integer codes. Codes follow the sorted
// order of the distinct training values.
type LabelEncoder struct {
	Column  string   `json:"column"`
	Classes []string `json:"classes"`
	index   map[string]int
}

func NewLabelEncoder(column string) *LabelEncoder {
	return &LabelEncoder{Column: column}
}

func (le *LabelEncoder) Fit(values []string) {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	le.Classes = classes
	le.buildIndex()
}

func (le *LabelEncoder) FitTransform(values []string) []int {
	le.Fit(values)
	codes, _ := le.Transform(values)
	return codes
}

// Transform fails with *UnseenCategoryError on the first value that was not
// present at fit time.
func (le *LabelEncoder) Transform(values []string) ([]int, error) {
	codes := make([]int, len(values))
	for i, v := range values {
		code, ok := le.index[v]
		if !ok {
			return nil, &UnseenCategoryError{Column: le.Column, Value: v}
		}
		codes[i] = code
	}
	return codes, nil
}

func (le *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	values := make([]string, len(codes))
	for i, code := range codes {
		if code < 0 || code >= len(le.Classes) {
			return nil, fmt.Errorf("column %q: unknown label code %d", le.Column, code)
		}
		values[i] = le.Classes[code]
	}
	return values, nil
}

func (le *LabelEncoder) NumClasses() int {
	return len(le.Classes)
}

func (le *LabelEncoder) UnmarshalJSON(data []byte) error {
	type plain LabelEncoder
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	le.Column = p.Column
	le.Classes = p.Classes
	le.buildIndex()
	return nil
}

func (le *LabelEncoder) buildIndex() {
	le.index = make(map[string]int, len(le.Classes))
	for i, c := range le.Classes {
		le.index[c] = i
	}
}
