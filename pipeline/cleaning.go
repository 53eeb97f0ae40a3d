package pipeline

import (
	"fmt"
	"math"

	"modelserve/ml"
)

// QualityIssue 数据质量问题
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // low, medium, high
	Column   string `json:"column"`
	Message  string `json:"message"`
}

// ColumnRule 列级质量检查规则
type ColumnRule interface {
	Name() string
	Check(col *ml.Column) *QualityIssue
}

// DatasetStats 上传数据集的概要
type DatasetStats struct {
	Columns       []string                 `json:"columns"`
	Shape         [2]int                   `json:"shape"`
	Preview       []map[string]interface{} `json:"preview"`
	Dtypes        map[string]string        `json:"dtypes"`
	MissingValues map[string]int           `json:"missing_values"`
	Issues        []QualityIssue           `json:"issues,omitempty"`
}

// DefaultRules 默认检查规则
func DefaultRules() []ColumnRule {
	return []ColumnRule{
		NewMissingValueRule(),
		&ConstantColumnRule{},
		&IdentifierColumnRule{MinRows: 20},
	}
}

// Describe 生成数据集概要，preview 为预览行数
func Describe(t *ml.Table, previewRows int, rules ...ColumnRule) DatasetStats {
	if rules == nil {
		rules = DefaultRules()
	}
	stats := DatasetStats{
		Columns:       t.Names(),
		Shape:         [2]int{t.NumRows(), t.NumColumns()},
		Preview:       t.Records(previewRows),
		Dtypes:        make(map[string]string, t.NumColumns()),
		MissingValues: make(map[string]int, t.NumColumns()),
	}
	for _, col := range t.Columns() {
		stats.Dtypes[col.Name] = string(col.Kind)
		stats.MissingValues[col.Name] = col.Missing()
		for _, rule := range rules {
			if issue := rule.Check(col); issue != nil {
				stats.Issues = append(stats.Issues, *issue)
			}
		}
	}
	return stats
}

// ============ 检查规则实现 ============

// MissingValueRule 缺失值比例检查
type MissingValueRule struct {
	MediumRatio float64
	HighRatio   float64
}

func NewMissingValueRule() *MissingValueRule {
	return &MissingValueRule{
		MediumRatio: 0.2,
		HighRatio:   0.5,
	}
}

func (r *MissingValueRule) Name() string {
	return "missing_values"
}

func (r *MissingValueRule) Check(col *ml.Column) *QualityIssue {
	n := col.Len()
	missing := col.Missing()
	if n == 0 || missing == 0 {
		return nil
	}
	ratio := float64(missing) / float64(n)
	severity := "low"
	switch {
	case ratio >= r.HighRatio:
		severity = "high"
	case ratio >= r.MediumRatio:
		severity = "medium"
	}
	return &QualityIssue{
		Type:     r.Name(),
		Severity: severity,
		Column:   col.Name,
		Message:  fmt.Sprintf("%d of %d values missing (%.1f%%)", missing, n, ratio*100),
	}
}

// ConstantColumnRule 常量列检查，此类列对模型没有贡献
type ConstantColumnRule struct{}

func (r *ConstantColumnRule) Name() string {
	return "constant_column"
}

func (r *ConstantColumnRule) Check(col *ml.Column) *QualityIssue {
	if col.Len() < 2 {
		return nil
	}
	distinct := distinctValues(col)
	if distinct > 1 {
		return nil
	}
	return &QualityIssue{
		Type:     r.Name(),
		Severity: "medium",
		Column:   col.Name,
		Message:  "column holds a single distinct value",
	}
}

// IdentifierColumnRule 文本列每行取值都不同，通常是ID列
type IdentifierColumnRule struct {
	MinRows int
}

func (r *IdentifierColumnRule) Name() string {
	return "identifier_column"
}

func (r *IdentifierColumnRule) Check(col *ml.Column) *QualityIssue {
	if col.Kind.IsNumeric() || col.Len() < r.MinRows {
		return nil
	}
	if distinctValues(col) < col.Len() {
		return nil
	}
	return &QualityIssue{
		Type:     r.Name(),
		Severity: "low",
		Column:   col.Name,
		Message:  "every row has a distinct value; unseen values will fail prediction",
	}
}

// distinctValues 统计非缺失的不同取值个数
func distinctValues(col *ml.Column) int {
	if col.Kind.IsNumeric() {
		seen := make(map[float64]struct{})
		for _, v := range col.Numbers {
			if !math.IsNaN(v) {
				seen[v] = struct{}{}
			}
		}
		return len(seen)
	}
	seen := make(map[string]struct{})
	for _, s := range col.Strings {
		if s != "" {
			seen[s] = struct{}{}
		}
	}
	return len(seen)
}
