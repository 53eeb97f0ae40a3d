package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"modelserve/ml"
)

func TestDescribe(t *testing.T) {
	table, err := ml.NewTable(
		ml.NewNumericColumn("age", ml.KindInteger, []float64{30, 40, 50, 60, 70, 80}),
		ml.NewNumericColumn("score", ml.KindFloat, []float64{1, math.NaN(), math.NaN(), math.NaN(), 2, 3}),
		ml.NewTextColumn("country", []string{"x", "x", "x", "x", "x", "x"}),
	)
	require.NoError(t, err)

	stats := Describe(table, 5)
	require.Equal(t, []string{"age", "score", "country"}, stats.Columns)
	require.Equal(t, [2]int{6, 3}, stats.Shape)
	require.Len(t, stats.Preview, 5)
	require.Nil(t, stats.Preview[1]["score"])
	require.Equal(t, map[string]string{"age": "int64", "score": "float64", "country": "object"}, stats.Dtypes)
	require.Equal(t, map[string]int{"age": 0, "score": 3, "country": 0}, stats.MissingValues)

	issues := map[string]QualityIssue{}
	for _, issue := range stats.Issues {
		issues[issue.Type+"/"+issue.Column] = issue
	}
	require.Equal(t, "high", issues["missing_values/score"].Severity)
	require.Contains(t, issues, "constant_column/country")
	require.NotContains(t, issues, "constant_column/age")
}

func TestIdentifierColumnRule(t *testing.T) {
	rule := &IdentifierColumnRule{MinRows: 3}

	ids := ml.NewTextColumn("id", []string{"a", "b", "c"})
	require.NotNil(t, rule.Check(ids))

	repeated := ml.NewTextColumn("city", []string{"a", "b", "a"})
	require.Nil(t, rule.Check(repeated))

	numeric := ml.NewNumericColumn("n", ml.KindInteger, []float64{1, 2, 3})
	require.Nil(t, rule.Check(numeric))
}

func TestDescribeCustomRules(t *testing.T) {
	table, err := ml.NewTable(ml.NewTextColumn("c", []string{"", "b"}))
	require.NoError(t, err)

	stats := Describe(table, 5, NewMissingValueRule())
	require.Len(t, stats.Issues, 1)
	require.Equal(t, "high", stats.Issues[0].Severity)
}
