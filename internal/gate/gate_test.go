package gate

import (
	"fmt"
	"testing"
	"time"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/policy"
	"notechart/internal/statistics"
	"notechart/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector(n int, step time.Duration, fn func(i int) map[string]any) *statistics.Collector {
	return statistics.NewCollector(statistics.NewSample(testkit.Notes(n, step, fn), core.TimeRange{}, 0))
}

func pieOf(dim string) chart.ChartCandidate {
	return chart.ChartCandidate{
		ChartType: chart.ChartPie,
		FieldPlan: chart.FieldPlan{Dimension: dim, Aggregation: chart.AggCount},
	}
}

// twenty evenly spread tags: many categories and no dominant one
func sparseTags(i int) map[string]any {
	return map[string]any{"tag": fmt.Sprintf("t%02d", i%20)}
}

func TestSparsePieBecomesTopNBar(t *testing.T) {
	ev := collector(40, time.Hour, sparseTags)

	out, d := Evaluate(pieOf("tag"), ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Equal(t, 8, out.FieldPlan.TopN)
	assert.True(t, d.Downgraded)
	assert.Equal(t, chart.ChartPie, d.OriginalType)
	assert.Equal(t, chart.ChartBar, d.FinalType)
	assert.Contains(t, d.Reason, "top_share")
	assert.Contains(t, d.Reason, core.ErrStatisticalInfeasibility.Error())
	assert.Contains(t, d.Adjustments, "chart_type pie -> bar")
}

func TestPieWithManyCategoriesButDominantShare(t *testing.T) {
	ev := collector(40, time.Hour, func(i int) map[string]any {
		if i < 25 {
			return map[string]any{"tag": "main"}
		}
		return map[string]any{"tag": fmt.Sprintf("t%02d", i)}
	})

	out, d := Evaluate(pieOf("tag"), ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.NotContains(t, d.Reason, "top_share")
	assert.Contains(t, d.Reason, "categories > 8")
}

func TestReadablePiePasses(t *testing.T) {
	ev := collector(12, time.Hour, func(i int) map[string]any {
		return map[string]any{"tag": testkit.Cycle("a", "b", "c")(i)}
	})

	out, d := Evaluate(pieOf("tag"), ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartPie, out.ChartType)
	assert.False(t, d.Downgraded)
	assert.Equal(t, ReasonOK, d.Reason)
}

func TestShortLineFallsBackToBar(t *testing.T) {
	ev := collector(3, 24*time.Hour, nil)
	cand := chart.ChartCandidate{
		ChartType: chart.ChartLine,
		FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount, TimeGranularity: chart.GranularityDay},
	}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Equal(t, chart.GranularityWeek, out.FieldPlan.TimeGranularity)
	assert.Contains(t, d.Reason, "line has 3 points < 5")
	assert.True(t, d.Downgraded)
}

func TestSpreadOutLineStaysShortAfterWeeklyBuckets(t *testing.T) {
	// three notes across roughly ninety days: one point per week as well
	ev := collector(3, 44*24*time.Hour, nil)
	cand := chart.ChartCandidate{
		ChartType: chart.ChartLine,
		FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount, TimeGranularity: chart.GranularityDay},
	}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Equal(t, chart.GranularityWeek, out.FieldPlan.TimeGranularity)
	assert.Equal(t, "created_at", out.FieldPlan.TimeField)
	assert.Contains(t, d.Reason, "line has 3 points < 5 at day, still 3 at week")
	assert.Contains(t, d.Reason, core.ErrStatisticalInfeasibility.Error())
	assert.Contains(t, d.Adjustments, "chart_type line -> bar")
	assert.True(t, d.Downgraded)
}

func TestLongLinePasses(t *testing.T) {
	ev := collector(10, 24*time.Hour, nil)
	cand := chart.ChartCandidate{
		ChartType: chart.ChartLine,
		FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount},
	}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), false)
	assert.Equal(t, chart.ChartLine, out.ChartType)
	assert.False(t, d.Downgraded)
}

// sparseGrid pairs twenty a values with twenty b values on the diagonal
// only; a is missing on every fourth note
func sparseGrid() *statistics.Collector {
	return collector(40, time.Hour, func(i int) map[string]any {
		v := map[string]any{"b": fmt.Sprintf("b%02d", i%20)}
		if i%4 != 0 {
			v["a"] = fmt.Sprintf("a%02d", i%20)
		}
		return v
	})
}

func gridOf(x, y string) chart.ChartCandidate {
	return chart.ChartCandidate{
		ChartType: chart.ChartHeatmap,
		FieldPlan: chart.FieldPlan{Dimension: x, Dimension2: y, Aggregation: chart.AggCount},
	}
}

func wideTags() *statistics.Collector {
	return collector(80, time.Hour, func(i int) map[string]any {
		return map[string]any{"tag": fmt.Sprintf("t%02d", i%40)}
	})
}

func TestSparseHeatmapBecomesBarOnHeavierDimension(t *testing.T) {
	out, d := Evaluate(gridOf("a", "b"), sparseGrid(), policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Equal(t, "b", out.FieldPlan.Dimension)
	assert.Empty(t, out.FieldPlan.Dimension2)
	assert.Equal(t, 10, out.FieldPlan.TopN)
	assert.Contains(t, d.Reason, "cell_density")
	assert.Contains(t, d.Reason, core.ErrStatisticalInfeasibility.Error())
}

func TestWideBarGetsTopN(t *testing.T) {
	cand := chart.ChartCandidate{ChartType: chart.ChartBar, FieldPlan: chart.FieldPlan{Dimension: "tag", Aggregation: chart.AggCount}}

	out, d := Evaluate(cand, wideTags(), policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Equal(t, 10, out.FieldPlan.TopN)
	assert.Equal(t, chart.ChartBar, d.OriginalType)
	assert.True(t, d.Downgraded)
	assert.NotContains(t, d.Reason, core.ErrStatisticalInfeasibility.Error())
}

func TestEvaluateIsIdempotent(t *testing.T) {
	gates := policy.DefaultGates()
	cases := map[string]struct {
		ev     Evidence
		cand   chart.ChartCandidate
		frozen bool
	}{
		"sparse pie":     {ev: collector(40, time.Hour, sparseTags), cand: pieOf("tag")},
		"frozen pie":     {ev: collector(40, time.Hour, sparseTags), cand: pieOf("tag"), frozen: true},
		"short line":     {ev: collector(3, 24*time.Hour, nil), cand: chart.ChartCandidate{ChartType: chart.ChartLine, FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount}}},
		"frozen line":    {ev: collector(3, 24*time.Hour, nil), cand: chart.ChartCandidate{ChartType: chart.ChartLine, FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount}}, frozen: true},
		"missing axis":   {ev: collector(5, time.Hour, nil), cand: chart.ChartCandidate{ChartType: chart.ChartPie, FieldPlan: chart.FieldPlan{Aggregation: chart.AggSum}}},
		"spread line":    {ev: collector(3, 44*24*time.Hour, nil), cand: chart.ChartCandidate{ChartType: chart.ChartLine, FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount, TimeGranularity: chart.GranularityDay}}},
		"sparse heatmap": {ev: sparseGrid(), cand: gridOf("a", "b")},
		"frozen heatmap": {ev: sparseGrid(), cand: gridOf("a", "b"), frozen: true},
		"wide bar":       {ev: wideTags(), cand: chart.ChartCandidate{ChartType: chart.ChartBar, FieldPlan: chart.FieldPlan{Dimension: "tag", Aggregation: chart.AggCount}}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			once, _ := Evaluate(tc.cand, tc.ev, gates, tc.frozen)
			twice, d := Evaluate(once, tc.ev, gates, tc.frozen)

			assert.False(t, d.Downgraded, d.Reason)
			assert.Empty(t, d.Adjustments)
			assert.Equal(t, once, twice)
		})
	}
}

func TestFrozenTypeIsNeverChanged(t *testing.T) {
	ev := collector(40, time.Hour, sparseTags)

	out, d := Evaluate(pieOf("tag"), ev, policy.DefaultGates(), true)

	assert.Equal(t, chart.ChartPie, out.ChartType)
	assert.Equal(t, chart.ChartPie, d.FinalType)
	assert.Equal(t, 8, out.FieldPlan.TopN)
	assert.Contains(t, d.Reason, ReasonTypeLocked)
}

func TestFrozenLineCoarsensInsteadOfSwitching(t *testing.T) {
	ev := collector(3, 24*time.Hour, nil)
	cand := chart.ChartCandidate{ChartType: chart.ChartLine, FieldPlan: chart.FieldPlan{TimeField: "created_at", Aggregation: chart.AggCount}}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), true)

	assert.Equal(t, chart.ChartLine, out.ChartType)
	assert.Equal(t, chart.GranularityMonth, out.FieldPlan.TimeGranularity)
	assert.Contains(t, d.Reason, ReasonTypeLocked)
}

func TestHighMissingFieldsAreExcluded(t *testing.T) {
	ev := collector(10, time.Hour, func(i int) map[string]any {
		v := map[string]any{"tag": testkit.Cycle("a", "b")(i)}
		if i < 3 {
			v["hours"] = 2.0
		}
		return v
	})
	cand := chart.ChartCandidate{
		ChartType: chart.ChartBar,
		FieldPlan: chart.FieldPlan{Dimension: "tag", Metric: "hours", Aggregation: chart.AggSum},
	}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), false)

	assert.Empty(t, out.FieldPlan.Metric)
	assert.Equal(t, chart.AggCount, out.FieldPlan.Aggregation)
	assert.Contains(t, d.Reason, "field hours excluded")
	require.True(t, d.Downgraded)
}

func TestBarWithoutAxesIsCountOnly(t *testing.T) {
	ev := collector(5, time.Hour, nil)
	cand := chart.ChartCandidate{ChartType: chart.ChartPie, FieldPlan: chart.FieldPlan{Aggregation: chart.AggCount}}

	out, d := Evaluate(cand, ev, policy.DefaultGates(), false)

	assert.Equal(t, chart.ChartBar, out.ChartType)
	assert.Contains(t, d.Reason, "single total")
}

func TestEligible(t *testing.T) {
	g := policy.DefaultGates()
	assert.True(t, Eligible(chart.FieldStatistics{MissingRate: 0.4}, g))
	assert.False(t, Eligible(chart.FieldStatistics{MissingRate: 0.41}, g))
}
