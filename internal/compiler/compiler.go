// Package compiler turns a gated chart candidate and the note sample into the
// final ChartConfig: it buckets time, folds Top-N into "other", aggregates and
// orders rows.
package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"notechart/domain/chart"
	"notechart/domain/note"
	"notechart/internal/statistics"
)

// ErrTypeMismatch is returned when the candidate is not the one the gate decided on
var ErrTypeMismatch = errors.New("candidate chart type differs from gate decision")

type cellKey struct {
	x, series string
}

type cell struct {
	values stats.Float64Data
}

// Compile builds the chart config for cand. cand must be the gate's output,
// so its type has to equal decision.FinalType.
func Compile(cand chart.ChartCandidate, decision chart.GateDecision, sample *statistics.Sample) (*ChartConfig, error) {
	if cand.ChartType != decision.FinalType {
		return nil, fmt.Errorf("%w: %s vs %s", ErrTypeMismatch, cand.ChartType, decision.FinalType)
	}
	if !cand.ChartType.Valid() {
		return nil, fmt.Errorf("compile: unsupported chart type %q", cand.ChartType)
	}

	plan := cand.FieldPlan
	if !plan.Aggregation.Valid() || (plan.Metric == "" && plan.Aggregation != chart.AggCount) {
		plan.Aggregation = chart.AggCount
	}
	if plan.Aggregation == chart.AggCount {
		plan.Metric = ""
	}

	x, series, hasSeries := axes(cand.ChartType, plan)
	if x.IsTime() && plan.TimeGranularity == "" {
		plan.TimeGranularity = x.Granularity
	}

	cells := make(map[cellKey]*cell)
	var order []cellKey
	for _, n := range sample.Notes() {
		key, ok := x.Key(n)
		if !ok {
			continue
		}
		k := cellKey{x: key}
		if hasSeries {
			if k.series, ok = series.Key(n); !ok {
				continue
			}
		}
		value := 1.0
		if plan.Metric != "" {
			raw, ok := n.Value(plan.Metric)
			if !ok {
				continue
			}
			if value, ok = note.AsFloat(raw); !ok {
				continue
			}
		}
		c, ok := cells[k]
		if !ok {
			c = &cell{}
			cells[k] = c
			order = append(order, k)
		}
		c.values = append(c.values, value)
	}

	if plan.TopN > 0 {
		cells, order = fold(cells, order, cand.ChartType, plan.TopN)
	}

	rows := aggregate(cells, order, plan.Aggregation)
	sortRows(rows, cand.ChartType)

	return &ChartConfig{
		chartType:   cand.ChartType,
		mapping:     plan,
		aggregation: plan.Aggregation,
		rows:        rows,
	}, nil
}

// axes resolves x and the optional series axis. A plan without its required
// axis compiles into a single total.
func axes(t chart.ChartType, p chart.FieldPlan) (statistics.Axis, statistics.Axis, bool) {
	if t == chart.ChartHeatmap {
		x, y, ok := statistics.HeatmapAxes(p)
		if !ok {
			if p.Dimension != "" {
				return statistics.Axis{Field: p.Dimension}, statistics.Axis{}, false
			}
			return statistics.Axis{}, statistics.Axis{}, false
		}
		return x, y, true
	}
	x, ok := statistics.XAxis(t, p)
	if !ok {
		return statistics.Axis{}, statistics.Axis{}, false
	}
	s, hasSeries := statistics.SeriesAxis(t, p)
	return x, s, hasSeries
}

// fold merges cells outside the Top-N into "other". Keys rank by their
// aggregate total. Line charts fold their series, heatmaps fold both axes,
// everything else folds x.
func fold(cells map[cellKey]*cell, order []cellKey, t chart.ChartType, n int) (map[cellKey]*cell, []cellKey) {
	xWeights := make(map[string]float64)
	sWeights := make(map[string]float64)
	for k, c := range cells {
		sum, _ := c.values.Sum()
		xWeights[k.x] += sum
		sWeights[k.series] += sum
	}

	var keepX, keepS map[string]bool
	switch t {
	case chart.ChartLine:
		keepS = statistics.TopKeys(sWeights, n)
	case chart.ChartHeatmap:
		keepX = statistics.TopKeys(xWeights, n)
		keepS = statistics.TopKeys(sWeights, n)
	default:
		keepX = statistics.TopKeys(xWeights, n)
	}

	folded := make(map[cellKey]*cell, len(cells))
	var foldedOrder []cellKey
	for _, k := range order {
		nk := cellKey{x: statistics.Fold(k.x, keepX), series: k.series}
		if k.series != "" {
			nk.series = statistics.Fold(k.series, keepS)
		}
		c, ok := folded[nk]
		if !ok {
			c = &cell{}
			folded[nk] = c
			foldedOrder = append(foldedOrder, nk)
		}
		c.values = append(c.values, cells[k].values...)
	}
	return folded, foldedOrder
}

func aggregate(cells map[cellKey]*cell, order []cellKey, agg chart.Aggregation) []Row {
	rows := make([]Row, 0, len(order))
	for _, k := range order {
		values := cells[k].values
		switch agg {
		case chart.AggNone:
			for _, v := range values {
				rows = append(rows, Row{X: k.x, Series: k.series, Value: v})
			}
		case chart.AggCount:
			rows = append(rows, Row{X: k.x, Series: k.series, Value: float64(len(values))})
		case chart.AggAvg:
			mean, _ := values.Mean()
			rows = append(rows, Row{X: k.x, Series: k.series, Value: mean})
		default:
			sum, _ := values.Sum()
			rows = append(rows, Row{X: k.x, Series: k.series, Value: sum})
		}
	}
	return rows
}

// keyLess orders labels ascending with the "other" bucket last
func keyLess(a, b string) bool {
	if (a == statistics.OtherBucket) != (b == statistics.OtherBucket) {
		return b == statistics.OtherBucket
	}
	return a < b
}

func sortRows(rows []Row, t chart.ChartType) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch t {
		case chart.ChartBar, chart.ChartPie:
			if (a.X == statistics.OtherBucket) != (b.X == statistics.OtherBucket) {
				return b.X == statistics.OtherBucket
			}
			if a.Value != b.Value {
				return a.Value > b.Value
			}
			if a.X != b.X {
				return a.X < b.X
			}
			return keyLess(a.Series, b.Series)
		default:
			// line and heatmap: time buckets sort chronologically as text
			if a.X != b.X {
				return keyLess(a.X, b.X)
			}
			return keyLess(a.Series, b.Series)
		}
	})
}
