package statistics

import (
	"github.com/montanaflynn/stats"

	"notechart/domain/chart"
	"notechart/domain/note"
)

// Collector computes field and candidate statistics over one sample.
// It holds no mutable state and is safe for concurrent use.
type Collector struct {
	sample *Sample
}

// NewCollector creates a collector for the given sample
func NewCollector(sample *Sample) *Collector {
	return &Collector{sample: sample}
}

// Sample returns the sample the collector reads
func (c *Collector) Sample() *Sample { return c.sample }

// FieldStats summarizes a single field across the sample
func (c *Collector) FieldStats(name string) chart.FieldStatistics {
	total := c.sample.Len()
	out := chart.FieldStatistics{Total: total}
	if total == 0 {
		out.MissingRate = 1
		return out
	}

	counts := make(map[string]float64)
	present := 0
	for _, n := range c.sample.Notes() {
		v, ok := n.Value(name)
		if !ok {
			continue
		}
		present++
		counts[note.AsString(v)]++
	}
	out.MissingRate = float64(total-present) / float64(total)
	out.Cardinality = len(counts)
	out.TopShare = topShare(counts, total)
	return out
}

// Profile returns statistics for every named field
func (c *Collector) Profile(names []string) map[string]chart.FieldStatistics {
	out := make(map[string]chart.FieldStatistics, len(names))
	for _, name := range names {
		out[name] = c.FieldStats(name)
	}
	return out
}

// CandidateStats measures a candidate's field plan under its chart type:
// x-axis cardinality after Top-N folding, top share, distinct points and
// heatmap cell density.
func (c *Collector) CandidateStats(cand chart.ChartCandidate) chart.FieldStatistics {
	out := chart.FieldStatistics{Total: c.sample.Len()}
	for _, f := range cand.FieldPlan.Fields() {
		if rate := c.FieldStats(f).MissingRate; rate > out.MissingRate {
			out.MissingRate = rate
		}
	}

	x, ok := XAxis(cand.ChartType, cand.FieldPlan)
	if !ok {
		return out
	}
	counts := c.axisCounts(x)
	out.Cardinality = foldedCardinality(len(counts), cand.FieldPlan.TopN)
	out.TopShare = topShare(counts, out.Total)
	out.PointCount = len(counts)

	if cand.ChartType == chart.ChartHeatmap {
		out.CellDensity = c.cellDensity(cand.FieldPlan)
	}
	return out
}

// PointCount returns the number of distinct time buckets of field at granularity g
func (c *Collector) PointCount(field string, g chart.Granularity) int {
	return len(c.axisCounts(Axis{Field: field, Granularity: granularityOrDay(g)}))
}

// DimensionTotal sums metric over notes that carry a value for dimension.
// With no metric it counts those notes instead.
func (c *Collector) DimensionTotal(dimension, metric string) float64 {
	var values stats.Float64Data
	for _, n := range c.sample.Notes() {
		if _, ok := n.Value(dimension); !ok {
			continue
		}
		if metric == "" {
			values = append(values, 1)
			continue
		}
		if v, ok := n.Value(metric); ok {
			if f, ok := note.AsFloat(v); ok {
				values = append(values, f)
			}
		}
	}
	sum, err := stats.Sum(values)
	if err != nil {
		return 0
	}
	return sum
}

// Summary is the descriptive statistics of one numeric field
type Summary struct {
	Count  int
	Sum    float64
	Mean   float64
	Median float64
	Min    float64
	Max    float64
}

// Summarize computes descriptive statistics for a numeric field.
// ok is false when the field has no numeric values in the sample.
func (c *Collector) Summarize(metric string) (Summary, bool) {
	var values stats.Float64Data
	for _, n := range c.sample.Notes() {
		if v, ok := n.Value(metric); ok {
			if f, ok := note.AsFloat(v); ok {
				values = append(values, f)
			}
		}
	}
	if len(values) == 0 {
		return Summary{}, false
	}

	s := Summary{Count: len(values)}
	s.Sum, _ = values.Sum()
	s.Mean, _ = values.Mean()
	s.Median, _ = values.Median()
	s.Min, _ = values.Min()
	s.Max, _ = values.Max()
	return s, true
}

func (c *Collector) axisCounts(a Axis) map[string]float64 {
	counts := make(map[string]float64)
	for _, n := range c.sample.Notes() {
		if key, ok := a.Key(n); ok {
			counts[key]++
		}
	}
	return counts
}

func (c *Collector) cellDensity(p chart.FieldPlan) float64 {
	x, y, ok := HeatmapAxes(p)
	if !ok {
		return 0
	}
	keepX := TopKeys(c.axisCounts(x), p.TopN)
	keepY := TopKeys(c.axisCounts(y), p.TopN)

	cells := make(map[[2]string]bool)
	xs := make(map[string]bool)
	ys := make(map[string]bool)
	for _, n := range c.sample.Notes() {
		kx, okX := x.Key(n)
		ky, okY := y.Key(n)
		if !okX || !okY {
			continue
		}
		kx, ky = Fold(kx, keepX), Fold(ky, keepY)
		xs[kx], ys[ky] = true, true
		cells[[2]string{kx, ky}] = true
	}
	grid := len(xs) * len(ys)
	if grid == 0 {
		return 0
	}
	return float64(len(cells)) / float64(grid)
}

func foldedCardinality(n, topN int) int {
	if topN > 0 && n > topN {
		return topN + 1
	}
	return n
}

func topShare(counts map[string]float64, total int) float64 {
	if total == 0 || len(counts) == 0 {
		return 0
	}
	values := make(stats.Float64Data, 0, len(counts))
	for _, v := range counts {
		values = append(values, v)
	}
	top, err := stats.Max(values)
	if err != nil {
		return 0
	}
	return top / float64(total)
}
