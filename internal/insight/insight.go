// Package insight derives short narrative findings from a compiled chart and
// the gate decision behind it.
package insight

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"notechart/domain/chart"
	"notechart/internal/compiler"
	"notechart/internal/statistics"
)

// Kind classifies an insight
type Kind string

const (
	KindLeader    Kind = "leading_share"
	KindOther     Kind = "other_share"
	KindTrend     Kind = "trend"
	KindAverage   Kind = "average"
	KindDowngrade Kind = "downgrade"
	KindMissing   Kind = "missing_fields"
)

// flatSlope is the relative slope per bucket under which a trend counts as flat
const flatSlope = 0.05

// minTrendPoints is the fewest buckets a trend is fitted on
const minTrendPoints = 3

// Insight is one rule-based finding
type Insight struct {
	Kind  Kind    `json:"kind"`
	Text  string  `json:"text"`
	Value float64 `json:"value,omitempty"`
}

// Summarizer provides descriptive statistics of a numeric field
type Summarizer interface {
	Summarize(metric string) (statistics.Summary, bool)
}

// Input is what insights are derived from
type Input struct {
	Config   *compiler.ChartConfig
	Decision chart.GateDecision
	Stats    Summarizer
	// Unfilled lists requested fields that could not be derived
	Unfilled []string
}

// Derive returns the insights that apply, in a stable order
func Derive(in Input) []Insight {
	var out []Insight
	if in.Config != nil {
		out = append(out, shares(in.Config)...)
		if t, ok := trend(in.Config); ok {
			out = append(out, t)
		}
		if a, ok := average(in.Config, in.Stats); ok {
			out = append(out, a)
		}
	}
	if in.Decision.Downgraded {
		out = append(out, downgrade(in.Decision))
	}
	if len(in.Unfilled) > 0 {
		out = append(out, Insight{
			Kind:  KindMissing,
			Text:  fmt.Sprintf("Could not derive %s; the chart uses the available fields only.", strings.Join(in.Unfilled, ", ")),
			Value: float64(len(in.Unfilled)),
		})
	}
	return out
}

func valueLabel(cfg *compiler.ChartConfig) string {
	m := cfg.FieldMapping()
	if m.Metric == "" {
		return "notes"
	}
	return m.Metric
}

// shares covers bar and pie charts whose values add up
func shares(cfg *compiler.ChartConfig) []Insight {
	switch cfg.ChartType() {
	case chart.ChartBar, chart.ChartPie:
	default:
		return nil
	}
	if agg := cfg.Aggregation(); agg != chart.AggCount && agg != chart.AggSum {
		return nil
	}

	rows := cfg.Rows()
	total := 0.0
	for _, r := range rows {
		total += r.Value
	}
	if total <= 0 || len(rows) < 2 {
		return nil
	}

	var out []Insight
	for _, r := range rows {
		if r.X == statistics.OtherBucket {
			continue
		}
		share := r.Value / total
		out = append(out, Insight{
			Kind:  KindLeader,
			Text:  fmt.Sprintf("%s leads with %s of %s.", r.X, percent(share), valueLabel(cfg)),
			Value: round(share),
		})
		break
	}
	for _, r := range rows {
		if r.X != statistics.OtherBucket {
			continue
		}
		share := r.Value / total
		out = append(out, Insight{
			Kind:  KindOther,
			Text:  fmt.Sprintf("Smaller groups folded into %q hold %s.", statistics.OtherBucket, percent(share)),
			Value: round(share),
		})
	}
	return out
}

// trend fits a line through the per-bucket totals of a line chart
func trend(cfg *compiler.ChartConfig) (Insight, bool) {
	if cfg.ChartType() != chart.ChartLine {
		return Insight{}, false
	}

	var order []string
	totals := make(map[string]float64)
	for _, r := range cfg.Rows() {
		if _, ok := totals[r.X]; !ok {
			order = append(order, r.X)
		}
		totals[r.X] += r.Value
	}
	if len(order) < minTrendPoints {
		return Insight{}, false
	}

	xs := make([]float64, len(order))
	ys := make(stats.Float64Data, len(order))
	for i, k := range order {
		xs[i], ys[i] = float64(i), totals[k]
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	mean, _ := ys.Mean()

	unit := cfg.FieldMapping().TimeGranularity
	if unit == "" {
		unit = chart.GranularityDay
	}
	direction := "flat"
	if mean != 0 && math.Abs(beta/mean) >= flatSlope {
		direction = "rising"
		if beta < 0 {
			direction = "falling"
		}
	}
	text := fmt.Sprintf("%s per %s is %s (%+.2f per %s over %d points).", capitalize(valueLabel(cfg)), unit, direction, beta, unit, len(order))
	return Insight{Kind: KindTrend, Text: text, Value: round(beta)}, true
}

func average(cfg *compiler.ChartConfig, s Summarizer) (Insight, bool) {
	metric := cfg.FieldMapping().Metric
	if metric == "" || s == nil {
		return Insight{}, false
	}
	sum, ok := s.Summarize(metric)
	if !ok {
		return Insight{}, false
	}
	return Insight{
		Kind:  KindAverage,
		Text:  fmt.Sprintf("Average %s is %.2f (median %.2f) across %d notes.", metric, sum.Mean, sum.Median, sum.Count),
		Value: round(sum.Mean),
	}, true
}

func downgrade(d chart.GateDecision) Insight {
	if d.FinalType != d.OriginalType {
		return Insight{
			Kind: KindDowngrade,
			Text: fmt.Sprintf("Shown as %s instead of %s: %s.", d.FinalType, d.OriginalType, d.Reason),
		}
	}
	return Insight{Kind: KindDowngrade, Text: fmt.Sprintf("Adjusted for readability: %s.", d.Reason)}
}

func percent(share float64) string {
	return fmt.Sprintf("%.0f%%", share*100)
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
