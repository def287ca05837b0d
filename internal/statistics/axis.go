package statistics

import (
	"sort"
	"time"

	"notechart/domain/chart"
	"notechart/domain/note"
)

// OtherBucket is the label Top-N folding uses for the remainder
const OtherBucket = "other"

// TotalBucket labels the single bar of a count-only chart
const TotalBucket = "total"

// Axis is one chart axis: a categorical field, or a time field bucketed at a granularity
type Axis struct {
	Field       string
	Granularity chart.Granularity
}

// IsTime reports whether the axis buckets a time field
func (a Axis) IsTime() bool { return a.Granularity != "" }

// IsZero reports whether the axis has no field (the count-only "total" axis)
func (a Axis) IsZero() bool { return a.Field == "" }

// Key returns the bucket label of n on this axis
func (a Axis) Key(n note.Note) (string, bool) {
	if a.Field == "" {
		return TotalBucket, true
	}
	v, ok := n.Value(a.Field)
	if !ok {
		return "", false
	}
	if a.IsTime() {
		ts, ok := note.AsTime(v)
		if !ok {
			return "", false
		}
		return BucketKey(ts, a.Granularity), true
	}
	label := note.AsString(v)
	return label, label != ""
}

// BucketKey labels t by its day, Monday-start week, or month
func BucketKey(t time.Time, g chart.Granularity) string {
	t = t.UTC()
	switch g {
	case chart.GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7
		monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return monday.Format("2006-01-02")
	case chart.GranularityMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

func granularityOrDay(g chart.Granularity) chart.Granularity {
	if g.Valid() {
		return g
	}
	return chart.GranularityDay
}

// XAxis resolves the primary axis of a chart from its plan. ok is false when
// the chart type's required field is absent.
func XAxis(t chart.ChartType, p chart.FieldPlan) (Axis, bool) {
	switch t {
	case chart.ChartLine:
		if p.TimeField == "" {
			return Axis{}, false
		}
		return Axis{Field: p.TimeField, Granularity: granularityOrDay(p.TimeGranularity)}, true
	case chart.ChartPie:
		if p.Dimension == "" {
			return Axis{}, false
		}
		return Axis{Field: p.Dimension}, true
	case chart.ChartHeatmap:
		x, _, ok := HeatmapAxes(p)
		return x, ok
	default:
		if p.Dimension != "" {
			return Axis{Field: p.Dimension}, true
		}
		if p.TimeField != "" {
			return Axis{Field: p.TimeField, Granularity: granularityOrDay(p.TimeGranularity)}, true
		}
		// count-only bar
		return Axis{}, true
	}
}

// SeriesAxis returns the optional series split of a line chart
func SeriesAxis(t chart.ChartType, p chart.FieldPlan) (Axis, bool) {
	if t == chart.ChartLine && p.Dimension != "" {
		return Axis{Field: p.Dimension}, true
	}
	return Axis{}, false
}

// HeatmapAxes returns dimension x dimension_2, or time bucket x dimension when
// only one dimension is planned
func HeatmapAxes(p chart.FieldPlan) (Axis, Axis, bool) {
	switch {
	case p.Dimension != "" && p.Dimension2 != "":
		return Axis{Field: p.Dimension}, Axis{Field: p.Dimension2}, true
	case p.TimeField != "" && p.Dimension != "":
		return Axis{Field: p.TimeField, Granularity: granularityOrDay(p.TimeGranularity)}, Axis{Field: p.Dimension}, true
	}
	return Axis{}, Axis{}, false
}

// RankKeys orders keys by weight descending, then label ascending
func RankKeys(weights map[string]float64) []string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// TopKeys returns the set of the n heaviest keys. n <= 0 keeps everything.
func TopKeys(weights map[string]float64, n int) map[string]bool {
	keep := make(map[string]bool, len(weights))
	for i, k := range RankKeys(weights) {
		if n > 0 && i >= n {
			break
		}
		keep[k] = true
	}
	return keep
}

// Fold maps key onto itself when kept, otherwise onto the "other" bucket
func Fold(key string, keep map[string]bool) string {
	if keep == nil || keep[key] {
		return key
	}
	return OtherBucket
}
