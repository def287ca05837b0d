// Package gate applies the statistical quality rules that decide whether a
// proposed chart is readable, and downgrades or trims it when it is not.
//
// Evaluate is a pure function of its inputs. Applying it to its own output
// changes nothing.
package gate

import (
	"fmt"
	"strings"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/internal/statistics"
)

// ReasonOK is the decision reason when no rule fired
const ReasonOK = "ok"

// ReasonTypeLocked is appended when a type change was suppressed in config mode
const ReasonTypeLocked = "type locked by user selection"

// Evidence is the read-only statistics the gate decides on
type Evidence interface {
	FieldStats(name string) chart.FieldStatistics
	CandidateStats(c chart.ChartCandidate) chart.FieldStatistics
	PointCount(field string, g chart.Granularity) int
	DimensionTotal(dimension, metric string) float64
}

// Eligible reports whether a field's missing rate is within the gate threshold
func Eligible(st chart.FieldStatistics, gates policy.Gates) bool {
	return st.MissingRate <= gates.FieldMaxMissingRate
}

type evaluation struct {
	ev      Evidence
	gates   policy.Gates
	frozen  bool
	cand    chart.ChartCandidate
	reasons []string
	adjust  []string
}

// Evaluate checks cand against the gate table and returns the possibly
// adjusted candidate with the decision. When frozen is set the chart type is
// never changed; the closest non-type remedy is applied instead.
func Evaluate(cand chart.ChartCandidate, ev Evidence, gates policy.Gates, frozen bool) (chart.ChartCandidate, chart.GateDecision) {
	e := &evaluation{ev: ev, gates: gates, frozen: frozen, cand: cand}

	e.excludeFields()
	e.checkStructure()

	before := e.cand.ChartType
	e.applyRule()
	if e.cand.ChartType != before {
		// the replacement type gets exactly one evaluation
		e.applyRule()
	}

	decision := chart.GateDecision{
		OriginalType: cand.ChartType,
		FinalType:    e.cand.ChartType,
		Downgraded:   e.cand.ChartType != cand.ChartType || len(e.adjust) > 0,
		Reason:       ReasonOK,
		Adjustments:  e.adjust,
	}
	if len(e.reasons) > 0 {
		decision.Reason = strings.Join(e.reasons, "; ")
	}
	return e.cand, decision
}

func (e *evaluation) plan() *chart.FieldPlan { return &e.cand.FieldPlan }

func (e *evaluation) record(reason, adjustment string) {
	if reason != "" {
		e.reasons = append(e.reasons, reason)
	}
	if adjustment != "" {
		e.adjust = append(e.adjust, adjustment)
	}
}

func (e *evaluation) switchType(to chart.ChartType, reason string) {
	from := e.cand.ChartType
	e.cand.ChartType = to
	e.record(reason, fmt.Sprintf("chart_type %s -> %s", from, to))
}

func (e *evaluation) setTopN(n int) bool {
	p := e.plan()
	if n <= 0 || (p.TopN > 0 && p.TopN <= n) {
		return false
	}
	p.TopN = n
	e.record("", fmt.Sprintf("top_n=%d with %s bucket", n, statistics.OtherBucket))
	return true
}

// infeasible marks a reason that forced a statistical downgrade
func infeasible(reason string) string {
	return fmt.Sprintf("%v: %s", core.ErrStatisticalInfeasibility, reason)
}

func (e *evaluation) locked(reason string) string {
	return reason + " (" + ReasonTypeLocked + ")"
}

// excludeFields drops plan fields whose missing rate is over the threshold
func (e *evaluation) excludeFields() {
	p := e.plan()
	drop := func(name string) bool {
		if name == "" {
			return false
		}
		st := e.ev.FieldStats(name)
		if Eligible(st, e.gates) {
			return false
		}
		e.record(
			fmt.Sprintf("field %s excluded: missing_rate %.2f > %.2f", name, st.MissingRate, e.gates.FieldMaxMissingRate),
			"excluded "+name,
		)
		return true
	}

	if drop(p.TimeField) {
		p.TimeField = ""
		p.TimeGranularity = ""
	}
	if drop(p.Dimension2) {
		p.Dimension2 = ""
	}
	if drop(p.Dimension) {
		p.Dimension, p.Dimension2 = p.Dimension2, ""
	}
	if drop(p.Metric) {
		p.Metric = ""
	}
}

// checkStructure makes sure the chart type has the axes it needs
func (e *evaluation) checkStructure() {
	p := e.plan()
	if p.Metric == "" && (p.Aggregation == chart.AggSum || p.Aggregation == chart.AggAvg || p.Aggregation == chart.AggNone) {
		p.Aggregation = chart.AggCount
		e.record("", "aggregation count")
	}
	if !p.Aggregation.Valid() {
		p.Aggregation = chart.AggCount
	}

	switch e.cand.ChartType {
	case chart.ChartLine:
		if p.TimeField != "" {
			return
		}
		if e.frozen {
			p.TimeField = note.FieldCreatedAt
			e.record(e.locked("line needs a time field, using "+note.FieldCreatedAt), "time_field "+note.FieldCreatedAt)
			return
		}
		e.switchType(chart.ChartBar, "line needs a time field")
	case chart.ChartPie:
		if p.Dimension != "" {
			return
		}
		if e.frozen {
			e.record(e.locked("pie has no dimension, showing a single total"), "")
			return
		}
		e.switchType(chart.ChartBar, "pie needs a dimension")
	case chart.ChartHeatmap:
		if _, _, ok := statistics.HeatmapAxes(*p); ok {
			return
		}
		if e.frozen && p.Dimension != "" {
			p.TimeField = note.FieldCreatedAt
			e.record(e.locked("heatmap needs two axes, using "+note.FieldCreatedAt), "time_field "+note.FieldCreatedAt)
			return
		}
		if e.frozen {
			e.record(e.locked("heatmap has no dimension, showing a single total"), "")
			return
		}
		e.switchType(chart.ChartBar, "heatmap needs two axes")
	}

	if e.cand.ChartType == chart.ChartBar && p.Dimension == "" && p.TimeField == "" {
		e.record(fmt.Sprintf("%v: no usable dimension, showing a single total", core.ErrDataInfeasibility), "")
	}
}

func (e *evaluation) applyRule() {
	switch e.cand.ChartType {
	case chart.ChartPie:
		e.pieRule()
	case chart.ChartLine:
		e.lineRule()
	case chart.ChartHeatmap:
		e.heatmapRule()
	case chart.ChartBar:
		e.barRule()
	}
}

func (e *evaluation) pieRule() {
	if e.plan().Dimension == "" {
		return
	}
	st := e.ev.CandidateStats(e.cand)

	var reason string
	switch {
	case st.Cardinality > e.gates.PieSparseCategories && st.TopShare < e.gates.PieMinTopShare:
		reason = fmt.Sprintf("pie too sparse: %d categories, top_share %.2f < %.2f", st.Cardinality, st.TopShare, e.gates.PieMinTopShare)
	case st.Cardinality > e.gates.PieTopN:
		reason = fmt.Sprintf("pie has %d categories > %d", st.Cardinality, e.gates.PieTopN)
	default:
		return
	}

	if e.frozen {
		if e.setTopN(e.gates.PieTopN) {
			e.record(e.locked(reason), "")
		}
		return
	}
	e.switchType(chart.ChartBar, infeasible(reason))
	e.setTopN(e.gates.PieTopN)
}

func (e *evaluation) lineRule() {
	p := e.plan()
	if p.TimeField == "" {
		return
	}
	gran := p.TimeGranularity
	if !gran.Valid() {
		gran = chart.GranularityDay
	}
	points := e.ev.PointCount(p.TimeField, gran)
	if points >= e.gates.LineMinPoints {
		return
	}
	reason := fmt.Sprintf("line has %d points < %d at %s", points, e.gates.LineMinPoints, gran)

	if e.frozen {
		// keep coarsening so a second pass has nothing left to do
		changed := false
		for points < e.gates.LineMinPoints {
			next, ok := gran.Coarser()
			if !ok {
				break
			}
			gran, changed = next, true
			points = e.ev.PointCount(p.TimeField, gran)
		}
		if changed {
			p.TimeGranularity = gran
			e.record(e.locked(reason), "time_granularity "+string(gran))
			return
		}
		e.record(e.locked(reason), "")
		return
	}

	if next, ok := gran.Coarser(); ok {
		p.TimeGranularity = next
		e.record("", "time_granularity "+string(next))
		points = e.ev.PointCount(p.TimeField, next)
		if points >= e.gates.LineMinPoints {
			e.record(reason, "")
			return
		}
		reason = fmt.Sprintf("%s, still %d at %s", reason, points, next)
	}
	e.switchType(chart.ChartBar, infeasible(reason))
}

func (e *evaluation) heatmapRule() {
	if _, _, ok := statistics.HeatmapAxes(*e.plan()); !ok {
		return
	}
	st := e.ev.CandidateStats(e.cand)
	if st.CellDensity >= e.gates.HeatmapMinDensity {
		return
	}
	reason := fmt.Sprintf("heatmap cell_density %.2f < %.2f", st.CellDensity, e.gates.HeatmapMinDensity)

	if e.frozen {
		if e.setTopN(e.gates.HeatmapTopN) {
			e.record(e.locked(reason), "")
		}
		return
	}

	p := e.plan()
	dim := p.Dimension
	if p.Dimension2 != "" && e.ev.DimensionTotal(p.Dimension2, p.Metric) > e.ev.DimensionTotal(p.Dimension, p.Metric) {
		dim = p.Dimension2
	}
	p.Dimension, p.Dimension2 = dim, ""
	p.TimeField, p.TimeGranularity = "", ""
	e.switchType(chart.ChartBar, infeasible(reason+", bar on "+dim))
	e.setTopN(e.gates.HeatmapTopN)
}

func (e *evaluation) barRule() {
	st := e.ev.CandidateStats(e.cand)
	if st.Cardinality <= e.gates.BarMaxCategories {
		return
	}
	if e.setTopN(e.gates.BarTopN) {
		e.record(fmt.Sprintf("bar has %d categories > %d", st.Cardinality, e.gates.BarMaxCategories), "")
	}
}
