package chart

import (
	"fmt"
	"strings"

	"notechart/domain/core"
)

// ChartType is one of the four renderable chart kinds
type ChartType string

const (
	ChartLine    ChartType = "line"
	ChartBar     ChartType = "bar"
	ChartPie     ChartType = "pie"
	ChartHeatmap ChartType = "heatmap"
)

// AllowedTypes lists every chart type the renderer understands, in a stable order
var AllowedTypes = []ChartType{ChartLine, ChartBar, ChartPie, ChartHeatmap}

// Valid reports whether t is one of the allowed chart types
func (t ChartType) Valid() bool {
	switch t {
	case ChartLine, ChartBar, ChartPie, ChartHeatmap:
		return true
	}
	return false
}

func (t ChartType) String() string { return string(t) }

// ParseChartType normalizes and validates a chart type name
func ParseChartType(s string) (ChartType, error) {
	t := ChartType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidChartType, s)
	}
	return t, nil
}

// FieldRole is the semantic role a field plays in a chart
type FieldRole string

const (
	RoleDimension FieldRole = "dimension"
	RoleMetric    FieldRole = "metric"
)

// DataType is the value type of a field
type DataType string

const (
	TypeDate     DataType = "date"
	TypeNumber   DataType = "number"
	TypeCategory DataType = "category"
	TypeText     DataType = "text"
)

// NormalizeDataType maps loose type names onto the four known types
func NormalizeDataType(s string) DataType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "date", "datetime", "time", "timestamp":
		return TypeDate
	case "number", "numeric", "int", "integer", "float", "decimal":
		return TypeNumber
	case "category", "categorical", "enum", "select", "tag":
		return TypeCategory
	default:
		return TypeText
	}
}

// FieldSource records where a field definition came from
type FieldSource string

const (
	SourceNotebook FieldSource = "notebook"
	SourceSystem   FieldSource = "system"
	SourceAI       FieldSource = "ai"
)

// FieldDefinition describes one field in the analysis universe
type FieldDefinition struct {
	Name          string      `json:"name"`
	Role          FieldRole   `json:"role"`
	DataType      DataType    `json:"data_type"`
	Source        FieldSource `json:"source"`
	Example       string      `json:"example,omitempty"`
	Override      bool        `json:"override,omitempty"`
	RangeOrValues []string    `json:"range_or_values,omitempty"`
}

// FieldStatistics summarizes a field, or a field plan under one chart type
type FieldStatistics struct {
	Total       int     `json:"total"`
	MissingRate float64 `json:"missing_rate"`
	Cardinality int     `json:"cardinality"`
	TopShare    float64 `json:"top_share"`
	PointCount  int     `json:"point_count,omitempty"`
	CellDensity float64 `json:"cell_density,omitempty"`
}

// Aggregation is how metric values collapse into one value per bucket
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggNone  Aggregation = "none"
)

// Valid reports whether a is a known aggregation
func (a Aggregation) Valid() bool {
	switch a {
	case AggCount, AggSum, AggAvg, AggNone:
		return true
	}
	return false
}

// Granularity is the time bucket width
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether g is a known granularity
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// Coarser returns the next coarser granularity. ok is false at month.
func (g Granularity) Coarser() (Granularity, bool) {
	switch g {
	case GranularityDay:
		return GranularityWeek, true
	case GranularityWeek:
		return GranularityMonth, true
	}
	return g, false
}

// FieldPlan assigns concrete fields to chart roles
type FieldPlan struct {
	TimeField       string      `json:"time_field,omitempty"`
	Dimension       string      `json:"dimension,omitempty"`
	Dimension2      string      `json:"dimension_2,omitempty"`
	Metric          string      `json:"metric,omitempty"`
	Aggregation     Aggregation `json:"aggregation"`
	TimeGranularity Granularity `json:"time_granularity,omitempty"`
	// TopN > 0 keeps the N largest x-axis buckets and folds the rest into "other".
	TopN int `json:"top_n,omitempty"`
}

// Fields returns the non-empty field names in the plan
func (p FieldPlan) Fields() []string {
	out := make([]string, 0, 4)
	for _, f := range []string{p.TimeField, p.Dimension, p.Dimension2, p.Metric} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Slot names one field position in a plan
type Slot string

const (
	SlotTime       Slot = "time_field"
	SlotDimension  Slot = "dimension"
	SlotDimension2 Slot = "dimension_2"
	SlotMetric     Slot = "metric"
)

// AllSlots lists plan slots in a stable order
var AllSlots = []Slot{SlotTime, SlotDimension, SlotDimension2, SlotMetric}

// Valid reports whether s is a known slot
func (s Slot) Valid() bool {
	switch s {
	case SlotTime, SlotDimension, SlotDimension2, SlotMetric:
		return true
	}
	return false
}

// Get returns the field assigned to a slot
func (p FieldPlan) Get(s Slot) string {
	switch s {
	case SlotTime:
		return p.TimeField
	case SlotDimension:
		return p.Dimension
	case SlotDimension2:
		return p.Dimension2
	case SlotMetric:
		return p.Metric
	}
	return ""
}

// Set assigns a field to a slot
func (p *FieldPlan) Set(s Slot, name string) {
	switch s {
	case SlotTime:
		p.TimeField = name
	case SlotDimension:
		p.Dimension = name
	case SlotDimension2:
		p.Dimension2 = name
	case SlotMetric:
		p.Metric = name
	}
}

// CandidateSource records who proposed a candidate
type CandidateSource string

const (
	FromInference CandidateSource = "inference"
	FromFallback  CandidateSource = "fallback"
	FromUser      CandidateSource = "user"
)

// ChartCandidate is a proposed chart before gating
type ChartCandidate struct {
	ChartType    ChartType       `json:"chart_type"`
	FieldPlan    FieldPlan       `json:"field_plan"`
	CoreQuestion string          `json:"core_question,omitempty"`
	Confidence   float64         `json:"confidence"`
	Source       CandidateSource `json:"source"`
}

// GateDecision records what the quality gate did to a candidate
type GateDecision struct {
	OriginalType ChartType `json:"original_type"`
	FinalType    ChartType `json:"final_type"`
	Downgraded   bool      `json:"downgraded"`
	Reason       string    `json:"reason"`
	Adjustments  []string  `json:"adjustments,omitempty"`
}

// Mode selects between automatic recommendation and user-driven configuration
type Mode string

const (
	ModeRecommend Mode = "recommend"
	ModeConfig    Mode = "config"
)

// ResolveMode picks config mode exactly when the user selected a chart type
func ResolveMode(selected ChartType) Mode {
	if selected == "" {
		return ModeRecommend
	}
	return ModeConfig
}
