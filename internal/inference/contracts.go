package inference

import (
	"notechart/domain/chart"
	"notechart/domain/stage"
	"notechart/internal/exemplar"
)

// MissingField is a field the inference service proposes to derive
type MissingField struct {
	Name          string          `json:"name"`
	DataType      chart.DataType  `json:"data_type"`
	Role          chart.FieldRole `json:"role,omitempty"`
	RangeOrValues []string        `json:"range_or_values,omitempty"`
	Override      bool            `json:"override,omitempty"`
}

// Definition converts the proposal into an ai-sourced field definition
func (m MissingField) Definition() chart.FieldDefinition {
	role := m.Role
	if role == "" {
		role = chart.RoleDimension
		if m.DataType == chart.TypeNumber {
			role = chart.RoleMetric
		}
	}
	return chart.FieldDefinition{
		Name:          m.Name,
		Role:          role,
		DataType:      chart.NormalizeDataType(string(m.DataType)),
		Source:        chart.SourceAI,
		Override:      m.Override,
		RangeOrValues: m.RangeOrValues,
	}
}

// Definitions converts a list of proposals
func Definitions(missing []MissingField) []chart.FieldDefinition {
	out := make([]chart.FieldDefinition, 0, len(missing))
	for _, m := range missing {
		out = append(out, m.Definition())
	}
	return out
}

// RecommendOutput is the recommend stage contract
type RecommendOutput struct {
	CoreQuestion  string          `json:"core_question"`
	ChartType     string          `json:"chart_type"`
	FieldPlan     chart.FieldPlan `json:"field_plan"`
	MissingFields []MissingField  `json:"missing_fields,omitempty"`
	Confidence    float64         `json:"confidence"`
}

// Candidate converts a validated output into a chart candidate
func (r RecommendOutput) Candidate() chart.ChartCandidate {
	return chart.ChartCandidate{
		ChartType:    chart.ChartType(r.ChartType),
		FieldPlan:    r.FieldPlan,
		CoreQuestion: r.CoreQuestion,
		Confidence:   r.Confidence,
		Source:       chart.FromInference,
	}
}

// RerankOutput is the rerank stage contract
type RerankOutput struct {
	SelectedFields map[chart.Slot]string `json:"selected_fields"`
	ChartType      string                `json:"chart_type,omitempty"`
	Why            string                `json:"why,omitempty"`
	Confidence     float64               `json:"confidence"`
}

// DeriveOutput is the derive_fields stage contract
type DeriveOutput struct {
	FieldValues map[string]map[string]any `json:"field_values"`
	Evidence    map[string]string         `json:"evidence,omitempty"`
}

// FieldSummary is what the service sees of one field
type FieldSummary struct {
	Name       string                `json:"name"`
	Role       chart.FieldRole       `json:"role"`
	DataType   chart.DataType        `json:"data_type"`
	Source     chart.FieldSource     `json:"source"`
	Example    string                `json:"example,omitempty"`
	Statistics chart.FieldStatistics `json:"statistics"`
}

// RecommendRequest is the payload of the recommend stage
type RecommendRequest struct {
	Stage             stage.StageName     `json:"stage"`
	NotebookName      string              `json:"notebook_name"`
	Scene             string              `json:"scene"`
	AllowedChartTypes []chart.ChartType   `json:"allowed_chart_types"`
	Fields            []FieldSummary      `json:"fields"`
	FixedVocabularies map[string][]string `json:"fixed_vocabularies,omitempty"`
	Exemplars         []exemplar.Exemplar `json:"exemplars,omitempty"`
}

// RerankRequest is the payload of the rerank stage
type RerankRequest struct {
	Stage      stage.StageName         `json:"stage"`
	ChartType  chart.ChartType         `json:"chart_type"`
	Question   string                  `json:"question,omitempty"`
	Plan       chart.FieldPlan         `json:"field_plan"`
	Candidates map[chart.Slot][]string `json:"candidates"`
	Fields     []FieldSummary          `json:"fields"`
	Exemplars  []exemplar.Exemplar     `json:"exemplars,omitempty"`
}

// NoteExcerpt is the textual view of one note sent for derivation
type NoteExcerpt struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

// DeriveRequest is the payload of the derive_fields stage
type DeriveRequest struct {
	Stage             stage.StageName     `json:"stage"`
	Fields            []MissingField      `json:"fields"`
	Notes             []NoteExcerpt       `json:"notes"`
	FixedVocabularies map[string][]string `json:"fixed_vocabularies,omitempty"`
	Exemplars         []exemplar.Exemplar `json:"exemplars,omitempty"`
}
