package compiler

import (
	"encoding/json"
	"fmt"

	"notechart/domain/chart"
)

// Row is one data point of a compiled chart. Series is the line series or
// the heatmap y value.
type Row struct {
	X      string  `json:"x"`
	Series string  `json:"series,omitempty"`
	Value  float64 `json:"value"`
}

// ChartConfig is the final render-ready artifact. Only Compile builds one;
// the JSON codec exists for persistence.
type ChartConfig struct {
	chartType   chart.ChartType
	mapping     chart.FieldPlan
	aggregation chart.Aggregation
	rows        []Row
}

// ChartType returns the rendered chart type
func (c *ChartConfig) ChartType() chart.ChartType { return c.chartType }

// FieldMapping returns the fields behind each axis
func (c *ChartConfig) FieldMapping() chart.FieldPlan { return c.mapping }

// Aggregation returns how values were aggregated
func (c *ChartConfig) Aggregation() chart.Aggregation { return c.aggregation }

// Rows returns a copy of the data rows
func (c *ChartConfig) Rows() []Row {
	out := make([]Row, len(c.rows))
	copy(out, c.rows)
	return out
}

// Len returns the number of data rows
func (c *ChartConfig) Len() int { return len(c.rows) }

type wireConfig struct {
	ChartType    chart.ChartType   `json:"chart_type"`
	FieldMapping chart.FieldPlan   `json:"field_mapping"`
	Aggregation  chart.Aggregation `json:"aggregation"`
	DataRows     []Row             `json:"data_rows"`
}

// MarshalJSON implements json.Marshaler
func (c *ChartConfig) MarshalJSON() ([]byte, error) {
	rows := c.rows
	if rows == nil {
		rows = []Row{}
	}
	return json.Marshal(wireConfig{
		ChartType:    c.chartType,
		FieldMapping: c.mapping,
		Aggregation:  c.aggregation,
		DataRows:     rows,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Persisted configs must still
// carry one of the renderable chart types.
func (c *ChartConfig) UnmarshalJSON(data []byte) error {
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.ChartType.Valid() {
		return fmt.Errorf("chart config: unknown chart_type %q", w.ChartType)
	}
	if !w.Aggregation.Valid() {
		return fmt.Errorf("chart config: unknown aggregation %q", w.Aggregation)
	}
	*c = ChartConfig{
		chartType:   w.ChartType,
		mapping:     w.FieldMapping,
		aggregation: w.Aggregation,
		rows:        w.DataRows,
	}
	return nil
}
