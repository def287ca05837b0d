package inference

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/domain/stage"
	"notechart/internal/fields"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ForbiddenKey may never appear in inference output: the service proposes,
// code compiles.
const ForbiddenKey = "chart_config"

// Validator checks raw stage output against its contract
type Validator struct {
	schemas map[stage.StageName]*jsonschema.Schema
}

// NewValidator compiles the embedded contract schemas
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[stage.StageName]*jsonschema.Schema, len(stage.AllStages))}
	for _, st := range stage.AllStages {
		data, err := schemaFS.ReadFile("schemas/" + string(st) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", st, err)
		}
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", st, err)
		}
		v.schemas[st] = schema
	}
	return v, nil
}

// decode runs the checks every stage shares: the forbidden-key probe, the
// JSON schema, then a strict decode into out
func (v *Validator) decode(st stage.StageName, raw []byte, out any) error {
	if !gjson.ValidBytes(raw) {
		return core.NewSchemaViolation(string(st), "output is not valid JSON")
	}
	if gjson.GetBytes(raw, ForbiddenKey).Exists() {
		return core.NewPolicyViolation(string(st), "output must not contain "+ForbiddenKey)
	}

	result := v.schemas[st].ValidateJSON(raw)
	if !result.IsValid() {
		return core.NewSchemaViolation(string(st), fmt.Sprintf("%v", result.Errors))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return core.NewSchemaViolation(string(st), err.Error())
	}
	return nil
}

func lowConfidence(st stage.StageName, got, threshold float64) error {
	return fmt.Errorf("%w: %s: confidence %.2f < %.2f", core.ErrLowConfidence, st, got, threshold)
}

// ValidateRecommend accepts a recommend output only if it names an allowed
// chart type, references known or declared fields, stays inside fixed
// vocabularies and is confident enough
func (v *Validator) ValidateRecommend(raw []byte, universe *fields.Universe, pol *policy.Policy) (*RecommendOutput, error) {
	const st = stage.StageRecommend
	var out RecommendOutput
	if err := v.decode(st, raw, &out); err != nil {
		return nil, err
	}

	t, err := chart.ParseChartType(out.ChartType)
	if err != nil {
		return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("chart_type %q not allowed", out.ChartType))
	}
	out.ChartType = string(t)

	declared := make(map[string]MissingField, len(out.MissingFields))
	for _, m := range out.MissingFields {
		declared[m.Name] = m
	}
	for _, slot := range chart.AllSlots {
		name := out.FieldPlan.Get(slot)
		if name == "" {
			continue
		}
		dt, ok := planFieldType(name, universe, declared)
		if !ok {
			return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("field_plan references unknown field %q", name))
		}
		if !slotAccepts(slot, dt) {
			return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("%s %q has type %s", slot, name, dt))
		}
	}

	for i := range out.MissingFields {
		m := &out.MissingFields[i]
		if m.DataType != chart.TypeCategory {
			continue
		}
		for j, value := range m.RangeOrValues {
			canonical, governed, ok := pol.CanonicalValue(m.Name, value)
			if governed && !ok {
				return nil, core.NewPolicyViolation(string(st),
					fmt.Sprintf("missing field %q value %q is outside the fixed vocabulary", m.Name, value))
			}
			m.RangeOrValues[j] = canonical
		}
	}

	if out.Confidence < pol.Inference.MinConfidence {
		return nil, lowConfidence(st, out.Confidence, pol.Inference.MinConfidence)
	}
	return &out, nil
}

// planFieldType resolves the type a plan field will have once the universe
// is merged: a declared field only replaces a known one when it overrides it
func planFieldType(name string, universe *fields.Universe, declared map[string]MissingField) (chart.DataType, bool) {
	m, isDeclared := declared[name]
	if def, ok := universe.Get(name); ok && !(isDeclared && m.Override) {
		return def.DataType, true
	}
	if isDeclared {
		return chart.NormalizeDataType(string(m.DataType)), true
	}
	return "", false
}

func slotAccepts(slot chart.Slot, dt chart.DataType) bool {
	switch slot {
	case chart.SlotTime:
		return dt == chart.TypeDate
	case chart.SlotMetric:
		return dt == chart.TypeNumber
	default:
		return dt == chart.TypeCategory || dt == chart.TypeDate
	}
}

// ValidateRerank accepts a rerank output only if every selected field was
// offered for its slot, the chart type, if echoed, is the frozen one and no
// field ends up in two slots of the plan
func (v *Validator) ValidateRerank(raw []byte, req RerankRequest, pol *policy.Policy) (*RerankOutput, error) {
	const st = stage.StageRerank
	var out RerankOutput
	if err := v.decode(st, raw, &out); err != nil {
		return nil, err
	}

	if out.ChartType != "" {
		t, err := chart.ParseChartType(out.ChartType)
		if err != nil || t != req.ChartType {
			return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("chart_type %q differs from locked %q", out.ChartType, req.ChartType))
		}
	}

	plan := req.Plan
	for slot, name := range out.SelectedFields {
		if !contains(req.Candidates[slot], name) {
			return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("%s %q was not offered", slot, name))
		}
		plan.Set(slot, name)
	}
	filled := make(map[string]chart.Slot)
	for _, slot := range chart.AllSlots {
		name := plan.Get(slot)
		if name == "" {
			continue
		}
		if other, dup := filled[name]; dup {
			return nil, core.NewPolicyViolation(string(st), fmt.Sprintf("%q would fill both %s and %s", name, other, slot))
		}
		filled[name] = slot
	}

	if out.Confidence < pol.Inference.MinConfidence {
		return nil, lowConfidence(st, out.Confidence, pol.Inference.MinConfidence)
	}
	return &out, nil
}

// DeriveResult holds the derived values that survived validation
type DeriveResult struct {
	Values   map[string]map[string]any // note id -> field -> value
	Evidence map[string]string
	Accepted int
	Rejected int
	Reasons  map[string]int
}

// ValidateDerive checks every derived value on its own. Bad values are
// dropped and counted; only an unreadable document fails the stage.
func (v *Validator) ValidateDerive(raw []byte, req DeriveRequest, pol *policy.Policy) (*DeriveResult, error) {
	const st = stage.StageDeriveFields
	var out DeriveOutput
	if err := v.decode(st, raw, &out); err != nil {
		return nil, err
	}

	requested := make(map[string]MissingField, len(req.Fields))
	for _, f := range req.Fields {
		requested[f.Name] = f
	}
	known := make(map[string]bool, len(req.Notes))
	for _, n := range req.Notes {
		known[n.ID] = true
	}

	res := &DeriveResult{
		Values:   make(map[string]map[string]any),
		Evidence: out.Evidence,
		Reasons:  make(map[string]int),
	}
	reject := func(reason string) {
		res.Rejected++
		res.Reasons[reason]++
	}

	for _, name := range sortedKeys(out.FieldValues) {
		values := out.FieldValues[name]
		field, ok := requested[name]
		if !ok {
			for range values {
				reject("unknown_field")
			}
			continue
		}
		for _, noteID := range sortedKeys(values) {
			if !known[noteID] {
				reject("unknown_note")
				continue
			}
			value, reason := coerceDerived(field, values[noteID], pol)
			if reason != "" {
				reject(reason)
				continue
			}
			if res.Values[noteID] == nil {
				res.Values[noteID] = make(map[string]any)
			}
			res.Values[noteID][name] = value
			res.Accepted++
		}
	}
	return res, nil
}

// coerceDerived converts one derived value to the field's type. A non-empty
// reason means the value was rejected.
func coerceDerived(field MissingField, raw any, pol *policy.Policy) (any, string) {
	switch raw.(type) {
	case string, float64, bool:
	case nil:
		return nil, "empty_value"
	default:
		return nil, "non_scalar"
	}

	switch chart.NormalizeDataType(string(field.DataType)) {
	case chart.TypeNumber:
		if f, ok := note.AsFloat(raw); ok {
			return f, ""
		}
		return nil, "not_a_number"
	case chart.TypeDate:
		if ts, ok := note.AsTime(raw); ok {
			return ts.UTC().Format(time.RFC3339), ""
		}
		return nil, "not_a_date"
	case chart.TypeCategory:
		label := note.AsString(raw)
		if label == "" {
			return nil, "empty_value"
		}
		canonical, governed, ok := pol.CanonicalValue(field.Name, label)
		if governed {
			if !ok {
				return nil, "outside_vocabulary"
			}
			return canonical, ""
		}
		if len(field.RangeOrValues) > 0 {
			for _, allowed := range field.RangeOrValues {
				if strings.EqualFold(allowed, label) {
					return allowed, ""
				}
			}
			return nil, "outside_declared_values"
		}
		return label, ""
	default:
		label := note.AsString(raw)
		if label == "" {
			return nil, "empty_value"
		}
		return label, ""
	}
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
