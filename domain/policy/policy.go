package policy

import (
	"fmt"
	"os"
	"strings"

	"notechart/domain/chart"
	"notechart/domain/core"

	"gopkg.in/yaml.v3"
)

// DefaultScene is the preference/question key used when no scene matches
const DefaultScene = "default"

// Gates holds the quality-gate thresholds
type Gates struct {
	PieTopN             int     `yaml:"pie_topn" json:"pie_topn"`
	PieSparseCategories int     `yaml:"pie_sparse_categories" json:"pie_sparse_categories"`
	PieMinTopShare      float64 `yaml:"pie_min_top_share" json:"pie_min_top_share"`
	LineMinPoints       int     `yaml:"line_min_points" json:"line_min_points"`
	HeatmapMinDensity   float64 `yaml:"heatmap_min_density" json:"heatmap_min_density"`
	HeatmapTopN         int     `yaml:"heatmap_topn" json:"heatmap_topn"`
	FieldMaxMissingRate float64 `yaml:"field_max_missing_rate" json:"field_max_missing_rate"`
	BarMaxCategories    int     `yaml:"bar_max_categories" json:"bar_max_categories"`
	BarTopN             int     `yaml:"bar_topn" json:"bar_topn"`
}

// DefaultGates returns the stock gate table
func DefaultGates() Gates {
	return Gates{
		PieTopN:             8,
		PieSparseCategories: 12,
		PieMinTopShare:      0.15,
		LineMinPoints:       5,
		HeatmapMinDensity:   0.1,
		HeatmapTopN:         10,
		FieldMaxMissingRate: 0.4,
		BarMaxCategories:    30,
		BarTopN:             10,
	}
}

// Inference holds thresholds for trusting inference output
type Inference struct {
	MinConfidence           float64 `yaml:"min_confidence" json:"min_confidence"`
	RerankMinRuleConfidence float64 `yaml:"rerank_min_rule_confidence" json:"rerank_min_rule_confidence"`
}

// SceneDefault is the canned core question for a notebook scene
type SceneDefault struct {
	Question    string            `yaml:"question" json:"question"`
	ChartType   chart.ChartType   `yaml:"chart_type" json:"chart_type,omitempty"`
	Aggregation chart.Aggregation `yaml:"aggregation" json:"aggregation,omitempty"`
}

// RolePreferences lists preferred field names per chart role
type RolePreferences struct {
	Time      []string `yaml:"time" json:"time,omitempty"`
	Dimension []string `yaml:"dimension" json:"dimension,omitempty"`
	Metric    []string `yaml:"metric" json:"metric,omitempty"`
}

// Policy is the per-deployment override document. Treat it as immutable once loaded.
type Policy struct {
	Version                    string                     `yaml:"version" json:"version"`
	DefaultCoreQuestionByScene map[string]SceneDefault    `yaml:"default_core_question_by_scene" json:"default_core_question_by_scene,omitempty"`
	FixedVocabularies          map[string][]string        `yaml:"fixed_vocabularies" json:"fixed_vocabularies,omitempty"`
	FieldNamePreferences       map[string]RolePreferences `yaml:"field_name_preferences" json:"field_name_preferences,omitempty"`
	SceneKeywords              map[string][]string        `yaml:"scene_keywords" json:"scene_keywords,omitempty"`
	Gates                      Gates                      `yaml:"gates" json:"gates"`
	Inference                  Inference                  `yaml:"inference" json:"inference"`
	SampleLimit                int                        `yaml:"sample_limit" json:"sample_limit"`
}

// Default returns a policy with stock thresholds and no overrides
func Default() *Policy {
	p := &Policy{}
	p.applyDefaults()
	p.Version = "default"
	return p
}

// Parse decodes a YAML policy document and fills in defaults
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	p.applyDefaults()
	if strings.TrimSpace(p.Version) == "" {
		p.Version = core.NewHash(data).String()[:12]
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses a policy file
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(data)
}

func (p *Policy) applyDefaults() {
	d := DefaultGates()
	g := &p.Gates
	if g.PieTopN <= 0 {
		g.PieTopN = d.PieTopN
	}
	if g.PieSparseCategories <= 0 {
		g.PieSparseCategories = d.PieSparseCategories
	}
	if g.PieMinTopShare <= 0 {
		g.PieMinTopShare = d.PieMinTopShare
	}
	if g.LineMinPoints <= 0 {
		g.LineMinPoints = d.LineMinPoints
	}
	if g.HeatmapMinDensity <= 0 {
		g.HeatmapMinDensity = d.HeatmapMinDensity
	}
	if g.HeatmapTopN <= 0 {
		g.HeatmapTopN = d.HeatmapTopN
	}
	if g.FieldMaxMissingRate <= 0 {
		g.FieldMaxMissingRate = d.FieldMaxMissingRate
	}
	if g.BarMaxCategories <= 0 {
		g.BarMaxCategories = d.BarMaxCategories
	}
	if g.BarTopN <= 0 {
		g.BarTopN = d.BarTopN
	}
	if p.Inference.MinConfidence <= 0 {
		p.Inference.MinConfidence = 0.5
	}
	if p.Inference.RerankMinRuleConfidence <= 0 {
		p.Inference.RerankMinRuleConfidence = 0.5
	}
	if p.SampleLimit <= 0 {
		p.SampleLimit = 500
	}
}

// Validate rejects documents the engine could not honor
func (p *Policy) Validate() error {
	if p.Gates.FieldMaxMissingRate > 1 {
		return core.NewPolicyViolation("policy", "field_max_missing_rate must be <= 1")
	}
	if p.Gates.HeatmapMinDensity > 1 {
		return core.NewPolicyViolation("policy", "heatmap_min_density must be <= 1")
	}
	if p.Inference.MinConfidence > 1 || p.Inference.RerankMinRuleConfidence > 1 {
		return core.NewPolicyViolation("policy", "confidence thresholds must be <= 1")
	}
	for scene, def := range p.DefaultCoreQuestionByScene {
		if def.ChartType != "" && !def.ChartType.Valid() {
			return core.NewPolicyViolation("policy", fmt.Sprintf("scene %q: chart_type %q not allowed", scene, def.ChartType))
		}
		if def.Aggregation != "" && !def.Aggregation.Valid() {
			return core.NewPolicyViolation("policy", fmt.Sprintf("scene %q: aggregation %q unknown", scene, def.Aggregation))
		}
	}
	return nil
}

// Vocabulary returns the fixed enumeration for a field, if one is configured
func (p *Policy) Vocabulary(field string) ([]string, bool) {
	if p == nil {
		return nil, false
	}
	if v, ok := p.FixedVocabularies[field]; ok {
		return v, true
	}
	for name, v := range p.FixedVocabularies {
		if strings.EqualFold(name, field) {
			return v, true
		}
	}
	return nil, false
}

// CanonicalValue matches value against the field's vocabulary case-insensitively.
// governed is false when the field has no vocabulary.
func (p *Policy) CanonicalValue(field, value string) (canonical string, governed bool, ok bool) {
	vocab, governed := p.Vocabulary(field)
	if !governed {
		return value, false, true
	}
	needle := strings.TrimSpace(value)
	for _, allowed := range vocab {
		if strings.EqualFold(allowed, needle) {
			return allowed, true, true
		}
	}
	return "", true, false
}

// Preferences returns the role preferences for a scene, falling back to the default scene
func (p *Policy) Preferences(scene string) RolePreferences {
	if p == nil {
		return RolePreferences{}
	}
	if prefs, ok := p.FieldNamePreferences[scene]; ok {
		return prefs
	}
	return p.FieldNamePreferences[DefaultScene]
}

// SceneDefault returns the canned question for a scene
func (p *Policy) SceneDefault(scene string) (SceneDefault, bool) {
	if p == nil {
		return SceneDefault{}, false
	}
	d, ok := p.DefaultCoreQuestionByScene[scene]
	return d, ok && strings.TrimSpace(d.Question) != ""
}
