// Package exemplar holds the versioned few-shot examples injected into
// inference prompts and picks the most similar ones for a request.
// Exemplars are advisory prompt material only.
package exemplar

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"notechart/domain/chart"
	"notechart/domain/stage"

	"gopkg.in/yaml.v3"
)

//go:embed data
var embedded embed.FS

// MaxPerStage caps how many exemplars one prompt carries
const MaxPerStage = 3

// Similarity weights
const (
	weightChartType = 2.0
	weightScene     = 1.5
	weightTags      = 3.0
)

// Exemplar is one worked input/output pair for a stage
type Exemplar struct {
	ID        string          `yaml:"id" json:"id"`
	Stage     stage.StageName `yaml:"stage" json:"stage"`
	ChartType chart.ChartType `yaml:"chart_type" json:"chart_type"`
	Scene     string          `yaml:"scene" json:"scene"`
	Tags      []string        `yaml:"tags" json:"tags"`
	Input     string          `yaml:"input" json:"input"`
	Output    string          `yaml:"output" json:"output"`
}

// Set is an immutable, versioned exemplar collection
type Set struct {
	Version   string     `yaml:"version" json:"version"`
	Exemplars []Exemplar `yaml:"exemplars" json:"exemplars"`
}

// Load reads the exemplar set baked into the binary
func Load() (*Set, error) {
	merged := &Set{}
	err := fs.WalkDir(embedded, "data", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded exemplars %s: %w", path, err)
		}
		set, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if merged.Version == "" {
			merged.Version = set.Version
		}
		merged.Exemplars = append(merged.Exemplars, set.Exemplars...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, merged.validate()
}

// MustLoad is Load for package initialisation; the embedded data is fixed at build time
func MustLoad() *Set {
	set, err := Load()
	if err != nil {
		panic(err)
	}
	return set
}

// Parse decodes one exemplar document
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse exemplars: %w", err)
	}
	for i := range set.Exemplars {
		e := &set.Exemplars[i]
		for j, tag := range e.Tags {
			e.Tags[j] = strings.ToLower(strings.TrimSpace(tag))
		}
		if e.Scene == "" {
			e.Scene = "default"
		}
	}
	return &set, set.validate()
}

func (s *Set) validate() error {
	if s.Version == "" {
		return fmt.Errorf("exemplar set has no version")
	}
	seen := make(map[string]bool, len(s.Exemplars))
	for _, e := range s.Exemplars {
		if e.ID == "" {
			return fmt.Errorf("exemplar without id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate exemplar id %q", e.ID)
		}
		seen[e.ID] = true
		if !e.Stage.Valid() {
			return fmt.Errorf("exemplar %s: unknown stage %q", e.ID, e.Stage)
		}
		if e.ChartType != "" && !e.ChartType.Valid() {
			return fmt.Errorf("exemplar %s: unknown chart type %q", e.ID, e.ChartType)
		}
	}
	return nil
}

// Profile describes a request for similarity matching
type Profile struct {
	ChartType chart.ChartType
	Scene     string
	Tags      map[string]bool
}

// ProfileOf builds a profile from the field universe: data-type presence
// flags plus lower-cased field-name tokens
func ProfileOf(fields []chart.FieldDefinition, t chart.ChartType, scene string) Profile {
	p := Profile{ChartType: t, Scene: scene, Tags: make(map[string]bool)}
	for _, f := range fields {
		p.Tags["has:"+string(f.DataType)] = true
		for _, tok := range Tokenize(f.Name) {
			p.Tags[tok] = true
		}
	}
	return p
}

// Tokenize splits a field name on anything that is not a letter or digit
func Tokenize(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score is the weighted tag-overlap similarity of e to p
func Score(e Exemplar, p Profile) float64 {
	score := 0.0
	if p.ChartType != "" && e.ChartType == p.ChartType {
		score += weightChartType
	}
	if p.Scene != "" && e.Scene == p.Scene {
		score += weightScene
	}
	return score + weightTags*jaccard(e.Tags, p.Tags)
}

func jaccard(tags []string, other map[string]bool) float64 {
	union := make(map[string]bool, len(tags)+len(other))
	inter := 0
	for k := range other {
		union[k] = true
	}
	for _, t := range tags {
		if union[t] && other[t] {
			inter++
		}
		union[t] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

// Select returns up to k exemplars for st, most similar first, ties broken by id
func (s *Set) Select(st stage.StageName, p Profile, k int) []Exemplar {
	if k <= 0 || k > MaxPerStage {
		k = MaxPerStage
	}
	type scored struct {
		ex    Exemplar
		score float64
	}
	var pool []scored
	for _, e := range s.Exemplars {
		if e.Stage == st {
			pool = append(pool, scored{e, Score(e, p)})
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].ex.ID < pool[j].ex.ID
	})
	if len(pool) > k {
		pool = pool[:k]
	}
	out := make([]Exemplar, len(pool))
	for i, sc := range pool {
		out[i] = sc.ex
	}
	return out
}

// Len returns the number of exemplars in the set
func (s *Set) Len() int { return len(s.Exemplars) }
