package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"notechart/domain/note"
)

// NotebookGeneratorConfig configures the synthetic notebook generator
type NotebookGeneratorConfig struct {
	NoteCount   int           `json:"note_count"`
	Projects    []string      `json:"projects"`
	Moods       []string      `json:"moods"`
	MissingRate float64       `json:"missing_rate"`
	StartDate   time.Time     `json:"start_date"`
	Interval    time.Duration `json:"interval"`
	Seed        int64         `json:"seed"`
}

// DefaultNotebookConfig returns a small daily journal spread over two months
func DefaultNotebookConfig() NotebookGeneratorConfig {
	return NotebookGeneratorConfig{
		NoteCount:   60,
		Projects:    []string{"alpha", "beta", "gamma"},
		Moods:       []string{"calm", "focused", "tired"},
		MissingRate: 0.05,
		StartDate:   time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		Interval:    24 * time.Hour,
		Seed:        42,
	}
}

// JournalTemplate is the template every generated notebook uses
func JournalTemplate() []note.TemplateField {
	return []note.TemplateField{
		{Name: "project", DataType: "category", Example: "alpha"},
		{Name: "mood", DataType: "category", Example: "calm"},
		{Name: "hours", DataType: "number", Example: "2.5"},
		{Name: "summary", DataType: "text", Example: "wrote the parser"},
	}
}

// NotebookGenerator produces deterministic notebooks for tests
type NotebookGenerator struct {
	config NotebookGeneratorConfig
	rng    *rand.Rand
}

// NewNotebookGenerator creates a generator seeded from config
func NewNotebookGenerator(config NotebookGeneratorConfig) *NotebookGenerator {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &NotebookGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate builds a snapshot for notebookID
func (g *NotebookGenerator) Generate(notebookID string) *note.Snapshot {
	notes := make([]note.Note, 0, g.config.NoteCount)
	for i := 0; i < g.config.NoteCount; i++ {
		created := g.config.StartDate.Add(time.Duration(i) * g.config.Interval)
		notes = append(notes, note.Note{
			ID:         fmt.Sprintf("note_%04d", i+1),
			NotebookID: notebookID,
			Title:      fmt.Sprintf("Entry %d", i+1),
			CreatedAt:  created,
			UpdatedAt:  created.Add(time.Hour),
			Source:     "manual",
			Author:     "tester",
			Values:     g.values(i),
		})
	}
	return &note.Snapshot{
		NotebookID: notebookID,
		Name:       "Work journal",
		Template:   JournalTemplate(),
		Notes:      notes,
	}
}

func (g *NotebookGenerator) values(i int) map[string]any {
	v := map[string]any{
		"summary": fmt.Sprintf("worked on item %d", i+1),
	}
	if len(g.config.Projects) > 0 && !g.missing() {
		v["project"] = g.config.Projects[g.rng.Intn(len(g.config.Projects))]
	}
	if len(g.config.Moods) > 0 && !g.missing() {
		v["mood"] = g.config.Moods[g.rng.Intn(len(g.config.Moods))]
	}
	if !g.missing() {
		// weekly rhythm plus noise, rounded to quarter hours
		hours := 4 + 2*math.Sin(float64(i)*2*math.Pi/7) + g.rng.NormFloat64()*0.5
		v["hours"] = math.Round(math.Max(hours, 0)*4) / 4
	}
	return v
}

func (g *NotebookGenerator) missing() bool {
	return g.rng.Float64() < g.config.MissingRate
}
