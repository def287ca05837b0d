package fields

import (
	"testing"

	"notechart/domain/chart"
	"notechart/domain/note"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMergesSources(t *testing.T) {
	template := []note.TemplateField{
		{Name: "mood", DataType: "select"},
		{Name: "hours", DataType: "number"},
		{Name: "source", DataType: "text"},
		{Name: " "},
	}

	u := Build(FromTemplate(template), SystemFields(), nil)

	mood, ok := u.Get("mood")
	require.True(t, ok)
	assert.Equal(t, chart.TypeCategory, mood.DataType)
	assert.Equal(t, chart.RoleDimension, mood.Role)

	hours, _ := u.Get("hours")
	assert.Equal(t, chart.RoleMetric, hours.Role)

	// system definition is the last writer for "source"
	src, _ := u.Get("source")
	assert.Equal(t, chart.SourceSystem, src.Source)
	assert.Equal(t, chart.TypeCategory, src.DataType)

	assert.Equal(t, 6, u.Len())
	assert.Equal(t, "mood", u.Fields()[0].Name)
}

func TestAIFieldsShadowOnlyWithOverride(t *testing.T) {
	template := FromTemplate([]note.TemplateField{{Name: "topic", DataType: "text"}})
	missing := []chart.FieldDefinition{
		{Name: "topic", DataType: "category", RangeOrValues: []string{"work", "home"}},
		{Name: "author", DataType: "category", Override: true},
		{Name: "sentiment", DataType: "category"},
	}

	u := Build(template, SystemFields(), missing)

	topic, _ := u.Get("topic")
	assert.Equal(t, chart.SourceNotebook, topic.Source, "non-override ai field must not shadow")

	author, _ := u.Get("author")
	assert.Equal(t, chart.SourceAI, author.Source)

	sentiment, ok := u.Get("sentiment")
	require.True(t, ok)
	assert.Equal(t, chart.SourceAI, sentiment.Source)
	assert.Len(t, u.FromSource(chart.SourceAI), 2)
}

func TestOfType(t *testing.T) {
	u := BuildFromSnapshot(&note.Snapshot{Template: []note.TemplateField{{Name: "due", DataType: "date"}}}, nil)
	dates := u.OfType(chart.TypeDate)

	names := make([]string, 0, len(dates))
	for _, f := range dates {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"due", "created_at", "updated_at"}, names)
}
