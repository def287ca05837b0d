package exemplar

import (
	"testing"

	"notechart/domain/chart"
	"notechart/domain/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedSet(t *testing.T) {
	set, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, set.Version)
	assert.GreaterOrEqual(t, set.Len(), 6)
	for _, st := range stage.AllStages {
		assert.NotEmpty(t, set.Select(st, Profile{}, 1), "no exemplar for %s", st)
	}
}

func TestSelectPrefersSimilarExemplars(t *testing.T) {
	set := MustLoad()
	fields := []chart.FieldDefinition{
		{Name: "created_at", DataType: chart.TypeDate},
		{Name: "project", DataType: chart.TypeCategory},
		{Name: "hours", DataType: chart.TypeNumber},
	}
	p := ProfileOf(fields, chart.ChartLine, "work")

	picked := set.Select(stage.StageRecommend, p, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, "recommend-hours-trend", picked[0].ID)
	for _, e := range picked {
		assert.Equal(t, stage.StageRecommend, e.Stage)
	}
}

func TestSelectIsDeterministicAndCapped(t *testing.T) {
	set := MustLoad()
	a := set.Select(stage.StageRecommend, Profile{}, 10)
	b := set.Select(stage.StageRecommend, Profile{}, 10)

	assert.Len(t, a, MaxPerStage)
	assert.Equal(t, a, b)
	// no signal at all: ids decide
	assert.True(t, a[0].ID < a[1].ID)
}

func TestScore(t *testing.T) {
	e := Exemplar{ChartType: chart.ChartPie, Scene: "journal", Tags: []string{"mood", "has:category"}}
	p := Profile{ChartType: chart.ChartPie, Scene: "journal", Tags: map[string]bool{"mood": true, "has:category": true}}

	assert.InDelta(t, 6.5, Score(e, p), 1e-9)
	assert.InDelta(t, 0, Score(e, Profile{}), 1e-9)
}

func TestParseRejectsBadSets(t *testing.T) {
	_, err := Parse([]byte("exemplars: []"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
version: "1"
exemplars:
  - {id: a, stage: recommend}
  - {id: a, stage: recommend}
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte(`
version: "1"
exemplars:
  - {id: a, stage: chart}
`))
	assert.ErrorContains(t, err, "unknown stage")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"time", "spent", "h"}, Tokenize("Time_spent (h)"))
}
