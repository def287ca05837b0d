package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notechart/adapters/cache"
	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/domain/stage"
	apperrors "notechart/internal/errors"
	"notechart/internal/exemplar"
	"notechart/internal/inference"
	"notechart/internal/logger"
	"notechart/internal/testkit"
	"notechart/ports"
)

type memoryNotes map[string]*note.Snapshot

func (m memoryNotes) Snapshot(_ context.Context, q ports.SnapshotQuery) (*note.Snapshot, error) {
	snap, ok := m[q.NotebookID]
	if !ok {
		return nil, apperrors.NotFound("notebook " + q.NotebookID)
	}
	return snap, nil
}

// scriptedClient answers each stage with a canned document
type scriptedClient struct {
	mu      sync.Mutex
	replies map[stage.StageName]string
	calls   []stage.StageName
}

func (c *scriptedClient) Infer(_ context.Context, st stage.StageName, _ any) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, st)
	reply, ok := c.replies[st]
	if !ok {
		return nil, core.ErrUpstreamUnavailable
	}
	return []byte(reply), nil
}

func (c *scriptedClient) Calls() []stage.StageName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stage.StageName(nil), c.calls...)
}

const recommendBar = `{
  "core_question": "How many hours went into each project?",
  "chart_type": "bar",
  "field_plan": {"dimension": "project", "metric": "hours", "aggregation": "sum"},
  "missing_fields": [],
  "confidence": 0.8
}`

const recommendWithChartConfig = `{
  "core_question": "How many hours went into each project?",
  "chart_type": "bar",
  "field_plan": {"dimension": "project", "metric": "hours", "aggregation": "sum"},
  "missing_fields": [],
  "confidence": 0.9,
  "chart_config": {"chart_type": "bar"}
}`

func journal() memoryNotes {
	return memoryNotes{"nb-1": testkit.NewNotebookGenerator(testkit.DefaultNotebookConfig()).Generate("nb-1")}
}

func newService(t *testing.T, notes ports.NoteSource, client ports.InferenceClient, pol *policy.Policy) (*AnalysisService, *cache.Memory) {
	t.Helper()
	orch, err := inference.NewOrchestrator(client, exemplar.MustLoad(), inference.Config{StageTimeout: time.Second}, logger.Nop())
	require.NoError(t, err)
	if pol == nil {
		pol = policy.Default()
	}
	mem := cache.NewMemory()
	return NewAnalysisService(notes, mem, policy.NewStore(pol), orch, DefaultAnalysisConfig(), logger.Nop()), mem
}

func assertWellFormed(t *testing.T, res *AnalysisResult) {
	t.Helper()
	require.NotNil(t, res.Config)
	assert.True(t, res.Config.ChartType().Valid())
	assert.Equal(t, res.Decision.FinalType, res.Config.ChartType())
	assert.Equal(t, res.Decision.FinalType, res.Primary.ChartType)
	assert.NotEmpty(t, res.ID)
	assert.NotEmpty(t, res.Fingerprint)
	assert.NotEmpty(t, res.Narrative)
	assert.Len(t, res.Trace, len(stage.AllStages))
}

func TestRecommendWithoutCredentialsFallsBack(t *testing.T) {
	svc, _ := newService(t, journal(), nil, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.ModeRecommend, res.Mode)
	assert.Equal(t, chart.FromFallback, res.Primary.Source)
	assert.NotEmpty(t, res.Alternatives)
	assert.Equal(t, 60, res.NoteCount)

	rec, ok := res.Trace.Find(stage.StageRecommend)
	require.True(t, ok)
	assert.Equal(t, stage.StateInvalid, rec.State)
	assert.Equal(t, stage.CauseMissingCredentials, rec.Cause)
	assert.False(t, res.Trace.Issued(stage.StageRerank))
	assert.False(t, res.Trace.Issued(stage.StageDeriveFields))
}

func TestRecommendUsesValidInference(t *testing.T) {
	client := &scriptedClient{replies: map[stage.StageName]string{stage.StageRecommend: recommendBar}}
	svc, _ := newService(t, journal(), client, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.FromInference, res.Primary.Source)
	assert.Equal(t, chart.ChartBar, res.Decision.FinalType)
	assert.Equal(t, chart.AggSum, res.Config.Aggregation())
	for _, alt := range res.Alternatives {
		assert.NotEqual(t, chart.ChartBar, alt.ChartType)
	}
	assert.Equal(t, []stage.StageName{stage.StageRecommend}, client.Calls())
}

func TestRecommendRejectsChartConfigEscalation(t *testing.T) {
	client := &scriptedClient{replies: map[stage.StageName]string{stage.StageRecommend: recommendWithChartConfig}}
	svc, _ := newService(t, journal(), client, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.FromFallback, res.Primary.Source)
	rec, _ := res.Trace.Find(stage.StageRecommend)
	assert.Equal(t, stage.StateInvalid, rec.State)
	assert.Equal(t, stage.CauseSchemaViolation, rec.Cause)
	for _, alt := range res.Alternatives {
		assert.Contains(t, chart.AllowedTypes, alt.ChartType)
	}
}

func TestConfigModeKeepsSelectedType(t *testing.T) {
	client := &scriptedClient{replies: map[stage.StageName]string{stage.StageRecommend: recommendBar}}
	svc, _ := newService(t, journal(), client, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "nb-1", ChartType: "Pie"})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.ModeConfig, res.Mode)
	assert.Equal(t, chart.ChartPie, res.Decision.FinalType)
	assert.Equal(t, chart.FromUser, res.Primary.Source)
	assert.Empty(t, res.Alternatives)
	assert.NotContains(t, client.Calls(), stage.StageRecommend)

	rec, _ := res.Trace.Find(stage.StageRecommend)
	assert.Equal(t, stage.StateSkipped, rec.State)
}

func TestConfigModeDerivesFieldsWithinVocabulary(t *testing.T) {
	notes := testkit.Notes(6, 24*time.Hour, func(i int) map[string]any {
		return map[string]any{"summary": "day " + testkit.Cycle("one", "two", "three")(i)}
	})
	snap := testkit.Snapshot([]note.TemplateField{{Name: "summary", DataType: "text"}}, notes)
	pol := policy.Default()
	pol.FixedVocabularies = map[string][]string{"energy": {"low", "medium", "high"}}

	client := &scriptedClient{replies: map[stage.StageName]string{
		stage.StageDeriveFields: `{"field_values": {"energy": {
			"n001": "High", "n002": "low", "n003": "extreme",
			"n004": "medium", "n005": "high", "n006": "LOW"}}}`,
	}}
	svc, _ := newService(t, memoryNotes{"nb-test": snap}, client, pol)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{
		NotebookID:    "nb-test",
		ChartType:     "bar",
		MissingFields: []inference.MissingField{{Name: "energy", DataType: chart.TypeCategory}},
	})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.ChartBar, res.Decision.FinalType)
	assert.Equal(t, "energy", res.Config.FieldMapping().Dimension)

	labels := map[string]float64{}
	for _, row := range res.Config.Rows() {
		labels[row.X] = row.Value
	}
	assert.Equal(t, map[string]float64{"high": 2, "low": 2, "medium": 1}, labels)

	derive, ok := res.Trace.Find(stage.StageDeriveFields)
	require.True(t, ok)
	assert.Equal(t, stage.StateValid, derive.State)
	assert.Equal(t, 1, derive.Rejected)
	assert.Equal(t, []stage.StageName{stage.StageDeriveFields}, client.Calls())
}

func TestConfigModeDeriveFailureReportsUnfilled(t *testing.T) {
	svc, _ := newService(t, journal(), &scriptedClient{}, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{
		NotebookID:    "nb-1",
		ChartType:     "bar",
		MissingFields: []inference.MissingField{{Name: "energy", DataType: chart.TypeCategory}},
	})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.ChartBar, res.Decision.FinalType)
	derive, _ := res.Trace.Find(stage.StageDeriveFields)
	assert.Equal(t, stage.CauseUpstream, derive.Cause)
	assert.Contains(t, res.Narrative, "Could not derive energy")
}

func TestConfigModeNeverDerivesOverNotebookFields(t *testing.T) {
	notes := testkit.Notes(6, 24*time.Hour, func(i int) map[string]any {
		return map[string]any{"project": testkit.Cycle("alpha", "beta")(i)}
	})
	snap := testkit.Snapshot([]note.TemplateField{{Name: "project", DataType: "category"}}, notes)
	client := &scriptedClient{replies: map[stage.StageName]string{
		stage.StageDeriveFields: `{"field_values": {"project": {
			"n001": "hijackedA", "n002": "hijackedB", "n003": "hijackedA",
			"n004": "hijackedB", "n005": "hijackedA", "n006": "hijackedB"}}}`,
	}}
	svc, _ := newService(t, memoryNotes{"nb-test": snap}, client, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{
		NotebookID:    "nb-test",
		ChartType:     "bar",
		MissingFields: []inference.MissingField{{Name: "project", DataType: chart.TypeCategory}},
	})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, "project", res.Config.FieldMapping().Dimension)
	labels := map[string]float64{}
	for _, row := range res.Config.Rows() {
		labels[row.X] = row.Value
	}
	assert.Equal(t, map[string]float64{"alpha": 3, "beta": 3}, labels)

	assert.NotContains(t, client.Calls(), stage.StageDeriveFields)
	derive, ok := res.Trace.Find(stage.StageDeriveFields)
	require.True(t, ok)
	assert.Equal(t, stage.StateSkipped, derive.State)
	assert.Contains(t, res.Narrative, "Could not derive project")
}

func TestConfigModeDiscardsRerankThatReusesAField(t *testing.T) {
	notes := testkit.Notes(9, 24*time.Hour, func(i int) map[string]any {
		return map[string]any{
			"area": testkit.Cycle("home", "office", "cafe")(i),
			"tag":  testkit.Cycle("deep", "shallow", "admin")(i / 3),
		}
	})
	snap := testkit.Snapshot([]note.TemplateField{
		{Name: "area", DataType: "category"},
		{Name: "tag", DataType: "category"},
	}, notes)
	client := &scriptedClient{replies: map[stage.StageName]string{
		stage.StageRerank: `{"selected_fields": {"dimension": "tag"}, "confidence": 0.9}`,
	}}
	svc, _ := newService(t, memoryNotes{"nb-test": snap}, client, nil)

	res, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "nb-test", ChartType: "heatmap"})
	require.NoError(t, err)

	assertWellFormed(t, res)
	assert.Equal(t, chart.ChartHeatmap, res.Decision.FinalType)
	assert.Equal(t, "area", res.Primary.FieldPlan.Dimension)
	assert.Equal(t, "tag", res.Primary.FieldPlan.Dimension2)

	assert.Contains(t, client.Calls(), stage.StageRerank)
	rerank, ok := res.Trace.Find(stage.StageRerank)
	require.True(t, ok)
	assert.Equal(t, stage.StateInvalid, rerank.State)
	assert.Equal(t, stage.CausePolicyViolation, rerank.Cause)
}

func TestResultsAreCachedByFingerprint(t *testing.T) {
	client := &scriptedClient{replies: map[stage.StageName]string{stage.StageRecommend: recommendBar}}
	svc, mem := newService(t, journal(), client, nil)
	ctx := context.Background()

	first, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, mem.Len())

	second, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Config.Rows(), second.Config.Rows())
	assert.Len(t, client.Calls(), 1)

	refreshed, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1", Refresh: true})
	require.NoError(t, err)
	assert.False(t, refreshed.Cached)
	assert.NotEqual(t, first.ID, refreshed.ID)
	assert.Equal(t, first.Fingerprint, refreshed.Fingerprint)
	assert.Len(t, client.Calls(), 2)

	other, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1", ChartType: "bar"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, other.Fingerprint)
}

func TestPolicySwapChangesFingerprint(t *testing.T) {
	svc, _ := newService(t, journal(), nil, nil)
	ctx := context.Background()

	before, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)

	next := policy.Default()
	next.Version = "v2"
	svc.policies.Swap(next)

	after, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1"})
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.Equal(t, "v2", after.PolicyVersion)
	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)
}

func TestRequestValidation(t *testing.T) {
	svc, _ := newService(t, journal(), nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  AnalysisRequest
		is   error
	}{
		{"no notebook", AnalysisRequest{}, core.ErrInvalidRequest},
		{"blank notebook", AnalysisRequest{NotebookID: "  "}, core.ErrInvalidRequest},
		{"blank note id", AnalysisRequest{NotebookID: "nb-1", NoteIDs: []string{"note_0001", " "}}, core.ErrInvalidRequest},
		{"unknown chart type", AnalysisRequest{NotebookID: "nb-1", ChartType: "radar"}, core.ErrInvalidChartType},
		{"inverted range", AnalysisRequest{NotebookID: "nb-1", Range: core.TimeRange{From: day, To: day}}, core.ErrInvalidRequest},
		{"missing fields in recommend mode", AnalysisRequest{
			NotebookID:    "nb-1",
			MissingFields: []inference.MissingField{{Name: "energy"}},
		}, core.ErrInvalidRequest},
		{"unnamed missing field", AnalysisRequest{
			NotebookID:    "nb-1",
			ChartType:     "bar",
			MissingFields: []inference.MissingField{{}},
		}, core.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Analyze(ctx, tt.req)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Equal(t, 400, apperrors.HTTPStatus(err))
		})
	}
}

func TestRequestIDsAreTrimmed(t *testing.T) {
	svc, _ := newService(t, journal(), nil, nil)
	ctx := context.Background()

	trimmed, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1", NoteIDs: []string{"note_0001", "note_0002"}})
	require.NoError(t, err)

	padded, err := svc.Analyze(ctx, AnalysisRequest{NotebookID: " nb-1 ", NoteIDs: []string{" note_0001", "note_0002 "}})
	require.NoError(t, err)

	assert.Equal(t, "nb-1", padded.NotebookID)
	assert.True(t, padded.Cached)
	assert.Equal(t, trimmed.Fingerprint, padded.Fingerprint)
}

func TestUnknownNotebook(t *testing.T) {
	svc, _ := newService(t, journal(), nil, nil)

	_, err := svc.Analyze(context.Background(), AnalysisRequest{NotebookID: "missing"})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
}

func TestQueuedAnalysisHonoursContext(t *testing.T) {
	orch, err := inference.NewOrchestrator(nil, nil, inference.DefaultConfig(), nil)
	require.NoError(t, err)
	cfg := DefaultAnalysisConfig()
	cfg.MaxConcurrent = 1
	svc := NewAnalysisService(journal(), nil, policy.NewStore(policy.Default()), orch, cfg, nil)

	require.NoError(t, svc.sem.Acquire(context.Background(), 1))
	defer svc.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Analyze(ctx, AnalysisRequest{NotebookID: "nb-1"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
