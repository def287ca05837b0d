package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/domain/stage"
	"notechart/internal/compiler"
	"notechart/internal/errors"
	"notechart/internal/fallback"
	"notechart/internal/fields"
	"notechart/internal/gate"
	"notechart/internal/inference"
	"notechart/internal/insight"
	"notechart/internal/logger"
	"notechart/internal/statistics"
	"notechart/ports"
)

// AnalysisRequest selects the notes to chart and, optionally, the chart type
type AnalysisRequest struct {
	NotebookID string         `json:"notebook_id"`
	NoteIDs    []string       `json:"note_ids,omitempty"`
	Range      core.TimeRange `json:"range"`
	// ChartType locks the chart type and switches to config mode
	ChartType string `json:"chart_type,omitempty"`
	// MissingFields are fields to derive from note text in config mode
	MissingFields []inference.MissingField `json:"missing_fields,omitempty"`
	// Refresh bypasses the cache lookup; the result is still stored
	Refresh bool `json:"refresh,omitempty"`
}

// AnalysisResult is the cached, authoritative output of one analysis
type AnalysisResult struct {
	ID              core.AnalysisID          `json:"id"`
	Fingerprint     core.Fingerprint         `json:"fingerprint"`
	NotebookID      string                   `json:"notebook_id"`
	Mode            chart.Mode               `json:"mode"`
	Scene           string                   `json:"scene"`
	Primary         chart.ChartCandidate     `json:"primary"`
	Alternatives    []chart.ChartCandidate   `json:"alternatives,omitempty"`
	Decision        chart.GateDecision       `json:"decision"`
	Config          *compiler.ChartConfig    `json:"chart_config"`
	Insights        []insight.Insight        `json:"insights"`
	Narrative       string                   `json:"narrative"`
	MissingFields   []inference.MissingField `json:"missing_fields,omitempty"`
	Trace           stage.Trace              `json:"trace"`
	NoteCount       int                      `json:"note_count"`
	PolicyVersion   string                   `json:"policy_version"`
	ExemplarVersion string                   `json:"exemplar_version,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	Cached          bool                     `json:"cached"`
}

// AnalysisConfig tunes the analysis service
type AnalysisConfig struct {
	SampleLimit      int
	CacheTTL         time.Duration
	MaxConcurrent    int64
	RerankCandidates int
}

// DefaultAnalysisConfig returns the stock limits
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		SampleLimit:      statistics.DefaultSampleLimit,
		CacheTTL:         30 * time.Minute,
		MaxConcurrent:    8,
		RerankCandidates: 3,
	}
}

// AnalysisService runs the chart pipeline for one notebook at a time
type AnalysisService struct {
	notes        ports.NoteSource
	cache        ports.ResultCache
	policies     *policy.Store
	orchestrator *inference.Orchestrator
	recommender  *fallback.Recommender
	sem          *semaphore.Weighted
	config       AnalysisConfig
	logger       *logger.Logger
	now          func() time.Time
}

// NewAnalysisService wires the pipeline. cache may be nil.
func NewAnalysisService(
	notes ports.NoteSource,
	cache ports.ResultCache,
	policies *policy.Store,
	orchestrator *inference.Orchestrator,
	config AnalysisConfig,
	log *logger.Logger,
) *AnalysisService {
	defaults := DefaultAnalysisConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.SampleLimit <= 0 {
		config.SampleLimit = defaults.SampleLimit
	}
	if config.RerankCandidates <= 0 {
		config.RerankCandidates = defaults.RerankCandidates
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AnalysisService{
		notes:        notes,
		cache:        cache,
		policies:     policies,
		orchestrator: orchestrator,
		recommender:  fallback.NewRecommender(),
		sem:          semaphore.NewWeighted(config.MaxConcurrent),
		config:       config,
		logger:       log.Component("analysis"),
		now:          time.Now,
	}
}

// Policy returns the policy new analyses run under
func (s *AnalysisService) Policy() *policy.Policy {
	return s.policies.Current()
}

// Validate checks a request at the boundary, trims its ids and returns the
// selected chart type
func (r *AnalysisRequest) Validate() (chart.ChartType, error) {
	notebookID, err := core.ParseNotebookID(r.NotebookID)
	if err != nil {
		return "", errors.Wrap(err, "notebook_id is required")
	}
	r.NotebookID = notebookID.String()
	if len(r.NoteIDs) > 0 {
		ids := make([]string, 0, len(r.NoteIDs))
		for i, raw := range r.NoteIDs {
			id, err := core.ParseNoteID(raw)
			if err != nil {
				return "", errors.Wrapf(err, "note_ids[%d]", i)
			}
			ids = append(ids, id.String())
		}
		r.NoteIDs = ids
	}
	if !r.Range.From.IsZero() && !r.Range.To.IsZero() && !r.Range.From.Before(r.Range.To) {
		return "", errors.Wrap(core.ErrInvalidRequest, "range.from must be before range.to")
	}
	var selected chart.ChartType
	if strings.TrimSpace(r.ChartType) != "" {
		t, err := chart.ParseChartType(r.ChartType)
		if err != nil {
			return "", errors.Wrap(err, "invalid chart_type")
		}
		selected = t
	}
	if selected == "" && len(r.MissingFields) > 0 {
		return "", errors.Wrap(core.ErrInvalidRequest, "missing_fields require a selected chart_type")
	}
	for _, f := range r.MissingFields {
		if strings.TrimSpace(f.Name) == "" {
			return "", errors.Wrap(core.ErrInvalidRequest, "missing field without a name")
		}
	}
	return selected, nil
}

// Analyze validates the request, answers from cache when possible and
// otherwise runs the pipeline. Only request and note-store errors are returned;
// inference failures degrade into the stage trace.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	selected, err := req.Validate()
	if err != nil {
		return nil, err
	}
	mode := chart.ResolveMode(selected)
	pol := s.policies.Current()

	fp, err := s.fingerprint(req, mode, selected, pol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fingerprint analysis")
	}
	log := s.logger.With("notebook_id", req.NotebookID, "mode", mode, "fingerprint", fp.String())

	if !req.Refresh {
		if cached, ok := s.lookup(ctx, fp, log); ok {
			return cached, nil
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "analysis cancelled while queued")
	}
	defer s.sem.Release(1)

	snap, err := s.notes.Snapshot(ctx, ports.SnapshotQuery{
		NotebookID: req.NotebookID,
		NoteIDs:    req.NoteIDs,
		Range:      req.Range,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load notebook %s", req.NotebookID)
	}

	start := s.now()
	result, err := s.run(ctx, req, snap, mode, selected, pol)
	if err != nil {
		return nil, err
	}
	result.Fingerprint = fp
	log.Info("analysis finished",
		"chart_type", result.Decision.FinalType,
		"downgraded", result.Decision.Downgraded,
		"source", result.Primary.Source,
		"notes", result.NoteCount,
		"duration_ms", s.now().Sub(start).Milliseconds())

	s.store(ctx, fp, result, log)
	return result, nil
}

func (s *AnalysisService) fingerprint(req AnalysisRequest, mode chart.Mode, selected chart.ChartType, pol *policy.Policy) (core.Fingerprint, error) {
	in := core.FingerprintInput{
		NotebookID:    req.NotebookID,
		NoteIDs:       req.NoteIDs,
		PolicyVersion: pol.Version,
		Mode:          string(mode),
		SelectedType:  string(selected),
	}
	if !req.Range.IsZero() {
		r := req.Range
		in.Range = &r
	}
	for _, f := range req.MissingFields {
		in.MissingFields = append(in.MissingFields, f.Name)
	}
	sort.Strings(in.MissingFields)
	return core.ComputeFingerprint(in)
}

func (s *AnalysisService) lookup(ctx context.Context, fp core.Fingerprint, log *logger.Logger) (*AnalysisResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, fp)
	if err != nil {
		log.Warn("cache lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn("discarding unreadable cache entry", "error", err)
		return nil, false
	}
	result.Cached = true
	log.Debug("cache hit")
	return &result, true
}

func (s *AnalysisService) store(ctx context.Context, fp core.Fingerprint, result *AnalysisResult, log *logger.Logger) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Warn("failed to encode result for cache", "error", err)
		return
	}
	if err := s.cache.Put(ctx, fp, data, s.config.CacheTTL); err != nil {
		log.Warn("failed to cache result", "error", err)
	}
}

// pipeline carries the per-analysis working set
type pipeline struct {
	snap      *note.Snapshot
	pol       *policy.Policy
	universe  *fields.Universe
	sample    *statistics.Sample
	collector *statistics.Collector
	scene     string
	session   *inference.Session
}

func (p *pipeline) input() fallback.Input {
	return fallback.Input{
		NotebookName: p.snap.Name,
		Scene:        p.scene,
		Universe:     p.universe,
		Stats:        p.collector,
		Policy:       p.pol,
	}
}

func (p *pipeline) profile() map[string]chart.FieldStatistics {
	names := make([]string, 0, p.universe.Len())
	for _, d := range p.universe.Fields() {
		names = append(names, d.Name)
	}
	return p.collector.Profile(names)
}

func (s *AnalysisService) run(ctx context.Context, req AnalysisRequest, snap *note.Snapshot, mode chart.Mode, selected chart.ChartType, pol *policy.Policy) (*AnalysisResult, error) {
	// the tighter of the deployment and policy bounds applies
	limit := s.config.SampleLimit
	if pol.SampleLimit > 0 && pol.SampleLimit < limit {
		limit = pol.SampleLimit
	}
	p := &pipeline{
		snap:    snap,
		pol:     pol,
		session: inference.NewSession(),
	}
	var missing []chart.FieldDefinition
	if mode == chart.ModeConfig {
		missing = inference.Definitions(req.MissingFields)
	}
	p.universe = fields.BuildFromSnapshot(snap, missing)
	p.sample = statistics.NewSample(snap.Notes, req.Range, limit)
	p.collector = statistics.NewCollector(p.sample)
	p.scene = fallback.ResolveScene(snap.Scene, snap.Name, p.universe, pol)

	result := &AnalysisResult{
		ID:              core.NewAnalysisID(),
		NotebookID:      snap.NotebookID,
		Mode:            mode,
		Scene:           p.scene,
		NoteCount:       p.sample.Len(),
		PolicyVersion:   pol.Version,
		ExemplarVersion: s.orchestrator.ExemplarVersion(),
		CreatedAt:       s.now().UTC(),
	}

	var (
		candidate chart.ChartCandidate
		unfilled  []string
	)
	if mode == chart.ModeConfig {
		candidate, unfilled = s.configure(ctx, p, req.MissingFields, selected)
		result.MissingFields = req.MissingFields
	} else {
		candidate, result.Alternatives, result.MissingFields = s.recommend(ctx, p)
		for _, f := range result.MissingFields {
			unfilled = append(unfilled, f.Name)
		}
	}

	final, decision := gate.Evaluate(candidate, p.collector, pol.Gates, mode == chart.ModeConfig)
	cfg, err := compiler.Compile(final, decision, p.sample)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chart")
	}

	result.Primary = final
	result.Decision = decision
	result.Config = cfg
	result.Trace = p.session.Trace()
	result.Insights = insight.Derive(insight.Input{
		Config:   cfg,
		Decision: decision,
		Stats:    p.collector,
		Unfilled: unfilled,
	})
	result.Narrative = insight.Markdown(snap.Name, final.CoreQuestion, result.Insights)
	return result, nil
}

// recommend asks the inference service first and falls back to rule-based
// selection when the stage ends invalid. Alternatives always come from rules.
func (s *AnalysisService) recommend(ctx context.Context, p *pipeline) (chart.ChartCandidate, []chart.ChartCandidate, []inference.MissingField) {
	p.session.Skip(stage.StageDeriveFields, stage.CauseNotNeeded, "recommend mode")
	p.session.Skip(stage.StageRerank, stage.CauseNotNeeded, "recommend mode")

	rules := s.recommender.Recommend(p.input())
	out, ok := s.orchestrator.Recommend(ctx, p.session, inference.RecommendInput{
		NotebookName: p.snap.Name,
		Scene:        p.scene,
		Universe:     p.universe,
		Stats:        p.profile(),
		Policy:       p.pol,
	})
	if !ok {
		return rules.Primary, rules.Alternatives, nil
	}

	primary := out.Candidate()
	alternatives := make([]chart.ChartCandidate, 0, len(rules.Alternatives)+1)
	for _, alt := range append([]chart.ChartCandidate{rules.Primary}, rules.Alternatives...) {
		if alt.ChartType != primary.ChartType {
			alternatives = append(alternatives, alt)
		}
	}
	return primary, alternatives, out.MissingFields
}

// configure builds the candidate for a user-locked chart type, deriving
// requested fields and reranking ambiguous slots on the way
func (s *AnalysisService) configure(ctx context.Context, p *pipeline, missing []inference.MissingField, selected chart.ChartType) (chart.ChartCandidate, []string) {
	p.session.Skip(stage.StageRecommend, stage.CauseNotNeeded, "chart type selected")

	// a requested field that names a notebook or system field without
	// overriding it keeps its real values and is never derived
	var unfilled []string
	derivable := make([]inference.MissingField, 0, len(missing))
	for _, f := range missing {
		if def, ok := p.universe.Get(f.Name); ok && def.Source != chart.SourceAI {
			s.logger.Warn("missing field shadows an existing field, not derived",
				"field", f.Name, "source", string(def.Source))
			unfilled = append(unfilled, f.Name)
			continue
		}
		derivable = append(derivable, f)
	}

	if len(derivable) == 0 {
		p.session.Skip(stage.StageDeriveFields, stage.CauseNotNeeded, "no derivable missing fields")
	} else {
		derived, ok := s.orchestrator.DeriveFields(ctx, p.session, inference.DeriveInput{
			Fields:   derivable,
			Sample:   p.sample,
			Universe: p.universe,
			Scene:    p.scene,
			Policy:   p.pol,
		})
		filled := make(map[string]bool)
		if ok {
			p.sample = p.sample.WithDerived(derived.Values)
			p.collector = statistics.NewCollector(p.sample)
			for _, values := range derived.Values {
				for name := range values {
					filled[name] = true
				}
			}
		}
		for _, f := range derivable {
			if !filled[f.Name] {
				unfilled = append(unfilled, f.Name)
			}
		}
	}

	in := p.input()
	ranking := s.recommender.Rank(in)
	candidate := s.recommender.ForType(selected, in, ranking)

	slots := fallback.PlanSlots(candidate.FieldPlan)
	if !ranking.Ambiguous(slots, p.pol.Inference.RerankMinRuleConfidence) {
		p.session.Skip(stage.StageRerank, stage.CauseNotNeeded, "rule scoring unambiguous")
		return candidate, unfilled
	}

	picked, ok := s.orchestrator.Rerank(ctx, p.session, inference.RerankInput{
		ChartType:  selected,
		Question:   candidate.CoreQuestion,
		Scene:      p.scene,
		Plan:       candidate.FieldPlan,
		Candidates: ranking.Candidates(slots, s.config.RerankCandidates),
		Universe:   p.universe,
		Stats:      p.profile(),
		Policy:     p.pol,
	})
	if ok && len(picked) > 0 {
		for slot, name := range picked {
			candidate.FieldPlan.Set(slot, name)
		}
		candidate.CoreQuestion = fallback.Question(candidate)
	}
	return candidate, unfilled
}

// String renders a short human summary
func (r *AnalysisResult) String() string {
	return fmt.Sprintf("%s chart (%s mode) over %d notes", r.Decision.FinalType, r.Mode, r.NoteCount)
}
