// Package inference drives the three contract-bound stages (recommend,
// rerank, derive_fields) against the external inference service. Every
// stage is issued at most once per analysis, every output is validated
// before use, and every failure degrades into a recorded stage outcome.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/domain/stage"
	"notechart/internal/exemplar"
	"notechart/internal/fields"
	"notechart/internal/logger"
	"notechart/internal/statistics"
	"notechart/ports"
)

// TracerName is the instrumentation scope of stage spans
const TracerName = "notechart/inference"

// maxExcerptLen bounds each text value sent for derivation
const maxExcerptLen = 280

// Config holds orchestrator settings
type Config struct {
	StageTimeout      time.Duration
	ExemplarsPerStage int
}

// DefaultConfig returns the stock per-stage timeout and exemplar count
func DefaultConfig() Config {
	return Config{StageTimeout: 20 * time.Second, ExemplarsPerStage: 2}
}

// Orchestrator issues stage requests and validates their results
type Orchestrator struct {
	client    ports.InferenceClient
	validator *Validator
	exemplars *exemplar.Set
	config    Config
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewOrchestrator creates an orchestrator. A nil client is allowed: every
// stage then ends invalid with missing credentials.
func NewOrchestrator(client ports.InferenceClient, exemplars *exemplar.Set, config Config, log *logger.Logger) (*Orchestrator, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = DefaultConfig().StageTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		client:    client,
		validator: validator,
		exemplars: exemplars,
		config:    config,
		logger:    log.Component("inference"),
		tracer:    otel.Tracer(TracerName),
	}, nil
}

// ExemplarVersion returns the version of the injected exemplar set
func (o *Orchestrator) ExemplarVersion() string {
	if o.exemplars == nil {
		return ""
	}
	return o.exemplars.Version
}

// Session is the per-analysis state machine and call budget
type Session struct {
	mu     sync.Mutex
	states map[stage.StageName]stage.State
	trace  stage.Trace
}

// NewSession starts every stage in the START state
func NewSession() *Session {
	return &Session{states: make(map[stage.StageName]stage.State)}
}

// State returns the current state of a stage
func (s *Session) State(st stage.StageName) stage.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[st]; ok {
		return state
	}
	return stage.StateStart
}

// Trace returns a copy of the recorded outcomes
func (s *Session) Trace() stage.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(stage.Trace(nil), s.trace...)
}

// Skip records that a stage was deliberately not issued
func (s *Session) Skip(st stage.StageName, cause stage.Cause, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[st]; ok && state != stage.StateStart {
		return
	}
	s.states[st] = stage.StateSkipped
	s.trace = append(s.trace, stage.Outcome{Stage: st, State: stage.StateSkipped, Cause: cause, Detail: detail})
}

// begin moves a stage from START to REQUESTED, spending its one call
func (s *Session) begin(st stage.StageName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[st]; ok && state != stage.StateStart {
		return fmt.Errorf("%w: %s is %s", core.ErrStageExhausted, st, state)
	}
	s.states[st] = stage.StateRequested
	return nil
}

func (s *Session) finish(o stage.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Cause != stage.CauseExhausted {
		s.states[o.Stage] = o.State
	}
	s.trace = append(s.trace, o)
}

// call spends the stage budget, sends the request and hands the raw output to
// validate. It reports whether the stage ended VALID.
func (o *Orchestrator) call(ctx context.Context, s *Session, st stage.StageName, req any, validate func(raw []byte, out *stage.Outcome) error) bool {
	start := time.Now()
	outcome := stage.Outcome{Stage: st, State: stage.StateInvalid}

	if err := s.begin(st); err != nil {
		outcome.Cause = stage.CauseExhausted
		outcome.Detail = err.Error()
		s.finish(outcome)
		o.logger.Warn("stage budget exhausted", "stage", st)
		return false
	}

	ctx, span := o.tracer.Start(ctx, "inference."+string(st))
	defer func() {
		outcome.Elapsed(start)
		span.SetAttributes(
			attribute.String("stage", string(st)),
			attribute.String("state", string(outcome.State)),
			attribute.String("cause", string(outcome.Cause)),
		)
		if outcome.State != stage.StateValid {
			span.SetStatus(codes.Error, outcome.Detail)
		}
		span.End()
		s.finish(outcome)
		o.logger.Info("stage finished",
			"stage", st, "state", outcome.State, "cause", outcome.Cause, "duration_ms", outcome.Duration)
	}()

	if o.client == nil {
		outcome.Cause = stage.CauseMissingCredentials
		outcome.Detail = core.ErrMissingCredentials.Error()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	defer cancel()

	raw, err := o.client.Infer(callCtx, st, req)
	if err != nil {
		outcome.Cause = classifyCallError(callCtx, err)
		outcome.Detail = err.Error()
		return false
	}
	if err := validate(raw, &outcome); err != nil {
		outcome.Cause = classifyContractError(err)
		outcome.Detail = err.Error()
		return false
	}
	outcome.State = stage.StateValid
	return true
}

func classifyCallError(ctx context.Context, err error) stage.Cause {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stage.CauseTimeout
	case errors.Is(err, core.ErrMissingCredentials):
		return stage.CauseMissingCredentials
	case errors.Is(err, core.ErrSchemaViolation):
		return stage.CauseSchemaViolation
	default:
		return stage.CauseUpstream
	}
}

func classifyContractError(err error) stage.Cause {
	switch {
	case errors.Is(err, core.ErrLowConfidence):
		return stage.CauseLowConfidence
	case errors.Is(err, core.ErrPolicyViolation):
		return stage.CausePolicyViolation
	default:
		return stage.CauseSchemaViolation
	}
}

// RecommendInput is what the recommend stage sees
type RecommendInput struct {
	NotebookName string
	Scene        string
	Universe     *fields.Universe
	Stats        map[string]chart.FieldStatistics
	Policy       *policy.Policy
}

// Recommend runs START -> RECOMMEND_REQUESTED -> {VALID, INVALID}. On
// INVALID the caller falls back to rule-based selection; there is no retry.
func (o *Orchestrator) Recommend(ctx context.Context, s *Session, in RecommendInput) (*RecommendOutput, bool) {
	defs := in.Universe.Fields()
	req := RecommendRequest{
		Stage:             stage.StageRecommend,
		NotebookName:      in.NotebookName,
		Scene:             in.Scene,
		AllowedChartTypes: chart.AllowedTypes,
		Fields:            summarize(defs, in.Stats),
		FixedVocabularies: in.Policy.FixedVocabularies,
		Exemplars:         o.selectExemplars(stage.StageRecommend, exemplar.ProfileOf(defs, "", in.Scene)),
	}

	var out *RecommendOutput
	ok := o.call(ctx, s, stage.StageRecommend, req, func(raw []byte, oc *stage.Outcome) error {
		var err error
		out, err = o.validator.ValidateRecommend(raw, in.Universe, in.Policy)
		if err == nil {
			oc.Detail = fmt.Sprintf("%s with confidence %.2f", out.ChartType, out.Confidence)
		}
		return err
	})
	if !ok {
		return nil, false
	}
	return out, true
}

// RerankInput is what the rerank stage sees
type RerankInput struct {
	ChartType  chart.ChartType
	Question   string
	Scene      string
	Plan       chart.FieldPlan
	Candidates map[chart.Slot][]string
	Universe   *fields.Universe
	Stats      map[string]chart.FieldStatistics
	Policy     *policy.Policy
}

// Rerank asks the service to pick among rule-ranked candidates per slot.
// The chart type stays frozen; a violating answer is discarded whole.
func (o *Orchestrator) Rerank(ctx context.Context, s *Session, in RerankInput) (map[chart.Slot]string, bool) {
	var offered []chart.FieldDefinition
	seen := make(map[string]bool)
	for _, slot := range chart.AllSlots {
		for _, name := range in.Candidates[slot] {
			if def, ok := in.Universe.Get(name); ok && !seen[name] {
				seen[name] = true
				offered = append(offered, def)
			}
		}
	}
	req := RerankRequest{
		Stage:      stage.StageRerank,
		ChartType:  in.ChartType,
		Question:   in.Question,
		Plan:       in.Plan,
		Candidates: in.Candidates,
		Fields:     summarize(offered, in.Stats),
		Exemplars:  o.selectExemplars(stage.StageRerank, exemplar.ProfileOf(offered, in.ChartType, in.Scene)),
	}

	var out *RerankOutput
	ok := o.call(ctx, s, stage.StageRerank, req, func(raw []byte, oc *stage.Outcome) error {
		var err error
		out, err = o.validator.ValidateRerank(raw, req, in.Policy)
		if err == nil && out.Why != "" {
			oc.Detail = out.Why
		}
		return err
	})
	if !ok {
		return nil, false
	}
	return out.SelectedFields, true
}

// DeriveInput is what the derive_fields stage sees
type DeriveInput struct {
	Fields   []MissingField
	Sample   *statistics.Sample
	Universe *fields.Universe
	Scene    string
	Policy   *policy.Policy
}

// DeriveFields asks the service to fill missing fields note by note. Values
// are checked one at a time; rejected values are dropped and counted.
func (o *Orchestrator) DeriveFields(ctx context.Context, s *Session, in DeriveInput) (*DeriveResult, bool) {
	vocab := make(map[string][]string)
	for _, f := range in.Fields {
		if v, ok := in.Policy.Vocabulary(f.Name); ok {
			vocab[f.Name] = v
		}
	}
	req := DeriveRequest{
		Stage:             stage.StageDeriveFields,
		Fields:            in.Fields,
		Notes:             excerpts(in.Sample, in.Universe),
		FixedVocabularies: vocab,
		Exemplars:         o.selectExemplars(stage.StageDeriveFields, exemplar.ProfileOf(Definitions(in.Fields), "", in.Scene)),
	}

	var out *DeriveResult
	ok := o.call(ctx, s, stage.StageDeriveFields, req, func(raw []byte, oc *stage.Outcome) error {
		var err error
		out, err = o.validator.ValidateDerive(raw, req, in.Policy)
		if err == nil {
			oc.Rejected = out.Rejected
			oc.Detail = fmt.Sprintf("accepted %d, rejected %d", out.Accepted, out.Rejected)
		}
		return err
	})
	if !ok {
		return nil, false
	}
	return out, true
}

func (o *Orchestrator) selectExemplars(st stage.StageName, p exemplar.Profile) []exemplar.Exemplar {
	if o.exemplars == nil {
		return nil
	}
	return o.exemplars.Select(st, p, o.config.ExemplarsPerStage)
}

func summarize(defs []chart.FieldDefinition, stats map[string]chart.FieldStatistics) []FieldSummary {
	out := make([]FieldSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, FieldSummary{
			Name:       d.Name,
			Role:       d.Role,
			DataType:   d.DataType,
			Source:     d.Source,
			Example:    d.Example,
			Statistics: stats[d.Name],
		})
	}
	return out
}

// excerpts renders the text and category values of each sampled note
func excerpts(sample *statistics.Sample, universe *fields.Universe) []NoteExcerpt {
	var textual []string
	for _, d := range universe.Fields() {
		if d.Source != chart.SourceAI && (d.DataType == chart.TypeText || d.DataType == chart.TypeCategory) {
			textual = append(textual, d.Name)
		}
	}
	sort.Strings(textual)

	out := make([]NoteExcerpt, 0, sample.Len())
	for _, n := range sample.Notes() {
		ex := NoteExcerpt{ID: n.ID, Title: n.Title, Values: make(map[string]string)}
		for _, name := range textual {
			v, ok := n.Value(name)
			if !ok {
				continue
			}
			s := []rune(note.AsString(v))
			if len(s) > maxExcerptLen {
				s = s[:maxExcerptLen]
			}
			ex.Values[name] = string(s)
		}
		out = append(out, ex)
	}
	return out
}
