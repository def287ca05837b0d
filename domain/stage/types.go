package stage

import "time"

// StageName represents one contract-bound inference request type
type StageName string

const (
	StageRecommend    StageName = "recommend"
	StageRerank       StageName = "rerank"
	StageDeriveFields StageName = "derive_fields"
)

// AllStages lists the stages in the order a full analysis may issue them
var AllStages = []StageName{StageRecommend, StageDeriveFields, StageRerank}

// Valid reports whether n names a known stage
func (n StageName) Valid() bool {
	switch n {
	case StageRecommend, StageRerank, StageDeriveFields:
		return true
	}
	return false
}

// State is where a stage ended up in the orchestrator's state machine
type State string

const (
	StateStart     State = "start"
	StateRequested State = "requested"
	StateValid     State = "valid"
	StateInvalid   State = "invalid"
	StateSkipped   State = "skipped"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateValid || s == StateInvalid || s == StateSkipped
}

// Cause classifies why a stage was invalid or skipped
type Cause string

const (
	CauseNone               Cause = ""
	CauseSchemaViolation    Cause = "schema_violation"
	CausePolicyViolation    Cause = "policy_violation"
	CauseLowConfidence      Cause = "low_confidence"
	CauseUpstream           Cause = "upstream_unavailable"
	CauseTimeout            Cause = "timeout"
	CauseMissingCredentials Cause = "missing_credentials"
	CauseExhausted          Cause = "stage_exhausted"
	CauseNotNeeded          Cause = "not_needed"
)

// Outcome is the trace entry recorded for every stage the orchestrator touched
type Outcome struct {
	Stage    StageName `json:"stage"`
	State    State     `json:"state"`
	Cause    Cause     `json:"cause,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Rejected int       `json:"rejected,omitempty"` // derive_fields values dropped one by one
	Duration int64     `json:"duration_ms"`
}

// Elapsed sets the duration from a start time
func (o *Outcome) Elapsed(start time.Time) {
	o.Duration = time.Since(start).Milliseconds()
}

// Trace is the ordered list of stage outcomes for one analysis
type Trace []Outcome

// Find returns the outcome recorded for a stage
func (t Trace) Find(name StageName) (Outcome, bool) {
	for _, o := range t {
		if o.Stage == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Issued reports whether a request was actually sent for the stage
func (t Trace) Issued(name StageName) bool {
	o, ok := t.Find(name)
	return ok && o.State != StateSkipped
}
