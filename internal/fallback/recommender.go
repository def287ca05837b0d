// Package fallback is the rule-based chart recommender. It never calls out
// and always produces a structurally valid candidate, so it backs every
// inference stage that ends invalid.
package fallback

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"notechart/domain/chart"
	"notechart/domain/policy"
	"notechart/internal/fields"
	"notechart/internal/gate"
	"notechart/internal/statistics"
)

// bandWidth groups missing rates so that small differences do not outrank
// a preferred field name
const bandWidth = 0.1

// Ranked is one field's position in a slot ranking
type Ranked struct {
	Name        string  `json:"name"`
	MissingRate float64 `json:"missing_rate"`
	Band        int     `json:"band"`
	Preference  int     `json:"preference"`
	Cardinality int     `json:"cardinality"`
}

// Confidence is the rule confidence of choosing this field
func (r Ranked) Confidence() float64 {
	return (1 - r.MissingRate) * (0.6 + 0.2*float64(r.Preference))
}

// Ranking holds the eligible fields per slot, best first
type Ranking map[chart.Slot][]Ranked

// Top returns the best field for a slot
func (r Ranking) Top(slot chart.Slot) string {
	if list := r[slot]; len(list) > 0 {
		return list[0].Name
	}
	return ""
}

// Candidates returns up to k field names per slot for the rerank stage
func (r Ranking) Candidates(slots []chart.Slot, k int) map[chart.Slot][]string {
	out := make(map[chart.Slot][]string, len(slots))
	for _, slot := range slots {
		for i, f := range r[slot] {
			if k > 0 && i >= k {
				break
			}
			out[slot] = append(out[slot], f.Name)
		}
	}
	return out
}

// Ambiguous reports whether rule scoring cannot settle one of slots: the top
// two tie on band and preference, or the top's confidence is under threshold
func (r Ranking) Ambiguous(slots []chart.Slot, threshold float64) bool {
	for _, slot := range slots {
		list := r[slot]
		if len(list) == 0 {
			continue
		}
		if list[0].Confidence() < threshold {
			return true
		}
		if len(list) > 1 && list[0].Band == list[1].Band && list[0].Preference == list[1].Preference {
			return true
		}
	}
	return false
}

// Input is everything the recommender reads
type Input struct {
	NotebookName string
	Scene        string
	Universe     *fields.Universe
	Stats        *statistics.Collector
	Policy       *policy.Policy
}

// Result is the primary candidate plus one alternative per other feasible type
type Result struct {
	Primary      chart.ChartCandidate
	Alternatives []chart.ChartCandidate
	Ranking      Ranking
}

// Recommender selects charts from field statistics and policy preferences
type Recommender struct{}

// NewRecommender creates a rule-based recommender
func NewRecommender() *Recommender {
	return &Recommender{}
}

// Rank orders the eligible fields of every slot
func (r *Recommender) Rank(in Input) Ranking {
	prefs := in.Policy.Preferences(in.Scene)
	ranking := make(Ranking, len(chart.AllSlots))

	byType := map[chart.Slot]chart.DataType{
		chart.SlotTime:      chart.TypeDate,
		chart.SlotDimension: chart.TypeCategory,
		chart.SlotMetric:    chart.TypeNumber,
	}
	names := map[chart.Slot][]string{
		chart.SlotTime:      prefs.Time,
		chart.SlotDimension: prefs.Dimension,
		chart.SlotMetric:    prefs.Metric,
	}

	for slot, dt := range byType {
		var list []Ranked
		for _, def := range in.Universe.OfType(dt) {
			st := in.Stats.FieldStats(def.Name)
			if !gate.Eligible(st, in.Policy.Gates) {
				continue
			}
			if slot == chart.SlotDimension && st.Cardinality < 2 {
				continue
			}
			pref := preferenceScore(def.Name, names[slot])
			if def.Source == chart.SourceAI {
				// explicitly requested fields rank as exact matches
				pref = 2
			}
			list = append(list, Ranked{
				Name:        def.Name,
				MissingRate: st.MissingRate,
				Band:        band(st.MissingRate),
				Preference:  pref,
				Cardinality: st.Cardinality,
			})
		}
		sortRanked(list, slot == chart.SlotDimension)
		ranking[slot] = list
	}
	if dims := ranking[chart.SlotDimension]; len(dims) > 1 {
		ranking[chart.SlotDimension2] = dims[1:]
	}
	return ranking
}

func band(rate float64) int {
	return int(math.Floor(rate/bandWidth + 1e-9))
}

// preferenceScore is 2 for an exact (case-insensitive) name match, 1 for a
// substring match either way, 0 otherwise
func preferenceScore(name string, preferred []string) int {
	lower := strings.ToLower(name)
	best := 0
	for _, p := range preferred {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if lower == p {
			return 2
		}
		if strings.Contains(lower, p) || strings.Contains(p, lower) {
			best = 1
		}
	}
	return best
}

func sortRanked(list []Ranked, byCardinality bool) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Band != b.Band {
			return a.Band < b.Band
		}
		if a.Preference != b.Preference {
			return a.Preference > b.Preference
		}
		if byCardinality && a.Cardinality != b.Cardinality {
			return a.Cardinality < b.Cardinality
		}
		return a.Name < b.Name
	})
}

// InferScene picks the scene whose keywords overlap most with the notebook
// name and field names. Ties go to the alphabetically first scene.
func InferScene(notebookName string, fieldNames []string, keywords map[string][]string) string {
	tokens := make(map[string]bool)
	for _, s := range append([]string{notebookName}, fieldNames...) {
		for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			tokens[tok] = true
		}
	}

	scenes := make([]string, 0, len(keywords))
	for scene := range keywords {
		scenes = append(scenes, scene)
	}
	sort.Strings(scenes)

	best, bestScore := policy.DefaultScene, 0
	for _, scene := range scenes {
		score := 0
		for _, kw := range keywords[scene] {
			if tokens[strings.ToLower(strings.TrimSpace(kw))] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = scene, score
		}
	}
	return best
}

// ResolveScene returns the declared scene, or one inferred from the policy keywords
func ResolveScene(declared, notebookName string, universe *fields.Universe, pol *policy.Policy) string {
	if s := strings.TrimSpace(declared); s != "" {
		return s
	}
	var names []string
	for _, d := range universe.Fields() {
		names = append(names, d.Name)
	}
	return InferScene(notebookName, names, pol.SceneKeywords)
}

// Recommend builds the primary candidate and its alternatives
func (r *Recommender) Recommend(in Input) Result {
	ranking := r.Rank(in)
	gran := in.Stats.Sample().DefaultGranularity()

	def, hasDefault := in.Policy.SceneDefault(in.Scene)
	agg := chart.AggCount
	if hasDefault && def.Aggregation.Valid() && ranking.Top(chart.SlotMetric) != "" {
		agg = def.Aggregation
	}

	primaryType := frequencyView(ranking)
	if hasDefault && def.ChartType.Valid() && feasible(def.ChartType, ranking) {
		primaryType = def.ChartType
	}

	primary := r.build(primaryType, ranking, agg, gran)
	primary.CoreQuestion = Question(primary)
	if hasDefault {
		primary.CoreQuestion = def.Question
	}

	result := Result{Primary: primary, Ranking: ranking}
	for _, t := range chart.AllowedTypes {
		if t == primaryType || !feasible(t, ranking) {
			continue
		}
		alt := r.build(t, ranking, agg, gran)
		alt.CoreQuestion = Question(alt)
		result.Alternatives = append(result.Alternatives, alt)
	}
	return result
}

// ForType builds a candidate for a chart type the user locked
func (r *Recommender) ForType(t chart.ChartType, in Input, ranking Ranking) chart.ChartCandidate {
	agg := chart.AggCount
	if def, ok := in.Policy.SceneDefault(in.Scene); ok && def.Aggregation.Valid() && ranking.Top(chart.SlotMetric) != "" {
		agg = def.Aggregation
	}
	c := r.build(t, ranking, agg, in.Stats.Sample().DefaultGranularity())
	c.Source = chart.FromUser
	c.CoreQuestion = Question(c)
	return c
}

// frequencyView is the default when no scene question applies
func frequencyView(ranking Ranking) chart.ChartType {
	if ranking.Top(chart.SlotTime) != "" {
		return chart.ChartLine
	}
	return chart.ChartBar
}

func feasible(t chart.ChartType, ranking Ranking) bool {
	hasTime := ranking.Top(chart.SlotTime) != ""
	dims := len(ranking[chart.SlotDimension])
	switch t {
	case chart.ChartLine:
		return hasTime
	case chart.ChartPie:
		return dims > 0
	case chart.ChartHeatmap:
		return dims > 1 || (dims > 0 && hasTime)
	default:
		return true
	}
}

func (r *Recommender) build(t chart.ChartType, ranking Ranking, agg chart.Aggregation, gran chart.Granularity) chart.ChartCandidate {
	timeField := ranking.Top(chart.SlotTime)
	dim := ranking.Top(chart.SlotDimension)
	dim2 := ranking.Top(chart.SlotDimension2)
	metric := ""
	if agg == chart.AggSum || agg == chart.AggAvg {
		metric = ranking.Top(chart.SlotMetric)
	}

	plan := chart.FieldPlan{Aggregation: agg}
	if metric != "" {
		plan.Metric = metric
	}
	var slots []chart.Slot
	switch t {
	case chart.ChartLine:
		plan.TimeField, plan.TimeGranularity, plan.Dimension = timeField, gran, dim
		slots = []chart.Slot{chart.SlotTime, chart.SlotDimension}
	case chart.ChartPie:
		plan.Dimension = dim
		slots = []chart.Slot{chart.SlotDimension}
	case chart.ChartHeatmap:
		if dim2 != "" {
			plan.Dimension, plan.Dimension2 = dim, dim2
			slots = []chart.Slot{chart.SlotDimension, chart.SlotDimension2}
		} else {
			plan.TimeField, plan.TimeGranularity, plan.Dimension = timeField, gran, dim
			slots = []chart.Slot{chart.SlotTime, chart.SlotDimension}
		}
	default:
		if dim != "" {
			plan.Dimension = dim
			slots = []chart.Slot{chart.SlotDimension}
		} else if timeField != "" {
			plan.TimeField, plan.TimeGranularity = timeField, gran
			slots = []chart.Slot{chart.SlotTime}
		}
	}
	if metric != "" {
		slots = append(slots, chart.SlotMetric)
	}
	if plan.Metric == "" && plan.Aggregation != chart.AggCount {
		plan.Aggregation = chart.AggCount
	}

	return chart.ChartCandidate{
		ChartType:  t,
		FieldPlan:  plan,
		Confidence: confidence(ranking, slots),
		Source:     chart.FromFallback,
	}
}

// confidence is the weakest rule confidence among the slots the plan uses
func confidence(ranking Ranking, slots []chart.Slot) float64 {
	if len(slots) == 0 {
		return 0
	}
	conf := 1.0
	for _, slot := range slots {
		if list := ranking[slot]; len(list) > 0 {
			conf = math.Min(conf, list[0].Confidence())
		}
	}
	return math.Round(conf*100) / 100
}

// PlanSlots lists the slots a plan fills
func PlanSlots(p chart.FieldPlan) []chart.Slot {
	var out []chart.Slot
	for _, slot := range chart.AllSlots {
		if p.Get(slot) != "" {
			out = append(out, slot)
		}
	}
	return out
}

// Question phrases the core question a candidate answers
func Question(c chart.ChartCandidate) string {
	p := c.FieldPlan
	value := "note count"
	if p.Metric != "" {
		value = fmt.Sprintf("%s of %s", p.Aggregation, p.Metric)
	}
	switch c.ChartType {
	case chart.ChartLine:
		if p.Dimension != "" {
			return fmt.Sprintf("How does the %s change over time by %s?", value, p.Dimension)
		}
		return fmt.Sprintf("How does the %s change over time?", value)
	case chart.ChartPie:
		return fmt.Sprintf("How is the %s split across %s?", value, p.Dimension)
	case chart.ChartHeatmap:
		x, y, _ := statistics.HeatmapAxes(p)
		return fmt.Sprintf("Where do %s and %s meet most often?", x.Field, y.Field)
	default:
		if p.Dimension != "" {
			return fmt.Sprintf("Which %s leads on %s?", p.Dimension, value)
		}
		if p.TimeField != "" {
			return fmt.Sprintf("What is the %s per %s?", value, p.TimeGranularity)
		}
		return "How many notes are there in total?"
	}
}
