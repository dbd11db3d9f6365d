package fairness

import (
	"math"
	"strings"
)

const (
	// DefaultFourFifthsThreshold is the conventional four-fifths rule:
	// the minority/majority selection-rate ratio should be >= 0.8.
	DefaultFourFifthsThreshold = 0.8

	keySep = "|"
	keyEsc = `\`
)

// Rate names used as keys in MetricResult.Disparities and in
// GroupStats.Undefined.
const (
	RateSelection = "selection_rate"
	RateTPR       = "true_positive_rate"
	RateFPR       = "false_positive_rate"
	RateAccuracy  = "accuracy"
)

// PredictionRecord is one evaluated instance: the model's score and
// predicted label, the true label, and the protected-attribute values
// the instance carries. Records are value objects; transforms return
// copies and never mutate their input.
type PredictionRecord struct {
	Score      float64           `json:"score"`
	Predicted  int               `json:"predicted"`
	Label      int               `json:"label"`
	Attributes map[string]string `json:"attributes"`
	Weight     float64           `json:"weight,omitempty"`
}

// EffectiveWeight treats the zero value as an unweighted record.
func (r PredictionRecord) EffectiveWeight() float64 {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// Clone returns a copy with its own attribute map.
func (r PredictionRecord) Clone() PredictionRecord {
	c := r
	c.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	return c
}

// GroupKey identifies a subgroup by the ordered tuple of protected
// attribute values it was partitioned on. Single-attribute keys read as
// the bare value; intersectional keys join the values in attribute
// order. Separator and escape characters inside a value are escaped so
// distinct tuples never share a key.
type GroupKey string

var keyEscaper = strings.NewReplacer(keyEsc, keyEsc+keyEsc, keySep, keyEsc+keySep)

func NewGroupKey(values ...string) GroupKey {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = keyEscaper.Replace(v)
	}
	return GroupKey(strings.Join(escaped, keySep))
}

// Values splits the key back into the attribute values it was built from.
func (k GroupKey) Values() []string {
	s := string(k)
	vals := make([]string, 0, strings.Count(s, keySep)+1)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case keyEsc[0]:
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case keySep[0]:
			vals = append(vals, b.String())
			b.Reset()
		default:
			b.WriteByte(s[i])
		}
	}
	return append(vals, b.String())
}

// GroupStats holds the confusion-matrix counts and derived rates for one
// subgroup. Counts are weighted sums so reweighed records aggregate
// correctly. Rates with no supporting observations are NaN and named in
// Undefined.
type GroupStats struct {
	Group     GroupKey `json:"group"`
	Count     int      `json:"count"`
	Weight    float64  `json:"weight"`
	Favorable float64  `json:"favorable"`

	TP float64 `json:"tp"`
	FP float64 `json:"fp"`
	TN float64 `json:"tn"`
	FN float64 `json:"fn"`

	SelectionRate float64 `json:"selection_rate"`
	TPR           float64 `json:"true_positive_rate"`
	FPR           float64 `json:"false_positive_rate"`
	Accuracy      float64 `json:"accuracy"`

	Undefined []string `json:"undefined,omitempty"`
}

// Rate returns the named rate, or NaN when the name is unknown.
func (g *GroupStats) Rate(name string) float64 {
	switch name {
	case RateSelection:
		return g.SelectionRate
	case RateTPR:
		return g.TPR
	case RateFPR:
		return g.FPR
	case RateAccuracy:
		return g.Accuracy
	default:
		return math.NaN()
	}
}

// RateDefined reports whether the named rate had any supporting
// observations in this group.
func (g *GroupStats) RateDefined(name string) bool {
	for _, u := range g.Undefined {
		if u == name {
			return false
		}
	}
	return true
}

// Disparity summarizes the spread of one rate across groups. Groups with
// an undefined rate are excluded; when fewer than two groups remain the
// disparity itself is flagged Undefined.
type Disparity struct {
	Metric   string   `json:"metric"`
	Max      float64  `json:"max"`
	Min      float64  `json:"min"`
	MaxGroup GroupKey `json:"max_group"`
	MinGroup GroupKey `json:"min_group"`

	// Diff is max-min, Ratio is min/max (1.0 at parity). Ratio is NaN
	// when the max rate is zero.
	Diff  float64 `json:"diff"`
	Ratio float64 `json:"ratio"`

	// Groups counts the subgroups with a defined rate.
	Groups    int  `json:"groups"`
	Undefined bool `json:"undefined,omitempty"`
}

// MetricResult is the read-only output of a metric computation.
type MetricResult struct {
	Attributes     []string                 `json:"attributes"`
	FavorableLabel int                      `json:"favorable_label"`
	Total          int                      `json:"total"`
	Rejected       int                      `json:"rejected,omitempty"`
	Groups         map[GroupKey]*GroupStats `json:"groups"`
	Disparities    map[string]Disparity     `json:"disparities"`

	StatisticalParityDiff float64 `json:"statistical_parity_diff"`
	DisparateImpactRatio  float64 `json:"disparate_impact_ratio"`
	EqualOpportunityDiff  float64 `json:"equal_opportunity_diff"`
	EqualizedOddsDiff     float64 `json:"equalized_odds_diff"`

	FourFifthsThreshold float64 `json:"four_fifths_threshold"`
	BelowFourFifths     bool    `json:"below_four_fifths"`

	Warnings []string `json:"warnings,omitempty"`
}

// OverallAccuracy is the weighted accuracy across all accepted records.
func (m *MetricResult) OverallAccuracy() float64 {
	var correct, total float64
	for _, g := range m.Groups {
		correct += g.TP + g.TN
		total += g.Weight
	}
	if total == 0 {
		return math.NaN()
	}
	return correct / total
}

// Options carries the explicit configuration for a compute call.
// Thresholds are never package-level mutable state.
type Options struct {
	// FourFifthsThreshold defaults to DefaultFourFifthsThreshold when 0.
	FourFifthsThreshold float64
}

func (o Options) threshold() float64 {
	if o.FourFifthsThreshold <= 0 {
		return DefaultFourFifthsThreshold
	}
	return o.FourFifthsThreshold
}
