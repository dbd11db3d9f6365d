package fairness

import (
	"fmt"
	"math"
	"sort"
)

// Compute partitions records by the given protected attribute and
// derives per-group confusion-matrix rates plus overall disparity
// scalars. favorable identifies the label value that counts as the
// positive outcome. Pure function of its inputs.
//
// Records missing the attribute are rejected and counted in
// MetricResult.Rejected. Compute fails with *InsufficientDataError when
// no record survives rejection; groups missing an outcome class get NaN
// rates named in GroupStats.Undefined and are excluded from disparity.
func Compute(records []PredictionRecord, attribute string, favorable int, opts Options) (*MetricResult, error) {
	if attribute == "" {
		return nil, fmt.Errorf("attribute is required")
	}
	return computeGrouped(records, []string{attribute}, favorable, opts)
}

func computeGrouped(records []PredictionRecord, attributes []string, favorable int, opts Options) (*MetricResult, error) {
	if len(attributes) == 0 {
		return nil, fmt.Errorf("at least one attribute is required")
	}
	if len(records) == 0 {
		return nil, &InsufficientDataError{Attribute: attributes[0]}
	}

	res := &MetricResult{
		Attributes:          append([]string(nil), attributes...),
		FavorableLabel:      favorable,
		Total:               len(records),
		Groups:              make(map[GroupKey]*GroupStats),
		Disparities:         make(map[string]Disparity),
		FourFifthsThreshold: opts.threshold(),
	}

	for _, r := range records {
		key, ok := groupKeyFor(r, attributes)
		if !ok {
			res.Rejected++
			continue
		}

		g, found := res.Groups[key]
		if !found {
			g = &GroupStats{Group: key}
			res.Groups[key] = g
		}

		w := r.EffectiveWeight()
		g.Count++
		g.Weight += w

		selected := r.Predicted == favorable
		positive := r.Label == favorable
		if selected {
			g.Favorable += w
		}
		switch {
		case selected && positive:
			g.TP += w
		case selected && !positive:
			g.FP += w
		case !selected && positive:
			g.FN += w
		default:
			g.TN += w
		}
	}

	if len(res.Groups) == 0 {
		return nil, &InsufficientDataError{Attribute: attributes[0]}
	}
	if res.Rejected > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d of %d records rejected: missing value for %v", res.Rejected, res.Total, attributes))
	}

	for _, g := range res.Groups {
		g.SelectionRate = g.Favorable / g.Weight
		g.TPR = definedRate(g, RateTPR, g.TP, g.TP+g.FN)
		g.FPR = definedRate(g, RateFPR, g.FP, g.FP+g.TN)
		g.Accuracy = (g.TP + g.TN) / g.Weight
	}

	for _, rate := range []string{RateSelection, RateTPR, RateFPR, RateAccuracy} {
		res.Disparities[rate] = disparityOf(res.Groups, rate)
	}

	sel := res.Disparities[RateSelection]
	res.StatisticalParityDiff = sel.Diff
	res.DisparateImpactRatio = sel.Ratio
	res.EqualOpportunityDiff = res.Disparities[RateTPR].Diff
	res.EqualizedOddsDiff = math.Max(res.Disparities[RateTPR].Diff, res.Disparities[RateFPR].Diff)

	if !sel.Undefined && !math.IsNaN(sel.Ratio) && sel.Ratio < res.FourFifthsThreshold {
		res.BelowFourFifths = true
	}

	return res, nil
}

// groupKeyFor builds the subgroup key for a record, rejecting records
// that miss any declared attribute.
func groupKeyFor(r PredictionRecord, attributes []string) (GroupKey, bool) {
	vals := make([]string, 0, len(attributes))
	for _, a := range attributes {
		v, ok := r.Attributes[a]
		if !ok || v == "" {
			return "", false
		}
		vals = append(vals, v)
	}
	return NewGroupKey(vals...), true
}

// definedRate guards the numerator/denominator division: an empty
// outcome class yields NaN and records the rate name on the group.
func definedRate(g *GroupStats, name string, num, den float64) float64 {
	if den == 0 {
		g.Undefined = append(g.Undefined, name)
		return math.NaN()
	}
	return num / den
}

// disparityOf computes the max-min spread and min/max ratio of one rate
// across the groups where it is defined. Iteration is over sorted keys
// so ties resolve deterministically.
func disparityOf(groups map[GroupKey]*GroupStats, rate string) Disparity {
	d := Disparity{Metric: rate, Diff: math.NaN(), Ratio: math.NaN()}

	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		g := groups[k]
		if !g.RateDefined(rate) {
			continue
		}
		v := g.Rate(rate)
		if d.Groups == 0 || v > d.Max {
			d.Max = v
			d.MaxGroup = k
		}
		if d.Groups == 0 || v < d.Min {
			d.Min = v
			d.MinGroup = k
		}
		d.Groups++
	}

	if d.Groups < 2 {
		d.Undefined = true
		return d
	}

	d.Diff = d.Max - d.Min
	if d.Max > 0 {
		d.Ratio = d.Min / d.Max
	}
	return d
}
