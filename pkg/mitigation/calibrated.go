package mitigation

import (
	"fmt"
	"math"
	"sort"

	"github.com/afetlabs/afet/pkg/fairness"
)

const (
	// DefaultTolerance bounds how far a group's constrained error rate
	// may sit from the target before the fit is flagged approximate.
	DefaultTolerance = 0.02

	// DefaultGridStep is the mixing-rate search resolution.
	DefaultGridStep = 0.001
)

// CalibratedEqOdds derives a per-group mixing rate between the original
// score and a trivial base-rate predictor so the chosen error rate
// (generalized FPR, FNR, or their weighted combination) is equal across
// groups while each group's calibration is preserved.
//
// Mixing is deterministic: the transformed score is the convex blend
// (1-p)*score + p*base_rate. A randomized coin flip per record has the
// same expected error rates; the blend was chosen for reproducibility.
type CalibratedEqOdds struct {
	Attribute      string
	FavorableLabel int
	Constraint     CostConstraint
	Tolerance      float64
	GridStep       float64

	// Strict surfaces *fairness.InfeasibleConstraintError instead of
	// keeping the closest approximation.
	Strict bool
}

// groupFit is the per-group evidence gathered during Fit.
type groupFit struct {
	key       fairness.GroupKey
	weight    float64
	baseRate  float64
	meanScore float64
	gfpr      float64 // E[score | unfavorable]
	gfnr      float64 // E[1-score | favorable]
	negatives float64
	positives float64
}

// Fit estimates per-group base rates and generalized error rates, then
// grid-searches the mixing rate that raises every group's constrained
// cost to the worst group's level within tolerance.
func (ce *CalibratedEqOdds) Fit(records []fairness.PredictionRecord) (*Model, error) {
	if ce.Attribute == "" {
		return nil, fmt.Errorf("attribute is required")
	}
	if len(records) == 0 {
		return nil, &fairness.InsufficientDataError{Attribute: ce.Attribute}
	}

	constraint := ce.Constraint
	if constraint == "" {
		constraint = CostWeighted
	}
	tolerance := ce.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	step := ce.GridStep
	if step <= 0 {
		step = DefaultGridStep
	}

	fits, unfavorable, warnings, err := ce.gatherGroups(records, constraint)
	if err != nil {
		return nil, err
	}
	if len(fits) < 2 {
		return nil, &fairness.InsufficientDataError{Attribute: ce.Attribute}
	}

	m := &Model{
		Method:           MethodCalibratedEqOdds,
		Attribute:        ce.Attribute,
		FavorableLabel:   ce.FavorableLabel,
		Constraint:       constraint,
		Tolerance:        tolerance,
		UnfavorableLabel: unfavorable,
		Groups:           make(map[fairness.GroupKey]*GroupParams, len(fits)),
		Warnings:         warnings,
	}

	// The worst group keeps its predictor; every other group mixes
	// toward its base rate until its cost reaches the target.
	target := 0.0
	for i, f := range fits {
		c := mixedCost(f, constraint, 0)
		if i == 0 || c > target {
			target = c
		}
	}

	for _, f := range fits {
		best, bestCost := searchMixRate(f, constraint, target, step)
		gp := &GroupParams{BaseRate: f.baseRate, MixRate: best, Cost: bestCost}

		if math.Abs(bestCost-target) > tolerance {
			infeasible := &fairness.InfeasibleConstraintError{
				Group:      f.key,
				Constraint: string(constraint),
				Target:     target,
				Achieved:   bestCost,
				Tolerance:  tolerance,
			}
			if ce.Strict {
				return nil, infeasible
			}
			gp.Approximate = true
			m.Approximate = true
			m.Warnings = append(m.Warnings, infeasible.Error())
		}

		if math.Abs(f.meanScore-f.baseRate) > tolerance {
			m.Warnings = append(m.Warnings,
				fmt.Sprintf("group %q scores are not calibrated at fit: mean score %.4f vs base rate %.4f",
					f.key, f.meanScore, f.baseRate))
		}

		m.Groups[f.key] = gp
	}

	return m, nil
}

func (ce *CalibratedEqOdds) gatherGroups(records []fairness.PredictionRecord, constraint CostConstraint) ([]groupFit, int, []string, error) {
	byGroup := make(map[fairness.GroupKey]*groupFit)
	labelMass := make(map[int]float64)
	rejected := 0

	for _, r := range records {
		v, ok := r.Attributes[ce.Attribute]
		if !ok || v == "" {
			rejected++
			continue
		}
		key := fairness.NewGroupKey(v)
		f, found := byGroup[key]
		if !found {
			f = &groupFit{key: key}
			byGroup[key] = f
		}

		w := r.EffectiveWeight()
		f.weight += w
		f.meanScore += w * r.Score
		if r.Label == ce.FavorableLabel {
			f.positives += w
			f.baseRate += w
			f.gfnr += w * (1 - r.Score)
		} else {
			f.negatives += w
			f.gfpr += w * r.Score
			labelMass[r.Label] += w
		}
	}

	if len(byGroup) == 0 {
		return nil, 0, nil, &fairness.InsufficientDataError{Attribute: ce.Attribute}
	}

	fits := make([]groupFit, 0, len(byGroup))
	for _, f := range byGroup {
		f.baseRate /= f.weight
		f.meanScore /= f.weight
		if constraint != CostFNR && f.negatives == 0 {
			return nil, 0, nil, &fairness.InsufficientDataError{
				Attribute: ce.Attribute, Group: f.key, Outcome: "unfavorable",
			}
		}
		if constraint != CostFPR && f.positives == 0 {
			return nil, 0, nil, &fairness.InsufficientDataError{
				Attribute: ce.Attribute, Group: f.key, Outcome: "favorable",
			}
		}
		if f.negatives > 0 {
			f.gfpr /= f.negatives
		}
		if f.positives > 0 {
			f.gfnr /= f.positives
		}
		fits = append(fits, *f)
	}
	sort.Slice(fits, func(i, j int) bool { return fits[i].key < fits[j].key })

	// binary outcomes expected; with several unfavorable labels the
	// dominant one stands in when re-thresholding predictions
	unfavorable := 0
	var unfavorableMass float64
	distinct := 0
	for l, mass := range labelMass {
		distinct++
		if mass > unfavorableMass {
			unfavorable, unfavorableMass = l, mass
		}
	}

	var warnings []string
	if rejected > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d records rejected during fit: missing value for %q", rejected, ce.Attribute))
	}
	if distinct == 0 {
		// all-favorable fit (only reachable under the fnr constraint):
		// the re-threshold label must not collide with the favorable one
		if ce.FavorableLabel == 0 {
			unfavorable = 1
		}
		warnings = append(warnings,
			fmt.Sprintf("no unfavorable outcomes seen during fit, transform re-thresholds to %d", unfavorable))
	}
	if distinct > 1 {
		warnings = append(warnings,
			fmt.Sprintf("%d distinct unfavorable labels seen, transform re-thresholds to %d", distinct, unfavorable))
	}

	return fits, unfavorable, warnings, nil
}

// mixedCost is the group's constrained error rate after mixing its
// scores with the trivial base-rate predictor at rate p. The trivial
// predictor has generalized FPR equal to the base rate and generalized
// FNR equal to its complement.
func mixedCost(f groupFit, constraint CostConstraint, p float64) float64 {
	fpr := (1-p)*f.gfpr + p*f.baseRate
	fnr := (1-p)*f.gfnr + p*(1-f.baseRate)
	switch constraint {
	case CostFPR:
		return fpr
	case CostFNR:
		return fnr
	default:
		return 0.5 * (fpr + fnr)
	}
}

// searchMixRate scans p over [0,1] for the cost closest to target. The
// cost is linear in p, so the scan is monotonic between its endpoints;
// a grid is used instead of the closed form to keep the weighted
// constraint and future cost shapes on one code path.
func searchMixRate(f groupFit, constraint CostConstraint, target, step float64) (best, bestCost float64) {
	best = 0
	bestCost = mixedCost(f, constraint, 0)
	bestDiff := math.Abs(bestCost - target)

	for p := step; p <= 1+step/2; p += step {
		if p > 1 {
			p = 1
		}
		c := mixedCost(f, constraint, p)
		if d := math.Abs(c - target); d < bestDiff {
			best, bestCost, bestDiff = p, c, d
		}
		if p == 1 {
			break
		}
	}
	return best, bestCost
}

// Transform blends each record's score toward its group's base rate at
// the fitted mixing rate and re-thresholds the predicted label at 0.5.
// Records from groups never seen during fit are collected as failed.
func (ce *CalibratedEqOdds) Transform(model *Model, records []fairness.PredictionRecord) (*TransformResult, error) {
	if model == nil || model.Method != MethodCalibratedEqOdds {
		return nil, fmt.Errorf("model was not fitted by calibrated equalized-odds postprocessing")
	}

	res := &TransformResult{Records: make([]fairness.PredictionRecord, 0, len(records))}
	for i, r := range records {
		v, ok := r.Attributes[model.Attribute]
		if !ok || v == "" {
			res.Failed = append(res.Failed, FailedRecord{
				Index: i,
				Err:   &fairness.DomainMismatchError{Field: "attribute " + model.Attribute, Value: ""},
			})
			continue
		}

		gp, ok := model.Groups[fairness.NewGroupKey(v)]
		if !ok {
			res.Failed = append(res.Failed, FailedRecord{
				Index: i,
				Err:   &fairness.DomainMismatchError{Field: "group", Value: v},
			})
			continue
		}

		out := r.Clone()
		out.Score = (1-gp.MixRate)*r.Score + gp.MixRate*gp.BaseRate
		if out.Score >= 0.5 {
			out.Predicted = model.FavorableLabel
		} else {
			out.Predicted = model.UnfavorableLabel
		}
		res.Records = append(res.Records, out)
	}

	return res, nil
}
