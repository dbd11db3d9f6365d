package fairness

import (
	"fmt"
	"math"
)

// SubsetFinding reports the selection-rate disparity for one subset of
// the protected attributes, with the worst-offending subgroup on that
// partition.
type SubsetFinding struct {
	Attributes           []string `json:"attributes"`
	DisparateImpactRatio float64  `json:"disparate_impact_ratio"`
	WorstGroup           GroupKey `json:"worst_group"`
	Exceeds              bool     `json:"exceeds"`
	Undefined            bool     `json:"undefined,omitempty"`
}

// IntersectionalResult extends MetricResult with per-attribute-subset
// disparity findings.
type IntersectionalResult struct {
	MetricResult

	Threshold float64         `json:"threshold"`
	Findings  []SubsetFinding `json:"findings"`
}

// WorstOffender returns the finding with the lowest defined
// disparate-impact ratio, or nil when every subset is undefined.
func (r *IntersectionalResult) WorstOffender() *SubsetFinding {
	var worst *SubsetFinding
	for i := range r.Findings {
		f := &r.Findings[i]
		if f.Undefined || math.IsNaN(f.DisparateImpactRatio) {
			continue
		}
		if worst == nil || f.DisparateImpactRatio < worst.DisparateImpactRatio {
			worst = f
		}
	}
	return worst
}

// ComputeIntersectional partitions records on the Cartesian combination
// of the given attributes (in order) and computes the same metrics as
// Compute over the tuple subgroups. It additionally evaluates every
// non-empty attribute subset and flags those whose selection-rate ratio
// falls below the four-fifths threshold.
//
// Combinatorial sparsity is expected: empty cells degrade to undefined
// rates excluded from aggregates, never failing the computation. With a
// single attribute the result reproduces Compute exactly.
func ComputeIntersectional(records []PredictionRecord, attributes []string, favorable int, opts Options) (*IntersectionalResult, error) {
	if len(attributes) == 0 {
		return nil, fmt.Errorf("at least one attribute is required")
	}

	full, err := computeGrouped(records, attributes, favorable, opts)
	if err != nil {
		return nil, err
	}

	res := &IntersectionalResult{
		MetricResult: *full,
		Threshold:    opts.threshold(),
	}

	for _, subset := range attributeSubsets(attributes) {
		f := SubsetFinding{Attributes: subset, DisparateImpactRatio: math.NaN()}

		sub, err := computeGrouped(records, subset, favorable, opts)
		if err != nil {
			f.Undefined = true
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("subset %v skipped: %v", subset, err))
			res.Findings = append(res.Findings, f)
			continue
		}

		d := sub.Disparities[RateSelection]
		f.Undefined = d.Undefined
		if !d.Undefined {
			f.DisparateImpactRatio = d.Ratio
			f.WorstGroup = d.MinGroup
			f.Exceeds = !math.IsNaN(d.Ratio) && d.Ratio < res.Threshold
		}
		res.Findings = append(res.Findings, f)
	}

	return res, nil
}

// attributeSubsets enumerates the non-empty subsets of the attribute
// list, ordered by size then by position, preserving attribute order
// within each subset.
func attributeSubsets(attributes []string) [][]string {
	n := len(attributes)
	subsets := make([][]string, 0, (1<<n)-1)
	for mask := 1; mask < (1 << n); mask++ {
		s := make([]string, 0, n)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				s = append(s, attributes[i])
			}
		}
		subsets = append(subsets, s)
	}

	// size-major order keeps single-attribute findings first
	sortBySize(subsets)
	return subsets
}

func sortBySize(subsets [][]string) {
	for i := 1; i < len(subsets); i++ {
		for j := i; j > 0 && len(subsets[j]) < len(subsets[j-1]); j-- {
			subsets[j], subsets[j-1] = subsets[j-1], subsets[j]
		}
	}
}
