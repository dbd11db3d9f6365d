package mitigation

import (
	"fmt"

	"github.com/afetlabs/afet/pkg/fairness"
)

// Reweighing assigns each (group, label) cell the weight
// expected/observed, where expected is the cell mass under statistical
// independence of attribute and label. Applying the fitted weights makes
// the weighted joint distribution exactly the product of its marginals
// on the fitted data.
type Reweighing struct {
	Attribute string
}

// Fit computes the per-cell weights. Cells in the seen group x label
// cross product with zero observed mass default to weight 1.0 with a
// recorded warning instead of dividing by zero.
func (rw *Reweighing) Fit(records []fairness.PredictionRecord) (*Model, error) {
	if rw.Attribute == "" {
		return nil, fmt.Errorf("attribute is required")
	}
	if len(records) == 0 {
		return nil, &fairness.InsufficientDataError{Attribute: rw.Attribute}
	}

	groupMass := make(map[fairness.GroupKey]float64)
	labelMass := make(map[int]float64)
	cellMass := make(map[string]float64)
	var total float64
	rejected := 0

	for _, r := range records {
		v, ok := r.Attributes[rw.Attribute]
		if !ok || v == "" {
			rejected++
			continue
		}
		g := fairness.NewGroupKey(v)
		w := r.EffectiveWeight()
		groupMass[g] += w
		labelMass[r.Label] += w
		cellMass[cellKey(g, r.Label)] += w
		total += w
	}

	if total == 0 {
		return nil, &fairness.InsufficientDataError{Attribute: rw.Attribute}
	}

	m := &Model{
		Method:      MethodReweighing,
		Attribute:   rw.Attribute,
		CellWeights: make(map[string]float64, len(cellMass)),
	}
	if rejected > 0 {
		m.Warnings = append(m.Warnings,
			fmt.Sprintf("%d records rejected during fit: missing value for %q", rejected, rw.Attribute))
	}

	for g, gm := range groupMass {
		for l, lm := range labelMass {
			key := cellKey(g, l)
			observed := cellMass[key]
			if observed == 0 {
				m.CellWeights[key] = 1.0
				m.Warnings = append(m.Warnings,
					fmt.Sprintf("cell (%s, %d) has no observations, weight defaults to 1.0", g, l))
				m.Approximate = true
				continue
			}
			// expected/observed = P(g)P(l) / P(g,l)
			m.CellWeights[key] = (gm * lm) / (total * observed)
		}
	}

	return m, nil
}

// Transform applies the fitted cell weights to new records sharing the
// fit-time attribute/label domain. Records whose group or label was
// never seen during fit are collected as failed with a
// *fairness.DomainMismatchError; the rest of the batch proceeds.
func (rw *Reweighing) Transform(model *Model, records []fairness.PredictionRecord) (*TransformResult, error) {
	if model == nil || model.Method != MethodReweighing {
		return nil, fmt.Errorf("model was not fitted by reweighing")
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

		w, ok := model.CellWeights[cellKey(fairness.NewGroupKey(v), r.Label)]
		if !ok {
			res.Failed = append(res.Failed, FailedRecord{
				Index: i,
				Err:   &fairness.DomainMismatchError{Field: "group/label cell", Value: cellKey(fairness.NewGroupKey(v), r.Label)},
			})
			continue
		}

		out := r.Clone()
		out.Weight = r.EffectiveWeight() * w
		res.Records = append(res.Records, out)
	}

	return res, nil
}
