package mitigation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afetlabs/afet/pkg/fairness"
)

func mrec(group string, predicted, label int) fairness.PredictionRecord {
	return fairness.PredictionRecord{
		Score:      float64(predicted),
		Predicted:  predicted,
		Label:      label,
		Attributes: map[string]string{"group": group},
	}
}

// label depends on group: A favors 1, B favors 0
func dependentRecords() []fairness.PredictionRecord {
	records := make([]fairness.PredictionRecord, 0, 80)
	for i := 0; i < 30; i++ {
		records = append(records, mrec("A", 1, 1))
	}
	for i := 0; i < 10; i++ {
		records = append(records, mrec("A", 0, 0))
	}
	for i := 0; i < 10; i++ {
		records = append(records, mrec("B", 1, 1))
	}
	for i := 0; i < 30; i++ {
		records = append(records, mrec("B", 0, 0))
	}
	return records
}

func TestReweighing_FitWeights(t *testing.T) {
	rw := &Reweighing{Attribute: "group"}

	model, err := rw.Fit(dependentRecords())
	require.NoError(t, err)
	require.Equal(t, MethodReweighing, model.Method)
	require.Len(t, model.CellWeights, 4)

	// w(A,1) = P(A)P(1)/P(A,1) = (0.5*0.5)/0.375
	assert.InDelta(t, 2.0/3.0, model.CellWeights[cellKey(fairness.NewGroupKey("A"), 1)], 1e-9)
	assert.InDelta(t, 2.0, model.CellWeights[cellKey(fairness.NewGroupKey("A"), 0)], 1e-9)
	assert.False(t, model.Approximate)
}

func TestReweighing_IndependenceProperty(t *testing.T) {
	records := dependentRecords()
	rw := &Reweighing{Attribute: "group"}

	model, err := rw.Fit(records)
	require.NoError(t, err)

	res, err := rw.Transform(model, records)
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Records, len(records))

	// after weighting, the joint (group, label) mass equals the product
	// of the weighted marginals
	groupMass := make(map[string]float64)
	labelMass := make(map[int]float64)
	cellMassByGroupLabel := make(map[string]float64)
	var total float64
	for _, r := range res.Records {
		g := r.Attributes["group"]
		w := r.EffectiveWeight()
		groupMass[g] += w
		labelMass[r.Label] += w
		cellMassByGroupLabel[g+"|"+string(rune('0'+r.Label))] += w
		total += w
	}

	for g, gm := range groupMass {
		for l, lm := range labelMass {
			joint := cellMassByGroupLabel[g+"|"+string(rune('0'+l))]
			assert.InDelta(t, gm*lm/total, joint, 1e-9, "cell (%s,%d)", g, l)
		}
	}
}

func TestReweighing_ZeroCellDefaultsToOne(t *testing.T) {
	// group B never sees label 1
	records := make([]fairness.PredictionRecord, 0, 30)
	for i := 0; i < 10; i++ {
		records = append(records, mrec("A", 1, 1))
	}
	for i := 0; i < 10; i++ {
		records = append(records, mrec("A", 0, 0))
	}
	for i := 0; i < 10; i++ {
		records = append(records, mrec("B", 0, 0))
	}

	rw := &Reweighing{Attribute: "group"}
	model, err := rw.Fit(records)
	require.NoError(t, err)

	assert.Equal(t, 1.0, model.CellWeights[cellKey(fairness.NewGroupKey("B"), 1)])
	assert.True(t, model.Approximate)
	assert.NotEmpty(t, model.Warnings)
}

func TestReweighing_TransformDomainMismatch(t *testing.T) {
	records := dependentRecords()
	rw := &Reweighing{Attribute: "group"}
	model, err := rw.Fit(records)
	require.NoError(t, err)

	batch := []fairness.PredictionRecord{
		mrec("A", 1, 1),
		mrec("C", 1, 1), // unseen group
		mrec("B", 0, 0),
		{Predicted: 1, Label: 1, Attributes: map[string]string{}}, // missing attribute
	}

	res, err := rw.Transform(model, batch)
	require.NoError(t, err)

	assert.Len(t, res.Records, 2)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, 3, res.Failed[1].Index)

	var mismatch *fairness.DomainMismatchError
	assert.True(t, errors.As(res.Failed[0].Err, &mismatch))
}

func TestReweighing_TransformDoesNotMutateInput(t *testing.T) {
	records := dependentRecords()
	rw := &Reweighing{Attribute: "group"}
	model, err := rw.Fit(records)
	require.NoError(t, err)

	_, err = rw.Transform(model, records)
	require.NoError(t, err)
	assert.Equal(t, 0.0, records[0].Weight)
}

func TestReweighing_SeparatorInValues(t *testing.T) {
	// group values containing the key separator get distinct cells
	records := []fairness.PredictionRecord{
		mrec("g", 1, 1),
		mrec("g", 0, 0),
		mrec("g|1", 1, 1),
		mrec("g|1", 0, 0),
	}

	rw := &Reweighing{Attribute: "group"}
	model, err := rw.Fit(records)
	require.NoError(t, err)
	require.Len(t, model.CellWeights, 4)
	assert.NotEqual(t,
		cellKey(fairness.NewGroupKey("g"), 1),
		cellKey(fairness.NewGroupKey("g|1"), 1))

	res, err := rw.Transform(model, records)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Records, 4)
}

func TestReweighing_FitEmpty(t *testing.T) {
	rw := &Reweighing{Attribute: "group"}
	_, err := rw.Fit(nil)

	var insufficient *fairness.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestReweighing_TransformWrongModel(t *testing.T) {
	rw := &Reweighing{Attribute: "group"}
	_, err := rw.Transform(&Model{Method: MethodCalibratedEqOdds}, nil)
	assert.Error(t, err)
}

func TestNew_SelectsVariant(t *testing.T) {
	m, err := New(Config{Method: MethodReweighing, Attribute: "group"})
	require.NoError(t, err)
	assert.IsType(t, &Reweighing{}, m)

	m, err = New(Config{Method: MethodCalibratedEqOdds, Attribute: "group", FavorableLabel: 1})
	require.NoError(t, err)
	assert.IsType(t, &CalibratedEqOdds{}, m)

	_, err = New(Config{Method: "unknown", Attribute: "group"})
	assert.Error(t, err)

	_, err = New(Config{Method: MethodReweighing})
	assert.Error(t, err)
}
