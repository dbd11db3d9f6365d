package fairness

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(group string, predicted, label int) PredictionRecord {
	return PredictionRecord{
		Score:      float64(predicted),
		Predicted:  predicted,
		Label:      label,
		Attributes: map[string]string{"group": group},
	}
}

// two groups A (80 records, 40 favorable) and B (20 records, 5 favorable)
func fourFifthsScenario() []PredictionRecord {
	records := make([]PredictionRecord, 0, 100)
	for i := 0; i < 80; i++ {
		p := 0
		if i < 40 {
			p = 1
		}
		records = append(records, rec("A", p, p))
	}
	for i := 0; i < 20; i++ {
		p := 0
		if i < 5 {
			p = 1
		}
		records = append(records, rec("B", p, p))
	}
	return records
}

func TestCompute_FourFifthsScenario(t *testing.T) {
	res, err := Compute(fourFifthsScenario(), "group", 1, Options{})
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	assert.InDelta(t, 0.5, res.Groups[NewGroupKey("A")].SelectionRate, 1e-9)
	assert.InDelta(t, 0.25, res.Groups[NewGroupKey("B")].SelectionRate, 1e-9)

	assert.InDelta(t, 0.5, res.DisparateImpactRatio, 1e-9)
	assert.InDelta(t, 0.25, res.StatisticalParityDiff, 1e-9)
	assert.True(t, res.BelowFourFifths)
	assert.Equal(t, NewGroupKey("B"), res.Disparities[RateSelection].MinGroup)
}

func TestCompute_PartitionCompleteness(t *testing.T) {
	records := fourFifthsScenario()
	records = append(records, PredictionRecord{Predicted: 1, Label: 1, Attributes: map[string]string{"other": "x"}})

	res, err := Compute(records, "group", 1, Options{})
	require.NoError(t, err)

	counted := 0
	for _, g := range res.Groups {
		counted += g.Count
	}
	assert.Equal(t, res.Total, counted+res.Rejected)
	assert.Equal(t, 1, res.Rejected)
	assert.NotEmpty(t, res.Warnings)
}

func TestCompute_DuplicationInvariance(t *testing.T) {
	base := fourFifthsScenario()
	res, err := Compute(base, "group", 1, Options{})
	require.NoError(t, err)

	tripled := make([]PredictionRecord, 0, 3*len(base))
	for i := 0; i < 3; i++ {
		tripled = append(tripled, base...)
	}
	res3, err := Compute(tripled, "group", 1, Options{})
	require.NoError(t, err)

	assert.InDelta(t, res.DisparateImpactRatio, res3.DisparateImpactRatio, 1e-12)
	assert.InDelta(t, res.StatisticalParityDiff, res3.StatisticalParityDiff, 1e-12)
}

func TestCompute_UndefinedRateExcluded(t *testing.T) {
	// group C has only favorable labels: no negatives, so FPR is undefined
	records := fourFifthsScenario()
	for i := 0; i < 10; i++ {
		records = append(records, rec("C", 1, 1))
	}

	res, err := Compute(records, "group", 1, Options{})
	require.NoError(t, err)

	c := res.Groups[NewGroupKey("C")]
	require.NotNil(t, c)
	assert.True(t, math.IsNaN(c.FPR))
	assert.False(t, c.RateDefined(RateFPR))
	assert.Contains(t, c.Undefined, RateFPR)

	// disparity over the two groups that still have a defined FPR
	d := res.Disparities[RateFPR]
	assert.False(t, d.Undefined)
	assert.Equal(t, 2, d.Groups)
	assert.NotEqual(t, NewGroupKey("C"), d.MaxGroup)
	assert.NotEqual(t, NewGroupKey("C"), d.MinGroup)
}

func TestCompute_DisparityUndefinedWithOneGroup(t *testing.T) {
	records := []PredictionRecord{rec("A", 1, 1), rec("A", 0, 0)}

	res, err := Compute(records, "group", 1, Options{})
	require.NoError(t, err)

	d := res.Disparities[RateSelection]
	assert.True(t, d.Undefined)
	assert.True(t, math.IsNaN(d.Ratio))
	assert.False(t, res.BelowFourFifths)
}

func TestCompute_EmptyRecords(t *testing.T) {
	_, err := Compute(nil, "group", 1, Options{})
	require.Error(t, err)

	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestCompute_AllRecordsRejected(t *testing.T) {
	records := []PredictionRecord{
		{Predicted: 1, Label: 1, Attributes: map[string]string{"other": "x"}},
	}
	_, err := Compute(records, "group", 1, Options{})

	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestCompute_MissingAttributeName(t *testing.T) {
	_, err := Compute(fourFifthsScenario(), "", 1, Options{})
	assert.Error(t, err)
}

func TestCompute_WeightedRecords(t *testing.T) {
	// doubling a record's weight moves the selection rate accordingly
	records := []PredictionRecord{
		rec("A", 1, 1),
		rec("A", 0, 0),
		rec("B", 1, 1),
		rec("B", 0, 0),
	}
	records[0].Weight = 3

	res, err := Compute(records, "group", 1, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.Groups[NewGroupKey("A")].SelectionRate, 1e-9)
	assert.InDelta(t, 0.5, res.Groups[NewGroupKey("B")].SelectionRate, 1e-9)
}

func TestCompute_ThresholdOption(t *testing.T) {
	// DIR of 0.5 passes a 0.4 threshold
	res, err := Compute(fourFifthsScenario(), "group", 1, Options{FourFifthsThreshold: 0.4})
	require.NoError(t, err)
	assert.False(t, res.BelowFourFifths)
	assert.Equal(t, 0.4, res.FourFifthsThreshold)
}

func TestOverallAccuracy(t *testing.T) {
	records := []PredictionRecord{
		rec("A", 1, 1),
		rec("A", 1, 0),
		rec("B", 0, 0),
		rec("B", 0, 1),
	}
	res, err := Compute(records, "group", 1, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.OverallAccuracy(), 1e-9)
}

func TestGroupKey_Values(t *testing.T) {
	k := NewGroupKey("f", "b")
	assert.Equal(t, []string{"f", "b"}, k.Values())
	assert.Equal(t, []string{"f"}, NewGroupKey("f").Values())
}

func TestGroupKey_SeparatorInValues(t *testing.T) {
	// distinct tuples must never share a key, whatever the values hold
	a := NewGroupKey("x|y", "z")
	b := NewGroupKey("x", "y|z")
	assert.NotEqual(t, a, b)
	assert.Equal(t, []string{"x|y", "z"}, a.Values())
	assert.Equal(t, []string{"x", "y|z"}, b.Values())

	c := NewGroupKey(`a\`, "b")
	d := NewGroupKey("a", `\b`)
	assert.NotEqual(t, c, d)
	assert.Equal(t, []string{`a\`, "b"}, c.Values())
	assert.Equal(t, []string{"a", `\b`}, d.Values())

	// plain values keep their readable form
	assert.Equal(t, GroupKey("f|b"), NewGroupKey("f", "b"))
}

func TestPredictionRecord_EffectiveWeight(t *testing.T) {
	assert.Equal(t, 1.0, PredictionRecord{}.EffectiveWeight())
	assert.Equal(t, 2.5, PredictionRecord{Weight: 2.5}.EffectiveWeight())
}

func TestPredictionRecord_Clone(t *testing.T) {
	r := rec("A", 1, 1)
	c := r.Clone()
	c.Attributes["group"] = "B"
	assert.Equal(t, "A", r.Attributes["group"])
}
