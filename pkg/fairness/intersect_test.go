package fairness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func irec(sex, race string, predicted, label int) PredictionRecord {
	return PredictionRecord{
		Score:      float64(predicted),
		Predicted:  predicted,
		Label:      label,
		Attributes: map[string]string{"sex": sex, "race": race},
	}
}

// mixed outcomes in every cell so all rates stay defined
func intersectScenario() []PredictionRecord {
	records := make([]PredictionRecord, 0, 80)
	add := func(sex, race string, selected int) {
		for i := 0; i < 20; i++ {
			p := 0
			if i < selected {
				p = 1
			}
			l := 1 - p%2 // both label classes present
			if i%2 == 0 {
				l = p
			}
			records = append(records, irec(sex, race, p, l))
		}
	}
	add("m", "x", 12)
	add("m", "y", 10)
	add("f", "x", 8)
	add("f", "y", 4)
	return records
}

func TestComputeIntersectional_SingleAttributeMatchesCompute(t *testing.T) {
	records := intersectScenario()

	single, err := Compute(records, "sex", 1, Options{})
	require.NoError(t, err)

	inter, err := ComputeIntersectional(records, []string{"sex"}, 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, *single, inter.MetricResult)
}

func TestComputeIntersectional_TupleGroups(t *testing.T) {
	res, err := ComputeIntersectional(intersectScenario(), []string{"sex", "race"}, 1, Options{})
	require.NoError(t, err)

	require.Len(t, res.Groups, 4)
	g := res.Groups[NewGroupKey("f", "y")]
	require.NotNil(t, g)
	assert.Equal(t, 20, g.Count)
	assert.InDelta(t, 0.2, g.SelectionRate, 1e-9)
}

func TestComputeIntersectional_SubsetFindings(t *testing.T) {
	res, err := ComputeIntersectional(intersectScenario(), []string{"sex", "race"}, 1, Options{})
	require.NoError(t, err)

	// subsets: {sex}, {race}, {sex,race} in size order
	require.Len(t, res.Findings, 3)
	assert.Equal(t, []string{"sex"}, res.Findings[0].Attributes)
	assert.Equal(t, []string{"race"}, res.Findings[1].Attributes)
	assert.Equal(t, []string{"sex", "race"}, res.Findings[2].Attributes)

	// (f, y) selects at 0.2 vs (m, x) at 0.6: the tuple subset is the
	// worst offender and falls below the four-fifths threshold
	worst := res.WorstOffender()
	require.NotNil(t, worst)
	assert.Equal(t, []string{"sex", "race"}, worst.Attributes)
	assert.Equal(t, NewGroupKey("f", "y"), worst.WorstGroup)
	assert.True(t, worst.Exceeds)
	assert.InDelta(t, 0.2/0.6, worst.DisparateImpactRatio, 1e-9)
}

func TestComputeIntersectional_SparseCellsDegrade(t *testing.T) {
	// the (f, y) cell is entirely absent; the computation still succeeds
	records := make([]PredictionRecord, 0, 60)
	for _, c := range []struct{ sex, race string }{{"m", "x"}, {"m", "y"}, {"f", "x"}} {
		for i := 0; i < 20; i++ {
			p := i % 2
			records = append(records, irec(c.sex, c.race, p, p))
		}
	}

	res, err := ComputeIntersectional(records, []string{"sex", "race"}, 1, Options{})
	require.NoError(t, err)
	assert.Len(t, res.Groups, 3)
	assert.Len(t, res.Findings, 3)
}

func TestComputeIntersectional_RecordsMissingOneAttribute(t *testing.T) {
	records := intersectScenario()
	records = append(records, PredictionRecord{
		Predicted:  1,
		Label:      1,
		Attributes: map[string]string{"sex": "m"}, // no race
	})

	res, err := ComputeIntersectional(records, []string{"sex", "race"}, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)

	// the {sex} subset still accepts the record
	assert.Equal(t, []string{"sex"}, res.Findings[0].Attributes)
	assert.False(t, res.Findings[0].Undefined)
}

func TestComputeIntersectional_SeparatorInValues(t *testing.T) {
	// values containing the key separator must still partition into
	// distinct subgroups
	records := []PredictionRecord{
		{Predicted: 1, Label: 1, Attributes: map[string]string{"a": "x|y", "b": "z"}},
		{Predicted: 0, Label: 0, Attributes: map[string]string{"a": "x", "b": "y|z"}},
	}

	res, err := ComputeIntersectional(records, []string{"a", "b"}, 1, Options{})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)

	g := res.Groups[NewGroupKey("x|y", "z")]
	require.NotNil(t, g)
	assert.Equal(t, 1, g.Count)
	assert.Equal(t, []string{"x|y", "z"}, g.Group.Values())
}

func TestComputeIntersectional_NoAttributes(t *testing.T) {
	_, err := ComputeIntersectional(intersectScenario(), nil, 1, Options{})
	assert.Error(t, err)
}

func TestAttributeSubsets(t *testing.T) {
	subsets := attributeSubsets([]string{"a", "b", "c"})
	require.Len(t, subsets, 7)
	assert.Equal(t, []string{"a"}, subsets[0])
	assert.Equal(t, []string{"a", "b", "c"}, subsets[6])
	for _, s := range subsets[3:6] {
		assert.Len(t, s, 2)
	}
}
