// Package mitigation provides bias-mitigation transforms over
// prediction records: pre-processing sample reweighing and calibrated
// equalized-odds post-processing. Both implement the Mitigator
// interface; the variant is selected by configuration tag, never by
// inheritance-style embedding.
package mitigation

import (
	"fmt"
	"strconv"

	"github.com/afetlabs/afet/pkg/fairness"
)

// Method tags the mitigation algorithm a Model was fitted by.
type Method string

const (
	MethodReweighing       Method = "reweighing"
	MethodCalibratedEqOdds Method = "calibrated_eq_odds"
)

// CostConstraint selects which error rate the calibrated equalized-odds
// postprocessing equalizes across groups.
type CostConstraint string

const (
	CostFPR      CostConstraint = "fpr"
	CostFNR      CostConstraint = "fnr"
	CostWeighted CostConstraint = "weighted"
)

// GroupParams holds the per-group parameters fitted by the calibrated
// equalized-odds postprocessing.
type GroupParams struct {
	BaseRate float64 `json:"base_rate"`
	MixRate  float64 `json:"mix_rate"`

	// Cost is the group's constrained error rate after mixing.
	Cost        float64 `json:"cost"`
	Approximate bool    `json:"approximate,omitempty"`
}

// Model holds the parameters learned by one Fit call. Models are
// immutable value objects: refitting produces a new instance, and
// Transform never modifies the model it is given.
type Model struct {
	Method         Method `json:"method"`
	Attribute      string `json:"attribute"`
	FavorableLabel int    `json:"favorable_label"`

	// CellWeights maps group|label cells to reweighing weights.
	CellWeights map[string]float64 `json:"cell_weights,omitempty"`

	// Groups holds calibrated equalized-odds parameters per group.
	Groups           map[fairness.GroupKey]*GroupParams `json:"groups,omitempty"`
	Constraint       CostConstraint                     `json:"constraint,omitempty"`
	Tolerance        float64                            `json:"tolerance,omitempty"`
	UnfavorableLabel int                                `json:"unfavorable_label,omitempty"`

	// Approximate is set when any fitted parameter is a best-effort
	// approximation rather than an exact solution.
	Approximate bool     `json:"approximate,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// FailedRecord pairs a record index with the error that rejected it.
type FailedRecord struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

// TransformResult carries the transformed records plus the records
// rejected with a domain mismatch. The batch never aborts on an
// individual rejection.
type TransformResult struct {
	Records []fairness.PredictionRecord `json:"records"`
	Failed  []FailedRecord              `json:"failed,omitempty"`
}

// Mitigator is the shared fit/transform contract over prediction
// records. Implementations hold no mutable state between calls: all
// fitted parameters live in the returned Model.
type Mitigator interface {
	Fit(records []fairness.PredictionRecord) (*Model, error)
	Transform(model *Model, records []fairness.PredictionRecord) (*TransformResult, error)
}

// Config selects and parameterizes a mitigation variant.
type Config struct {
	Method         Method         `json:"method" yaml:"method"`
	Attribute      string         `json:"attribute" yaml:"attribute"`
	FavorableLabel int            `json:"favorable_label" yaml:"favorable_label"`
	Constraint     CostConstraint `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	Tolerance      float64        `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	GridStep       float64        `json:"grid_step,omitempty" yaml:"grid_step,omitempty"`
	Strict         bool           `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// New returns the Mitigator selected by cfg.Method.
func New(cfg Config) (Mitigator, error) {
	if cfg.Attribute == "" {
		return nil, fmt.Errorf("mitigation attribute is required")
	}
	switch cfg.Method {
	case MethodReweighing:
		return &Reweighing{Attribute: cfg.Attribute}, nil
	case MethodCalibratedEqOdds:
		return &CalibratedEqOdds{
			Attribute:      cfg.Attribute,
			FavorableLabel: cfg.FavorableLabel,
			Constraint:     cfg.Constraint,
			Tolerance:      cfg.Tolerance,
			GridStep:       cfg.GridStep,
			Strict:         cfg.Strict,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mitigation method: %q", cfg.Method)
	}
}

// cellKey builds the group|label key used by reweighing cell weights.
// The group key escapes separator characters and the label is decimal,
// so distinct cells never share a key.
func cellKey(group fairness.GroupKey, label int) string {
	return string(group) + "|" + strconv.Itoa(label)
}
