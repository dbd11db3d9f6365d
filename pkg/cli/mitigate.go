package cli

import (
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/data"
	"github.com/afetlabs/afet/pkg/fairness"
	"github.com/afetlabs/afet/pkg/mitigation"
)

var (
	methodFlag = &urfave.StringFlag{
		Name:  "method",
		Usage: "Mitigation method [reweighing, calibrated_eq_odds]",
		Value: string(mitigation.MethodReweighing),
	}

	constraintFlag = &urfave.StringFlag{
		Name:  "constraint",
		Usage: "Cost constraint for calibrated_eq_odds [fpr, fnr, weighted]",
		Value: string(mitigation.CostWeighted),
	}

	toleranceFlag = &urfave.Float64Flag{
		Name:  "tolerance",
		Usage: "Parity tolerance (optional, defaults to config)",
	}

	strictFlag = &urfave.BoolFlag{
		Name:  "strict",
		Usage: "Fail on infeasible constraints instead of approximating",
	}

	mitigateCmd = &urfave.Command{
		Name:   "mitigate",
		Usage:  "Fits a bias-mitigation model and reports before/after disparity",
		Flags:  []urfave.Flag{datasetFlag, modelFlag, attributeFlag, favorableFlag, thresholdFlag, methodFlag, constraintFlag, toleranceFlag, strictFlag},
		Action: cmdMitigate,
	}
)

// mitigationOutput is the command's report: the fitted model plus the
// disparity movement it produced on the fitted data.
type mitigationOutput struct {
	Model  *mitigation.Model `json:"model"`
	Before *disparitySummary `json:"before"`
	After  *disparitySummary `json:"after"`
	Failed int               `json:"failed_records,omitempty"`
}

type disparitySummary struct {
	StatisticalParityDiff float64 `json:"statistical_parity_diff"`
	DisparateImpactRatio  float64 `json:"disparate_impact_ratio"`
	EqualizedOddsDiff     float64 `json:"equalized_odds_diff"`
	BelowFourFifths       bool    `json:"below_four_fifths"`
}

func summarize(r *fairness.MetricResult) *disparitySummary {
	return &disparitySummary{
		StatisticalParityDiff: r.StatisticalParityDiff,
		DisparateImpactRatio:  r.DisparateImpactRatio,
		EqualizedOddsDiff:     r.EqualizedOddsDiff,
		BelowFourFifths:       r.BelowFourFifths,
	}
}

func cmdMitigate(c *urfave.Context) error {
	cfg := getConfig(c)
	dataset := c.String(datasetFlag.Name)
	model := c.String(modelFlag.Name)
	attribute := c.String(attributeFlag.Name)
	favorable := favorableLabel(c)
	opts := metricOptions(c)

	tolerance := c.Float64(toleranceFlag.Name)
	if tolerance <= 0 {
		tolerance = cfg.Conf.CalibrationTolerance
	}

	mit, err := mitigation.New(mitigation.Config{
		Method:         mitigation.Method(c.String(methodFlag.Name)),
		Attribute:      attribute,
		FavorableLabel: favorable,
		Constraint:     mitigation.CostConstraint(c.String(constraintFlag.Name)),
		Tolerance:      tolerance,
		GridStep:       cfg.Conf.GridStep,
		Strict:         c.Bool(strictFlag.Name),
	})
	if err != nil {
		return err
	}

	records, err := data.GetPredictions(cfg.DB, dataset, model)
	if err != nil {
		return err
	}

	before, err := fairness.Compute(records, attribute, favorable, opts)
	if err != nil {
		return err
	}

	fitted, err := mit.Fit(records)
	if err != nil {
		return err
	}
	for _, w := range fitted.Warnings {
		slog.Warn(w)
	}

	transformed, err := mit.Transform(fitted, records)
	if err != nil {
		return err
	}

	after, err := fairness.Compute(transformed.Records, attribute, favorable, opts)
	if err != nil {
		return err
	}

	out := &mitigationOutput{
		Model:  fitted,
		Before: summarize(before),
		After:  summarize(after),
		Failed: len(transformed.Failed),
	}

	if err := data.SaveEvaluation(cfg.DB, dataset, model, attribute, "mitigate", out); err != nil {
		slog.Warn("failed to save evaluation", "error", err)
	}

	return encode(out)
}
