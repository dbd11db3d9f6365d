package cli

import (
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/compare"
	"github.com/afetlabs/afet/pkg/data"
	"github.com/afetlabs/afet/pkg/mitigation"
)

var (
	withMitigationFlag = &urfave.StringFlag{
		Name:  "with-mitigation",
		Usage: "Also report post-mitigation disparity [reweighing, calibrated_eq_odds] (optional)",
	}

	compareCmd = &urfave.Command{
		Name:   "compare",
		Usage:  "Ranks every model in a dataset by fairness/accuracy trade-off",
		Flags:  []urfave.Flag{datasetFlag, attributeFlag, favorableFlag, thresholdFlag, withMitigationFlag},
		Action: cmdCompare,
	}
)

func cmdCompare(c *urfave.Context) error {
	cfg := getConfig(c)
	dataset := c.String(datasetFlag.Name)
	attribute := c.String(attributeFlag.Name)

	models, err := data.GetModelPredictions(cfg.DB, dataset)
	if err != nil {
		return err
	}

	opts := compare.Options{
		Metrics:     metricOptions(c),
		Concurrency: cfg.Conf.CompareConcurrency,
	}
	if m := c.String(withMitigationFlag.Name); m != "" {
		opts.Mitigation = &mitigation.Config{
			Method:    mitigation.Method(m),
			Attribute: attribute,
			Tolerance: cfg.Conf.CalibrationTolerance,
			GridStep:  cfg.Conf.GridStep,
		}
	}

	report, err := compare.Compare(c.Context, models, attribute, favorableLabel(c), opts)
	if err != nil {
		return err
	}

	if err := data.SaveEvaluation(cfg.DB, dataset, "", attribute, "compare", report); err != nil {
		slog.Warn("failed to save evaluation", "error", err)
	}

	return encode(report)
}
