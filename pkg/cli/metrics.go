package cli

import (
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/data"
	"github.com/afetlabs/afet/pkg/fairness"
)

var (
	datasetFlag = &urfave.StringFlag{
		Name:     "dataset",
		Usage:    "Dataset name",
		Required: true,
	}

	modelFlag = &urfave.StringFlag{
		Name:     "model",
		Usage:    "Model identifier",
		Required: true,
	}

	attributeFlag = &urfave.StringFlag{
		Name:     "attribute",
		Usage:    "Protected attribute to partition on",
		Required: true,
	}

	favorableFlag = &urfave.IntFlag{
		Name:  "favorable",
		Usage: "Label value counting as the favorable outcome (optional, defaults to config)",
		Value: -1,
	}

	thresholdFlag = &urfave.Float64Flag{
		Name:  "threshold",
		Usage: "Four-fifths rule threshold (optional, defaults to config)",
	}

	metricsCmd = &urfave.Command{
		Name:   "metrics",
		Usage:  "Computes group fairness metrics for a stored model's predictions",
		Flags:  []urfave.Flag{datasetFlag, modelFlag, attributeFlag, favorableFlag, thresholdFlag},
		Action: cmdMetrics,
	}
)

// favorableLabel resolves the favorable label from the flag or config.
func favorableLabel(c *urfave.Context) int {
	if v := c.Int(favorableFlag.Name); v >= 0 {
		return v
	}
	return getConfig(c).Conf.FavorableLabel
}

// metricOptions resolves the fairness options from flags or config.
func metricOptions(c *urfave.Context) fairness.Options {
	threshold := c.Float64(thresholdFlag.Name)
	if threshold <= 0 {
		threshold = getConfig(c).Conf.FourFifthsThreshold
	}
	return fairness.Options{FourFifthsThreshold: threshold}
}

func cmdMetrics(c *urfave.Context) error {
	cfg := getConfig(c)
	dataset := c.String(datasetFlag.Name)
	model := c.String(modelFlag.Name)
	attribute := c.String(attributeFlag.Name)

	records, err := data.GetPredictions(cfg.DB, dataset, model)
	if err != nil {
		return err
	}

	res, err := fairness.Compute(records, attribute, favorableLabel(c), metricOptions(c))
	if err != nil {
		return err
	}

	if err := data.SaveEvaluation(cfg.DB, dataset, model, attribute, "metrics", res); err != nil {
		slog.Warn("failed to save evaluation", "error", err)
	}

	return encode(res)
}
