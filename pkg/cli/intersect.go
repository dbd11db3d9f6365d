package cli

import (
	"log/slog"
	"strings"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/data"
	"github.com/afetlabs/afet/pkg/fairness"
)

var (
	attributesFlag = &urfave.StringSliceFlag{
		Name:     "attribute",
		Usage:    "Protected attribute (repeatable, order defines the subgroup tuple)",
		Required: true,
	}

	intersectCmd = &urfave.Command{
		Name:   "intersect",
		Usage:  "Computes intersectional fairness metrics over attribute combinations",
		Flags:  []urfave.Flag{datasetFlag, modelFlag, attributesFlag, favorableFlag, thresholdFlag},
		Action: cmdIntersect,
	}
)

func cmdIntersect(c *urfave.Context) error {
	cfg := getConfig(c)
	dataset := c.String(datasetFlag.Name)
	model := c.String(modelFlag.Name)
	attributes := c.StringSlice(attributesFlag.Name)

	records, err := data.GetPredictions(cfg.DB, dataset, model)
	if err != nil {
		return err
	}

	res, err := fairness.ComputeIntersectional(records, attributes, favorableLabel(c), metricOptions(c))
	if err != nil {
		return err
	}

	if worst := res.WorstOffender(); worst != nil && worst.Exceeds {
		slog.Warn("disparity threshold exceeded",
			"attributes", strings.Join(worst.Attributes, ","),
			"group", string(worst.WorstGroup),
			"ratio", worst.DisparateImpactRatio)
	}

	if err := data.SaveEvaluation(cfg.DB, dataset, model, strings.Join(attributes, ","), "intersect", res); err != nil {
		slog.Warn("failed to save evaluation", "error", err)
	}

	return encode(res)
}
