package cli

import (
	"log/slog"
	"path/filepath"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/data"
)

var (
	importFileFlag = &urfave.StringFlag{
		Name:     "file",
		Usage:    "Path to the predictions file (.csv or .json)",
		Required: true,
	}

	importDatasetFlag = &urfave.StringFlag{
		Name:     "dataset",
		Usage:    "Dataset name to import into",
		Required: true,
	}

	importModelFlag = &urfave.StringFlag{
		Name:     "model",
		Usage:    "Model identifier the predictions belong to",
		Required: true,
	}

	scoreColFlag = &urfave.StringFlag{
		Name:  "score-col",
		Usage: "CSV column holding the model score (optional)",
	}

	predictedColFlag = &urfave.StringFlag{
		Name:  "predicted-col",
		Usage: "CSV column holding the predicted label",
		Value: "predicted",
	}

	labelColFlag = &urfave.StringFlag{
		Name:  "label-col",
		Usage: "CSV column holding the true label",
		Value: "label",
	}

	attrColsFlag = &urfave.StringSliceFlag{
		Name:  "attr",
		Usage: "Protected attribute column (repeatable, optional: defaults to all unmapped columns)",
	}

	importCmd = &urfave.Command{
		Name:   "import",
		Usage:  "Imports model predictions into the local store",
		Flags:  []urfave.Flag{importFileFlag, importDatasetFlag, importModelFlag, scoreColFlag, predictedColFlag, labelColFlag, attrColsFlag},
		Action: cmdImport,
	}
)

func cmdImport(c *urfave.Context) error {
	cfg := getConfig(c)
	file := c.String(importFileFlag.Name)

	opts := data.ImportOptions{
		Dataset:          c.String(importDatasetFlag.Name),
		Model:            c.String(importModelFlag.Name),
		ScoreColumn:      c.String(scoreColFlag.Name),
		PredictedColumn:  c.String(predictedColFlag.Name),
		LabelColumn:      c.String(labelColFlag.Name),
		AttributeColumns: c.StringSlice(attrColsFlag.Name),
	}

	var (
		summary *data.ImportSummary
		err     error
	)
	if filepath.Ext(file) == ".json" {
		summary, err = data.ImportJSON(cfg.DB, file, opts)
	} else {
		summary, err = data.ImportCSV(cfg.DB, file, opts)
	}
	if err != nil {
		return err
	}

	slog.Debug("import done", "inserted", summary.Inserted, "skipped", summary.Skipped)
	return encode(summary)
}
