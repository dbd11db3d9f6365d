package cli

import (
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/afetlabs/afet/pkg/data"
)

var (
	deleteDatasetFlag = &urfave.StringFlag{
		Name:  "delete",
		Usage: "Delete the named dataset's predictions instead of listing (optional)",
	}

	datasetsCmd = &urfave.Command{
		Name:   "datasets",
		Usage:  "Lists the stored datasets and their models",
		Flags:  []urfave.Flag{deleteDatasetFlag},
		Action: cmdDatasets,
	}
)

func cmdDatasets(c *urfave.Context) error {
	cfg := getConfig(c)

	if dataset := c.String(deleteDatasetFlag.Name); dataset != "" {
		n, err := data.DeleteDataset(cfg.DB, dataset)
		if err != nil {
			return err
		}
		slog.Info("dataset deleted", "dataset", dataset, "records", n)
		return nil
	}

	list, err := data.ListDatasets(cfg.DB)
	if err != nil {
		return err
	}

	return encode(list)
}
