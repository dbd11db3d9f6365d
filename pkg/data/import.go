package data

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/afetlabs/afet/pkg/fairness"
)

// ImportOptions maps file columns to record fields. Column names refer
// to the CSV header; JSON files decode straight into records.
type ImportOptions struct {
	Dataset string
	Model   string

	// ScoreColumn is optional: without it the predicted label doubles
	// as the score.
	ScoreColumn     string
	PredictedColumn string
	LabelColumn     string

	// AttributeColumns restricts which columns become protected
	// attributes; empty means every column not otherwise mapped.
	AttributeColumns []string
}

func (o *ImportOptions) defaults() {
	if o.PredictedColumn == "" {
		o.PredictedColumn = "predicted"
	}
	if o.LabelColumn == "" {
		o.LabelColumn = "label"
	}
}

// ImportSummary reports what an import did. Skipped rows carry their
// reason in Warnings; nothing is dropped silently.
type ImportSummary struct {
	Dataset  string   `json:"dataset"`
	Model    string   `json:"model"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ImportCSV loads a header-driven CSV of predictions into the store.
func ImportCSV(db *sqlx.DB, path string, opts ImportOptions) (*ImportSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if opts.Dataset == "" || opts.Model == "" {
		return nil, errors.New("dataset and model are required")
	}
	opts.defaults()

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open import file: %s", path)
	}
	defer file.Close()

	records, summary, err := parseCSV(file, opts)
	if err != nil {
		return nil, err
	}

	n, err := InsertPredictions(db, opts.Dataset, opts.Model, records)
	if err != nil {
		return nil, err
	}
	summary.Inserted = n

	log.Debugf("imported %d predictions from %s into %s/%s", n, path, opts.Dataset, opts.Model)
	return summary, nil
}

func parseCSV(r io.Reader, opts ImportOptions) ([]fairness.PredictionRecord, *ImportSummary, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read CSV header")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}

	predIdx, ok := cols[opts.PredictedColumn]
	if !ok {
		return nil, nil, errors.Errorf("predicted column %q not found in header", opts.PredictedColumn)
	}
	labelIdx, ok := cols[opts.LabelColumn]
	if !ok {
		return nil, nil, errors.Errorf("label column %q not found in header", opts.LabelColumn)
	}
	scoreIdx := -1
	if opts.ScoreColumn != "" {
		if scoreIdx, ok = cols[opts.ScoreColumn]; !ok {
			return nil, nil, errors.Errorf("score column %q not found in header", opts.ScoreColumn)
		}
	}

	attrCols := opts.AttributeColumns
	if len(attrCols) == 0 {
		for _, h := range header {
			if h == opts.PredictedColumn || h == opts.LabelColumn || h == opts.ScoreColumn {
				continue
			}
			attrCols = append(attrCols, h)
		}
	} else {
		for _, a := range attrCols {
			if _, ok := cols[a]; !ok {
				return nil, nil, errors.Errorf("attribute column %q not found in header", a)
			}
		}
	}

	summary := &ImportSummary{Dataset: opts.Dataset, Model: opts.Model}
	records := make([]fairness.PredictionRecord, 0)

	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read CSV line %d", line)
		}

		rec, err := parseRow(row, cols, attrCols, scoreIdx, predIdx, labelIdx)
		if err != nil {
			summary.Skipped++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("line %d skipped: %v", line, err))
			continue
		}
		records = append(records, rec)
	}

	return records, summary, nil
}

func parseRow(row []string, cols map[string]int, attrCols []string, scoreIdx, predIdx, labelIdx int) (fairness.PredictionRecord, error) {
	var rec fairness.PredictionRecord

	predicted, err := strconv.Atoi(row[predIdx])
	if err != nil {
		return rec, fmt.Errorf("invalid predicted value %q", row[predIdx])
	}
	label, err := strconv.Atoi(row[labelIdx])
	if err != nil {
		return rec, fmt.Errorf("invalid label value %q", row[labelIdx])
	}

	score := float64(predicted)
	if scoreIdx >= 0 {
		if score, err = strconv.ParseFloat(row[scoreIdx], 64); err != nil {
			return rec, fmt.Errorf("invalid score value %q", row[scoreIdx])
		}
	}

	attrs := make(map[string]string, len(attrCols))
	for _, a := range attrCols {
		v := row[cols[a]]
		if v == "" {
			return rec, fmt.Errorf("missing value for attribute %q", a)
		}
		attrs[a] = v
	}

	rec = fairness.PredictionRecord{
		Score:      score,
		Predicted:  predicted,
		Label:      label,
		Attributes: attrs,
	}
	return rec, nil
}

// ImportJSON loads a JSON array of prediction records into the store.
func ImportJSON(db *sqlx.DB, path string, opts ImportOptions) (*ImportSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if opts.Dataset == "" || opts.Model == "" {
		return nil, errors.New("dataset and model are required")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read import file: %s", path)
	}

	var records []fairness.PredictionRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, errors.Wrapf(err, "failed to decode import file: %s", path)
	}

	summary := &ImportSummary{Dataset: opts.Dataset, Model: opts.Model}
	valid := make([]fairness.PredictionRecord, 0, len(records))
	for i, r := range records {
		if len(r.Attributes) == 0 {
			summary.Skipped++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("record %d skipped: no attributes", i))
			continue
		}
		valid = append(valid, r)
	}

	n, err := InsertPredictions(db, opts.Dataset, opts.Model, valid)
	if err != nil {
		return nil, err
	}
	summary.Inserted = n

	log.Debugf("imported %d predictions from %s into %s/%s", n, path, opts.Dataset, opts.Model)
	return summary, nil
}
