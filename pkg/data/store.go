package data

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/afetlabs/afet/pkg/fairness"
)

const (
	insertBatchSize = 500

	insertPredictionSQL = `INSERT INTO prediction (
			dataset, model, seq, score, predicted, label, attributes, weight
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectMaxSeqSQL = `SELECT COALESCE(MAX(seq), 0)
		FROM prediction
		WHERE dataset = ? AND model = ?
	`

	selectPredictionsSQL = `SELECT score, predicted, label, attributes, weight
		FROM prediction
		WHERE dataset = ? AND model = ?
		ORDER BY seq
	`

	selectModelsSQL = `SELECT DISTINCT model
		FROM prediction
		WHERE dataset = ?
		ORDER BY model
	`

	selectDatasetsSQL = `SELECT dataset, model, COUNT(*) AS records
		FROM prediction
		GROUP BY dataset, model
		ORDER BY dataset, model
	`

	deleteDatasetSQL = `DELETE FROM prediction WHERE dataset = ?`

	insertEvaluationSQL = `INSERT INTO evaluation (
			dataset, model, attribute, kind, created_at, result
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`
)

// storedPrediction is the row shape of the prediction table; attributes
// travel as a JSON object in a text column.
type storedPrediction struct {
	Score      float64 `db:"score"`
	Predicted  int     `db:"predicted"`
	Label      int     `db:"label"`
	Attributes string  `db:"attributes"`
	Weight     float64 `db:"weight"`
}

// DatasetInfo is one (dataset, model) pair with its record count.
type DatasetInfo struct {
	Dataset string `db:"dataset" json:"dataset"`
	Model   string `db:"model" json:"model"`
	Records int    `db:"records" json:"records"`
}

// InsertPredictions stores a batch of records for (dataset, model).
func InsertPredictions(db *sqlx.DB, dataset, model string, records []fairness.PredictionRecord) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	if dataset == "" || model == "" {
		return 0, errors.New("dataset and model are required")
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	// seq preserves insertion order across appends to the same pair;
	// the unique (dataset, model, seq) index turns a concurrent append
	// racing this read into a constraint error rather than a duplicate
	var seq int
	if err := tx.Get(&seq, db.Rebind(selectMaxSeqSQL), dataset, model); err != nil {
		return 0, errors.Wrap(err, "failed to read max sequence")
	}

	stmt, err := tx.Preparex(db.Rebind(insertPredictionSQL))
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		attrs, err := json.Marshal(r.Attributes)
		if err != nil {
			return 0, errors.Wrap(err, "failed to encode record attributes")
		}
		seq++
		if _, err := stmt.Exec(dataset, model, seq, r.Score, r.Predicted, r.Label, string(attrs), r.EffectiveWeight()); err != nil {
			return 0, errors.Wrapf(err, "failed to insert prediction %d", inserted)
		}
		inserted++
		if inserted%insertBatchSize == 0 {
			log.Debugf("inserted %d predictions for %s/%s", inserted, dataset, model)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit predictions")
	}
	return inserted, nil
}

// GetPredictions loads the records stored for (dataset, model).
func GetPredictions(db *sqlx.DB, dataset, model string) ([]fairness.PredictionRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Queryx(db.Rebind(selectPredictionsSQL), dataset, model)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query predictions for %s/%s", dataset, model)
	}
	defer rows.Close()

	list := make([]fairness.PredictionRecord, 0)
	for rows.Next() {
		var sp storedPrediction
		if err := rows.StructScan(&sp); err != nil {
			return nil, errors.Wrap(err, "failed to scan prediction row")
		}
		r := fairness.PredictionRecord{
			Score:     sp.Score,
			Predicted: sp.Predicted,
			Label:     sp.Label,
			Weight:    sp.Weight,
		}
		if err := json.Unmarshal([]byte(sp.Attributes), &r.Attributes); err != nil {
			return nil, errors.Wrap(err, "failed to decode record attributes")
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// GetModelPredictions loads every model's records in a dataset, keyed
// by model identifier.
func GetModelPredictions(db *sqlx.DB, dataset string) (map[string][]fairness.PredictionRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var models []string
	if err := db.Select(&models, db.Rebind(selectModelsSQL), dataset); err != nil {
		return nil, errors.Wrapf(err, "failed to list models for dataset %s", dataset)
	}

	out := make(map[string][]fairness.PredictionRecord, len(models))
	for _, m := range models {
		recs, err := GetPredictions(db, dataset, m)
		if err != nil {
			return nil, err
		}
		out[m] = recs
	}
	return out, nil
}

// ListDatasets lists the stored (dataset, model) pairs with counts.
func ListDatasets(db *sqlx.DB) ([]DatasetInfo, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	list := make([]DatasetInfo, 0)
	if err := db.Select(&list, selectDatasetsSQL); err != nil {
		return nil, errors.Wrap(err, "failed to list datasets")
	}
	return list, nil
}

// DeleteDataset removes every prediction in a dataset.
func DeleteDataset(db *sqlx.DB, dataset string) (int64, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}

	res, err := db.Exec(db.Rebind(deleteDatasetSQL), dataset)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete dataset %s", dataset)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return n, nil
}

// SaveEvaluation persists a computed result as a JSON blob so past
// evaluations stay queryable next to their inputs.
func SaveEvaluation(db *sqlx.DB, dataset, model, attribute, kind string, result any) error {
	if db == nil {
		return errDBNotInitialized
	}

	b, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to encode evaluation result")
	}

	created := time.Now().UTC().Format(time.RFC3339)
	if _, err := db.Exec(db.Rebind(insertEvaluationSQL), dataset, model, attribute, kind, created, string(b)); err != nil {
		return errors.Wrapf(err, "failed to save %s evaluation for %s/%s", kind, dataset, model)
	}
	return nil
}
