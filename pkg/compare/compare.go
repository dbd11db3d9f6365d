// Package compare ranks candidate models by fairness/accuracy trade-off.
package compare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/afetlabs/afet/pkg/fairness"
	"github.com/afetlabs/afet/pkg/mitigation"
)

// DefaultConcurrency caps the parallel per-model metric computations.
const DefaultConcurrency = 4

// Options configures one comparison run.
type Options struct {
	Metrics fairness.Options

	// Mitigation, when set, is fitted and applied per model and the
	// post-mitigation disparate impact is reported alongside.
	Mitigation *mitigation.Config

	Concurrency int
}

// Entry is one model's row in the comparison report. Err is set when
// the model's metrics could not be computed; such entries keep their
// place in the report instead of aborting the comparison.
type Entry struct {
	Model    string  `json:"model"`
	Accuracy float64 `json:"accuracy"`

	StatisticalParityDiff float64 `json:"statistical_parity_diff"`
	DisparateImpactRatio  float64 `json:"disparate_impact_ratio"`
	EqualOpportunityDiff  float64 `json:"equal_opportunity_diff"`
	EqualizedOddsDiff     float64 `json:"equalized_odds_diff"`
	BelowFourFifths       bool    `json:"below_four_fifths"`

	MitigatedImpactRatio float64 `json:"mitigated_impact_ratio,omitempty"`
	MitigationWarnings   int     `json:"mitigation_warnings,omitempty"`

	Err string `json:"error,omitempty"`
}

// Report is the assembled comparison, entries ranked by distance from
// parity then accuracy.
type Report struct {
	Attribute      string  `json:"attribute"`
	FavorableLabel int     `json:"favorable_label"`
	Entries        []Entry `json:"entries"`
}

// Compare computes fairness metrics for every candidate model over the
// same protected attribute. Models run in parallel; a model failing
// with insufficient data gets a placeholder entry rather than failing
// the whole comparison.
func Compare(ctx context.Context, models map[string][]fairness.PredictionRecord, attribute string, favorable int, opts Options) (*Report, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("no models to compare")
	}
	if attribute == "" {
		return nil, fmt.Errorf("attribute is required")
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]Entry, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i] = evaluate(id, models[id], attribute, favorable, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rank(entries)
	return &Report{Attribute: attribute, FavorableLabel: favorable, Entries: entries}, nil
}

func evaluate(id string, records []fairness.PredictionRecord, attribute string, favorable int, opts Options) Entry {
	e := Entry{Model: id}

	res, err := fairness.Compute(records, attribute, favorable, opts.Metrics)
	if err != nil {
		var insufficient *fairness.InsufficientDataError
		if errors.As(err, &insufficient) {
			e.Err = err.Error()
			return e
		}
		e.Err = fmt.Sprintf("metric computation failed: %v", err)
		return e
	}

	e.Accuracy = res.OverallAccuracy()
	e.StatisticalParityDiff = res.StatisticalParityDiff
	e.DisparateImpactRatio = res.DisparateImpactRatio
	e.EqualOpportunityDiff = res.EqualOpportunityDiff
	e.EqualizedOddsDiff = res.EqualizedOddsDiff
	e.BelowFourFifths = res.BelowFourFifths

	if opts.Mitigation != nil {
		applyMitigation(&e, records, attribute, favorable, opts)
	}
	return e
}

// applyMitigation fits the configured mitigator on the model's records,
// transforms them, and records the post-mitigation disparate impact.
// Mitigation failures degrade the entry with an error note but keep the
// raw metrics.
func applyMitigation(e *Entry, records []fairness.PredictionRecord, attribute string, favorable int, opts Options) {
	cfg := *opts.Mitigation
	if cfg.Attribute == "" {
		cfg.Attribute = attribute
	}
	if cfg.Method == mitigation.MethodCalibratedEqOdds {
		cfg.FavorableLabel = favorable
	}

	mit, err := mitigation.New(cfg)
	if err != nil {
		e.Err = fmt.Sprintf("mitigation setup failed: %v", err)
		return
	}

	model, err := mit.Fit(records)
	if err != nil {
		e.Err = fmt.Sprintf("mitigation fit failed: %v", err)
		return
	}

	tr, err := mit.Transform(model, records)
	if err != nil {
		e.Err = fmt.Sprintf("mitigation transform failed: %v", err)
		return
	}

	mitigated, err := fairness.Compute(tr.Records, attribute, favorable, opts.Metrics)
	if err != nil {
		e.Err = fmt.Sprintf("post-mitigation metrics failed: %v", err)
		return
	}

	e.MitigatedImpactRatio = mitigated.DisparateImpactRatio
	e.MitigationWarnings = len(model.Warnings) + len(tr.Failed)
}

// rank orders entries by disparate-impact distance from parity, ties
// broken by accuracy, failed entries last by model id.
func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Err == "" && b.Err != "":
			return true
		case a.Err != "" && b.Err == "":
			return false
		case a.Err != "" && b.Err != "":
			return a.Model < b.Model
		}

		da, db := parityDistance(a.DisparateImpactRatio), parityDistance(b.DisparateImpactRatio)
		if da != db {
			return da < db
		}
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return a.Model < b.Model
	})
}

func parityDistance(ratio float64) float64 {
	if math.IsNaN(ratio) {
		return math.Inf(1)
	}
	return math.Abs(1 - ratio)
}
