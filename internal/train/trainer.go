package train

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricescout/pricescout/internal/forecast"
	"github.com/pricescout/pricescout/internal/store"
)

// ErrEngineFailure marks a training run the forecast engine could not
// complete. The item is skipped; nothing is written.
var ErrEngineFailure = errors.New("forecast engine failure")

// InsufficientDataError reports an item below the observation threshold.
type InsufficientDataError struct {
	ItemID    int64
	Points    int
	MinPoints int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("item %d has %d observations, need %d", e.ItemID, e.Points, e.MinPoints)
}

// Options configures a Trainer. Zero values fall back to the pipeline
// defaults.
type Options struct {
	MinPoints       int
	HorizonDays     int
	RetrainInterval time.Duration
	FitTimeout      time.Duration
	Hyper           forecast.HyperParams
}

func (o Options) withDefaults() Options {
	if o.MinPoints <= 0 {
		o.MinPoints = 30
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = 365
	}
	if o.RetrainInterval <= 0 {
		o.RetrainInterval = 7 * 24 * time.Hour
	}
	if o.FitTimeout <= 0 {
		o.FitTimeout = 2 * time.Minute
	}
	return o
}

// TrainReport summarizes one successful training run.
type TrainReport struct {
	ItemID  int64             `json:"item_id"`
	Version string            `json:"version"`
	Rows    int               `json:"rows"`
	Metrics *forecast.Metrics `json:"metrics,omitempty"`
}

// BatchReport summarizes a train-all pass.
type BatchReport struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// Trainer runs training for one item or for every due item, persisting
// each run as a new active model version.
type Trainer struct {
	store   store.Store
	engine  forecast.Engine
	planner *Planner
	opts    Options
	log     *zap.SugaredLogger
}

// New creates a trainer.
func New(s store.Store, engine forecast.Engine, opts Options, log *zap.SugaredLogger) *Trainer {
	return &Trainer{
		store:   s,
		engine:  engine,
		planner: NewPlanner(s),
		opts:    opts.withDefaults(),
		log:     log,
	}
}

// Planner exposes the trainer's retrain planner.
func (t *Trainer) Planner() *Planner { return t.planner }

// Options exposes the trainer's effective options.
func (t *Trainer) Options() Options { return t.opts }

// TrainOne trains a model for a single item and commits it as the active
// version. An empty version gets a generated time-derived identifier.
// The observation read is point-in-time: a concurrent ingest may or may
// not be reflected, and is picked up by the next scheduled pass.
func (t *Trainer) TrainOne(ctx context.Context, itemID int64, version string) (*TrainReport, error) {
	obs, err := t.store.Observations(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if len(obs) < t.opts.MinPoints {
		return nil, &InsufficientDataError{ItemID: itemID, Points: len(obs), MinPoints: t.opts.MinPoints}
	}

	if version == "" {
		version = newVersion(time.Now().UTC())
	}
	t.log.Infow("training model", "item_id", itemID, "version", version, "points", len(obs))

	points := make([]forecast.Point, len(obs))
	for i, o := range obs {
		points[i] = forecast.Point{T: o.DS.Time, Value: o.Price}
	}

	fitCtx, cancel := context.WithTimeout(ctx, t.opts.FitTimeout)
	defer cancel()

	result, err := t.engine.Fit(fitCtx, points, t.opts.HorizonDays, t.opts.Hyper)
	if err != nil {
		return nil, fmt.Errorf("%w: item %d: %v", ErrEngineFailure, itemID, err)
	}

	params, err := json.Marshal(t.opts.Hyper)
	if err != nil {
		return nil, fmt.Errorf("marshal hyperparameters: %w", err)
	}
	var metricsJSON *string
	if result.Metrics != nil {
		raw, err := json.Marshal(result.Metrics)
		if err != nil {
			return nil, fmt.Errorf("marshal metrics: %w", err)
		}
		s := string(raw)
		metricsJSON = &s
	}

	rows := make([]store.ForecastPoint, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = store.ForecastPoint{
			ItemID:    itemID,
			DS:        store.NewDate(r.T),
			Yhat:      r.Yhat,
			YhatLower: r.Lower,
			YhatUpper: r.Upper,
			Version:   version,
		}
	}

	mv := store.ModelVersion{
		ItemID:     itemID,
		Version:    version,
		ModelType:  t.engine.ModelType(),
		TrainStart: obs[0].DS,
		TrainEnd:   obs[len(obs)-1].DS,
		Params:     string(params),
		Metrics:    metricsJSON,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.CommitVersion(ctx, mv, rows); err != nil {
		return nil, err
	}

	t.log.Infow("model trained", "item_id", itemID, "version", version, "rows", len(rows))
	return &TrainReport{
		ItemID:  itemID,
		Version: version,
		Rows:    len(rows),
		Metrics: result.Metrics,
	}, nil
}

// TrainAll trains every item the planner marks as due. One item's failure
// is recorded and does not stop the rest; items not due are counted as
// skipped. The loop checks ctx between items, so cancellation takes
// effect at item boundaries.
func (t *Trainer) TrainAll(ctx context.Context) (*BatchReport, error) {
	candidates, err := t.planner.EligibleItems(ctx, t.opts.MinPoints, t.opts.RetrainInterval)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Total: len(candidates)}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !c.NeedsRetrain {
			report.Skipped++
			t.log.Debugw("skipping recently trained item", "item_id", c.ID, "sku", c.SKU)
			continue
		}

		if _, err := t.TrainOne(ctx, c.ID, ""); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("item %d (%s): %v", c.ID, c.SKU, err))
			t.log.Warnw("training failed", "item_id", c.ID, "sku", c.SKU, "error", err)
			continue
		}
		report.Successful++
	}

	t.log.Infow("training pass complete",
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return report, nil
}

// newVersion builds a time-derived identifier. The random suffix keeps two
// runs within the same second from colliding.
func newVersion(now time.Time) string {
	return fmt.Sprintf("fc_v%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}
