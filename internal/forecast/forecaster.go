package forecast

import (
	"context"
	"fmt"
	"time"

	forecaster "github.com/aouyang1/go-forecaster"
	"go.uber.org/zap"
)

// Forecaster is the default Engine, backed by go-forecaster. The library
// self-tunes its seasonality and changepoint components; the configured
// hyperparameters are carried into version metadata unchanged.
type Forecaster struct {
	validationSplit float64
	log             *zap.SugaredLogger
}

// NewForecaster creates the default engine. validationSplit is the share
// of history held out for accuracy evaluation (0 disables evaluation).
func NewForecaster(validationSplit float64, log *zap.SugaredLogger) *Forecaster {
	if validationSplit < 0 || validationSplit >= 1 {
		validationSplit = 0.2
	}
	return &Forecaster{validationSplit: validationSplit, log: log}
}

func (f *Forecaster) ModelType() string { return "go-forecaster" }

// Fit trains a fresh model on the supplied history and predicts over the
// historical range plus horizonDays of daily future dates.
func (f *Forecaster) Fit(ctx context.Context, points []Point, horizonDays int, hp HyperParams) (*Result, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("fit: empty history")
	}
	if horizonDays < 0 {
		horizonDays = 0
	}

	t := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		t[i] = p.T
		y[i] = p.Value
	}

	model, err := forecaster.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	if err := model.Fit(t, y); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := make([]time.Time, 0, len(t)+horizonDays)
	full = append(full, t...)
	last := t[len(t)-1]
	for day := 1; day <= horizonDays; day++ {
		full = append(full, last.AddDate(0, 0, day))
	}

	res, err := model.Predict(full)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(res.Forecast) != len(full) {
		return nil, fmt.Errorf("predict: got %d rows for %d timestamps", len(res.Forecast), len(full))
	}

	rows := make([]Row, len(full))
	for i := range full {
		lower, upper := res.Lower[i], res.Upper[i]
		if lower > upper {
			lower, upper = upper, lower
		}
		rows[i] = Row{
			T:     full[i],
			Yhat:  clamp(res.Forecast[i], lower, upper),
			Lower: lower,
			Upper: upper,
		}
	}

	result := &Result{Rows: rows}

	metrics, err := f.holdoutMetrics(ctx, t, y)
	if err != nil {
		f.log.Warnw("accuracy evaluation skipped", "error", err)
	} else {
		result.Metrics = metrics
	}
	return result, nil
}

// holdoutMetrics refits on the initial window and scores the held-out
// tail. Best effort: any failure is reported to the caller, who records
// the version without metrics.
func (f *Forecaster) holdoutMetrics(ctx context.Context, t []time.Time, y []float64) (*Metrics, error) {
	if f.validationSplit == 0 {
		return nil, fmt.Errorf("holdout disabled")
	}
	n := len(t)
	h := int(float64(n) * f.validationSplit)
	if h > 30 {
		h = 30
	}
	if h < 1 || n-h < 10 {
		return nil, fmt.Errorf("history too short for holdout (%d points)", n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := forecaster.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init holdout model: %w", err)
	}
	if err := model.Fit(t[:n-h], y[:n-h]); err != nil {
		return nil, fmt.Errorf("fit holdout model: %w", err)
	}
	res, err := model.Predict(t[n-h:])
	if err != nil {
		return nil, fmt.Errorf("predict holdout: %w", err)
	}
	if len(res.Forecast) != h {
		return nil, fmt.Errorf("holdout predict: got %d rows for %d timestamps", len(res.Forecast), h)
	}
	return computeMetrics(y[n-h:], res.Forecast, res.Lower, res.Upper)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
