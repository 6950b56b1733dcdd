package forecast

import (
	"context"
	"time"
)

// Point is one historical observation handed to the engine.
type Point struct {
	T     time.Time
	Value float64
}

// Row is one forecast output row. Lower <= Yhat <= Upper always holds.
type Row struct {
	T     time.Time
	Yhat  float64
	Lower float64
	Upper float64
}

// Metrics are cross-validated accuracy numbers from a trailing holdout.
// MAPE and SMAPE are fractions, Coverage is the share of held-out actuals
// inside the predicted interval.
type Metrics struct {
	MAE      float64 `json:"mae"`
	MAPE     float64 `json:"mape"`
	RMSE     float64 `json:"rmse"`
	SMAPE    float64 `json:"smape"`
	Coverage float64 `json:"coverage"`
}

// HyperParams are model knobs passed through from configuration. The
// pipeline never interprets them; they travel into the engine and into
// each trained version's metadata.
type HyperParams struct {
	WeeklySeasonality     bool    `json:"weekly_seasonality"`
	YearlySeasonality     bool    `json:"yearly_seasonality"`
	DailySeasonality      bool    `json:"daily_seasonality"`
	SeasonalityMode       string  `json:"seasonality_mode"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale"`
}

// Result is a fitted model's output: rows covering the historical range
// plus the requested horizon, and best-effort accuracy metrics (nil when
// evaluation failed).
type Result struct {
	Rows    []Row
	Metrics *Metrics
}

// Engine fits a model to one item's history and produces a forward
// forecast with uncertainty bounds. Implementations must keep no state
// across calls; every item gets a fresh model.
type Engine interface {
	ModelType() string
	Fit(ctx context.Context, points []Point, horizonDays int, hp HyperParams) (*Result, error)
}
