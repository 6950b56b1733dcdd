package forecast

import (
	"errors"
	"math"
)

// computeMetrics scores predictions against held-out actuals. All slices
// must have equal, nonzero length.
func computeMetrics(actual, pred, lower, upper []float64) (*Metrics, error) {
	n := len(actual)
	if n == 0 || len(pred) != n || len(lower) != n || len(upper) != n {
		return nil, errors.New("metrics: mismatched or empty series")
	}

	var (
		sumAbs, sumSq, sumPct, sumSym float64
		pctN, covered                 int
	)
	for i := 0; i < n; i++ {
		err := pred[i] - actual[i]
		abs := math.Abs(err)
		sumAbs += abs
		sumSq += err * err

		if actual[i] != 0 {
			sumPct += abs / math.Abs(actual[i])
			pctN++
		}
		if denom := math.Abs(actual[i]) + math.Abs(pred[i]); denom != 0 {
			sumSym += 2 * abs / denom
		}
		if actual[i] >= lower[i] && actual[i] <= upper[i] {
			covered++
		}
	}

	m := &Metrics{
		MAE:      sumAbs / float64(n),
		RMSE:     math.Sqrt(sumSq / float64(n)),
		SMAPE:    sumSym / float64(n),
		Coverage: float64(covered) / float64(n),
	}
	if pctN > 0 {
		m.MAPE = sumPct / float64(pctN)
	}
	return m, nil
}
