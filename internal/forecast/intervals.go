package forecast

import "math"

// BandEstimator derives confidence bands around a forecast path. The
// default is a declared heuristic, not a statistical prediction
// interval; keeping it behind an interface lets a proper estimator
// (quantile regression, ensembling) replace it without touching callers.
type BandEstimator interface {
	Bands(predictions []float64) (lower, upper []float64)
}

// HeuristicBands produces ±1.96 × (Scale × σ of the forecast path)
// around each point. Scale defaults to 0.10.
type HeuristicBands struct {
	Scale float64
}

func (h HeuristicBands) Bands(predictions []float64) ([]float64, []float64) {
	scale := h.Scale
	if scale <= 0 {
		scale = 0.10
	}
	sd := stddev(predictions) * scale
	margin := 1.96 * sd
	lower := make([]float64, len(predictions))
	upper := make([]float64, len(predictions))
	for i, p := range predictions {
		lower[i] = p - margin
		upper[i] = p + margin
	}
	return lower, upper
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
