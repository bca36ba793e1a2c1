package forecast

import "fmt"

// ScalerParams is the fixed-schema serialized form of a fitted scaler.
// Persisted alongside model weights so training and loading cannot
// drift apart.
type ScalerParams struct {
	DataMin   float64 `json:"data_min"`
	DataMax   float64 `json:"data_max"`
	DataRange float64 `json:"data_range"`
	Scale     float64 `json:"scale"`
	Fitted    bool    `json:"fitted"`
}

// Scaler rescales prices linearly into [0,1] using the observed min/max.
type Scaler struct {
	params ScalerParams
}

// NewScaler returns an unfitted scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// RestoreScaler reconstructs a scaler from persisted parameters.
func RestoreScaler(p ScalerParams) *Scaler {
	return &Scaler{params: p}
}

// Fit learns min/max over the window.
func (s *Scaler) Fit(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("scaler fit: empty input")
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	rng := max - min
	scale := 1.0
	if rng > 0 {
		scale = 1.0 / rng
	}
	s.params = ScalerParams{
		DataMin:   min,
		DataMax:   max,
		DataRange: rng,
		Scale:     scale,
		Fitted:    true,
	}
	return nil
}

// Fitted reports whether parameters are available.
func (s *Scaler) Fitted() bool { return s.params.Fitted }

// Params returns the serializable parameters.
func (s *Scaler) Params() ScalerParams { return s.params }

// Transform maps prices into [0,1]. Values outside the fitted range map
// outside [0,1], which is intentional for forecasting beyond the window.
func (s *Scaler) Transform(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - s.params.DataMin) * s.params.Scale
	}
	return out
}

// Inverse maps scaled values back to price units.
func (s *Scaler) Inverse(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v/s.params.Scale + s.params.DataMin
	}
	return out
}
