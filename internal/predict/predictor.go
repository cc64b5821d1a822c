// Package predict forecasts the next methane, CO and temperature values from
// the latest reading and classifies each forecast.
package predict

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gassentry/internal/model"
	"gassentry/internal/status"
)

var ErrUnavailable = errors.New("predictor unavailable")

// InferenceError wraps a failure inside one regressor call.
type InferenceError struct {
	Metric model.Metric
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("inference: %v", e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Metric, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

type ModelPaths struct {
	Methane     string
	CO          string
	Temperature string
}

type Predictor struct {
	mu          sync.Mutex
	methane     Regressor
	co          Regressor
	temperature Regressor
	thresholds  model.Thresholds
	cause       error
}

// Load reads all three models. Any failure is returned; callers that want to
// keep running pass the error to Unavailable.
func Load(paths ModelPaths, th model.Thresholds) (*Predictor, error) {
	m, err := LoadRegressor(paths.Methane)
	if err != nil {
		return nil, fmt.Errorf("methane model: %w", err)
	}
	c, err := LoadRegressor(paths.CO)
	if err != nil {
		return nil, fmt.Errorf("co model: %w", err)
	}
	t, err := LoadRegressor(paths.Temperature)
	if err != nil {
		return nil, fmt.Errorf("temperature model: %w", err)
	}
	return New(m, c, t, th), nil
}

func New(methane, co, temperature Regressor, th model.Thresholds) *Predictor {
	return &Predictor{methane: methane, co: co, temperature: temperature, thresholds: th}
}

// Unavailable returns a predictor whose every call fails with ErrUnavailable.
// Model files are deployment artifacts, so there is no retry.
func Unavailable(cause error) *Predictor {
	if cause == nil {
		cause = errors.New("models not loaded")
	}
	return &Predictor{cause: cause}
}

func (p *Predictor) Available() bool {
	return p.cause == nil
}

func (p *Predictor) Predict(r model.Reading) (model.Prediction, error) {
	if p.cause != nil {
		return model.Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, p.cause)
	}
	features := []float64{float64(r.Methane), float64(r.CO), r.Temperature}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return model.Prediction{}, &InferenceError{Err: fmt.Errorf("non-finite input %v", f)}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pm, err := run(p.methane, model.MetricMethane, features)
	if err != nil {
		return model.Prediction{}, err
	}
	pc, err := run(p.co, model.MetricCO, features)
	if err != nil {
		return model.Prediction{}, err
	}
	pt, err := run(p.temperature, model.MetricTemperature, features)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{
		MethaneForecast:     pm,
		COForecast:          pc,
		TemperatureForecast: pt,
		MethaneVerdict:      status.ClassifySet(pm, p.thresholds.Methane),
		COVerdict:           status.ClassifySet(pc, p.thresholds.CO),
		TemperatureVerdict:  status.ClassifySet(pt, p.thresholds.Temperature),
	}, nil
}

func run(r Regressor, m model.Metric, features []float64) (float64, error) {
	in := make([]float64, len(features))
	copy(in, features)
	y, err := r.Predict(in)
	if err != nil {
		return 0, &InferenceError{Metric: m, Err: err}
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, &InferenceError{Metric: m, Err: fmt.Errorf("non-finite forecast %v", y)}
	}
	return y, nil
}
