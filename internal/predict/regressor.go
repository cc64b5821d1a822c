package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FeatureCount is the input width every model is trained on:
// methane ppm, CO ppm, temperature °C.
const FeatureCount = 3

type Regressor interface {
	Predict(features []float64) (float64, error)
}

// Artifact is the on-disk form of a trained model. Forest trees use the flat
// parallel-array layout random-forest exporters produce: node i is a leaf
// when ChildrenLeft[i] == -1.
type Artifact struct {
	Kind         string      `json:"kind"`
	Intercept    float64     `json:"intercept,omitempty"`
	Coefficients []float64   `json:"coefficients,omitempty"`
	Trees        []TreeNodes `json:"trees,omitempty"`
}

type TreeNodes struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
}

func LoadRegressor(path string) (Regressor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	r, err := a.Regressor()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (a Artifact) Regressor() (Regressor, error) {
	switch a.Kind {
	case "linear":
		if len(a.Coefficients) != FeatureCount {
			return nil, fmt.Errorf("linear model needs %d coefficients, got %d", FeatureCount, len(a.Coefficients))
		}
		return &Linear{Intercept: a.Intercept, Coefficients: a.Coefficients}, nil
	case "forest":
		if len(a.Trees) == 0 {
			return nil, errors.New("forest model has no trees")
		}
		for i, t := range a.Trees {
			if err := t.validate(); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &Forest{Trees: a.Trees}, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", a.Kind)
	}
}

type Linear struct {
	Intercept    float64
	Coefficients []float64
}

func (l *Linear) Predict(features []float64) (float64, error) {
	if len(features) != len(l.Coefficients) {
		return 0, fmt.Errorf("expected %d features, got %d", len(l.Coefficients), len(features))
	}
	y := l.Intercept
	for i, c := range l.Coefficients {
		y += c * features[i]
	}
	return y, nil
}

// Forest averages the leaf values of its trees.
type Forest struct {
	Trees []TreeNodes
}

func (f *Forest) Predict(features []float64) (float64, error) {
	if len(features) != FeatureCount {
		return 0, fmt.Errorf("expected %d features, got %d", FeatureCount, len(features))
	}
	sum := 0.0
	for i := range f.Trees {
		v, err := f.Trees[i].eval(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += v
	}
	return sum / float64(len(f.Trees)), nil
}

func (t *TreeNodes) validate() error {
	n := len(t.Value)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenLeft) != n || len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n {
		return errors.New("node arrays differ in length")
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == -1 {
			continue
		}
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= FeatureCount {
			return fmt.Errorf("node %d: feature %d out of range", i, t.Feature[i])
		}
	}
	return nil
}

// eval walks from the root. validate guarantees children have larger
// indices than their parent, so the walk terminates.
func (t *TreeNodes) eval(x []float64) (float64, error) {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node], nil
}
