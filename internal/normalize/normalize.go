package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gassentry/internal/model"
)

// Heatmap ceilings: raw values at or above these map to intensity 1.
const (
	MethaneCeiling     = 2000.0
	COCeiling          = 500.0
	TemperatureCeiling = 60.0
)

var ErrMissing = errors.New("missing field")

// Fields is the decoded sensor payload before it is tied to a location.
type Fields struct {
	CO   int
	Gas  int
	Temp float64
}

func ToReading(f Fields, loc model.Location, at time.Time) model.Reading {
	return model.Reading{
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		CO:          f.CO,
		Methane:     f.Gas,
		Temperature: f.Temp,
		Timestamp:   at,
	}
}

func ToGeoSample(r model.Reading) model.GeoSample {
	return model.GeoSample{
		Latitude:             r.Latitude,
		Longitude:            r.Longitude,
		MethaneIntensity:     Intensity(float64(r.Methane), MethaneCeiling),
		COIntensity:          Intensity(float64(r.CO), COCeiling),
		TemperatureIntensity: Intensity(r.Temperature, TemperatureCeiling),
	}
}

// Intensity is min(raw/ceiling, 1) clamped to [0,1].
func Intensity(raw, ceiling float64) float64 {
	if ceiling <= 0 || math.IsNaN(raw) {
		return 0
	}
	v := raw / ceiling
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Integer coerces a decoded JSON value the way the sensor's consumers always
// have: numbers truncate toward zero, strings must be base-10 integers.
func Integer(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, ErrMissing
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		return truncate(f)
	case float64:
		return truncate(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	case bool:
		return 0, fmt.Errorf("not a number: %v", n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func Float(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, ErrMissing
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	// ParseFloat accepts "NaN" and "Inf"; neither is a sensor value.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return f, nil
}

func truncate(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int(f), nil
}

// FormatFloat writes the shortest round-tripping form, always with a
// decimal point, so 30 becomes "30.0" and 32.5 stays "32.5".
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
