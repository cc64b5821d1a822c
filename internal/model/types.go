package model

import (
	"math"
	"time"
)

type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictWarning Verdict = "WARNING"
	VerdictDanger  Verdict = "DANGER"
)

func (v Verdict) rank() int {
	switch v {
	case VerdictSafe:
		return 0
	case VerdictWarning:
		return 1
	default:
		return 2
	}
}

type Metric string

const (
	MetricMethane     Metric = "methane"
	MetricCO          Metric = "co"
	MetricTemperature Metric = "temperature"
)

// ParseMetric accepts the metric names used by the API and the CSV columns.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "methane", "gas", "ch4":
		return MetricMethane, true
	case "co":
		return MetricCO, true
	case "temperature", "temp":
		return MetricTemperature, true
	}
	return "", false
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Reading is one successful poll of the sensor node. Values are never
// modified after construction.
type Reading struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CO          int       `json:"co"`
	Methane     int       `json:"methane"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

type GeoSample struct {
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	MethaneIntensity     float64 `json:"methane_intensity"`
	COIntensity          float64 `json:"co_intensity"`
	TemperatureIntensity float64 `json:"temp_intensity"`
}

// Intensity returns the sample's normalized value for one metric.
func (g GeoSample) Intensity(m Metric) float64 {
	switch m {
	case MetricMethane:
		return g.MethaneIntensity
	case MetricCO:
		return g.COIntensity
	default:
		return g.TemperatureIntensity
	}
}

type MetricPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Intensity float64 `json:"intensity"`
}

type ThresholdSet struct {
	Safe    float64 `json:"safe" yaml:"safe"`
	Warning float64 `json:"warning" yaml:"warning"`
}

type Thresholds struct {
	Methane     ThresholdSet `json:"methane"`
	CO          ThresholdSet `json:"co"`
	Temperature ThresholdSet `json:"temperature"`
}

type Prediction struct {
	MethaneForecast     float64 `json:"methane_forecast"`
	COForecast          float64 `json:"co_forecast"`
	TemperatureForecast float64 `json:"temp_forecast"`
	MethaneVerdict      Verdict `json:"methane_verdict"`
	COVerdict           Verdict `json:"co_verdict"`
	TemperatureVerdict  Verdict `json:"temp_verdict"`
}

// Overall is the worst of the three verdicts.
func (p Prediction) Overall() Verdict {
	worst := p.MethaneVerdict
	for _, v := range []Verdict{p.COVerdict, p.TemperatureVerdict} {
		if v.rank() > worst.rank() {
			worst = v
		}
	}
	return worst
}

func (p Prediction) Danger() bool {
	return p.MethaneVerdict == VerdictDanger ||
		p.COVerdict == VerdictDanger ||
		p.TemperatureVerdict == VerdictDanger
}

const AlertKindDanger = "DANGER"

type AlertRecord struct {
	ID                  string    `json:"id"`
	Time                time.Time `json:"time"`
	Kind                string    `json:"kind"`
	MethaneForecast     float64   `json:"methane_forecast"`
	COForecast          float64   `json:"co_forecast"`
	TemperatureForecast float64   `json:"temp_forecast"`
}

type ConnectionHealth struct {
	Connected    bool      `json:"connected"`
	ReadingCount int       `json:"reading_count"`
	LastUpdate   time.Time `json:"last_update"`
}

type MetricStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

type Stats struct {
	Count       int         `json:"count"`
	Methane     MetricStats `json:"methane"`
	CO          MetricStats `json:"co"`
	Temperature MetricStats `json:"temperature"`
}
