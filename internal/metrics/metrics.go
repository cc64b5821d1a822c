package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PredictionOK          = "ok"
	PredictionUnavailable = "unavailable"
	PredictionFailed      = "inference_error"
)

// Recorder holds the poll-cycle collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	polls         *prometheus.CounterVec
	readings      prometheus.Counter
	persistErrors prometheus.Counter
	predictions   *prometheus.CounterVec
	alerts        prometheus.Counter
	mirrorErrors  *prometheus.CounterVec
	connected     prometheus.Gauge
	pollLatency   prometheus.Histogram
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gassentry_polls_total",
			Help: "Sensor polls by outcome.",
		}, []string{"result"}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gassentry_readings_total",
			Help: "Readings accepted from the sensor.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gassentry_persistence_errors_total",
			Help: "Readings that could not be appended to the CSV log.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gassentry_predictions_total",
			Help: "Forecast attempts by outcome.",
		}, []string{"result"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gassentry_alerts_total",
			Help: "DANGER alerts recorded.",
		}),
		mirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gassentry_mirror_errors_total",
			Help: "Failures writing to optional sinks.",
		}, []string{"sink"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gassentry_sensor_connected",
			Help: "1 when the last poll succeeded.",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gassentry_poll_duration_seconds",
			Help:    "Time spent in the sensor HTTP request.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
	reg.MustRegister(r.polls, r.readings, r.persistErrors, r.predictions, r.alerts, r.mirrorErrors, r.connected, r.pollLatency)
	return r
}

func (r *Recorder) ObservePoll(ok bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "transport_error"
	}
	r.polls.WithLabelValues(result).Inc()
	r.pollLatency.Observe(d.Seconds())
	if ok {
		r.connected.Set(1)
	} else {
		r.connected.Set(0)
	}
}

func (r *Recorder) IncReadings() {
	if r == nil {
		return
	}
	r.readings.Inc()
}

func (r *Recorder) IncPersistenceError() {
	if r == nil {
		return
	}
	r.persistErrors.Inc()
}

func (r *Recorder) ObservePrediction(result string) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(result).Inc()
}

func (r *Recorder) IncAlert() {
	if r == nil {
		return
	}
	r.alerts.Inc()
}

func (r *Recorder) IncMirrorError(sink string) {
	if r == nil {
		return
	}
	r.mirrorErrors.WithLabelValues(sink).Inc()
}
