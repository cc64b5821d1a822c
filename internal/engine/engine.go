// Package engine runs the poll cycle: fetch a reading, log it, forecast,
// classify and record alerts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gassentry/internal/alerts"
	"gassentry/internal/ingest"
	"gassentry/internal/metrics"
	"gassentry/internal/model"
	"gassentry/internal/normalize"
	"gassentry/internal/predict"
	"gassentry/internal/readings"
)

type Fetcher interface {
	Fetch(ctx context.Context) (normalize.Fields, error)
}

type Forecaster interface {
	Predict(r model.Reading) (model.Prediction, error)
	Available() bool
}

type ReadingLog interface {
	Append(r model.Reading) error
	Samples() []model.GeoSample
}

// Mirror is the optional SQL copy of readings and alerts.
type Mirror interface {
	SaveReading(ctx context.Context, r model.Reading) error
	SaveAlert(ctx context.Context, a model.AlertRecord) error
}

type AlertPublisher interface {
	PublishAlert(ctx context.Context, a model.AlertRecord) error
}

type Deps struct {
	Fetcher   Fetcher
	Predictor Forecaster
	Readings  ReadingLog
	Alerts    *alerts.Store
	Mirror    Mirror
	Publisher AlertPublisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

type Engine struct {
	logger    *slog.Logger
	fetcher   Fetcher
	predictor Forecaster
	readings  ReadingLog
	alerts    *alerts.Store
	mirror    Mirror
	publisher AlertPublisher
	metrics   *metrics.Recorder
	interval  time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	state     State
	listeners []func(Snapshot)
}

const sinkTimeout = 2 * time.Second

func NewEngine(d Deps, interval time.Duration, loc model.Location) *Engine {
	if d.Alerts == nil {
		d.Alerts = alerts.NewStore()
	}
	e := &Engine{
		logger:    d.Logger,
		fetcher:   d.Fetcher,
		predictor: d.Predictor,
		readings:  d.Readings,
		alerts:    d.Alerts,
		mirror:    d.Mirror,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		interval:  interval,
		now:       time.Now,
	}
	e.state = State{
		Status:   waitingStatus("no reading yet"),
		AIStatus: AIUnavailable,
		Location: loc,
	}
	if d.Predictor != nil && d.Predictor.Available() {
		e.state.AIStatus = AIReady
	}
	return e
}

// Subscribe registers fn to receive a snapshot after every cycle. fn runs on
// the poll goroutine and must not block.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Run repeats Cycle every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	if e.logger != nil {
		e.logger.Info("poll loop started", "interval", e.interval.String())
	}
	for ctx.Err() == nil {
		e.Cycle(ctx)
		if !ingest.Sleep(ctx, e.interval) {
			break
		}
	}
	if e.logger != nil {
		e.logger.Info("poll loop stopped")
	}
}

// Cycle performs one fetch→ingest→predict→alert pass. Every failure is
// turned into state; nothing is returned.
func (e *Engine) Cycle(ctx context.Context) {
	start := e.now()
	fields, err := e.fetcher.Fetch(ctx)
	e.metrics.ObservePoll(err == nil, e.now().Sub(start))
	if err != nil {
		e.disconnected(err)
		e.publish()
		return
	}

	now := e.now()
	e.mu.Lock()
	reading := normalize.ToReading(fields, e.state.Location, now)
	e.state.Health.Connected = true
	e.state.Health.ReadingCount++
	e.state.Health.LastUpdate = now
	e.state.Reading = &reading
	e.state.Status = StatusConnected
	e.mu.Unlock()
	e.metrics.IncReadings()

	e.persist(ctx, reading)
	e.forecast(ctx, reading, now)
	e.publish()
}

func (e *Engine) disconnected(err error) {
	detail := err.Error()
	var terr *ingest.TransportError
	if errors.As(err, &terr) && terr.Err != nil {
		detail = terr.Err.Error()
	}
	e.mu.Lock()
	e.state.Health.Connected = false
	e.state.Status = waitingStatus(detail)
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Warn("sensor poll failed", "err", err)
	}
}

func (e *Engine) persist(ctx context.Context, r model.Reading) {
	persistErr := ""
	if err := e.readings.Append(r); err != nil {
		persistErr = err.Error()
		e.metrics.IncPersistenceError()
		if e.logger != nil {
			e.logger.Error("reading not written to log", "err", err)
		}
	}
	e.mu.Lock()
	e.state.PersistError = persistErr
	e.mu.Unlock()

	if e.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		defer cancel()
		if err := e.mirror.SaveReading(mctx, r); err != nil {
			e.metrics.IncMirrorError("sql")
			if e.logger != nil {
				e.logger.Warn("mirror reading failed", "err", err)
			}
		}
	}
}

func (e *Engine) forecast(ctx context.Context, r model.Reading, now time.Time) {
	if e.predictor == nil {
		e.predictionFailed(predict.ErrUnavailable, metrics.PredictionUnavailable)
		return
	}
	pred, err := e.predictor.Predict(r)
	if err != nil {
		result := metrics.PredictionFailed
		if errors.Is(err, predict.ErrUnavailable) {
			result = metrics.PredictionUnavailable
		}
		e.predictionFailed(err, result)
		return
	}
	e.metrics.ObservePrediction(metrics.PredictionOK)

	e.mu.Lock()
	e.state.Prediction = &pred
	e.state.AIStatus = AIReady
	e.state.AIError = ""
	e.mu.Unlock()

	rec, ok := e.alerts.Record(pred, now)
	if !ok {
		return
	}
	e.metrics.IncAlert()
	if e.logger != nil {
		e.logger.Warn("danger forecast",
			"alert_id", rec.ID,
			"methane_forecast", rec.MethaneForecast,
			"co_forecast", rec.COForecast,
			"temp_forecast", rec.TemperatureForecast,
		)
	}
	e.deliver(ctx, rec)
}

func (e *Engine) predictionFailed(err error, result string) {
	e.metrics.ObservePrediction(result)
	e.mu.Lock()
	e.state.Prediction = nil
	e.state.AIError = aiErrorStatus(err.Error())
	if result == metrics.PredictionUnavailable {
		e.state.AIStatus = AIUnavailable
	}
	e.mu.Unlock()
	if e.logger != nil && result != metrics.PredictionUnavailable {
		e.logger.Warn("forecast failed", "err", err)
	}
}

func (e *Engine) deliver(ctx context.Context, rec model.AlertRecord) {
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if e.mirror != nil {
		if err := e.mirror.SaveAlert(sctx, rec); err != nil {
			e.metrics.IncMirrorError("sql")
			if e.logger != nil {
				e.logger.Warn("mirror alert failed", "alert_id", rec.ID, "err", err)
			}
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishAlert(sctx, rec); err != nil {
			e.metrics.IncMirrorError("kafka")
			if e.logger != nil {
				e.logger.Warn("publish alert failed", "alert_id", rec.ID, "err", err)
			}
		}
	}
}

func (e *Engine) publish() {
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	snap := e.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := e.state.snapshot()
	e.mu.RUnlock()
	snap.Alerts = e.alerts.All()
	snap.AlertCount = len(snap.Alerts)
	if e.readings != nil {
		snap.Samples = e.readings.Samples()
	}
	return snap
}

func (e *Engine) Alerts() *alerts.Store {
	return e.alerts
}

func (e *Engine) Location() model.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Location
}

// SetLocation replaces the position stamped on subsequent readings.
func (e *Engine) SetLocation(loc model.Location) error {
	if !loc.Valid() {
		return fmt.Errorf("invalid location %g,%g", loc.Latitude, loc.Longitude)
	}
	e.mu.Lock()
	e.state.Location = loc
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("location updated", "latitude", loc.Latitude, "longitude", loc.Longitude)
	}
	return nil
}

var _ ReadingLog = (*readings.Store)(nil)
