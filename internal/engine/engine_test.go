package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gassentry/internal/ingest"
	"gassentry/internal/model"
	"gassentry/internal/normalize"
	"gassentry/internal/predict"
	"gassentry/internal/readings"
)

var testLoc = model.Location{Latitude: 2.925340509334203, Longitude: 101.64186097827847}

type fakeFetcher struct {
	fields normalize.Fields
	err    error
}

func (f *fakeFetcher) Fetch(context.Context) (normalize.Fields, error) {
	return f.fields, f.err
}

type fakeForecaster struct {
	pred  model.Prediction
	err   error
	calls int
}

func (f *fakeForecaster) Predict(model.Reading) (model.Prediction, error) {
	f.calls++
	return f.pred, f.err
}

func (f *fakeForecaster) Available() bool { return true }

type brokenLog struct {
	appended int
}

func (b *brokenLog) Append(model.Reading) error {
	b.appended++
	return &readings.PersistenceError{Path: "/ro/gas_log.csv", Err: os.ErrPermission}
}

func (b *brokenLog) Samples() []model.GeoSample { return nil }

type recordingSink struct {
	mu       sync.Mutex
	readings []model.Reading
	alerts   []model.AlertRecord
	fail     bool
}

func (s *recordingSink) SaveReading(_ context.Context, r model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	if s.fail {
		return errors.New("db down")
	}
	return nil
}

func (s *recordingSink) SaveAlert(_ context.Context, a model.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	if s.fail {
		return errors.New("db down")
	}
	return nil
}

func (s *recordingSink) PublishAlert(ctx context.Context, a model.AlertRecord) error {
	return s.SaveAlert(ctx, a)
}

func safePrediction() model.Prediction {
	return model.Prediction{
		MethaneForecast: 300, COForecast: 20, TemperatureForecast: 25,
		MethaneVerdict: model.VerdictSafe, COVerdict: model.VerdictSafe, TemperatureVerdict: model.VerdictSafe,
	}
}

func dangerPrediction() model.Prediction {
	return model.Prediction{
		MethaneForecast: 1500, COForecast: 80, TemperatureForecast: 30,
		MethaneVerdict: model.VerdictDanger, COVerdict: model.VerdictWarning, TemperatureVerdict: model.VerdictWarning,
	}
}

func openLog(t *testing.T) (*readings.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "gas_log.csv")
	s, err := readings.Open(path, readings.DefaultCapacity)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCycleFailureThenRecovery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			_, _ = w.Write([]byte(`{"co":"abc","gas":400,"temp":32.5}`))
		default:
			_, _ = w.Write([]byte(`{"co":120,"gas":400,"temp":32.5}`))
		}
	}))
	defer srv.Close()

	log, path := openLog(t)
	fc := &fakeForecaster{pred: safePrediction()}
	e := NewEngine(Deps{
		Fetcher:   ingest.NewPoller(srv.URL, time.Second),
		Predictor: fc,
		Readings:  log,
	}, time.Millisecond, testLoc)
	ctx := context.Background()

	e.Cycle(ctx)
	snap := e.Snapshot()
	if snap.Health.Connected || snap.Health.ReadingCount != 0 {
		t.Fatalf("after 500: %+v", snap.Health)
	}
	if snap.Status != "Waiting for sensor... (unexpected status 500)" {
		t.Fatalf("status: %q", snap.Status)
	}
	if snap.Reading != nil || len(snap.Samples) != 0 {
		t.Fatalf("reading recorded after 500: %+v", snap.Reading)
	}

	e.Cycle(ctx)
	snap = e.Snapshot()
	if snap.Health.Connected || snap.Health.ReadingCount != 0 {
		t.Fatalf("after bad payload: %+v", snap.Health)
	}
	if !strings.HasPrefix(snap.Status, "Waiting for sensor... (") || len(snap.Status) > len("Waiting for sensor... ()")+30 {
		t.Fatalf("status: %q", snap.Status)
	}
	if snap.Reading != nil || len(snap.Samples) != 0 {
		t.Fatalf("reading recorded after bad payload: %+v", snap.Reading)
	}
	if lines := readLines(t, path); len(lines) != 1 {
		t.Fatalf("expected header only, got %v", lines)
	}
	if fc.calls != 0 {
		t.Fatalf("predictor called on failed poll")
	}

	e.Cycle(ctx)
	snap = e.Snapshot()
	if !snap.Health.Connected || snap.Health.ReadingCount != 1 || snap.Status != StatusConnected {
		t.Fatalf("after valid payload: %+v %q", snap.Health, snap.Status)
	}
	if snap.Health.LastUpdate.IsZero() {
		t.Fatalf("last update not set")
	}
	lines := readLines(t, path)
	if len(lines) != 2 || lines[1] != "2.925340509334203,101.64186097827847,120,400,32.5" {
		t.Fatalf("log lines: %v", lines)
	}
	if snap.Reading == nil || snap.Reading.CO != 120 || snap.Reading.Methane != 400 {
		t.Fatalf("reading: %+v", snap.Reading)
	}
	if len(snap.Samples) != 1 || snap.Samples[0].MethaneIntensity != 0.2 {
		t.Fatalf("samples: %+v", snap.Samples)
	}
	if snap.Overall != model.VerdictSafe || snap.AlertCount != 0 {
		t.Fatalf("prediction: %+v alerts=%d", snap.Prediction, snap.AlertCount)
	}
}

func TestCycleUnavailablePredictor(t *testing.T) {
	log, path := openLog(t)
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{fields: normalize.Fields{CO: 900, Gas: 5000, Temp: 70}},
		Predictor: predict.Unavailable(errors.New("models/methane_model.json: no such file")),
		Readings:  log,
	}, time.Millisecond, testLoc)
	if e.Snapshot().AIStatus != AIUnavailable {
		t.Fatalf("expected unavailable ai status at start")
	}

	for i := 0; i < 3; i++ {
		e.Cycle(context.Background())
	}
	snap := e.Snapshot()
	if snap.Health.ReadingCount != 3 || len(readLines(t, path)) != 4 {
		t.Fatalf("readings not ingested: %+v", snap.Health)
	}
	if snap.Prediction != nil || snap.AlertCount != 0 || e.Alerts().Len() != 0 {
		t.Fatalf("unexpected forecast or alerts: %+v", snap)
	}
	if !strings.HasPrefix(snap.AIError, "AI error: ") || len(snap.AIError) > len("AI error: ")+50 {
		t.Fatalf("ai error: %q", snap.AIError)
	}
}

func TestCycleRecordsOneAlertPerDangerCycle(t *testing.T) {
	log, _ := openLog(t)
	sink := &recordingSink{}
	pub := &recordingSink{}
	fc := &fakeForecaster{pred: dangerPrediction()}
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{fields: normalize.Fields{CO: 120, Gas: 400, Temp: 32.5}},
		Predictor: fc,
		Readings:  log,
		Mirror:    sink,
		Publisher: pub,
	}, time.Millisecond, testLoc)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	e.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 3; i++ {
		e.Cycle(context.Background())
	}
	all := e.Alerts().All()
	if len(all) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(all))
	}
	for i, a := range all {
		if a.Kind != model.AlertKindDanger || a.MethaneForecast != 1500 || a.ID == "" {
			t.Fatalf("alert %d: %+v", i, a)
		}
		if i > 0 && !a.Time.After(all[i-1].Time) {
			t.Fatalf("alerts out of order: %+v", all)
		}
	}
	if len(sink.readings) != 3 || len(sink.alerts) != 3 || len(pub.alerts) != 3 {
		t.Fatalf("sinks: readings=%d alerts=%d published=%d", len(sink.readings), len(sink.alerts), len(pub.alerts))
	}
	if pub.alerts[0].ID != all[0].ID {
		t.Fatalf("published id mismatch")
	}
	if e.Snapshot().Overall != model.VerdictDanger {
		t.Fatalf("overall verdict not danger")
	}

	fc.pred = safePrediction()
	e.Cycle(context.Background())
	if e.Alerts().Len() != 3 {
		t.Fatalf("safe cycle recorded an alert")
	}
}

func TestCycleContinuesAfterPersistenceError(t *testing.T) {
	bl := &brokenLog{}
	fc := &fakeForecaster{pred: dangerPrediction()}
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{fields: normalize.Fields{CO: 120, Gas: 400, Temp: 32.5}},
		Predictor: fc,
		Readings:  bl,
		Mirror:    &recordingSink{fail: true},
	}, time.Millisecond, testLoc)

	e.Cycle(context.Background())
	snap := e.Snapshot()
	if bl.appended != 1 || fc.calls != 1 {
		t.Fatalf("append=%d predict=%d", bl.appended, fc.calls)
	}
	if snap.PersistError == "" || !snap.Health.Connected || snap.Health.ReadingCount != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	if snap.AlertCount != 1 {
		t.Fatalf("alert not recorded after persistence error")
	}
}

func TestCycleInferenceErrorSkipsAlerting(t *testing.T) {
	log, _ := openLog(t)
	long := strings.Repeat("x", 80)
	fc := &fakeForecaster{err: &predict.InferenceError{Metric: model.MetricCO, Err: errors.New(long)}}
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{fields: normalize.Fields{CO: 120, Gas: 400, Temp: 32.5}},
		Predictor: fc,
		Readings:  log,
	}, time.Millisecond, testLoc)

	e.Cycle(context.Background())
	snap := e.Snapshot()
	if snap.AlertCount != 0 || snap.Prediction != nil {
		t.Fatalf("unexpected forecast: %+v", snap)
	}
	if got := strings.TrimPrefix(snap.AIError, "AI error: "); len(got) != 50 {
		t.Fatalf("ai error detail not truncated: %q", snap.AIError)
	}
	if snap.AIStatus != AIReady {
		t.Fatalf("inference failure should not mark predictor unavailable")
	}
}

func TestSubscribeAndLocation(t *testing.T) {
	log, _ := openLog(t)
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{fields: normalize.Fields{CO: 1, Gas: 2, Temp: 3}},
		Predictor: &fakeForecaster{pred: safePrediction()},
		Readings:  log,
	}, time.Millisecond, testLoc)

	var got []Snapshot
	e.Subscribe(func(s Snapshot) { got = append(got, s) })

	if err := e.SetLocation(model.Location{Latitude: 91, Longitude: 0}); err == nil {
		t.Fatalf("expected invalid location error")
	}
	if err := e.SetLocation(model.Location{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("set location: %v", err)
	}
	e.Cycle(context.Background())
	if len(got) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(got))
	}
	if got[0].Reading.Latitude != 1 || got[0].Reading.Longitude != 2 {
		t.Fatalf("reading not stamped with new location: %+v", got[0].Reading)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	log, _ := openLog(t)
	e := NewEngine(Deps{
		Fetcher:   &fakeFetcher{err: errors.New("refused")},
		Predictor: &fakeForecaster{},
		Readings:  log,
	}, 5*time.Millisecond, testLoc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
	if e.Snapshot().Status != "Waiting for sensor... (refused)" {
		t.Fatalf("status: %q", e.Snapshot().Status)
	}
}

func TestTruncate(t *testing.T) {
	if truncate("abc", 30) != "abc" {
		t.Fatalf("short string changed")
	}
	if got := truncate(strings.Repeat("é", 40), 30); got != strings.Repeat("é", 30) {
		t.Fatalf("rune truncation: %q", got)
	}
}
