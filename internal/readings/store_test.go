package readings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gassentry/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "gas_log.csv"), DefaultCapacity)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestOpenWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gas_log.csv")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()
	s, err = Open(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0] != "lat,lon,co,gas,temp" {
		t.Fatalf("unexpected log: %q", lines)
	}
}

func TestAppendBoundsWindow(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		r := model.Reading{
			Latitude:    float64(i),
			Longitude:   101.6,
			CO:          10,
			Methane:     i * 10,
			Temperature: 25,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Append(r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	samples := s.Samples()
	if len(samples) != 100 {
		t.Fatalf("expected 100 samples, got %d", len(samples))
	}
	for i, g := range samples {
		if g.Latitude != float64(50+i) {
			t.Fatalf("sample %d latitude %v, want %d", i, g.Latitude, 50+i)
		}
	}

	lines := readLines(t, s.Path())
	if len(lines) != 151 {
		t.Fatalf("expected 151 lines, got %d", len(lines))
	}
}

func TestAppendLineFormat(t *testing.T) {
	s := openTemp(t)
	r := model.Reading{Latitude: 2.925340509334203, Longitude: 101.64186097827847, CO: 120, Methane: 400, Temperature: 32.5}
	if err := s.Append(r); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(model.Reading{Latitude: 1, Longitude: 2, CO: 3, Methane: 4, Temperature: 30}); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, s.Path())
	if lines[1] != "2.925340509334203,101.64186097827847,120,400,32.5" {
		t.Fatalf("line: %q", lines[1])
	}
	if lines[2] != "1.0,2.0,3,4,30.0" {
		t.Fatalf("line: %q", lines[2])
	}
}

func TestRecentSamplesProjection(t *testing.T) {
	s := openTemp(t)
	s.Append(model.Reading{Latitude: 1, Longitude: 2, Methane: 3000, CO: 250, Temperature: 15})
	s.Append(model.Reading{Latitude: 3, Longitude: 4, Methane: 1000, CO: 0, Temperature: 60})

	methane := s.RecentSamples(model.MetricMethane)
	if len(methane) != 2 || methane[0].Intensity != 1.0 || methane[1].Intensity != 0.5 {
		t.Fatalf("methane: %+v", methane)
	}
	co := s.RecentSamples(model.MetricCO)
	if co[0].Intensity != 0.5 || co[1].Intensity != 0 {
		t.Fatalf("co: %+v", co)
	}
	temp := s.RecentSamples(model.MetricTemperature)
	if temp[0].Intensity != 0.25 || temp[1].Intensity != 1 || temp[1].Latitude != 3 {
		t.Fatalf("temp: %+v", temp)
	}
}

func TestHistoryReplaysAndRestarts(t *testing.T) {
	s := openTemp(t)
	for i := 1; i <= 3; i++ {
		s.Append(model.Reading{Latitude: 1, Longitude: 2, CO: i, Methane: i * 100, Temperature: float64(i) + 0.5})
	}
	for pass := 0; pass < 2; pass++ {
		var got []model.Reading
		for r, err := range s.History() {
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			got = append(got, r)
		}
		if len(got) != 3 {
			t.Fatalf("pass %d: expected 3 readings, got %d", pass, len(got))
		}
		if got[2].Methane != 300 || got[2].Temperature != 3.5 {
			t.Fatalf("pass %d: last reading %+v", pass, got[2])
		}
	}
}

func TestHistorySkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gas_log.csv")
	body := "lat,lon,co,gas,temp\n1,2,3,4,5.5\nbroken\n1,2,x,4,5\n6,7,8,9,10.0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var good, bad int
	for _, err := range s.History() {
		if err != nil {
			bad++
			continue
		}
		good++
	}
	if good != 2 || bad != 2 {
		t.Fatalf("good=%d bad=%d", good, bad)
	}
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	s.Append(model.Reading{CO: 10, Methane: 100, Temperature: 20})
	s.Append(model.Reading{CO: 30, Methane: 300, Temperature: 40})
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 2 {
		t.Fatalf("count: %d", st.Count)
	}
	if st.Methane.Min != 100 || st.Methane.Max != 300 || st.Methane.Mean != 200 {
		t.Fatalf("methane: %+v", st.Methane)
	}
	if st.CO.Mean != 20 || st.Temperature.Max != 40 {
		t.Fatalf("co/temp: %+v %+v", st.CO, st.Temperature)
	}
}

func TestNonFiniteRowsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gas_log.csv")
	body := "lat,lon,co,gas,temp\n1.0,2.0,10,100,20.0\n1.0,2.0,30,300,NaN\n1.0,2.0,30,300,+Inf\nNaN,2.0,1,1,1.0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var good, bad int
	for _, err := range s.History() {
		if err != nil {
			bad++
			continue
		}
		good++
	}
	if good != 1 || bad != 3 {
		t.Fatalf("good=%d bad=%d", good, bad)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 1 || st.Temperature.Mean != 20 || st.Methane.Max != 100 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestStatsEmptyLog(t *testing.T) {
	s := openTemp(t)
	st, err := s.Stats()
	if err != nil || st.Count != 0 {
		t.Fatalf("stats: %+v %v", st, err)
	}
}

func TestWriteFailureKeepsSample(t *testing.T) {
	s := openTemp(t)
	s.file.Close()

	err := s.Append(model.Reading{Latitude: 1, Longitude: 2, Methane: 1000})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if got := len(s.Samples()); got != 1 {
		t.Fatalf("expected sample in memory, got %d", got)
	}
}
