// Package readings keeps the durable CSV log of sensor readings and the
// bounded in-memory window of geotagged intensity samples.
package readings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gassentry/internal/model"
	"gassentry/internal/normalize"
)

const DefaultCapacity = 100

var header = []string{"lat", "lon", "co", "gas", "temp"}

// PersistenceError reports a reading that reached the in-memory window but
// not the log file.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist reading to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store appends readings to a CSV file with the layout
//
//	lat,lon,co,gas,temp
//
// and keeps the last capacity GeoSamples in arrival order.
type Store struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	writer   *csv.Writer
	samples  []model.GeoSample
	capacity int
}

// Open creates the log with its header row if it does not exist yet.
func Open(path string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:     path,
		file:     f,
		writer:   csv.NewWriter(f),
		samples:  make([]model.GeoSample, 0, capacity),
		capacity: capacity,
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		s.writer.Write(header)
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Append pushes the reading's GeoSample into the window and then writes the
// reading to the log. The sample is kept even when the write fails.
func (s *Store) Append(r model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := normalize.ToGeoSample(r)
	if len(s.samples) >= s.capacity {
		copy(s.samples, s.samples[1:])
		s.samples[len(s.samples)-1] = g
	} else {
		s.samples = append(s.samples, g)
	}

	if s.writer == nil {
		return &PersistenceError{Path: s.path, Err: os.ErrClosed}
	}
	s.writer.Write(formatRow(r))
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		// csv.Writer keeps the first error; start over so later cycles can retry.
		s.writer = csv.NewWriter(s.file)
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

func formatRow(r model.Reading) []string {
	return []string{
		normalize.FormatFloat(r.Latitude),
		normalize.FormatFloat(r.Longitude),
		strconv.Itoa(r.CO),
		strconv.Itoa(r.Methane),
		normalize.FormatFloat(r.Temperature),
	}
}

// Samples returns a copy of the window, oldest first.
func (s *Store) Samples() []model.GeoSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.GeoSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// RecentSamples projects the window onto one metric.
func (s *Store) RecentSamples(m model.Metric) []model.MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MetricPoint, 0, len(s.samples))
	for _, g := range s.samples {
		out = append(out, model.MetricPoint{
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Intensity: g.Intensity(m),
		})
	}
	return out
}

// History replays the log from the start on every call. Rows that cannot be
// parsed are yielded as errors; iteration continues unless the caller stops.
func (s *Store) History() iter.Seq2[model.Reading, error] {
	return func(yield func(model.Reading, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(model.Reading{}, err)
			return
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		line := 0
		for {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			line++
			if err != nil {
				if !yield(model.Reading{}, fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
			if line == 1 && len(row) > 0 && row[0] == header[0] {
				continue
			}
			r, err := parseRow(row)
			if err != nil {
				if !yield(model.Reading{}, fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func parseRow(row []string) (model.Reading, error) {
	if len(row) < len(header) {
		return model.Reading{}, fmt.Errorf("expected %d fields, got %d", len(header), len(row))
	}
	lat, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return model.Reading{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return model.Reading{}, fmt.Errorf("lon: %w", err)
	}
	co, err := strconv.Atoi(row[2])
	if err != nil {
		return model.Reading{}, fmt.Errorf("co: %w", err)
	}
	gas, err := strconv.Atoi(row[3])
	if err != nil {
		return model.Reading{}, fmt.Errorf("gas: %w", err)
	}
	temp, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return model.Reading{}, fmt.Errorf("temp: %w", err)
	}
	for _, v := range []float64{lat, lon, temp} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Reading{}, fmt.Errorf("non-finite value %v", v)
		}
	}
	return model.Reading{Latitude: lat, Longitude: lon, CO: co, Methane: gas, Temperature: temp}, nil
}

// Stats computes min/max/mean over the replayed log, skipping bad rows.
func (s *Store) Stats() (model.Stats, error) {
	var st model.Stats
	var sumMethane, sumCO, sumTemp float64
	st.Methane = model.MetricStats{Min: math.Inf(1), Max: math.Inf(-1)}
	st.CO = st.Methane
	st.Temperature = st.Methane
	for r, err := range s.History() {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return model.Stats{}, err
			}
			continue
		}
		st.Count++
		observe(&st.Methane, float64(r.Methane))
		observe(&st.CO, float64(r.CO))
		observe(&st.Temperature, r.Temperature)
		sumMethane += float64(r.Methane)
		sumCO += float64(r.CO)
		sumTemp += r.Temperature
	}
	if st.Count == 0 {
		return model.Stats{}, nil
	}
	n := float64(st.Count)
	st.Methane.Mean = sumMethane / n
	st.CO.Mean = sumCO / n
	st.Temperature.Mean = sumTemp / n
	return st, nil
}

func observe(ms *model.MetricStats, v float64) {
	if v < ms.Min {
		ms.Min = v
	}
	if v > ms.Max {
		ms.Max = v
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.Flush()
		s.writer = nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
