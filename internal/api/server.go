package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gassentry/internal/config"
	"gassentry/internal/engine"
	"gassentry/internal/model"
	"gassentry/internal/normalize"
)

type EngineView interface {
	Snapshot() engine.Snapshot
	Location() model.Location
	SetLocation(loc model.Location) error
}

type ReadingHistory interface {
	RecentSamples(m model.Metric) []model.MetricPoint
	History() iter.Seq2[model.Reading, error]
	Stats() (model.Stats, error)
}

type AlertSource interface {
	All() []model.AlertRecord
	Since(ts time.Time) []model.AlertRecord
}

// AlertArchive is the SQL mirror, queried with ?source=archive.
type AlertArchive interface {
	RecentAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error)
}

type Deps struct {
	Config   *config.Manager
	Engine   EngineView
	History  ReadingHistory
	Alerts   AlertSource
	Archive  AlertArchive
	Hub      *Hub
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Version  string
}

type Server struct {
	cfg      *config.Manager
	engine   EngineView
	history  ReadingHistory
	alerts   AlertSource
	archive  AlertArchive
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	started  time.Time
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
)

type statusResponse struct {
	Status       string                 `json:"status"`
	Time         string                 `json:"time"`
	Version      string                 `json:"version"`
	ConfigPath   string                 `json:"config_path"`
	Endpoint     string                 `json:"endpoint"`
	Sensor       sensorStatus           `json:"sensor"`
	AI           aiStatus               `json:"ai"`
	PersistError string                 `json:"persist_error,omitempty"`
	Location     model.Location         `json:"location"`
	Reading      *model.Reading         `json:"reading,omitempty"`
	Prediction   *model.Prediction      `json:"prediction,omitempty"`
	Overall      model.Verdict          `json:"overall,omitempty"`
	AlertCount   int                    `json:"alert_count"`
	Stream       streamStatus           `json:"stream"`
	Health       model.ConnectionHealth `json:"health"`
}

type sensorStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

type aiStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type streamStatus struct {
	Clients int `json:"clients"`
}

func NewServer(d Deps) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      d.Config,
		engine:   d.Engine,
		history:  d.History,
		alerts:   d.Alerts,
		archive:  d.Archive,
		hub:      d.Hub,
		gatherer: d.Gatherer,
		logger:   d.Logger,
		version:  d.Version,
		started:  time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/stats", s.handleStats)
	mux.HandleFunc("/location", s.handleLocation)
	mux.HandleFunc("/config/thresholds", s.handleThresholds)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			s.hub.serveWS(w, r, s.engine.Snapshot())
		})
	}
	return mux
}

// Start serves the API until ctx is done. It returns nil when the API is
// disabled.
func Start(ctx context.Context, cfg *config.Manager, s *Server, logger *slog.Logger) *http.Server {
	if cfg == nil || s == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"health":         snap.Health,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := s.engine.Snapshot()
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Sensor: sensorStatus{
			Connected: snap.Health.Connected,
			Message:   snap.Status,
		},
		AI:           aiStatus{Status: snap.AIStatus, Error: snap.AIError},
		PersistError: snap.PersistError,
		Location:     snap.Location,
		Reading:      snap.Reading,
		Prediction:   snap.Prediction,
		Overall:      snap.Overall,
		AlertCount:   snap.AlertCount,
		Health:       snap.Health,
	}
	if s.cfg != nil {
		resp.ConfigPath = s.cfg.Path()
		resp.Endpoint = s.cfg.Get().EndpointURL
	}
	if s.hub != nil {
		resp.Stream.Clients = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	metric := model.MetricMethane
	if v := r.URL.Query().Get("metric"); v != "" {
		m, ok := model.ParseMetric(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown metric "+strconv.Quote(v))
			return
		}
		metric = m
	}
	points := s.history.RecentSamples(metric)
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":  metric,
		"samples": points,
		"count":   len(points),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if q.Get("source") == "archive" {
		s.handleArchivedAlerts(w, r)
		return
	}
	var list []model.AlertRecord
	if sinceStr := q.Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.All()
	}
	if wantsCSV(r) {
		writeAlertsCSV(w, list)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleArchivedAlerts(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	list, err := s.archive.RecentAlerts(r.Context(), limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("archive query failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if wantsCSV(r) {
		writeAlertsCSV(w, list)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
		"source": "archive",
	})
}

// handleHistory replays the CSV log and returns the last `limit` readings.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	out := make([]model.Reading, 0, limit)
	skipped := 0
	for rd, err := range s.history.History() {
		if err != nil {
			skipped++
			continue
		}
		if len(out) == limit {
			copy(out, out[1:])
			out = out[:limit-1]
		}
		out = append(out, rd)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": out,
		"count":    len(out),
		"skipped":  skipped,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.history.Stats()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("history stats failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Location())
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
		if err != nil {
			writeError(w, http.StatusBadRequest, "body too large")
			return
		}
		var req struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Latitude == nil || req.Longitude == nil {
			writeError(w, http.StatusBadRequest, "latitude and longitude are required")
			return
		}
		loc := model.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if err := s.engine.SetLocation(loc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, loc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := config.DefaultConfig()
	if s.cfg != nil {
		cfg = s.cfg.Get()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds": cfg.Thresholds(),
		"live":       false,
	})
}

func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

var alertCSVHeader = []string{"id", "time", "type", "methane", "co", "temp"}

// writeAlertsCSV serves the alert history as a download with one row per
// alert, oldest first as recorded.
func writeAlertsCSV(w http.ResponseWriter, list []model.AlertRecord) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(alertCSVHeader)
	for _, a := range list {
		_ = cw.Write([]string{
			a.ID,
			a.Time.UTC().Format(time.RFC3339),
			a.Kind,
			normalize.FormatFloat(a.MethaneForecast),
			normalize.FormatFloat(a.COForecast),
			normalize.FormatFloat(a.TemperatureForecast),
		})
	}
	cw.Flush()
}

func parseLimit(v string) (int, bool) {
	if v == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeJSON encodes before writing the header so an unencodable payload
// becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]any{"error": "encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
