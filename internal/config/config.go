package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"gassentry/internal/model"
)

type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	EndpointURL      string `json:"endpoint_url" yaml:"endpoint_url"`
	PollIntervalMS   int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	RequestTimeoutMS int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`

	MethaneSafe    float64 `json:"methane_safe" yaml:"methane_safe"`
	MethaneWarning float64 `json:"methane_warning" yaml:"methane_warning"`
	COSafe         float64 `json:"co_safe" yaml:"co_safe"`
	COWarning      float64 `json:"co_warning" yaml:"co_warning"`
	TempSafe       float64 `json:"temp_safe" yaml:"temp_safe"`
	TempWarning    float64 `json:"temp_warning" yaml:"temp_warning"`

	DataPath    string  `json:"data_path" yaml:"data_path"`
	HistorySize int     `json:"history_size" yaml:"history_size"`
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`

	Models  ModelsConfig  `json:"models" yaml:"models"`
	API     APIConfig     `json:"api" yaml:"api"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Kafka   KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type ModelsConfig struct {
	Methane     string `json:"methane" yaml:"methane"`
	CO          string `json:"co" yaml:"co"`
	Temperature string `json:"temperature" yaml:"temperature"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

const (
	defaultEndpoint     = "http://10.159.194.155/data"
	defaultDataPath     = "data/gas_log.csv"
	defaultHistorySize  = 100
	maxHistorySize      = 100
	defaultPollInterval = 500
	defaultTimeout      = 500
	defaultLatitude     = 2.925340509334203
	defaultLongitude    = 101.64186097827847
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "json",
		EndpointURL:      defaultEndpoint,
		PollIntervalMS:   defaultPollInterval,
		RequestTimeoutMS: defaultTimeout,
		MethaneSafe:      500,
		MethaneWarning:   1000,
		COSafe:           50,
		COWarning:        200,
		TempSafe:         29,
		TempWarning:      40,
		DataPath:         defaultDataPath,
		HistorySize:      defaultHistorySize,
		Latitude:         defaultLatitude,
		Longitude:        defaultLongitude,
		Models: ModelsConfig{
			Methane:     "models/methane_model.json",
			CO:          "models/co_model.json",
			Temperature: "models/temp_model.json",
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:gassentry.db?_pragma=busy_timeout(5000)"},
		Kafka:   KafkaConfig{Enabled: false, Topic: "gassentry.alerts"},
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) Thresholds() model.Thresholds {
	return model.Thresholds{
		Methane:     model.ThresholdSet{Safe: c.MethaneSafe, Warning: c.MethaneWarning},
		CO:          model.ThresholdSet{Safe: c.COSafe, Warning: c.COWarning},
		Temperature: model.ThresholdSet{Safe: c.TempSafe, Warning: c.TempWarning},
	}
}

func (c *Config) Location() model.Location {
	return model.Location{Latitude: c.Latitude, Longitude: c.Longitude}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = defaultPollInterval
	}
	if cfg.RequestTimeoutMS <= 0 {
		cfg.RequestTimeoutMS = defaultTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if strings.TrimSpace(cfg.DataPath) == "" {
		cfg.DataPath = defaultDataPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

// Validate rejects threshold pairs where safe is not strictly below warning;
// such a pair would make WARNING unreachable.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return errors.New("endpoint_url is required")
	}
	if !strings.HasPrefix(cfg.EndpointURL, "http://") && !strings.HasPrefix(cfg.EndpointURL, "https://") {
		return fmt.Errorf("endpoint_url must be an http(s) url: %q", cfg.EndpointURL)
	}
	pairs := []struct {
		name          string
		safe, warning float64
	}{
		{"methane", cfg.MethaneSafe, cfg.MethaneWarning},
		{"co", cfg.COSafe, cfg.COWarning},
		{"temp", cfg.TempSafe, cfg.TempWarning},
	}
	for _, p := range pairs {
		if math.IsNaN(p.safe) || math.IsNaN(p.warning) {
			return fmt.Errorf("%s thresholds must be numbers", p.name)
		}
		if p.safe >= p.warning {
			return fmt.Errorf("%s_safe (%g) must be below %s_warning (%g)", p.name, p.safe, p.name, p.warning)
		}
	}
	if cfg.HistorySize > maxHistorySize {
		return fmt.Errorf("history_size %d exceeds %d", cfg.HistorySize, maxHistorySize)
	}
	if !cfg.Location().Valid() {
		return fmt.Errorf("latitude/longitude out of range: %g,%g", cfg.Latitude, cfg.Longitude)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return errors.New("kafka requires brokers and topic")
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

// NewManager loads path, or serves DefaultConfig when path is empty.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path == "" {
		m.cfg.Store(DefaultConfig())
		return m, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
