package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Vitals   VitalsConfig   `yaml:"vitals"`
}

// DatabaseConfig holds the store connection configuration. Credentials are
// normally supplied through environment variables rather than the file.
type DatabaseConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	SSLMode                string `yaml:"ssl_mode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int    `yaml:"conn_max_idle_time_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMinutes) * time.Minute
}

// ConnMaxIdleTime returns the configured idle time as a duration.
func (d DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(d.ConnMaxIdleTimeMinutes) * time.Minute
}

// APIConfig holds the upstream plants API configuration.
type APIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Timeout returns the configured per-request timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PipelineConfig holds the batch orchestration configuration.
type PipelineConfig struct {
	StartID    int `yaml:"start_id"`
	PlantCount int `yaml:"plant_count"`
	Workers    int `yaml:"workers"`
}

// LoggingConfig holds the logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TemperatureRange is the healthy temperature band for a continent.
type TemperatureRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// VitalsConfig holds the health-check policy. The thresholds are a policy
// input for the vitals job, not pipeline validation rules.
type VitalsConfig struct {
	WindowHours       int                         `yaml:"window_hours"`
	MoistureMin       float64                     `yaml:"moisture_min"`
	MoistureMax       float64                     `yaml:"moisture_max"`
	TemperatureRanges map[string]TemperatureRange `yaml:"temperature_ranges"`
}

// Window returns the configured lookback window as a duration.
func (v VitalsConfig) Window() time.Duration {
	return time.Duration(v.WindowHours) * time.Hour
}

// Load reads the configuration from the given path, applies defaults, and
// then applies environment variable overrides. An empty path loads defaults
// and environment values only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.PlantCount <= 0 {
		cfg.Pipeline.PlantCount = 50
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 30
	}
	if cfg.Vitals.WindowHours <= 0 {
		cfg.Vitals.WindowHours = 24
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "postgres",
			Database:               "plants",
			SSLMode:                "disable",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
			ConnMaxIdleTimeMinutes: 5,
		},
		API: APIConfig{
			BaseURL:           "https://data-eng-plants-api.herokuapp.com",
			TimeoutSeconds:    30,
			RequestsPerSecond: 0, // unlimited
			Burst:             1,
		},
		Pipeline: PipelineConfig{
			StartID:    0,
			PlantCount: 50,
			Workers:    4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Vitals: VitalsConfig{
			WindowHours: 24,
			MoistureMin: 20,
			MoistureMax: 60,
			TemperatureRanges: map[string]TemperatureRange{
				"America": {Min: 20, Max: 35},
				"Africa":  {Min: 25, Max: 35},
				"Asia":    {Min: 25, Max: 35},
				"Europe":  {Min: 9, Max: 25},
				"Pacific": {Min: 25, Max: 35},
			},
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("PLANTS_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
