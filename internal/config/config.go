package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and safe for concurrent reads.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Log       LogConfig                 `yaml:"log"`
	Import    ImportConfig              `yaml:"import"`
	Importers map[string]ImporterConfig `yaml:"importers"`
	Archive   ArchiveConfig             `yaml:"archive"`
	Worker    WorkerConfig              `yaml:"worker"`
	Auth      AuthConfig                `yaml:"auth"`
}

// ServerConfig contains admin HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ImportConfig holds settings shared by all importers.
type ImportConfig struct {
	Timezone  string   `yaml:"timezone"`
	Languages []string `yaml:"languages"`
	ChunkSize int      `yaml:"chunk_size"`

	// BoundingBox is min_lon, min_lat, max_lon, max_lat in WGS84.
	BoundingBox []float64 `yaml:"bounding_box"`

	HTTPTimeout   Duration `yaml:"http_timeout"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBackoff  Duration `yaml:"retry_backoff"`

	// RateLimit is requests per second per importer; 0 disables pacing.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	UserAgent string  `yaml:"user_agent"`
}

// ImporterConfig holds the feed endpoints of one importer.
type ImporterConfig struct {
	PlacesURL string `yaml:"places_url"`
	EventsURL string `yaml:"events_url"`

	// LanguageURLs maps a language code to a per-language feed URL for
	// importers that fetch one feed per language.
	LanguageURLs map[string]string `yaml:"language_urls"`
}

// ArchiveConfig configures S3-compatible storage of raw feed payloads.
// An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains scheduler settings.
type WorkerConfig struct {
	// Schedules maps an importer name to its run interval. Importers
	// without an entry are not scheduled.
	Schedules map[string]Duration `yaml:"schedules"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LINKEDEVENTS_CONFIG_PATH", "config/linkedevents.yaml")

	// A missing file is not an error.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading a file or the
// environment.
func Default() *Config {
	return newDefaults()
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/linkedevents.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Import: ImportConfig{
			Timezone:      "Europe/Helsinki",
			Languages:     []string{"fi", "sv", "en"},
			ChunkSize:     10000,
			BoundingBox:   []float64{19.0, 59.3, 31.6, 70.1},
			HTTPTimeout:   Duration(60 * time.Second),
			RetryAttempts: 5,
			RetryBackoff:  Duration(5 * time.Second),
			RateLimit:     5,
			RateBurst:     1,
			UserAgent:     "linkedevents-importer",
		},
		Importers: map[string]ImporterConfig{
			"tprek": {
				PlacesURL: "https://www.hel.fi/palvelukarttaws/rest/v4/unit/",
			},
			"matko": {
				LanguageURLs: map[string]string{
					"fi": "http://www.visithelsinki.fi/misc/feeds/helsinki_matkailu_poi.xml",
					"en": "http://www.visithelsinki.fi/misc/feeds/helsinki_tourism_poi.xml",
					"sv": "http://www.visithelsinki.fi/misc/feeds/helsingfors_turism_poi.xml",
				},
			},
			"helmet": {
				EventsURL: "https://www.helmet.fi/api/opennc/v1/ContentLanguages%28{lang}%29/Contents?$filter=TemplateId%20eq%203&$expand=ExtendedProperties&$orderby=EventEndDate%20desc&$format=json",
			},
			"lippupiste": {},
		},
		Worker: WorkerConfig{
			Schedules: map[string]Duration{},
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LINKEDEVENTS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setDuration("LINKEDEVENTS_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("LINKEDEVENTS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("LINKEDEVENTS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("LINKEDEVENTS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Log
	if v := os.Getenv("LINKEDEVENTS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LINKEDEVENTS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Import
	if v := os.Getenv("LINKEDEVENTS_TIMEZONE"); v != "" {
		cfg.Import.Timezone = v
	}
	setDuration("LINKEDEVENTS_HTTP_TIMEOUT", &cfg.Import.HTTPTimeout)
	setDuration("LINKEDEVENTS_RETRY_BACKOFF", &cfg.Import.RetryBackoff)
	if v := os.Getenv("LINKEDEVENTS_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Import.RetryAttempts = n
		}
	}
	if v := os.Getenv("LINKEDEVENTS_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Import.RateLimit = f
		}
	}

	// Per-importer feed URLs, e.g. LINKEDEVENTS_LIPPUPISTE_EVENTS_URL.
	for name, ic := range cfg.Importers {
		prefix := "LINKEDEVENTS_" + strings.ToUpper(name)
		if v := os.Getenv(prefix + "_PLACES_URL"); v != "" {
			ic.PlacesURL = v
		}
		if v := os.Getenv(prefix + "_EVENTS_URL"); v != "" {
			ic.EventsURL = v
		}
		cfg.Importers[name] = ic
	}

	// Archive
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Archive.UseSSL = &useSSL
	}
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("LINKEDEVENTS_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}

	// Auth
	if v := os.Getenv("LINKEDEVENTS_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks the values importers depend on.
func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Import.Timezone); err != nil {
		return fmt.Errorf("invalid import timezone %q: %w", c.Import.Timezone, err)
	}
	if n := len(c.Import.BoundingBox); n != 0 && n != 4 {
		return fmt.Errorf("bounding_box needs 4 values, got %d", n)
	}
	if c.Import.ChunkSize <= 0 {
		return errors.New("import chunk_size must be positive")
	}
	if c.Import.RetryAttempts < 1 {
		return errors.New("import retry_attempts must be at least 1")
	}
	for name, d := range c.Worker.Schedules {
		if d <= 0 {
			return fmt.Errorf("schedule for %s must be positive", name)
		}
	}
	return nil
}

// RequireAPIKey fails when the admin API would run without authentication.
// In dev mode (LINKEDEVENTS_DEV_MODE=true) the check is skipped.
func (c *Config) RequireAPIKey() error {
	if os.Getenv("LINKEDEVENTS_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("LINKEDEVENTS_API_KEY is required")
	}
	return nil
}

// Location returns the configured import time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Import.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Importer returns the settings of the named importer.
func (c *Config) Importer(name string) ImporterConfig {
	return c.Importers[name]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
