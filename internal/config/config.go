// Package config loads the runtime configuration of the sync core from the
// environment, optionally seeded by a .env file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "OFFSYNC_"

const (
	MinImageDimension = 64
	MaxImageDimension = 8192
	MinImageQuality   = 1
	MaxImageQuality   = 100
)

type Config struct {
	DataDir          string
	APIBaseURL       string
	APIToken         string
	RequestTimeout   time.Duration
	Debounce         time.Duration
	RetryInterval    time.Duration
	ProbeURL         string
	ProbeInterval    time.Duration
	ReachabilityFile string
	ImageMaxDim      int
	ImageQuality     int
	LogLevel         string
	LogFormat        string
	LogFile          string
	MetricsAddr      string
	ArchiveRetention time.Duration
}

// Load reads the configuration. A missing .env file is not an error; a
// malformed value is.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	var errs []string
	dur := func(key string, fallback time.Duration) time.Duration {
		d, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	num := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}

	cfg := &Config{
		DataDir:          getEnv("DATA_DIR", defaultDataDir()),
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api"), "/"),
		APIToken:         getEnv("API_TOKEN", ""),
		RequestTimeout:   dur("REQUEST_TIMEOUT", 15*time.Second),
		Debounce:         dur("DEBOUNCE", 2*time.Second),
		RetryInterval:    dur("RETRY_INTERVAL", 0),
		ProbeURL:         getEnv("PROBE_URL", ""),
		ProbeInterval:    dur("PROBE_INTERVAL", 30*time.Second),
		ReachabilityFile: getEnv("REACHABILITY_FILE", ""),
		ImageMaxDim:      num("IMAGE_MAX_DIMENSION", 1600),
		ImageQuality:     num("IMAGE_QUALITY", 80),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		LogFormat:        getEnv("LOG_FORMAT", "TEXT"),
		LogFile:          getEnv("LOG_FILE", ""),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		ArchiveRetention: dur("ARCHIVE_RETENTION", 7*24*time.Hour),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("config: %sAPI_BASE_URL: %w", envPrefix, err)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("config: %sREQUEST_TIMEOUT must be positive", envPrefix)
	}
	if cfg.Debounce < 0 || cfg.RetryInterval < 0 || cfg.ProbeInterval < 0 {
		return nil, fmt.Errorf("config: intervals must not be negative")
	}

	cfg.ImageMaxDim = clamp("IMAGE_MAX_DIMENSION", cfg.ImageMaxDim, MinImageDimension, MaxImageDimension)
	cfg.ImageQuality = clamp("IMAGE_QUALITY", cfg.ImageQuality, MinImageQuality, MaxImageQuality)
	return cfg, nil
}

// DatabasePath is where the device database lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "offsync.db")
}

// CacheDir is the root of the attachment cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "attachments")
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "offsync")
	}
	return ".offsync"
}

func clamp(key string, v, lo, hi int) int {
	if v < lo || v > hi {
		clamped := min(max(v, lo), hi)
		slog.Warn("config value out of range, clamping", "key", envPrefix+key, "requested", v, "value", clamped)
		return clamped
	}
	return v
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok || value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %q is not an integer", envPrefix, key, value)
	}
	return i, nil
}

// getEnvDuration accepts Go duration syntax or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok || value == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %q is not a duration", envPrefix, key, value)
	}
	return d, nil
}
