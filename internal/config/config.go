// Package config provides configuration management for cadence.
//
// Settings live in ~/.cadence/settings.json as a flat map of CADENCE_* keys.
// Environment variables with the same names override the file, and the file
// overrides built-in defaults. A missing or malformed file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultWorkerPort             = 37710
	DefaultIdleThresholdSecs      = 60
	DefaultInactivityWindowSecs   = 60
	DefaultInteractionThrottleSec = 5
	DefaultMinSessionSecs         = 5
	DefaultSyncIntervalMinutes    = 5
	DefaultRetentionDays          = 30
	DefaultProductivityGoalMins   = 480
)

// Config holds all runtime settings.
type Config struct {
	WorkerPort int    `json:"CADENCE_WORKER_PORT"`
	APIBaseURL string `json:"CADENCE_API_BASE_URL"`
	AuthToken  string `json:"CADENCE_AUTH_TOKEN"`

	TrackingEnabled            bool     `json:"CADENCE_TRACKING_ENABLED"`
	IdleThresholdSeconds       int      `json:"CADENCE_IDLE_THRESHOLD_SECONDS"`
	InactivityWindowSeconds    int      `json:"CADENCE_INACTIVITY_WINDOW_SECONDS"`
	InteractionThrottleSeconds int      `json:"CADENCE_INTERACTION_THROTTLE_SECONDS"`
	MinSessionSeconds          int      `json:"CADENCE_MIN_SESSION_SECONDS"`
	SyncIntervalMinutes        int      `json:"CADENCE_SYNC_INTERVAL_MINUTES"`
	RetentionDays              int      `json:"CADENCE_RETENTION_DAYS"`
	ShowNotifications          bool     `json:"CADENCE_SHOW_NOTIFICATIONS"`
	ProductivityGoalMinutes    int      `json:"CADENCE_PRODUCTIVITY_GOAL_MINUTES"`
	ExcludedSubjects           []string `json:"CADENCE_EXCLUDED_SUBJECTS"`

	MaxConns int `json:"CADENCE_DB_MAX_CONNS"`
}

var (
	mu     sync.RWMutex
	cached *Config
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerPort:                 DefaultWorkerPort,
		TrackingEnabled:            true,
		IdleThresholdSeconds:       DefaultIdleThresholdSecs,
		InactivityWindowSeconds:    DefaultInactivityWindowSecs,
		InteractionThrottleSeconds: DefaultInteractionThrottleSec,
		MinSessionSeconds:          DefaultMinSessionSecs,
		SyncIntervalMinutes:        DefaultSyncIntervalMinutes,
		RetentionDays:              DefaultRetentionDays,
		ShowNotifications:          true,
		ProductivityGoalMinutes:    DefaultProductivityGoalMins,
		ExcludedSubjects:           nil,
		MaxConns:                   4,
	}
}

// DataDir returns the cadence data directory (~/.cadence).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cadence")
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "cadence.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// RulesPath returns the user classification rules file path.
func RulesPath() string {
	return filepath.Join(DataDir(), "rules.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write default settings: %w", err)
	}
	return nil
}

// EnsureAll initializes the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json layered over defaults, then applies environment
// overrides. It never fails on a bad file: the error is logged and defaults
// are used so the daemon always starts.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	} else if !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Cannot read settings file, using defaults")
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	if cached != nil {
		defer mu.RUnlock()
		return cached
	}
	mu.RUnlock()
	return Reload()
}

// Reload re-reads configuration from disk and replaces the cache. Used by the
// settings watcher.
func Reload() *Config {
	cfg, _ := Load()
	mu.Lock()
	cached = cfg
	mu.Unlock()
	return cfg
}

// Save writes the given configuration to settings.json and replaces the
// cache. Comments are not preserved; the file is a flat JSON object.
func Save(cfg *Config) error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(SettingsPath(), data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	mu.Lock()
	cached = cfg
	mu.Unlock()
	return nil
}

// SetAuthToken persists a new sync credential. An empty token clears it.
func SetAuthToken(token string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	cfg.AuthToken = token
	return Save(cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CADENCE_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
	if v := os.Getenv("CADENCE_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("CADENCE_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("CADENCE_TRACKING_ENABLED"); v != "" {
		cfg.TrackingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CADENCE_SYNC_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SyncIntervalMinutes = n
		}
	}
	if v := os.Getenv("CADENCE_EXCLUDED_SUBJECTS"); v != "" {
		cfg.ExcludedSubjects = splitTrim(v)
	}
}

// normalize clamps obviously broken values back to defaults.
func normalize(cfg *Config) {
	if cfg.WorkerPort <= 0 || cfg.WorkerPort > 65535 {
		cfg.WorkerPort = DefaultWorkerPort
	}
	if cfg.InactivityWindowSeconds <= 0 {
		cfg.InactivityWindowSeconds = DefaultInactivityWindowSecs
	}
	if cfg.InteractionThrottleSeconds <= 0 {
		cfg.InteractionThrottleSeconds = DefaultInteractionThrottleSec
	}
	if cfg.MinSessionSeconds < 0 {
		cfg.MinSessionSeconds = DefaultMinSessionSecs
	}
	if cfg.SyncIntervalMinutes <= 0 {
		cfg.SyncIntervalMinutes = DefaultSyncIntervalMinutes
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
}

// splitTrim splits a comma-separated list and trims whitespace, dropping
// empty items.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SyncCredential implements the syncer's CredentialProvider against the
// cached configuration, so settings edits take effect on the next pass.
type SyncCredential struct{}

// SyncCredential returns the current API endpoint and token.
func (SyncCredential) SyncCredential() (string, string) {
	cfg := Get()
	return strings.TrimRight(cfg.APIBaseURL, "/"), cfg.AuthToken
}
