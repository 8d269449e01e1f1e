package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appDir = "enroll-session"

// CaptureConfig controls continuous capture slicing
type CaptureConfig struct {
	SubunitInterval time.Duration `yaml:"subunit_interval"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// SessionConfig controls conversation timing rules
type SessionConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	CompletionThreshold int           `yaml:"completion_threshold_seconds"`
	NominalDuration     int           `yaml:"nominal_duration_seconds"`
	AutoSubmitDelay     time.Duration `yaml:"auto_submit_delay"`
}

// DeviceConfig selects capture devices and the ffmpeg input format
type DeviceConfig struct {
	InputFormat string      `yaml:"input_format"` // empty picks the platform default
	Constraints Constraints `yaml:"constraints"`
}

// Config is the enroll-session configuration file
type Config struct {
	ServerURL    string        `yaml:"server_url"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	UserID       string        `yaml:"user_id,omitempty"`
	Email        string        `yaml:"email,omitempty"`
	JournalPath  string        `yaml:"journal_path"`
	IdentityPath string        `yaml:"identity_path"`

	Capture CaptureConfig `yaml:"capture"`
	Session SessionConfig `yaml:"session"`
	Devices DeviceConfig  `yaml:"devices"`
}

// DefaultConfigDir returns the directory holding the config file, journal
// and identity store.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// DefaultConfig returns the built-in configuration rooted at dir
func DefaultConfig(dir string) *Config {
	return &Config{
		ServerURL:    "http://localhost:8000",
		HTTPTimeout:  60 * time.Second,
		JournalPath:  filepath.Join(dir, "journal.db"),
		IdentityPath: filepath.Join(dir, "identity.yaml"),
		Capture: CaptureConfig{
			SubunitInterval: time.Second,
			FlushInterval:   10 * time.Second,
		},
		Session: SessionConfig{
			TickInterval:        time.Second,
			CompletionThreshold: 60,
			NominalDuration:     300,
			AutoSubmitDelay:     500 * time.Millisecond,
		},
		Devices: DeviceConfig{
			Constraints: DefaultConstraints(),
		},
	}
}

// LoadConfig reads the YAML config at path over the defaults. A missing
// file is not an error. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	dir := filepath.Dir(path)
	cfg := DefaultConfig(dir)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		LogDebug("No config file at %s, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating its directory if needed
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ENROLL_SERVER_URL")); v != "" {
		c.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ENROLL_USER_ID")); v != "" {
		c.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("ENROLL_EMAIL")); v != "" {
		c.Email = v
	}
}

// Validate rejects timing values the controller cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url is required")
	}
	if c.Capture.SubunitInterval <= 0 || c.Capture.FlushInterval <= 0 {
		return errors.New("capture intervals must be positive")
	}
	if c.Capture.FlushInterval < c.Capture.SubunitInterval {
		return fmt.Errorf("flush_interval (%s) must not be shorter than subunit_interval (%s)",
			c.Capture.FlushInterval, c.Capture.SubunitInterval)
	}
	if c.Session.TickInterval <= 0 {
		return errors.New("session tick_interval must be positive")
	}
	if c.Session.CompletionThreshold < 0 {
		return errors.New("completion_threshold_seconds must not be negative")
	}
	if c.Session.NominalDuration <= 0 {
		return errors.New("nominal_duration_seconds must be positive")
	}
	if c.Session.AutoSubmitDelay < 0 {
		return errors.New("auto_submit_delay must not be negative")
	}
	return nil
}
