package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/enroll-session/testutil"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	t.Setenv("ENROLL_SERVER_URL", "")
	t.Setenv("ENROLL_USER_ID", "")
	t.Setenv("ENROLL_EMAIL", "")

	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Capture.SubunitInterval != time.Second {
		t.Errorf("SubunitInterval = %v, want 1s", cfg.Capture.SubunitInterval)
	}
	if cfg.Capture.FlushInterval != 10*time.Second {
		t.Errorf("FlushInterval = %v, want 10s", cfg.Capture.FlushInterval)
	}
	if cfg.Session.CompletionThreshold != 60 {
		t.Errorf("CompletionThreshold = %d, want 60", cfg.Session.CompletionThreshold)
	}
	if cfg.Devices.Constraints.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Devices.Constraints.Audio.SampleRate)
	}
	if cfg.JournalPath != filepath.Join(dir, "journal.db") {
		t.Errorf("JournalPath = %q", cfg.JournalPath)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := filepath.Join(dir, "config.yaml")
	content := `server_url: http://enroll.example:9000
user_id: file-user
capture:
  subunit_interval: 500ms
  flush_interval: 5s
session:
  completion_threshold_seconds: 30
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("ENROLL_SERVER_URL", "")
	t.Setenv("ENROLL_USER_ID", "env-user")
	t.Setenv("ENROLL_EMAIL", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.ServerURL != "http://enroll.example:9000" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.UserID != "env-user" {
		t.Errorf("UserID = %q, want env override", cfg.UserID)
	}
	if cfg.Capture.SubunitInterval != 500*time.Millisecond || cfg.Capture.FlushInterval != 5*time.Second {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Session.CompletionThreshold != 30 {
		t.Errorf("CompletionThreshold = %d, want 30", cfg.Session.CompletionThreshold)
	}
	if cfg.Session.NominalDuration != 300 {
		t.Errorf("NominalDuration = %d, want default 300", cfg.Session.NominalDuration)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("capture: [not, a, map"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() should fail on malformed YAML")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty server", mutate: func(c *Config) { c.ServerURL = " " }, wantErr: "server_url"},
		{name: "zero subunit", mutate: func(c *Config) { c.Capture.SubunitInterval = 0 }, wantErr: "capture intervals"},
		{name: "flush shorter than subunit", mutate: func(c *Config) { c.Capture.FlushInterval = 100 * time.Millisecond }, wantErr: "flush_interval"},
		{name: "zero tick", mutate: func(c *Config) { c.Session.TickInterval = 0 }, wantErr: "tick_interval"},
		{name: "negative threshold", mutate: func(c *Config) { c.Session.CompletionThreshold = -1 }, wantErr: "completion_threshold"},
		{name: "zero nominal", mutate: func(c *Config) { c.Session.NominalDuration = 0 }, wantErr: "nominal_duration"},
		{name: "negative delay", mutate: func(c *Config) { c.Session.AutoSubmitDelay = -time.Second }, wantErr: "auto_submit_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := filepath.Join(dir, "nested", "config.yaml")
	t.Setenv("ENROLL_SERVER_URL", "")
	t.Setenv("ENROLL_USER_ID", "")
	t.Setenv("ENROLL_EMAIL", "")

	cfg := DefaultConfig(dir)
	cfg.Email = "someone@example.com"
	cfg.Session.AutoSubmitDelay = 250 * time.Millisecond
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Email != "someone@example.com" {
		t.Errorf("Email = %q", loaded.Email)
	}
	if loaded.Session.AutoSubmitDelay != 250*time.Millisecond {
		t.Errorf("AutoSubmitDelay = %v", loaded.Session.AutoSubmitDelay)
	}
}
