package testutil

import (
	"testing"
)

// SampleConfigYAML is a config file overriding server and timing values
const SampleConfigYAML = `server_url: http://127.0.0.1:9999
user_id: fixture-user
capture:
  subunit_interval: 1s
  flush_interval: 10s
session:
  completion_threshold_seconds: 60
  nominal_duration_seconds: 300
`

// SampleIdentityYAML is an identity store holding one completed session
const SampleIdentityYAML = `user_id: user-123
email: someone@example.com
sessions:
  - session_id: sess-1
    topic: Travel & Adventures
    profile_strength: 0.82
    completed_at: 2024-01-01T10:05:00Z
`

// CreateConfigFixture writes a config file into dir and returns its path
func CreateConfigFixture(t *testing.T, dir, content string) string {
	t.Helper()
	if content == "" {
		content = SampleConfigYAML
	}
	return WriteFile(t, dir, "config.yaml", []byte(content))
}

// CreateIdentityFixture writes an identity store into dir and returns its path
func CreateIdentityFixture(t *testing.T, dir, content string) string {
	t.Helper()
	if content == "" {
		content = SampleIdentityYAML
	}
	return WriteFile(t, dir, "identity.yaml", []byte(content))
}
