package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EnrollmentRecord is one completed enrollment in the identity store
type EnrollmentRecord struct {
	SessionID           string         `yaml:"session_id"`
	Topic               string         `yaml:"topic,omitempty"`
	ProfileStrength     float64        `yaml:"profile_strength"`
	EmbeddingsCollected map[string]int `yaml:"embeddings_collected,omitempty"`
	CompletedAt         time.Time      `yaml:"completed_at"`
}

// Identity is the user identity handed off by completed enrollments
type Identity struct {
	UserID    string             `yaml:"user_id,omitempty"`
	Email     string             `yaml:"email,omitempty"`
	Sessions  []EnrollmentRecord `yaml:"sessions"`
	UpdatedAt time.Time          `yaml:"updated_at,omitempty"`
}

// Latest returns the most recently completed enrollment, or nil
func (id *Identity) Latest() *EnrollmentRecord {
	if len(id.Sessions) == 0 {
		return nil
	}
	latest := &id.Sessions[0]
	for i := range id.Sessions[1:] {
		if id.Sessions[i+1].CompletedAt.After(latest.CompletedAt) {
			latest = &id.Sessions[i+1]
		}
	}
	return latest
}

// IdentityStore persists the Identity as YAML
type IdentityStore struct {
	path string
	mu   sync.Mutex
}

// NewIdentityStore creates a store backed by the file at path
func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// Path returns the backing file
func (s *IdentityStore) Path() string {
	return s.path
}

// Load reads the identity. A missing file yields an empty identity.
func (s *IdentityStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *IdentityStore) load() (*Identity, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Identity{Sessions: make([]EnrollmentRecord, 0)}, nil
	}
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	if id.Sessions == nil {
		id.Sessions = make([]EnrollmentRecord, 0)
	}
	return &id, nil
}

// Save writes the identity
func (s *IdentityStore) Save(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(id)
}

func (s *IdentityStore) save(id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// RecordCompletion stores the user identifier returned at completion and
// adds or replaces the session's record
func (s *IdentityStore) RecordCompletion(userID, sessionID, topic string, summary *CompletionSummary, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.load()
	if err != nil {
		return err
	}
	if userID != "" {
		id.UserID = userID
	}

	rec := EnrollmentRecord{SessionID: sessionID, Topic: topic, CompletedAt: at}
	if summary != nil {
		rec.ProfileStrength = summary.ProfileStrength
		rec.EmbeddingsCollected = summary.EmbeddingsCollected
	}

	found := false
	for i, existing := range id.Sessions {
		if existing.SessionID == sessionID {
			id.Sessions[i] = rec
			found = true
			break
		}
	}
	if !found {
		id.Sessions = append(id.Sessions, rec)
	}
	id.UpdatedAt = at

	return s.save(id)
}

// Clear removes the identity file
func (s *IdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Emit implements EventSink, recording completed sessions
func (s *IdentityStore) Emit(e Event) {
	if e.Type != EventCompleted {
		return
	}
	if err := s.RecordCompletion(e.UserID, e.SessionID, e.Topic, e.Summary, e.At); err != nil {
		LogWarn("Failed to save identity for session %s: %v", e.SessionID, err)
	}
}
