package internal

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is a position in the enrollment session lifecycle
type State string

const (
	StateTopicSelection    State = "topic_selection"
	StatePermissionRequest State = "permission_request"
	StateActive            State = "active"
	StateCompleting        State = "completing"
	StateTerminated        State = "terminated"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTopic is used when the user continues without choosing one.
const DefaultTopic = "General Chat"

// Topics are the predefined conversation topics offered at topic selection.
var Topics = []string{
	DefaultTopic,
	"Travel & Adventures",
	"Food & Cooking",
	"Hobbies & Interests",
	"Work & Career",
	"Movies & Books",
}

// ResolveTopic maps user input to a topic: empty input selects the default,
// a 1-based number selects a predefined topic, anything else is free text.
func ResolveTopic(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return DefaultTopic
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(Topics) {
		return Topics[n-1]
	}
	return input
}

// Turn is one message in the conversation transcript
type Turn struct {
	Role       Role      `json:"role" yaml:"role"`
	Content    string    `json:"content" yaml:"content"`
	InsertedAt time.Time `json:"inserted_at" yaml:"inserted_at"`
}

// Session is an enrollment session and its transcript
type Session struct {
	ID             string     `json:"id" yaml:"id"`
	UserID         string     `json:"user_id" yaml:"user_id"`
	Topic          string     `json:"topic" yaml:"topic"`
	State          State      `json:"state" yaml:"state"`
	ElapsedSeconds int        `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	ChunksAccepted int        `json:"chunks_accepted" yaml:"chunks_accepted"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	Turns          []Turn     `json:"turns" yaml:"turns"`
}

// Chunk is one encoded slice of the continuously captured stream.
// Payload holds the base64 encoding of RawSize captured bytes.
type Chunk struct {
	SessionID  string
	Sequence   int
	Payload    []byte
	RawSize    int
	ProducedAt time.Time
}

// EncodeChunk builds a Chunk from raw captured bytes.
func EncodeChunk(sessionID string, seq int, raw []byte, producedAt time.Time) Chunk {
	payload := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(payload, raw)
	return Chunk{
		SessionID:  sessionID,
		Sequence:   seq,
		Payload:    payload,
		RawSize:    len(raw),
		ProducedAt: producedAt,
	}
}

// Decode returns the raw captured bytes carried by the chunk.
func (c Chunk) Decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(c.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk %d: %w", c.Sequence, err)
	}
	return raw, nil
}

// CompletionSummary is the acknowledgement returned when enrollment completes
type CompletionSummary struct {
	ProfileStrength     float64        `json:"profile_strength" yaml:"profile_strength"`
	EmbeddingsCollected map[string]int `json:"embeddings_collected,omitempty" yaml:"embeddings_collected,omitempty"`
	Message             string         `json:"message,omitempty" yaml:"message,omitempty"`
}

// Snapshot is a read-only projection of controller state for the host
type Snapshot struct {
	State              State
	Topic              string
	SessionID          string
	UserID             string
	Transcript         []Turn
	ElapsedSeconds     int
	Progress           float64 // elapsed / nominal duration, capped at 1
	ChunksAccepted     int
	CanComplete        bool
	AwaitingResponse   bool
	Speaking           bool
	Recording          bool
	Transcribing       bool
	ObjectivesProgress float64
}
