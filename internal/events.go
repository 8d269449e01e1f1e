package internal

import "time"

// EventType identifies what changed in the controller
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventTurnAppended       EventType = "turn_appended"
	EventElapsedTick        EventType = "elapsed_tick"
	EventCompletionUnlocked EventType = "completion_unlocked"
	EventChunkUploaded      EventType = "chunk_uploaded"
	EventSpeakingChanged    EventType = "speaking_changed"
	EventMicChanged         EventType = "mic_changed"
	EventError              EventType = "error"
	EventCompleted          EventType = "completed"
	EventCancelled          EventType = "cancelled"
)

// Event is emitted by the session controller toward its host. Only the
// fields relevant to Type are set.
type Event struct {
	Type      EventType
	At        time.Time
	SessionID string

	State    State // EventStateChanged
	Previous State
	Topic    string // EventStateChanged, EventCompleted

	Turn *Turn // EventTurnAppended

	Elapsed int // EventElapsedTick, EventCompletionUnlocked

	ChunkSequence  int // EventChunkUploaded
	ChunkSize      int
	ChunkAccepted  bool
	ChunksAccepted int

	Speaking     bool // EventSpeakingChanged, EventMicChanged
	Recording    bool
	Transcribing bool

	Err       error // EventError
	Retryable bool

	UserID  string // EventStateChanged, EventCompleted
	Summary *CompletionSummary
}

// EventSink receives controller events. Emit must not block for long; it is
// called from timer and upload goroutines.
type EventSink interface {
	Emit(e Event)
}

type eventFunc func(e Event)

func (f eventFunc) Emit(e Event) {
	f(e)
}

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

// Emit forwards e to every non-nil sink
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard is an EventSink that drops every event.
var Discard EventSink = eventFunc(func(Event) {})
