package internal

import "context"

// VideoConstraints describes the requested camera track
type VideoConstraints struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FacingMode string `yaml:"facing_mode"`
	Device     string `yaml:"device"`
}

// AudioConstraints describes the requested microphone track
type AudioConstraints struct {
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	SampleRate       int    `yaml:"sample_rate"`
	Device           string `yaml:"device"`
}

// Constraints is a combined audio+video stream request
type Constraints struct {
	Video VideoConstraints `yaml:"video"`
	Audio AudioConstraints `yaml:"audio"`
}

// DefaultConstraints returns a user-facing 640x480 camera with a 16 kHz
// echo-cancelled, noise-suppressed microphone.
func DefaultConstraints() Constraints {
	return Constraints{
		Video: VideoConstraints{Width: 640, Height: 480, FacingMode: "user"},
		Audio: AudioConstraints{EchoCancellation: true, NoiseSuppression: true, SampleRate: 16000},
	}
}

// RecorderKind selects which tracks of a stream a recorder captures
type RecorderKind int

const (
	RecordAudioVideo RecorderKind = iota
	RecordAudioOnly
)

func (k RecorderKind) String() string {
	if k == RecordAudioOnly {
		return "audio"
	}
	return "audio+video"
}

// MediaDevices acquires device streams. Open returns a *PermissionError
// when access is refused or no device is available.
type MediaDevices interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired camera+microphone stream shared by the live preview,
// the continuous recorder and the push-to-talk recorder.
type Stream interface {
	NewRecorder(kind RecorderKind) (Recorder, error)
	// ActiveTracks reports how many device tracks are still live.
	ActiveTracks() int
	// Close stops every track. It is safe to call more than once.
	Close() error
}

// Recorder captures encoded media from a Stream.
type Recorder interface {
	Start() error
	// Collect drains and returns the bytes recorded since the previous call.
	Collect() ([]byte, error)
	// Stop ends recording and returns whatever was not yet collected.
	Stop() ([]byte, error)
}

// Player plays encoded audio clips.
type Player interface {
	Play(clip []byte) (Playback, error)
}

// Playback is one playing clip. Done yields once when the clip ends
// naturally, fails, or is stopped.
type Playback interface {
	Done() <-chan error
	Stop()
}

// StartRequest opens an enrollment session
type StartRequest struct {
	Topic  string
	UserID string
	Email  string
}

// StartResponse carries the new session and the assistant's opening turn
type StartResponse struct {
	SessionID      string
	UserID         string
	OpeningMessage string
	OpeningAudio   []byte
}

// MessageRequest is one user turn sent to the conversation service
type MessageRequest struct {
	SessionID      string
	Text           string
	ElapsedSeconds int
}

// MessageResponse is the assistant's reply to a user turn
type MessageResponse struct {
	ResponseText       string
	ResponseAudio      []byte
	ShouldEnd          bool
	ObjectivesProgress float64
}

// EnrollmentService is the enrollment collaborator
type EnrollmentService interface {
	StartEnrollment(ctx context.Context, req StartRequest) (*StartResponse, error)
	// UploadChunk reports whether the service accepted the chunk.
	UploadChunk(ctx context.Context, chunk Chunk) (bool, error)
	CompleteEnrollment(ctx context.Context, sessionID string) (*CompletionSummary, error)
}

// ConversationService is the conversation collaborator
type ConversationService interface {
	SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// TranscriptionService converts a recorded utterance to text. An empty
// result with a nil error means nothing intelligible was heard.
type TranscriptionService interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
