// Package fakes provides in-memory implementations of the session
// controller's device and service ports for tests.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// Devices is a MediaDevices that hands out Streams or a fixed error
type Devices struct {
	mu          sync.Mutex
	Err         error
	Opened      []*Stream
	Constraints []internal.Constraints

	// RecorderData is what each Collect call of a new recorder returns.
	RecorderData []byte
	// RecorderTail is what Stop of a new recorder returns.
	RecorderTail []byte
}

// Open implements internal.MediaDevices
func (d *Devices) Open(ctx context.Context, c internal.Constraints) (internal.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Constraints = append(d.Constraints, c)
	if d.Err != nil {
		return nil, d.Err
	}
	s := &Stream{tracks: 2, recorderData: d.RecorderData, recorderTail: d.RecorderTail}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// Calls returns how many times Open was called
func (d *Devices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Constraints)
}

// Last returns the most recently opened stream
func (d *Devices) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Opened) == 0 {
		return nil
	}
	return d.Opened[len(d.Opened)-1]
}

// Stream is an in-memory internal.Stream
type Stream struct {
	mu           sync.Mutex
	tracks       int
	closes       int
	recorderData []byte
	recorderTail []byte
	Recorders    []*Recorder
	RecorderErr  error
}

// NewStream returns a stream with two live tracks
func NewStream() *Stream {
	return &Stream{tracks: 2}
}

// NewRecorder implements internal.Stream
func (s *Stream) NewRecorder(kind internal.RecorderKind) (internal.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecorderErr != nil {
		return nil, s.RecorderErr
	}
	if s.tracks == 0 {
		return nil, errors.New("stream is closed")
	}
	r := &Recorder{Kind: kind, Data: s.recorderData, Tail: s.recorderTail}
	s.Recorders = append(s.Recorders, r)
	return r, nil
}

// ActiveTracks implements internal.Stream
func (s *Stream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

// Close implements internal.Stream
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = 0
	s.closes++
	return nil
}

// Closes returns how many times Close was called
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// RecorderOf returns the first recorder of the given kind, or nil
func (s *Stream) RecorderOf(kind internal.RecorderKind) *Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Recorders {
		if r.Kind == kind {
			return r
		}
	}
	return nil
}

// Recorder returns Data from every Collect and Tail from Stop
type Recorder struct {
	mu       sync.Mutex
	Kind     internal.RecorderKind
	Data     []byte
	Tail     []byte
	StartErr error
	StopErr  error

	started  bool
	stopped  bool
	collects int
}

// Start implements internal.Recorder
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.started = true
	return nil
}

// Collect implements internal.Recorder
func (r *Recorder) Collect() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return nil, nil
	}
	r.collects++
	return append([]byte(nil), r.Data...), nil
}

// Stop implements internal.Recorder
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, nil
	}
	r.stopped = true
	if r.StopErr != nil {
		return nil, r.StopErr
	}
	return append([]byte(nil), r.Tail...), nil
}

// Stopped reports whether Stop was called
func (r *Recorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Collects returns how many times Collect returned data
func (r *Recorder) Collects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collects
}

// Player records clips and hands out Playbacks that end when told to
type Player struct {
	mu     sync.Mutex
	Err    error
	Clips  [][]byte
	Played []*Playback
}

// Play implements internal.Player
func (p *Player) Play(clip []byte) (internal.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clips = append(p.Clips, clip)
	if p.Err != nil {
		return nil, p.Err
	}
	pb := &Playback{done: make(chan error, 1)}
	p.Played = append(p.Played, pb)
	return pb, nil
}

// Count returns how many clips were played
func (p *Player) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}

// Last returns the most recent playback
func (p *Player) Last() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Played) == 0 {
		return nil
	}
	return p.Played[len(p.Played)-1]
}

// Playback ends on Finish or Stop, whichever comes first
type Playback struct {
	once    sync.Once
	done    chan error
	mu      sync.Mutex
	stopped bool
}

// Done implements internal.Playback
func (pb *Playback) Done() <-chan error {
	return pb.done
}

// Stop implements internal.Playback
func (pb *Playback) Stop() {
	pb.mu.Lock()
	pb.stopped = true
	pb.mu.Unlock()
	pb.Finish(nil)
}

// Finish ends the clip naturally with err
func (pb *Playback) Finish(err error) {
	pb.once.Do(func() {
		pb.done <- err
		close(pb.done)
	})
}

// Stopped reports whether Stop was called
func (pb *Playback) Stopped() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.stopped
}

// Service implements the enrollment, conversation and transcription ports.
// Each hook is optional; a nil hook returns a canned success.
type Service struct {
	mu sync.Mutex

	StartFunc      func(ctx context.Context, req internal.StartRequest) (*internal.StartResponse, error)
	UploadFunc     func(ctx context.Context, chunk internal.Chunk) (bool, error)
	CompleteFunc   func(ctx context.Context, sessionID string) (*internal.CompletionSummary, error)
	SendFunc       func(ctx context.Context, req internal.MessageRequest) (*internal.MessageResponse, error)
	TranscribeFunc func(ctx context.Context, audio []byte) (string, error)

	Starts      []internal.StartRequest
	Chunks      []internal.Chunk
	Completes   []string
	Messages    []internal.MessageRequest
	Transcribed [][]byte

	sessions int
}

// StartEnrollment implements internal.EnrollmentService
func (s *Service) StartEnrollment(ctx context.Context, req internal.StartRequest) (*internal.StartResponse, error) {
	s.mu.Lock()
	s.Starts = append(s.Starts, req)
	s.sessions++
	n := s.sessions
	fn := s.StartFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	userID := req.UserID
	if userID == "" {
		userID = "user-generated"
	}
	return &internal.StartResponse{
		SessionID:      fmt.Sprintf("sess-%d", n),
		UserID:         userID,
		OpeningMessage: "Hi! Let's talk about " + req.Topic + ".",
	}, nil
}

// UploadChunk implements internal.EnrollmentService
func (s *Service) UploadChunk(ctx context.Context, chunk internal.Chunk) (bool, error) {
	s.mu.Lock()
	s.Chunks = append(s.Chunks, chunk)
	fn := s.UploadFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, chunk)
	}
	return true, nil
}

// CompleteEnrollment implements internal.EnrollmentService
func (s *Service) CompleteEnrollment(ctx context.Context, sessionID string) (*internal.CompletionSummary, error) {
	s.mu.Lock()
	s.Completes = append(s.Completes, sessionID)
	fn := s.CompleteFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, sessionID)
	}
	return &internal.CompletionSummary{
		ProfileStrength:     0.75,
		EmbeddingsCollected: map[string]int{"voice": 4, "face": 4},
		Message:             "Enrollment complete",
	}, nil
}

// SendMessage implements internal.ConversationService
func (s *Service) SendMessage(ctx context.Context, req internal.MessageRequest) (*internal.MessageResponse, error) {
	s.mu.Lock()
	s.Messages = append(s.Messages, req)
	fn := s.SendFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &internal.MessageResponse{ResponseText: "Tell me more."}, nil
}

// Transcribe implements internal.TranscriptionService
func (s *Service) Transcribe(ctx context.Context, audio []byte) (string, error) {
	s.mu.Lock()
	s.Transcribed = append(s.Transcribed, audio)
	fn := s.TranscribeFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio)
	}
	return "hello there", nil
}

// ChunkCount returns how many chunks were uploaded
func (s *Service) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// UploadedChunks returns a copy of the uploaded chunks
func (s *Service) UploadedChunks() []internal.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.Chunk(nil), s.Chunks...)
}

// SentMessages returns a copy of the sent message requests
func (s *Service) SentMessages() []internal.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.MessageRequest(nil), s.Messages...)
}

// TranscribeRequests returns a copy of the audio sent for transcription
func (s *Service) TranscribeRequests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Transcribed...)
}

// CompleteCalls returns how many times CompleteEnrollment was called
func (s *Service) CompleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Completes)
}

// Events collects emitted events for assertions
type Events struct {
	mu     sync.Mutex
	events []internal.Event
	notify chan struct{}
}

// NewEvents creates an empty event collector
func NewEvents() *Events {
	return &Events{notify: make(chan struct{}, 1)}
}

// Emit implements internal.EventSink
func (e *Events) Emit(ev internal.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// All returns a copy of every event received
func (e *Events) All() []internal.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]internal.Event(nil), e.events...)
}

// OfType returns the events of type t in arrival order
func (e *Events) OfType(t internal.EventType) []internal.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []internal.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type t were received
func (e *Events) Count(t internal.EventType) int {
	return len(e.OfType(t))
}

// WaitFor blocks until at least n events of type t arrived or the timeout
// passes, and reports whether they did.
func (e *Events) WaitFor(t internal.EventType, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if e.Count(t) >= n {
			return true
		}
		select {
		case <-e.notify:
		case <-deadline.C:
			return e.Count(t) >= n
		}
	}
}

// Eventually polls cond until it holds or the timeout passes
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
