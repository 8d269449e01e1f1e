// Package enroll runs a real-time enrollment session: it acquires the
// camera and microphone, streams captured media to the enrollment service in
// periodic chunks, and drives the timed conversation with the assistant.
package enroll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// FallbackReply is appended when the conversation service cannot answer.
const FallbackReply = "Sorry, I'm having trouble responding. Let's continue."

// Config holds the timing rules and device request for a Controller
type Config struct {
	SubunitInterval     time.Duration
	FlushInterval       time.Duration
	TickInterval        time.Duration
	CompletionThreshold int
	NominalDuration     int
	AutoSubmitDelay     time.Duration
	// UploadDrainTimeout bounds how long Complete waits for in-flight
	// chunk uploads before finalizing.
	UploadDrainTimeout time.Duration
	Constraints        internal.Constraints

	UserID string
	Email  string
}

// ConfigFrom derives a controller Config from the application config
func ConfigFrom(cfg *internal.Config) Config {
	return Config{
		SubunitInterval:     cfg.Capture.SubunitInterval,
		FlushInterval:       cfg.Capture.FlushInterval,
		TickInterval:        cfg.Session.TickInterval,
		CompletionThreshold: cfg.Session.CompletionThreshold,
		NominalDuration:     cfg.Session.NominalDuration,
		AutoSubmitDelay:     cfg.Session.AutoSubmitDelay,
		UploadDrainTimeout:  cfg.HTTPTimeout,
		Constraints:         cfg.Devices.Constraints,
		UserID:              cfg.UserID,
		Email:               cfg.Email,
	}
}

// Deps are the collaborators a Controller drives
type Deps struct {
	Devices       internal.MediaDevices
	Enrollment    internal.EnrollmentService
	Conversation  internal.ConversationService
	Transcription internal.TranscriptionService
	Player        internal.Player
	Events        internal.EventSink
}

// sessionResources are acquired on start and released by teardown only
type sessionResources struct {
	ctx      context.Context
	cancel   context.CancelFunc
	stream   internal.Stream
	capture  *CaptureEngine
	uploader *UploadScheduler
	timer    *SessionTimer
	voice    *VoiceController
	once     sync.Once
}

// Controller is the enrollment session state machine. Every transition goes
// through its methods; collaborator calls are made without holding the lock.
type Controller struct {
	cfg    Config
	deps   Deps
	gate   *PermissionGate
	events internal.EventSink

	mu         sync.Mutex
	state      internal.State
	topic      string
	session    *internal.Session
	turns      []internal.Turn
	shouldEnd  bool
	unlocked   bool
	objectives float64
	starting   bool
	finalizing bool
	tornDown   bool
	summary    *internal.CompletionSummary
	res        *sessionResources

	awaiting atomic.Bool
}

// NewController creates a controller in topic selection
func NewController(cfg Config, deps Deps) *Controller {
	events := deps.Events
	if events == nil {
		events = internal.Discard
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		gate:   NewPermissionGate(deps.Devices, cfg.Constraints),
		events: events,
		state:  internal.StateTopicSelection,
	}
}

func (c *Controller) emit(e internal.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.events.Emit(e)
}

// setStateLocked changes state and returns the event describing it
func (c *Controller) setStateLocked(next internal.State) internal.Event {
	prev := c.state
	c.state = next
	internal.LogDebug("Session state %s -> %s", prev, next)
	e := internal.Event{Type: internal.EventStateChanged, State: next, Previous: prev, Topic: c.topic}
	if c.session != nil {
		e.SessionID = c.session.ID
		e.UserID = c.session.UserID
	}
	return e
}

// State returns the current state
func (c *Controller) State() internal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChooseTopic records the topic from user input. Empty input selects the
// default topic and a number selects a predefined one.
func (c *Controller) ChooseTopic(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != internal.StateTopicSelection {
		return internal.ErrInvalidTransition
	}
	c.topic = internal.ResolveTopic(input)
	return nil
}

// Continue leaves topic selection, taking the default topic if none was
// chosen
func (c *Controller) Continue() error {
	c.mu.Lock()
	if c.state != internal.StateTopicSelection {
		c.mu.Unlock()
		return internal.ErrInvalidTransition
	}
	if c.topic == "" {
		c.topic = internal.DefaultTopic
	}
	e := c.setStateLocked(internal.StatePermissionRequest)
	c.mu.Unlock()

	c.emit(e)
	return nil
}

// Start requests device access and opens the enrollment session. On a
// permission or start failure the controller stays in permission request
// and Start may be called again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != internal.StatePermissionRequest || c.starting {
		c.mu.Unlock()
		return internal.ErrInvalidTransition
	}
	c.starting = true
	topic := c.topic
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	stream, err := c.gate.RequestAccess(ctx)
	if err != nil {
		var perr *internal.PermissionError
		retryable := errors.As(err, &perr) && perr.Retryable()
		internal.LogWarn("Device access failed: %v", err)
		c.emit(internal.Event{Type: internal.EventError, Err: err, Retryable: retryable})
		return err
	}

	resp, err := c.deps.Enrollment.StartEnrollment(ctx, internal.StartRequest{
		Topic:  topic,
		UserID: c.cfg.UserID,
		Email:  c.cfg.Email,
	})
	if err != nil {
		_ = stream.Close()
		serr := &internal.SessionError{Kind: internal.KindStartFailed, Err: err}
		internal.LogWarn("Failed to start enrollment: %v", err)
		c.emit(internal.Event{Type: internal.EventError, Err: serr, Retryable: true})
		return serr
	}

	res := c.newResources(resp.SessionID, stream)
	if err := res.capture.Start(stream); err != nil {
		res.cancel()
		_ = stream.Close()
		perr := &internal.PermissionError{Reason: internal.ReasonDeviceUnavailable, Err: err}
		c.emit(internal.Event{Type: internal.EventError, SessionID: resp.SessionID, Err: perr})
		return perr
	}

	now := time.Now()
	opening := internal.Turn{Role: internal.RoleAssistant, Content: resp.OpeningMessage, InsertedAt: now}

	c.mu.Lock()
	if c.state != internal.StatePermissionRequest {
		// Cancelled while the start call was in flight.
		c.mu.Unlock()
		c.teardown(res)
		return internal.ErrNoSession
	}
	c.session = &internal.Session{
		ID:        resp.SessionID,
		UserID:    resp.UserID,
		Topic:     topic,
		State:     internal.StateActive,
		StartedAt: now,
	}
	c.turns = []internal.Turn{opening}
	c.shouldEnd = false
	c.unlocked = false
	c.objectives = 0
	c.tornDown = false
	c.res = res
	stateEvent := c.setStateLocked(internal.StateActive)
	c.mu.Unlock()

	res.timer.Start()
	internal.LogInfo("Enrollment session %s started (topic %q)", resp.SessionID, topic)

	c.emit(stateEvent)
	c.emit(internal.Event{Type: internal.EventTurnAppended, SessionID: resp.SessionID, Turn: &opening})
	if err := res.voice.Play(resp.OpeningAudio); err != nil {
		internal.LogWarn("Failed to play opening audio: %v", err)
	}
	return nil
}

func (c *Controller) newResources(sessionID string, stream internal.Stream) *sessionResources {
	ctx, cancel := context.WithCancel(context.Background())
	uploader := NewUploadScheduler(ctx, c.deps.Enrollment, c.events)
	res := &sessionResources{
		ctx:      ctx,
		cancel:   cancel,
		stream:   stream,
		uploader: uploader,
		capture:  NewCaptureEngine(sessionID, uploader, c.cfg.SubunitInterval, c.cfg.FlushInterval),
	}
	res.timer = NewSessionTimer(c.cfg.TickInterval, func(elapsed int) { c.onTick(res, elapsed) })
	res.voice = NewVoiceController(ctx, VoiceOptions{
		SessionID:       sessionID,
		Player:          c.deps.Player,
		Transcriber:     c.deps.Transcription,
		Events:          c.events,
		AutoSubmitDelay: c.cfg.AutoSubmitDelay,
		Awaiting:        c.awaiting.Load,
		Submit: func(text string) {
			if err := c.SendMessage(ctx, text); err != nil {
				internal.LogWarn("Voice message not sent: %v", err)
			}
		},
	})
	res.voice.Attach(stream)
	return res
}

func (c *Controller) onTick(res *sessionResources, elapsed int) {
	c.mu.Lock()
	if c.res != res || c.state != internal.StateActive {
		c.mu.Unlock()
		return
	}
	sessionID := c.session.ID
	unlockedNow := c.updateUnlockLocked(elapsed)
	c.mu.Unlock()

	c.emit(internal.Event{Type: internal.EventElapsedTick, SessionID: sessionID, Elapsed: elapsed})
	if unlockedNow {
		internal.LogInfo("Completion unlocked at %ds", elapsed)
		c.emit(internal.Event{Type: internal.EventCompletionUnlocked, SessionID: sessionID, Elapsed: elapsed})
	}
}

// updateUnlockLocked reports whether the completion affordance just became
// available
func (c *Controller) updateUnlockLocked(elapsed int) bool {
	if c.unlocked {
		return false
	}
	if elapsed >= c.cfg.CompletionThreshold || c.shouldEnd {
		c.unlocked = true
		return true
	}
	return false
}

// SendMessage appends text as a user turn and waits for the assistant's
// reply. Only one message may be outstanding. A failed send appends a
// fallback reply and the session continues.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return internal.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != internal.StateActive {
		c.mu.Unlock()
		return internal.ErrInvalidTransition
	}
	if !c.awaiting.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return internal.ErrAwaitingResponse
	}
	res := c.res
	sessionID := c.session.ID
	userTurn := internal.Turn{Role: internal.RoleUser, Content: text, InsertedAt: time.Now()}
	c.turns = append(c.turns, userTurn)
	elapsed := res.timer.Elapsed()
	c.mu.Unlock()

	c.emit(internal.Event{Type: internal.EventTurnAppended, SessionID: sessionID, Turn: &userTurn})
	res.voice.StopPlayback()

	resp, err := c.deps.Conversation.SendMessage(ctx, internal.MessageRequest{
		SessionID:      sessionID,
		Text:           text,
		ElapsedSeconds: elapsed,
	})

	c.mu.Lock()
	if c.res != res || c.state != internal.StateActive {
		c.awaiting.Store(false)
		c.mu.Unlock()
		internal.LogDebug("Dropping reply for session %s: session no longer active", sessionID)
		return nil
	}

	reply := internal.Turn{Role: internal.RoleAssistant, InsertedAt: time.Now()}
	var audio []byte
	if err != nil {
		serr := &internal.SessionError{Kind: internal.KindSendFailed, SessionID: sessionID, Err: err}
		internal.LogWarn("Conversation reply failed: %v", serr)
		reply.Content = FallbackReply
	} else {
		reply.Content = resp.ResponseText
		audio = resp.ResponseAudio
		if resp.ShouldEnd {
			c.shouldEnd = true
		}
		c.objectives = resp.ObjectivesProgress
	}
	c.turns = append(c.turns, reply)
	c.awaiting.Store(false)
	unlockedNow := c.updateUnlockLocked(res.timer.Elapsed())
	c.mu.Unlock()

	c.emit(internal.Event{Type: internal.EventTurnAppended, SessionID: sessionID, Turn: &reply})
	if unlockedNow {
		c.emit(internal.Event{Type: internal.EventCompletionUnlocked, SessionID: sessionID, Elapsed: elapsed})
	}
	if err := res.voice.Play(audio); err != nil {
		internal.LogWarn("Failed to play reply audio: %v", err)
	}
	return nil
}

// BeginTalk starts push-to-talk capture
func (c *Controller) BeginTalk() error {
	res, err := c.activeResources()
	if err != nil {
		return err
	}
	return res.voice.BeginCapture()
}

// EndTalk finishes push-to-talk capture; the transcript is submitted
// automatically
func (c *Controller) EndTalk() error {
	res, err := c.activeResources()
	if err != nil {
		return err
	}
	return res.voice.EndCapture()
}

func (c *Controller) activeResources() (*sessionResources, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != internal.StateActive {
		return nil, internal.ErrInvalidTransition
	}
	return c.res, nil
}

// CanComplete reports whether the completion affordance is available
func (c *Controller) CanComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == internal.StateActive && c.unlocked
}

// Complete stops capture, finalizes the enrollment and releases all local
// resources. If finalizing fails the resources stay released, the
// controller stays in completing and Complete may be called again to retry
// the finalize call alone.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	if c.finalizing {
		c.mu.Unlock()
		return internal.ErrInvalidTransition
	}
	var stateEvent *internal.Event
	switch {
	case c.state == internal.StateCompleting && c.tornDown:
		// retry of a failed finalize
	case c.state != internal.StateActive:
		c.mu.Unlock()
		return internal.ErrInvalidTransition
	case !c.unlocked:
		c.mu.Unlock()
		return internal.ErrCompletionLocked
	default:
		e := c.setStateLocked(internal.StateCompleting)
		stateEvent = &e
	}
	c.finalizing = true
	res := c.res
	sessionID := c.session.ID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.finalizing = false
		c.mu.Unlock()
	}()

	if stateEvent != nil {
		c.emit(*stateEvent)
		res.capture.Stop()
		res.voice.StopPlayback()
		res.voice.Stop()
		res.timer.Freeze()

		drainCtx, cancel := context.WithTimeout(ctx, c.cfg.UploadDrainTimeout)
		if !res.uploader.Drain(drainCtx) {
			internal.LogWarn("Finalizing session %s with chunk uploads still in flight", sessionID)
		}
		cancel()
	}

	summary, err := c.deps.Enrollment.CompleteEnrollment(ctx, sessionID)
	c.teardown(res)

	c.mu.Lock()
	if c.state != internal.StateCompleting {
		// Cancelled while finalizing.
		c.mu.Unlock()
		return internal.ErrNoSession
	}
	if err != nil {
		c.mu.Unlock()
		serr := &internal.SessionError{Kind: internal.KindCompleteFailed, SessionID: sessionID, Err: err}
		internal.LogWarn("Failed to complete enrollment: %v", serr)
		c.emit(internal.Event{Type: internal.EventError, SessionID: sessionID, Err: serr, Retryable: true})
		return serr
	}
	c.summary = summary
	ended := time.Now()
	c.session.EndedAt = &ended
	c.session.State = internal.StateTerminated
	userID := c.session.UserID
	topic := c.topic
	terminated := c.setStateLocked(internal.StateTerminated)
	c.mu.Unlock()

	internal.LogInfo("Enrollment session %s completed", sessionID)
	c.emit(terminated)
	c.emit(internal.Event{
		Type:      internal.EventCompleted,
		SessionID: sessionID,
		UserID:    userID,
		Topic:     topic,
		Summary:   summary,
	})
	return nil
}

// Cancel discards the session from any state, releasing every local
// resource without finalizing. Cancelling a terminated controller is a
// no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state == internal.StateTerminated {
		c.mu.Unlock()
		return
	}
	res := c.res
	sessionID := ""
	if c.session != nil {
		sessionID = c.session.ID
		ended := time.Now()
		c.session.EndedAt = &ended
		c.session.State = internal.StateTerminated
	}
	c.awaiting.Store(false)
	stateEvent := c.setStateLocked(internal.StateTerminated)
	c.mu.Unlock()

	if res != nil {
		c.teardown(res)
	}
	internal.LogInfo("Enrollment cancelled")
	c.emit(stateEvent)
	c.emit(internal.Event{Type: internal.EventCancelled, SessionID: sessionID})
}

// teardown releases a session's resources exactly once, in order: stop the
// recorder and flush, release device tracks, stop timers, clear voice state.
func (c *Controller) teardown(res *sessionResources) {
	res.once.Do(func() {
		res.capture.Stop()
		if err := res.stream.Close(); err != nil {
			internal.LogWarn("Failed to release device stream: %v", err)
		}
		res.timer.Stop()
		res.voice.Stop()
		res.cancel()

		c.mu.Lock()
		if c.res == res {
			c.tornDown = true
		}
		c.mu.Unlock()
		internal.LogDebug("Session resources released")
	})
}

// Summary returns the completion acknowledgement, once completed
func (c *Controller) Summary() *internal.CompletionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Snapshot returns a read-only projection of the session for the host
func (c *Controller) Snapshot() internal.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := internal.Snapshot{
		State:              c.state,
		Topic:              c.topic,
		Transcript:         append([]internal.Turn(nil), c.turns...),
		CanComplete:        c.state == internal.StateActive && c.unlocked,
		AwaitingResponse:   c.awaiting.Load(),
		ObjectivesProgress: c.objectives,
	}
	if c.session != nil {
		s.SessionID = c.session.ID
		s.UserID = c.session.UserID
	}
	if c.res != nil {
		s.ElapsedSeconds = c.res.timer.Elapsed()
		s.ChunksAccepted = c.res.uploader.Accepted()
		vs := c.res.voice.State()
		s.Speaking = vs.Speaking
		s.Recording = vs.Recording
		s.Transcribing = vs.Transcribing
	}
	if c.cfg.NominalDuration > 0 {
		s.Progress = float64(s.ElapsedSeconds) / float64(c.cfg.NominalDuration)
		if s.Progress > 1 {
			s.Progress = 1
		}
	}
	return s
}

// Session returns a copy of the session with its transcript, or nil before
// the session starts
func (c *Controller) Session() *internal.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Turns = append([]internal.Turn(nil), c.turns...)
	if c.res != nil {
		s.ElapsedSeconds = c.res.timer.Elapsed()
		s.ChunksAccepted = c.res.uploader.Accepted()
	}
	return &s
}
