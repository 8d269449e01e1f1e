package enroll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iksnae/enroll-session/internal"
)

// VoiceOptions wires a VoiceController into its session
type VoiceOptions struct {
	SessionID       string
	Player          internal.Player
	Transcriber     internal.TranscriptionService
	Events          internal.EventSink
	AutoSubmitDelay time.Duration

	// Submit receives transcribed text after AutoSubmitDelay.
	Submit func(text string)
	// Awaiting reports whether a message send is outstanding.
	Awaiting func() bool
}

// VoiceState is a copy of the playback and microphone flags
type VoiceState struct {
	Speaking     bool
	Recording    bool
	Transcribing bool
	ClipID       string
}

// VoiceController owns assistant playback and push-to-talk capture. Mic
// recording and playback are never active at the same time.
type VoiceController struct {
	opts   VoiceOptions
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	stream       internal.Stream
	playback     internal.Playback
	clipID       string
	speaking     bool
	recorder     internal.Recorder
	recording    bool
	transcribing bool
	pending      *time.Timer
	generation   int
	stopped      bool

	wg sync.WaitGroup
}

// NewVoiceController creates a controller for one session. Transcription
// requests are bound to ctx and cancelled by Stop.
func NewVoiceController(ctx context.Context, opts VoiceOptions) *VoiceController {
	if opts.Events == nil {
		opts.Events = internal.Discard
	}
	if opts.Awaiting == nil {
		opts.Awaiting = func() bool { return false }
	}
	vctx, cancel := context.WithCancel(ctx)
	return &VoiceController{opts: opts, ctx: vctx, cancel: cancel}
}

// Attach sets the stream push-to-talk recorders are created from
func (v *VoiceController) Attach(stream internal.Stream) {
	v.mu.Lock()
	v.stream = stream
	v.mu.Unlock()
}

// State returns the current flags
func (v *VoiceController) State() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VoiceState{
		Speaking:     v.speaking,
		Recording:    v.recording,
		Transcribing: v.transcribing,
		ClipID:       v.clipID,
	}
}

// busy reports whether a new mic capture would be refused
func (v *VoiceController) busy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.busyLocked()
}

func (v *VoiceController) busyLocked() bool {
	return v.speaking || v.recording || v.transcribing || v.pending != nil || v.opts.Awaiting()
}

func (v *VoiceController) emit(e internal.Event) {
	e.At = time.Now()
	e.SessionID = v.opts.SessionID
	v.opts.Events.Emit(e)
}

func (v *VoiceController) emitSpeaking(speaking bool) {
	v.emit(internal.Event{Type: internal.EventSpeakingChanged, Speaking: speaking})
}

func (v *VoiceController) emitMic(recording, transcribing bool) {
	v.emit(internal.Event{Type: internal.EventMicChanged, Recording: recording, Transcribing: transcribing})
}

// Play stops any playing clip and plays clip in its place. Clips arriving
// while the mic is recording are skipped.
func (v *VoiceController) Play(clip []byte) error {
	if len(clip) == 0 || v.opts.Player == nil {
		return nil
	}

	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return nil
	}
	if v.recording {
		v.mu.Unlock()
		internal.LogDebug("Skipping assistant audio while the microphone is recording")
		return nil
	}

	if v.playback != nil {
		v.playback.Stop()
		v.playback = nil
	}
	pb, err := v.opts.Player.Play(clip)
	if err != nil {
		wasSpeaking := v.speaking
		v.speaking = false
		v.clipID = ""
		v.mu.Unlock()
		if wasSpeaking {
			v.emitSpeaking(false)
		}
		return err
	}

	id := uuid.NewString()
	wasSpeaking := v.speaking
	v.playback = pb
	v.clipID = id
	v.speaking = true
	v.mu.Unlock()

	go v.watch(pb, id)
	if !wasSpeaking {
		v.emitSpeaking(true)
	}
	return nil
}

func (v *VoiceController) watch(pb internal.Playback, id string) {
	err := <-pb.Done()
	if err != nil {
		internal.LogWarn("Assistant audio playback failed: %v", err)
	}

	v.mu.Lock()
	current := v.clipID == id
	if current {
		v.playback = nil
		v.clipID = ""
		v.speaking = false
	}
	v.mu.Unlock()

	if current {
		v.emitSpeaking(false)
	}
}

// StopPlayback stops the playing clip, if any
func (v *VoiceController) StopPlayback() {
	v.mu.Lock()
	pb := v.playback
	wasSpeaking := v.speaking
	v.playback = nil
	v.clipID = ""
	v.speaking = false
	v.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
	if wasSpeaking {
		v.emitSpeaking(false)
	}
}

// BeginCapture starts a microphone-only recording. It returns ErrVoiceBusy
// while audio is playing, a capture or transcription is in progress, or a
// message is awaiting its response.
func (v *VoiceController) BeginCapture() error {
	v.mu.Lock()
	if v.stopped || v.stream == nil {
		v.mu.Unlock()
		return internal.ErrNoSession
	}
	if v.busyLocked() {
		v.mu.Unlock()
		return internal.ErrVoiceBusy
	}

	rec, err := v.stream.NewRecorder(internal.RecordAudioOnly)
	if err == nil {
		err = rec.Start()
	}
	if err != nil {
		v.mu.Unlock()
		return &internal.PermissionError{Reason: internal.ReasonDeviceUnavailable, Err: err}
	}
	v.recorder = rec
	v.recording = true
	v.mu.Unlock()

	v.emitMic(true, false)
	return nil
}

// EndCapture finishes the recording and sends the clip for transcription.
// A failed or empty transcription drops the utterance; a successful one is
// submitted after the auto-submit delay.
func (v *VoiceController) EndCapture() error {
	v.mu.Lock()
	if !v.recording {
		v.mu.Unlock()
		return internal.ErrNotRecording
	}
	rec := v.recorder
	v.recorder = nil
	v.recording = false
	v.transcribing = true
	gen := v.generation
	v.mu.Unlock()

	clip, err := rec.Stop()
	if err != nil || len(clip) == 0 {
		if err == nil {
			err = errors.New("no audio captured")
		}
		v.dropUtterance(gen, err)
		return nil
	}

	v.emitMic(false, true)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.transcribe(gen, clip)
	}()
	return nil
}

func (v *VoiceController) transcribe(gen int, clip []byte) {
	text, err := v.opts.Transcriber.Transcribe(v.ctx, clip)
	if err == nil && text == "" {
		err = errors.New("no speech recognized")
	}
	if err != nil {
		v.dropUtterance(gen, err)
		return
	}

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.transcribing = false
	v.pending = time.AfterFunc(v.opts.AutoSubmitDelay, func() { v.fire(gen, text) })
	v.mu.Unlock()

	v.emitMic(false, false)
}

func (v *VoiceController) dropUtterance(gen int, err error) {
	serr := &internal.SessionError{Kind: internal.KindTranscriptionFailed, SessionID: v.opts.SessionID, Err: err}
	internal.LogWarn("Dropping utterance: %v", serr)

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.transcribing = false
	v.mu.Unlock()

	v.emitMic(false, false)
}

func (v *VoiceController) fire(gen int, text string) {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.pending = nil
	v.mu.Unlock()

	if v.opts.Submit != nil {
		v.opts.Submit(text)
	}
}

// Stop ends playback and any mic capture, cancels a pending transcription
// or auto-submit and clears all flags. It is safe to call more than once.
func (v *VoiceController) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	v.generation++
	pb := v.playback
	rec := v.recorder
	if v.pending != nil {
		v.pending.Stop()
		v.pending = nil
	}
	changed := v.speaking || v.recording || v.transcribing
	v.playback = nil
	v.clipID = ""
	v.speaking = false
	v.recorder = nil
	v.recording = false
	v.transcribing = false
	v.mu.Unlock()

	v.cancel()
	if pb != nil {
		pb.Stop()
	}
	if rec != nil {
		if _, err := rec.Stop(); err != nil {
			internal.LogDebug("Discarding mic recording: %v", err)
		}
	}
	v.wg.Wait()

	if changed {
		v.emitSpeaking(false)
		v.emitMic(false, false)
	}
}
