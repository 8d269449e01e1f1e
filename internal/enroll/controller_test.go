package enroll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/testutil/fakes"
)

type controllerFixture struct {
	ctrl    *Controller
	devices *fakes.Devices
	svc     *fakes.Service
	player  *fakes.Player
	events  *fakes.Events
}

func testConfig() Config {
	return Config{
		SubunitInterval:     time.Hour,
		FlushInterval:       time.Hour,
		TickInterval:        time.Hour,
		CompletionThreshold: 60,
		NominalDuration:     300,
		AutoSubmitDelay:     5 * time.Millisecond,
		UploadDrainTimeout:  time.Second,
		Constraints:         internal.DefaultConstraints(),
	}
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		devices: &fakes.Devices{RecorderData: []byte("av")},
		svc:     &fakes.Service{},
		player:  &fakes.Player{},
		events:  fakes.NewEvents(),
	}
	f.ctrl = NewController(testConfig(), Deps{
		Devices:       f.devices,
		Enrollment:    f.svc,
		Conversation:  f.svc,
		Transcription: f.svc,
		Player:        f.player,
		Events:        f.events,
	})
	t.Cleanup(f.ctrl.Cancel)
	return f
}

// start drives the controller from topic selection to active
func (f *controllerFixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Continue(); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (f *controllerFixture) tick(n int) {
	for i := 0; i < n; i++ {
		f.ctrl.res.timer.Tick()
	}
}

func TestController_StartWithDefaultTopic(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	snap := f.ctrl.Snapshot()
	if snap.State != internal.StateActive {
		t.Fatalf("State = %q, want active", snap.State)
	}
	if snap.Topic != internal.DefaultTopic {
		t.Errorf("Topic = %q, want %q", snap.Topic, internal.DefaultTopic)
	}
	if f.svc.Starts[0].Topic != internal.DefaultTopic {
		t.Errorf("start request topic = %q", f.svc.Starts[0].Topic)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Role != internal.RoleAssistant {
		t.Fatalf("Transcript = %+v, want the opening assistant turn", snap.Transcript)
	}
	if snap.Transcript[0].Content != "Hi! Let's talk about General Chat." {
		t.Errorf("opening turn = %q", snap.Transcript[0].Content)
	}
	if snap.SessionID != "sess-1" || snap.UserID != "user-generated" {
		t.Errorf("session = %q user = %q", snap.SessionID, snap.UserID)
	}
	if snap.CanComplete {
		t.Error("CanComplete = true at start")
	}
	if f.ctrl.res.capture.Running() == false || !f.ctrl.res.timer.Running() {
		t.Error("capture and timer should be running once active")
	}

	states := f.events.OfType(internal.EventStateChanged)
	if len(states) != 2 || states[1].State != internal.StateActive || states[1].Topic != internal.DefaultTopic {
		t.Errorf("state events = %+v", states)
	}
}

func TestController_ChooseTopic(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", internal.DefaultTopic},
		{"3", "Food & Cooking"},
		{"Gardening", "Gardening"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			f := newControllerFixture(t)
			if err := f.ctrl.ChooseTopic(tt.input); err != nil {
				t.Fatal(err)
			}
			f.start(t)
			if got := f.ctrl.Snapshot().Topic; got != tt.want {
				t.Errorf("Topic = %q, want %q", got, tt.want)
			}
			if err := f.ctrl.ChooseTopic("2"); !errors.Is(err, internal.ErrInvalidTransition) {
				t.Errorf("ChooseTopic() while active error = %v", err)
			}
		})
	}
}

func TestController_StartPassesIdentity(t *testing.T) {
	f := newControllerFixture(t)
	f.ctrl.cfg.UserID = "known-user"
	f.ctrl.cfg.Email = "someone@example.com"
	f.start(t)

	req := f.svc.Starts[0]
	if req.UserID != "known-user" || req.Email != "someone@example.com" {
		t.Errorf("start request = %+v", req)
	}
}

func TestController_PermissionDeniedThenRetry(t *testing.T) {
	f := newControllerFixture(t)
	f.devices.Err = &internal.PermissionError{Reason: internal.ReasonPermissionDenied}

	if err := f.ctrl.Continue(); err != nil {
		t.Fatal(err)
	}
	err := f.ctrl.Start(context.Background())
	var perr *internal.PermissionError
	if !errors.As(err, &perr) || perr.Reason != internal.ReasonPermissionDenied {
		t.Fatalf("Start() error = %v, want permission denied", err)
	}
	if f.ctrl.State() != internal.StatePermissionRequest {
		t.Errorf("State = %q, want permission_request", f.ctrl.State())
	}
	if len(f.svc.Starts) != 0 {
		t.Error("enrollment started without device access")
	}
	errs := f.events.OfType(internal.EventError)
	if len(errs) != 1 || !errs[0].Retryable {
		t.Errorf("error events = %+v, want one retryable", errs)
	}

	f.devices.Err = nil
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	if f.ctrl.State() != internal.StateActive {
		t.Errorf("State after retry = %q, want active", f.ctrl.State())
	}
}

func TestController_DeviceUnavailable(t *testing.T) {
	f := newControllerFixture(t)
	f.devices.Err = errors.New("no camera")
	f.ctrl.Continue()

	err := f.ctrl.Start(context.Background())
	var perr *internal.PermissionError
	if !errors.As(err, &perr) || perr.Reason != internal.ReasonDeviceUnavailable {
		t.Fatalf("Start() error = %v, want device unavailable", err)
	}
	if errs := f.events.OfType(internal.EventError); len(errs) != 1 || errs[0].Retryable {
		t.Errorf("error events = %+v, want one non-retryable", errs)
	}
}

func TestController_StartFailedReleasesStream(t *testing.T) {
	f := newControllerFixture(t)
	f.svc.StartFunc = func(context.Context, internal.StartRequest) (*internal.StartResponse, error) {
		return nil, errors.New("500 internal server error")
	}
	f.ctrl.Continue()

	err := f.ctrl.Start(context.Background())
	var serr *internal.SessionError
	if !errors.As(err, &serr) || serr.Kind != internal.KindStartFailed {
		t.Fatalf("Start() error = %v, want StartFailed", err)
	}
	if f.ctrl.State() != internal.StatePermissionRequest {
		t.Errorf("State = %q, want permission_request", f.ctrl.State())
	}
	if f.devices.Last().ActiveTracks() != 0 {
		t.Error("device tracks left active after failed start")
	}
}

func TestController_SendMessage(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	release := make(chan struct{})
	f.svc.SendFunc = func(_ context.Context, req internal.MessageRequest) (*internal.MessageResponse, error) {
		<-release
		return &internal.MessageResponse{ResponseText: "Nice to meet you!", ObjectivesProgress: 0.2}, nil
	}
	f.tick(7)

	done := make(chan error, 1)
	go func() { done <- f.ctrl.SendMessage(context.Background(), "hello") }()

	if !fakes.Eventually(time.Second, func() bool { return f.ctrl.Snapshot().AwaitingResponse }) {
		t.Fatal("AwaitingResponse never set")
	}
	snap := f.ctrl.Snapshot()
	if len(snap.Transcript) != 2 || snap.Transcript[1].Role != internal.RoleUser || snap.Transcript[1].Content != "hello" {
		t.Fatalf("Transcript = %+v, want the user turn appended immediately", snap.Transcript)
	}
	if err := f.ctrl.SendMessage(context.Background(), "again"); !errors.Is(err, internal.ErrAwaitingResponse) {
		t.Errorf("second SendMessage() error = %v, want ErrAwaitingResponse", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	snap = f.ctrl.Snapshot()
	if snap.AwaitingResponse {
		t.Error("AwaitingResponse still set after reply")
	}
	if len(snap.Transcript) != 3 || snap.Transcript[2].Content != "Nice to meet you!" {
		t.Errorf("Transcript = %+v", snap.Transcript)
	}
	if snap.ObjectivesProgress != 0.2 {
		t.Errorf("ObjectivesProgress = %v, want 0.2", snap.ObjectivesProgress)
	}
	msgs := f.svc.SentMessages()
	if len(msgs) != 1 || msgs[0].ElapsedSeconds != 7 || msgs[0].SessionID != "sess-1" {
		t.Errorf("sent messages = %+v", msgs)
	}
}

func TestController_SendMessageRejections(t *testing.T) {
	f := newControllerFixture(t)
	if err := f.ctrl.SendMessage(context.Background(), "hi"); !errors.Is(err, internal.ErrInvalidTransition) {
		t.Errorf("SendMessage() before start error = %v", err)
	}
	f.start(t)
	if err := f.ctrl.SendMessage(context.Background(), "   "); !errors.Is(err, internal.ErrEmptyMessage) {
		t.Errorf("SendMessage(blank) error = %v", err)
	}
}

func TestController_SendFailureAppendsFallback(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	f.svc.SendFunc = func(context.Context, internal.MessageRequest) (*internal.MessageResponse, error) {
		return nil, errors.New("timeout")
	}

	if err := f.ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v, want nil", err)
	}
	snap := f.ctrl.Snapshot()
	if snap.State != internal.StateActive {
		t.Errorf("State = %q, want active", snap.State)
	}
	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Role != internal.RoleAssistant || last.Content != FallbackReply {
		t.Errorf("last turn = %+v, want fallback reply", last)
	}
	if snap.AwaitingResponse {
		t.Error("AwaitingResponse still set after failure")
	}
	if err := f.ctrl.SendMessage(context.Background(), "still there?"); err != nil {
		t.Errorf("SendMessage() after failure error = %v", err)
	}
}

func TestController_CompletionUnlocksAtThreshold(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	f.tick(59)
	if f.ctrl.CanComplete() {
		t.Fatal("CanComplete() = true at 59s")
	}
	if err := f.ctrl.Complete(context.Background()); !errors.Is(err, internal.ErrCompletionLocked) {
		t.Errorf("Complete() at 59s error = %v, want ErrCompletionLocked", err)
	}

	f.tick(1)
	if !f.ctrl.CanComplete() {
		t.Fatal("CanComplete() = false at 60s")
	}
	f.tick(5)

	unlocks := f.events.OfType(internal.EventCompletionUnlocked)
	if len(unlocks) != 1 || unlocks[0].Elapsed != 60 {
		t.Errorf("unlock events = %+v, want one at 60s", unlocks)
	}
	if got := f.ctrl.Snapshot().Progress; got != 65.0/300.0 {
		t.Errorf("Progress = %v, want %v", got, 65.0/300.0)
	}
}

func TestController_ShouldEndUnlocksEarly(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	f.svc.SendFunc = func(context.Context, internal.MessageRequest) (*internal.MessageResponse, error) {
		return &internal.MessageResponse{ResponseText: "That's all I need, thanks!", ShouldEnd: true}, nil
	}

	f.tick(10)
	if err := f.ctrl.SendMessage(context.Background(), "bye"); err != nil {
		t.Fatal(err)
	}
	if !f.ctrl.CanComplete() {
		t.Error("CanComplete() = false after shouldEnd")
	}
	if f.ctrl.State() != internal.StateActive {
		t.Error("shouldEnd must not force a transition")
	}
}

func TestController_Complete(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	stream := f.devices.Last()

	var chunksAtFinalize int
	f.svc.CompleteFunc = func(context.Context, string) (*internal.CompletionSummary, error) {
		chunksAtFinalize = f.svc.ChunkCount()
		return &internal.CompletionSummary{ProfileStrength: 0.9}, nil
	}

	f.ctrl.res.capture.captureTick()
	f.tick(60)
	res := f.ctrl.res
	if err := f.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if f.ctrl.State() != internal.StateTerminated {
		t.Errorf("State = %q, want terminated", f.ctrl.State())
	}
	if chunksAtFinalize != 1 {
		t.Errorf("chunks uploaded before finalize = %d, want the final flush", chunksAtFinalize)
	}
	if stream.ActiveTracks() != 0 || stream.Closes() != 1 {
		t.Errorf("tracks = %d closes = %d, want released once", stream.ActiveTracks(), stream.Closes())
	}
	if res.timer.Running() || res.capture.Running() {
		t.Error("timers still scheduled after completion")
	}

	completed := f.events.OfType(internal.EventCompleted)
	if len(completed) != 1 || completed[0].UserID != "user-generated" || completed[0].Summary.ProfileStrength != 0.9 {
		t.Errorf("completed events = %+v", completed)
	}
	if f.ctrl.Summary() == nil {
		t.Error("Summary() = nil after completion")
	}
	if err := f.ctrl.Complete(context.Background()); !errors.Is(err, internal.ErrInvalidTransition) {
		t.Errorf("second Complete() error = %v", err)
	}
}

func TestController_CompleteFailureIsRetryable(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	stream := f.devices.Last()

	calls := 0
	f.svc.CompleteFunc = func(context.Context, string) (*internal.CompletionSummary, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("503 service unavailable")
		}
		return &internal.CompletionSummary{ProfileStrength: 0.5}, nil
	}

	f.tick(60)
	err := f.ctrl.Complete(context.Background())
	var serr *internal.SessionError
	if !errors.As(err, &serr) || serr.Kind != internal.KindCompleteFailed {
		t.Fatalf("Complete() error = %v, want CompleteFailed", err)
	}
	if f.ctrl.State() != internal.StateCompleting {
		t.Errorf("State = %q, want completing", f.ctrl.State())
	}
	if stream.ActiveTracks() != 0 {
		t.Error("resources not released after failed finalize")
	}
	if errs := f.events.OfType(internal.EventError); len(errs) != 1 || !errs[0].Retryable {
		t.Errorf("error events = %+v, want one retryable", errs)
	}

	if err := f.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("retry Complete() error = %v", err)
	}
	if f.ctrl.State() != internal.StateTerminated {
		t.Errorf("State after retry = %q, want terminated", f.ctrl.State())
	}
	if stream.Closes() != 1 {
		t.Errorf("stream closed %d times, want once", stream.Closes())
	}
}

func TestController_CancelFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *controllerFixture)
	}{
		{name: "topic selection", setup: func(t *testing.T, f *controllerFixture) {}},
		{name: "permission request", setup: func(t *testing.T, f *controllerFixture) {
			if err := f.ctrl.Continue(); err != nil {
				t.Fatal(err)
			}
		}},
		{name: "active", setup: func(t *testing.T, f *controllerFixture) { f.start(t) }},
		{name: "active while speaking", setup: func(t *testing.T, f *controllerFixture) {
			f.start(t)
			if err := f.ctrl.res.voice.Play([]byte("clip")); err != nil {
				t.Fatal(err)
			}
		}},
		{name: "active with mic open", setup: func(t *testing.T, f *controllerFixture) {
			f.start(t)
			if err := f.ctrl.BeginTalk(); err != nil {
				t.Fatal(err)
			}
		}},
		{name: "completing after failed finalize", setup: func(t *testing.T, f *controllerFixture) {
			f.start(t)
			f.svc.CompleteFunc = func(context.Context, string) (*internal.CompletionSummary, error) {
				return nil, errors.New("down")
			}
			f.tick(60)
			_ = f.ctrl.Complete(context.Background())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newControllerFixture(t)
			tt.setup(t, f)
			res := f.ctrl.res

			f.ctrl.Cancel()
			f.ctrl.Cancel()

			if f.ctrl.State() != internal.StateTerminated {
				t.Errorf("State = %q, want terminated", f.ctrl.State())
			}
			if f.events.Count(internal.EventCancelled) != 1 {
				t.Errorf("cancelled events = %d, want 1", f.events.Count(internal.EventCancelled))
			}
			for _, s := range f.devices.Opened {
				if s.ActiveTracks() != 0 {
					t.Error("device tracks still active after cancel")
				}
			}
			if res != nil {
				if res.timer.Running() || res.capture.Running() {
					t.Error("timers still scheduled after cancel")
				}
				if vs := res.voice.State(); vs.Speaking || vs.Recording || vs.Transcribing {
					t.Errorf("voice state after cancel = %+v", vs)
				}
			}
			if len(f.svc.Completes) > 1 {
				t.Error("cancel must not finalize")
			}
		})
	}
}

func TestController_CancelWhileStarting(t *testing.T) {
	f := newControllerFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.svc.StartFunc = func(ctx context.Context, req internal.StartRequest) (*internal.StartResponse, error) {
		close(entered)
		<-release
		return &internal.StartResponse{SessionID: "sess-late", UserID: "u", OpeningMessage: "Hi"}, nil
	}
	if err := f.ctrl.Continue(); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Start(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Start never reached the enrollment service")
	}
	f.ctrl.Cancel()
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, internal.ErrNoSession) {
			t.Errorf("Start() error = %v, want %v", err, internal.ErrNoSession)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if f.ctrl.State() != internal.StateTerminated {
		t.Errorf("State = %q, want terminated", f.ctrl.State())
	}
	if f.events.Count(internal.EventCancelled) != 1 {
		t.Errorf("cancelled events = %d, want 1", f.events.Count(internal.EventCancelled))
	}
	for _, s := range f.devices.Opened {
		if s.ActiveTracks() != 0 {
			t.Error("device tracks still active after cancel during start")
		}
	}
	if snap := f.ctrl.Snapshot(); snap.SessionID != "" || len(snap.Transcript) != 0 {
		t.Errorf("late start leaked into snapshot: %+v", snap)
	}
}

func TestController_OpeningAudioAndPlaybackStopOnSend(t *testing.T) {
	f := newControllerFixture(t)
	f.svc.StartFunc = func(_ context.Context, req internal.StartRequest) (*internal.StartResponse, error) {
		return &internal.StartResponse{SessionID: "s", UserID: "u", OpeningMessage: "Hello!", OpeningAudio: []byte("mp3")}, nil
	}
	f.start(t)

	if f.player.Count() != 1 || !f.ctrl.Snapshot().Speaking {
		t.Fatal("opening audio not playing")
	}
	if err := f.ctrl.BeginTalk(); !errors.Is(err, internal.ErrVoiceBusy) {
		t.Errorf("BeginTalk() while speaking error = %v, want ErrVoiceBusy", err)
	}

	opening := f.player.Last()
	if err := f.ctrl.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if !opening.Stopped() {
		t.Error("opening audio not stopped when the user sent a message")
	}
}

func TestController_PushToTalkSubmitsMessage(t *testing.T) {
	f := newControllerFixture(t)
	f.svc.TranscribeFunc = func(context.Context, []byte) (string, error) {
		return "I just got back from Japan", nil
	}
	f.start(t)

	if err := f.ctrl.BeginTalk(); err != nil {
		t.Fatalf("BeginTalk() error = %v", err)
	}
	if !f.ctrl.Snapshot().Recording {
		t.Error("Recording = false after BeginTalk")
	}
	stream := f.devices.Last()
	stream.RecorderOf(internal.RecordAudioOnly).Tail = []byte("utterance")
	if err := f.ctrl.EndTalk(); err != nil {
		t.Fatalf("EndTalk() error = %v", err)
	}

	if !fakes.Eventually(time.Second, func() bool { return len(f.svc.SentMessages()) == 1 }) {
		t.Fatal("transcribed text was not submitted")
	}
	if got := f.svc.SentMessages()[0].Text; got != "I just got back from Japan" {
		t.Errorf("submitted text = %q", got)
	}
	if !fakes.Eventually(time.Second, func() bool { return len(f.ctrl.Snapshot().Transcript) == 3 }) {
		t.Errorf("Transcript = %+v, want user and assistant turns", f.ctrl.Snapshot().Transcript)
	}
}

func TestController_ChunkUploadFailureNotSurfaced(t *testing.T) {
	f := newControllerFixture(t)
	f.svc.UploadFunc = func(_ context.Context, c internal.Chunk) (bool, error) {
		if c.Sequence == 1 {
			return false, errors.New("connection refused")
		}
		return true, nil
	}
	f.start(t)
	capture := f.ctrl.res.capture

	capture.captureTick()
	capture.flush()
	capture.captureTick()
	capture.flush()
	f.ctrl.res.uploader.Wait()

	if got := f.ctrl.Snapshot().ChunksAccepted; got != 1 {
		t.Errorf("ChunksAccepted = %d, want 1", got)
	}
	if f.events.Count(internal.EventError) != 0 {
		t.Error("chunk upload failure was surfaced")
	}
	if f.ctrl.State() != internal.StateActive {
		t.Errorf("State = %q, want active", f.ctrl.State())
	}
}

func TestController_SessionCopy(t *testing.T) {
	f := newControllerFixture(t)
	if f.ctrl.Session() != nil {
		t.Error("Session() before start should be nil")
	}
	f.start(t)
	f.tick(3)

	s := f.ctrl.Session()
	if s.ID != "sess-1" || s.ElapsedSeconds != 3 || len(s.Turns) != 1 {
		t.Errorf("Session() = %+v", s)
	}
	s.Turns[0].Content = "mutated"
	if f.ctrl.Snapshot().Transcript[0].Content == "mutated" {
		t.Error("Session() shares the transcript slice")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := internal.DefaultConfig(t.TempDir())
	cfg.UserID = "u-1"
	got := ConfigFrom(cfg)

	if got.SubunitInterval != time.Second || got.FlushInterval != 10*time.Second {
		t.Errorf("capture intervals = %s/%s", got.SubunitInterval, got.FlushInterval)
	}
	if got.CompletionThreshold != 60 || got.NominalDuration != 300 {
		t.Errorf("thresholds = %d/%d", got.CompletionThreshold, got.NominalDuration)
	}
	if got.UserID != "u-1" || got.Constraints.Audio.SampleRate != 16000 {
		t.Errorf("ConfigFrom() = %+v", got)
	}
}
