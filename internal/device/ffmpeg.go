// Package device implements the media ports with ffmpeg and ffplay child
// processes.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// stopGrace is how long a recorder gets to finish after being asked to quit
const stopGrace = 3 * time.Second

// Devices opens camera+microphone streams through ffmpeg
type Devices struct {
	FFmpeg      string // binary name or path, "ffmpeg" when empty
	InputFormat string
}

// NewDevices creates a Devices from the device config
func NewDevices(cfg internal.DeviceConfig) *Devices {
	return &Devices{InputFormat: cfg.InputFormat}
}

func (d *Devices) binary() string {
	return orDefault(d.FFmpeg, "ffmpeg")
}

// Open implements internal.MediaDevices. It probes the devices once so that
// a refusal surfaces here instead of on the first recorder.
func (d *Devices) Open(ctx context.Context, c internal.Constraints) (internal.Stream, error) {
	path, err := exec.LookPath(d.binary())
	if err != nil {
		return nil, &internal.PermissionError{Reason: internal.ReasonDeviceUnavailable, Err: err}
	}

	in, err := inputArgs(runtime.GOOS, c, d.InputFormat, true)
	if err != nil {
		return nil, &internal.PermissionError{Reason: internal.ReasonDeviceUnavailable, Err: err}
	}

	internal.LogDebug("Probing capture devices: %s %s", path, strings.Join(in, " "))
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, probeArgs(in)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(stderr.String(), err)
	}

	return &stream{ffmpeg: path, inputFormat: d.InputFormat, constraints: c, recorders: make(map[*recorder]struct{})}, nil
}

var deniedMarkers = []string{
	"permission denied",
	"not authorized",
	"operation not permitted",
	"access denied",
}

// classify maps an ffmpeg failure to a PermissionError using its stderr
func classify(stderr string, err error) *internal.PermissionError {
	lower := strings.ToLower(stderr)
	reason := internal.ReasonDeviceUnavailable
	for _, m := range deniedMarkers {
		if strings.Contains(lower, m) {
			reason = internal.ReasonPermissionDenied
			break
		}
	}
	if line := firstLine(stderr); line != "" {
		err = fmt.Errorf("%w: %s", err, line)
	}
	return &internal.PermissionError{Reason: reason, Err: err}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// stream is a granted device stream. Each recorder runs its own ffmpeg
// process against the devices; closing the stream stops them all.
type stream struct {
	ffmpeg      string
	inputFormat string
	constraints internal.Constraints

	mu        sync.Mutex
	closed    bool
	recorders map[*recorder]struct{}
}

func (s *stream) NewRecorder(kind internal.RecorderKind) (internal.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("stream is closed")
	}

	args, err := recorderArgs(runtime.GOOS, s.constraints, s.inputFormat, kind)
	if err != nil {
		return nil, err
	}
	r := newRecorder(s.ffmpeg, args)
	r.onStop = s.forget
	s.recorders[r] = struct{}{}
	return r, nil
}

func (s *stream) forget(r *recorder) {
	s.mu.Lock()
	delete(s.recorders, r)
	s.mu.Unlock()
}

// ActiveTracks reports the camera and microphone tracks until Close
func (s *stream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return 2
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := make([]*recorder, 0, len(s.recorders))
	for r := range s.recorders {
		live = append(live, r)
	}
	s.mu.Unlock()

	for _, r := range live {
		if _, err := r.Stop(); err != nil {
			internal.LogDebug("Recorder stop on close: %v", err)
		}
	}
	return nil
}

// recorder runs one ffmpeg process and buffers what it writes to stdout
type recorder struct {
	name string
	args []string

	mu       sync.Mutex
	buf      bytes.Buffer
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   bytes.Buffer
	readDone chan struct{}
	started  bool
	stopped  bool
	produced int

	onStop func(*recorder)
}

func newRecorder(name string, args []string) *recorder {
	return &recorder{name: name, args: args}
}

func (r *recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("recorder already started")
	}

	cmd := exec.Command(r.name, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	cmd.Stderr = &r.stderr
	cmd.WaitDelay = pipeWaitDelay
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.readDone = make(chan struct{})
	r.started = true
	go r.read(stdout)
	return nil
}

func (r *recorder) read(stdout io.Reader) {
	defer close(r.readDone)
	tmp := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(tmp)
		if n > 0 {
			r.mu.Lock()
			r.buf.Write(tmp[:n])
			r.produced += n
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *recorder) drainLocked() []byte {
	if r.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	return out
}

func (r *recorder) Collect() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, errors.New("recorder not started")
	}
	return r.drainLocked(), nil
}

// Stop asks ffmpeg to quit so it can finish the container, kills it if it
// does not exit within stopGrace, and returns the uncollected bytes.
func (r *recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil, nil
	}
	r.stopped = true
	cmd, stdin, readDone := r.cmd, r.stdin, r.readDone
	r.mu.Unlock()

	if r.onStop != nil {
		defer r.onStop(r)
	}

	_, _ = io.WriteString(stdin, "q")
	_ = stdin.Close()

	var waitErr error
	select {
	case <-readDone:
		waitErr = cmd.Wait()
	case <-time.After(stopGrace):
		internal.LogDebug("ffmpeg did not exit in %s, killing it", stopGrace)
		_ = cmd.Process.Kill()
		// Wait closes our end of stdout, which ends the reader even if a
		// child of ffmpeg still holds the pipe.
		waitErr = cmd.Wait()
		<-readDone
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tail := r.drainLocked()
	if waitErr != nil && r.produced == 0 {
		return nil, classify(r.stderr.String(), waitErr)
	}
	return tail, nil
}
