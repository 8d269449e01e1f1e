package enroll

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// CaptureEngine continuously records the session stream. Every sub-unit
// interval it collects recorded bytes into the buffer; every flush interval
// it swaps the buffer out, encodes it as one chunk and hands it to the sink.
type CaptureEngine struct {
	sessionID string
	sink      ChunkSink
	subunit   time.Duration
	every     time.Duration

	lifeMu   sync.Mutex
	recorder internal.Recorder
	stop     chan struct{}
	done     chan struct{}
	stopped  bool

	bufMu  sync.Mutex
	buffer [][]byte

	flushMu sync.Mutex
	seq     int

	captured atomic.Int64
	produced atomic.Int64
}

// NewCaptureEngine creates an engine producing chunks for sessionID
func NewCaptureEngine(sessionID string, sink ChunkSink, subunit, flushEvery time.Duration) *CaptureEngine {
	return &CaptureEngine{
		sessionID: sessionID,
		sink:      sink,
		subunit:   subunit,
		every:     flushEvery,
	}
}

// Start begins recording audio and video from stream
func (e *CaptureEngine) Start(stream internal.Stream) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.stopped {
		return errors.New("capture engine already stopped")
	}
	if e.recorder != nil {
		return errors.New("capture engine already started")
	}

	rec, err := stream.NewRecorder(internal.RecordAudioVideo)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	if err := rec.Start(); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	e.recorder = rec
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stop, e.done)
	internal.LogDebug("Capture started for session %s (subunit %s, flush %s)", e.sessionID, e.subunit, e.every)
	return nil
}

func (e *CaptureEngine) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	subunit := time.NewTicker(e.subunit)
	defer subunit.Stop()
	flush := time.NewTicker(e.every)
	defer flush.Stop()

	for {
		select {
		case <-stop:
			return
		case <-subunit.C:
			e.captureTick()
		case <-flush.C:
			e.flush()
		}
	}
}

// captureTick appends the bytes recorded since the previous tick
func (e *CaptureEngine) captureTick() {
	e.lifeMu.Lock()
	rec := e.recorder
	e.lifeMu.Unlock()
	if rec == nil {
		return
	}

	data, err := rec.Collect()
	if err != nil {
		internal.LogWarn("Capture collect failed for session %s: %v", e.sessionID, err)
		return
	}
	e.appendSubunit(data)
}

func (e *CaptureEngine) appendSubunit(data []byte) {
	if len(data) == 0 {
		return
	}
	e.bufMu.Lock()
	e.buffer = append(e.buffer, data)
	e.bufMu.Unlock()
	e.captured.Add(int64(len(data)))
}

// flush takes the buffered subunits and forwards them as one chunk. Only
// the swap happens under the buffer lock.
func (e *CaptureEngine) flush() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.bufMu.Lock()
	taken := e.buffer
	e.buffer = nil
	e.bufMu.Unlock()

	size := 0
	for _, part := range taken {
		size += len(part)
	}
	if size == 0 {
		return
	}

	raw := make([]byte, 0, size)
	for _, part := range taken {
		raw = append(raw, part...)
	}

	e.seq++
	chunk := internal.EncodeChunk(e.sessionID, e.seq, raw, time.Now())
	e.produced.Add(int64(size))
	internal.LogDebug("Flushed chunk %d of session %s (%d bytes)", chunk.Sequence, e.sessionID, size)
	e.sink.Upload(chunk)
}

// Stop halts both timers, stops the recorder, flushes whatever remains and
// releases the recorder. It is safe to call more than once.
func (e *CaptureEngine) Stop() {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	stop, done := e.stop, e.done
	rec := e.recorder
	e.lifeMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if rec != nil {
		tail, err := rec.Stop()
		if err != nil {
			internal.LogWarn("Stopping recorder for session %s: %v", e.sessionID, err)
		}
		e.appendSubunit(tail)
	}
	e.flush()

	e.lifeMu.Lock()
	e.recorder = nil
	e.lifeMu.Unlock()
	internal.LogDebug("Capture stopped for session %s: %d bytes in %d chunks", e.sessionID, e.Produced(), e.Chunks())
}

// Running reports whether the capture timers are scheduled
func (e *CaptureEngine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.recorder != nil && !e.stopped
}

// Captured returns the total bytes collected from the recorder
func (e *CaptureEngine) Captured() int64 {
	return e.captured.Load()
}

// Produced returns the total raw bytes forwarded in chunks
func (e *CaptureEngine) Produced() int64 {
	return e.produced.Load()
}

// Chunks returns how many chunks have been produced
func (e *CaptureEngine) Chunks() int {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	return e.seq
}
