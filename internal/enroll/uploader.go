package enroll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// ChunkSink receives chunks produced by the capture engine. Upload must
// return without waiting on the network.
type ChunkSink interface {
	Upload(chunk internal.Chunk)
}

// UploadScheduler ships chunks to the enrollment service best-effort. Each
// chunk is sent once on its own goroutine; failures are logged and the chunk
// is discarded.
type UploadScheduler struct {
	ctx    context.Context
	svc    internal.EnrollmentService
	events internal.EventSink

	wg       sync.WaitGroup
	accepted atomic.Int64
}

// NewUploadScheduler creates a scheduler whose uploads are bound to ctx
func NewUploadScheduler(ctx context.Context, svc internal.EnrollmentService, events internal.EventSink) *UploadScheduler {
	if events == nil {
		events = internal.Discard
	}
	return &UploadScheduler{ctx: ctx, svc: svc, events: events}
}

// Upload implements ChunkSink
func (u *UploadScheduler) Upload(chunk internal.Chunk) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.send(chunk)
	}()
}

func (u *UploadScheduler) send(chunk internal.Chunk) {
	ok, err := u.svc.UploadChunk(u.ctx, chunk)
	if err != nil {
		serr := &internal.SessionError{Kind: internal.KindChunkUploadFailed, SessionID: chunk.SessionID, Err: err}
		internal.LogWarn("Discarding chunk %d: %v", chunk.Sequence, serr)
		ok = false
	} else if !ok {
		internal.LogWarn("Chunk %d of session %s was not accepted", chunk.Sequence, chunk.SessionID)
	}

	total := u.accepted.Load()
	if ok {
		total = u.accepted.Add(1)
		internal.LogDebug("Chunk %d accepted (%d bytes, %d total)", chunk.Sequence, chunk.RawSize, total)
	}

	u.events.Emit(internal.Event{
		Type:           internal.EventChunkUploaded,
		At:             time.Now(),
		SessionID:      chunk.SessionID,
		ChunkSequence:  chunk.Sequence,
		ChunkSize:      chunk.RawSize,
		ChunkAccepted:  ok,
		ChunksAccepted: int(total),
	})
}

// Accepted returns how many chunks the service has accepted so far. The
// count is for progress display only.
func (u *UploadScheduler) Accepted() int {
	return int(u.accepted.Load())
}

// Wait blocks until every scheduled upload has finished
func (u *UploadScheduler) Wait() {
	u.wg.Wait()
}

// Drain waits for scheduled uploads until ctx is done. It reports whether
// all uploads finished.
func (u *UploadScheduler) Drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
