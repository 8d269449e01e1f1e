package enroll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/testutil/fakes"
)

func TestUploadScheduler_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		upload       func(ctx context.Context, c internal.Chunk) (bool, error)
		wantAccepted int
	}{
		{
			name:         "accepted",
			upload:       func(context.Context, internal.Chunk) (bool, error) { return true, nil },
			wantAccepted: 3,
		},
		{
			name:         "rejected",
			upload:       func(context.Context, internal.Chunk) (bool, error) { return false, nil },
			wantAccepted: 0,
		},
		{
			name:         "network failure",
			upload:       func(context.Context, internal.Chunk) (bool, error) { return false, errors.New("connection reset") },
			wantAccepted: 0,
		},
		{
			name: "odd sequences fail",
			upload: func(_ context.Context, c internal.Chunk) (bool, error) {
				if c.Sequence%2 == 1 {
					return false, errors.New("502 bad gateway")
				}
				return true, nil
			},
			wantAccepted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakes.Service{UploadFunc: tt.upload}
			events := fakes.NewEvents()
			u := NewUploadScheduler(context.Background(), svc, events)

			for seq := 1; seq <= 3; seq++ {
				u.Upload(internal.EncodeChunk("sess-1", seq, []byte("frame"), time.Now()))
			}
			u.Wait()

			if got := u.Accepted(); got != tt.wantAccepted {
				t.Errorf("Accepted() = %d, want %d", got, tt.wantAccepted)
			}
			if got := events.Count(internal.EventChunkUploaded); got != 3 {
				t.Errorf("chunk events = %d, want 3", got)
			}
			if got := events.Count(internal.EventError); got != 0 {
				t.Errorf("error events = %d, want none surfaced", got)
			}
		})
	}
}

func TestUploadScheduler_UploadDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	svc := &fakes.Service{UploadFunc: func(context.Context, internal.Chunk) (bool, error) {
		<-release
		return true, nil
	}}
	u := NewUploadScheduler(context.Background(), svc, nil)

	returned := make(chan struct{})
	go func() {
		u.Upload(internal.EncodeChunk("sess-1", 1, []byte("x"), time.Now()))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Upload() blocked on the service call")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if u.Drain(ctx) {
		t.Error("Drain() reported done while an upload was blocked")
	}

	close(release)
	if !u.Drain(context.Background()) {
		t.Error("Drain() should finish once uploads complete")
	}
	if u.Accepted() != 1 {
		t.Errorf("Accepted() = %d, want 1", u.Accepted())
	}
}
