package enroll

import (
	"context"
	"errors"

	"github.com/iksnae/enroll-session/internal"
)

// PermissionGate acquires the combined camera and microphone stream. It
// never retries on its own; the caller decides whether to ask again.
type PermissionGate struct {
	devices     internal.MediaDevices
	constraints internal.Constraints
}

// NewPermissionGate creates a gate requesting c from devices
func NewPermissionGate(devices internal.MediaDevices, c internal.Constraints) *PermissionGate {
	return &PermissionGate{devices: devices, constraints: c}
}

// RequestAccess returns the granted stream, or a *PermissionError telling
// a refused permission apart from missing hardware
func (g *PermissionGate) RequestAccess(ctx context.Context) (internal.Stream, error) {
	stream, err := g.devices.Open(ctx, g.constraints)
	if err != nil {
		var perr *internal.PermissionError
		if errors.As(err, &perr) {
			return nil, perr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &internal.PermissionError{Reason: internal.ReasonDeviceUnavailable, Err: err}
	}

	if stream.ActiveTracks() == 0 {
		_ = stream.Close()
		return nil, &internal.PermissionError{
			Reason: internal.ReasonDeviceUnavailable,
			Err:    errors.New("stream has no live tracks"),
		}
	}
	return stream, nil
}
