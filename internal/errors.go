package internal

import (
	"errors"
	"fmt"
)

// Transition errors returned by the session controller
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAwaitingResponse  = errors.New("a message is already awaiting a response")
	ErrCompletionLocked  = errors.New("session cannot be completed yet")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrVoiceBusy         = errors.New("voice channel is busy")
	ErrNotRecording      = errors.New("microphone is not recording")
	ErrNoSession         = errors.New("no active session")
)

// PermissionReason distinguishes why device access was refused
type PermissionReason string

const (
	ReasonPermissionDenied  PermissionReason = "permission_denied"
	ReasonDeviceUnavailable PermissionReason = "device_unavailable"
)

// PermissionError represents a failure to acquire the camera+microphone stream
type PermissionError struct {
	Reason PermissionReason
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device access failed [%s]", e.Reason)
	}
	return fmt.Sprintf("device access failed [%s]: %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the user can fix the failure and try again.
func (e *PermissionError) Retryable() bool {
	return e.Reason == ReasonPermissionDenied
}

// Guidance returns the message shown to the user for this failure.
func (e *PermissionError) Guidance() string {
	if e.Reason == ReasonPermissionDenied {
		return "Camera and microphone access was denied. Allow access for this terminal and try again."
	}
	return "No usable camera or microphone was found. Check that your devices are connected."
}

// ErrorKind classifies session-level failures
type ErrorKind string

const (
	KindStartFailed         ErrorKind = "start_failed"
	KindSendFailed          ErrorKind = "send_failed"
	KindChunkUploadFailed   ErrorKind = "chunk_upload_failed"
	KindTranscriptionFailed ErrorKind = "transcription_failed"
	KindCompleteFailed      ErrorKind = "complete_failed"
)

// SessionError represents a failed collaborator call within a session
type SessionError struct {
	Kind      ErrorKind
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session error [%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("session error [%s] %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Surfaced reports whether the failure is shown to the user. Upload and
// transcription failures are only logged.
func (e *SessionError) Surfaced() bool {
	switch e.Kind {
	case KindChunkUploadFailed, KindTranscriptionFailed:
		return false
	default:
		return true
	}
}

// APIError represents a non-2xx response from the enrollment service
type APIError struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: %s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("api error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Detail)
}

// JournalError represents errors reading or writing local session records
type JournalError struct {
	Op   string // "open", "migrate", "write", "read"
	Path string
	Err  error
}

func (e *JournalError) Error() string {
	return fmt.Sprintf("journal error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *JournalError) Unwrap() error {
	return e.Err
}
