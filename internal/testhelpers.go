package internal

import (
	"time"
)

// NewTestSession creates an active session with a short transcript
func NewTestSession(id string, startedAt time.Time) *Session {
	return &Session{
		ID:             id,
		UserID:         "user-" + id,
		Topic:          DefaultTopic,
		State:          StateActive,
		ElapsedSeconds: 12,
		StartedAt:      startedAt,
		Turns: []Turn{
			{Role: RoleAssistant, Content: "Hi! What's on your mind today?", InsertedAt: startedAt},
			{Role: RoleUser, Content: "I've been reading a lot lately.", InsertedAt: startedAt.Add(4 * time.Second)},
		},
	}
}

// NewTestSessionWithTurns creates a terminated session with custom turns
func NewTestSessionWithTurns(id string, turns []Turn) *Session {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Minute)
	return &Session{
		ID:             id,
		UserID:         "user-" + id,
		Topic:          "Movies & Books",
		State:          StateTerminated,
		ElapsedSeconds: 360,
		ChunksAccepted: 36,
		StartedAt:      start,
		EndedAt:        &end,
		Turns:          turns,
	}
}
