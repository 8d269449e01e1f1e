package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/iksnae/enroll-session/internal"
)

type startRequest struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Audio     string `json:"audio,omitempty"`
}

type chunkRequest struct {
	SessionID  string `json:"session_id"`
	VideoChunk string `json:"video_chunk"`
	Sequence   int    `json:"sequence"`
}

type chunkResponse struct {
	Success         bool   `json:"success"`
	ChunksProcessed int    `json:"chunks_processed"`
	Message         string `json:"message"`
}

type completeRequest struct {
	SessionID string `json:"session_id"`
}

type completeResponse struct {
	Success             bool           `json:"success"`
	ProfileStrength     float64        `json:"profile_strength"`
	EmbeddingsCollected map[string]int `json:"embeddings_collected"`
	Message             string         `json:"message"`
}

// StartEnrollment implements internal.EnrollmentService
func (c *Client) StartEnrollment(ctx context.Context, req internal.StartRequest) (*internal.StartResponse, error) {
	var resp startResponse
	if err := c.postJSON(ctx, "/api/enrollment/start", startRequest{UserID: req.UserID, Email: req.Email, Topic: req.Topic}, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("enrollment start returned no session id")
	}

	audio, err := decodeAudio(resp.Audio)
	if err != nil {
		internal.LogWarn("Ignoring undecodable opening audio: %v", err)
	}
	return &internal.StartResponse{
		SessionID:      resp.SessionID,
		UserID:         resp.UserID,
		OpeningMessage: resp.Message,
		OpeningAudio:   audio,
	}, nil
}

// UploadChunk implements internal.EnrollmentService. The chunk payload is
// already base64 and is sent as is.
func (c *Client) UploadChunk(ctx context.Context, chunk internal.Chunk) (bool, error) {
	var resp chunkResponse
	req := chunkRequest{SessionID: chunk.SessionID, VideoChunk: string(chunk.Payload), Sequence: chunk.Sequence}
	if err := c.postJSON(ctx, "/api/enrollment/chunk", req, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		internal.LogDebug("Chunk %d not processed: %s", chunk.Sequence, resp.Message)
	}
	return resp.Success, nil
}

// CompleteEnrollment implements internal.EnrollmentService
func (c *Client) CompleteEnrollment(ctx context.Context, sessionID string) (*internal.CompletionSummary, error) {
	var resp completeResponse
	if err := c.postJSON(ctx, "/api/enrollment/complete", completeRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("enrollment not completed: %s", resp.Message)
	}
	return &internal.CompletionSummary{
		ProfileStrength:     resp.ProfileStrength,
		EmbeddingsCollected: resp.EmbeddingsCollected,
		Message:             resp.Message,
	}, nil
}

func decodeAudio(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return data, nil
}
