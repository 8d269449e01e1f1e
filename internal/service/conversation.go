package service

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/iksnae/enroll-session/internal"
)

type messageRequest struct {
	SessionID   string  `json:"session_id"`
	Message     string  `json:"message"`
	ElapsedTime float64 `json:"elapsed_time"`
}

type messageResponse struct {
	Response           string  `json:"response"`
	ShouldEnd          bool    `json:"should_end"`
	ObjectivesProgress float64 `json:"objectives_progress"`
	Audio              string  `json:"audio,omitempty"`
}

type transcribeRequest struct {
	Audio string `json:"audio"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// SendMessage implements internal.ConversationService
func (c *Client) SendMessage(ctx context.Context, req internal.MessageRequest) (*internal.MessageResponse, error) {
	var resp messageResponse
	in := messageRequest{SessionID: req.SessionID, Message: req.Text, ElapsedTime: float64(req.ElapsedSeconds)}
	if err := c.postJSON(ctx, "/api/conversation/message", in, &resp); err != nil {
		return nil, err
	}

	audio, err := decodeAudio(resp.Audio)
	if err != nil {
		internal.LogWarn("Ignoring undecodable reply audio: %v", err)
	}
	return &internal.MessageResponse{
		ResponseText:       resp.Response,
		ResponseAudio:      audio,
		ShouldEnd:          resp.ShouldEnd,
		ObjectivesProgress: resp.ObjectivesProgress,
	}, nil
}

// Transcribe implements internal.TranscriptionService
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var resp transcribeResponse
	in := transcribeRequest{Audio: base64.StdEncoding.EncodeToString(audio)}
	if err := c.postJSON(ctx, "/api/transcribe", in, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
