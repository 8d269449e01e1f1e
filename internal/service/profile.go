package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Profile is a user's enrollment fingerprint summary
type Profile struct {
	UserID            string             `json:"user_id" yaml:"user_id"`
	StrengthScore     float64            `json:"strength_score" yaml:"strength_score"`
	SessionsCount     int                `json:"sessions_count" yaml:"sessions_count"`
	LastUpdated       *time.Time         `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	FeatureCoverage   map[string]float64 `json:"feature_coverage" yaml:"feature_coverage"`
	TotalVoiceSamples int                `json:"total_voice_samples" yaml:"total_voice_samples"`
	TotalFaceSamples  int                `json:"total_face_samples" yaml:"total_face_samples"`
}

// Breakdown scores each verification signal from 0 to 1
type Breakdown struct {
	VoiceMatch     float64 `json:"voice_match" yaml:"voice_match"`
	FaceMatch      float64 `json:"face_match" yaml:"face_match"`
	LipSync        float64 `json:"lip_sync" yaml:"lip_sync"`
	SpeechPatterns float64 `json:"speech_patterns" yaml:"speech_patterns"`
}

// VerifyResult is the verdict for one uploaded media file
type VerifyResult struct {
	Authentic  bool      `json:"authentic" yaml:"authentic"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Breakdown  Breakdown `json:"breakdown" yaml:"breakdown"`
	Anomalies  []string  `json:"anomalies" yaml:"anomalies"`
}

// VerificationRecord is one past verification
type VerificationRecord struct {
	ID         string    `json:"id" yaml:"id"`
	VerifiedAt time.Time `json:"verified_at" yaml:"verified_at"`
	Authentic  bool      `json:"authentic" yaml:"authentic"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
}

// Health is the backend health response
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrEmptyFile is returned when asked to verify an empty file
var ErrEmptyFile = errors.New("file is empty")

// Profile fetches the enrollment profile for userID
func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "/api/profile/"+url.PathEscape(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Verify uploads the media file at path and returns the verdict against
// userID's profile
func (c *Client) Verify(ctx context.Context, userID, path string) (*VerifyResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/verify", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result VerifyResult
	if err := c.do(req, "/api/verify", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History returns up to limit past verifications for userID, newest first
func (c *Client) History(ctx context.Context, userID string, limit int) ([]VerificationRecord, error) {
	path := "/api/verify/history/" + url.PathEscape(userID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp struct {
		History []VerificationRecord `json:"history"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// Health checks that the backend is reachable
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}
