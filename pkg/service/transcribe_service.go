// Audio transcription providers
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// scriptedTranscript is the fixed offline transcription result.
const scriptedTranscript = "[本地模拟转录] 这是音频转文字的测试结果。"

// TranscriptionProvider converts an audio clip into text.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// HTTPTranscriber calls an OpenAI-compatible transcription endpoint.
type HTTPTranscriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPTranscriber creates a transcriber for the given
// OpenAI-compatible base URL.
func NewHTTPTranscriber(baseURL, apiKey, model string) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Transcribe uploads the clip as multipart form data and returns the
// recognized text.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription request failed with status %d: %s", resp.StatusCode, string(detail))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// ScriptedTranscriber is the deterministic offline substitute.
type ScriptedTranscriber struct{}

// Transcribe implements TranscriptionProvider with a fixed result.
func (t *ScriptedTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return scriptedTranscript, nil
}
