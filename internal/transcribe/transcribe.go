// Package transcribe wraps the provider's speech-to-text API and estimates
// audio duration ahead of the call so the quota gate can run before any
// transcription cost is incurred.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// MaxUploadBytes is the provider's audio file size limit.
const MaxUploadBytes int64 = 25 * 1024 * 1024

// minutesPerMB maps audio formats to an estimated minutes-per-megabyte
// ratio. Compressed formats run roughly one minute per MB; uncompressed
// formats carry about ten MB per minute.
var minutesPerMB = map[string]float64{
	"mp3":  1.0,
	"m4a":  1.0,
	"mp4":  1.0,
	"mpga": 1.0,
	"mpeg": 1.0,
	"oga":  1.0,
	"ogg":  1.0,
	"webm": 1.0,
	"wav":  0.1,
	"flac": 0.5,
}

// defaultMinutesPerMB is used for unrecognized formats, assuming compression.
const defaultMinutesPerMB = 1.0

// EstimateMinutes estimates audio duration from file size and format,
// rounded up. Every file costs at least one minute.
func EstimateMinutes(sizeBytes int64, extension string) int64 {
	ratio, ok := minutesPerMB[normalizeExtension(extension)]
	if !ok {
		ratio = defaultMinutesPerMB
	}
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	minutes := int64(math.Ceil(sizeMB * ratio))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func normalizeExtension(extension string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
}

// audioTranscriber is the slice of the OpenAI client the service depends on.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Service transcribes audio through the provider API.
type Service struct {
	client audioTranscriber
	model  string
}

// NewService constructs a transcription service.
func NewService(apiKey, baseURL, model string) *Service {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Service{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// newServiceWithClient is used by tests to substitute the provider.
func newServiceWithClient(client audioTranscriber, model string) *Service {
	return &Service{client: client, model: model}
}

// Transcribe submits audio to the provider and returns the transcript text.
// The extension gives the provider a file name hint for format detection.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, extension string) (string, error) {
	resp, errCreate := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		Reader:   audio,
		FilePath: "upload." + normalizeExtension(extension),
	})
	if errCreate != nil {
		return "", fmt.Errorf("transcribe: %w", errCreate)
	}
	return resp.Text, nil
}
