// Package analytics emits best-effort product analytics events. Every method
// is safe on a nil client and never returns an error; a failed capture can
// never be mistaken for a quota failure.
package analytics

import (
	"github.com/posthog/posthog-go"
	log "github.com/sirupsen/logrus"
)

// Client wraps a PostHog client. A nil *Client disables all captures.
type Client struct {
	ph posthog.Client
}

// New constructs an analytics client. An empty API key returns nil, which
// disables analytics entirely.
func New(apiKey, endpoint string) *Client {
	if apiKey == "" {
		return nil
	}
	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	ph, errNew := posthog.NewWithConfig(apiKey, cfg)
	if errNew != nil {
		log.WithError(errNew).Warn("analytics disabled: posthog init failed")
		return nil
	}
	return &Client{ph: ph}
}

// CaptureTokenUsage records a token consumption event for a user.
func (c *Client) CaptureTokenUsage(userID string, tokens, remaining int64) {
	if c == nil || c.ph == nil {
		return
	}
	errEnqueue := c.ph.Enqueue(posthog.Capture{
		DistinctId: userID,
		Event:      "token_usage",
		Properties: posthog.NewProperties().
			Set("tokens", tokens).
			Set("remaining", remaining),
	})
	if errEnqueue != nil {
		log.WithError(errEnqueue).Debug("token usage capture failed")
	}
}

// CaptureAudioUsage records an audio transcription consumption event.
func (c *Client) CaptureAudioUsage(userID string, minutes, remaining int64) {
	if c == nil || c.ph == nil {
		return
	}
	errEnqueue := c.ph.Enqueue(posthog.Capture{
		DistinctId: userID,
		Event:      "audio_transcription_usage",
		Properties: posthog.NewProperties().
			Set("minutes", minutes).
			Set("remaining", remaining),
	})
	if errEnqueue != nil {
		log.WithError(errEnqueue).Debug("audio usage capture failed")
	}
}

// Close flushes and shuts down the underlying client.
func (c *Client) Close() {
	if c == nil || c.ph == nil {
		return
	}
	_ = c.ph.Close()
}
