// Package keyverify talks to the external key-verification service and
// normalizes its historical response shapes into a single result type.
package keyverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// verifyPath is the verification endpoint on the service base URL.
const verifyPath = "/v2/keys/verify-api-key"

// maxResponseBytes bounds how much of a verification response is read.
const maxResponseBytes = 1 << 20

// Result is the normalized outcome of a key verification. Both envelope
// styles and both identity shapes collapse into this one type before any
// business logic inspects the outcome.
type Result struct {
	Valid  bool   // Whether the key is valid.
	UserID string // Resolved user identity, empty when invalid.
	KeyID  string // Service-side key identifier, when reported.
	Code   string // Service error code for invalid keys, when reported.
}

// Client verifies bearer keys against the external service.
type Client struct {
	baseURL    string
	rootKey    string
	apiID      string
	httpClient *http.Client
	cache      *Cache
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for verification calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache attaches a verification result cache.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// NewClient constructs a verification client. The timeout bounds every
// verification call; an expired call reports an error so callers fail closed.
func NewClient(baseURL, rootKey, apiID string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		rootKey:    strings.TrimSpace(rootKey),
		apiID:      strings.TrimSpace(apiID),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// verifyRequest is the request body sent to the verification service.
type verifyRequest struct {
	Key   string `json:"key"`
	APIID string `json:"apiId,omitempty"`
}

// Verify submits a key to the verification service and returns the
// normalized result. Any transport or decoding failure is returned as an
// error; callers must treat errors as unauthorized, never as valid.
func (c *Client) Verify(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, fmt.Errorf("keyverify: empty key")
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	body, errMarshal := json.Marshal(verifyRequest{Key: key, APIID: c.apiID})
	if errMarshal != nil {
		return Result{}, fmt.Errorf("keyverify: encode request: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(body))
	if errReq != nil {
		return Result{}, fmt.Errorf("keyverify: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.rootKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.rootKey)
	}

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return Result{}, fmt.Errorf("keyverify: request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return Result{}, fmt.Errorf("keyverify: read response: %w", errRead)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{}, fmt.Errorf("keyverify: service status %d", resp.StatusCode)
	}

	result, errNormalize := Normalize(raw)
	if errNormalize != nil {
		return Result{}, errNormalize
	}

	if c.cache != nil && result.Valid {
		c.cache.Put(ctx, key, result)
	}
	return result, nil
}

// identityPayload is the structured identity attached to newer responses.
type identityPayload struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
}

// resultPayload is the verification outcome common to all response shapes.
type resultPayload struct {
	Valid    bool             `json:"valid"`
	KeyID    string           `json:"keyId"`
	Code     string           `json:"code"`
	OwnerID  string           `json:"ownerId"`
	Identity *identityPayload `json:"identity"`
}

// envelope covers both wrapper styles the service has used: the current
// {data, error} form and the legacy {result, error} form. A flat body keeps
// both wrappers nil and carries the outcome fields inline.
type envelope struct {
	Data   *resultPayload  `json:"data"`
	Result *resultPayload  `json:"result"`
	Error  json.RawMessage `json:"error"`
	resultPayload
}

// Normalize maps any historical verification response body into a Result.
// Responses carrying an error object, no recognizable outcome, or an invalid
// flag all normalize to an invalid result rather than an error; only
// undecodable bodies fail.
func Normalize(raw []byte) (Result, error) {
	var env envelope
	if errUnmarshal := json.Unmarshal(raw, &env); errUnmarshal != nil {
		return Result{}, fmt.Errorf("keyverify: decode response: %w", errUnmarshal)
	}

	payload := env.Data
	if payload == nil {
		payload = env.Result
	}
	if payload == nil {
		payload = &env.resultPayload
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		log.WithField("code", payload.Code).Debug("key verification returned error payload")
		return Result{Valid: false, Code: payload.Code}, nil
	}
	if !payload.Valid {
		return Result{Valid: false, Code: payload.Code, KeyID: payload.KeyID}, nil
	}

	return Result{
		Valid:  true,
		UserID: extractUserID(payload),
		KeyID:  payload.KeyID,
	}, nil
}

// extractUserID resolves the user identity from a verification payload.
// Precedence is identity.externalId, then identity.id, then the legacy
// ownerId; older keys only carry ownerId.
func extractUserID(payload *resultPayload) string {
	if payload.Identity != nil {
		if id := strings.TrimSpace(payload.Identity.ExternalID); id != "" {
			return id
		}
		if id := strings.TrimSpace(payload.Identity.ID); id != "" {
			return id
		}
	}
	return strings.TrimSpace(payload.OwnerID)
}
