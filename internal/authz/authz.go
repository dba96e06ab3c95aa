// Package authz implements the per-request authorization pipeline: bearer
// key resolution (with session fallback), usage record creation, and the
// quota gate every metered route funnels through.
package authz

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"

	"github.com/organote/organote/internal/keyverify"
	"github.com/organote/organote/internal/usage"
	"github.com/organote/organote/internal/util"
)

// Mode selects whether authorization and quotas are enforced. Disabled mode
// exists for self-hosted deployments without billing; it must never be the
// default in a multi-tenant deployment.
type Mode int

const (
	// ModeEnforced verifies credentials and applies quotas.
	ModeEnforced Mode = iota
	// ModeDisabled short-circuits to a fixed identity and skips all quota checks.
	ModeDisabled
)

// Decision is the quota gate outcome for a request.
type Decision int

const (
	// Proceed allows the request to continue.
	Proceed Decision = iota
	// QuotaExceeded rejects the request for insufficient remaining balance.
	QuotaExceeded
	// NeedsUpgrade rejects the request on the account-level upgrade flag.
	NeedsUpgrade
	// UsageCheckFailed rejects the request because usage could not be read.
	UsageCheckFailed
)

// Error is an authorization failure with its HTTP mapping.
type Error struct {
	Status  int    // HTTP status to surface.
	Message string // Human-readable error message.
}

func (e *Error) Error() string { return e.Message }

// Failure values surfaced by the pipeline.
var (
	ErrUnauthorized     = &Error{Status: http.StatusUnauthorized, Message: "Unauthorized"}
	ErrTokenLimit       = &Error{Status: http.StatusTooManyRequests, Message: "Token limit exceeded. Please upgrade your plan for more tokens."}
	ErrUsageCheckFailed = &Error{Status: http.StatusInternalServerError, Message: "Failed to check usage"}
	ErrInternal         = &Error{Status: http.StatusInternalServerError, Message: "Internal error"}
)

// sessionName is the cookie session used for browser-originated requests.
const sessionName = "organote_session"

// Verifier verifies a bearer key against the external service.
type Verifier interface {
	Verify(ctx context.Context, key string) (keyverify.Result, error)
}

// Authorizer runs the authorization pipeline for inbound requests.
type Authorizer struct {
	mode        Mode
	verifier    Verifier
	usage       *usage.Service
	sessions    sessions.Store
	placeholder string
}

// New constructs an Authorizer. The session store may be nil when no
// cookie-based surface is deployed.
func New(mode Mode, verifier Verifier, usageSvc *usage.Service, sessionStore sessions.Store, placeholder string) *Authorizer {
	if placeholder == "" {
		placeholder = "user"
	}
	return &Authorizer{
		mode:        mode,
		verifier:    verifier,
		usage:       usageSvc,
		sessions:    sessionStore,
		placeholder: placeholder,
	}
}

// Mode returns the active authorization mode.
func (a *Authorizer) Mode() Mode { return a.mode }

// BearerToken extracts the bearer credential from a request, if present.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return ""
	}
	return strings.TrimSpace(token)
}

// ResolveIdentity resolves the caller's identity without touching quotas:
// bearer key first, session cookie as fallback. Verification failures of any
// kind resolve to ErrUnauthorized; the resolver fails closed.
func (a *Authorizer) ResolveIdentity(ctx context.Context, r *http.Request) (string, error) {
	if a.mode == ModeDisabled {
		return a.placeholder, nil
	}

	if token := BearerToken(r); token != "" {
		result, errVerify := a.verifier.Verify(ctx, token)
		if errVerify != nil {
			log.WithError(errVerify).WithField("key", util.HideAPIKey(token)).Warn("key verification failed")
		} else if result.Valid && result.UserID != "" {
			return result.UserID, nil
		}
	}

	if userID := a.sessionUser(r); userID != "" {
		return userID, nil
	}
	return "", ErrUnauthorized
}

// Authorize runs the full pipeline for token-metered routes: resolve the
// identity, ensure a usage record exists, and gate on remaining token
// balance. The gate only requires a positive balance; the exact cost of an
// LLM call is unknown before it completes and is settled by the accumulator.
func (a *Authorizer) Authorize(ctx context.Context, r *http.Request) (string, error) {
	userID, errResolve := a.ResolveIdentity(ctx, r)
	if errResolve != nil {
		return "", errResolve
	}
	if a.mode == ModeDisabled {
		return userID, nil
	}

	if errEnsure := a.usage.EnsureUser(ctx, userID); errEnsure != nil {
		log.WithError(errEnsure).WithField("user", userID).Error("ensure usage record failed")
		return "", ErrInternal
	}

	switch a.GateTokens(ctx, userID) {
	case Proceed:
		return userID, nil
	case UsageCheckFailed:
		return "", ErrUsageCheckFailed
	default:
		return "", ErrTokenLimit
	}
}

// GateTokens decides whether a token-metered request may proceed.
func (a *Authorizer) GateTokens(ctx context.Context, userID string) Decision {
	if a.mode == ModeDisabled {
		return Proceed
	}
	check := a.usage.CheckTokens(ctx, userID)
	if check.UsageError {
		return UsageCheckFailed
	}
	if check.Remaining <= 0 {
		return QuotaExceeded
	}
	needsUpgrade, errUpgrade := a.usage.NeedsUpgrade(ctx, userID)
	if errUpgrade != nil {
		return UsageCheckFailed
	}
	if needsUpgrade {
		return NeedsUpgrade
	}
	return Proceed
}

// GateAudio decides whether a transcription request estimated at the given
// number of minutes may proceed. Unlike tokens, audio cost is known upfront
// and the full estimate must fit in the remaining balance.
func (a *Authorizer) GateAudio(ctx context.Context, userID string, minutes int64) Decision {
	if a.mode == ModeDisabled {
		return Proceed
	}
	check := a.usage.CheckAudioMinutes(ctx, userID)
	if check.UsageError {
		return UsageCheckFailed
	}
	if check.Remaining < minutes {
		return QuotaExceeded
	}
	return Proceed
}

// sessionUser resolves an identity from the cookie session, when configured.
func (a *Authorizer) sessionUser(r *http.Request) string {
	if a.sessions == nil {
		return ""
	}
	session, errGet := a.sessions.Get(r, sessionName)
	if errGet != nil || session == nil {
		return ""
	}
	userID, _ := session.Values["user_id"].(string)
	return userID
}

// NewSessionStore builds the cookie session store used for the session
// fallback path. Returns nil when no secret is configured.
func NewSessionStore(secret string) sessions.Store {
	if secret == "" {
		return nil
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case QuotaExceeded:
		return "quota_exceeded"
	case NeedsUpgrade:
		return "needs_upgrade"
	case UsageCheckFailed:
		return "usage_check_failed"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}
