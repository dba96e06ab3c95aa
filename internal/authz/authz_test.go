package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/organote/organote/internal/keyverify"
	"github.com/organote/organote/internal/models"
	"github.com/organote/organote/internal/usage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	result keyverify.Result
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, key string) (keyverify.Result, error) {
	f.calls++
	return f.result, f.err
}

func setupAuthzDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.UserUsage{}, &models.UsageEvent{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthorizeNewUserProceeds(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	verifier := &fakeVerifier{result: keyverify.Result{Valid: true, UserID: "fresh-user"}}
	a := New(ModeEnforced, verifier, svc, nil, "")

	userID, errAuthorize := a.Authorize(context.Background(), bearerRequest("sk_live_ok"))
	if errAuthorize != nil {
		t.Fatalf("authorize: %v", errAuthorize)
	}
	if userID != "fresh-user" {
		t.Fatalf("user = %q", userID)
	}

	row, errGet := svc.Get(context.Background(), "fresh-user")
	if errGet != nil {
		t.Fatalf("get record: %v", errGet)
	}
	if row.TokenUsage != 0 || row.MaxTokenUsage != usage.DefaultMaxTokenUsage {
		t.Fatalf("unexpected record %d/%d", row.TokenUsage, row.MaxTokenUsage)
	}
}

func TestAuthorizeExhaustedQuota(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	if errEnsure := svc.EnsureUser(context.Background(), "spent-user"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "spent-user").
		Update("token_usage", usage.DefaultMaxTokenUsage).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}

	verifier := &fakeVerifier{result: keyverify.Result{Valid: true, UserID: "spent-user"}}
	a := New(ModeEnforced, verifier, svc, nil, "")

	_, errAuthorize := a.Authorize(context.Background(), bearerRequest("sk_live_ok"))
	var authErr *Error
	if !errors.As(errAuthorize, &authErr) {
		t.Fatalf("expected auth error, got %v", errAuthorize)
	}
	if authErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", authErr.Status)
	}
}

func TestAuthorizeVerifierErrorFailsClosed(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	verifier := &fakeVerifier{err: errors.New("upstream timeout")}
	a := New(ModeEnforced, verifier, svc, nil, "")

	_, errAuthorize := a.Authorize(context.Background(), bearerRequest("sk_live_ok"))
	if !errors.Is(errAuthorize, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", errAuthorize)
	}

	var count int64
	if errCount := conn.Model(&models.UserUsage{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("no record may be created on failed verification, got %d", count)
	}
}

func TestAuthorizeInvalidKey(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	verifier := &fakeVerifier{result: keyverify.Result{Valid: false, Code: "NOT_FOUND"}}
	a := New(ModeEnforced, verifier, svc, nil, "")

	if _, errAuthorize := a.Authorize(context.Background(), bearerRequest("sk_live_bad")); !errors.Is(errAuthorize, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", errAuthorize)
	}
}

func TestAuthorizeMissingCredential(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	verifier := &fakeVerifier{result: keyverify.Result{Valid: true, UserID: "someone"}}
	a := New(ModeEnforced, verifier, svc, nil, "")

	if _, errAuthorize := a.Authorize(context.Background(), bearerRequest("")); !errors.Is(errAuthorize, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", errAuthorize)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier must not be called without a bearer token")
	}
}

func TestDisabledModeUsesPlaceholder(t *testing.T) {
	a := New(ModeDisabled, nil, usage.NewService(nil, nil, false), nil, "user")

	userID, errAuthorize := a.Authorize(context.Background(), bearerRequest(""))
	if errAuthorize != nil {
		t.Fatalf("authorize: %v", errAuthorize)
	}
	if userID != "user" {
		t.Fatalf("user = %q", userID)
	}
	if decision := a.GateAudio(context.Background(), userID, 1000); decision != Proceed {
		t.Fatalf("disabled gate = %s", decision)
	}
}

func TestSessionFallback(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	store := NewSessionStore("test-secret")
	a := New(ModeEnforced, &fakeVerifier{err: errors.New("down")}, svc, store, "")

	// Bake a session cookie the way the login surface would.
	recorder := httptest.NewRecorder()
	seed := httptest.NewRequest(http.MethodGet, "/", nil)
	session, errGet := store.Get(seed, sessionName)
	if errGet != nil {
		t.Fatalf("get session: %v", errGet)
	}
	session.Values["user_id"] = "cookie-user"
	if errSave := session.Save(seed, recorder); errSave != nil {
		t.Fatalf("save session: %v", errSave)
	}

	req := bearerRequest("")
	for _, cookie := range recorder.Result().Cookies() {
		req.AddCookie(cookie)
	}
	userID, errResolve := a.ResolveIdentity(context.Background(), req)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if userID != "cookie-user" {
		t.Fatalf("user = %q", userID)
	}
}

func TestGateAudioRequiresFullEstimate(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	if errEnsure := svc.EnsureUser(context.Background(), "listener"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "listener").
		Updates(map[string]any{
			"audio_transcription_minutes":     295,
			"max_audio_transcription_minutes": 300,
		}).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}
	a := New(ModeEnforced, &fakeVerifier{}, svc, nil, "")

	if decision := a.GateAudio(context.Background(), "listener", 10); decision != QuotaExceeded {
		t.Fatalf("expected quota exceeded, got %s", decision)
	}
	if decision := a.GateAudio(context.Background(), "listener", 5); decision != Proceed {
		t.Fatalf("expected proceed, got %s", decision)
	}
}

func TestMiddlewareStatusMapping(t *testing.T) {
	conn := setupAuthzDB(t)
	svc := usage.NewService(conn, nil, true)
	verifier := &fakeVerifier{err: errors.New("upstream timeout")}
	a := New(ModeEnforced, verifier, svc, nil, "")

	router := gin.New()
	router.POST("/api/v1/classify", Middleware(a), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, bearerRequest("sk_live_ok"))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", recorder.Code)
	}

	verifier.err = nil
	verifier.result = keyverify.Result{Valid: true, UserID: "routed-user"}
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, bearerRequest("sk_live_ok"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
}
