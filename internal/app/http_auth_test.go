package app

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pitchai/api/internal/auth"
	"pitchai/api/internal/idp"
	"pitchai/api/internal/session"
)

func TestPitchesRequireSession(t *testing.T) {
	svc := newTestService(&fakeStore{})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/pitches"},
		{http.MethodPost, "/api/pitches"},
		{http.MethodDelete, "/api/pitches/p1"},
		{http.MethodGet, "/api/pitches/tones"},
	} {
		rr := doRequest(t, svc, tc.method, tc.path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
		payload := decodeResponse(t, rr)
		if payload["error"] != "Unauthorized" || payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("unexpected body %v", payload)
		}
	}
}

func TestExpiredAndForeignTokensRejected(t *testing.T) {
	svc := newTestService(&fakeStore{})

	expired, err := auth.IssueToken([]byte(testSecret), auth.Claims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rr := doRequest(t, svc, http.MethodGet, "/api/pitches", expired, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}

	foreign, err := auth.IssueToken([]byte("other-secret"), auth.Claims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rr := doRequest(t, svc, http.MethodGet, "/api/pitches", foreign, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed elsewhere, got %d", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{})

	rr := doRequest(t, svc, http.MethodGet, "/api/session", "", "")
	if payload := decodeResponse(t, rr); payload["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %v", payload)
	}

	rr = doRequest(t, svc, http.MethodGet, "/api/session", issueTestToken(t, "user-1", "authenticated"), "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["userId"] != "user-1" || payload["email"] != "user-1@example.com" {
		t.Fatalf("unexpected session %v", payload)
	}
}

func TestSessionCookieFallback(t *testing.T) {
	svc := newTestService(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: accessTokenCookie, Value: issueTestToken(t, "user-1", "authenticated")})
	rr := httptest.NewRecorder()

	NewHTTPServer(svc, nil).Handler().ServeHTTP(rr, req)

	if payload := decodeResponse(t, rr); payload["userId"] != "user-1" {
		t.Fatalf("expected cookie token to authenticate, got %v", payload)
	}
}

func TestSignOutRevokesSession(t *testing.T) {
	svc := newTestService(&fakeStore{})
	identity := &fakeIdentity{configured: true}
	svc.identity = identity
	token := issueTestToken(t, "user-1", "authenticated")

	rr := doRequest(t, svc, http.MethodPost, "/api/auth/signout", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(identity.signedOut) != 1 || identity.signedOut[0] != token {
		t.Fatalf("expected provider sign-out, got %v", identity.signedOut)
	}
	revocations := svc.sessions.(*fakeRevocations)
	if _, ok := revocations.revoked["sid:sess-user-1"]; !ok {
		t.Fatalf("expected session id revocation, got %v", revocations.revoked)
	}

	if rr := doRequest(t, svc, http.MethodGet, "/api/pitches", token, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
}

func TestRevokedTokenLogsSignOutWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	redisStore, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer redisStore.Close()

	svc := newTestService(&fakeStore{})
	svc.sessions = redisStore
	svc.redis = redisStore
	token := issueTestToken(t, "user-1", "authenticated")

	if rr := doRequest(t, svc, http.MethodPost, "/api/auth/signout", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var logs bytes.Buffer
	log.SetOutput(&logs)
	rr := doRequest(t, svc, http.MethodGet, "/api/pitches", token, "")
	log.SetOutput(os.Stderr)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
	if !strings.Contains(logs.String(), "signed out by user user-1") {
		t.Fatalf("expected sign-out details logged, got %q", logs.String())
	}
}

func TestRemoteTokenVerification(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.cfg.JWTSecret = ""
	svc.identity = &fakeIdentity{
		configured: true,
		users:      map[string]idp.User{"opaque-token": {ID: "user-7", Email: "sam@example.com", Role: "authenticated"}},
	}

	rr := doRequest(t, svc, http.MethodGet, "/api/session", "opaque-token", "")
	if payload := decodeResponse(t, rr); payload["userId"] != "user-7" {
		t.Fatalf("expected remote verification, got %v", payload)
	}
	if rr := doRequest(t, svc, http.MethodGet, "/api/pitches", "unknown-token", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rr.Code)
	}
}

func TestAuthUnavailableWithoutVerifier(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.cfg.JWTSecret = ""

	rr := doRequest(t, svc, http.MethodGet, "/api/pitches", "some-token", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMagicLink(t *testing.T) {
	svc := newTestService(&fakeStore{})
	identity := &fakeIdentity{configured: true}
	svc.identity = identity

	rr := doRequest(t, svc, http.MethodPost, "/api/auth/magic-link", "", `{"email":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != false || payload["message"] != "Email is required." {
		t.Fatalf("unexpected body %v", payload)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/magic-link", bytes.NewBufferString(`{"email":"avery@example.com"}`))
	req.Header.Set("Origin", "https://pitchai.example.com")
	rr = httptest.NewRecorder()
	NewHTTPServer(svc, []string{"https://pitchai.example.com"}).Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload = decodeResponse(t, rr)
	if payload["success"] != true || payload["message"] != "Check your email for the magic link!" {
		t.Fatalf("unexpected body %v", payload)
	}
	if identity.magicEmail != "avery@example.com" || identity.magicTo != "https://pitchai.example.com/dashboard" {
		t.Fatalf("unexpected magic link request %q -> %q", identity.magicEmail, identity.magicTo)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://pitchai.example.com" {
		t.Fatalf("expected CORS header for allowed origin, got %q", got)
	}
}

func TestMagicLinkProviderError(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.identity = &fakeIdentity{configured: true, magicErr: &idp.APIError{StatusCode: 429, Message: "Email rate limit exceeded"}}

	rr := doRequest(t, svc, http.MethodPost, "/api/auth/magic-link", "", `{"email":"avery@example.com"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if msg := decodeResponse(t, rr)["message"]; msg != "Email rate limit exceeded" {
		t.Fatalf("expected provider message, got %v", msg)
	}
}

func TestAuthCallback(t *testing.T) {
	svc := newTestService(&fakeStore{})
	rr := doRequest(t, svc, http.MethodGet, "/api/auth/callback", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if msg := decodeResponse(t, rr)["message"]; msg != "Auth callback endpoint - handled by Supabase client SDK." {
		t.Fatalf("unexpected message %v", msg)
	}
}
