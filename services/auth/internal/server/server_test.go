package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"revintel/pkg/domain"
	"revintel/pkg/store"
	"revintel/services/auth/internal/app"
)

// memorySessions is a stub session store for handler tests.
type memorySessions struct {
	mu    sync.Mutex
	seq   int
	byTok map[string]string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{byTok: make(map[string]string)}
}

func (m *memorySessions) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	token := fmt.Sprintf("tok-%d", m.seq)
	m.byTok[token] = userID
	return token, nil
}

func (m *memorySessions) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.byTok[token]
	return uid, ok, nil
}

func (m *memorySessions) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTok, token)
	return nil
}

// recordingSender captures issued codes instead of sending mail.
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (r *recordingSender) SendCode(email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codes == nil {
		r.codes = make(map[string]string)
	}
	r.codes[email] = code
	return nil
}

func (r *recordingSender) codeFor(email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[email]
}

func newTestServer(t *testing.T) (*Server, *recordingSender, *miniredis.Miniredis) {
	t.Helper()
	redis := miniredis.RunT(t)
	appCore, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      newMemorySessions(),
		RefreshTokens: store.NewMemoryRefreshTokenStore(),
		SessionTTL:    15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	sender := &recordingSender{}
	srv, err := New(Config{
		App:        appCore,
		RedisAddr:  redis.Addr(),
		CodeSender: sender,
	})
	if err != nil {
		t.Fatalf("init server: %v", err)
	}
	return srv, sender, redis
}

func postJSON(t *testing.T, handler http.Handler, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func signIn(t *testing.T, srv *Server, sender *recordingSender, redis *miniredis.Miniredis, email string) sessionResponse {
	t.Helper()
	rec := postJSON(t, srv.Router(), "/auth/otp/request", "", map[string]string{"email": email})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("otp request: %d %s", rec.Code, rec.Body.String())
	}
	code := sender.codeFor(email)
	if code == "" {
		t.Fatal("no code recorded")
	}
	rec = postJSON(t, srv.Router(), "/auth/otp/verify", "", map[string]string{"email": email, "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("otp verify: %d %s", rec.Code, rec.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	// Allow an immediate re-request in later steps.
	redis.FastForward(2 * time.Minute)
	return session
}

func TestOTPSignInCreatesAccount(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	session := signIn(t, srv, sender, redis, "first@example.com")

	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("incomplete session: %+v", session)
	}
	if session.User.Email != "first@example.com" {
		t.Fatalf("user email = %q", session.User.Email)
	}
	// The very first account becomes admin.
	if session.User.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q", session.User.Role)
	}
	if session.User.OnboardingComplete {
		t.Fatal("new user should not be onboarded")
	}

	second := signIn(t, srv, sender, redis, "second@example.com")
	if second.User.Role != domain.RoleUser {
		t.Fatalf("second user role = %q", second.User.Role)
	}
}

func TestOTPVerifyRejectsWrongCode(t *testing.T) {
	srv, sender, _ := newTestServer(t)
	rec := postJSON(t, srv.Router(), "/auth/otp/request", "", map[string]string{"email": "u@example.com"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("otp request: %d", rec.Code)
	}
	if sender.codeFor("u@example.com") == "" {
		t.Fatal("no code recorded")
	}
	rec = postJSON(t, srv.Router(), "/auth/otp/verify", "", map[string]string{"email": "u@example.com", "code": "000000"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong code, got %d", rec.Code)
	}
}

func TestOTPRequestRateLimited(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Router(), "/auth/otp/request", "", map[string]string{"email": "u@example.com"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec = postJSON(t, srv.Router(), "/auth/otp/request", "", map[string]string{"email": "u@example.com"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on immediate resend, got %d", rec.Code)
	}
}

func TestMeAndOnboarding(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	session := signIn(t, srv, sender, redis, "u@example.com")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
	var me domain.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.OnboardingComplete {
		t.Fatal("expected onboarding incomplete")
	}

	rec2 := postJSON(t, srv.Router(), "/auth/me/onboarding", session.AccessToken, nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("onboarding: %d %s", rec2.Code, rec2.Body.String())
	}
	var updated domain.User
	if err := json.Unmarshal(rec2.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if !updated.OnboardingComplete {
		t.Fatal("onboarding flag not set")
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	session := signIn(t, srv, sender, redis, "u@example.com")

	rec := postJSON(t, srv.Router(), "/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	var next sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// Replaying the consumed token must fail.
	rec = postJSON(t, srv.Router(), "/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", rec.Code)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	session := signIn(t, srv, sender, redis, "u@example.com")

	rec := postJSON(t, srv.Router(), "/auth/logout", session.AccessToken, map[string]string{"refreshToken": session.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec2.Code)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	admin := signIn(t, srv, sender, redis, "admin@example.com")
	user := signIn(t, srv, sender, redis, "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/auth/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: %d %s", rec.Code, rec.Body.String())
	}

	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
}

func TestDisabledUserCannotSignIn(t *testing.T) {
	srv, sender, redis := newTestServer(t)
	admin := signIn(t, srv, sender, redis, "admin@example.com")
	target := signIn(t, srv, sender, redis, "user@example.com")

	req := httptest.NewRequest(http.MethodPatch, "/auth/admin/users/"+target.User.ID,
		bytes.NewReader([]byte(`{"status":"disabled"}`)))
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable user: %d %s", rec.Code, rec.Body.String())
	}

	rec2 := postJSON(t, srv.Router(), "/auth/otp/request", "", map[string]string{"email": "user@example.com"})
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("otp request: %d", rec2.Code)
	}
	code := sender.codeFor("user@example.com")
	rec2 = postJSON(t, srv.Router(), "/auth/otp/verify", "", map[string]string{"email": "user@example.com", "code": code})
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled user, got %d", rec2.Code)
	}
}
