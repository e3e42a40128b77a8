package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"revintel/internal/ratelimit"
	"revintel/internal/usertoken"
	"revintel/internal/util"
	"revintel/pkg/domain"
	"revintel/services/gateway/internal/authclient"
	"revintel/services/gateway/internal/intelclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth          *authclient.Client
	Intel         *intelclient.Client
	TokenVerifier *usertoken.Verifier
	RedisAddr     string
	RedisPassword string


	OTPRequestRateLimitPerMin int
	OTPVerifyRateLimitPerMin  int
	RefreshRateLimitPerMin    int
	MaxProxyBodyBytes         int64
}

// Server is the public edge: auth passthrough, dashboard widget
// routing, and proxied widget operations against the intel service.
type Server struct {
	auth              *authclient.Client
	intel             *intelclient.Client
	tokenVerifier     *usertoken.Verifier
	mux               *http.ServeMux
	maxProxyBodyBytes int64
	otpRequestLimiter *ratelimit.FixedWindowLimiter
	otpVerifyLimiter  *ratelimit.FixedWindowLimiter
	refreshLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	otpRequestLimit := cfg.OTPRequestRateLimitPerMin
	if otpRequestLimit <= 0 {
		otpRequestLimit = 5
	}
	otpVerifyLimit := cfg.OTPVerifyRateLimitPerMin
	if otpVerifyLimit <= 0 {
		otpVerifyLimit = 10
	}
	refreshLimit := cfg.RefreshRateLimitPerMin
	if refreshLimit <= 0 {
		refreshLimit = 20
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "revintel:gateway:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	otpRequestLimiter, err := newLimiter("otp-request", otpRequestLimit)
	if err != nil {
		return nil, err
	}
	otpVerifyLimiter, err := newLimiter("otp-verify", otpVerifyLimit)
	if err != nil {
		return nil, err
	}
	refreshLimiter, err := newLimiter("refresh", refreshLimit)
	if err != nil {
		return nil, err
	}
	maxBody := cfg.MaxProxyBodyBytes
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	s := &Server{
		auth:              cfg.Auth,
		intel:             cfg.Intel,
		tokenVerifier:     cfg.TokenVerifier,
		mux:               http.NewServeMux(),
		maxProxyBodyBytes: maxBody,
		otpRequestLimiter: otpRequestLimiter,
		otpVerifyLimiter:  otpVerifyLimiter,
		refreshLimiter:    refreshLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth passthrough
	s.mux.HandleFunc("/auth/otp/request", s.handleOTPRequest)
	s.mux.HandleFunc("/auth/otp/verify", s.handleOTPVerify)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/auth/me/onboarding", s.authenticated(s.handleOnboarding))

	// admin
	s.mux.Handle("/auth/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/auth/admin/users/", s.adminOnly(s.handleAdminUserByID))

	// dashboard widget routing
	s.mux.Handle("/dashboard", s.authenticated(s.handleDashboard))

	// widget operations proxied to intel
	s.mux.Handle("/jobs/generate-icp", s.authenticated(s.proxyIntel))
	s.mux.Handle("/jobs/", s.authenticated(s.proxyIntel))
	s.mux.Handle("/products/save", s.authenticated(s.proxyIntel))
	s.mux.Handle("/products/history", s.authenticated(s.proxyIntel))
	s.mux.Handle("/company-research", s.authenticated(s.proxyIntel))
	s.mux.Handle("/company-research/history", s.authenticated(s.proxyIntel))
	s.mux.Handle("/ai/rate-company", s.authenticated(s.proxyIntel))
	s.mux.Handle("/ai/ratings", s.authenticated(s.proxyIntel))
	s.mux.Handle("/ai/translate-metric", s.authenticated(s.proxyIntel))
	s.mux.Handle("/product-extraction/", s.authenticated(s.proxyIntel))
	s.mux.Handle("/product-extraction/trigger", s.authenticated(s.proxyIntel))
	s.mux.Handle("/exports/archive", s.authenticated(s.proxyIntel))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "gateway.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "gateway.admin.authorize", "fail", "reason", "unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "gateway.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "gateway.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	if s.tokenVerifier != nil {
		if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
			s.audit(r, "gateway.token.verify", "fail", "reason", "invalid_signature_or_claims")
			return domain.User{}, false
		}
	}
	user, err := s.auth.Me(token)
	if err != nil {
		s.audit(r, "gateway.token.verify", "fail", "reason", "auth_me_failed")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.otpRequestLimiter, "too many sign-in code requests") {
		s.audit(r, "gateway.otp.request", "rate_limited")
		return
	}
	var req otpRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	expiresIn, resendIn, err := s.auth.RequestOTP(req.Email)
	if err != nil {
		s.audit(r, "gateway.otp.request", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{
		"expiresIn": expiresIn,
		"resendIn":  resendIn,
	})
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.otpVerifyLimiter, "too many sign-in attempts") {
		s.audit(r, "gateway.otp.verify", "rate_limited")
		return
	}
	var req otpVerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.auth.VerifyOTP(req.Email, req.Code)
	if err != nil {
		s.audit(r, "gateway.otp.verify", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.otp.verify", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "gateway.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	session, err := s.auth.Refresh(req.RefreshToken)
	if err != nil {
		s.audit(r, "gateway.refresh", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many logout attempts") {
		s.audit(r, "gateway.logout", "rate_limited")
		return
	}
	var req logoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.auth.Logout(token, req.RefreshToken); err != nil {
		s.audit(r, "gateway.logout", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	keys, err := s.auth.JWKS()
	if err != nil {
		writeAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	updated, err := s.auth.CompleteOnboarding(token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDashboard resolves the active widget from the query string.
// Unknown ids fall back to the default widget rather than erroring.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	active := ResolveWidget(r.URL.Query().Get("widget"))
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"widget":  active,
		"widgets": Widgets(),
	})
}

// proxyIntel forwards the request to the intel service, attaching the
// authenticated user as the customer identity.
func (s *Server) proxyIntel(w http.ResponseWriter, r *http.Request, user domain.User) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxProxyBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	result, err := s.intel.Forward(r.Context(), r.Method, path, user.ID, body)
	if err != nil {
		slog.Error("intel proxy failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "intel service unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

// admin handlers

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	users, err := s.auth.AdminListUsers(token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/auth/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req adminUserUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var role *domain.UserRole
	if req.Role != "" {
		parsed, ok := parseUserRole(req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		role = &parsed
	}
	var status *domain.UserStatus
	if req.Status != "" {
		parsed, ok := parseUserStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &parsed
	}
	if role == nil && status == nil {
		writeError(w, http.StatusBadRequest, "role or status is required")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	updated, err := s.auth.AdminUpdateUser(token, id, role, status)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type otpRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

type adminUserUpdateRequest struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func parseUserRole(role string) (domain.UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(domain.RoleUser):
		return domain.RoleUser, true
	case string(domain.RoleAdmin):
		return domain.RoleAdmin, true
	default:
		return "", false
	}
}

func parseUserStatus(status string) (domain.UserStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case string(domain.StatusActive):
		return domain.StatusActive, true
	case string(domain.StatusDisabled):
		return domain.StatusDisabled, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func writeAuthError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*authclient.APIError); ok {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "auth service unavailable")
}
