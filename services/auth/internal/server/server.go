package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"revintel/internal/util"
	"revintel/pkg/domain"
	"revintel/services/auth/internal/app"
	"revintel/services/auth/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// OTPStore is optional; when nil it is built from RedisAddr.
	OTPStore      *otpStore
	RedisAddr     string
	RedisPassword string
	CodeSender    CodeSender
	Alerter       *security.AuditAlerter
	TrustedProxy  *util.TrustedProxies
}

// Server exposes HTTP endpoints for the auth service.
type Server struct {
	app     *app.App
	otp     *otpStore
	sender  CodeSender
	alerter *security.AuditAlerter
	proxies *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	otp := cfg.OTPStore
	if otp == nil {
		var err error
		otp, err = newOTPStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
	}
	sender := cfg.CodeSender
	if sender == nil {
		sender = LogCodeSender{}
	}
	s := &Server{
		app:     cfg.App,
		otp:     otp,
		sender:  sender,
		alerter: cfg.Alerter,
		proxies: cfg.TrustedProxy,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)

	// auth
	s.mux.HandleFunc("/auth/otp/request", s.handleOTPRequest)
	s.mux.HandleFunc("/auth/otp/verify", s.handleOTPVerify)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/auth/me/onboarding", s.authenticated(s.handleOnboarding))

	// admin
	s.mux.Handle("/auth/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/auth/admin/users/", s.adminOnly(s.handleAdminUserByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	keys := s.app.JWKS()
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.observe("auth.authorize", "fail", r)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.observe("auth.admin.authorize", "fail", r)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// auth handlers

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req otpRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	code, expiresIn, resendIn, err := s.otp.CreateChallenge(req.Email)
	if err != nil {
		switch {
		case errors.Is(err, errOTPSendRateLimited):
			s.observe("auth.otp.request", "rate_limited", r)
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, errEmailRequired), errors.Is(err, errEmailFormatInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("create otp challenge", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	if err := s.sender.SendCode(req.Email, code); err != nil {
		slog.Error("send otp code", "err", err, "email", maskEmail(req.Email))
		writeError(w, http.StatusInternalServerError, "failed to send verification code")
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
	var req otpVerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.otp.VerifyChallenge(req.Email, req.Code); err != nil {
		s.observe("auth.otp.verify", "fail", r)
		switch {
		case errors.Is(err, errOTPCodeInvalid),
			errors.Is(err, errOTPCodeExpired),
			errors.Is(err, errOTPChallengeInvalid):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, errOTPCodeRequired),
			errors.Is(err, errEmailRequired),
			errors.Is(err, errEmailFormatInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("verify otp challenge", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	user, accessToken, refreshToken, err := s.app.SignInByEmail(req.Email)
	if err != nil {
		s.observe("auth.otp.verify", "fail", r)
		// Do not leak whether the account exists or is disabled.
		writeError(w, http.StatusUnauthorized, "sign-in failed")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(user, accessToken, refreshToken))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		s.observe("auth.refresh", "fail", r)
		switch {
		case errors.Is(err, app.ErrRefreshTokenRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidRefreshToken):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			slog.Error("refresh session", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(user, accessToken, refreshToken))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req logoutRequest
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	}
	if err := s.app.Logout(token, req.RefreshToken); err != nil {
		s.observe("auth.logout", "fail", r)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	updated, err := s.app.CompleteOnboarding(user.ID)
	if err != nil {
		slog.Error("complete onboarding", "err", err, "user", user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// admin handlers

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
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
	updated, err := s.app.AdminUpdateUser(admin, id, role, status)
	if err != nil {
		if errors.Is(err, app.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) sessionResponse(user domain.User, accessToken, refreshToken string) sessionResponse {
	return sessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().UTC().Add(s.app.SessionTTL()),
		User:         user,
	}
}

func (s *Server) observe(event, outcome string, r *http.Request) {
	if s.alerter == nil {
		return
	}
	ip := util.ClientIP(r, s.proxies)
	result, err := s.alerter.Observe(event, outcome, ip)
	if err != nil {
		slog.Warn("security alerter observe failed", "err", err, "event", event)
		return
	}
	if result.Triggered {
		slog.Warn("security alert threshold reached",
			"event", event, "outcome", outcome, "ip", ip,
			"count", result.Count, "threshold", result.Threshold)
	}
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
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         domain.User `json:"user"`
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
