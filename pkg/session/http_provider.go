package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"revintel/pkg/domain"
)

// HTTPProvider implements Provider against the auth service's REST API.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider builds a provider for the auth service at baseURL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ProviderError is a non-2xx reply from the auth service.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("auth service: %d %s", e.Status, e.Message)
}

func (p *HTTPProvider) SignInWithOTP(ctx context.Context, email string) error {
	in := map[string]string{"email": email}
	return p.doJSON(ctx, http.MethodPost, "/auth/otp/request", "", in, nil)
}

func (p *HTTPProvider) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	in := map[string]string{"email": email, "code": code}
	var out Session
	if err := p.doJSON(ctx, http.MethodPost, "/auth/otp/verify", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	in := map[string]string{"refreshToken": refreshToken}
	var out Session
	if err := p.doJSON(ctx, http.MethodPost, "/auth/refresh", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) SignOut(ctx context.Context, accessToken string) error {
	return p.doJSON(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

func (p *HTTPProvider) Me(ctx context.Context, accessToken string) (*domain.User, error) {
	var out domain.User
	if err := p.doJSON(ctx, http.MethodGet, "/auth/me", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &ProviderError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
