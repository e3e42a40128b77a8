package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"revintel/services/gateway/internal/authclient"
)

func TestOTPRequestRateLimit(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/otp/request" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]int{
			"expiresIn": 600,
			"resendIn":  60,
		})
	}))
	defer authSrv.Close()
	redis := miniredis.RunT(t)

	gw, err := New(Config{
		Auth:                      authclient.NewClient(authSrv.URL),
		RedisAddr:                 redis.Addr(),
		OTPRequestRateLimitPerMin: 1,
	})
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Router())
	defer gwSrv.Close()

	body := []byte(`{"email":"u@example.com"}`)
	resp1, err := http.Post(gwSrv.URL+"/auth/otp/request", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first otp request failed: %v", err)
	}
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusAccepted {
		t.Fatalf("first request expected 202, got %d", resp1.StatusCode)
	}

	resp2, err := http.Post(gwSrv.URL+"/auth/otp/request", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second otp request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp2.Header.Get("Retry-After"))
	}
}

func TestGatewayServerRequiresRedisRateLimiter(t *testing.T) {
	_, err := New(Config{
		OTPRequestRateLimitPerMin: 1,
		OTPVerifyRateLimitPerMin:  1,
		RefreshRateLimitPerMin:    1,
	})
	if err == nil {
		t.Fatalf("expected redis-backed limiter initialization to fail without redis addr")
	}
}
