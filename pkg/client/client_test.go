package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"revintel/pkg/domain"
)

func staticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

func TestNoSessionFailsFastWithoutRequest(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, func() (string, error) {
		return "", errors.New("signed out")
	})
	_, err := c.JobStatus(context.Background(), "job-1")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if requests.Load() != 0 {
		t.Fatal("request was sent without a session")
	}
}

func TestBearerTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(JobStatusReply{Status: domain.JobWaiting})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok-123"))
	reply, err := c.JobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if reply.Status != domain.JobWaiting {
		t.Fatalf("status = %q", reply.Status)
	}
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("stale"))
	_, err := c.RateCompany(context.Background(), "Acme Corp")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "token expired" {
		t.Fatalf("expected server message, got %v", err)
	}
	if requests.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", requests.Load())
	}
}

func TestGenerateICPReturnsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/generate-icp" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req GenerateICPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ProductName != "Acme" {
			t.Errorf("productName = %q", req.ProductName)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "jobId": "job-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	jobID, err := c.GenerateICP(context.Background(), GenerateICPRequest{
		ProductName:           "Acme",
		ProductDescription:    "analytics",
		DistinguishingFeature: "fast",
		BusinessModel:         domain.ModelB2BSubscription,
	})
	if err != nil {
		t.Fatalf("GenerateICP: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("jobID = %q", jobID)
	}
}

func TestGenerateICPRejectsMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	if _, err := c.GenerateICP(context.Background(), GenerateICPRequest{}); err == nil {
		t.Fatal("expected error for missing job id")
	}
}

func TestProductHistoryQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("customerId"); got != "cust-1" {
			t.Errorf("customerId = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []domain.ProductDetails{{ProductName: "Acme Analytics"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	items, err := c.ProductHistory(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("ProductHistory: %v", err)
	}
	if len(items) != 1 || items[0].ProductName != "Acme Analytics" {
		t.Fatalf("items = %+v", items)
	}
}
