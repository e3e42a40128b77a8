package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"revintel/internal/servicetoken"
	"revintel/pkg/domain"
	"revintel/pkg/queue"
	"revintel/pkg/store"
	"revintel/services/intel/internal/app"
)

type scriptedGenerator struct {
	reply string
}

func (g scriptedGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.reply, nil
}

type mapQueue struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]queue.Job
}

func (q *mapQueue) Enqueue(ctx context.Context, kind domain.JobKind, customerID string, payload any) (queue.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return queue.Job{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	job := queue.Job{
		ID:         fmt.Sprintf("job-%d", q.seq),
		Kind:       kind,
		CustomerID: customerID,
		Status:     domain.JobWaiting,
		Payload:    raw,
	}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *mapQueue) GetJob(ctx context.Context, jobID string) (queue.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

type testEnv struct {
	server *Server
	signer *servicetoken.Signer
	store  *store.MemoryStore
}

func newTestServer(t *testing.T, generatorReply string) testEnv {
	t.Helper()
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		PrivateKeyPath: privatePath,
		KeyID:          "internal-active",
		Issuer:         "gateway-service",
		TTL:            time.Minute,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:  publicPath,
		DefaultKeyID:   "internal-active",
		Audience:       "intel",
		AllowedIssuers: []string{"gateway-service"},
		Leeway:         time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	st := store.NewMemoryStore()
	a, err := app.New(app.Config{
		Store:     st,
		Queue:     &mapQueue{jobs: make(map[string]queue.Job)},
		Generator: scriptedGenerator{reply: generatorReply},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a, InternalVerifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return testEnv{server: srv, signer: signer, store: st}
}

func (e testEnv) request(t *testing.T, method, path, customerID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	token, err := e.signer.Sign("intel")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if customerID != "" {
		req.Header.Set("X-Customer-Id", customerID)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func validProductBody() map[string]string {
	return map[string]string{
		"productName":           "PipeSense",
		"productDescription":    "Pipeline analytics for B2B sales teams",
		"distinguishingFeature": "Deal-risk scoring from call transcripts",
		"businessModel":         "b2b-subscription",
	}
}

func TestRequestsWithoutServiceTokenRejected(t *testing.T) {
	env := newTestServer(t, "{}")

	req := httptest.NewRequest(http.MethodGet, "/products/history", nil)
	req.Header.Set("X-Customer-Id", "cust-1")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/products/history", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.Header.Set("X-Customer-Id", "cust-1")
	rec = httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestRequestsWithoutCustomerIdentityRejected(t *testing.T) {
	env := newTestServer(t, "{}")

	rec := env.request(t, http.MethodGet, "/products/history", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateICPValidationErrors(t *testing.T) {
	env := newTestServer(t, "{}")

	rec := env.request(t, http.MethodPost, "/jobs/generate-icp", "cust-1", map[string]string{
		"productName":   "PipeSense",
		"businessModel": "pyramid-scheme",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code        string            `json:"code"`
		FieldErrors map[string]string `json:"fieldErrors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "ICP_INVALID_INPUT" {
		t.Fatalf("unexpected code: %s", resp.Code)
	}
	if resp.FieldErrors["businessModel"] != "invalid business model" {
		t.Fatalf("unexpected field errors: %v", resp.FieldErrors)
	}
}

func TestGenerateICPSubmitAndStatus(t *testing.T) {
	env := newTestServer(t, "{}")

	rec := env.request(t, http.MethodPost, "/jobs/generate-icp", "cust-1", validProductBody())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var submit struct {
		Success bool   `json:"success"`
		JobID   string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !submit.Success || submit.JobID == "" {
		t.Fatalf("unexpected submit response: %+v", submit)
	}

	rec = env.request(t, http.MethodGet, "/jobs/"+submit.JobID+"/status", "cust-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Status   domain.JobStatus `json:"status"`
		Progress int              `json:"progress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != domain.JobWaiting || status.Progress != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}

	// Another customer must not see the job.
	rec = env.request(t, http.MethodGet, "/jobs/"+submit.JobID+"/status", "cust-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign job, got %d", rec.Code)
	}
}

func TestSaveProductAndHistory(t *testing.T) {
	env := newTestServer(t, "{}")

	rec := env.request(t, http.MethodPost, "/products/save", "cust-1", validProductBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved domain.ProductDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.ID == "" || saved.CustomerID != "cust-1" || saved.Source != "manual" {
		t.Fatalf("unexpected product: %+v", saved)
	}

	rec = env.request(t, http.MethodGet, "/products/history", "cust-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history struct {
		Items []domain.ProductDetails `json:"items"`
		Count int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if history.Count != 1 || len(history.Items) != 1 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestTranslateMetric(t *testing.T) {
	env := newTestServer(t, `{"translation": "Fast for users", "impact": "Higher conversion"}`)

	rec := env.request(t, http.MethodPost, "/ai/translate-metric", "cust-1", map[string]string{
		"metric": "p99 latency",
		"value":  "120ms",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.MetricTranslation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Translation != "Fast for users" || got.Metric != "p99 latency" {
		t.Fatalf("unexpected translation: %+v", got)
	}
}

func TestExtractionStatusScopedToCustomer(t *testing.T) {
	env := newTestServer(t, "{}")

	record := domain.ExtractionRecord{
		ID:         "ext-1",
		CustomerID: "cust-1",
		Filename:   "sheet.pdf",
		StorageKey: "uploads/cust-1/sheet.pdf",
		Status:     domain.ExtractionReady,
	}
	if err := env.store.SaveExtraction(record); err != nil {
		t.Fatalf("seed extraction: %v", err)
	}

	rec := env.request(t, http.MethodGet, "/product-extraction/status/ext-1", "cust-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.request(t, http.MethodGet, "/product-extraction/status/ext-1", "cust-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign record, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/product-extraction/cust-1", "cust-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for latest, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.request(t, http.MethodGet, "/product-extraction/cust-1", "cust-2", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched customer path, got %d", rec.Code)
	}
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "internal-private.pem")
	publicPath := filepath.Join(dir, "internal-public.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public: %v", err)
	}
	return privatePath, publicPath
}
