// Package client is the SDK widgets use to talk to the intel service:
// an authenticated request helper, a job poller, and a form submission
// controller. Every Client is constructed per caller, nothing is shared
// through package state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"revintel/pkg/domain"
)

// ErrNoSession is returned before any request is sent when the token
// source has no valid session.
var ErrNoSession = errors.New("no active session")

// TokenSource supplies the current bearer token. session.Bridge's
// AccessToken method satisfies this.
type TokenSource func() (string, error)

// APIError is a non-2xx reply from the backend. A 401 is returned
// as-is, never retried; the caller decides whether to redirect to
// login.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a 401 from the backend.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Client issues authenticated requests against the intel service.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New builds a Client for the service at baseURL using tokens for
// bearer credentials.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GenerateICPRequest is the job submission payload for ICP generation.
type GenerateICPRequest struct {
	ProductName           string               `json:"productName"`
	ProductDescription    string               `json:"productDescription"`
	DistinguishingFeature string               `json:"distinguishingFeature"`
	BusinessModel         domain.BusinessModel `json:"businessModel"`
	Industry              string               `json:"industry,omitempty"`
	Goals                 string               `json:"goals,omitempty"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// JobStatusReply is one polled snapshot of an async job.
type JobStatusReply struct {
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// GenerateICP submits an ICP generation job and returns the job id.
func (c *Client) GenerateICP(ctx context.Context, req GenerateICPRequest) (string, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs/generate-icp", req, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.JobID == "" {
		return "", errors.New("job submission failed: no job id returned")
	}
	return resp.JobID, nil
}

// JobStatus fetches the current status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatusReply, error) {
	var resp JobStatusReply
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveProduct persists the user's product details.
func (c *Client) SaveProduct(ctx context.Context, p domain.ProductDetails) (*domain.ProductDetails, error) {
	var resp domain.ProductDetails
	if err := c.doJSON(ctx, http.MethodPost, "/products/save", p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProductHistory lists previously saved products for a customer.
func (c *Client) ProductHistory(ctx context.Context, customerID string) ([]domain.ProductDetails, error) {
	var resp struct {
		Items []domain.ProductDetails `json:"items"`
	}
	path := "/products/history?customerId=" + url.QueryEscape(customerID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ResearchCompany fetches and summarizes a company's public website.
func (c *Client) ResearchCompany(ctx context.Context, company, websiteURL string) (*domain.CompanyResearch, error) {
	in := map[string]string{"company": company, "websiteUrl": websiteURL}
	var resp domain.CompanyResearch
	if err := c.doJSON(ctx, http.MethodPost, "/company-research", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RateCompany runs the synchronous company-fit rating.
func (c *Client) RateCompany(ctx context.Context, company string) (*domain.RatingResult, error) {
	in := map[string]string{"company": company}
	var resp domain.RatingResult
	if err := c.doJSON(ctx, http.MethodPost, "/ai/rate-company", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranslateMetric restates a technical metric in business language.
func (c *Client) TranslateMetric(ctx context.Context, metric, value string) (*domain.MetricTranslation, error) {
	in := map[string]string{"metric": metric, "value": value}
	var resp domain.MetricTranslation
	if err := c.doJSON(ctx, http.MethodPost, "/ai/translate-metric", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerExtraction starts a product-sheet extraction job for an
// uploaded document.
func (c *Client) TriggerExtraction(ctx context.Context, filename, storageKey string) (string, error) {
	in := map[string]string{"filename": filename, "storageKey": storageKey}
	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/product-extraction/trigger", in, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ID == "" {
		return "", errors.New("extraction trigger failed: no id returned")
	}
	return resp.ID, nil
}

// ExtractionStatus fetches one extraction record by id.
func (c *Client) ExtractionStatus(ctx context.Context, id string) (*domain.ExtractionRecord, error) {
	var resp domain.ExtractionRecord
	if err := c.doJSON(ctx, http.MethodGet, "/product-extraction/status/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestExtraction fetches the most recent extraction for a customer.
func (c *Client) LatestExtraction(ctx context.Context, customerID string) (*domain.ExtractionRecord, error) {
	var resp domain.ExtractionRecord
	if err := c.doJSON(ctx, http.MethodGet, "/product-extraction/"+url.PathEscape(customerID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ArchiveExport stores a rendered export artifact server-side and
// returns a presigned download URL.
func (c *Client) ArchiveExport(ctx context.Context, format string, artifact []byte) (string, error) {
	in := map[string]any{"format": format, "data": artifact}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/exports/archive", in, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// doJSON attaches the bearer credential and performs one round trip.
// It fails fast with ErrNoSession before sending anything when the
// token source has no session.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if token == "" {
		return ErrNoSession
	}

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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
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
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
