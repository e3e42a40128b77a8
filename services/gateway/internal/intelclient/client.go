package intelclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"revintel/internal/servicetoken"
)

// Client forwards widget operations to the intel service. Requests are
// authenticated with a short-lived internal service token; the end-user
// identity travels in the X-Customer-Id header.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *servicetoken.Signer
}

// NewClient constructs an intel service client.
func NewClient(baseURL string, signer *servicetoken.Signer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		signer:     signer,
	}
}

// Result is the raw downstream reply, passed through to the caller.
type Result struct {
	Status int
	Body   []byte
}

// Forward re-issues a request against the intel service on behalf of
// the given customer and returns the downstream status and body as-is.
func (c *Client) Forward(ctx context.Context, method, path, customerID string, body []byte) (Result, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{}, err
	}
	token, err := c.signer.Sign("intel")
	if err != nil {
		return Result{}, fmt.Errorf("sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Customer-Id", customerID)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, err
	}
	return Result{Status: resp.StatusCode, Body: payload}, nil
}
