package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"revintel/internal/servicetoken"
	"revintel/internal/util"
	"revintel/pkg/domain"
	"revintel/services/intel/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// InternalVerifier validates gateway-issued service tokens. When
	// nil it is built from the key material below.
	InternalVerifier            *servicetoken.Verifier
	InternalJWTKeyID            string
	InternalJWTPublicKeyPath    string
	InternalJWTVerifyPublicKeys map[string]string
}

// Server exposes the intel service's internal HTTP API. All traffic
// arrives through the gateway, which authenticates the user and passes
// the customer identity in the X-Customer-Id header.
type Server struct {
	app            *app.App
	internalVerify *servicetoken.Verifier
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	verifier := cfg.InternalVerifier
	if verifier == nil {
		v, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
			PublicKeyPath:      strings.TrimSpace(cfg.InternalJWTPublicKeyPath),
			VerifyPublicKeyMap: cfg.InternalJWTVerifyPublicKeys,
			DefaultKeyID:       cfg.InternalJWTKeyID,
			Audience:           "intel",
			AllowedIssuers:     []string{"gateway-service"},
			Leeway:             servicetoken.DefaultLeeway,
		})
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	s.internalVerify = verifier
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("intel", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/jobs/generate-icp", s.withCustomer(s.handleGenerateICP))
	s.mux.Handle("/jobs/", s.withCustomer(s.handleJobStatus))

	s.mux.Handle("/products/save", s.withCustomer(s.handleSaveProduct))
	s.mux.Handle("/products/history", s.withCustomer(s.handleProductHistory))

	s.mux.Handle("/company-research", s.withCustomer(s.handleResearch))
	s.mux.Handle("/company-research/history", s.withCustomer(s.handleResearchHistory))

	s.mux.Handle("/ai/rate-company", s.withCustomer(s.handleRateCompany))
	s.mux.Handle("/ai/ratings", s.withCustomer(s.handleRatingHistory))
	s.mux.Handle("/ai/translate-metric", s.withCustomer(s.handleTranslateMetric))

	s.mux.Handle("/product-extraction/trigger", s.withCustomer(s.handleExtractionTrigger))
	s.mux.Handle("/product-extraction/", s.withCustomer(s.handleExtractionByPath))

	s.mux.Handle("/exports/archive", s.withCustomer(s.handleArchiveExport))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type customerHandler func(http.ResponseWriter, *http.Request, string)

// withCustomer verifies the gateway's service token and pulls the
// customer identity forwarded in X-Customer-Id.
func (s *Server) withCustomer(next customerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalVerify.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		customerID := strings.TrimSpace(r.Header.Get("X-Customer-Id"))
		if customerID == "" {
			writeError(w, http.StatusBadRequest, "customer identity required")
			return
		}
		next(w, r, customerID)
	})
}

func (s *Server) handleGenerateICP(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload app.ICPJobPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if errs := app.ValidateICPPayload(payload); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       "invalid product details",
			"code":        "ICP_INVALID_INPUT",
			"fieldErrors": errs,
		})
		return
	}
	jobID, err := s.app.SubmitGenerateICP(r.Context(), customerID, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "jobId": jobID})
}

// /jobs/{id}/status
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "status" {
		notFound(w, "not found")
		return
	}
	job, ok, err := s.app.JobStatus(r.Context(), parts[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok || job.CustomerID != customerID {
		notFound(w, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"result":   job.Result,
		"error":    job.ErrorMessage,
	})
}

func (s *Server) handleSaveProduct(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var product domain.ProductDetails
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&product); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	product.CustomerID = customerID
	saved, err := s.app.SaveProduct(r.Context(), product)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleProductHistory(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ProductHistory(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Company    string `json:"company"`
		WebsiteURL string `json:"websiteUrl"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	research, err := s.app.ResearchCompany(r.Context(), customerID, req.Company, req.WebsiteURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, research)
}

func (s *Server) handleResearchHistory(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ResearchHistory(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleRateCompany(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Company string `json:"company"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.RateCompany(r.Context(), customerID, req.Company)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRatingHistory(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.RatingHistory(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleTranslateMetric(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Metric string `json:"metric"`
		Value  string `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	translation, err := s.app.TranslateMetric(r.Context(), req.Metric, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, translation)
}

func (s *Server) handleExtractionTrigger(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Filename   string `json:"filename"`
		StorageKey string `json:"storageKey"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.app.TriggerExtraction(r.Context(), customerID, req.Filename, req.StorageKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "id": id})
}

// /product-extraction/status/{id} or /product-extraction/{customerId}
func (s *Server) handleExtractionByPath(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/product-extraction/")
	if rest, ok := strings.CutPrefix(path, "status/"); ok {
		s.handleExtractionStatus(w, r, customerID, rest)
		return
	}
	if path == "" || strings.Contains(path, "/") {
		notFound(w, "not found")
		return
	}
	if path != customerID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	record, ok, err := s.app.LatestExtraction(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleExtractionStatus(w http.ResponseWriter, r *http.Request, customerID, id string) {
	if id == "" {
		notFound(w, "not found")
		return
	}
	record, ok, err := s.app.ExtractionStatus(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok || record.CustomerID != customerID {
		notFound(w, "extraction not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Format string `json:"format"`
		Data   []byte `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	url, err := s.app.ArchiveExport(r.Context(), customerID, req.Format, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForIntel(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForIntel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INTEL_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "INTEL_FORBIDDEN"
	case http.StatusNotFound:
		return "INTEL_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
