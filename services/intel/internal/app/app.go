// Package app implements the revenue-intelligence core: ICP generation
// jobs, company research, ratings, metric translation, and product-sheet
// extraction.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"revintel/pkg/ai"
	"revintel/pkg/domain"
	"revintel/pkg/notify"
	"revintel/pkg/queue"
	"revintel/pkg/storage"
	"revintel/pkg/store"
)

// JobQueue is the slice of the queue the app depends on.
// *queue.RedisJobQueue satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, kind domain.JobKind, customerID string, payload any) (queue.Job, error)
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
}

// Config wires the app's collaborators.
type Config struct {
	Store     store.Store
	Queue     JobQueue
	Objects   storage.ObjectStore
	Generator ai.TextGenerator
	Events    notify.Publisher
	// HTTPClient fetches company websites for research. Defaults to a
	// client with a 15s timeout.
	HTTPClient *http.Client
	// PersonaCount is how many buyer personas one ICP run produces.
	// Defaults to 4.
	PersonaCount int
}

// App holds the intel service's business logic.
type App struct {
	store        store.Store
	queue        JobQueue
	objects      storage.ObjectStore
	generator    ai.TextGenerator
	events       notify.Publisher
	httpClient   *http.Client
	personaCount int
}

// New constructs the app. Store, Queue, and Generator are required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	events := cfg.Events
	if events == nil {
		events = notify.NopPublisher{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	personaCount := cfg.PersonaCount
	if personaCount <= 0 {
		personaCount = 4
	}
	return &App{
		store:        cfg.Store,
		queue:        cfg.Queue,
		objects:      cfg.Objects,
		generator:    cfg.Generator,
		events:       events,
		httpClient:   httpClient,
		personaCount: personaCount,
	}, nil
}

// ICPJobPayload is the persisted input of one ICP generation job.
type ICPJobPayload struct {
	ProductName           string               `json:"productName"`
	ProductDescription    string               `json:"productDescription"`
	DistinguishingFeature string               `json:"distinguishingFeature"`
	BusinessModel         domain.BusinessModel `json:"businessModel"`
	Industry              string               `json:"industry,omitempty"`
	Goals                 string               `json:"goals,omitempty"`
}

// ValidateICPPayload checks required fields and returns a field-keyed
// error map; empty means valid.
func ValidateICPPayload(p ICPJobPayload) map[string]string {
	errs := make(map[string]string)
	if strings.TrimSpace(p.ProductName) == "" {
		errs["productName"] = "product name is required"
	}
	if strings.TrimSpace(p.ProductDescription) == "" {
		errs["productDescription"] = "product description is required"
	}
	if strings.TrimSpace(p.DistinguishingFeature) == "" {
		errs["distinguishingFeature"] = "distinguishing feature is required"
	}
	if p.BusinessModel == "" {
		errs["businessModel"] = "business model is required"
	} else if !domain.ValidBusinessModel(p.BusinessModel) {
		errs["businessModel"] = "invalid business model"
	}
	return errs
}

// SubmitGenerateICP enqueues an ICP generation job for the customer.
func (a *App) SubmitGenerateICP(ctx context.Context, customerID string, payload ICPJobPayload) (string, error) {
	job, err := a.queue.Enqueue(ctx, domain.KindGenerateICP, customerID, payload)
	if err != nil {
		return "", fmt.Errorf("enqueue icp job: %w", err)
	}
	a.publishJobEvent(ctx, job, "")
	return job.ID, nil
}

// JobStatus loads the polled view of a job.
func (a *App) JobStatus(ctx context.Context, jobID string) (queue.Job, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}

// HandleJob is the queue worker entrypoint: it dispatches by job kind
// and publishes a lifecycle event with the outcome.
func (a *App) HandleJob(ctx context.Context, job queue.Job, report func(progress int)) (json.RawMessage, error) {
	var (
		result json.RawMessage
		err    error
	)
	switch job.Kind {
	case domain.KindGenerateICP:
		result, err = a.generateICP(ctx, job, report)
	case domain.KindProductExtraction:
		result, err = a.runExtraction(ctx, job, report)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		job.Status = domain.JobFailed
		a.publishJobEvent(ctx, job, err.Error())
		return nil, err
	}
	job.Status = domain.JobCompleted
	a.publishJobEvent(ctx, job, "")
	return result, nil
}

// SaveProduct persists the customer's product details.
func (a *App) SaveProduct(ctx context.Context, p domain.ProductDetails) (domain.ProductDetails, error) {
	if errs := ValidateICPPayload(ICPJobPayload{
		ProductName:           p.ProductName,
		ProductDescription:    p.ProductDescription,
		DistinguishingFeature: p.DistinguishingFeature,
		BusinessModel:         p.BusinessModel,
	}); len(errs) > 0 {
		return domain.ProductDetails{}, fmt.Errorf("invalid product details")
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	}
	if p.Source == "" {
		p.Source = "manual"
	}
	p.UpdatedAt = now
	if err := a.store.SaveProduct(p); err != nil {
		return domain.ProductDetails{}, fmt.Errorf("save product: %w", err)
	}
	return p, nil
}

// ProductHistory lists the customer's saved products, newest first.
func (a *App) ProductHistory(ctx context.Context, customerID string) ([]domain.ProductDetails, error) {
	return a.store.ListProductsByCustomer(customerID)
}

// ICPProfile returns the customer's latest generated profile.
func (a *App) ICPProfile(ctx context.Context, customerID string) (domain.ICPProfile, bool, error) {
	return a.store.GetICPProfile(customerID)
}

// ArchiveExport stores a rendered export artifact and returns a
// presigned download URL valid for one hour.
func (a *App) ArchiveExport(ctx context.Context, customerID, format string, data []byte) (string, error) {
	if a.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	var contentType string
	switch format {
	case "pdf":
		contentType = "application/pdf"
	case "csv":
		contentType = "text/csv"
	case "md", "markdown":
		format = "md"
		contentType = "text/markdown"
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty export artifact")
	}
	key := fmt.Sprintf("exports/%s/%s.%s", customerID, uuid.NewString(), format)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, time.Hour)
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}
	return url, nil
}

func (a *App) publishJobEvent(ctx context.Context, job queue.Job, errMsg string) {
	_ = a.events.PublishJobEvent(ctx, notify.JobEvent{
		JobID:      job.ID,
		Kind:       job.Kind,
		CustomerID: job.CustomerID,
		Status:     job.Status,
		Error:      errMsg,
	})
}
