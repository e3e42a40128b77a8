package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"revintel/pkg/domain"
	"revintel/pkg/queue"
)

const (
	extractionSystemPrompt = `You extract structured product details from sales collateral. Answer with a single JSON object and nothing else: no prose, no markdown fences.`
	maxSheetBytes          = 20 << 20
	maxSheetTextRunes      = 8000
)

type extractionJobPayload struct {
	ExtractionID string `json:"extractionId"`
	StorageKey   string `json:"storageKey"`
	Filename     string `json:"filename"`
}

type productDraft struct {
	ProductName           string `json:"productName"`
	ProductDescription    string `json:"productDescription"`
	DistinguishingFeature string `json:"distinguishingFeature"`
	BusinessModel         string `json:"businessModel"`
	Industry              string `json:"industry"`
}

// TriggerExtraction records an uploaded product sheet and enqueues the
// extraction job. Returns the extraction record id used for status
// polling.
func (a *App) TriggerExtraction(ctx context.Context, customerID, filename, storageKey string) (string, error) {
	if a.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	filename = strings.TrimSpace(filename)
	storageKey = strings.TrimSpace(storageKey)
	if filename == "" || storageKey == "" {
		return "", fmt.Errorf("filename and storageKey are required")
	}
	now := time.Now().UTC()
	record := domain.ExtractionRecord{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Filename:   filename,
		StorageKey: storageKey,
		Status:     domain.ExtractionQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveExtraction(record); err != nil {
		return "", fmt.Errorf("save extraction record: %w", err)
	}
	job, err := a.queue.Enqueue(ctx, domain.KindProductExtraction, customerID, extractionJobPayload{
		ExtractionID: record.ID,
		StorageKey:   storageKey,
		Filename:     filename,
	})
	if err != nil {
		_ = a.store.SetExtractionStatus(record.ID, domain.ExtractionFailed, "failed to enqueue extraction")
		return "", fmt.Errorf("enqueue extraction job: %w", err)
	}
	a.publishJobEvent(ctx, job, "")
	return record.ID, nil
}

// ExtractionStatus loads one extraction record by id.
func (a *App) ExtractionStatus(ctx context.Context, id string) (domain.ExtractionRecord, bool, error) {
	return a.store.GetExtraction(id)
}

// LatestExtraction loads the customer's most recent extraction.
func (a *App) LatestExtraction(ctx context.Context, customerID string) (domain.ExtractionRecord, bool, error) {
	return a.store.GetLatestExtractionByCustomer(customerID)
}

// runExtraction is the worker side: download the sheet, pull its text,
// and have the model lift out the product details.
func (a *App) runExtraction(ctx context.Context, job queue.Job, report func(progress int)) (json.RawMessage, error) {
	var payload extractionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	record, found, err := a.store.GetExtraction(payload.ExtractionID)
	if err != nil {
		return nil, fmt.Errorf("load extraction record: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("extraction record %s not found", payload.ExtractionID)
	}
	if err := a.store.SetExtractionStatus(record.ID, domain.ExtractionProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark extraction processing: %w", err)
	}
	report(10)

	text, err := a.fetchSheetText(ctx, payload.StorageKey)
	if err != nil {
		_ = a.store.SetExtractionStatus(record.ID, domain.ExtractionFailed, err.Error())
		return nil, err
	}
	report(50)

	raw, err := a.generator.GenerateText(ctx, extractionSystemPrompt, extractionPrompt(payload.Filename, text))
	if err != nil {
		_ = a.store.SetExtractionStatus(record.ID, domain.ExtractionFailed, "extraction model call failed")
		return nil, fmt.Errorf("generate extraction: %w", err)
	}
	var draft productDraft
	if err := decodeModelJSON(raw, &draft); err != nil {
		_ = a.store.SetExtractionStatus(record.ID, domain.ExtractionFailed, "extraction produced malformed output")
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	report(80)

	now := time.Now().UTC()
	product := domain.ProductDetails{
		ID:                    uuid.NewString(),
		CustomerID:            job.CustomerID,
		ProductName:           draft.ProductName,
		ProductDescription:    draft.ProductDescription,
		DistinguishingFeature: draft.DistinguishingFeature,
		Industry:              draft.Industry,
		Source:                "extraction",
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if domain.ValidBusinessModel(domain.BusinessModel(draft.BusinessModel)) {
		product.BusinessModel = domain.BusinessModel(draft.BusinessModel)
	}
	if err := a.store.SaveProduct(product); err != nil {
		_ = a.store.SetExtractionStatus(record.ID, domain.ExtractionFailed, "failed to save extracted product")
		return nil, fmt.Errorf("save extracted product: %w", err)
	}

	record.Status = domain.ExtractionReady
	record.ErrorMessage = ""
	record.Product = &product
	record.UpdatedAt = now
	if err := a.store.SaveExtraction(record); err != nil {
		return nil, fmt.Errorf("save extraction record: %w", err)
	}
	report(95)
	return json.Marshal(record)
}

func (a *App) fetchSheetText(ctx context.Context, storageKey string) (string, error) {
	obj, err := a.objects.Get(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("fetch product sheet: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(io.LimitReader(obj, maxSheetBytes))
	if err != nil {
		return "", fmt.Errorf("read product sheet: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("product sheet is empty")
	}

	var text string
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		text, err = extractPDFText(data)
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
	} else {
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("product sheet has no readable text")
	}
	runes := []rune(text)
	if len(runes) > maxSheetTextRunes {
		text = string(runes[:maxSheetTextRunes])
	}
	return text, nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return b.String(), nil
}

func extractionPrompt(filename, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the product details from this sales document (%s).\n\nDocument text:\n%s\n", filename, text)
	b.WriteString(`
Respond with JSON: {"productName": string, "productDescription": string, "distinguishingFeature": string, "businessModel": one of ["b2b-subscription","b2b-license","b2c-subscription","marketplace","services"], "industry": string}.`)
	return b.String()
}
