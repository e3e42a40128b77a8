package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"revintel/pkg/domain"
)

const (
	researchSystemPrompt = `You are a B2B market researcher. Answer with a single JSON object and nothing else: no prose, no markdown fences.`
	maxHomepageBytes     = 2 << 20
	maxResearchTextRunes = 6000
)

type researchDraft struct {
	Description string `json:"description"`
	ValueProp   string `json:"valueProp"`
	TargetBuyer string `json:"targetBuyer"`
}

// ResearchCompany fetches the company's public homepage, reduces it to
// text, and asks the model to characterize the business.
func (a *App) ResearchCompany(ctx context.Context, customerID, company, websiteURL string) (domain.CompanyResearch, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return domain.CompanyResearch{}, fmt.Errorf("company is required")
	}
	websiteURL = strings.TrimSpace(websiteURL)
	if websiteURL == "" {
		return domain.CompanyResearch{}, fmt.Errorf("websiteUrl is required")
	}
	parsed, err := url.Parse(websiteURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.CompanyResearch{}, fmt.Errorf("websiteUrl must be an absolute http(s) URL")
	}

	pageText, err := a.fetchHomepageText(ctx, websiteURL)
	if err != nil {
		return domain.CompanyResearch{}, err
	}

	raw, err := a.generator.GenerateText(ctx, researchSystemPrompt, researchPrompt(company, pageText))
	if err != nil {
		return domain.CompanyResearch{}, fmt.Errorf("generate research: %w", err)
	}
	var draft researchDraft
	if err := decodeModelJSON(raw, &draft); err != nil {
		return domain.CompanyResearch{}, fmt.Errorf("parse research: %w", err)
	}

	research := domain.CompanyResearch{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		Company:     company,
		WebsiteURL:  websiteURL,
		Description: draft.Description,
		ValueProp:   draft.ValueProp,
		TargetBuyer: draft.TargetBuyer,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveResearch(research); err != nil {
		return domain.CompanyResearch{}, fmt.Errorf("save research: %w", err)
	}
	return research, nil
}

// ResearchHistory lists previous research runs for a customer.
func (a *App) ResearchHistory(ctx context.Context, customerID string) ([]domain.CompanyResearch, error) {
	return a.store.ListResearchByCustomer(customerID)
}

func (a *App) fetchHomepageText(ctx context.Context, websiteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, websiteURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "revintel-research/1.0")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch website: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch website: %s", resp.Status)
	}
	body := io.LimitReader(resp.Body, maxHomepageBytes)
	text, err := extractText(body)
	if err != nil {
		return "", fmt.Errorf("parse website html: %w", err)
	}
	runes := []rune(text)
	if len(runes) > maxResearchTextRunes {
		text = string(runes[:maxResearchTextRunes])
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("website has no readable text")
	}
	return text, nil
}

// extractText walks the HTML tree collecting visible text, skipping
// script/style/noscript subtrees.
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), nil
}

func researchPrompt(company, pageText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Characterize the company %q from its homepage text below.\n\n", company)
	b.WriteString("Homepage text:\n")
	b.WriteString(pageText)
	b.WriteString(`

Respond with JSON: {"description": string, "valueProp": string, "targetBuyer": string}.`)
	return b.String()
}
