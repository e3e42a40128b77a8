package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"revintel/pkg/domain"
)

const ratingSystemPrompt = `You are a B2B sales analyst scoring account fit. Answer with a single JSON object and nothing else: no prose, no markdown fences.`

type ratingDraft struct {
	Overall  int `json:"overall"`
	Criteria []struct {
		Name      string `json:"name"`
		Score     int    `json:"score"`
		MaxScore  int    `json:"maxScore"`
		Rationale string `json:"rationale"`
	} `json:"criteria"`
	Summary string `json:"summary"`
}

// RateCompany scores how well a prospect company fits the customer's
// ICP. This is a synchronous call, not a job.
func (a *App) RateCompany(ctx context.Context, customerID, company string) (domain.RatingResult, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return domain.RatingResult{}, fmt.Errorf("company is required")
	}

	profile, hasProfile, err := a.store.GetICPProfile(customerID)
	if err != nil {
		return domain.RatingResult{}, fmt.Errorf("load icp profile: %w", err)
	}

	raw, err := a.generator.GenerateText(ctx, ratingSystemPrompt, ratingPrompt(company, profile, hasProfile))
	if err != nil {
		return domain.RatingResult{}, fmt.Errorf("generate rating: %w", err)
	}
	var draft ratingDraft
	if err := decodeModelJSON(raw, &draft); err != nil {
		return domain.RatingResult{}, fmt.Errorf("parse rating: %w", err)
	}
	if draft.Overall < 0 {
		draft.Overall = 0
	}
	if draft.Overall > 100 {
		draft.Overall = 100
	}

	criteria := make([]domain.RatingCriterion, 0, len(draft.Criteria))
	for _, c := range draft.Criteria {
		maxScore := c.MaxScore
		if maxScore <= 0 {
			maxScore = 10
		}
		criteria = append(criteria, domain.RatingCriterion{
			Name:      c.Name,
			Score:     c.Score,
			MaxScore:  maxScore,
			Rationale: c.Rationale,
		})
	}

	result := domain.RatingResult{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Company:    company,
		Overall:    draft.Overall,
		Grade:      gradeFor(draft.Overall),
		Criteria:   criteria,
		Summary:    draft.Summary,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveRating(result); err != nil {
		return domain.RatingResult{}, fmt.Errorf("save rating: %w", err)
	}
	return result, nil
}

// RatingHistory lists past ratings for a customer.
func (a *App) RatingHistory(ctx context.Context, customerID string) ([]domain.RatingResult, error) {
	return a.store.ListRatingsByCustomer(customerID)
}

const translateSystemPrompt = `You translate technical product metrics into business outcomes for executives. Answer with a single JSON object and nothing else: no prose, no markdown fences.`

type translationDraft struct {
	Translation string `json:"translation"`
	Impact      string `json:"impact"`
}

// TranslateMetric restates a technical metric in business language.
func (a *App) TranslateMetric(ctx context.Context, metric, value string) (domain.MetricTranslation, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return domain.MetricTranslation{}, fmt.Errorf("metric is required")
	}
	value = strings.TrimSpace(value)

	prompt := fmt.Sprintf(`Translate the technical metric %q`, metric)
	if value != "" {
		prompt += fmt.Sprintf(" with value %q", value)
	}
	prompt += ` into plain business language.

Respond with JSON: {"translation": string, "impact": string}.`

	raw, err := a.generator.GenerateText(ctx, translateSystemPrompt, prompt)
	if err != nil {
		return domain.MetricTranslation{}, fmt.Errorf("generate translation: %w", err)
	}
	var draft translationDraft
	if err := decodeModelJSON(raw, &draft); err != nil {
		return domain.MetricTranslation{}, fmt.Errorf("parse translation: %w", err)
	}
	return domain.MetricTranslation{
		Metric:      metric,
		Value:       value,
		Translation: draft.Translation,
		Impact:      draft.Impact,
	}, nil
}

func gradeFor(overall int) string {
	switch {
	case overall >= 85:
		return "A"
	case overall >= 70:
		return "B"
	case overall >= 55:
		return "C"
	case overall >= 40:
		return "D"
	default:
		return "F"
	}
}

func ratingPrompt(company string, profile domain.ICPProfile, hasProfile bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate how well the company %q fits as a sales prospect.\n", company)
	if hasProfile {
		fmt.Fprintf(&b, "\nThe seller's ideal customer profile:\nSegment: %s\nFirmographic fit: %s\n", profile.Segment, profile.FirmographicFit)
		if len(profile.KeySignals) > 0 {
			fmt.Fprintf(&b, "Key signals: %s\n", strings.Join(profile.KeySignals, "; "))
		}
		if len(profile.Disqualifiers) > 0 {
			fmt.Fprintf(&b, "Disqualifiers: %s\n", strings.Join(profile.Disqualifiers, "; "))
		}
	}
	b.WriteString(`
Respond with JSON: {"overall": 0-100, "criteria": [{"name": string, "score": int, "maxScore": int, "rationale": string}], "summary": string}.`)
	return b.String()
}
