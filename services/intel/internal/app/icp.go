package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"revintel/pkg/domain"
	"revintel/pkg/queue"
)

const icpSystemPrompt = `You are a B2B go-to-market analyst. Answer with a single JSON object and nothing else: no prose, no markdown fences.`

// segmentDraft is the first-pass LLM output: the segment plus persona
// seeds that the fan-out stage expands.
type segmentDraft struct {
	CompanyName     string   `json:"companyName"`
	Segment         string   `json:"segment"`
	FirmographicFit string   `json:"firmographicFit"`
	KeySignals      []string `json:"keySignals"`
	Disqualifiers   []string `json:"disqualifiers"`
	PersonaSeeds    []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"personaSeeds"`
}

type personaDraft struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	CompanySize    string   `json:"companySize"`
	Industry       string   `json:"industry"`
	Goals          []string `json:"goals"`
	PainPoints     []string `json:"painPoints"`
	BuyingTriggers []string `json:"buyingTriggers"`
	Objections     []string `json:"objections"`
	Channels       []string `json:"channels"`
	Summary        string   `json:"summary"`
}

// generateICP runs one ICP job: draft the segment, expand personas
// concurrently, persist, and return the profile as the job result.
func (a *App) generateICP(ctx context.Context, job queue.Job, report func(progress int)) (json.RawMessage, error) {
	var payload ICPJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode icp payload: %w", err)
	}
	if errs := ValidateICPPayload(payload); len(errs) > 0 {
		return nil, fmt.Errorf("invalid icp payload")
	}
	report(5)

	raw, err := a.generator.GenerateText(ctx, icpSystemPrompt, segmentPrompt(payload, a.personaCount))
	if err != nil {
		return nil, fmt.Errorf("generate segment draft: %w", err)
	}
	var draft segmentDraft
	if err := decodeModelJSON(raw, &draft); err != nil {
		return nil, fmt.Errorf("parse segment draft: %w", err)
	}
	if len(draft.PersonaSeeds) == 0 {
		return nil, fmt.Errorf("segment draft contains no persona seeds")
	}
	seeds := draft.PersonaSeeds
	if len(seeds) > a.personaCount {
		seeds = seeds[:a.personaCount]
	}
	report(30)

	personas := make([]domain.Persona, len(seeds))
	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		i, seed := i, seed
		g.Go(func() error {
			raw, err := a.generator.GenerateText(gctx, icpSystemPrompt, personaPrompt(payload, draft, seed.Name, seed.Title))
			if err != nil {
				return fmt.Errorf("generate persona %q: %w", seed.Name, err)
			}
			var pd personaDraft
			if err := decodeModelJSON(raw, &pd); err != nil {
				return fmt.Errorf("parse persona %q: %w", seed.Name, err)
			}
			personas[i] = domain.Persona{
				ID:             uuid.NewString(),
				CustomerID:     job.CustomerID,
				Name:           firstNonEmpty(pd.Name, seed.Name),
				Title:          firstNonEmpty(pd.Title, seed.Title),
				CompanySize:    pd.CompanySize,
				Industry:       firstNonEmpty(pd.Industry, payload.Industry),
				Goals:          pd.Goals,
				PainPoints:     pd.PainPoints,
				BuyingTriggers: pd.BuyingTriggers,
				Objections:     pd.Objections,
				Channels:       pd.Channels,
				Summary:        pd.Summary,
				CreatedAt:      time.Now().UTC(),
			}
			done := completed.Add(1)
			report(30 + int(60*done/int64(len(seeds))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profile := domain.ICPProfile{
		ID:              uuid.NewString(),
		CustomerID:      job.CustomerID,
		CompanyName:     draft.CompanyName,
		ProductName:     payload.ProductName,
		Segment:         draft.Segment,
		FirmographicFit: draft.FirmographicFit,
		KeySignals:      draft.KeySignals,
		Disqualifiers:   draft.Disqualifiers,
		Personas:        personas,
		GeneratedAt:     time.Now().UTC(),
	}
	if err := a.store.SaveICPProfile(profile); err != nil {
		return nil, fmt.Errorf("save icp profile: %w", err)
	}
	report(95)
	return json.Marshal(profile)
}

func segmentPrompt(p ICPJobPayload, personaCount int) string {
	var b strings.Builder
	b.WriteString("Derive the ideal customer profile for this product.\n\n")
	fmt.Fprintf(&b, "Product: %s\n", p.ProductName)
	fmt.Fprintf(&b, "Description: %s\n", p.ProductDescription)
	fmt.Fprintf(&b, "Distinguishing feature: %s\n", p.DistinguishingFeature)
	fmt.Fprintf(&b, "Business model: %s\n", p.BusinessModel)
	if p.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", p.Industry)
	}
	if p.Goals != "" {
		fmt.Fprintf(&b, "Goals: %s\n", p.Goals)
	}
	fmt.Fprintf(&b, `
Respond with JSON: {"companyName": string, "segment": string, "firmographicFit": string, "keySignals": [string], "disqualifiers": [string], "personaSeeds": [{"name": string, "title": string}]}.
Provide exactly %d personaSeeds covering distinct buying roles.`, personaCount)
	return b.String()
}

func personaPrompt(p ICPJobPayload, draft segmentDraft, name, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Expand the buyer persona %q (%s) for the product %s targeting the segment %q.\n", name, title, p.ProductName, draft.Segment)
	fmt.Fprintf(&b, "Product description: %s\n", p.ProductDescription)
	fmt.Fprintf(&b, "Distinguishing feature: %s\n", p.DistinguishingFeature)
	b.WriteString(`
Respond with JSON: {"name": string, "title": string, "companySize": string, "industry": string, "goals": [string], "painPoints": [string], "buyingTriggers": [string], "objections": [string], "channels": [string], "summary": string}.`)
	return b.String()
}

// decodeModelJSON parses a model reply that should be a JSON object,
// tolerating markdown code fences some models insist on emitting.
func decodeModelJSON(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}
	if start := strings.IndexByte(raw, '{'); start > 0 {
		raw = raw[start:]
	}
	return json.Unmarshal([]byte(raw), out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
