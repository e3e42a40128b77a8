package export

import (
	"fmt"
	"strings"

	"revintel/pkg/domain"
)

// Prompt builds a plain-text LLM prompt embedding the persona data, ready
// for the user to paste into the named model's chat interface.
func Prompt(p domain.ExportPayload, model string) (string, *Error) {
	if err := validatePayload(p); err != nil {
		return "", err
	}
	if strings.TrimSpace(model) == "" {
		model = "an LLM"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s acting as a B2B go-to-market strategist.\n\n", model)
	fmt.Fprintf(&b, "Below are the validated buyer personas for %s", orUnknown(p.CompanyName))
	if p.ProductName != "" {
		fmt.Fprintf(&b, " (product: %s)", p.ProductName)
	}
	b.WriteString(".\n")
	b.WriteString("Use them as ground truth when answering follow-up questions about positioning, messaging, and outreach.\n\n")

	for i, persona := range p.Personas {
		fmt.Fprintf(&b, "Persona %d: %s\n", i+1, orUnknown(persona.Name))
		if persona.Title != "" {
			fmt.Fprintf(&b, "  Title: %s\n", persona.Title)
		}
		if persona.CompanySize != "" {
			fmt.Fprintf(&b, "  Company size: %s\n", persona.CompanySize)
		}
		if persona.Industry != "" {
			fmt.Fprintf(&b, "  Industry: %s\n", persona.Industry)
		}
		writePromptList(&b, "Goals", persona.Goals)
		writePromptList(&b, "Pain points", persona.PainPoints)
		writePromptList(&b, "Buying triggers", persona.BuyingTriggers)
		writePromptList(&b, "Objections", persona.Objections)
		writePromptList(&b, "Channels", persona.Channels)
		if persona.Summary != "" {
			fmt.Fprintf(&b, "  Summary: %s\n", persona.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("Acknowledge that you have loaded these personas, then wait for my first question.\n")
	return b.String(), nil
}

func writePromptList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s: %s\n", label, strings.Join(items, "; "))
}
