package export

import (
	"fmt"
	"strings"

	"revintel/pkg/domain"
)

// Markdown renders the payload as a Markdown document suitable for
// clipboard copy or a .md download.
func Markdown(p domain.ExportPayload) (string, *Error) {
	if err := validatePayload(p); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Buyer Personas: %s\n\n", orUnknown(p.CompanyName))
	if p.ProductName != "" {
		fmt.Fprintf(&b, "**Product:** %s\n\n", p.ProductName)
	}
	if !p.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "**Generated:** %s\n\n", p.GeneratedAt.Format("2006-01-02"))
	}

	for i, persona := range p.Personas {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, orUnknown(persona.Name))
		if persona.Title != "" {
			fmt.Fprintf(&b, "**Title:** %s\n\n", persona.Title)
		}
		if persona.CompanySize != "" {
			fmt.Fprintf(&b, "**Company size:** %s\n\n", persona.CompanySize)
		}
		if persona.Industry != "" {
			fmt.Fprintf(&b, "**Industry:** %s\n\n", persona.Industry)
		}
		writeMarkdownList(&b, "Goals", persona.Goals)
		writeMarkdownList(&b, "Pain points", persona.PainPoints)
		writeMarkdownList(&b, "Buying triggers", persona.BuyingTriggers)
		writeMarkdownList(&b, "Objections", persona.Objections)
		writeMarkdownList(&b, "Channels", persona.Channels)
		if persona.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", persona.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

func writeMarkdownList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
