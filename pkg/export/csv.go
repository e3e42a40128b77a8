package export

import (
	"encoding/csv"
	"strings"

	"revintel/pkg/domain"
)

var csvHeader = []string{
	"name", "title", "company_size", "industry",
	"goals", "pain_points", "buying_triggers", "objections", "channels", "summary",
}

// CSV renders the payload's personas as CSV text, one row per persona.
// List fields are joined with "; " inside a single cell.
func CSV(p domain.ExportPayload) (string, *Error) {
	if err := validatePayload(p); err != nil {
		return "", err
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return "", renderErr("failed to write CSV header: " + err.Error())
	}
	for _, persona := range p.Personas {
		row := []string{
			persona.Name,
			persona.Title,
			persona.CompanySize,
			persona.Industry,
			strings.Join(persona.Goals, "; "),
			strings.Join(persona.PainPoints, "; "),
			strings.Join(persona.BuyingTriggers, "; "),
			strings.Join(persona.Objections, "; "),
			strings.Join(persona.Channels, "; "),
			persona.Summary,
		}
		if err := w.Write(row); err != nil {
			return "", renderErr("failed to write CSV row: " + err.Error())
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", renderErr("failed to flush CSV: " + err.Error())
	}
	return b.String(), nil
}
