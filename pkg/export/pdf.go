package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"revintel/pkg/domain"
)

// PDF renders the payload as a one-personas-per-section PDF document.
// The fpdf builder panics on some malformed inputs, so rendering runs
// behind a recover and any panic is converted into a render error.
func PDF(p domain.ExportPayload) (data []byte, expErr *Error) {
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			data = nil
			expErr = renderErr(fmt.Sprintf("failed to render PDF: %v", r))
		}
	}()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Buyer Personas: "+orUnknown(p.CompanyName), true)
	doc.SetAutoPageBreak(true, 18)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 10, "Buyer Personas: "+orUnknown(p.CompanyName), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	if p.ProductName != "" {
		doc.CellFormat(0, 6, "Product: "+p.ProductName, "", 1, "L", false, 0, "")
	}
	if !p.GeneratedAt.IsZero() {
		doc.CellFormat(0, 6, "Generated: "+p.GeneratedAt.Format("2006-01-02"), "", 1, "L", false, 0, "")
	}
	doc.Ln(4)

	for i, persona := range p.Personas {
		doc.SetFont("Helvetica", "B", 14)
		doc.CellFormat(0, 8, fmt.Sprintf("%d. %s", i+1, orUnknown(persona.Name)), "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		writePDFField(doc, "Title", persona.Title)
		writePDFField(doc, "Company size", persona.CompanySize)
		writePDFField(doc, "Industry", persona.Industry)
		writePDFList(doc, "Goals", persona.Goals)
		writePDFList(doc, "Pain points", persona.PainPoints)
		writePDFList(doc, "Buying triggers", persona.BuyingTriggers)
		writePDFList(doc, "Objections", persona.Objections)
		writePDFList(doc, "Channels", persona.Channels)
		if persona.Summary != "" {
			doc.MultiCell(0, 5, persona.Summary, "", "L", false)
		}
		doc.Ln(4)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, renderErr("failed to render PDF: " + err.Error())
	}
	return buf.Bytes(), nil
}

func writePDFField(doc *fpdf.Fpdf, label, value string) {
	if value == "" {
		return
	}
	doc.SetFont("Helvetica", "B", 10)
	doc.CellFormat(32, 5, label+":", "", 0, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.MultiCell(0, 5, value, "", "L", false)
}

func writePDFList(doc *fpdf.Fpdf, label string, items []string) {
	if len(items) == 0 {
		return
	}
	doc.SetFont("Helvetica", "B", 10)
	doc.CellFormat(0, 5, label+":", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	for _, item := range items {
		doc.MultiCell(0, 5, "- "+item, "", "L", false)
	}
}
