package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"revintel/pkg/domain"
)

func samplePayload() domain.ExportPayload {
	return domain.ExportPayload{
		CompanyName: "Acme Corp",
		ProductName: "Acme Analytics",
		GeneratedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Personas: []domain.Persona{
			{
				Name:           "Ops-Minded Olivia",
				Title:          "VP of Operations",
				CompanySize:    "200-1000",
				Industry:       "Logistics",
				Goals:          []string{"cut reporting time", "consolidate tooling"},
				PainPoints:     []string{"manual spreadsheets"},
				BuyingTriggers: []string{"new funding round"},
				Objections:     []string{"migration cost"},
				Channels:       []string{"LinkedIn", "industry events"},
				Summary:        "Pragmatic buyer focused on measurable efficiency gains.",
			},
			{
				Name:  "Data-Driven Dan",
				Title: "Head of RevOps",
				Goals: []string{"single source of truth"},
			},
		},
	}
}

func TestEmptyPersonasRejectedByEveryAdapter(t *testing.T) {
	empty := domain.ExportPayload{CompanyName: "Acme Corp"}

	if _, err := Markdown(empty); err == nil || err.Kind != KindEmptyPayload {
		t.Fatalf("Markdown: expected empty payload error, got %v", err)
	}
	if _, err := CSV(empty); err == nil || err.Kind != KindEmptyPayload {
		t.Fatalf("CSV: expected empty payload error, got %v", err)
	}
	if data, err := PDF(empty); err == nil || err.Kind != KindEmptyPayload {
		t.Fatalf("PDF: expected empty payload error, got %v", err)
	} else if data != nil {
		t.Fatalf("PDF: expected nil artifact on failure, got %d bytes", len(data))
	}
	if _, err := Prompt(empty, "gpt-4"); err == nil || err.Kind != KindEmptyPayload {
		t.Fatalf("Prompt: expected empty payload error, got %v", err)
	}
}

func TestEmptyPayloadErrorIsDescriptive(t *testing.T) {
	_, err := Markdown(domain.ExportPayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "generate an ICP analysis first") {
		t.Fatalf("error message not actionable: %q", err.Error())
	}
}

func TestMarkdownContainsAllPersonaSections(t *testing.T) {
	out, err := Markdown(samplePayload())
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	for _, want := range []string{
		"# Buyer Personas: Acme Corp",
		"**Product:** Acme Analytics",
		"## 1. Ops-Minded Olivia",
		"## 2. Data-Driven Dan",
		"- cut reporting time",
		"**Pain points:**",
		"Pragmatic buyer focused on measurable efficiency gains.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestCSVRowsParseBackWithOneRowPerPersona(t *testing.T) {
	out, err := CSV(samplePayload())
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	records, parseErr := csv.NewReader(strings.NewReader(out)).ReadAll()
	if parseErr != nil {
		t.Fatalf("generated CSV does not parse: %v", parseErr)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if records[0][0] != "name" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "Ops-Minded Olivia" {
		t.Fatalf("unexpected first row name: %q", records[1][0])
	}
	if records[1][4] != "cut reporting time; consolidate tooling" {
		t.Fatalf("goals not joined: %q", records[1][4])
	}
}

func TestPDFProducesValidHeader(t *testing.T) {
	data, err := PDF(samplePayload())
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output does not start with PDF magic, got %q", data[:min(8, len(data))])
	}
}

func TestPromptNamesModelAndPersonas(t *testing.T) {
	out, err := Prompt(samplePayload(), "claude")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !strings.Contains(out, "You are claude") {
		t.Fatalf("prompt does not address the model: %q", out[:60])
	}
	if !strings.Contains(out, "Persona 1: Ops-Minded Olivia") {
		t.Error("prompt missing first persona")
	}
	if !strings.Contains(out, "Pain points: manual spreadsheets") {
		t.Error("prompt missing pain points")
	}
}

func TestAdaptersDoNotMutateInput(t *testing.T) {
	payload := samplePayload()
	originalName := payload.Personas[0].Name
	originalGoals := len(payload.Personas[0].Goals)

	if _, err := Markdown(payload); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if _, err := CSV(payload); err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if _, err := Prompt(payload, "gpt-4"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	if payload.Personas[0].Name != originalName {
		t.Error("persona name mutated")
	}
	if len(payload.Personas[0].Goals) != originalGoals {
		t.Error("persona goals mutated")
	}
}
