package stages

import (
	"context"
	"strings"
	"testing"

	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/report"
)

func TestGenerateTemplateObstructive(t *testing.T) {
	ex := NewExchange(&registry.Request{ID: "req-generate", FileName: "sample.txt"})
	ex.Report.Interpretation = report.Interpretation{
		Pattern:  report.PatternObstructive,
		Severity: report.SeverityModSevere,
		Findings: []string{"FEV1 54% of predicted", "FEV1/FVC ratio 60.4 below 70"},
	}
	ex.Report.Triage = report.Triage{Level: report.TriageUrgent, Rationale: "Moderately Severe obstructive pattern"}

	gen := NewGenerator(nil, logging.NewNop())
	if err := gen.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	doc := ex.Report.Document
	if !strings.Contains(doc.Summary, "Obstructive ventilatory defect") {
		t.Fatalf("unexpected summary: %q", doc.Summary)
	}
	if !strings.Contains(doc.Summary, report.SeverityModSevere) {
		t.Fatalf("summary should carry severity: %q", doc.Summary)
	}
	if !strings.Contains(doc.Findings, "FEV1 54% of predicted") {
		t.Fatalf("unexpected findings: %q", doc.Findings)
	}
	if doc.Recommendation != "Prompt clinical follow-up recommended." {
		t.Fatalf("unexpected recommendation: %q", doc.Recommendation)
	}
	if doc.Source != report.SourceRules {
		t.Fatalf("expected rules source, got %q", doc.Source)
	}
}

func TestGenerateTemplateNormal(t *testing.T) {
	ex := NewExchange(&registry.Request{ID: "req-generate", FileName: "sample.txt"})
	ex.Report.Interpretation = report.Interpretation{Pattern: report.PatternNormal}
	ex.Report.Triage = report.Triage{Level: report.TriageRoutine, Rationale: "No significant abnormality"}

	gen := NewGenerator(nil, logging.NewNop())
	if err := gen.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ex.Report.Document.Summary != "Pulmonary function within normal limits." {
		t.Fatalf("unexpected summary: %q", ex.Report.Document.Summary)
	}
	if ex.Report.Document.Recommendation != "Routine follow-up as clinically indicated." {
		t.Fatalf("unexpected recommendation: %q", ex.Report.Document.Recommendation)
	}
}

func TestGenerateTemplateDiffusionNote(t *testing.T) {
	ex := NewExchange(&registry.Request{ID: "req-generate", FileName: "sample.txt"})
	ex.Report.Interpretation = report.Interpretation{
		Pattern:             report.PatternMixed,
		Severity:            report.SeveritySevere,
		DiffusionImpairment: true,
	}
	ex.Report.Triage = report.Triage{Level: report.TriageCritical}

	gen := NewGenerator(nil, logging.NewNop())
	if err := gen.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(ex.Report.Document.Summary, "Diffusion capacity is reduced.") {
		t.Fatalf("summary should note diffusion: %q", ex.Report.Document.Summary)
	}
	if ex.Report.Document.Recommendation != "Immediate clinical review recommended." {
		t.Fatalf("unexpected recommendation: %q", ex.Report.Document.Recommendation)
	}
}

func TestGenerateRequiresInterpretationAndTriage(t *testing.T) {
	gen := NewGenerator(nil, logging.NewNop())
	ex := NewExchange(&registry.Request{ID: "req-generate", FileName: "sample.txt"})
	if err := gen.Execute(context.Background(), ex); err == nil {
		t.Fatal("expected error without interpretation and triage")
	}
}
