package stages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/report"
	"pulmo/internal/services/llm"
)

func f(v float64) *float64 { return &v }

func exchangeWithParameters(p report.Parameters) *Exchange {
	ex := NewExchange(&registry.Request{ID: "req-interpret", FileName: "sample.txt"})
	ex.Report.Parameters = p
	return ex
}

func TestInterpretRulesObstruction(t *testing.T) {
	ex := exchangeWithParameters(report.Parameters{
		FEV1FVCRatio: f(60.4),
		FEV1Percent:  f(53.8),
		FVCPercent:   f(85.0),
	})

	interp := NewInterpreter(nil, logging.NewNop())
	if err := interp.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := ex.Report.Interpretation
	if got.Pattern != report.PatternObstructive {
		t.Fatalf("expected obstructive pattern, got %q", got.Pattern)
	}
	if got.Severity != report.SeverityModSevere {
		t.Fatalf("expected moderately severe, got %q", got.Severity)
	}
	if got.Source != report.SourceRules {
		t.Fatalf("expected rules source, got %q", got.Source)
	}
	if got.DiffusionImpairment {
		t.Fatal("did not expect diffusion impairment")
	}
}

func TestInterpretRulesMixedWithDiffusion(t *testing.T) {
	ex := exchangeWithParameters(report.Parameters{
		FEV1FVCRatio: f(58.0),
		FVCPercent:   f(62.0),
		FEV1Percent:  f(41.0),
		DLCOPercent:  f(55.0),
	})

	interp := NewInterpreter(nil, logging.NewNop())
	if err := interp.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := ex.Report.Interpretation
	if got.Pattern != report.PatternMixed {
		t.Fatalf("expected mixed pattern, got %q", got.Pattern)
	}
	if got.Severity != report.SeveritySevere {
		t.Fatalf("expected severe, got %q", got.Severity)
	}
	if !got.DiffusionImpairment {
		t.Fatal("expected diffusion impairment")
	}
	if len(got.Findings) == 0 {
		t.Fatal("expected findings")
	}
}

func TestInterpretRulesNormal(t *testing.T) {
	ex := exchangeWithParameters(report.Parameters{
		FEV1FVCRatio: f(78.0),
		FVCPercent:   f(95.0),
		FEV1Percent:  f(92.0),
	})

	interp := NewInterpreter(nil, logging.NewNop())
	if err := interp.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := ex.Report.Interpretation
	if got.Pattern != report.PatternNormal {
		t.Fatalf("expected normal pattern, got %q", got.Pattern)
	}
	if got.Severity != "" {
		t.Fatalf("normal pattern should carry no severity, got %q", got.Severity)
	}
}

func TestSeverityLadder(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{85, report.SeverityMild},
		{80, report.SeverityMild},
		{75, report.SeverityModerate},
		{60, report.SeverityModSevere},
		{40, report.SeveritySevere},
		{25, report.SeverityVerySevere},
	}
	for _, tc := range cases {
		if got := severityForFEV1(tc.pct); got != tc.want {
			t.Errorf("severityForFEV1(%.0f) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestInterpretUsesModelWhenConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"pattern":"obstructive","severity":"moderate","diffusion_impairment":true,"findings":["Airflow limitation"],"confidence":0.92}`
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, body)
	}))
	defer server.Close()

	client := llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	ex := exchangeWithParameters(report.Parameters{FEV1FVCRatio: f(65.0), FEV1Percent: f(72.0)})

	interp := NewInterpreter(client, logging.NewNop())
	if err := interp.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := ex.Report.Interpretation
	if got.Source != report.SourceModel {
		t.Fatalf("expected model source, got %q", got.Source)
	}
	if got.Pattern != report.PatternObstructive || got.Severity != report.SeverityModerate {
		t.Fatalf("unexpected interpretation: %+v", got)
	}
	if got.Confidence != 0.92 {
		t.Fatalf("unexpected confidence: %v", got.Confidence)
	}
}

func TestInterpretFallsBackOnModelFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := llm.NewClient(llm.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	ex := exchangeWithParameters(report.Parameters{FEV1FVCRatio: f(60.0), FEV1Percent: f(55.0)})

	interp := NewInterpreter(client, logging.NewNop())
	if err := interp.Execute(context.Background(), ex); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ex.Report.Interpretation.Source != report.SourceRules {
		t.Fatalf("expected rule fallback, got %q", ex.Report.Interpretation.Source)
	}
	if ex.Report.Interpretation.Pattern != report.PatternObstructive {
		t.Fatalf("unexpected pattern: %q", ex.Report.Interpretation.Pattern)
	}
}

func TestConsultReturnsFullClinicalRead(t *testing.T) {
	interp := NewInterpreter(nil, logging.NewNop())
	params := report.Parameters{FEV1: f(1.8), FVC: f(3.5), FEV1FVCRatio: f(60.0), DLCOPercent: f(58.0)}
	attrs := map[string]any{"age": 60.0, "sex": "male", "height_cm": 175.0}

	outParams, clinical, triage, err := interp.Consult(context.Background(), params, attrs)
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if outParams.FEV1Percent == nil {
		t.Fatal("expected derived FEV1 percent of predicted")
	}
	if clinical.Pattern != report.PatternObstructive {
		t.Fatalf("unexpected pattern: %q", clinical.Pattern)
	}
	if !clinical.DiffusionImpairment {
		t.Fatal("expected diffusion impairment from DLCO at 58 percent")
	}
	if triage.Level != report.TriageUrgent {
		t.Fatalf("unexpected triage level: %q", triage.Level)
	}
}

func TestConsultRejectsEmptyParameters(t *testing.T) {
	interp := NewInterpreter(nil, logging.NewNop())
	if _, _, _, err := interp.Consult(context.Background(), report.Parameters{}, nil); err == nil {
		t.Fatal("expected a validation error for an empty consult")
	}
}
