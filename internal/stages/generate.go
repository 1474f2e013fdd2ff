package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pulmo/internal/logging"
	"pulmo/internal/report"
	"pulmo/internal/services"
	"pulmo/internal/services/llm"
)

// Generator writes the narrative report document from the interpretation
// and triage sections. Model-backed when configured, template-based
// otherwise.
type Generator struct {
	client *llm.Client
	logger *slog.Logger
}

// NewGenerator constructs the report generation stage.
func NewGenerator(client *llm.Client, logger *slog.Logger) *Generator {
	return &Generator{client: client, logger: logging.NewComponentLogger(logger, "generate")}
}

func (g *Generator) Name() string { return "reporting" }

// Execute fills in the exchange document.
func (g *Generator) Execute(ctx context.Context, ex *Exchange) error {
	if ex == nil || ex.Request == nil {
		return services.Wrap(services.ErrValidation, "reporting", "execute", "request is nil", nil)
	}
	if ex.Report.Interpretation.Pattern == "" || ex.Report.Triage.Level == "" {
		return services.Wrap(services.ErrValidation, "reporting", "execute", "interpretation and triage required", nil)
	}

	if g.client.Configured() {
		doc, err := g.generateWithModel(ctx, ex)
		if err == nil {
			ex.Report.Document = doc
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("model report generation failed, using template",
			logging.String(logging.FieldRequestID, ex.Request.ID),
			logging.Error(err),
		)
	}

	ex.Report.Document = generateWithTemplate(ex.Report)
	return nil
}

// HealthCheck reports readiness for the report generation stage.
func (g *Generator) HealthCheck(ctx context.Context) Health {
	return Healthy("reporting")
}

type modelDocument struct {
	Summary        string `json:"summary"`
	Findings       string `json:"findings"`
	Recommendation string `json:"recommendation"`
}

func (g *Generator) generateWithModel(ctx context.Context, ex *Exchange) (report.Document, error) {
	var empty report.Document
	interp := ex.Report.Interpretation
	userPrompt := fmt.Sprintf(
		"Parameters: %s\nPattern: %s\nSeverity: %s\nDiffusion impairment: %v\nTriage: %s (%s)",
		formatParameters(ex.Report.Parameters),
		interp.Pattern, interp.Severity, interp.DiffusionImpairment,
		ex.Report.Triage.Level, ex.Report.Triage.Rationale,
	)
	content, err := g.client.CompleteJSON(ctx, documentPrompt, userPrompt)
	if err != nil {
		return empty, err
	}
	var parsed modelDocument
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return empty, fmt.Errorf("parse document payload: %w", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return empty, fmt.Errorf("model returned empty summary")
	}
	return report.Document{
		Summary:        strings.TrimSpace(parsed.Summary),
		Findings:       strings.TrimSpace(parsed.Findings),
		Recommendation: strings.TrimSpace(parsed.Recommendation),
		Source:         report.SourceModel,
	}, nil
}

func generateWithTemplate(rpt report.Report) report.Document {
	interp := rpt.Interpretation
	var summary string
	switch interp.Pattern {
	case report.PatternNormal:
		summary = "Pulmonary function within normal limits."
	case report.PatternMixed:
		summary = fmt.Sprintf("Mixed obstructive and restrictive ventilatory defect, %s.", severityOrUnspecified(interp.Severity))
	default:
		summary = fmt.Sprintf("%s ventilatory defect, %s.",
			strings.ToUpper(interp.Pattern[:1])+interp.Pattern[1:], severityOrUnspecified(interp.Severity))
	}
	if interp.DiffusionImpairment {
		summary += " Diffusion capacity is reduced."
	}

	findings := strings.Join(interp.Findings, ". ")
	if findings != "" {
		findings += "."
	}

	var recommendation string
	switch rpt.Triage.Level {
	case report.TriageCritical:
		recommendation = "Immediate clinical review recommended."
	case report.TriageUrgent:
		recommendation = "Prompt clinical follow-up recommended."
	default:
		recommendation = "Routine follow-up as clinically indicated."
	}

	return report.Document{
		Summary:        summary,
		Findings:       findings,
		Recommendation: recommendation,
		Source:         report.SourceRules,
	}
}

func severityOrUnspecified(severity string) string {
	if strings.TrimSpace(severity) == "" {
		return "severity unspecified"
	}
	return severity
}
