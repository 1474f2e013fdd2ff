package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pulmo/internal/logging"
	"pulmo/internal/report"
	"pulmo/internal/services"
	"pulmo/internal/services/llm"
)

// Triager assigns the urgency level a clinician should treat the result
// with. Model-backed when configured, rule-based otherwise.
type Triager struct {
	client *llm.Client
	logger *slog.Logger
}

// NewTriager constructs the triage stage.
func NewTriager(client *llm.Client, logger *slog.Logger) *Triager {
	return &Triager{client: client, logger: logging.NewComponentLogger(logger, "triage")}
}

func (t *Triager) Name() string { return "triaging" }

// Execute fills in the exchange triage assessment.
func (t *Triager) Execute(ctx context.Context, ex *Exchange) error {
	if ex == nil || ex.Request == nil {
		return services.Wrap(services.ErrValidation, "triaging", "execute", "request is nil", nil)
	}
	if ex.Report.Interpretation.Pattern == "" {
		return services.Wrap(services.ErrValidation, "triaging", "execute", "no interpretation to triage", nil)
	}

	if t.client.Configured() {
		triage, err := t.triageWithModel(ctx, ex)
		if err == nil {
			ex.Report.Triage = triage
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("model triage failed, using rule engine",
			logging.String(logging.FieldRequestID, ex.Request.ID),
			logging.Error(err),
		)
	}

	ex.Report.Triage = triageWithRules(ex.Report.Interpretation)
	return nil
}

// HealthCheck reports readiness for the triage stage.
func (t *Triager) HealthCheck(ctx context.Context) Health {
	return Healthy("triaging")
}

type modelTriage struct {
	Level     string `json:"level"`
	Rationale string `json:"rationale"`
}

func (t *Triager) triageWithModel(ctx context.Context, ex *Exchange) (report.Triage, error) {
	var empty report.Triage
	interp := ex.Report.Interpretation
	userPrompt := fmt.Sprintf(
		"Pattern: %s\nSeverity: %s\nDiffusion impairment: %v\nFindings: %s",
		interp.Pattern, interp.Severity, interp.DiffusionImpairment,
		strings.Join(interp.Findings, "; "),
	)
	content, err := t.client.CompleteJSON(ctx, triagePrompt, userPrompt)
	if err != nil {
		return empty, err
	}
	var parsed modelTriage
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return empty, fmt.Errorf("parse triage payload: %w", err)
	}
	level := strings.ToLower(strings.TrimSpace(parsed.Level))
	switch level {
	case report.TriageRoutine, report.TriageUrgent, report.TriageCritical:
	default:
		return empty, fmt.Errorf("unknown triage level %q in model response", parsed.Level)
	}
	return report.Triage{
		Level:     level,
		Rationale: strings.TrimSpace(parsed.Rationale),
		Source:    report.SourceModel,
	}, nil
}

// triageWithRules grades urgency off the interpreted severity: very severe
// impairment is critical, severe or moderately severe impairment (or any
// impairment with a diffusion defect) is urgent, everything else routine.
func triageWithRules(interp report.Interpretation) report.Triage {
	triage := report.Triage{Level: report.TriageRoutine, Source: report.SourceRules}

	switch interp.Severity {
	case report.SeverityVerySevere:
		triage.Level = report.TriageCritical
		triage.Rationale = "Very severe ventilatory impairment"
	case report.SeveritySevere, report.SeverityModSevere:
		triage.Level = report.TriageUrgent
		triage.Rationale = fmt.Sprintf("%s %s pattern", cases.Title(language.English).String(interp.Severity), interp.Pattern)
	default:
		if interp.Pattern != report.PatternNormal && interp.DiffusionImpairment {
			triage.Level = report.TriageUrgent
			triage.Rationale = "Ventilatory defect with impaired diffusion"
		} else if interp.Pattern != report.PatternNormal {
			triage.Rationale = fmt.Sprintf("Stable %s pattern", interp.Pattern)
		} else {
			triage.Rationale = "No significant abnormality"
		}
	}
	return triage
}
