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

// Thresholds for the rule-based interpretation path. Ratio and percents are
// percent-of-predicted values.
const (
	obstructionRatioThreshold = 70.0
	restrictionFVCThreshold   = 80.0
	diffusionDLCOThreshold    = 75.0
)

// Interpreter reads the clinical pattern out of the extracted parameters.
// With a configured model it asks for a structured interpretation and falls
// back to the rule engine on any failure; without one it goes straight to
// the rules.
type Interpreter struct {
	client *llm.Client
	logger *slog.Logger
}

// NewInterpreter constructs the interpretation stage.
func NewInterpreter(client *llm.Client, logger *slog.Logger) *Interpreter {
	return &Interpreter{client: client, logger: logging.NewComponentLogger(logger, "interpret")}
}

func (i *Interpreter) Name() string { return "interpreting" }

// Execute fills in the exchange interpretation.
func (i *Interpreter) Execute(ctx context.Context, ex *Exchange) error {
	if ex == nil || ex.Request == nil {
		return services.Wrap(services.ErrValidation, "interpreting", "execute", "request is nil", nil)
	}
	interp, err := i.interpret(ctx, ex.Report.Parameters, ex.Attributes, ex.Request.ID)
	if err != nil {
		return err
	}
	ex.Report.Interpretation = interp
	return nil
}

// Consult interprets caller-supplied values synchronously, outside any
// pipeline run. Missing percent-of-predicted values are derived from the
// demographics first, and the rule-based triage grade rides along so the
// caller gets a complete clinical read.
func (i *Interpreter) Consult(ctx context.Context, params report.Parameters, attrs map[string]any) (report.Parameters, report.Interpretation, report.Triage, error) {
	applyPredicted(&params, attrs)
	interp, err := i.interpret(ctx, params, attrs, "")
	if err != nil {
		return params, report.Interpretation{}, report.Triage{}, err
	}
	return params, interp, triageWithRules(interp), nil
}

func (i *Interpreter) interpret(ctx context.Context, params report.Parameters, attrs map[string]any, requestID string) (report.Interpretation, error) {
	if params.Count() == 0 {
		return report.Interpretation{}, services.Wrap(services.ErrValidation, "interpreting", "execute", "no parameters to interpret", nil)
	}

	if i.client.Configured() {
		interp, err := i.interpretWithModel(ctx, params, attrs)
		if err == nil {
			return interp, nil
		}
		if ctx.Err() != nil {
			return report.Interpretation{}, ctx.Err()
		}
		i.logger.Warn("model interpretation failed, using rule engine",
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
		)
	}
	return interpretWithRules(params), nil
}

// HealthCheck reports readiness; the rule fallback keeps the stage ready
// even without a model.
func (i *Interpreter) HealthCheck(ctx context.Context) Health {
	return Healthy("interpreting")
}

type modelInterpretation struct {
	Pattern             string   `json:"pattern"`
	Severity            string   `json:"severity"`
	DiffusionImpairment bool     `json:"diffusion_impairment"`
	Findings            []string `json:"findings"`
	Confidence          float64  `json:"confidence"`
}

func (i *Interpreter) interpretWithModel(ctx context.Context, params report.Parameters, attrs map[string]any) (report.Interpretation, error) {
	var empty report.Interpretation
	userPrompt := fmt.Sprintf("Parameters: %s", formatParameters(params))
	if len(attrs) > 0 {
		userPrompt += fmt.Sprintf("\nPatient context: %v", attrs)
	}
	content, err := i.client.CompleteJSON(ctx, interpretationPrompt, userPrompt)
	if err != nil {
		return empty, err
	}
	var parsed modelInterpretation
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return empty, fmt.Errorf("parse interpretation payload: %w", err)
	}
	pattern := strings.ToLower(strings.TrimSpace(parsed.Pattern))
	switch pattern {
	case report.PatternNormal, report.PatternObstructive, report.PatternRestrictive, report.PatternMixed:
	default:
		return empty, fmt.Errorf("unknown pattern %q in model response", parsed.Pattern)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return report.Interpretation{
		Pattern:             pattern,
		Severity:            strings.ToLower(strings.TrimSpace(parsed.Severity)),
		DiffusionImpairment: parsed.DiffusionImpairment,
		Findings:            parsed.Findings,
		Confidence:          parsed.Confidence,
		Source:              report.SourceModel,
	}, nil
}

// interpretWithRules applies the conventional spirometry decision tree:
// a reduced FEV1/FVC ratio marks obstruction, a reduced FVC percent marks
// restriction, both together mark a mixed pattern. Severity grades off the
// FEV1 percent of predicted and DLCO percent flags diffusion impairment.
func interpretWithRules(p report.Parameters) report.Interpretation {
	interp := report.Interpretation{
		Pattern:    report.PatternNormal,
		Confidence: 0.85,
		Source:     report.SourceRules,
	}

	obstructed := p.FEV1FVCRatio != nil && *p.FEV1FVCRatio < obstructionRatioThreshold
	restricted := p.FVCPercent != nil && *p.FVCPercent < restrictionFVCThreshold

	switch {
	case obstructed && restricted:
		interp.Pattern = report.PatternMixed
	case obstructed:
		interp.Pattern = report.PatternObstructive
	case restricted:
		interp.Pattern = report.PatternRestrictive
	}

	if interp.Pattern != report.PatternNormal && p.FEV1Percent != nil {
		interp.Severity = severityForFEV1(*p.FEV1Percent)
		interp.Findings = append(interp.Findings,
			fmt.Sprintf("FEV1 %.0f%% of predicted", *p.FEV1Percent))
	}
	if obstructed {
		interp.Findings = append(interp.Findings,
			fmt.Sprintf("FEV1/FVC ratio %.1f below %.0f", *p.FEV1FVCRatio, obstructionRatioThreshold))
	}
	if restricted {
		interp.Findings = append(interp.Findings,
			fmt.Sprintf("FVC %.0f%% of predicted", *p.FVCPercent))
	}
	if p.DLCOPercent != nil && *p.DLCOPercent < diffusionDLCOThreshold {
		interp.DiffusionImpairment = true
		interp.Findings = append(interp.Findings,
			fmt.Sprintf("DLCO %.0f%% of predicted indicates impaired diffusion", *p.DLCOPercent))
	}
	if interp.Pattern == report.PatternNormal && len(interp.Findings) == 0 {
		interp.Findings = append(interp.Findings, "Spirometry within normal limits")
	}
	return interp
}

func severityForFEV1(pct float64) string {
	switch {
	case pct >= 80:
		return report.SeverityMild
	case pct >= 70:
		return report.SeverityModerate
	case pct >= 50:
		return report.SeverityModSevere
	case pct >= 30:
		return report.SeveritySevere
	default:
		return report.SeverityVerySevere
	}
}
