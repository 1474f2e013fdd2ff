package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pulmo/internal/config"
	"pulmo/internal/logging"
	"pulmo/internal/report"
	"pulmo/internal/services"
)

// Validator scores the assembled report before release. A report that falls
// below the configured quality floor fails the request rather than shipping
// a document a clinician cannot trust.
type Validator struct {
	quality config.Quality
	logger  *slog.Logger
}

// NewValidator constructs the validation stage.
func NewValidator(quality config.Quality, logger *slog.Logger) *Validator {
	return &Validator{quality: quality, logger: logging.NewComponentLogger(logger, "validate")}
}

func (v *Validator) Name() string { return "validating" }

// Execute scores the report and records the verdict on the exchange.
func (v *Validator) Execute(ctx context.Context, ex *Exchange) error {
	if ex == nil || ex.Request == nil {
		return services.Wrap(services.ErrValidation, "validating", "execute", "request is nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	verdict := scoreReport(ex.Report, v.quality)
	ex.Report.Validation = verdict

	if !verdict.Passed {
		detail := fmt.Sprintf("report quality score %.1f below %.1f: %s",
			verdict.Score, v.quality.MinReportScore, strings.Join(verdict.Issues, "; "))
		return services.Wrap(services.ErrValidation, "validating", "score", detail, nil)
	}

	v.logger.Info("report validated",
		logging.String(logging.FieldRequestID, ex.Request.ID),
		logging.Float64("score", verdict.Score),
	)
	return nil
}

// HealthCheck reports readiness for the validation stage.
func (v *Validator) HealthCheck(ctx context.Context) Health {
	return Healthy("validating")
}

// scoreReport starts from a perfect ten and deducts for gaps a reviewing
// clinician would reject: sparse parameters, a missing pattern or summary,
// low interpretation confidence, no recommendation.
func scoreReport(rpt report.Report, quality config.Quality) report.Validation {
	verdict := report.Validation{Score: 10}
	deduct := func(points float64, issue string) {
		verdict.Score -= points
		verdict.Issues = append(verdict.Issues, issue)
	}

	if count := rpt.Parameters.Count(); count < 3 {
		deduct(2, fmt.Sprintf("only %d parameter(s) extracted", count))
	}
	if rpt.Interpretation.Pattern == "" {
		deduct(3, "no interpretation pattern")
	}
	if rpt.Interpretation.Confidence < quality.MinInterpretationConfidence {
		deduct(2, fmt.Sprintf("interpretation confidence %.2f below %.2f",
			rpt.Interpretation.Confidence, quality.MinInterpretationConfidence))
	}
	if strings.TrimSpace(rpt.Document.Summary) == "" {
		deduct(3, "empty report summary")
	}
	if strings.TrimSpace(rpt.Document.Recommendation) == "" {
		deduct(1, "no recommendation")
	}
	if rpt.Triage.Level == "" {
		deduct(2, "no triage level")
	}

	if verdict.Score < 0 {
		verdict.Score = 0
	}
	verdict.Passed = verdict.Score >= quality.MinReportScore
	return verdict
}
