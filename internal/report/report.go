package report

import "time"

// Parameters holds the measured and predicted pulmonary function values
// pulled out of an uploaded test. Pointers distinguish a missing value from
// a measured zero.
type Parameters struct {
	FVC          *float64 `json:"fvc,omitempty"`
	FVCPercent   *float64 `json:"fvc_percent,omitempty"`
	FEV1         *float64 `json:"fev1,omitempty"`
	FEV1Percent  *float64 `json:"fev1_percent,omitempty"`
	FEV1FVCRatio *float64 `json:"fev1_fvc_ratio,omitempty"`
	TLC          *float64 `json:"tlc,omitempty"`
	TLCPercent   *float64 `json:"tlc_percent,omitempty"`
	RV           *float64 `json:"rv,omitempty"`
	RVPercent    *float64 `json:"rv_percent,omitempty"`
	DLCO         *float64 `json:"dlco,omitempty"`
	DLCOPercent  *float64 `json:"dlco_percent,omitempty"`
	PEF          *float64 `json:"pef,omitempty"`
	FEF2575      *float64 `json:"fef25_75,omitempty"`
}

// Count returns the number of populated values.
func (p Parameters) Count() int {
	count := 0
	for _, v := range []*float64{
		p.FVC, p.FVCPercent, p.FEV1, p.FEV1Percent, p.FEV1FVCRatio,
		p.TLC, p.TLCPercent, p.RV, p.RVPercent, p.DLCO, p.DLCOPercent,
		p.PEF, p.FEF2575,
	} {
		if v != nil {
			count++
		}
	}
	return count
}

// Quality grades how much of the full measurement panel the upload supplied.
type Quality struct {
	Completeness float64  `json:"completeness"`
	Grade        string   `json:"grade"`
	Missing      []string `json:"missing,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// Quality grades ordered best to worst.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// Interpretation captures the clinical pattern read from the parameters.
type Interpretation struct {
	Pattern             string   `json:"pattern"`
	Severity            string   `json:"severity,omitempty"`
	DiffusionImpairment bool     `json:"diffusion_impairment"`
	Findings            []string `json:"findings,omitempty"`
	Confidence          float64  `json:"confidence"`
	Source              string   `json:"source"`
}

// Triage captures the urgency assessment derived from the interpretation.
type Triage struct {
	Level     string `json:"level"`
	Rationale string `json:"rationale,omitempty"`
	Source    string `json:"source"`
}

// Document is the narrative report produced for clinicians.
type Document struct {
	Summary        string `json:"summary"`
	Findings       string `json:"findings,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Source         string `json:"source"`
}

// Validation records the quality check applied before a report is released.
type Validation struct {
	Score  float64  `json:"score"`
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// Triage levels ordered by urgency.
const (
	TriageRoutine  = "routine"
	TriageUrgent   = "urgent"
	TriageCritical = "critical"
)

// Interpretation patterns.
const (
	PatternNormal      = "normal"
	PatternObstructive = "obstructive"
	PatternRestrictive = "restrictive"
	PatternMixed       = "mixed"
)

// Severity grades for obstructive and restrictive patterns.
const (
	SeverityMild       = "mild"
	SeverityModerate   = "moderate"
	SeverityModSevere  = "moderately severe"
	SeveritySevere     = "severe"
	SeverityVerySevere = "very severe"
)

// Sources identify whether a section came from the model or the rule engine.
const (
	SourceModel = "model"
	SourceRules = "rules"
)

// Report is the finished artifact persisted once a request completes.
type Report struct {
	RequestID      string         `json:"request_id"`
	PatientID      string         `json:"patient_id,omitempty"`
	FileName       string         `json:"file_name"`
	Parameters     Parameters     `json:"parameters"`
	Quality        Quality        `json:"quality"`
	Interpretation Interpretation `json:"interpretation"`
	Triage         Triage         `json:"triage"`
	Document       Document       `json:"document"`
	Validation     Validation     `json:"validation"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
