package stages

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"pulmo/internal/logging"
	"pulmo/internal/report"
	"pulmo/internal/services"
)

// Extractor reads the staged upload and pulls the pulmonary function values
// out of it. Plain-text formats are scanned line by line; JSON uploads may
// carry the values directly; binary formats get a printable-text salvage
// pass before scanning.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor constructs the extraction stage.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logging.NewComponentLogger(logger, "extract")}
}

func (e *Extractor) Name() string { return "extracting" }

// Execute reads the source file and populates the exchange parameters.
func (e *Extractor) Execute(ctx context.Context, ex *Exchange) error {
	if ex == nil || ex.Request == nil {
		return services.Wrap(services.ErrValidation, "extracting", "execute", "request is nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sourcePath := strings.TrimSpace(ex.Request.SourcePath)
	if sourcePath == "" {
		return services.Wrap(services.ErrValidation, "extracting", "execute", "no staged file for request", nil)
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "extracting", "read file", "failed to read staged upload", err)
	}
	if len(data) == 0 {
		return services.Wrap(services.ErrValidation, "extracting", "read file", "staged upload is empty", nil)
	}

	text := decodeUpload(data, ex.Request.FileType)
	ex.RawText = text

	params := report.Parameters{}
	switch {
	case strings.EqualFold(ex.Request.FileType, "json"):
		params = parametersFromJSON(data)
	case strings.EqualFold(ex.Request.FileType, "csv"):
		params = parametersFromCSV(text)
	}
	if params.Count() == 0 {
		params = scanParameters(text)
	}
	if params.Count() == 0 {
		return services.Wrap(services.ErrValidation, "extracting", "parse",
			"no pulmonary function values found in upload", nil)
	}
	if params.FEV1 == nil && params.FEV1Percent == nil && params.FVC == nil && params.FVCPercent == nil {
		return services.Wrap(services.ErrValidation, "extracting", "parse",
			"upload lacks spirometry values (FEV1/FVC)", nil)
	}

	derived := applyPredicted(&params, ex.Attributes)
	ex.Report.Parameters = params
	ex.Report.Quality = assessQuality(params)
	e.logger.Info("parameters extracted",
		logging.String(logging.FieldRequestID, ex.Request.ID),
		logging.Int("values", params.Count()),
		logging.String("file_type", ex.Request.FileType),
		logging.String("quality", ex.Report.Quality.Grade),
		logging.Bool("predicted_applied", derived),
	)
	return nil
}

// HealthCheck reports readiness for the extraction stage.
func (e *Extractor) HealthCheck(ctx context.Context) Health {
	return Healthy("extracting")
}

// decodeUpload converts raw upload bytes into scannable text. Text formats
// pass through; anything else keeps only printable runs so embedded value
// tables in PDF or spreadsheet exports still surface.
func decodeUpload(data []byte, fileType string) string {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "txt", "csv", "xml", "json", "":
		return string(data)
	default:
		return salvagePrintable(data)
	}
}

func salvagePrintable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) / 2)
	run := 0
	var pending []byte
	for _, c := range data {
		r := rune(c)
		if r == '\n' || r == '\t' || (unicode.IsPrint(r) && r < 128) {
			pending = append(pending, c)
			run++
			continue
		}
		// Keep only runs long enough to be real text, not structure bytes.
		if run >= 4 {
			b.Write(pending)
			b.WriteByte('\n')
		}
		pending = pending[:0]
		run = 0
	}
	if run >= 4 {
		b.Write(pending)
	}
	return b.String()
}

var jsonParameterKeys = map[string]func(*report.Parameters, float64){
	"fvc":            func(p *report.Parameters, v float64) { p.FVC = &v },
	"fvc_percent":    func(p *report.Parameters, v float64) { p.FVCPercent = &v },
	"fev1":           func(p *report.Parameters, v float64) { p.FEV1 = &v },
	"fev1_percent":   func(p *report.Parameters, v float64) { p.FEV1Percent = &v },
	"fev1_fvc_ratio": func(p *report.Parameters, v float64) { p.FEV1FVCRatio = &v },
	"fev1_fvc":       func(p *report.Parameters, v float64) { p.FEV1FVCRatio = &v },
	"tlc":            func(p *report.Parameters, v float64) { p.TLC = &v },
	"tlc_percent":    func(p *report.Parameters, v float64) { p.TLCPercent = &v },
	"rv":             func(p *report.Parameters, v float64) { p.RV = &v },
	"rv_percent":     func(p *report.Parameters, v float64) { p.RVPercent = &v },
	"dlco":           func(p *report.Parameters, v float64) { p.DLCO = &v },
	"dlco_percent":   func(p *report.Parameters, v float64) { p.DLCOPercent = &v },
	"pef":            func(p *report.Parameters, v float64) { p.PEF = &v },
	"fef25_75":       func(p *report.Parameters, v float64) { p.FEF2575 = &v },
	"fef25-75":       func(p *report.Parameters, v float64) { p.FEF2575 = &v },
}

func parametersFromJSON(data []byte) report.Parameters {
	params := report.Parameters{}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return params
	}
	if nested, ok := payload["parameters"].(map[string]any); ok {
		payload = nested
	}
	for key, raw := range payload {
		setter, ok := jsonParameterKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			setter(&params, v)
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				setter(&params, parsed)
			}
		}
	}
	return params
}

// parametersFromCSV reads a header row and the first record under it.
// Column names follow the same vocabulary as JSON uploads, so "FEV1" and
// "fev1_percent" both resolve; unknown columns are ignored.
func parametersFromCSV(text string) report.Parameters {
	params := report.Parameters{}
	reader := csv.NewReader(strings.NewReader(text))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return params
	}
	record, err := reader.Read()
	if err != nil {
		return params
	}
	for i, name := range header {
		if i >= len(record) {
			break
		}
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, "/", "_")
		setter, ok := jsonParameterKeys[key]
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64); err == nil {
			setter(&params, v)
		}
	}
	return params
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

type lineTarget struct {
	prefix string
	assign func(*report.Parameters, []float64)
}

// Value lines usually read "NAME (unit) measured predicted %predicted".
// The first number is the measurement; with three or more the last is the
// percent of predicted. The FEV1/FVC ratio is already a percentage.
var lineTargets = []lineTarget{
	{"FEV1/FVC", func(p *report.Parameters, f []float64) {
		if len(f) > 0 && p.FEV1FVCRatio == nil {
			p.FEV1FVCRatio = &f[0]
		}
	}},
	{"FEV1", func(p *report.Parameters, f []float64) {
		assignMeasuredPercent(&p.FEV1, &p.FEV1Percent, f)
	}},
	{"FVC", func(p *report.Parameters, f []float64) {
		assignMeasuredPercent(&p.FVC, &p.FVCPercent, f)
	}},
	{"TLC", func(p *report.Parameters, f []float64) {
		assignMeasuredPercent(&p.TLC, &p.TLCPercent, f)
	}},
	{"RV/TLC", func(p *report.Parameters, f []float64) {}},
	{"PEF", func(p *report.Parameters, f []float64) {
		if len(f) > 0 && p.PEF == nil {
			p.PEF = &f[0]
		}
	}},
	{"FEF25-75", func(p *report.Parameters, f []float64) {
		if len(f) > 0 && p.FEF2575 == nil {
			p.FEF2575 = &f[0]
		}
	}},
	{"RV", func(p *report.Parameters, f []float64) {
		assignMeasuredPercent(&p.RV, &p.RVPercent, f)
	}},
	{"DLCO", func(p *report.Parameters, f []float64) {
		assignMeasuredPercent(&p.DLCO, &p.DLCOPercent, f)
	}},
}

func assignMeasuredPercent(measured, percent **float64, f []float64) {
	if len(f) == 0 {
		return
	}
	if *measured == nil {
		v := f[0]
		*measured = &v
	}
	if len(f) >= 3 && *percent == nil {
		v := f[len(f)-1]
		*percent = &v
	}
}

func scanParameters(text string) report.Parameters {
	params := report.Parameters{}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.ToUpper(strings.TrimSpace(line))
		if trimmed == "" {
			continue
		}
		for _, target := range lineTargets {
			if !strings.HasPrefix(trimmed, target.prefix) {
				continue
			}
			// Strip the name and unit annotation before collecting numbers so
			// "FEV1 (L)" does not contribute stray digits.
			rest := trimmed[len(target.prefix):]
			if idx := strings.Index(rest, ")"); idx >= 0 && strings.Contains(rest[:idx+1], "(") {
				rest = rest[idx+1:]
			}
			matches := numberPattern.FindAllString(rest, -1)
			values := make([]float64, 0, len(matches))
			for _, m := range matches {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					values = append(values, v)
				}
			}
			target.assign(&params, values)
			break
		}
	}
	return params
}

func formatParameters(p report.Parameters) string {
	var parts []string
	add := func(name string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.1f", name, *v))
		}
	}
	add("FVC", p.FVC)
	add("FVC%pred", p.FVCPercent)
	add("FEV1", p.FEV1)
	add("FEV1%pred", p.FEV1Percent)
	add("FEV1/FVC", p.FEV1FVCRatio)
	add("TLC", p.TLC)
	add("TLC%pred", p.TLCPercent)
	add("RV", p.RV)
	add("RV%pred", p.RVPercent)
	add("DLCO", p.DLCO)
	add("DLCO%pred", p.DLCOPercent)
	add("PEF", p.PEF)
	add("FEF25-75", p.FEF2575)
	return strings.Join(parts, ", ")
}
