package stages

import (
	"math"
	"strconv"
	"strings"

	"pulmo/internal/report"
)

// demographics are the submission attributes the reference equations need.
// Height is in centimeters, matching the intake schema.
type demographics struct {
	Age      float64
	HeightCM float64
	Male     bool
}

// demographicsFromAttributes pulls age, sex and height out of the decoded
// submission attributes. It returns ok only when all three are usable; the
// equations are fitted for adults, so ages under 18 are not accepted.
func demographicsFromAttributes(attrs map[string]any) (demographics, bool) {
	d := demographics{}
	age, ok := attributeNumber(attrs["age"])
	if !ok || age < 18 || age > 130 {
		return d, false
	}
	height, ok := attributeNumber(attrs["height_cm"])
	if !ok || height < 100 || height > 250 {
		return d, false
	}
	sex, _ := attrs["sex"].(string)
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "male":
		d.Male = true
	case "female":
		d.Male = false
	default:
		return d, false
	}
	d.Age = age
	d.HeightCM = height
	return d, true
}

func attributeNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// predictedNormals returns the expected adult values from the ECSC summary
// equations, keyed on height in meters and age in years. Volumes are liters,
// DLCO is mL/min/mmHg (the ECSC TLCO coefficients scaled from SI units).
func predictedNormals(d demographics) report.Parameters {
	h := d.HeightCM / 100
	a := d.Age
	p := report.Parameters{}
	if d.Male {
		p.FVC = ptr(5.76*h - 0.026*a - 4.34)
		p.FEV1 = ptr(4.30*h - 0.029*a - 2.49)
		p.TLC = ptr(7.99*h - 7.08)
		p.RV = ptr(1.31*h + 0.022*a - 1.23)
		p.DLCO = ptr((11.11*h - 0.066*a - 6.03) * 2.986)
	} else {
		p.FVC = ptr(4.43*h - 0.026*a - 2.89)
		p.FEV1 = ptr(3.95*h - 0.025*a - 2.60)
		p.TLC = ptr(6.60*h - 5.79)
		p.RV = ptr(1.81*h + 0.016*a - 2.00)
		p.DLCO = ptr((8.18*h - 0.049*a - 2.74) * 2.986)
	}
	return p
}

func ptr(v float64) *float64 { return &v }

// applyPredicted fills in missing percent-of-predicted values from the
// reference equations when the measured value is present and the submission
// carried enough demographics. Percentages already on the upload win.
func applyPredicted(params *report.Parameters, attrs map[string]any) bool {
	d, ok := demographicsFromAttributes(attrs)
	if !ok {
		return false
	}
	normals := predictedNormals(d)
	applied := false
	fill := func(measured, predicted *float64, percent **float64) {
		if measured == nil || predicted == nil || *percent != nil || *predicted <= 0 {
			return
		}
		pct := math.Round(*measured / *predicted * 1000) / 10
		*percent = &pct
		applied = true
	}
	fill(params.FVC, normals.FVC, &params.FVCPercent)
	fill(params.FEV1, normals.FEV1, &params.FEV1Percent)
	fill(params.TLC, normals.TLC, &params.TLCPercent)
	fill(params.RV, normals.RV, &params.RVPercent)
	fill(params.DLCO, normals.DLCO, &params.DLCOPercent)
	return applied
}

// corePanel lists the measurements a complete test supplies, in report order.
var corePanel = []struct {
	name  string
	value func(report.Parameters) *float64
}{
	{"fvc", func(p report.Parameters) *float64 { return p.FVC }},
	{"fev1", func(p report.Parameters) *float64 { return p.FEV1 }},
	{"fev1_fvc_ratio", func(p report.Parameters) *float64 { return p.FEV1FVCRatio }},
	{"pef", func(p report.Parameters) *float64 { return p.PEF }},
	{"fef25_75", func(p report.Parameters) *float64 { return p.FEF2575 }},
	{"tlc", func(p report.Parameters) *float64 { return p.TLC }},
	{"rv", func(p report.Parameters) *float64 { return p.RV }},
	{"dlco", func(p report.Parameters) *float64 { return p.DLCO }},
}

// assessQuality scores completeness against the full measurement panel and
// grades it on the 80/60/40 ladder.
func assessQuality(params report.Parameters) report.Quality {
	q := report.Quality{}
	present := 0
	for _, item := range corePanel {
		if item.value(params) != nil {
			present++
		} else {
			q.Missing = append(q.Missing, item.name)
		}
	}
	q.Completeness = math.Round(float64(present)/float64(len(corePanel))*1000) / 10
	switch {
	case q.Completeness >= 80:
		q.Grade = report.QualityExcellent
	case q.Completeness >= 60:
		q.Grade = report.QualityGood
	case q.Completeness >= 40:
		q.Grade = report.QualityFair
	default:
		q.Grade = report.QualityPoor
	}
	if q.Completeness <= 50 {
		q.Issues = append(q.Issues, "low data completeness")
	}
	return q
}
