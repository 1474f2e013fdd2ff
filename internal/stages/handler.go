package stages

import (
	"context"
	"encoding/json"
	"strings"

	"pulmo/internal/registry"
	"pulmo/internal/report"
)

// Exchange carries a request and its accumulating analysis through the
// pipeline. Each stage reads the sections earlier stages filled in and adds
// its own.
type Exchange struct {
	Request    *registry.Request
	RawText    string
	Attributes map[string]any
	Report     report.Report
}

// NewExchange seeds an exchange for the given request, decoding any
// submission attributes.
func NewExchange(req *registry.Request) *Exchange {
	ex := &Exchange{Request: req}
	if req != nil {
		ex.Report.RequestID = req.ID
		ex.Report.PatientID = req.PatientID
		ex.Report.FileName = req.FileName
		if raw := strings.TrimSpace(req.AttributesJSON); raw != "" {
			var attrs map[string]any
			if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
				ex.Attributes = attrs
			}
		}
	}
	return ex
}

// Handler describes the contract the pipeline needs from each stage.
type Handler interface {
	Name() string
	Execute(ctx context.Context, ex *Exchange) error
	HealthCheck(ctx context.Context) Health
}
