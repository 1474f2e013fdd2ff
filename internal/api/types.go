package api

import "pulmo/internal/report"

// RequestView describes a processing request in a transport-friendly format.
type RequestView struct {
	ID           string       `json:"id"`
	PatientID    string       `json:"patientId,omitempty"`
	FileName     string       `json:"fileName"`
	FileType     string       `json:"fileType"`
	FileSize     int64        `json:"fileSize"`
	Stage        string       `json:"stage"`
	Progress     ProgressView `json:"progress"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	ResultRef    string       `json:"resultRef,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
	CompletedAt  string       `json:"completedAt,omitempty"`
}

// ProgressView captures stage progress for a request.
type ProgressView struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	RegistryDBPath string         `json:"registryDbPath"`
	LockFilePath   string         `json:"lockFilePath"`
	Stats          map[string]int `json:"stats"`
	StageHealth    []StageHealth  `json:"stageHealth"`
}

// RequestListResponse wraps a collection of requests for API responses.
type RequestListResponse struct {
	Requests []RequestView `json:"requests"`
}

// RequestResponse wraps a single request.
type RequestResponse struct {
	Request RequestView `json:"request"`
}

// InterpretRequest carries measurements for a synchronous clinical read.
// Attributes use the same vocabulary as submission attributes, so age, sex
// and height_cm drive the predicted-value derivation.
type InterpretRequest struct {
	Parameters report.Parameters `json:"parameters"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// InterpretResponse returns the interpreted values. Parameters echo the
// input with any derived percent-of-predicted values filled in.
type InterpretResponse struct {
	Parameters     report.Parameters     `json:"parameters"`
	Interpretation report.Interpretation `json:"interpretation"`
	Triage         report.Triage         `json:"triage"`
}

// StatsResponse provides a normalized registry stats payload.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}
