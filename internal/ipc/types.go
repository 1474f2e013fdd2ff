package ipc

import (
	"pulmo/internal/api"
	"pulmo/internal/report"
)

// PingRequest checks daemon liveness.
type PingRequest struct{}

// PingResponse reports liveness.
type PingResponse struct {
	Running bool `json:"running"`
	PID     int  `json:"pid"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// RequestView mirrors the HTTP API request DTO for internal IPC callers.
type RequestView = api.RequestView

// StageHealth describes readiness of a pipeline stage.
type StageHealth = api.StageHealth

// StatusResponse represents combined daemon status information.
type StatusResponse struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	RegistryDBPath string         `json:"registry_db_path"`
	LockPath       string         `json:"lock_path"`
	APIAddr        string         `json:"api_addr"`
	Stats          map[string]int `json:"stats"`
	StageHealth    []StageHealth  `json:"stage_health"`
}

// SubmitRequest admits a diagnostic file already present on disk.
type SubmitRequest struct {
	Path       string         `json:"path"`
	Attributes map[string]any `json:"attributes"`
}

// SubmitResponse carries the admitted request.
type SubmitResponse struct {
	Request RequestView `json:"request"`
}

// ListRequest filters request listing by stage.
type ListRequest struct {
	Stages []string `json:"stages"`
}

// ListResponse contains registry entries.
type ListResponse struct {
	Requests []RequestView `json:"requests"`
}

// DescribeRequest fetches a single request by id.
type DescribeRequest struct {
	ID string `json:"id"`
}

// DescribeResponse contains a single registry entry.
type DescribeResponse struct {
	Request RequestView `json:"request"`
}

// ReportRequest fetches the finished report for a completed request.
type ReportRequest struct {
	ID string `json:"id"`
}

// ReportResponse contains the structured report artifact.
type ReportResponse struct {
	Report report.Report `json:"report"`
}

// ClearRequest removes all requests.
type ClearRequest struct{}

// ClearResponse reports number of removed entries.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ClearFailedRequest removes failed requests.
type ClearFailedRequest struct{}

// ClearFailedResponse reports number of removed entries.
type ClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// ClearCompletedRequest removes completed requests.
type ClearCompletedRequest struct{}

// ClearCompletedResponse reports number of removed entries.
type ClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// HealthRequest fetches aggregate registry diagnostics.
type HealthRequest struct{}

// HealthResponse reports registry health information.
type HealthResponse struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	TableExists      bool     `json:"table_exists"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalRequests    int      `json:"total_requests"`
	Error            string   `json:"error"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
