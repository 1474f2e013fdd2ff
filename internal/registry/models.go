package registry

import (
	"strings"
	"time"
)

// Stage represents the lifecycle of a processing request.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageExtracting   Stage = "extracting"
	StageInterpreting Stage = "interpreting"
	StageTriaging     Stage = "triaging"
	StageReporting    Stage = "reporting"
	StageValidating   Stage = "validating"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// InterruptedReason is the error message set when in-flight requests are
// failed because the daemon restarted underneath them.
const InterruptedReason = "Processing interrupted by daemon restart"

var allStages = []Stage{
	StageQueued,
	StageExtracting,
	StageInterpreting,
	StageTriaging,
	StageReporting,
	StageValidating,
	StageCompleted,
	StageFailed,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// stageRank orders the forward-only pipeline. Failed sits outside the chain
// and is reachable from any non-terminal stage.
var stageRank = map[Stage]int{
	StageQueued:       0,
	StageExtracting:   1,
	StageInterpreting: 2,
	StageTriaging:     3,
	StageReporting:    4,
	StageValidating:   5,
	StageCompleted:    6,
}

// stageProgress maps each stage to the overall completion percentage reported
// once the request reaches it.
var stageProgress = map[Stage]float64{
	StageQueued:       0,
	StageExtracting:   20,
	StageInterpreting: 40,
	StageTriaging:     60,
	StageReporting:    80,
	StageValidating:   95,
	StageCompleted:    100,
}

var processingStages = map[Stage]struct{}{
	StageExtracting:   {},
	StageInterpreting: {},
	StageTriaging:     {},
	StageReporting:    {},
	StageValidating:   {},
}

// Request represents a diagnostic processing request persisted in SQLite.
type Request struct {
	ID             string
	PatientID      string
	FileName       string
	FileType       string
	FileSize       int64
	SourcePath     string
	Stage          Stage
	Progress       float64
	Message        string
	ErrorMessage   string
	ResultRef      string
	AttributesJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	LastHeartbeat  *time.Time
}

// HealthSummary describes aggregated request counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

// DatabaseHealth captures diagnostic information about the registry database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	MissingColumns   []string
	IntegrityCheck   bool
	TotalRequests    int
	Error            string
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// StageProgress returns the overall completion percentage reported once a
// request reaches the given stage.
func StageProgress(stage Stage) float64 {
	return stageProgress[stage]
}

// IsTerminal reports whether a stage admits no further transitions.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsProcessing reports whether a stage reflects an in-flight operation.
func (s Stage) IsProcessing() bool {
	_, ok := processingStages[s]
	return ok
}

// CanTransition reports whether a request may move from s to next. Stages
// advance strictly forward; failed is reachable from any non-terminal stage;
// terminal stages admit nothing.
func (s Stage) CanTransition(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	fromRank, fromOK := stageRank[s]
	toRank, toOK := stageRank[next]
	if !fromOK || !toOK {
		return false
	}
	return toRank == fromRank+1
}

// IsProcessing reports whether the request is actively moving through stages.
func (r Request) IsProcessing() bool {
	return r.Stage.IsProcessing()
}

// IsTerminal reports whether the request reached a terminal stage.
func (r Request) IsTerminal() bool {
	return r.Stage.IsTerminal()
}

// Clone returns an independent copy so callers can hand snapshots to
// subscribers without sharing mutable state.
func (r Request) Clone() Request {
	cp := r
	if r.CompletedAt != nil {
		done := *r.CompletedAt
		cp.CompletedAt = &done
	}
	if r.LastHeartbeat != nil {
		hb := *r.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	return cp
}

// SetProgress updates the progress fields together. Progress never moves
// backwards; a lower value is ignored.
func (r *Request) SetProgress(stage Stage, message string, percent float64) {
	r.Stage = stage
	r.Message = message
	if percent > r.Progress {
		r.Progress = percent
	}
}

// SetCompleted marks the request as completed with a reference to the stored
// report artifact.
func (r *Request) SetCompleted(resultRef string) {
	now := time.Now().UTC()
	r.Stage = StageCompleted
	r.ResultRef = resultRef
	r.Progress = stageProgress[StageCompleted]
	r.Message = "Report ready"
	r.ErrorMessage = ""
	r.CompletedAt = &now
	r.LastHeartbeat = nil
}

// SetFailed marks the request as failed with the given error message.
// Progress freezes at its current value and the heartbeat is cleared.
func (r *Request) SetFailed(message string) {
	now := time.Now().UTC()
	r.Stage = StageFailed
	r.ErrorMessage = message
	r.Message = message
	r.ResultRef = ""
	r.CompletedAt = &now
	r.LastHeartbeat = nil
}
