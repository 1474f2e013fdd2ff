package api

import (
	"sort"
	"time"

	"pulmo/internal/registry"
)

// FromRequest converts a registry request into its API representation.
func FromRequest(req *registry.Request) RequestView {
	if req == nil {
		return RequestView{}
	}
	view := RequestView{
		ID:           req.ID,
		PatientID:    req.PatientID,
		FileName:     req.FileName,
		FileType:     req.FileType,
		FileSize:     req.FileSize,
		Stage:        string(req.Stage),
		ErrorMessage: req.ErrorMessage,
		ResultRef:    req.ResultRef,
		Progress: ProgressView{
			Stage:   string(req.Stage),
			Percent: req.Progress,
			Message: req.Message,
		},
	}
	if !req.CreatedAt.IsZero() {
		view.CreatedAt = req.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !req.UpdatedAt.IsZero() {
		view.UpdatedAt = req.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if req.CompletedAt != nil {
		view.CompletedAt = req.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}

// FromRequests converts a slice of registry requests.
func FromRequests(reqs []*registry.Request) []RequestView {
	if len(reqs) == 0 {
		return nil
	}
	views := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		if req == nil {
			continue
		}
		views = append(views, FromRequest(req))
	}
	return views
}

// MergeStats normalizes registry stage counts so every stage appears in the
// payload, including zeroes.
func MergeStats(stats map[registry.Stage]int) map[string]int {
	merged := make(map[string]int, len(registry.AllStages()))
	for _, stage := range registry.AllStages() {
		merged[string(stage)] = stats[stage]
	}
	return merged
}

// SortRequestsNewestFirst orders requests by CreatedAt descending, breaking
// ties by id so the order is stable.
func SortRequestsNewestFirst(views []RequestView) []RequestView {
	if len(views) == 0 {
		return nil
	}
	sorted := make([]RequestView, len(views))
	copy(sorted, views)
	sort.Slice(sorted, func(i, j int) bool {
		ti := parseRequestTime(sorted[i].CreatedAt)
		tj := parseRequestTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

func parseRequestTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
