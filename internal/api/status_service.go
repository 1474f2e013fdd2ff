package api

import (
	"context"
	"errors"
	"fmt"

	"pulmo/internal/registry"
	"pulmo/internal/report"
	"pulmo/internal/services"
)

// RegistryReader abstracts registry persistence interactions needed for API
// queries.
type RegistryReader interface {
	GetByID(ctx context.Context, id string) (*registry.Request, error)
	List(ctx context.Context, stages ...registry.Stage) ([]*registry.Request, error)
	Stats(ctx context.Context) (map[registry.Stage]int, error)
}

// ReportLoader loads finished report artifacts by reference.
type ReportLoader interface {
	Load(ctx context.Context, ref string) (*report.Report, error)
}

// StatusService answers status and result queries over the registry,
// returning API DTOs and classified errors the transport layer can map to
// response codes.
type StatusService struct {
	store   RegistryReader
	reports ReportLoader
}

// NewStatusService constructs a StatusService around the provided readers.
func NewStatusService(store RegistryReader, reports ReportLoader) *StatusService {
	return &StatusService{store: store, reports: reports}
}

// Status returns the current snapshot for a request.
func (s *StatusService) Status(ctx context.Context, id string) (*RequestView, error) {
	req, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	view := FromRequest(req)
	return &view, nil
}

// Result returns the finished report. Requests that have not completed
// answer not-ready; failed requests additionally carry the failure reason.
func (s *StatusService) Result(ctx context.Context, id string) (*report.Report, error) {
	req, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	switch req.Stage {
	case registry.StageCompleted:
	case registry.StageFailed:
		return nil, services.Wrap(services.ErrNotReady, "", "result",
			fmt.Sprintf("request failed: %s", req.ErrorMessage), nil)
	default:
		return nil, services.Wrap(services.ErrNotReady, "", "result",
			fmt.Sprintf("request is %s (%.0f%%)", req.Stage, req.Progress), nil)
	}

	rpt, err := s.reports.Load(ctx, req.ResultRef)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			return nil, services.Wrap(services.ErrUnavailable, "", "result", "report artifact is missing", err)
		}
		return nil, services.Wrap(services.ErrUnavailable, "", "result", "failed to load report artifact", err)
	}
	return rpt, nil
}

// List returns requests filtered to the given stages, newest first.
func (s *StatusService) List(ctx context.Context, stages ...registry.Stage) ([]RequestView, error) {
	reqs, err := s.store.List(ctx, stages...)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", "list", "registry query failed", err)
	}
	return SortRequestsNewestFirst(FromRequests(reqs)), nil
}

// Stats returns registry counts keyed by stage name.
func (s *StatusService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", "stats", "registry query failed", err)
	}
	return MergeStats(stats), nil
}

func (s *StatusService) lookup(ctx context.Context, id string) (*registry.Request, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", "status", "registry query failed", err)
	}
	if req == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "status", fmt.Sprintf("no request with id %s", id), nil)
	}
	return req, nil
}
