package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"pulmo/internal/api"
	"pulmo/internal/config"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/services"
)

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	statusSvc *api.StatusService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:      bind,
		logger:    logger,
		daemon:    d,
		statusSvc: api.NewStatusService(d.store, d.reports),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/requests", authMiddleware(token, srv.handleRequests))
	mux.HandleFunc("/api/requests/", authMiddleware(token, srv.handleRequestSubresource))
	mux.HandleFunc("/api/interpret", authMiddleware(token, srv.handleInterpret))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		RegistryDBPath: status.RegistryDBPath,
		LockFilePath:   status.LockFilePath,
		Stats:          api.MergeStats(status.Stats),
	}
	for _, health := range status.StageHealth {
		payload.StageHealth = append(payload.StageHealth, api.StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleRequestList(w, r)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleRequestList(w http.ResponseWriter, r *http.Request) {
	var filter []registry.Stage
	for _, value := range r.URL.Query()["stage"] {
		stage, ok := registry.ParseStage(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", value))
			return
		}
		filter = append(filter, stage)
	}
	views, err := s.statusSvc.List(r.Context(), filter...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RequestListResponse{Requests: views})
}

func (s *apiServer) handleRequestSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		view, err := s.statusSvc.Status(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.RequestResponse{Request: *view})
	case "report":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rpt, err := s.statusSvc.Result(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rpt)
	case "events":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEvents(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "request not found")
	}
}

// handleEvents streams NDJSON snapshots for a request until it reaches a
// terminal stage or the client disconnects. Heartbeat re-emits arrive as
// repeated snapshots of the latest state.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request, id string) {
	// Subscribe before the registry read so no transition lands between the
	// seed snapshot and the first delivery.
	sub := s.daemon.hub.Subscribe(id)
	defer sub.Close()

	view, err := s.statusSvc.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	encoder := json.NewEncoder(w)

	if err := encoder.Encode(view); err != nil {
		return
	}
	flusher.Flush()
	if terminalStage(view.Stage) {
		return
	}

	written := view.Progress.Percent
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			// The hub's retained latest can lag the registry row read above;
			// the stream never rewinds. Equal-progress heartbeats still pass.
			if snap.Progress < written {
				continue
			}
			written = snap.Progress
			if err := encoder.Encode(api.FromRequest(&snap)); err != nil {
				return
			}
			flusher.Flush()
			if snap.IsTerminal() {
				return
			}
		}
	}
}

func terminalStage(stage string) bool {
	parsed, ok := registry.ParseStage(stage)
	return ok && parsed.IsTerminal()
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(r, s.daemon.cfg.Intake.MaxFileBytes)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	req, err := s.daemon.Submit(r.Context(), sub)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.RequestResponse{Request: api.FromRequest(req)})
}

// handleInterpret answers a synchronous consult: measurements in, clinical
// read out, no registry row and no pipeline run.
func (s *apiServer) handleInterpret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload api.InterpretRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid interpret payload")
		return
	}
	params, interp, triage, err := s.daemon.Interpret(r.Context(), payload.Parameters, payload.Attributes)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.InterpretResponse{
		Parameters:     params,
		Interpretation: interp,
		Triage:         triage,
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	s.writeError(w, services.HTTPStatus(err), err.Error())
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.NewNop()
}
