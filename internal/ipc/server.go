package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"pulmo/internal/api"
	"pulmo/internal/daemon"
	"pulmo/internal/intake"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{
		daemon:    d,
		statusSvc: api.NewStatusService(d.Store(), d.Reports()),
		logger:    logger,
		ctx:       ctx,
	}
	if err := rpcServer.RegisterName("Pulmo", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun pulmo stop"))
	}
}

type service struct {
	daemon    *daemon.Daemon
	statusSvc *api.StatusService
	logger    *slog.Logger
	ctx       context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.RegistryDBPath = status.RegistryDBPath
	resp.LockPath = status.LockFilePath
	resp.APIAddr = s.daemon.APIAddr()
	resp.Stats = api.MergeStats(status.Stats)
	if len(status.StageHealth) > 0 {
		resp.StageHealth = make([]StageHealth, 0, len(status.StageHealth))
		for _, health := range status.StageHealth {
			resp.StageHealth = append(resp.StageHealth, StageHealth{
				Name:   health.Name,
				Ready:  health.Ready,
				Detail: health.Detail,
			})
		}
	}
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return errors.New("submit requires a file path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	admitted, err := s.daemon.Submit(s.ctx, intake.Submission{
		FileName:   filepath.Base(path),
		Data:       data,
		Attributes: req.Attributes,
	})
	if err != nil {
		return err
	}
	resp.Request = api.FromRequest(admitted)
	s.log().Info("request admitted via IPC",
		logging.String(logging.FieldEventType, "request_submit"),
		logging.String("request_id", admitted.ID))
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	stages := make([]registry.Stage, 0, len(req.Stages))
	for _, value := range req.Stages {
		parsed, ok := registry.ParseStage(value)
		if !ok {
			return fmt.Errorf("unknown stage %q", value)
		}
		stages = append(stages, parsed)
	}
	views, err := s.statusSvc.List(s.ctx, stages...)
	if err != nil {
		return err
	}
	resp.Requests = views
	return nil
}

func (s *service) Describe(req DescribeRequest, resp *DescribeResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("describe requires a request id")
	}
	view, err := s.statusSvc.Status(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Request = *view
	return nil
}

func (s *service) Report(req ReportRequest, resp *ReportResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("report requires a request id")
	}
	rpt, err := s.statusSvc.Result(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Report = *rpt
	return nil
}

func (s *service) Clear(_ ClearRequest, resp *ClearResponse) error {
	s.log().Debug("registry clear requested")
	removed, err := s.daemon.Clear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry cleared",
		logging.String(logging.FieldEventType, "registry_clear"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) ClearCompleted(_ ClearCompletedRequest, resp *ClearCompletedResponse) error {
	s.log().Debug("registry clear completed requested")
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry completed requests cleared",
		logging.String(logging.FieldEventType, "registry_clear_completed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) ClearFailed(_ ClearFailedRequest, resp *ClearFailedResponse) error {
	s.log().Debug("registry clear failed requested")
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry failed requests cleared",
		logging.String(logging.FieldEventType, "registry_clear_failed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	health, err := s.daemon.Health(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Queued = health.Queued
	resp.Processing = health.Processing
	resp.Completed = health.Completed
	resp.Failed = health.Failed
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.TableExists = health.TableExists
	resp.MissingColumns = append(resp.MissingColumns, health.MissingColumns...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalRequests = health.TotalRequests
	resp.Error = health.Error
	return err
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return err
	}
	resp.Sent = true
	resp.Message = "test notification dispatched"
	return nil
}
