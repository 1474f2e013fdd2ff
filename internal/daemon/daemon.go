package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"pulmo/internal/config"
	"pulmo/internal/intake"
	"pulmo/internal/logging"
	"pulmo/internal/notifications"
	"pulmo/internal/pipeline"
	"pulmo/internal/progress"
	"pulmo/internal/registry"
	"pulmo/internal/report"
	"pulmo/internal/services/llm"
	"pulmo/internal/stages"
)

// Daemon owns the processing services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *registry.Store
	reports     *report.Store
	hub         *progress.Hub
	orch        *pipeline.Orchestrator
	scheduler   *intake.Scheduler
	interpreter *stages.Interpreter
	notifier    notifications.Service
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	RegistryDBPath string
	LockFilePath   string
	Stats          map[registry.Stage]int
	StageHealth    []stages.Health
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := registry.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	reports, err := report.NewStore(cfg.ReportsDir())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open report store: %w", err)
	}

	hub := progress.NewHub(time.Duration(cfg.Pipeline.ProgressHeartbeat) * time.Second)
	notifier := notifications.NewService(cfg)
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		reports:  reports,
		hub:      hub,
		notifier: notifier,
		lockPath: filepath.Join(cfg.Paths.LogDir, "pulmod.lock"),
	}
	d.lock = flock.New(d.lockPath)

	d.orch = pipeline.New(cfg, store, reports, client, &terminalNotifier{daemon: d}, logger)
	d.interpreter = stages.NewInterpreter(client, logger)
	scheduler, err := intake.NewScheduler(cfg, store, d.orch, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.scheduler = scheduler

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted requests, and
// launches the scheduler, the progress heartbeat, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pulmo daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	interrupted, err := d.store.FailInterrupted(runCtx)
	if err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("recover interrupted requests: %w", err)
	}
	if interrupted > 0 {
		d.logger.Info("marked interrupted requests failed", logging.Int64("count", interrupted))
	}

	if err := d.scheduler.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.hub.Run(runCtx)
	}()

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.scheduler.Stop()
			d.releaseLock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("pulmo daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.scheduler.Stop()
	d.wg.Wait()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("pulmo daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Submit admits a new submission through the scheduler.
func (d *Daemon) Submit(ctx context.Context, sub intake.Submission) (*registry.Request, error) {
	return d.scheduler.Submit(ctx, sub)
}

// Interpret runs a synchronous clinical read on caller-supplied values
// without admitting a pipeline request. Percent-of-predicted gaps are filled
// from the attributes when demographics allow.
func (d *Daemon) Interpret(ctx context.Context, params report.Parameters, attrs map[string]any) (report.Parameters, report.Interpretation, report.Triage, error) {
	return d.interpreter.Consult(ctx, params, attrs)
}

// Store exposes the registry for query services.
func (d *Daemon) Store() *registry.Store { return d.store }

// Reports exposes the artifact store for query services.
func (d *Daemon) Reports() *report.Store { return d.reports }

// Hub exposes the progress fan-out.
func (d *Daemon) Hub() *progress.Hub { return d.hub }

// APIAddr returns the bound HTTP API address, empty when the API is off.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status summarizes daemon runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		RegistryDBPath: d.cfg.DatabasePath(),
		LockFilePath:   d.lockPath,
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Stats = stats
	}
	for _, handler := range d.orch.Handlers() {
		status.StageHealth = append(status.StageHealth, handler.HealthCheck(ctx))
	}
	return status
}

// Clear removes all requests and drops their retained progress snapshots.
func (d *Daemon) Clear(ctx context.Context) (int64, error) {
	return d.clearWith(ctx, d.store.Clear)
}

// ClearCompleted removes completed requests.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.clearWith(ctx, d.store.ClearCompleted, registry.StageCompleted)
}

// ClearFailed removes failed requests.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.clearWith(ctx, d.store.ClearFailed, registry.StageFailed)
}

func (d *Daemon) clearWith(ctx context.Context, clear func(context.Context) (int64, error), scope ...registry.Stage) (int64, error) {
	doomed, err := d.store.List(ctx, scope...)
	if err != nil {
		return 0, err
	}
	removed, err := clear(ctx)
	if err != nil {
		return 0, err
	}
	for _, req := range doomed {
		d.hub.Forget(req.ID)
		if req.ResultRef != "" {
			if err := d.reports.Remove(ctx, req.ResultRef); err != nil {
				d.logger.Warn("failed to remove report artifact",
					logging.String(logging.FieldRequestID, req.ID),
					logging.Error(err),
				)
			}
		}
	}
	return removed, nil
}

// Health returns aggregate registry diagnostics.
func (d *Daemon) Health(ctx context.Context) (registry.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (registry.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification triggers a test notification using current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// terminalNotifier forwards every snapshot to the progress hub and pushes
// ntfy notifications when a request reaches a terminal stage.
type terminalNotifier struct {
	daemon *Daemon
}

func (t *terminalNotifier) Publish(req registry.Request) {
	t.daemon.hub.Publish(req)

	switch req.Stage {
	case registry.StageCompleted, registry.StageFailed:
	default:
		return
	}
	snap := req.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		var err error
		if snap.Stage == registry.StageCompleted {
			err = t.daemon.notifier.NotifyRequestCompleted(ctx, snap.PatientID, snap.FileName)
		} else {
			err = t.daemon.notifier.NotifyRequestFailed(ctx, snap.FileName, snap.ErrorMessage)
		}
		if err != nil {
			t.daemon.logger.Debug("notification failed",
				logging.String(logging.FieldRequestID, snap.ID),
				logging.Error(err),
			)
		}
	}()
}
