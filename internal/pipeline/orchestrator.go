package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pulmo/internal/config"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/report"
	"pulmo/internal/services"
	"pulmo/internal/services/llm"
	"pulmo/internal/stages"
)

// Notifier receives a request snapshot after every successful registry write.
// Implementations must not block; the orchestrator calls it inline.
type Notifier interface {
	Publish(req registry.Request)
}

type nopNotifier struct{}

func (nopNotifier) Publish(registry.Request) {}

// Each stage gets its own wall-clock budget inside the overall request
// timeout so a hung model call cannot consume the whole run.
var stageTimeouts = map[registry.Stage]time.Duration{
	registry.StageExtracting:   60 * time.Second,
	registry.StageInterpreting: 90 * time.Second,
	registry.StageTriaging:     60 * time.Second,
	registry.StageReporting:    120 * time.Second,
	registry.StageValidating:   30 * time.Second,
}

var stageMessages = map[registry.Stage]string{
	registry.StageExtracting:   "Extracting pulmonary function values",
	registry.StageInterpreting: "Interpreting clinical pattern",
	registry.StageTriaging:     "Assigning triage level",
	registry.StageReporting:    "Generating report",
	registry.StageValidating:   "Validating report quality",
}

// Orchestrator drives one request at a time through the ordered analysis
// stages, persisting every lifecycle transition and forwarding each snapshot
// to the progress notifier.
type Orchestrator struct {
	store             *registry.Store
	reports           *report.Store
	notifier          Notifier
	logger            *slog.Logger
	handlers          []stages.Handler
	requestTimeout    time.Duration
	heartbeatInterval time.Duration
}

// New wires the stage handlers from configuration. A nil notifier is
// replaced with a no-op implementation.
func New(cfg *config.Config, store *registry.Store, reports *report.Store, client *llm.Client, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:    store,
		reports:  reports,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		handlers: []stages.Handler{
			stages.NewExtractor(logger),
			stages.NewInterpreter(client, logger),
			stages.NewTriager(client, logger),
			stages.NewGenerator(client, logger),
			stages.NewValidator(cfg.Quality, logger),
		},
		requestTimeout:    time.Duration(cfg.Pipeline.RequestTimeout) * time.Second,
		heartbeatInterval: time.Duration(cfg.Pipeline.HeartbeatInterval) * time.Second,
	}
}

// Handlers exposes the configured stage processors for health reporting.
func (o *Orchestrator) Handlers() []stages.Handler {
	return o.handlers
}

// Run processes the identified request to a terminal stage. The request must
// be queued; anything else is rejected without a registry write. Run returns
// the error that failed the request, or nil on completion.
func (o *Orchestrator) Run(ctx context.Context, requestID string) error {
	req, err := o.store.GetByID(ctx, requestID)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "", "load request", requestID, err)
	}
	if req == nil {
		return services.Wrap(services.ErrNotFound, "", "load request", requestID, nil)
	}
	if req.Stage != registry.StageQueued {
		return services.Wrap(services.ErrValidation, "", "run",
			fmt.Sprintf("request %s is %s, not queued", requestID, req.Stage), nil)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if o.requestTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}
	runCtx = services.WithRequestID(runCtx, req.ID)

	runStart := time.Now()
	runLogger := o.logger.With(logging.String(logging.FieldRequestID, req.ID))
	runLogger.Info("pipeline run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("file_name", req.FileName),
	)

	ex := stages.NewExchange(req)
	for _, handler := range o.handlers {
		stage, ok := registry.ParseStage(handler.Name())
		if !ok {
			return o.fail(ctx, req, stage, fmt.Errorf("unknown stage %q", handler.Name()))
		}
		if err := o.enterStage(runCtx, req, stage); err != nil {
			runLogger.Error("failed to persist stage transition", logging.Error(err))
			return err
		}
		if err := o.executeStage(runCtx, runLogger, handler, stage, ex); err != nil {
			return o.fail(ctx, req, stage, err)
		}
	}

	ref, err := o.reports.Save(ctx, &ex.Report)
	if err != nil {
		return o.fail(ctx, req, registry.StageValidating, services.Wrap(services.ErrUnavailable, "validating", "store report", "failed to persist report artifact", err))
	}
	req.SetCompleted(ref)
	if err := o.store.Update(ctx, req); err != nil {
		runLogger.Error("failed to persist completion", logging.Error(err))
		return err
	}
	o.notifier.Publish(req.Clone())

	runLogger.Info("pipeline run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("result_ref", ref),
		logging.Duration("run_duration", time.Since(runStart)),
	)
	return nil
}

func (o *Orchestrator) enterStage(ctx context.Context, req *registry.Request, stage registry.Stage) error {
	message := stageMessages[stage]
	if message == "" {
		message = string(stage)
	}
	req.SetProgress(stage, message, registry.StageProgress(stage))
	now := time.Now().UTC()
	req.LastHeartbeat = &now
	if err := o.store.Update(ctx, req); err != nil {
		return fmt.Errorf("persist %s transition: %w", stage, err)
	}
	o.notifier.Publish(req.Clone())
	return nil
}

func (o *Orchestrator) executeStage(ctx context.Context, runLogger *slog.Logger, handler stages.Handler, stage registry.Stage, ex *stages.Exchange) error {
	stageCtx := services.WithStage(ctx, string(stage))
	if budget := stageTimeouts[stage]; budget > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, budget)
		defer cancel()
	}

	stageStart := time.Now()
	runLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldStage, string(stage)),
	)

	err := o.executeWithHeartbeat(stageCtx, handler, ex)
	if err != nil {
		return err
	}

	runLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldStage, string(stage)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

// executeWithHeartbeat runs the handler while a background loop refreshes the
// request heartbeat so a crashed daemon leaves a detectable stale marker.
func (o *Orchestrator) executeWithHeartbeat(ctx context.Context, handler stages.Handler, ex *stages.Exchange) error {
	if o.heartbeatInterval <= 0 {
		return handler.Execute(ctx, ex)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go o.heartbeatLoop(hbCtx, &hbWG, ex.Request.ID)

	execErr := handler.Execute(ctx, ex)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (o *Orchestrator) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, requestID string) {
	defer wg.Done()
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.store.UpdateHeartbeat(ctx, requestID); err != nil && ctx.Err() == nil {
				o.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldRequestID, requestID),
					logging.Error(err),
				)
			}
		}
	}
}

// fail transitions the request to failed with a message naming the stage.
// The terminal write uses the caller's base context so a stage timeout does
// not also doom the bookkeeping.
func (o *Orchestrator) fail(ctx context.Context, req *registry.Request, stage registry.Stage, stageErr error) error {
	message := failureMessage(stage, stageErr)
	req.SetFailed(message)
	if err := o.store.Update(ctx, req); err != nil {
		o.logger.Error("failed to persist failure",
			logging.String(logging.FieldRequestID, req.ID),
			logging.Error(err),
		)
	} else {
		o.notifier.Publish(req.Clone())
	}

	o.logger.Error("pipeline run failed",
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldEventType, "run_failure"),
		logging.String(logging.FieldStage, string(stage)),
		logging.Error(stageErr),
	)
	if errors.Is(stageErr, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, string(stage), "execute", "stage exceeded its time budget", stageErr)
	}
	return stageErr
}

func failureMessage(stage registry.Stage, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Stage %s timed out", stage)
	}
	if errors.Is(err, context.Canceled) {
		return registry.InterruptedReason
	}
	text := strings.TrimSpace(err.Error())
	if text == "" {
		text = "stage failed"
	}
	return fmt.Sprintf("Stage %s failed: %s", stage, text)
}
