package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"pulmo/internal/config"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/services"
)

// Runner executes a queued request to a terminal stage.
type Runner interface {
	Run(ctx context.Context, requestID string) error
}

// Submission is an upload plus its declared attributes.
type Submission struct {
	FileName   string
	Data       []byte
	Attributes map[string]any
}

// Overflow policies for a full admission queue.
const (
	OverflowQueue  = "queue"
	OverflowReject = "reject"
)

// Scheduler admits submissions into the registry and dispatches them onto a
// bounded worker pool. Submit returns as soon as the queued entry exists;
// the run itself is fire-and-forget.
type Scheduler struct {
	cfg    *config.Config
	store  *registry.Store
	runner Runner
	logger *slog.Logger
	schema *jsonschema.Schema

	// slots bounds outstanding work (queued plus running); jobs carries
	// admitted request ids to the workers.
	slots chan struct{}
	jobs  chan string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler constructs a scheduler. The embedded attributes schema is
// compiled once here.
func NewScheduler(cfg *config.Config, store *registry.Store, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "intake", "config is required", nil)
	}
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "intake", "registry store is required", nil)
	}
	if runner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "intake", "pipeline runner is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	schema, err := compileAttributesSchema()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "intake", "invalid attributes schema", err)
	}
	capacity := cfg.Pipeline.QueueCapacity
	if capacity < 1 {
		capacity = 1
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "intake"),
		schema: schema,
		slots:  make(chan struct{}, capacity),
		jobs:   make(chan string, capacity),
	}, nil
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("intake scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	workers := s.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(runCtx)
	}
	return nil
}

// Stop terminates the worker pool and waits for in-flight runs to wind down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Submit validates the submission, persists the queued registry entry with
// the upload staged on disk, and dispatches the run. Validation failures
// leave no registry entry behind.
func (s *Scheduler) Submit(ctx context.Context, sub Submission) (*registry.Request, error) {
	fileType, err := s.validateSubmission(sub)
	if err != nil {
		return nil, err
	}

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}

	req, err := s.admit(ctx, sub, fileType)
	if err != nil {
		<-s.slots
		return nil, err
	}

	s.jobs <- req.ID
	s.logger.Info("submission admitted",
		logging.String(logging.FieldRequestID, req.ID),
		logging.String("file_name", req.FileName),
		logging.String("patient_id", req.PatientID),
	)
	return req, nil
}

func (s *Scheduler) validateSubmission(sub Submission) (string, error) {
	name := strings.TrimSpace(sub.FileName)
	if name == "" {
		return "", services.Wrap(services.ErrValidation, "", "submit", "file name is required", nil)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "", services.Wrap(services.ErrValidation, "", "submit", "file name has no extension", nil)
	}
	if !s.allowedType(ext) {
		return "", services.Wrap(services.ErrValidation, "", "submit",
			fmt.Sprintf("file type %q not accepted (allowed: %s)", ext, strings.Join(s.cfg.Intake.FileTypes, ", ")), nil)
	}
	if len(sub.Data) == 0 {
		return "", services.Wrap(services.ErrValidation, "", "submit", "upload is empty", nil)
	}
	if max := s.cfg.Intake.MaxFileBytes; max > 0 && int64(len(sub.Data)) > max {
		return "", services.Wrap(services.ErrValidation, "", "submit",
			fmt.Sprintf("upload is %d bytes, limit is %d", len(sub.Data), max), nil)
	}
	if err := validateAttributes(s.schema, sub.Attributes); err != nil {
		return "", services.Wrap(services.ErrValidation, "", "submit", err.Error(), nil)
	}
	return ext, nil
}

func (s *Scheduler) allowedType(ext string) bool {
	for _, allowed := range s.cfg.Intake.FileTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), ext) {
			return true
		}
	}
	return false
}

func (s *Scheduler) acquireSlot(ctx context.Context) error {
	if strings.EqualFold(s.cfg.Pipeline.Overflow, OverflowReject) {
		select {
		case s.slots <- struct{}{}:
			return nil
		default:
			return services.Wrap(services.ErrCapacity, "", "submit", "admission queue is full", nil)
		}
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return services.Wrap(services.ErrTimeout, "", "submit", "gave up waiting for queue space", ctx.Err())
	}
}

func (s *Scheduler) admit(ctx context.Context, sub Submission, fileType string) (*registry.Request, error) {
	id := uuid.NewString()

	stagingDir := s.cfg.StagingDir()
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", "submit", "create staging directory", err)
	}
	stagedPath := filepath.Join(stagingDir, id+"."+fileType)
	if err := os.WriteFile(stagedPath, sub.Data, 0o644); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", "submit", "stage upload", err)
	}

	attrs := sub.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		os.Remove(stagedPath)
		return nil, services.Wrap(services.ErrValidation, "", "submit", "encode attributes", err)
	}
	patientID, _ := attrs["patient_id"].(string)

	req, err := s.store.Create(ctx, registry.NewRequest{
		ID:             id,
		PatientID:      patientID,
		FileName:       filepath.Base(strings.TrimSpace(sub.FileName)),
		FileType:       fileType,
		FileSize:       int64(len(sub.Data)),
		SourcePath:     stagedPath,
		AttributesJSON: string(attrsJSON),
	})
	if err != nil {
		os.Remove(stagedPath)
		return nil, services.Wrap(services.ErrUnavailable, "", "submit", "persist request", err)
	}
	return req, nil
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.jobs:
			if err := s.runner.Run(ctx, id); err != nil {
				s.logger.Error("pipeline run failed",
					logging.String(logging.FieldRequestID, id),
					logging.Error(err),
				)
			}
			<-s.slots
		}
	}
}
