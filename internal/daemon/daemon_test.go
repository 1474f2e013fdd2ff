package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pulmo/internal/intake"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/testsupport"
)

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func waitForStage(t *testing.T, d *Daemon, id string, want registry.Stage) *registry.Request {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req, err := d.Store().GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if req != nil && req.Stage == want {
			return req
		}
		if req != nil && req.Stage.IsTerminal() && req.Stage != want {
			t.Fatalf("request ended in %s, expected %s (error: %s)", req.Stage, want, req.ErrorMessage)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("request %s never reached %s", id, want)
	return nil
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.PID == 0 {
		t.Fatal("expected status to carry a pid")
	}
	if len(status.StageHealth) == 0 {
		t.Fatal("expected stage health entries")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped after Stop")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	first := newTestDaemon(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := New(first.cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer second.Close()

	err = second.Start(context.Background())
	if err == nil {
		t.Fatal("expected second Start to fail while lock is held")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected lock error: %v", err)
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonSubmitRunsPipeline(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	req, err := d.Submit(context.Background(), intake.Submission{
		FileName:   "report.txt",
		Data:       []byte(testsupport.SamplePFT),
		Attributes: map[string]any{"patient_id": "MRN-1001"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStage(t, d, req.ID, registry.StageCompleted)
	if done.ResultRef == "" {
		t.Fatal("expected completed request to carry a result reference")
	}
	if done.Progress != 100 {
		t.Fatalf("expected 100%% progress, got %.1f", done.Progress)
	}

	rpt, err := d.Reports().Load(context.Background(), done.ResultRef)
	if err != nil {
		t.Fatalf("Reports().Load: %v", err)
	}
	if rpt.PatientID != "MRN-1001" {
		t.Fatalf("unexpected patient id on report: %q", rpt.PatientID)
	}
}

func TestDaemonClearCompletedRemovesArtifacts(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	req, err := d.Submit(context.Background(), intake.Submission{
		FileName:   "report.txt",
		Data:       []byte(testsupport.SamplePFT),
		Attributes: map[string]any{"patient_id": "MRN-2002"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForStage(t, d, req.ID, registry.StageCompleted)

	removed, err := d.ClearCompleted(context.Background())
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 cleared request, got %d", removed)
	}

	if _, err := d.Reports().Load(context.Background(), done.ResultRef); err == nil {
		t.Fatal("expected report artifact to be removed")
	}
	if _, ok := d.Hub().Latest(req.ID); ok {
		t.Fatal("expected hub snapshot to be forgotten")
	}
	remaining, err := d.Store().GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if remaining != nil {
		t.Fatal("expected registry entry to be gone")
	}
}

func TestDaemonFailInterruptedRecovery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	req := testsupport.NewRequest(t, store, "stale.txt")
	req.SetProgress(registry.StageExtracting, "Extracting measurements", 20)
	if err := store.Update(context.Background(), req); err != nil {
		t.Fatalf("Update: %v", err)
	}
	store.Close()

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	recovered, err := d.Store().GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if recovered.Stage != registry.StageFailed {
		t.Fatalf("expected interrupted request to be failed, got %s", recovered.Stage)
	}
	if recovered.ErrorMessage != registry.InterruptedReason {
		t.Fatalf("unexpected failure reason: %q", recovered.ErrorMessage)
	}
}

func TestDaemonConcurrentSubmissionsReachIndependentOutcomes(t *testing.T) {
	d := newTestDaemon(t, testsupport.WithWorkers(8), testsupport.WithQueueCapacity(64))

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	const submissions = 50
	type admission struct {
		id      string
		patient string
	}
	admitted := make([]admission, submissions)
	errs := make([]error, submissions)

	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			patient := fmt.Sprintf("MRN-%04d", n)
			req, err := d.Submit(ctx, intake.Submission{
				FileName:   fmt.Sprintf("pft-%03d.txt", n),
				Data:       []byte(testsupport.SamplePFT),
				Attributes: map[string]any{"patient_id": patient},
			})
			if err != nil {
				errs[n] = err
				return
			}
			admitted[n] = admission{id: req.ID, patient: patient}
		}(i)
	}
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Fatalf("submission %d: %v", n, err)
		}
	}

	seenIDs := make(map[string]int, submissions)
	seenRefs := make(map[string]int, submissions)
	for n, adm := range admitted {
		done := waitForStage(t, d, adm.id, registry.StageCompleted)
		if done.Progress != 100 {
			t.Fatalf("request %s finished at %.1f%%", adm.id, done.Progress)
		}
		if done.CompletedAt == nil {
			t.Fatalf("request %s has no completion time", adm.id)
		}
		if prev, dup := seenIDs[adm.id]; dup {
			t.Fatalf("submissions %d and %d share request id %s", prev, n, adm.id)
		}
		seenIDs[adm.id] = n
		if prev, dup := seenRefs[done.ResultRef]; dup {
			t.Fatalf("submissions %d and %d share result ref %s", prev, n, done.ResultRef)
		}
		seenRefs[done.ResultRef] = n

		rpt, err := d.Reports().Load(ctx, done.ResultRef)
		if err != nil {
			t.Fatalf("Reports().Load(%s): %v", done.ResultRef, err)
		}
		if rpt.RequestID != adm.id {
			t.Fatalf("artifact %s belongs to %s, expected %s", done.ResultRef, rpt.RequestID, adm.id)
		}
		if rpt.PatientID != adm.patient {
			t.Fatalf("request %s carries patient %q, expected %q", adm.id, rpt.PatientID, adm.patient)
		}
	}
}
