package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pulmo/internal/registry"
	"pulmo/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req, err := store.Create(ctx, registry.NewRequest{
		ID:       "req-1",
		FileName: "report.txt",
		FileType: "txt",
		FileSize: 1024,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if req.Stage != registry.StageQueued {
		t.Fatalf("expected queued stage, got %s", req.Stage)
	}
	if req.Progress != 0 {
		t.Fatalf("expected zero progress, got %f", req.Progress)
	}

	fetched, err := store.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.FileName != "report.txt" {
		t.Fatalf("unexpected fetched request: %#v", fetched)
	}
}

func TestCreateRequiresIDAndFileName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Create(ctx, registry.NewRequest{FileName: "x.txt"}); err == nil {
		t.Fatal("expected error when id missing")
	}
	if _, err := store.Create(ctx, registry.NewRequest{ID: "req-2"}); err == nil {
		t.Fatal("expected error when file name missing")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	req, err := store.GetByID(context.Background(), "no-such-request")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if req != nil {
		t.Fatalf("expected nil for missing request, got %#v", req)
	}
}

func TestUpdateAdvancesStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	order := []registry.Stage{
		registry.StageExtracting,
		registry.StageInterpreting,
		registry.StageTriaging,
		registry.StageReporting,
		registry.StageValidating,
	}
	for _, stage := range order {
		req.SetProgress(stage, fmt.Sprintf("running %s", stage), registry.StageProgress(stage))
		if err := store.Update(ctx, req); err != nil {
			t.Fatalf("Update to %s failed: %v", stage, err)
		}
	}

	req.SetCompleted("reports/req-1.json")
	if err := store.Update(ctx, req); err != nil {
		t.Fatalf("Update to completed failed: %v", err)
	}

	final, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Stage != registry.StageCompleted || final.Progress != 100 {
		t.Fatalf("unexpected final state: stage=%s progress=%f", final.Stage, final.Progress)
	}
	if final.ResultRef == "" {
		t.Fatal("expected result reference on completed request")
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completion time to persist")
	}
}

func TestUpdateRejectsSkippedStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	req.SetProgress(registry.StageTriaging, "skipping ahead", 60)
	err := store.Update(ctx, req)
	if !errors.Is(err, registry.ErrStageOrder) {
		t.Fatalf("expected stage order error, got %v", err)
	}
}

func TestUpdateRejectsProgressRegression(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	req.SetProgress(registry.StageExtracting, "extracting", 20)
	if err := store.Update(ctx, req); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	req.Progress = 5
	err := store.Update(ctx, req)
	if !errors.Is(err, registry.ErrProgressRegression) {
		t.Fatalf("expected progress regression error, got %v", err)
	}
}

func TestTerminalRequestsAreImmutable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	req.SetFailed("extraction produced no parameters")
	if err := store.Update(ctx, req); err != nil {
		t.Fatalf("Update to failed: %v", err)
	}

	req.SetProgress(registry.StageExtracting, "retrying", 10)
	err := store.Update(ctx, req)
	if !errors.Is(err, registry.ErrTerminalStage) {
		t.Fatalf("expected terminal stage error, got %v", err)
	}
}

func TestResultRefOnlyOnCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	req.SetProgress(registry.StageExtracting, "extracting", 20)
	req.ResultRef = "reports/too-early.json"
	err := store.Update(ctx, req)
	if !errors.Is(err, registry.ErrResultRef) {
		t.Fatalf("expected result ref error, got %v", err)
	}
}

func TestFailedRequiresErrorMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "report.txt")

	req.Stage = registry.StageFailed
	req.ErrorMessage = ""
	err := store.Update(ctx, req)
	if !errors.Is(err, registry.ErrResultRef) {
		t.Fatalf("expected error message requirement, got %v", err)
	}
}

func TestFailInterrupted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	inflight := testsupport.NewRequest(t, store, "inflight.txt")
	inflight.SetProgress(registry.StageExtracting, "extracting", 20)
	if err := store.Update(ctx, inflight); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	done := testsupport.NewRequest(t, store, "done.txt")
	for _, stage := range []registry.Stage{
		registry.StageExtracting,
		registry.StageInterpreting,
		registry.StageTriaging,
		registry.StageReporting,
		registry.StageValidating,
	} {
		done.SetProgress(stage, "advancing", registry.StageProgress(stage))
		if err := store.Update(ctx, done); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	done.SetCompleted("reports/done.json")
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.FailInterrupted(ctx)
	if err != nil {
		t.Fatalf("FailInterrupted failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 interrupted request, got %d", count)
	}

	failed, err := store.GetByID(ctx, inflight.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Stage != registry.StageFailed || failed.ErrorMessage != registry.InterruptedReason {
		t.Fatalf("unexpected interrupted state: %#v", failed)
	}
	if failed.CompletedAt == nil {
		t.Fatal("interrupted requests must record when they finished")
	}

	untouched, err := store.GetByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Stage != registry.StageCompleted {
		t.Fatalf("completed request must survive restart recovery, got %s", untouched.Stage)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "stale.txt")
	req.SetProgress(registry.StageExtracting, "extracting", 20)
	stale := time.Now().Add(-10 * time.Minute)
	req.LastHeartbeat = &stale
	if err := store.Update(ctx, req); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.ReclaimStale(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed request, got %d", count)
	}

	failed, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Stage != registry.StageFailed {
		t.Fatalf("expected failed stage, got %s", failed.Stage)
	}
	if failed.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared")
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	req := testsupport.NewRequest(t, store, "beating.txt")

	if err := store.UpdateHeartbeat(ctx, req.ID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	updated, err := store.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.LastHeartbeat == nil {
		t.Fatal("expected heartbeat to be set")
	}
}

func TestListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.NewRequest(t, store, "a.txt")
	b := testsupport.NewRequest(t, store, "b.txt")
	_ = a

	b.SetProgress(registry.StageExtracting, "extracting", 20)
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(all))
	}

	queued, err := store.List(ctx, registry.StageQueued)
	if err != nil {
		t.Fatalf("List by stage failed: %v", err)
	}
	if len(queued) != 1 || queued[0].FileName != "a.txt" {
		t.Fatalf("unexpected queued requests: %#v", queued)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[registry.StageQueued] != 1 || stats[registry.StageExtracting] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestClearFamilies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	failedReq := testsupport.NewRequest(t, store, "failed.txt")
	failedReq.SetFailed("boom")
	if err := store.Update(ctx, failedReq); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	testsupport.NewRequest(t, store, "keep.txt")

	cleared, err := store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining request, got %d", len(remaining))
	}

	clearedAll, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if clearedAll != 1 {
		t.Fatalf("expected 1 cleared, got %d", clearedAll)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewRequest(t, store, "health.txt")

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected database health: %#v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("expected no missing columns, got %v", health.MissingColumns)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
	if health.TotalRequests != 1 {
		t.Fatalf("expected 1 request counted, got %d", health.TotalRequests)
	}
}
