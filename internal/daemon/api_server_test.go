package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"pulmo/internal/api"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/report"
	"pulmo/internal/testsupport"
)

func startTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		_ = d.Close()
	})
	if d.APIAddr() == "" {
		t.Fatal("expected api server to listen")
	}
	return d
}

func apiURL(d *Daemon, path string) string {
	return fmt.Sprintf("http://%s%s", d.APIAddr(), path)
}

func submitMultipart(t *testing.T, d *Daemon, fileName string, data []byte, attrs string) api.RequestView {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if attrs != "" {
		if err := writer.WriteField("attributes", attrs); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(apiURL(d, "/api/requests"), writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /api/requests: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202 Accepted, got %d: %s", resp.StatusCode, payload)
	}
	var decoded api.RequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded.Request
}

func TestAPIServerStatusEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	resp, err := http.Get(apiURL(d, "/api/status"))
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}

	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.Stats["queued"] != 0 {
		t.Fatalf("expected empty registry, got %d queued", status.Stats["queued"])
	}
	if len(status.StageHealth) == 0 {
		t.Fatal("expected stage health entries")
	}
}

func TestAPIServerRequiresBearerToken(t *testing.T) {
	d := startTestDaemon(t, testsupport.WithAPIToken("secret-token"))

	resp, err := http.Get(apiURL(d, "/api/status"))
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, apiURL(d, "/api/status"), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestAPIServerSubmitAndFetchReport(t *testing.T) {
	d := startTestDaemon(t)

	view := submitMultipart(t, d, "report.txt", []byte(testsupport.SamplePFT), `{"patient_id":"MRN-3003","age":61,"sex":"male"}`)
	if view.Stage != string(registry.StageQueued) {
		t.Fatalf("expected queued submission, got %s", view.Stage)
	}
	if view.PatientID != "MRN-3003" {
		t.Fatalf("unexpected patient id: %q", view.PatientID)
	}

	waitForStage(t, d, view.ID, registry.StageCompleted)

	resp, err := http.Get(apiURL(d, "/api/requests/"+view.ID+"/report"))
	if err != nil {
		t.Fatalf("GET report: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK for completed report, got %d", resp.StatusCode)
	}
	var rpt report.Report
	if err := json.NewDecoder(resp.Body).Decode(&rpt); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rpt.PatientID != "MRN-3003" {
		t.Fatalf("unexpected patient on report: %q", rpt.PatientID)
	}

	listResp, err := http.Get(apiURL(d, "/api/requests?stage=completed"))
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer listResp.Body.Close()
	var list api.RequestListResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Requests) != 1 || list.Requests[0].ID != view.ID {
		t.Fatalf("expected completed filter to return the request, got %+v", list.Requests)
	}
}

func TestAPIServerReportBeforeCompletionConflicts(t *testing.T) {
	d := startTestDaemon(t)

	store := d.Store()
	req := testsupport.NewRequest(t, store, "pending.txt")

	resp, err := http.Get(apiURL(d, "/api/requests/"+req.ID+"/report"))
	if err != nil {
		t.Fatalf("GET report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for queued request, got %d", resp.StatusCode)
	}
}

func TestAPIServerRejectsBadSubmissions(t *testing.T) {
	d := startTestDaemon(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("attributes", "{}"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	writer.Close()

	resp, err := http.Post(apiURL(d, "/api/requests"), writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(apiURL(d, "/api/requests?stage=launching"))
	if err != nil {
		t.Fatalf("GET bad filter: %v", err)
	}
	listResp.Body.Close()
	if listResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage filter, got %d", listResp.StatusCode)
	}
}

func TestAPIServerEventsIgnoreLaggingHubSnapshot(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()
	store := d.Store()

	req := testsupport.NewRequest(t, store, "sample.txt")
	// The hub retains the queued snapshot while the registry row moves ahead,
	// so the first delivery after subscribing lags the seed.
	d.Hub().Publish(req.Clone())
	req.SetProgress(registry.StageExtracting, "extracting", 20)
	if err := store.Update(ctx, req); err != nil {
		t.Fatalf("Update: %v", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, apiURL(d, "/api/requests/"+req.ID+"/events"), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(resp.Body)
	var first api.RequestView
	if err := decoder.Decode(&first); err != nil {
		t.Fatalf("decode seed event: %v", err)
	}
	if first.Progress.Percent != 20 {
		t.Fatalf("expected seed at 20, got %.1f", first.Progress.Percent)
	}

	// The subscription is live once the seed arrived; finish the request.
	done := req.Clone()
	done.SetCompleted("reports/sample.json")
	d.Hub().Publish(done)

	last := first
	for {
		var snap api.RequestView
		if err := decoder.Decode(&snap); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode event: %v", err)
		}
		if snap.Progress.Percent < last.Progress.Percent {
			t.Fatalf("stream rewound from %.1f to %.1f", last.Progress.Percent, snap.Progress.Percent)
		}
		last = snap
	}
	if last.Stage != string(registry.StageCompleted) {
		t.Fatalf("expected stream to end at completed, got %s", last.Stage)
	}
}

func TestAPIServerEventsStreamEndsAtTerminal(t *testing.T) {
	d := startTestDaemon(t)

	view := submitMultipart(t, d, "report.txt", []byte(testsupport.SamplePFT), `{"patient_id":"MRN-4004"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(d, "/api/requests/"+view.ID+"/events"), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("unexpected content type: %q", got)
	}

	decoder := json.NewDecoder(resp.Body)
	var last api.RequestView
	count := 0
	for {
		var snap api.RequestView
		if err := decoder.Decode(&snap); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode event: %v", err)
		}
		if snap.Progress.Percent < last.Progress.Percent {
			t.Fatalf("progress regressed from %.1f to %.1f", last.Progress.Percent, snap.Progress.Percent)
		}
		last = snap
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one event")
	}
	if last.Stage != string(registry.StageCompleted) {
		t.Fatalf("expected stream to end at completed, got %s", last.Stage)
	}
	if last.Progress.Percent != 100 {
		t.Fatalf("expected final progress 100, got %.1f", last.Progress.Percent)
	}
}

func TestAPIServerInterpretConsult(t *testing.T) {
	d := startTestDaemon(t)

	body := `{
		"parameters": {"fev1": 1.8, "fvc": 3.5, "fev1_fvc_ratio": 60.0, "dlco_percent": 58.0},
		"attributes": {"age": 60, "sex": "male", "height_cm": 175}
	}`
	resp, err := http.Post(apiURL(d, "/api/interpret"), "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/interpret: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200 OK, got %d: %s", resp.StatusCode, payload)
	}
	var decoded api.InterpretResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Interpretation.Pattern != report.PatternObstructive {
		t.Fatalf("unexpected pattern: %q", decoded.Interpretation.Pattern)
	}
	if !decoded.Interpretation.DiffusionImpairment {
		t.Fatal("DLCO at 58 percent must flag diffusion impairment")
	}
	if decoded.Interpretation.Source != report.SourceRules {
		t.Fatalf("unexpected source: %q", decoded.Interpretation.Source)
	}
	if decoded.Triage.Level == "" {
		t.Fatal("expected a triage level on the consult")
	}
	if decoded.Parameters.FEV1Percent == nil {
		t.Fatal("expected FEV1 percent derived from the demographics")
	}
}

func TestAPIServerInterpretRejectsEmptyPayload(t *testing.T) {
	d := startTestDaemon(t)

	resp, err := http.Post(apiURL(d, "/api/interpret"), "application/json", bytes.NewBufferString(`{"parameters": {}}`))
	if err != nil {
		t.Fatalf("POST /api/interpret: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 Bad Request, got %d", resp.StatusCode)
	}
}
