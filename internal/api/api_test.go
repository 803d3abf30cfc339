package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turntable/internal/broker"
	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/media/ingest"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stage"
	"turntable/internal/storage"
	"turntable/internal/testsupport"
)

type fakeHealth struct {
	healths []stage.Health
}

func (f *fakeHealth) HealthCheck(ctx context.Context) []stage.Health {
	return f.healths
}

type testServer struct {
	server *Server
	store  *queue.Store
	broker *broker.MemoryBroker
	files  storage.Store
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	b := broker.NewMemory()
	t.Cleanup(func() { b.Close() })
	files, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}

	server := NewServer(cfg, store, b, files, &fakeHealth{healths: []stage.Health{stage.Healthy("stabilize")}}, logging.NewNop())
	server.validate = func(ctx context.Context, path string) (ingest.Probe, error) {
		return ingest.Probe{DurationSeconds: 12, Width: 1920, Height: 1080, FrameRate: 30}, nil
	}
	return &testServer{server: server, store: store, broker: b, files: files, cfg: cfg}
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doJSON(t *testing.T, server *Server, req *http.Request, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func TestUploadAcceptsValidVideo(t *testing.T) {
	ts := newTestServer(t)

	req := uploadRequest(t, map[string]string{"frames": "24", "remove_background": "true"}, "walkaround.mp4", []byte("not really a video"))
	var resp UploadResponse
	rec := doJSON(t, ts.server, req, &resp)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Status != queue.StatusPending || resp.TaskID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	job, err := ts.store.GetByID(context.Background(), resp.TaskID)
	if err != nil || job == nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Params.FrameCount != 24 || !job.Params.RemoveBackground {
		t.Fatalf("params not recorded: %+v", job.Params)
	}
	if !strings.HasPrefix(job.SourceVideoRef, resp.TaskID+"/") {
		t.Fatalf("source not stored under job prefix: %q", job.SourceVideoRef)
	}
	if _, err := ts.files.Get(context.Background(), job.SourceVideoRef); err != nil {
		t.Fatalf("source artifact missing: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivered, err := ts.broker.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if delivered != resp.TaskID {
		t.Fatalf("expected %s on the queue, got %s", resp.TaskID, delivered)
	}
}

func TestUploadRejectsBadFrameCount(t *testing.T) {
	ts := newTestServer(t)

	req := uploadRequest(t, map[string]string{"frames": "30"}, "walkaround.mp4", []byte("x"))
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "InvalidParameter") {
		t.Fatalf("expected InvalidParameter, got %s", rec.Body.String())
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	ts := newTestServer(t)

	req := uploadRequest(t, nil, "notes.txt", []byte("x"))
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "InvalidInput") {
		t.Fatalf("expected InvalidInput, got %s", rec.Body.String())
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	ts := newTestServer(t)

	req := uploadRequest(t, map[string]string{"frames": "36"}, "", nil)
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadRejectsUndecodableVideo(t *testing.T) {
	ts := newTestServer(t)
	ts.server.validate = func(ctx context.Context, path string) (ingest.Probe, error) {
		return ingest.Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "probe", "no video stream found", nil)
	}

	req := uploadRequest(t, nil, "broken.mp4", []byte("x"))
	var resp struct {
		Error ErrorBody `json:"error"`
	}
	rec := doJSON(t, ts.server, req, &resp)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error.Kind != "InvalidInput" || !strings.Contains(resp.Error.Message, "no video stream") {
		t.Fatalf("unexpected error body: %+v", resp.Error)
	}

	// A rejected upload must leave nothing behind.
	jobs, err := ts.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	pending := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	processing := testsupport.NewJob(t, ts.store, "uploads/b.mp4", queue.Params{FrameCount: 36})
	if _, err := ts.store.Claim(ctx, processing.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	var all ListResponse
	doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil), &all)
	if len(all.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all.Jobs))
	}

	var filtered ListResponse
	doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=PENDING", nil), &filtered)
	if len(filtered.Jobs) != 1 || filtered.Jobs[0].TaskID != pending.ID {
		t.Fatalf("unexpected filtered listing: %+v", filtered.Jobs)
	}

	rec := doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=BOGUS", nil), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/does-not-exist", nil)
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NotFound") {
		t.Fatalf("expected NotFound kind, got %s", rec.Body.String())
	}
}

func TestStatusReportsProgressAndFailure(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if _, err := ts.store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := ts.store.SetStep(ctx, job.ID, queue.StepDetecting); err != nil {
		t.Fatalf("SetStep: %v", err)
	}

	var status StatusResponse
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+job.ID, nil)
	doJSON(t, ts.server, req, &status)
	if status.Status != queue.StatusProcessing || status.Step != queue.StepDetecting || status.Progress != 30 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Error != nil {
		t.Fatalf("no error expected while processing: %+v", status.Error)
	}

	if err := ts.store.MarkFailure(ctx, job.ID, queue.StepDetecting, "DetectionError", "no vehicle found"); err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}
	doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+job.ID, nil), &status)
	if status.Status != queue.StatusFailure || status.Error == nil || status.Error.Kind != "DetectionError" {
		t.Fatalf("unexpected failed status: %+v", status)
	}
}

func TestResultNotReady(t *testing.T) {
	ts := newTestServer(t)

	job := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+job.ID+"/result", nil)
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NotReady") {
		t.Fatalf("expected NotReady, got %s", rec.Body.String())
	}
}

func TestResultSuccess(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	if _, err := ts.store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	confidence := 0.91
	payload, err := queue.EncodeResult(&queue.Result{
		Frames: []queue.FrameRecord{{
			Index:               0,
			AngleDegrees:        0,
			SourceTimestamp:     1.2,
			BoundingBox:         &queue.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 120},
			DetectionConfidence: &confidence,
			ImageRef:            job.ID + "/frames/frame_000.webp",
		}},
		SpriteRef: job.ID + "/sprite.webp",
		ViewerRef: job.ID + "/viewer.html",
		Metadata:  queue.ResultMetadata{TotalFrames: 24, FrameWidth: 800, FrameHeight: 800, Format: "webp"},
	})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	if err := ts.store.MarkSuccess(ctx, job.ID, payload); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}

	var resp ResultResponse
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+job.ID+"/result", nil)
	rec := doJSON(t, ts.server, req, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Result == nil {
		t.Fatalf("missing result body: %s", rec.Body.String())
	}
	if !strings.HasSuffix(resp.Result.ViewerURL, "/artifacts/"+job.ID+"/viewer.html") {
		t.Fatalf("unexpected viewer url: %q", resp.Result.ViewerURL)
	}
	if !strings.HasSuffix(resp.Result.SpriteURL, "/artifacts/"+job.ID+"/sprite.webp") {
		t.Fatalf("unexpected sprite url: %q", resp.Result.SpriteURL)
	}
	if len(resp.Result.Frames) != 1 || !strings.Contains(resp.Result.Frames[0].ImageURL, "frame_000.webp") {
		t.Fatalf("unexpected frames: %+v", resp.Result.Frames)
	}
	if resp.Result.Metadata.TotalFrames != 24 {
		t.Fatalf("unexpected metadata: %+v", resp.Result.Metadata)
	}
}

func TestResultExposesFailure(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if _, err := ts.store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := ts.store.MarkFailure(ctx, job.ID, queue.StepStabilizing, "StabilizationError", "ffmpeg exited 1"); err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}

	var resp ResultResponse
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+job.ID+"/result", nil)
	rec := doJSON(t, ts.server, req, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Status != queue.StatusFailure || resp.Step != queue.StepStabilizing {
		t.Fatalf("unexpected failure payload: %+v", resp)
	}
	if resp.Error == nil || resp.Error.Kind != "StabilizationError" {
		t.Fatalf("unexpected error body: %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Fatalf("failed job must not carry a result: %+v", resp.Result)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, ts.store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	key := storage.JobKey(job.ID, "source.mp4")
	if err := ts.files.Put(ctx, key, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+job.ID, nil)
	rec := doJSON(t, ts.server, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fetched, err := ts.store.GetByID(ctx, job.ID); err != nil || fetched != nil {
		t.Fatalf("job row should be gone: %+v %v", fetched, err)
	}
	if _, err := ts.files.Get(ctx, key); err == nil {
		t.Fatal("artifacts should be gone")
	}

	// Deleting again, or deleting an unknown id, still succeeds.
	rec = doJSON(t, ts.server, httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+job.ID, nil), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected idempotent 200, got %d", rec.Code)
	}
}

func TestServeArtifact(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	key := "some-job/viewer.html"
	if err := ts.files.Put(ctx, key, []byte("<html></html>")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+key, nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("unexpected content type %q", got)
	}

	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/some-job/missing.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthReflectsStageReadiness(t *testing.T) {
	ts := newTestServer(t)

	var health HealthResponse
	rec := doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/health", nil), &health)
	if rec.Code != http.StatusOK || health.Status != "ok" {
		t.Fatalf("expected healthy, got %d %+v", rec.Code, health)
	}

	ts.server.health = &fakeHealth{healths: []stage.Health{
		stage.Healthy("stabilize"),
		stage.Unhealthy("detect", "model weights missing"),
	}}
	rec = doJSON(t, ts.server, httptest.NewRequest(http.MethodGet, "/health", nil), &health)
	if rec.Code != http.StatusServiceUnavailable || health.Status != "degraded" {
		t.Fatalf("expected degraded, got %d %+v", rec.Code, health)
	}
	if len(health.Stages) != 2 || health.Stages[1].Detail == "" {
		t.Fatalf("unexpected stages: %+v", health.Stages)
	}
}
