package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dubber/internal/audio"
	"dubber/internal/domain"
	"dubber/internal/events"
	"dubber/internal/http/handlers"
)

type fakeJobs struct {
	jobs     map[string]*domain.VideoJob
	updates  map[string]string
	retried  domain.Stage
	started  []string
	audio    []byte
	busy     bool
	createID string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*domain.VideoJob{}, createID: "job-1"}
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.VideoJob) error {
	if job.SourceURL == "" && job.SourcePath == "" {
		return domain.ErrInvalidInput
	}
	job.ID = f.createID
	job.RunStatus = domain.RunNotStarted
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) Status(ctx context.Context, jobID string) (*domain.VideoJob, []domain.StageStatus, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	board := domain.NewStageBoard(nil).Ordered(jobID)
	return job, board, nil
}

func (f *fakeJobs) Start(ctx context.Context, jobID string) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if f.busy {
		return domain.ErrJobBusy
	}
	f.started = append(f.started, jobID)
	job.RunStatus = domain.RunQueued
	return nil
}

func (f *fakeJobs) RetryStage(ctx context.Context, jobID string, stage domain.Stage) error {
	if _, ok := f.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	if f.busy {
		return domain.ErrJobBusy
	}
	f.retried = stage
	return nil
}

func (f *fakeJobs) Reprocess(ctx context.Context, jobID string) error {
	return f.RetryStage(ctx, jobID, domain.StageDownload)
}

func (f *fakeJobs) UpdateFields(ctx context.Context, jobID string, fields map[string]string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	for k := range fields {
		if k == "color" {
			return fmt.Errorf("%w: %q", domain.ErrUnknownField, k)
		}
	}
	f.updates = fields
	return nil
}

func (f *fakeJobs) UploadAudio(ctx context.Context, jobID string, data []byte) (*domain.SynthesizedAudio, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return nil, domain.ErrNotFound
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		return nil, audio.ErrInvalidWAV
	}
	f.audio = data
	return &domain.SynthesizedAudio{JobID: jobID, DurationSeconds: 2.5}, nil
}

func newServer(t *testing.T) (*httptest.Server, *fakeJobs, *events.Bus) {
	t.Helper()
	jobs := newFakeJobs()
	bus := events.NewBus(10)
	app := handlers.NewApp(jobs, bus, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(app, zerolog.Nop(), Options{}))
	t.Cleanup(srv.Close)
	return srv, jobs, bus
}

func do(t *testing.T, method, url string, body io.Reader) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, payload := do(t, http.MethodGet, srv.URL+"/v1/healthz", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, payload)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestHealthReportsUnavailableDependency(t *testing.T) {
	jobs := newFakeJobs()
	app := handlers.NewApp(jobs, events.NewBus(10), zerolog.Nop())
	app.Ready = func(ctx context.Context) error { return errors.New("db down") }
	srv := httptest.NewServer(NewRouter(app, zerolog.Nop(), Options{}))
	defer srv.Close()

	resp, payload := do(t, http.MethodGet, srv.URL+"/v1/healthz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || payload["status"] != "degraded" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, payload)
	}
}

func TestCreateJob(t *testing.T) {
	srv, jobs, _ := newServer(t)
	body := `{"source_url":"https://youtube.com/shorts/abc","target_language":"Indonesian","start":true}`
	resp, payload := do(t, http.MethodPost, srv.URL+"/v1/jobs", strings.NewReader(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d (%v)", resp.StatusCode, payload)
	}
	if payload["id"] != "job-1" || payload["target_language"] != "id" || payload["run_status"] != "queued" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if stages, ok := payload["stages"].([]any); !ok || len(stages) != len(domain.Stages) {
		t.Fatalf("stages missing: %v", payload["stages"])
	}
	if len(jobs.started) != 1 {
		t.Fatal("start flag should queue the job")
	}
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing source", `{"title":"x"}`},
		{"bad url", `{"source_url":"not a url"}`},
		{"unknown field", `{"source_url":"https://a.b/c","colour":"red"}`},
		{"bad language", `{"source_url":"https://a.b/c","target_language":"??"}`},
		{"malformed", `{`},
		{"server path", `{"source_path":"/etc/passwd"}`},
		{"server path with url", `{"source_url":"https://a.b/c","source_path":"/etc/passwd"}`},
	}
	srv, _, _ := newServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, payload := do(t, http.MethodPost, srv.URL+"/v1/jobs", strings.NewReader(tt.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d (%v)", resp.StatusCode, payload)
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, payload := do(t, http.MethodGet, srv.URL+"/v1/jobs/missing", nil)
	if resp.StatusCode != http.StatusNotFound || payload["error"] != "not_found" {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, payload)
	}
}

func TestUpdateJob(t *testing.T) {
	srv, jobs, _ := newServer(t)
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}

	resp, _ := do(t, http.MethodPatch, srv.URL+"/v1/jobs/j", strings.NewReader(`{"script":"Halo","target_language":"en-US"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if jobs.updates["script"] != "Halo" || jobs.updates["target_language"] != "en" {
		t.Fatalf("unexpected updates: %v", jobs.updates)
	}

	resp, _ = do(t, http.MethodPatch, srv.URL+"/v1/jobs/j", strings.NewReader(`{"color":"red"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPatch, srv.URL+"/v1/jobs/j", strings.NewReader(`{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty update status = %d", resp.StatusCode)
	}
}

func TestUploadAudio(t *testing.T) {
	srv, jobs, _ := newServer(t)
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}

	resp, payload := do(t, http.MethodPut, srv.URL+"/v1/jobs/j/audio", strings.NewReader("RIFFdata"))
	if resp.StatusCode != http.StatusOK || payload["duration_seconds"] != 2.5 {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, payload)
	}
	if string(jobs.audio) != "RIFFdata" {
		t.Fatalf("payload not forwarded: %q", jobs.audio)
	}

	resp, _ = do(t, http.MethodPut, srv.URL+"/v1/jobs/j/audio", strings.NewReader("mp3!"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid wav status = %d", resp.StatusCode)
	}
}

func TestUploadAudioTooLarge(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}
	app := handlers.NewApp(jobs, nil, zerolog.Nop())
	app.MaxUploadBytes = 8
	srv := httptest.NewServer(NewRouter(app, zerolog.Nop(), Options{}))
	defer srv.Close()

	resp, _ := do(t, http.MethodPut, srv.URL+"/v1/jobs/j/audio", strings.NewReader("RIFF0123456789"))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRetryStageAndReprocess(t *testing.T) {
	srv, jobs, _ := newServer(t)
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/jobs/j/stages/duration-adjustment/retry", nil)
	if resp.StatusCode != http.StatusAccepted || jobs.retried != domain.StageDurationAdjustment {
		t.Fatalf("retry: status=%d stage=%q", resp.StatusCode, jobs.retried)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/jobs/j/stages/mixing/retry", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown stage status = %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/jobs/j/reprocess", nil)
	if resp.StatusCode != http.StatusAccepted || jobs.retried != domain.StageDownload {
		t.Fatalf("reprocess: status=%d stage=%q", resp.StatusCode, jobs.retried)
	}

	jobs.busy = true
	resp, payload := do(t, http.MethodPost, srv.URL+"/v1/jobs/j/reprocess", nil)
	if resp.StatusCode != http.StatusConflict || payload["error"] != "job_busy" {
		t.Fatalf("busy: %d %v", resp.StatusCode, payload)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/jobs/j/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("busy start status = %d", resp.StatusCode)
	}
}

func TestJobEvents(t *testing.T) {
	srv, jobs, bus := newServer(t)
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}
	ctx := context.Background()
	_ = bus.Publish(ctx, events.Event{JobID: "j", Type: events.TypeStageRunning, Stage: domain.StageDownload, Timestamp: time.Now()})
	_ = bus.Publish(ctx, events.Event{JobID: "other", Type: events.TypeStageRunning})
	_ = bus.Publish(ctx, events.Event{JobID: "j", Type: events.TypeStageCompleted, Stage: domain.StageDownload})

	resp, payload := do(t, http.MethodGet, srv.URL+"/v1/jobs/j/events?since=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	evs, _ := payload["events"].([]any)
	if len(evs) != 1 || payload["next"] != float64(3) {
		t.Fatalf("unexpected events payload: %v", payload)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/jobs/j/events?since=-4", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative since status = %d", resp.StatusCode)
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["j"] = &domain.VideoJob{ID: "j"}
	app := handlers.NewApp(jobs, nil, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(app, zerolog.Nop(), Options{RateLimit: 1}))
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/jobs/j/start", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}
	resp, payload := do(t, http.MethodPost, srv.URL+"/v1/jobs/j/reprocess", nil)
	if resp.StatusCode != http.StatusTooManyRequests || payload["error"] != "rate_limited" {
		t.Fatalf("second mutation: %d %v", resp.StatusCode, payload)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/jobs/j", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", resp.StatusCode)
	}
}
