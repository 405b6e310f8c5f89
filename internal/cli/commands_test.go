package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dubber/internal/domain"
	"dubber/internal/storage"
)

type fakeControl struct {
	created *domain.VideoJob
	started []string
	retried domain.Stage
	fields  map[string]string
	upload  []byte
}

func (f *fakeControl) Create(ctx context.Context, job *domain.VideoJob) error {
	job.ID = "job-42"
	f.created = job
	return nil
}

func (f *fakeControl) Status(ctx context.Context, jobID string) (*domain.VideoJob, []domain.StageStatus, error) {
	if jobID != "job-42" {
		return nil, nil, domain.ErrNotFound
	}
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &domain.VideoJob{ID: jobID, SourceURL: "https://example.com/v", RunStatus: domain.RunFailed, LastError: "synthesis: timeout", Suggestion: "retry later"}
	stages := domain.StageBoard{
		domain.StageDownload:  {Stage: domain.StageDownload, State: domain.StateCompleted, CompletedAt: &done},
		domain.StageSynthesis: {Stage: domain.StageSynthesis, State: domain.StateFailed, Error: "provider timed out"},
	}.Ordered(jobID)
	return job, stages, nil
}

func (f *fakeControl) Start(ctx context.Context, jobID string) error {
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeControl) RetryStage(ctx context.Context, jobID string, stage domain.Stage) error {
	f.retried = stage
	return nil
}

func (f *fakeControl) Reprocess(ctx context.Context, jobID string) error {
	f.retried = domain.StageDownload
	return nil
}

func (f *fakeControl) UpdateFields(ctx context.Context, jobID string, fields map[string]string) error {
	f.fields = fields
	return nil
}

func (f *fakeControl) UploadAudio(ctx context.Context, jobID string, data []byte) (*domain.SynthesizedAudio, error) {
	f.upload = data
	return &domain.SynthesizedAudio{JobID: jobID, DurationSeconds: 1.5}, nil
}

type fakeKeys struct {
	provider, key string
	deleted       string
}

func (f *fakeKeys) SetToken(ctx context.Context, provider, key string) error {
	f.provider, f.key = provider, key
	return nil
}

func (f *fakeKeys) DeleteToken(ctx context.Context, provider string) error {
	f.deleted = provider
	return nil
}

type fakeVoices struct{ saved domain.VoiceProfile }

func (f *fakeVoices) SaveVoiceProfile(ctx context.Context, p domain.VoiceProfile) error {
	f.saved = p
	return nil
}

type harness struct {
	jobs     *fakeControl
	keys     *fakeKeys
	voices   *fakeVoices
	files    *storage.FileStore
	migrated bool
	opened   int
	closed   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	return &harness{jobs: &fakeControl{}, keys: &fakeKeys{}, voices: &fakeVoices{}, files: files}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context) (*Deps, func(), error) {
		h.opened++
		deps := &Deps{
			Jobs:   h.jobs,
			Keys:   h.keys,
			Voices: h.voices,
			Files:  h.files,
			Migrate: func(ctx context.Context) error {
				h.migrated = true
				return nil
			},
		}
		return deps, func() { h.closed++ }, nil
	}
	root := NewRootCommand(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCreateCommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "create", "https://youtube.com/shorts/x", "--title", "Hello", "--lang", "Indonesian", "--start")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if strings.TrimSpace(out) != "job-42" {
		t.Fatalf("output = %q", out)
	}
	if h.jobs.created.SourceURL != "https://youtube.com/shorts/x" || h.jobs.created.TargetLanguage != "id" || h.jobs.created.Title != "Hello" {
		t.Fatalf("unexpected job: %+v", h.jobs.created)
	}
	if len(h.jobs.started) != 1 || h.opened != 1 || h.closed != 1 {
		t.Fatalf("started=%v opened=%d closed=%d", h.jobs.started, h.opened, h.closed)
	}
}

func TestCreateLocalSource(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "create", "clip.mp4", "--local"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !filepath.IsAbs(h.jobs.created.SourcePath) || h.jobs.created.SourceURL != "" {
		t.Fatalf("unexpected job: %+v", h.jobs.created)
	}
}

func TestCreateRejectsUnknownLanguageBeforeConnecting(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "create", "https://a.b/c", "--lang", "??"); err == nil {
		t.Fatal("expected error")
	}
	if h.opened != 0 {
		t.Fatal("database should not be opened for invalid input")
	}
}

func TestRetryCommand(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "retry", "job-42", "duration-adjustment"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.jobs.retried != domain.StageDurationAdjustment {
		t.Fatalf("retried %q", h.jobs.retried)
	}
	_, err := h.run(t, "retry", "job-42", "mixing")
	if !errors.Is(err, domain.ErrUnknownStage) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "status", "job-42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"status:   failed", "hint:     retry later", "synthesis", "provider timed out", "publish"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := h.run(t, "status", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetCommand(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "set", "job-42", "script=Halo semua", "target_language=English"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if h.jobs.fields["script"] != "Halo semua" || h.jobs.fields["target_language"] != "en" {
		t.Fatalf("fields = %v", h.jobs.fields)
	}
	if _, err := h.run(t, "set", "job-42", "novalue"); err == nil {
		t.Fatal("expected error for malformed assignment")
	}
}

func TestUploadAudioCommand(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "voice.wav")
	if err := os.WriteFile(path, []byte("RIFF...."), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := h.run(t, "upload-audio", "job-42", path)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if string(h.jobs.upload) != "RIFF...." || !strings.Contains(out, "1.50s") {
		t.Fatalf("upload=%q out=%q", h.jobs.upload, out)
	}
}

func TestSetKeyCommand(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "set-key", "Gemini", "g-key"); err != nil {
		t.Fatalf("set-key: %v", err)
	}
	if h.keys.provider != "gemini" || h.keys.key != "g-key" {
		t.Fatalf("stored %+v", h.keys)
	}

	t.Setenv("QWEN_API_KEY", "q-env")
	if _, err := h.run(t, "set-key", "qwen"); err != nil {
		t.Fatalf("set-key from env: %v", err)
	}
	if h.keys.key != "q-env" {
		t.Fatalf("stored %+v", h.keys)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := h.run(t, "set-key", "openai"); err == nil {
		t.Fatal("expected error without a key")
	}

	if _, err := h.run(t, "unset-key", "Qwen"); err != nil || h.keys.deleted != "qwen" {
		t.Fatalf("unset-key: err=%v deleted=%q", err, h.keys.deleted)
	}
}

func TestAddVoiceCommand(t *testing.T) {
	h := newHarness(t)
	sample := filepath.Join(t.TempDir(), "Ref.WAV")
	if err := os.WriteFile(sample, []byte("RIFFvoice"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.run(t, "add-voice", "narrator", "--sample", sample, "--text", "hello there"); err != nil {
		t.Fatalf("add-voice: %v", err)
	}
	want, _ := h.files.Path("voices/narrator.wav")
	if h.voices.saved.Name != "narrator" || h.voices.saved.SamplePath != want || h.voices.saved.ReferenceText != "hello there" {
		t.Fatalf("saved %+v", h.voices.saved)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "RIFFvoice" {
		t.Fatalf("sample not imported: %q %v", data, err)
	}

	if _, err := h.run(t, "add-voice", "empty"); err == nil {
		t.Fatal("expected error without sample or provider voice")
	}
}

func TestMigrateCommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "migrate")
	if err != nil || !h.migrated || !strings.Contains(out, "schema applied") {
		t.Fatalf("migrate: out=%q err=%v migrated=%v", out, err, h.migrated)
	}
}
