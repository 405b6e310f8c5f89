package reconcile

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// fakeMedia tracks durations per path and applies stretches exactly.
type fakeMedia struct {
	durations  map[string]float64
	stretches  []float64
	stretchErr error
}

func (f *fakeMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	d, ok := f.durations[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return d, nil
}

func (f *fakeMedia) StretchAudio(ctx context.Context, in, out string, speed float64) error {
	f.stretches = append(f.stretches, speed)
	if f.stretchErr != nil {
		return f.stretchErr
	}
	if err := os.WriteFile(out, []byte("stretched"), 0o644); err != nil {
		return err
	}
	f.durations[out] = f.durations[in] / speed
	return nil
}

func setup(t *testing.T, duration float64) (*fakeMedia, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthesis.wav")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fakeMedia{durations: map[string]float64{path: duration}}, path
}

// Rename moves the file but the fake keys durations by path, so mirror it.
type renameAware struct{ *fakeMedia }

func (r renameAware) StretchAudio(ctx context.Context, in, out string, speed float64) error {
	if err := r.fakeMedia.StretchAudio(ctx, in, out, speed); err != nil {
		return err
	}
	r.durations[in] = r.durations[out]
	return nil
}

func TestWithinToleranceIsNoop(t *testing.T) {
	media, path := setup(t, 30.3)
	r := New(media, 0.5, nil)

	res, err := r.Reconcile(context.Background(), path, 30)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Adjusted || len(media.stretches) != 0 {
		t.Fatalf("expected no stretch, got %+v %v", res, media.stretches)
	}
}

func TestStretchesAndIsIdempotent(t *testing.T) {
	media, path := setup(t, 36)
	r := New(media, 0.5, nil)
	m := renameAware{media}
	r.media = m

	res, err := r.Reconcile(context.Background(), path, 30)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Adjusted || math.Abs(res.Speed-1.2) > 1e-9 {
		t.Fatalf("unexpected result %+v", res)
	}
	if math.Abs(res.After-30) > 0.5 {
		t.Fatalf("after = %v, want within tolerance of 30", res.After)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "stretched" {
		t.Fatalf("original not replaced, got %q", data)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "synthesis.stretch.wav")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	again, err := r.Reconcile(context.Background(), path, 30)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Adjusted || len(media.stretches) != 1 {
		t.Fatalf("second run should be a no-op, got %+v with %d stretches", again, len(media.stretches))
	}
}

func TestSlowsDownShortAudio(t *testing.T) {
	media, path := setup(t, 20)
	r := New(media, 0, nil)
	r.media = renameAware{media}

	res, err := r.Reconcile(context.Background(), path, 25)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if math.Abs(res.Speed-0.8) > 1e-9 {
		t.Fatalf("speed = %v, want 0.8", res.Speed)
	}
}

func TestStretchFailureKeepsOriginal(t *testing.T) {
	media, path := setup(t, 40)
	media.stretchErr = errors.New("ffmpeg failed")
	r := New(media, 0.5, nil)

	if _, err := r.Reconcile(context.Background(), path, 30); err == nil {
		t.Fatal("expected error")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Fatalf("original should be untouched, got %q", data)
	}
}

func TestInvalidTarget(t *testing.T) {
	media, path := setup(t, 10)
	r := New(media, 0.5, nil)
	if _, err := r.Reconcile(context.Background(), path, 0); err == nil {
		t.Fatal("expected invalid target error")
	}
}
