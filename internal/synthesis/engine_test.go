package synthesis

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubber/internal/audio"
	"dubber/internal/domain"
	"dubber/internal/providers/tts"
	"dubber/internal/retry"
)

const secondsPerRune = 0.001

type staticVoices struct {
	profiles []domain.VoiceProfile
	err      error
}

func (s staticVoices) ListVoiceProfiles(context.Context) ([]domain.VoiceProfile, error) {
	return s.profiles, s.err
}

// silenceTTS writes silence whose length is proportional to the text.
type silenceTTS struct {
	mu      sync.Mutex
	texts   []string
	voices  []string
	failAt  int
	failErr error
	formats map[int]audio.Format
}

func (s *silenceTTS) Name() string { return "fake" }

func (s *silenceTTS) Synthesize(ctx context.Context, req tts.Request) error {
	s.mu.Lock()
	idx := len(s.texts)
	s.texts = append(s.texts, req.Text)
	s.voices = append(s.voices, req.Voice.Name)
	s.mu.Unlock()
	if s.failErr != nil && idx >= s.failAt {
		return s.failErr
	}
	format := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if f, ok := s.formats[idx]; ok {
		format = f
	}
	return audio.WriteSilence(req.OutPath, format, float64(len([]rune(req.Text)))*secondsPerRune)
}

func newEngine(t *testing.T, synth tts.Synthesizer, voices VoiceLister, opts Options) (*Engine, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	opts.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	exec := retry.New(retry.Options{Sleep: func(context.Context, time.Duration) error { return nil }})
	return NewEngine(voices, synth, exec, opts, nil), &slept
}

func sentences(n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString("This sentence is part of a long narration script. ")
	}
	return strings.TrimSpace(sb.String()[:n])
}

var defaultVoices = staticVoices{profiles: []domain.VoiceProfile{
	{Name: "zed"}, {Name: "default"}, {Name: "anna"},
}}

func TestShortScriptUsesSingleCall(t *testing.T) {
	synth := &silenceTTS{}
	engine, slept := newEngine(t, synth, defaultVoices, Options{ChunkMin: 1000, ChunkMax: 2500, ChunkDelay: time.Second})
	out := filepath.Join(t.TempDir(), "synthesis.wav")

	res, err := engine.Synthesize(context.Background(), Request{Script: "Short script.", OutPath: out})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, []string{"Short script."}, synth.texts)
	assert.Empty(t, *slept)
	assert.InDelta(t, 13*secondsPerRune, res.DurationSeconds, 0.001)
}

func TestTargetDurationOnlyReportsDrift(t *testing.T) {
	synth := &silenceTTS{}
	engine, _ := newEngine(t, synth, defaultVoices, Options{ChunkMin: 1000, ChunkMax: 2500})
	out := filepath.Join(t.TempDir(), "synthesis.wav")

	res, err := engine.Synthesize(context.Background(), Request{Script: "Short script.", TargetDuration: 10, OutPath: out})
	require.NoError(t, err)
	assert.InDelta(t, 13*secondsPerRune, res.DurationSeconds, 0.001)
	assert.InDelta(t, res.DurationSeconds-10, res.Drift, 0.001)

	res, err = engine.Synthesize(context.Background(), Request{Script: "Short script.", OutPath: out})
	require.NoError(t, err)
	assert.Zero(t, res.Drift)
}

func TestLongScriptSplitsIntoOrderedChunks(t *testing.T) {
	synth := &silenceTTS{}
	engine, slept := newEngine(t, synth, defaultVoices, Options{ChunkMin: 1000, ChunkMax: 2500, ChunkDelay: 2 * time.Second})
	dir := t.TempDir()
	out := filepath.Join(dir, "synthesis.wav")
	script := sentences(6000)

	res, err := engine.Synthesize(context.Background(), Request{Script: script, OutPath: out, WorkDir: dir})
	require.NoError(t, err)
	require.Equal(t, 3, res.Chunks)
	require.Len(t, synth.texts, 3)
	assert.Equal(t, script, strings.Join(synth.texts, ""))
	for _, chunk := range synth.texts {
		n := len([]rune(chunk))
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 2500)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)

	var want float64
	for _, chunk := range synth.texts {
		want += float64(len([]rune(chunk))) * secondsPerRune
	}
	assert.InDelta(t, want, res.DurationSeconds, 0.001)
	probed, err := audio.Probe(out)
	require.NoError(t, err)
	assert.InDelta(t, want, probed.DurationSeconds, 0.001)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.chunk-*.wav"))
	assert.Empty(t, leftovers)
}

func TestChunkFailureReportsIndex(t *testing.T) {
	synth := &silenceTTS{failAt: 1, failErr: retry.Permanent(errors.New("voice rejected"))}
	engine, _ := newEngine(t, synth, defaultVoices, Options{ChunkMin: 1000, ChunkMax: 2500})
	out := filepath.Join(t.TempDir(), "synthesis.wav")

	_, err := engine.Synthesize(context.Background(), Request{Script: sentences(6000), OutPath: out})
	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, 3, chunkErr.Total)
	assert.Equal(t, 1, chunkErr.Succeeded)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestChunkFormatMismatchIsPermanent(t *testing.T) {
	synth := &silenceTTS{formats: map[int]audio.Format{2: {SampleRate: 22050, Channels: 1, BitDepth: 16}}}
	engine, _ := newEngine(t, synth, defaultVoices, Options{ChunkMin: 1000, ChunkMax: 2500})

	_, err := engine.Synthesize(context.Background(), Request{Script: sentences(6000), OutPath: filepath.Join(t.TempDir(), "s.wav")})
	require.ErrorIs(t, err, audio.ErrFormatMismatch)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestResolveVoice(t *testing.T) {
	cases := []struct {
		name    string
		voices  staticVoices
		request string
		want    string
		warning bool
		wantErr error
	}{
		{name: "explicit", voices: defaultVoices, request: "anna", want: "anna"},
		{name: "default preferred", voices: defaultVoices, want: "default"},
		{name: "first by name", voices: staticVoices{profiles: []domain.VoiceProfile{{Name: "zed"}, {Name: "bob"}}}, want: "bob"},
		{name: "unknown explicit falls back", voices: defaultVoices, request: "ghost", want: "default", warning: true},
		{name: "none", voices: staticVoices{}, wantErr: domain.ErrNoVoiceProfile},
		{name: "none explicit", voices: staticVoices{}, request: "anna", wantErr: domain.ErrNoVoiceProfile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newEngine(t, &silenceTTS{}, tc.voices, Options{})
			got, warning, err := engine.ResolveVoice(context.Background(), tc.request)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Name)
			assert.Equal(t, tc.warning, warning != "")
		})
	}
}

func TestSynthesizeUsesResolvedVoiceAndWarns(t *testing.T) {
	synth := &silenceTTS{}
	engine, _ := newEngine(t, synth, defaultVoices, Options{})
	res, err := engine.Synthesize(context.Background(), Request{Script: "Hi.", Voice: "ghost", OutPath: filepath.Join(t.TempDir(), "s.wav")})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Voice)
	assert.Contains(t, res.Warning, "ghost")
	assert.Equal(t, []string{"default"}, synth.voices)
}

func TestEmptyScriptIsMissingArtifact(t *testing.T) {
	engine, _ := newEngine(t, &silenceTTS{}, defaultVoices, Options{})
	_, err := engine.Synthesize(context.Background(), Request{Script: "  ", OutPath: filepath.Join(t.TempDir(), "s.wav")})
	var missing *domain.MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.StageScript, missing.Producer)
}

func TestRetryableChunkFailureIsRetried(t *testing.T) {
	flaky := &flakyTTS{failures: 1}
	engine, _ := newEngine(t, flaky, defaultVoices, Options{})
	res, err := engine.Synthesize(context.Background(), Request{Script: "Hello there.", OutPath: filepath.Join(t.TempDir(), "s.wav")})
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)
	assert.False(t, math.IsNaN(res.DurationSeconds))
}

type flakyTTS struct {
	failures int
	calls    int
}

func (f *flakyTTS) Name() string { return "flaky" }

func (f *flakyTTS) Synthesize(ctx context.Context, req tts.Request) error {
	f.calls++
	if f.calls <= f.failures {
		return &retry.StatusError{Provider: "flaky", StatusCode: 502}
	}
	return audio.WriteSilence(req.OutPath, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, 0.5)
}
