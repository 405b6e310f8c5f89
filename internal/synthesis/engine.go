// Package synthesis renders a narration script to a single WAV track,
// splitting long scripts into chunks that are synthesized in order.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dubber/internal/audio"
	"dubber/internal/domain"
	"dubber/internal/providers/tts"
	"dubber/internal/retry"
	"dubber/internal/textseg"
)

// DefaultVoiceName is preferred when no voice is requested.
const DefaultVoiceName = "default"

// VoiceLister lists the stored voice profiles.
type VoiceLister interface {
	ListVoiceProfiles(ctx context.Context) ([]domain.VoiceProfile, error)
}

// Options tunes chunking. Zero values take the defaults.
type Options struct {
	ChunkMin     int
	ChunkMax     int
	ChunkTimeout time.Duration
	ChunkDelay   time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Request describes one synthesis.
type Request struct {
	Script string
	Voice  string
	// TargetDuration is the source video length in seconds. The engine only
	// reports drift against it; stretching the track is reconcile's job.
	TargetDuration float64
	OutPath        string
	// WorkDir holds intermediate chunk files; defaults to the OutPath dir.
	WorkDir string
}

// Result describes the synthesized track.
type Result struct {
	Path            string
	DurationSeconds float64
	Chunks          int
	Voice           string
	Warning         string
	// Drift is DurationSeconds minus the requested target, zero without one.
	Drift float64
}

// ChunkError reports which chunk of a multi-chunk synthesis failed.
type ChunkError struct {
	Index     int
	Total     int
	Succeeded int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("synthesis: chunk %d/%d failed after %d succeeded: %v", e.Index+1, e.Total, e.Succeeded, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Engine coordinates voice resolution, chunking and concatenation.
type Engine struct {
	voices VoiceLister
	tts    tts.Synthesizer
	exec   *retry.Executor
	opts   Options
	logger zerolog.Logger
}

// NewEngine constructs an Engine. exec is narrowed to the chunk timeout.
func NewEngine(voices VoiceLister, synth tts.Synthesizer, exec *retry.Executor, opts Options, logger *zerolog.Logger) *Engine {
	if opts.ChunkMin <= 0 {
		opts.ChunkMin = textseg.DefaultOptions.Min
	}
	if opts.ChunkMax <= 0 {
		opts.ChunkMax = textseg.DefaultOptions.Max
	}
	if opts.ChunkMin > opts.ChunkMax {
		opts.ChunkMin = opts.ChunkMax
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if exec == nil {
		exec = retry.New(retry.Options{})
	}
	if opts.ChunkTimeout > 0 {
		exec = exec.WithAttemptTimeout(opts.ChunkTimeout)
	}
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Engine{voices: voices, tts: synth, exec: exec, opts: opts, logger: l}
}

// ResolveVoice picks the requested profile, then "default", then the first
// profile by name. An unknown requested name falls back with a warning.
func (e *Engine) ResolveVoice(ctx context.Context, name string) (domain.VoiceProfile, string, error) {
	profiles, err := e.voices.ListVoiceProfiles(ctx)
	if err != nil {
		return domain.VoiceProfile{}, "", fmt.Errorf("synthesis: list voices: %w", err)
	}
	if len(profiles) == 0 {
		return domain.VoiceProfile{}, "", retry.Permanent(domain.ErrNoVoiceProfile)
	}
	byName := make(map[string]domain.VoiceProfile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	name = strings.TrimSpace(name)
	warning := ""
	if name != "" {
		if p, ok := byName[name]; ok {
			return p, "", nil
		}
		warning = fmt.Sprintf("voice profile %q not found", name)
	}
	chosen, ok := byName[DefaultVoiceName]
	if !ok {
		sorted := append([]domain.VoiceProfile(nil), profiles...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		chosen = sorted[0]
	}
	if warning != "" {
		warning += fmt.Sprintf(", using %q", chosen.Name)
		e.logger.Warn().Str("voice", name).Str("fallback", chosen.Name).Msg("synthesis: voice fallback")
	}
	return chosen, warning, nil
}

// Synthesize renders req.Script into req.OutPath.
func (e *Engine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	script := strings.TrimSpace(req.Script)
	if script == "" {
		return nil, retry.Permanent(&domain.MissingArtifactError{Artifact: string(domain.ArtifactScript), Producer: domain.StageScript})
	}
	profile, warning, err := e.ResolveVoice(ctx, req.Voice)
	if err != nil {
		return nil, err
	}
	voice := tts.Voice{
		Name:          profile.Name,
		SamplePath:    profile.SamplePath,
		ReferenceText: profile.ReferenceText,
		ProviderVoice: profile.ProviderVoice,
	}

	chunks := []string{script}
	if len([]rune(script)) > e.opts.ChunkMax {
		chunks = textseg.Split(script, textseg.Options{Min: e.opts.ChunkMin, Max: e.opts.ChunkMax})
	}

	var info audio.Info
	if len(chunks) == 1 {
		if err := e.call(ctx, 0, 1, chunks[0], voice, req.OutPath); err != nil {
			return nil, err
		}
		info, err = audio.Probe(req.OutPath)
		if err != nil {
			return nil, fmt.Errorf("synthesis: provider output: %w", err)
		}
	} else {
		info, err = e.synthesizeChunks(ctx, chunks, voice, req)
		if err != nil {
			return nil, err
		}
	}

	var drift float64
	if req.TargetDuration > 0 {
		drift = info.DurationSeconds - req.TargetDuration
	}
	e.logger.Info().
		Int("chunks", len(chunks)).
		Str("voice", profile.Name).
		Float64("duration", info.DurationSeconds).
		Float64("target", req.TargetDuration).
		Float64("drift", drift).
		Msg("synthesis: done")
	return &Result{
		Path:            req.OutPath,
		DurationSeconds: info.DurationSeconds,
		Chunks:          len(chunks),
		Voice:           profile.Name,
		Warning:         warning,
		Drift:           drift,
	}, nil
}

func (e *Engine) synthesizeChunks(ctx context.Context, chunks []string, voice tts.Voice, req Request) (audio.Info, error) {
	dir := req.WorkDir
	if dir == "" {
		dir = filepath.Dir(req.OutPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return audio.Info{}, fmt.Errorf("synthesis: prepare work dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(req.OutPath), filepath.Ext(req.OutPath))
	paths := make([]string, 0, len(chunks))
	defer func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}()

	for i, chunk := range chunks {
		if i > 0 && e.opts.ChunkDelay > 0 {
			if err := e.opts.Sleep(ctx, e.opts.ChunkDelay); err != nil {
				return audio.Info{}, &ChunkError{Index: i, Total: len(chunks), Succeeded: i, Err: err}
			}
		}
		path := filepath.Join(dir, fmt.Sprintf("%s.chunk-%03d.wav", base, i))
		if err := e.call(ctx, i, len(chunks), chunk, voice, path); err != nil {
			return audio.Info{}, &ChunkError{Index: i, Total: len(chunks), Succeeded: i, Err: err}
		}
		paths = append(paths, path)
	}

	info, err := audio.Concat(req.OutPath, paths)
	if err != nil {
		if errors.Is(err, audio.ErrFormatMismatch) {
			return audio.Info{}, retry.Permanent(fmt.Errorf("synthesis: %w", err))
		}
		return audio.Info{}, fmt.Errorf("synthesis: concat: %w", err)
	}
	return info, nil
}

func (e *Engine) call(ctx context.Context, index, total int, text string, voice tts.Voice, out string) error {
	op := fmt.Sprintf("synthesis:%s chunk %d/%d", e.tts.Name(), index+1, total)
	err := e.exec.Do(ctx, op, func(ctx context.Context) error {
		return e.tts.Synthesize(ctx, tts.Request{Text: text, Voice: voice, OutPath: out})
	})
	if err != nil {
		return err
	}
	e.logger.Debug().Int("chunk", index+1).Int("total", total).Int("runes", len([]rune(text))).Msg("synthesis: chunk done")
	return nil
}
