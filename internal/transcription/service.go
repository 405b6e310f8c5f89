// Package transcription turns a source video into transcript text using a
// remote speech API with a local whisper.cpp fallback.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"dubber/internal/domain"
	"dubber/internal/langtag"
	"dubber/internal/providers/asr"
	"dubber/internal/retry"
)

// ErrNoProvider is returned when neither provider is configured.
var ErrNoProvider = errors.New("transcription: no provider enabled")

// AudioExtractor converts a video into 16 kHz mono WAV.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, in, out string) error
}

// Options tunes provider selection.
type Options struct {
	PrimaryEnabled bool
	DualMode       bool
	// ConfidenceThreshold is a probability; local results below it are
	// retried once with LargerModel when RetryLargerModel is set.
	ConfidenceThreshold float64
	RetryLargerModel    bool
	LargerModel         string
}

// Result is the outcome of one transcription stage.
type Result struct {
	Text       string
	Language   string
	Confidence float64
	Provider   string
	// Secondary is the local transcript kept in dual mode when the primary
	// result wins.
	Secondary string
	Warnings  []string
}

// Warning joins the accumulated warnings.
func (r *Result) Warning() string {
	return strings.Join(r.Warnings, "; ")
}

// Service runs transcription for one job at a time.
type Service struct {
	extractor AudioExtractor
	primary   asr.Transcriber
	local     asr.Transcriber
	exec      *retry.Executor
	opts      Options
	logger    zerolog.Logger
}

// New wires the service. primary and local may be nil when not configured.
func New(extractor AudioExtractor, primary, local asr.Transcriber, exec *retry.Executor, opts Options, logger *zerolog.Logger) *Service {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	if exec == nil {
		exec = retry.New(retry.Options{})
	}
	return &Service{
		extractor: extractor,
		primary:   primary,
		local:     local,
		exec:      exec,
		opts:      opts,
		logger:    l,
	}
}

// Transcribe extracts audio from videoPath into workDir and recognises it.
func (s *Service) Transcribe(ctx context.Context, videoPath, workDir, languageHint string) (*Result, error) {
	usePrimary := s.opts.PrimaryEnabled && s.primary != nil
	if !usePrimary && s.local == nil {
		return nil, retry.Permanent(ErrNoProvider)
	}

	audioPath := filepath.Join(workDir, "transcription_16k.wav")
	if err := s.extractor.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return nil, fmt.Errorf("transcription: extract audio: %w", err)
	}
	req := asr.Request{AudioPath: audioPath, Language: langtag.Normalize(languageHint)}

	var warnings []string
	var primaryRes *asr.Result
	var primaryErr error
	if usePrimary {
		primaryRes, primaryErr = retry.Call(ctx, s.exec, "transcription:"+s.primary.Name(), func(ctx context.Context) (*asr.Result, error) {
			return s.primary.Transcribe(ctx, req)
		})
		if primaryErr == nil && !s.opts.DualMode {
			return s.result(primaryRes, nil, warnings), nil
		}
		if primaryErr != nil {
			if ctx.Err() != nil {
				return nil, primaryErr
			}
			s.logger.Warn().Err(primaryErr).Str("provider", s.primary.Name()).Msg("transcription: primary provider failed")
			warnings = append(warnings, fmt.Sprintf("%s: primary transcription failed, used local engine: %v",
				domain.KindPartialProviderFailure, primaryErr))
		}
	}

	if s.local == nil {
		return nil, fmt.Errorf("transcription: all providers failed: %w", primaryErr)
	}
	localRes, localWarn, localErr := s.runLocal(ctx, req)
	if localWarn != "" {
		warnings = append(warnings, localWarn)
	}
	if localErr != nil {
		if primaryRes != nil {
			warnings = append(warnings, fmt.Sprintf("%s: local transcription failed: %v", domain.KindPartialProviderFailure, localErr))
			return s.result(primaryRes, nil, warnings), nil
		}
		if primaryErr != nil {
			return nil, fmt.Errorf("transcription: all providers failed: %w", errors.Join(primaryErr, localErr))
		}
		return nil, fmt.Errorf("transcription: %w", localErr)
	}
	if primaryRes != nil {
		return s.result(primaryRes, localRes, warnings), nil
	}
	return s.result(localRes, nil, warnings), nil
}

// runLocal runs the local engine once and, when confidence is too low,
// once more with the larger model, keeping the more confident result.
func (s *Service) runLocal(ctx context.Context, req asr.Request) (*asr.Result, string, error) {
	res, err := s.local.Transcribe(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if !s.opts.RetryLargerModel || s.opts.LargerModel == "" || res.Confidence >= s.opts.ConfidenceThreshold {
		return res, "", nil
	}

	s.logger.Info().
		Float64("confidence", res.Confidence).
		Float64("threshold", s.opts.ConfidenceThreshold).
		Str("model", s.opts.LargerModel).
		Msg("transcription: low confidence, retrying with larger model")
	larger := req
	larger.Model = s.opts.LargerModel
	second, err := s.local.Transcribe(ctx, larger)
	if err != nil {
		return res, fmt.Sprintf("larger model retry failed: %v", err), nil
	}
	if second.Confidence > res.Confidence {
		return second, "", nil
	}
	return res, "", nil
}

func (s *Service) result(chosen, secondary *asr.Result, warnings []string) *Result {
	out := &Result{
		Text:       strings.TrimSpace(chosen.Text),
		Language:   langtag.Normalize(chosen.Language),
		Confidence: chosen.Confidence,
		Provider:   chosen.Provider,
		Warnings:   warnings,
	}
	if secondary != nil {
		out.Secondary = strings.TrimSpace(secondary.Text)
		if out.Language == "" {
			out.Language = langtag.Normalize(secondary.Language)
		}
	}
	return out
}
