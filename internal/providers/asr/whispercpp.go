package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dubber/internal/media"
	"dubber/internal/retry"
)

// WhisperOptions configures the local whisper.cpp provider.
type WhisperOptions struct {
	BinaryPath string
	ModelDir   string
	Model      string
	Threads    int
	Runner     media.Runner
}

// Whisper runs whisper.cpp and reads its full JSON export.
type Whisper struct {
	bin      string
	modelDir string
	model    string
	threads  int
	runner   media.Runner
}

// NewWhisper builds the local provider.
func NewWhisper(opts WhisperOptions) *Whisper {
	w := &Whisper{
		bin:      opts.BinaryPath,
		modelDir: opts.ModelDir,
		model:    opts.Model,
		threads:  opts.Threads,
		runner:   opts.Runner,
	}
	if w.bin == "" {
		w.bin = "whisper-cli"
	}
	if w.model == "" {
		w.model = "base"
	}
	if w.runner == nil {
		w.runner = media.ExecRunner{}
	}
	return w
}

func (w *Whisper) Name() string { return ProviderWhisper }

// ModelPath resolves a model name like "small" to ggml-small.bin in the model
// directory. Values ending in .bin are used as given.
func (w *Whisper) ModelPath(model string) string {
	if strings.HasSuffix(model, ".bin") {
		if filepath.IsAbs(model) || w.modelDir == "" {
			return model
		}
		return filepath.Join(w.modelDir, model)
	}
	return filepath.Join(w.modelDir, "ggml-"+model+".bin")
}

func (w *Whisper) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, retry.Permanent(errors.New("whisper: audio path is required"))
	}
	model := w.model
	if m := strings.TrimSpace(req.Model); m != "" {
		model = m
	}
	modelPath := w.ModelPath(model)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, retry.Permanent(fmt.Errorf("whisper: model %s: %w", modelPath, err))
	}

	outBase := strings.TrimSuffix(req.AudioPath, filepath.Ext(req.AudioPath)) + ".whisper-" + sanitizeModel(model)
	args := BuildWhisperArgs(modelPath, req.AudioPath, outBase, req.Language, w.threads)
	res, err := w.runner.Run(ctx, w.bin, args...)
	if err != nil {
		return nil, &media.CommandError{Tool: "whisper.cpp", Args: args, ExitCode: res.ExitCode, Output: res.Stderr, Err: err}
	}
	jsonPath := outBase + ".json"
	defer os.Remove(jsonPath)

	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: completed but transcript json is missing: %w", err)
	}
	out, err := ParseWhisperJSON(raw)
	if err != nil {
		return nil, err
	}
	out.Model = model
	if out.Language == "" {
		out.Language = req.Language
	}
	return out, nil
}

// BuildWhisperArgs builds whisper.cpp args for full JSON export.
func BuildWhisperArgs(modelPath, audioPath, outBase, language string, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-ojf",
	}
	if lang := strings.ToLower(strings.TrimSpace(language)); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if threads > 0 {
		args = append(args, "-t", fmt.Sprint(threads))
	}
	return args
}

type whisperDoc struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			Text string  `json:"text"`
			P    float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// ParseWhisperJSON decodes a whisper.cpp -ojf document. Segment confidence is
// the mean token probability, special tokens excluded.
func ParseWhisperJSON(raw []byte) (*Result, error) {
	var doc whisperDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("whisper: decode json: %w", err)
	}
	segments := make([]Segment, 0, len(doc.Transcription))
	for _, item := range doc.Transcription {
		var sum float64
		var n int
		for _, tok := range item.Tokens {
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			sum += tok.P
			n++
		}
		conf := 0.0
		if n > 0 {
			conf = clamp01(sum / float64(n))
		}
		segments = append(segments, Segment{
			Start:      float64(item.Offsets.From) / 1000,
			End:        float64(item.Offsets.To) / 1000,
			Text:       item.Text,
			Confidence: conf,
		})
	}
	return &Result{
		Provider:   ProviderWhisper,
		Text:       joinSegments(segments),
		Language:   doc.Result.Language,
		Confidence: meanConfidence(segments),
		Segments:   segments,
	}, nil
}

func sanitizeModel(model string) string {
	base := strings.TrimSuffix(filepath.Base(model), ".bin")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, base)
}
