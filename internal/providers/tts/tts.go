// Package tts holds the speech synthesis providers. Every provider writes a
// WAV file so chunks can be concatenated without re-encoding.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderClone  = "clone"
)

var ErrUnknownProvider = errors.New("tts: unknown provider")

// Voice carries the resolved voice profile data a provider may need.
type Voice struct {
	Name          string
	SamplePath    string
	ReferenceText string
	ProviderVoice string
}

// Request is one synthesis call.
type Request struct {
	Text    string
	Voice   Voice
	OutPath string
}

// Synthesizer renders text to a WAV file at Request.OutPath.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) error
}

// writeFile streams r into path through a temp file so a failed call never
// leaves a truncated WAV behind.
func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tts: prepare dir: %w", err)
	}
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("tts: create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tts: write audio: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tts: close audio: %w", closeErr)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return errors.New("tts: provider returned empty audio")
	}
	return os.Rename(tmp, path)
}

func requireText(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("tts: text is required")
	}
	if strings.TrimSpace(req.OutPath) == "" {
		return errors.New("tts: output path is required")
	}
	return nil
}
