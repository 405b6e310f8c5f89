// Package asr contains speech-recognition providers: a remote
// OpenAI-compatible transcription API and a local whisper.cpp binary.
package asr

import (
	"context"
	"math"
	"strings"
)

const (
	ProviderOpenAI  = "openai"
	ProviderWhisper = "whispercpp"
)

// Request describes one transcription call.
type Request struct {
	AudioPath string
	// Language is an ISO 639-1 hint; empty means auto-detect.
	Language string
	// Model overrides the provider default, used for the confidence retry.
	Model string
}

// Segment is one recognised span.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
}

// Result is a provider-neutral transcript.
type Result struct {
	Provider   string
	Model      string
	Text       string
	Language   string
	Confidence float64
	Segments   []Segment
}

// Transcriber recognises speech in a local audio file.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// meanConfidence averages the segment confidences, clamped to [0,1].
func meanConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.Confidence
	}
	return clamp01(sum / float64(len(segments)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
