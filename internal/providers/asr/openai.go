package asr

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dubber/internal/providers/openaiclient"
	"dubber/internal/retry"
)

// OpenAIOptions configures the remote transcription provider.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAI transcribes through the /audio/transcriptions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds the remote provider.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	client, err := openaiclient.New(openaiclient.Options{
		APIKey:     opts.APIKey,
		BaseURL:    opts.BaseURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{client: client, model: model}, nil
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, retry.Permanent(errors.New("openai asr: audio path is required"))
	}
	model := o.model
	if m := strings.TrimSpace(req.Model); m != "" {
		model = m
	}
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: req.AudioPath,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, openaiclient.WrapError("openai-asr", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: clamp01(math.Exp(s.AvgLogprob)),
		})
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = joinSegments(segments)
	}
	language := resp.Language
	if language == "" {
		language = req.Language
	}
	return &Result{
		Provider:   ProviderOpenAI,
		Model:      model,
		Text:       text,
		Language:   language,
		Confidence: meanConfidence(segments),
		Segments:   segments,
	}, nil
}
