package tts

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dubber/internal/providers/openaiclient"
	"dubber/internal/retry"
)

// OpenAIOptions configures the OpenAI speech provider.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	DefaultVoice string
	HTTPClient   *http.Client
}

// OpenAI renders speech through /audio/speech.
type OpenAI struct {
	client       *openai.Client
	model        string
	defaultVoice string
}

// NewOpenAI builds the provider.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
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
		model = string(openai.TTSModel1)
	}
	voice := strings.TrimSpace(opts.DefaultVoice)
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAI{client: client, model: model, defaultVoice: voice}, nil
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Synthesize(ctx context.Context, req Request) error {
	if err := requireText(req); err != nil {
		return retry.Permanent(err)
	}
	voice := strings.TrimSpace(req.Voice.ProviderVoice)
	if voice == "" {
		voice = o.defaultVoice
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return openaiclient.WrapError("openai-tts", err)
	}
	defer resp.Close()
	return writeFile(req.OutPath, resp)
}
