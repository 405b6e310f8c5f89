package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dubber/internal/providers/openaiclient"
	"dubber/internal/retry"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	openAIDefaultTimeout = 90 * time.Second
)

// OpenAIOptions configures the OpenAI chat-completions generator.
type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Temperature  float32
}

// OpenAIGenerator generates text through chat completions.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator constructs the generator.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: openAIDefaultTimeout}
	}
	client, err := openaiclient.New(openaiclient.Options{
		APIKey:       opts.APIKey,
		BaseURL:      opts.BaseURL,
		Organization: opts.Organization,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.4
	}
	return &OpenAIGenerator{client: client, model: model, temperature: temperature}, nil
}

func (o *OpenAIGenerator) Name() string { return ProviderOpenAI }

// Model returns the configured model identifier.
func (o *OpenAIGenerator) Model() string { return o.model }

func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", retry.Permanent(errors.New("openai: prompt is required"))
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", openaiclient.WrapError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai: empty response")
	}
	return text, nil
}
