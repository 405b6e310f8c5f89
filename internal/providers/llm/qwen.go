package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dubber/internal/infra"
	"dubber/internal/retry"
)

// ErrMissingQwenKey indicates that the client was configured without credentials.
var ErrMissingQwenKey = errors.New("qwen: api key is required")

// QwenOptions configures the DashScope Qwen text client.
type QwenOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// QwenGenerator performs HTTP calls to the DashScope text-generation API.
type QwenGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type qwenRequest struct {
	Model      string     `json:"model"`
	Input      qwenInput  `json:"input"`
	Parameters qwenParams `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenParams struct {
	ResultFormat string  `json:"result_format"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type qwenResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Message qwenMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewQwenGenerator constructs a client with defaults and injected dependencies.
func NewQwenGenerator(opts QwenOptions) (*QwenGenerator, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingQwenKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-plus"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &QwenGenerator{
		apiKey:     key,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *QwenGenerator) Name() string { return ProviderQwen }

func (c *QwenGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", retry.Permanent(errors.New("qwen: prompt is required"))
	}
	payload := qwenRequest{
		Model: c.model,
		Input: qwenInput{Messages: []qwenMessage{{Role: "user", Content: prompt}}},
		Parameters: qwenParams{
			ResultFormat: "message",
			Temperature:  0.4,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("qwen: encode request: %w", err))
	}
	endpoint := c.baseURL + "/services/aigc/text-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("qwen: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &retry.StatusError{Provider: "qwen", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded qwenResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("qwen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return "", fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code)
	}
	text := decoded.Output.Text
	if len(decoded.Output.Choices) > 0 {
		text = decoded.Output.Choices[0].Message.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("qwen: empty response")
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Int("chars", len(text)).
		Msg("qwen: generated text")
	return text, nil
}
