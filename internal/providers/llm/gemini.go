package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dubber/internal/retry"
)

// ErrMissingGeminiKey indicates the Gemini generator has no credentials.
var ErrMissingGeminiKey = errors.New("gemini: api key is required")

const geminiDefaultTimeout = 90 * time.Second

// GeminiOptions configures the Gemini generateContent generator.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiGenerator calls the Generative Language API.
type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// NewGeminiGenerator constructs the generator.
func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingGeminiKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{apiKey: key, model: model, baseURL: baseURL, client: client}, nil
}

func (g *GeminiGenerator) Name() string { return ProviderGemini }

func (g *GeminiGenerator) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", retry.Permanent(errors.New("gemini: prompt is required"))
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: 0.4, CandidateCount: 1},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", retry.Permanent(fmt.Errorf("gemini: encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("gemini: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", retry.NewStatusError("gemini", resp)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if reason := out.PromptFeedback.BlockReason; reason != "" {
		return "", retry.Permanent(fmt.Errorf("gemini: prompt blocked: %s", reason))
	}
	for _, cand := range out.Candidates {
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text, nil
		}
	}
	return "", errors.New("gemini: empty candidates")
}
