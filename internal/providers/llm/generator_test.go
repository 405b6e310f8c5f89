package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dubber/internal/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type fakeGenerator struct{ name string }

func (f fakeGenerator) Name() string { return f.name }
func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.name, nil
}

func TestRegistryResolvesConfiguredProviders(t *testing.T) {
	reg := NewRegistry(fakeGenerator{name: ProviderOpenAI}, nil, fakeGenerator{name: ProviderQwen})

	g, err := reg.Get(" OpenAI ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name() != ProviderOpenAI {
		t.Fatalf("expected openai, got %s", g.Name())
	}

	if _, err := reg.Get(ProviderGemini); err == nil || errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected not configured error for gemini, got %v", err)
	}
	if _, err := reg.Get("claude"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if got := strings.Join(reg.Available(), ","); got != "openai,qwen" {
		t.Fatalf("unexpected available list %q", got)
	}
}

func TestGeminiGeneratorSendsKeyHeader(t *testing.T) {
	var captured *http.Request
	var body geminiRequest
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Halo "},{"text":"dunia"}]}}]}`), nil
	})}

	gen, err := NewGeminiGenerator(GeminiOptions{APIKey: "k-123", Model: "gemini-test", HTTPClient: client})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.Generate(context.Background(), "translate hello world")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Halo dunia" {
		t.Fatalf("unexpected text %q", text)
	}
	if got := captured.Header.Get("x-goog-api-key"); got != "k-123" {
		t.Fatalf("missing api key header, got %q", got)
	}
	if !strings.HasSuffix(captured.URL.Path, "/models/gemini-test:generateContent") {
		t.Fatalf("unexpected path %s", captured.URL.Path)
	}
	if len(body.Contents) != 1 || body.Contents[0].Parts[0].Text != "translate hello world" {
		t.Fatalf("prompt not forwarded: %+v", body)
	}
}

func TestGeminiGeneratorClassifiesRateLimit(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"error":{"message":"quota"}}`), nil
	})}
	gen, err := NewGeminiGenerator(GeminiOptions{APIKey: "k", HTTPClient: client})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	_, err = gen.Generate(context.Background(), "hi")
	if got := retry.Classify(err); got != retry.ClassRateLimit {
		t.Fatalf("expected rate limit class, got %s (%v)", got, err)
	}
}

func TestGeminiGeneratorRequiresKey(t *testing.T) {
	if _, err := NewGeminiGenerator(GeminiOptions{}); !errors.Is(err, ErrMissingGeminiKey) {
		t.Fatalf("expected ErrMissingGeminiKey, got %v", err)
	}
}

func TestQwenGeneratorReadsMessageFormat(t *testing.T) {
	var body qwenRequest
	var auth string
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if !strings.HasSuffix(req.URL.Path, "/services/aigc/text-generation/generation") {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"request_id":"r1","output":{"choices":[{"message":{"role":"assistant","content":"  ringkasan  "}}]}}`), nil
	})}

	gen, err := NewQwenGenerator(QwenOptions{APIKey: "dash", HTTPClient: client})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.Generate(context.Background(), "summarize")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "ringkasan" {
		t.Fatalf("unexpected text %q", text)
	}
	if auth != "Bearer dash" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if body.Parameters.ResultFormat != "message" || body.Model != "qwen-plus" {
		t.Fatalf("unexpected payload %+v", body)
	}
}

func TestQwenGeneratorSurfacesProviderCode(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"code":"InvalidParameter","message":"bad input"}`), nil
	})}
	gen, err := NewQwenGenerator(QwenOptions{APIKey: "dash", HTTPClient: client})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "InvalidParameter") {
		t.Fatalf("expected provider code in error, got %v", err)
	}
}

func TestQwenGeneratorServerErrorIsRetryable(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `upstream`), nil
	})}
	gen, err := NewQwenGenerator(QwenOptions{APIKey: "dash", HTTPClient: client})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	_, err = gen.Generate(context.Background(), "x")
	if !retry.Classify(err).Retryable() {
		t.Fatalf("expected retryable class for 502, got %s", retry.Classify(err))
	}
}

func TestOpenAIGeneratorChatCompletion(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Bonjour"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Bonjour" {
		t.Fatalf("unexpected text %q", text)
	}
	if model != defaultOpenAIModel {
		t.Fatalf("expected default model, got %q", model)
	}
}

func TestOpenAIGeneratorMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	_, err = gen.Generate(context.Background(), "hello")
	if got := retry.Classify(err); got != retry.ClassPermanent {
		t.Fatalf("expected permanent class, got %s (%v)", got, err)
	}
}

func TestParseJSONToleratesFencesAndProse(t *testing.T) {
	type summary struct {
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
	}
	cases := []string{
		"{\"summary\":\"s\",\"tags\":[\"a\"]}",
		"```json\n{\"summary\":\"s\",\"tags\":[\"a\"]}\n```",
		"Here you go:\n{\"summary\":\"s\",\"tags\":[\"a\"]}\nThanks",
	}
	for _, raw := range cases {
		got, err := ParseJSON[summary](raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got.Summary != "s" || len(got.Tags) != 1 {
			t.Fatalf("unexpected decode %+v", got)
		}
	}
	if _, err := ParseJSON[summary]("   "); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestStripFence(t *testing.T) {
	if got := StripFence("```\nhello\n```"); got != "hello" {
		t.Fatalf("unexpected %q", got)
	}
	if got := StripFence("plain"); got != "plain" {
		t.Fatalf("unexpected %q", got)
	}
}
