// Package openaiclient builds go-openai clients for OpenAI-compatible
// endpoints and normalizes their errors for retry classification.
package openaiclient

import (
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"dubber/internal/retry"
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Options configures an OpenAI-compatible client.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
}

// New returns a configured client. BaseURL may point at any
// OpenAI-compatible host.
func New(opts Options) (*openai.Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(key)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if org := strings.TrimSpace(opts.Organization); org != "" {
		cfg.OrgID = org
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return openai.NewClientWithConfig(cfg), nil
}

// WrapError converts go-openai API errors into retry.StatusError so the
// retry executor can classify them by HTTP status.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		body := apiErr.Message
		if apiErr.Type != "" {
			body = apiErr.Type + ": " + body
		}
		return &retry.StatusError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Body: body}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &retry.StatusError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return err
}
