package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dubber/internal/retry"
)

// CloneOptions configures the voice-cloning HTTP provider.
type CloneOptions struct {
	Endpoint   string
	HTTPClient *http.Client
}

// Clone posts text plus a reference recording to a voice-cloning server and
// receives WAV audio.
type Clone struct {
	endpoint string
	client   *http.Client
}

// NewClone builds the provider.
func NewClone(opts CloneOptions) (*Clone, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("tts clone: endpoint is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Clone{endpoint: endpoint, client: client}, nil
}

func (c *Clone) Name() string { return ProviderClone }

func (c *Clone) Synthesize(ctx context.Context, req Request) error {
	if err := requireText(req); err != nil {
		return retry.Permanent(err)
	}
	if req.Voice.SamplePath == "" {
		return retry.Permanent(fmt.Errorf("tts clone: voice %q has no reference sample", req.Voice.Name))
	}
	body, contentType, err := buildCloneForm(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("tts clone: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("tts clone: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return retry.NewStatusError("tts-clone", resp)
	}
	return writeFile(req.OutPath, resp.Body)
}

func buildCloneForm(req Request) (*bytes.Buffer, string, error) {
	sample, err := os.Open(req.Voice.SamplePath)
	if err != nil {
		return nil, "", retry.Permanent(fmt.Errorf("tts clone: open reference sample: %w", err))
	}
	defer sample.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("text", req.Text); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("reference_text", req.Voice.ReferenceText); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("reference_audio", filepath.Base(req.Voice.SamplePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, sample); err != nil {
		return nil, "", fmt.Errorf("tts clone: read reference sample: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
