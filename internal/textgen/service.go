// Package textgen implements the text stages: translation, summarization
// and narration script writing over interchangeable LLM providers.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"dubber/internal/langtag"
	"dubber/internal/providers/llm"
	"dubber/internal/retry"
)

const maxTags = 8

// Providers selects the provider name per stage.
type Providers struct {
	Translation string
	Summary     string
	Script      string
}

// TranslateInput carries the source text for the translation stage.
type TranslateInput struct {
	Transcript     string
	Title          string
	Description    string
	TargetLanguage string
}

// Translation is the output of the translation stage.
type Translation struct {
	Transcript  string
	Title       string
	Description string
}

// Summary is the output of the summarization stage.
type Summary struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// ScriptInput carries the inputs of the script stage.
type ScriptInput struct {
	TranslatedTranscript string
	Summary              string
	TargetLanguage       string
	DurationSeconds      float64
}

// Service resolves the configured provider for each stage and calls it
// through the retry executor.
type Service struct {
	registry        *llm.Registry
	exec            *retry.Executor
	providers       Providers
	defaultLanguage string
	logger          zerolog.Logger
}

// New constructs the service.
func New(registry *llm.Registry, exec *retry.Executor, providers Providers, defaultLanguage string, logger *zerolog.Logger) *Service {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	if exec == nil {
		exec = retry.New(retry.Options{})
	}
	return &Service{
		registry:        registry,
		exec:            exec,
		providers:       providers,
		defaultLanguage: defaultLanguage,
		logger:          l,
	}
}

func (s *Service) target(lang string) string {
	if strings.TrimSpace(lang) == "" {
		lang = s.defaultLanguage
	}
	return langtag.DisplayName(lang)
}

func (s *Service) generate(ctx context.Context, stage, provider, prompt string) (string, error) {
	gen, err := s.registry.Get(provider)
	if err != nil {
		return "", retry.Permanent(err)
	}
	op := stage + ":" + gen.Name()
	text, err := retry.Call(ctx, s.exec, op, func(ctx context.Context) (string, error) {
		return gen.Generate(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("op", op).Int("chars", len(text)).Msg("textgen: generated")
	return text, nil
}

// Translate translates the transcript and, when present, the title and
// description.
func (s *Service) Translate(ctx context.Context, in TranslateInput) (*Translation, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, retry.Permanent(errors.New("translation: transcript is empty"))
	}
	target := s.target(in.TargetLanguage)
	text, err := s.generate(ctx, "translation", s.providers.Translation, buildTranscriptPrompt(in.Transcript, target))
	if err != nil {
		return nil, err
	}
	out := &Translation{Transcript: llm.StripFence(text)}

	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Description) == "" {
		return out, nil
	}
	raw, err := s.generate(ctx, "translation", s.providers.Translation, buildMetadataPrompt(in.Title, in.Description, target))
	if err != nil {
		return nil, err
	}
	meta, err := llm.ParseJSON[struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("translation: decode title/description: %w", err)
	}
	out.Title = strings.TrimSpace(meta.Title)
	out.Description = strings.TrimSpace(meta.Description)
	return out, nil
}

// Summarize produces a short summary and topic tags.
func (s *Service) Summarize(ctx context.Context, transcript, targetLanguage string) (*Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, retry.Permanent(errors.New("summarization: transcript is empty"))
	}
	raw, err := s.generate(ctx, "summarization", s.providers.Summary, buildSummaryPrompt(transcript, s.target(targetLanguage), maxTags))
	if err != nil {
		return nil, err
	}
	sum, err := llm.ParseJSON[Summary](raw)
	if err != nil {
		return nil, fmt.Errorf("summarization: decode response: %w", err)
	}
	sum.Summary = strings.TrimSpace(sum.Summary)
	if sum.Summary == "" {
		return nil, errors.New("summarization: empty summary")
	}
	sum.Tags = normalizeTags(sum.Tags)
	return &sum, nil
}

// WriteScript writes the narration script that synthesis will speak.
func (s *Service) WriteScript(ctx context.Context, in ScriptInput) (string, error) {
	if strings.TrimSpace(in.TranslatedTranscript) == "" {
		return "", retry.Permanent(errors.New("script: translated transcript is empty"))
	}
	text, err := s.generate(ctx, "script", s.providers.Script, buildScriptPrompt(in, s.target(in.TargetLanguage)))
	if err != nil {
		return "", err
	}
	return llm.StripFence(text), nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		// Tags are stored comma separated.
		tag = strings.ReplaceAll(tag, ",", " ")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
