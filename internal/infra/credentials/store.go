// Package credentials keeps provider API keys in the integration_tokens
// table so they can be rotated without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dubber/internal/infra"
	"dubber/internal/sqlinline"
)

const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderQwen       = "qwen"
	ProviderTranscribe = "transcribe"
)

// Providers lists the names accepted by SetToken.
var Providers = []string{ProviderOpenAI, ProviderGemini, ProviderQwen, ProviderTranscribe}

var ErrUnknownProvider = errors.New("credentials: unknown provider")

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the key from the environment and falls back to the store.
func (s *Store) Resolve(ctx context.Context, provider, fromEnv string) (string, error) {
	if key := strings.TrimSpace(fromEnv); key != "" {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

// SetToken stores key for provider, replacing any previous key.
func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !known(provider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return s.upsert(ctx, provider, key, map[string]any{"source": "dubctl"})
}

// DeleteToken removes the stored key so the provider falls back to the
// environment only. Deleting a missing key is not an error.
func (s *Store) DeleteToken(ctx context.Context, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !known(provider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, provider)
	return err
}

func known(provider string) bool {
	for _, p := range Providers {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
