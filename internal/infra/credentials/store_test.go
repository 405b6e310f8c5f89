package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dubber/internal/sqlinline"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderOpenAI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestToken_Error(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("db down")})
	if _, err := store.Token(context.Background(), ProviderQwen); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		store   *Store
		fromEnv string
		want    string
	}{
		{"env wins", NewStore(&stubExecutor{token: "stored"}), " sk-env ", "sk-env"},
		{"falls back to store", NewStore(&stubExecutor{token: "stored"}), "", "stored"},
		{"nil store", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.store.Resolve(context.Background(), ProviderOpenAI, tt.fromEnv)
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), " Qwen ", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderQwen {
		t.Fatalf("expected qwen provider, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenValidation(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderGemini, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), "anthropic", "k"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestDeleteToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.DeleteToken(context.Background(), "Gemini"); err != nil {
		t.Fatalf("DeleteToken error: %v", err)
	}
	if exec.exec.query != sqlinline.QDeleteIntegrationToken || exec.exec.args[0] != ProviderGemini {
		t.Fatalf("unexpected exec %q %v", exec.exec.query, exec.exec.args)
	}
	if err := store.DeleteToken(context.Background(), "claude"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
