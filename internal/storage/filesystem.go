package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dubber/internal/domain"
)

// Kind groups media under the storage root.
type Kind string

const (
	KindVideo     Kind = "videos"
	KindAudio     Kind = "audio"
	KindPublished Kind = "published"
	KindVoices    Kind = "voices"
)

// FileStore keeps pipeline media on the local filesystem under one root.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// StageKey returns the deterministic key for a stage output of a job, for
// example "videos/<job>/composition.mp4".
func StageKey(kind Kind, jobID string, stage domain.Stage, ext string) string {
	return StageKeySuffix(kind, jobID, stage, "", ext)
}

// StageKeySuffix is StageKey with a variant suffix, e.g. "composition_silent".
func StageKeySuffix(kind Kind, jobID string, stage domain.Stage, suffix, ext string) string {
	name := string(stage)
	if suffix != "" {
		name += "_" + suffix
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext != "" {
		name += "." + ext
	}
	return string(kind) + "/" + jobID + "/" + name
}

// Path resolves key to an absolute filesystem path inside the root.
func (s *FileStore) Path(key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

// Prepare ensures the parent directory of key exists and returns its path.
func (s *FileStore) Prepare(key string) (string, error) {
	full, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	return full, nil
}

// Exists reports whether a non-empty file is stored at key.
func (s *FileStore) Exists(key string) bool {
	full, err := s.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath, err := s.Prepare(cleanKey)
	if err != nil {
		return "", err
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}
	return cleanKey, nil
}

// Import copies the file at src into key, replacing any previous content.
func (s *FileStore) Import(ctx context.Context, key, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath, err := s.Prepare(cleanKey)
	if err != nil {
		return "", err
	}
	if filepath.Clean(src) == fullPath {
		return cleanKey, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()
	tmp := fullPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}
	return cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
