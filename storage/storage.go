// Package storage keeps the raw bytes of uploaded documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath = errors.New("invalid storage path")
	ErrReadOnly    = errors.New("storage is read-only")
)

// FileStorage saves and loads document bytes. Paths returned by Save are
// opaque and only meaningful to the same FileStorage.
type FileStorage interface {
	Save(ctx context.Context, owner, filename string, data []byte) (string, error)
	Load(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// LocalStorage writes files below a root directory, one subdirectory per owner.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

func (s *LocalStorage) Save(_ context.Context, owner, filename string, data []byte) (string, error) {
	if owner == "" {
		owner = "anonymous"
	}
	rel := filepath.Join(sanitize(owner), uuid.NewString()+"-"+sanitize(filename))
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create owner dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func (s *LocalStorage) Load(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *LocalStorage) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// resolve rejects paths that would escape the root.
func (s *LocalStorage) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return full, nil
}
