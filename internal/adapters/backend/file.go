package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
)

// fileFS implements objectFS over the local filesystem.
type fileFS struct {
	root string
}

// newFileBackend builds the handle bundle for a local-filesystem catalog.
func newFileBackend(root string) (*output.Bundle, error) {
	if root == "" {
		return nil, &domain.BackendError{
			Backend:   "file",
			Operation: "connect",
			Err:       fmt.Errorf("catalog path is required: %w", domain.ErrInvalidInput),
		}
	}
	return newObjectBundle(&fileFS{root: root}, "file"), nil
}

func (f *fileFS) read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(path)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (f *fileFS) write(_ context.Context, path string, data []byte) error {
	full := filepath.Join(f.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}

func (f *fileFS) list(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, filepath.FromSlash(dir)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
