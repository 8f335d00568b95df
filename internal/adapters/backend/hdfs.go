package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/colinmarc/hdfs/v2"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/uri"
)

// hdfsFS implements objectFS over a Hadoop distributed filesystem.
type hdfsFS struct {
	client *hdfs.Client
	root   string
}

// newHDFSBackend connects to the namenode and builds the handle bundle.
func newHDFSBackend(loc uri.Location) (*output.Bundle, error) {
	client, err := hdfs.New(loc.Host)
	if err != nil {
		return nil, &domain.BackendError{Backend: "hdfs", Operation: "connect", Err: err}
	}
	return newObjectBundle(&hdfsFS{client: client, root: loc.Path}, "hdfs"), nil
}

func (h *hdfsFS) read(_ context.Context, p string) ([]byte, error) {
	data, err := h.client.ReadFile(path.Join(h.root, p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (h *hdfsFS) write(_ context.Context, p string, data []byte) error {
	full := path.Join(h.root, p)
	if err := h.client.MkdirAll(path.Dir(full), 0755); err != nil {
		return err
	}

	// Create refuses to replace; a previous object at the path is removed
	// first so layer rewrites behave like the other backends.
	if err := h.client.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	w, err := h.client.Create(full)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (h *hdfsFS) list(_ context.Context, dir string) ([]string, error) {
	infos, err := h.client.ReadDir(path.Join(h.root, dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}
