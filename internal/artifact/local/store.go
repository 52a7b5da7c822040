package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Store copies artifacts into a directory. Useful for development without cloud credentials;
// the speech service cannot read file:// URIs.
type Store struct {
	dir    string
	logger *logger.Logger
}

// NewStore creates the target directory if needed
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: abs, logger: log.Named("local-store")}, nil
}

// Upload copies localPath to dir/name and syncs it to disk
func (s *Store) Upload(ctx context.Context, localPath, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid object name: %q", name)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	target := filepath.Join(s.dir, name)
	tmp := target + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync object: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish object: %w", err)
	}

	uri := "file://" + filepath.ToSlash(target)
	s.logger.Debug("Stored artifact", logger.String("uri", uri))
	return uri, nil
}
