package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// LocalStore keeps artifacts on the local filesystem under
// <base>/<sha[0:2]>/<sha>. The base directory and its subdirectories are
// owner-only (0700) and files are written 0600. original_name is recorded in
// the returned reference but never used as a path segment.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed and returns a store
// rooted there.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	// MkdirAll is subject to the umask; force owner-only.
	if err := os.Chmod(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("chmod artifact directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	return &LocalStore{basePath: abs}, nil
}

// BasePath returns the resolved root directory of the store.
func (s *LocalStore) BasePath() string { return s.basePath }

// Store writes the payload content-addressed by its SHA-256. Existing
// content is not rewritten.
func (s *LocalStore) Store(ctx context.Context, payload models.ArtifactPayload) (models.ArtifactRef, error) {
	sum := sha256.Sum256(payload.Content)
	sha := hex.EncodeToString(sum[:])

	filePath, err := s.artifactPath(sha)
	if err != nil {
		return models.ArtifactRef{}, err
	}

	if _, err := os.Stat(filePath); err != nil {
		if !os.IsNotExist(err) {
			return models.ArtifactRef{}, fmt.Errorf("stat artifact: %w", err)
		}
		if err := s.writeFile(filePath, payload.Content); err != nil {
			return models.ArtifactRef{}, err
		}
	}

	return models.ArtifactRef{
		SHA256:       sha,
		StoredPath:   filePath,
		OriginalName: payload.OriginalName,
		MediaType:    payload.MediaType,
		Description:  payload.Description,
		SizeBytes:    int64(len(payload.Content)),
	}, nil
}

func (s *LocalStore) writeFile(filePath string, content []byte) error {
	subdir := filepath.Dir(filePath)
	if err := os.MkdirAll(subdir, 0o700); err != nil {
		return fmt.Errorf("create artifact subdir: %w", err)
	}
	if err := os.Chmod(subdir, 0o700); err != nil {
		return fmt.Errorf("chmod artifact subdir: %w", err)
	}

	// Write to a sibling temp file, sync, then rename into place.
	tmpPath := filePath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Get reads the raw bytes behind a reference. The stored path must resolve
// inside the base directory.
func (s *LocalStore) Get(ctx context.Context, ref models.ArtifactRef) ([]byte, error) {
	path, err := s.resolveUnderBase(ref.StoredPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.SHA256)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// GetByHash reads the raw bytes for a stored content hash.
func (s *LocalStore) GetByHash(ctx context.Context, sha string) ([]byte, error) {
	path, err := s.artifactPath(sha)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sha)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether content with the given hash is on disk.
func (s *LocalStore) Exists(ctx context.Context, sha string) (bool, error) {
	path, err := s.artifactPath(sha)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the artifact and its subdirectory if that becomes empty.
func (s *LocalStore) Delete(ctx context.Context, sha string) (bool, error) {
	path, err := s.artifactPath(sha)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	// Remove succeeds only when the subdir is empty.
	os.Remove(filepath.Dir(path))
	return true, nil
}

// Close releases resources.
func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) artifactPath(sha string) (string, error) {
	if len(sha) < 3 || strings.ContainsAny(sha, `/\`) {
		return "", fmt.Errorf("invalid artifact hash %q", sha)
	}
	path := filepath.Join(s.basePath, sha[:2], sha)
	return s.resolveUnderBase(path)
}

// resolveUnderBase resolves path (following symlinks on the existing
// portion) and verifies it is the base directory or a descendant.
func (s *LocalStore) resolveUnderBase(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = abs
		} else {
			return "", fmt.Errorf("resolve artifact path: %w", err)
		}
	}
	if resolved != s.basePath && !strings.HasPrefix(resolved, s.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s resolves outside base directory %s", ErrPathTraversal, path, s.basePath)
	}
	return resolved, nil
}
