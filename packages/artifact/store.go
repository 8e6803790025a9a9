// Package artifact persists screenshots, traces and response bodies captured
// during attempts and hands back stable references to them.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// Store persists artifact blobs for an attempt.
type Store interface {
	Put(ctx context.Context, attemptID string, name string, data []byte) (model.ArtifactRef, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize turns an attempt id or artifact name into a single path segment.
func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// FileStore writes artifacts below a base directory as
// {base}/{attempt}/{name}.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, attemptID string, name string, data []byte) (model.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return model.ArtifactRef{}, err
	}

	dir := filepath.Join(s.baseDir, sanitize(attemptID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.ArtifactRef{}, fmt.Errorf("creating attempt directory: %w", err)
	}

	path := filepath.Join(dir, sanitize(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return model.ArtifactRef{}, fmt.Errorf("writing artifact %s: %w", name, err)
	}

	return model.ArtifactRef{
		Name: name,
		URI:  filepath.ToSlash(path),
		Size: int64(len(data)),
	}, nil
}

// MemoryStore keeps artifacts in memory. It is used by dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, attemptID string, name string, data []byte) (model.ArtifactRef, error) {
	uri := "mem://" + sanitize(attemptID) + "/" + sanitize(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[uri] = append([]byte(nil), data...)

	return model.ArtifactRef{Name: name, URI: uri, Size: int64(len(data))}, nil
}

// Get returns the blob stored under uri.
func (s *MemoryStore) Get(uri string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[uri]
	return b, ok
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
