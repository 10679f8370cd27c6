// Package hls manages the on-disk segment store: one directory per stream key
// holding an HLS manifest and a rolling window of media segments.
//
// The filesystem is the source of truth. The transcode worker is a separate
// OS process and is the actual writer, so the store keeps no in-memory state
// that could drift. Readers rely on the producer publishing the manifest
// atomically (write to a temporary name, then rename) so a half-written
// manifest is never observed; the store depends on that contract but does not
// enforce it.
package hls

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName is the playlist file the worker writes into each stream
// directory. Its presence is the liveness signal for the whole platform.
const ManifestName = "index.m3u8"

// ErrOutsideRoot reports a stream key or relative path that resolves outside
// the store root.
var ErrOutsideRoot = errors.New("path escapes segment store root")

// Store provides access primitives for the per-stream output directories.
type Store struct {
	root string
}

// NewStore resolves root to an absolute path and creates it if needed.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("segment store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve segment store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("prepare segment store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// StreamDir resolves the directory for the provided stream key, rejecting
// keys that would resolve outside the store root. Keys are server-generated
// hex, so this is defence in depth rather than an expected path.
func (s *Store) StreamDir(streamKey string) (string, error) {
	if strings.TrimSpace(streamKey) == "" {
		return "", fmt.Errorf("stream key is required")
	}
	dir, err := filepath.Abs(filepath.Join(s.root, streamKey))
	if err != nil {
		return "", err
	}
	if !s.contains(dir) {
		return "", ErrOutsideRoot
	}
	return dir, nil
}

// EnsureDir creates the stream's output directory. It is idempotent.
func (s *Store) EnsureDir(streamKey string) (string, error) {
	dir, err := s.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stream directory: %w", err)
	}
	return dir, nil
}

// ManifestPath composes the manifest location for the stream key.
func (s *Store) ManifestPath(streamKey string) (string, error) {
	dir, err := s.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ManifestName), nil
}

// SegmentPath composes the path of a named segment inside the stream
// directory. The name must not contain path separators.
func (s *Store) SegmentPath(streamKey, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid segment name %q", name)
	}
	dir, err := s.StreamDir(streamKey)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Exists reports whether the stream's manifest is present and readable. This
// is the liveness predicate used everywhere else: the manifest only appears
// after the worker flushes its first segment window.
func (s *Store) Exists(streamKey string) bool {
	manifest, err := s.ManifestPath(streamKey)
	if err != nil {
		return false
	}
	file, err := os.Open(manifest)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// Remove deletes the stream directory recursively. It reports whether a
// directory was actually removed; an already-absent directory is not an
// error.
func (s *Store) Remove(streamKey string) (bool, error) {
	dir, err := s.StreamDir(streamKey)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove stream directory: %w", err)
	}
	return true, nil
}

// List returns the stream keys whose directory contains a manifest. Ordering
// is not guaranteed; callers sort when they need stable output.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read segment store root: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.Exists(entry.Name()) {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// Resolve joins URL path segments under the store root and verifies the
// result stays inside it. It is the traversal guard for the segment server,
// where segments arrive from the request path.
func (s *Store) Resolve(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("path segments are required")
	}
	joined := filepath.Join(append([]string{s.root}, segments...)...)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if !s.contains(resolved) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

func (s *Store) contains(path string) bool {
	if path == s.root {
		return true
	}
	return strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
