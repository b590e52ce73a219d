package acl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PolicySource supplies the role policy for a decision. Implementations make
// the refresh policy explicit.
type PolicySource interface {
	Policy(ctx context.Context) (*Policy, error)
}

// FileSource re-reads the policy file on every call. It is deliberately
// uncached: a policy edit takes effect on the next check.
type FileSource struct {
	Path string
}

// Policy loads the policy from disk.
func (s FileSource) Policy(_ context.Context) (*Policy, error) {
	return LoadPolicy(s.Path)
}

// CachedSource keeps the parsed policy until it is invalidated, either by an
// explicit Invalidate call or by Watch observing a change to the file.
type CachedSource struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	policy *Policy
}

// NewCachedSource creates a cached policy source for path.
func NewCachedSource(path string, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedSource{path: path, logger: logger}
}

// Policy returns the cached policy, loading it if needed. Load failures are
// not cached.
func (s *CachedSource) Policy(_ context.Context) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy != nil {
		return s.policy, nil
	}

	policy, err := LoadPolicy(s.path)
	if err != nil {
		return nil, err
	}
	s.policy = policy
	s.logger.Debug("role policy loaded", "path", s.path, "roles", policy.Roles())
	return policy, nil
}

// Invalidate drops the cached policy.
func (s *CachedSource) Invalidate() {
	s.mu.Lock()
	s.policy = nil
	s.mu.Unlock()
}

// Watch invalidates the cache whenever the policy file changes. It blocks
// until ctx is cancelled. The parent directory is watched so that editors
// that replace the file are observed too.
func (s *CachedSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.Invalidate()
			s.logger.Info("role policy changed, cache invalidated", "path", s.path, "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("policy watcher error", "error", err)
		}
	}
}
