package lake

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PartitionLocked is returned when another writer holds a partition.
type PartitionLocked struct {
	Path   string
	Holder string
}

func (e *PartitionLocked) Error() string {
	holder := ""
	if e.Holder != "" {
		holder = " by " + e.Holder
	}
	return fmt.Sprintf("partition %s is locked%s; if no writer is running, remove %s or set lock_stale_after",
		e.Path, holder, LockPath(e.Path))
}

// Locker takes advisory per-partition locks. A lock is a sibling file
// "<partition>.lock" created exclusively; it names its holder.
type Locker struct {
	owner      string
	staleAfter time.Duration
	now        func() time.Time
}

// NewLocker creates a locker that records owner in the locks it takes.
func NewLocker(owner string) *Locker {
	if owner == "" {
		owner = fmt.Sprintf("pid %d", os.Getpid())
	}
	return &Locker{owner: owner, now: time.Now}
}

// WithStaleAfter lets Acquire break a lock whose file is older than d, left
// behind by a writer that crashed. Zero never breaks a lock.
func (l *Locker) WithStaleAfter(d time.Duration) *Locker {
	l.staleAfter = d
	return l
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}

// Acquire locks path and returns the function that releases it. The
// partition directory is created if needed so that the first write of a new
// partition can be locked.
func (l *Locker) Acquire(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}

	lockPath := LockPath(path)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) && l.breakStale(lockPath) {
		f, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if errors.Is(err, fs.ErrExist) {
		holder, _ := os.ReadFile(lockPath)
		return nil, &PartitionLocked{Path: path, Holder: strings.TrimSpace(string(holder))}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	_, werr := fmt.Fprintf(f, "%s at %s\n", l.owner, l.now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock %s: %w", lockPath, err)
	}

	return func() error {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to release lock %s: %w", lockPath, err)
		}
		return nil
	}, nil
}

// breakStale removes lockPath when it is older than the stale age and
// reports whether it did.
func (l *Locker) breakStale(lockPath string) bool {
	if l.staleAfter <= 0 {
		return false
	}
	info, err := os.Stat(lockPath)
	if err != nil || l.now().Sub(info.ModTime()) < l.staleAfter {
		return false
	}
	return os.Remove(lockPath) == nil
}
