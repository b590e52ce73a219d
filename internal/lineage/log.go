// Package lineage records which storage reference each run derived from which
// other reference. The log is append-only newline-delimited JSON; an in-memory
// index answers audit queries over it.
package lineage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Edge records that ToRef was derived from FromRef by a run.
type Edge struct {
	RunID    string    `json:"run_id"`
	Pipeline string    `json:"pipeline"`
	FromRef  string    `json:"from_ref"`
	ToRef    string    `json:"to_ref"`
	At       time.Time `json:"at"`
}

// Log is the append-only edge log.
type Log struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewLog creates a log stored at path on fsys.
func NewLog(fsys afero.Fs, path string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{fs: fsys, path: path, logger: logger, now: time.Now}
}

// Path returns the log location.
func (l *Log) Path() string {
	return l.path
}

// Emit appends one edge and syncs it to disk before returning. Identical
// edges are never deduplicated.
func (l *Log) Emit(ctx context.Context, runID, pipeline, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edge := Edge{
		RunID:    runID,
		Pipeline: pipeline,
		FromRef:  from,
		ToRef:    to,
		At:       l.now().UTC(),
	}
	line, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to marshal lineage edge: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lineage directory: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lineage log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append lineage edge: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync lineage log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lineage log: %w", err)
	}

	l.logger.Debug("lineage edge", "run_id", runID, "pipeline", pipeline, "from", from, "to", to)
	return nil
}

// Edges returns every edge in append order. A log that was never written is
// empty, not an error.
func (l *Log) Edges(ctx context.Context) ([]Edge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.fs.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lineage log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var edges []Edge
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var edge Edge
		if err := json.Unmarshal(scanner.Bytes(), &edge); err != nil {
			return nil, fmt.Errorf("failed to parse lineage log line %d: %w", lineNo, err)
		}
		edges = append(edges, edge)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lineage log: %w", err)
	}
	return edges, nil
}

// Index loads the log and builds a query index over it.
func (l *Log) Index(ctx context.Context) (*Index, error) {
	edges, err := l.Edges(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(edges), nil
}
