package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 20 * time.Millisecond

// FileWriter rewrites a JSON metrics file every cycle. Each write goes to a
// temporary file that is renamed over the target, so readers never observe a
// partial document. A sibling .lock file serialises writers across processes.
type FileWriter struct {
	path string
	lock *flock.Flock
}

// NewFileWriter returns a FileWriter for path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the metrics file path.
func (w *FileWriter) Path() string {
	return w.path
}

// Persist implements Persister.
func (w *FileWriter) Persist(ctx context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	locked, err := w.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", w.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", w.lock.Path())
	}
	defer func() { _ = w.lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", w.path, err)
	}
	return nil
}

// ReadFile loads a Record written by FileWriter along with its raw bytes.
func ReadFile(path string) (Record, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, data, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, data, nil
}
