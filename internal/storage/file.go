package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// ErrWrite marks failures that prevented the snapshot from being written.
var ErrWrite = errors.New("snapshot write failed")

const historyPrefix = "snapshot-"

// FileStore keeps the current snapshot at Path and the last HistoryKeep
// snapshots in HistoryDir.
type FileStore struct {
	Path        string
	HistoryDir  string
	HistoryKeep int
}

func NewFileStore(path, historyDir string, keep int) *FileStore {
	return &FileStore{Path: path, HistoryDir: historyDir, HistoryKeep: keep}
}

// Load returns the current snapshot, or nil when none has been written yet.
func (s *FileStore) Load() (*domain.Snapshot, error) {
	data, err := s.Raw()
	if err != nil || data == nil {
		return nil, err
	}
	return domain.DecodeSnapshot(data)
}

// Raw returns the encoded current snapshot, or nil when missing.
func (s *FileStore) Raw() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.Path, err)
	}
	return data, nil
}

// Save atomically replaces the current snapshot with payload. A crash
// leaves either the old or the new file, never a partial one.
func (s *FileStore) Save(payload []byte) error {
	if err := writeAtomic(s.Path, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Publish stores a copy in the rolling history. Errors here never affect
// the current snapshot.
func (s *FileStore) Publish(_ context.Context, runID string, snap *domain.Snapshot, payload []byte) error {
	if s.HistoryDir == "" || s.HistoryKeep <= 0 {
		return nil
	}
	name := historyPrefix + snap.GeneratedAt.UTC().Format("20060102T150405Z") + "-" + shortID(runID) + ".json"
	if err := writeAtomic(filepath.Join(s.HistoryDir, name), payload); err != nil {
		return fmt.Errorf("history copy: %w", err)
	}
	return s.prune()
}

// History lists archived snapshot files, newest first.
func (s *FileStore) History() ([]string, error) {
	if s.HistoryDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.HistoryDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), historyPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// timestamped names sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *FileStore) prune() error {
	names, err := s.History()
	if err != nil {
		return err
	}
	for _, n := range names[min(len(names), s.HistoryKeep):] {
		if err := os.Remove(filepath.Join(s.HistoryDir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
