package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

const fileFormatVersion = 1

type fileDocument struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// FileStore keeps state in a single JSON file. Saves write a temp file in
// the same directory, fsync it and rename it over the target, so a crash
// leaves either the old or the new file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty state;
// undecodable content yields an error wrapping scanerr.ErrStateCorrupt.
func (s *FileStore) Load(ctx context.Context) (*ScanState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return New(), nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", scanerr.ErrStateCorrupt, s.path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: %s has version %d, want %d", scanerr.ErrStateCorrupt, s.path, doc.Version, fileFormatVersion)
	}

	st := New()
	for fp, e := range doc.Entries {
		e.Fingerprint = fp
		st.entries[fp] = e
	}
	return st, nil
}

// Save atomically replaces the state file with st.
func (s *FileStore) Save(ctx context.Context, st *ScanState) error {
	doc := fileDocument{
		Version:   fileFormatVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   make(map[string]Entry),
	}
	for _, e := range st.Entries() {
		doc.Entries[e.Fingerprint] = e
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
