package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/teilomillet/plexity/errors"
)

const (
	defaultStoreName = "default"
	localBackend     = "local"
)

// LocalDataset writes each item to <dir>/datasets/default/NNNNNNNNN.json,
// numbering on from the highest file already present.
type LocalDataset struct {
	dir string

	mu   sync.Mutex
	next int
}

// NewLocalDataset creates the dataset directory under storageDir.
func NewLocalDataset(storageDir string) (*LocalDataset, error) {
	dir := filepath.Join(storageDir, "datasets", defaultStoreName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError(localBackend, "create dataset directory", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewStorageError(localBackend, "read dataset directory", err)
	}
	last := 0
	for _, e := range entries {
		n, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".json"))
		if err == nil && n > last {
			last = n
		}
	}

	return &LocalDataset{dir: dir, next: last + 1}, nil
}

// Dir is the directory items are written to.
func (d *LocalDataset) Dir() string {
	return d.dir
}

// PushData implements Dataset.
func (d *LocalDataset) PushData(ctx context.Context, item any) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStorageError(localBackend, "push dataset item", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dir, fmt.Sprintf("%09d.json", d.next))
	if err := writeJSON(path, item); err != nil {
		return errors.NewStorageError(localBackend, "push dataset item", err)
	}
	d.next++
	return nil
}

func (d *LocalDataset) Close() error { return nil }

// LocalKeyValueStore writes each value to <dir>/key_value_stores/default/KEY.json.
type LocalKeyValueStore struct {
	dir string
	mu  sync.Mutex
}

// NewLocalKeyValueStore creates the store directory under storageDir.
func NewLocalKeyValueStore(storageDir string) (*LocalKeyValueStore, error) {
	dir := filepath.Join(storageDir, "key_value_stores", defaultStoreName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError(localBackend, "create key-value directory", err)
	}
	return &LocalKeyValueStore{dir: dir}, nil
}

// Dir is the directory values are written to.
func (s *LocalKeyValueStore) Dir() string {
	return s.dir
}

// SetValue implements KeyValueStore. An existing value is replaced.
func (s *LocalKeyValueStore) SetValue(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return errors.NewStorageError(localBackend, "set value", err)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewStorageError(localBackend, "set value", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.dir, key+".json"), value); err != nil {
		return errors.NewStorageError(localBackend, "set value", err)
	}
	return nil
}

func (s *LocalKeyValueStore) Close() error { return nil }

// writeJSON writes v through a temp file so readers never see a partial record.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
