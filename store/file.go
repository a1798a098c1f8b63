package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/peerwallet-project/walletbridge/types"
)

// FileStore keeps all session projections in one JSON file, rewritten
// atomically (tmp + rename) on every mutation.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path. The parent directory
// is created if missing.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// LoadAll returns every persisted session. A missing file is an empty store.
func (f *FileStore) LoadAll(ctx context.Context) ([]types.PersistedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make([]types.PersistedSession, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

// Save writes one session projection.
func (f *FileStore) Save(ctx context.Context, s types.PersistedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return err
	}
	m[s.Key.String()] = s
	return f.write(m)
}

// Remove deletes the projection for a key.
func (f *FileStore) Remove(ctx context.Context, key types.SessionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := m[key.String()]; !ok {
		return nil
	}
	delete(m, key.String())
	return f.write(m)
}

func (f *FileStore) read() (map[string]types.PersistedSession, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]types.PersistedSession), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	m := make(map[string]types.PersistedSession)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	return m, nil
}

func (f *FileStore) write(m map[string]types.PersistedSession) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

var _ SessionStore = (*FileStore)(nil)
