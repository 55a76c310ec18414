package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

const stateVersion = 1

type stateFile struct {
	Version int                                `json:"version"`
	Items   map[string]model.NotificationState `json:"items"`
}

// FileState stores notification state as one versioned JSON document.
type FileState struct {
	path string
}

// NewFileState creates a state store backed by the file at path.
func NewFileState(path string) *FileState {
	return &FileState{path: path}
}

// Path returns the backing file path.
func (f *FileState) Path() string { return f.path }

func (f *FileState) Load() map[string]model.NotificationState {
	items, err := f.read()
	if err != nil {
		return make(map[string]model.NotificationState)
	}
	return items
}

func (f *FileState) read() (map[string]model.NotificationState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode notification state: %w", err)
	}
	if file.Version != stateVersion {
		return nil, fmt.Errorf("unsupported notification state version %d", file.Version)
	}
	if err := validateStates(file.Items); err != nil {
		return nil, err
	}
	if file.Items == nil {
		file.Items = make(map[string]model.NotificationState)
	}
	return file.Items, nil
}

func (f *FileState) Save(items map[string]model.NotificationState) error {
	if err := validateStates(items); err != nil {
		return fmt.Errorf("save notification state: %w", err)
	}
	if items == nil {
		items = make(map[string]model.NotificationState)
	}
	if err := writeJSONAtomic(f.path, stateFile{Version: stateVersion, Items: items}); err != nil {
		return fmt.Errorf("save notification state: %w", err)
	}
	return nil
}

func (f *FileState) Clear() error {
	return removeIfExists(f.path)
}

func validateStates(items map[string]model.NotificationState) error {
	for key, s := range items {
		if s.EventKey == "" {
			return fmt.Errorf("state %q: empty event key", key)
		}
		if !s.Level.Valid() {
			return fmt.Errorf("state %q: unknown level %q", key, s.Level)
		}
	}
	return nil
}

// MemoryState keeps notification state in process memory only.
type MemoryState struct {
	mu    sync.Mutex
	items map[string]model.NotificationState
}

// NewMemoryState creates an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{items: make(map[string]model.NotificationState)}
}

func (m *MemoryState) Load() map[string]model.NotificationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneStates(m.items)
}

func (m *MemoryState) Save(items map[string]model.NotificationState) error {
	if err := validateStates(items); err != nil {
		return fmt.Errorf("save notification state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = cloneStates(items)
	return nil
}

func (m *MemoryState) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]model.NotificationState)
	return nil
}

func cloneStates(in map[string]model.NotificationState) map[string]model.NotificationState {
	out := make(map[string]model.NotificationState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
