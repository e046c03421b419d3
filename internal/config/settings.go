package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// MinChunkSizeMB is the smallest accepted chunk size.
	MinChunkSizeMB = 0.25
	bytesPerMB     = 1 << 20
)

// Settings are the runtime-tunable knobs persisted between runs.
type Settings struct {
	MaxConcurrent     int     `yaml:"max_concurrent" json:"max_concurrent"`
	ChunkSizeMB       float64 `yaml:"chunk_size_mb" json:"chunk_size_mb"`
	SelectedLibraryID string  `yaml:"selected_library_id,omitempty" json:"selected_library_id,omitempty"`
}

// Normalize clamps values to their accepted ranges.
func (s Settings) Normalize() Settings {
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}

	if s.ChunkSizeMB < MinChunkSizeMB {
		s.ChunkSizeMB = MinChunkSizeMB
	}

	return s
}

func (s Settings) ChunkSizeBytes() int64 {
	return int64(s.ChunkSizeMB * bytesPerMB)
}

// SettingsStore keeps the current settings and writes them to a YAML file.
type SettingsStore struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// OpenSettings loads path on top of defaults. A missing file is not an error;
// it is created on the first Update.
func OpenSettings(path string, defaults Settings) (*SettingsStore, error) {
	s := &SettingsStore{path: path, current: defaults.Normalize()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	loaded := s.current
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	s.current = loaded.Normalize()

	return s, nil
}

func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Update applies fn to a copy of the current settings, normalizes and
// persists the result, and only then makes it current.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	fn(&next)
	next = next.Normalize()

	if err := s.write(next); err != nil {
		return s.current, err
	}

	s.current = next

	return next, nil
}

func (s *SettingsStore) write(st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write settings: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}
