package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/sagaflow/pkg/persistence"
)

// DefinitionStore keeps one JSON file per definition in root/<kind>.
type DefinitionStore[T persistence.Definition] struct {
	mu  sync.Mutex
	dir string
}

// NewDefinitionStore creates a definition store for one kind of definition.
func NewDefinitionStore[T persistence.Definition](root, kind string) *DefinitionStore[T] {
	return &DefinitionStore[T]{dir: filepath.Join(root, kind)}
}

// HealthCheck verifies the definitions directory can be created.
func (s *DefinitionStore[T]) HealthCheck(_ context.Context) error {
	return os.MkdirAll(s.dir, 0750)
}

// Get returns nil, nil when no file exists for key.
func (s *DefinitionStore[T]) Get(_ context.Context, key string) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(s.path(key))
}

func (s *DefinitionStore[T]) Create(_ context.Context, definition *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := (*definition).DefinitionKey()
	if _, err := os.Stat(s.path(key)); err == nil {
		return persistence.NewDefinitionError("Create", key, persistence.ErrDefinitionAlreadyExists)
	}

	return s.write(key, definition)
}

func (s *DefinitionStore[T]) Update(_ context.Context, definition *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := (*definition).DefinitionKey()
	if _, err := os.Stat(s.path(key)); errors.Is(err, fs.ErrNotExist) {
		return persistence.NewDefinitionError("Update", key, persistence.ErrDefinitionNotFound)
	}

	return s.write(key, definition)
}

func (s *DefinitionStore[T]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewDefinitionError("Delete", key, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete definition %s: %w", key, err)
	}

	return nil
}

// List returns every definition ordered by key.
func (s *DefinitionStore[T]) List(_ context.Context) ([]*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := fs.Glob(os.DirFS(s.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	sort.Strings(files)

	definitions := make([]*T, 0, len(files))

	for _, file := range files {
		definition, err := s.read(filepath.Join(s.dir, file))
		if err != nil {
			return nil, err
		}

		if definition != nil {
			definitions = append(definitions, definition)
		}
	}

	return definitions, nil
}

func (s *DefinitionStore[T]) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *DefinitionStore[T]) read(path string) (*T, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	var definition T

	if err := json.Unmarshal(body, &definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition file %s: %w", path, err)
	}

	return &definition, nil
}

func (s *DefinitionStore[T]) write(key string, definition *T) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}

	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", key, err)
	}

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write definition %s: %w", key, err)
	}

	return os.Rename(tmp, s.path(key))
}
