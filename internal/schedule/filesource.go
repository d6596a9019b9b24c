package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Canis/internal/state"
)

// FileSource — файловое хранилище определений:
// <root>/schedules/<name>.json, одно определение на файл.
type FileSource struct {
	dir string
}

// NewFileSource создаёт хранилище в каталоге root/schedules.
func NewFileSource(root string) (*FileSource, error) {
	dir := filepath.Join(root, "schedules")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &FileSource{dir: dir}, nil
}

// List возвращает все определения, отсортированные по имени.
func (s *FileSource) List(_ context.Context) ([]Definition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		def, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Get возвращает определение по имени.
func (s *FileSource) Get(_ context.Context, name string) (*Definition, error) {
	def, err := s.read(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: schedule %s", state.ErrNotFound, name)
	}
	return def, err
}

// Put создаёт или обновляет определение.
func (s *FileSource) Put(_ context.Context, def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("schedule has no name")
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(def.Name), data, 0o644)
}

// Delete удаляет определение.
func (s *FileSource) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: schedule %s", state.ErrNotFound, name)
	}
	return err
}

func (s *FileSource) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileSource) read(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", state.ErrCorruptState, path, err)
	}
	return &def, nil
}

var _ Source = (*FileSource)(nil)
