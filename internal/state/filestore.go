package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/Canis/internal/domain"

	"golang.org/x/sys/unix"
)

// Раскладка каталога FileStore:
//
//	<root>/runs/<name>/state.json
//	<root>/runs/<name>/snapshots/<id>.json
//	<root>/artifacts/<ref[:2]>/<ref>
const (
	runsDir      = "runs"
	artifactsDir = "artifacts"
	stateFile    = "state.json"
	snapshotsDir = "snapshots"
	lockFile     = ".lock"
)

// FileStore — Store и Artifacts на локальной файловой системе.
//
// Запись state.json атомарна: сначала временный файл, затем rename.
// Частично записанное состояние после сбоя процесса невозможно.
type FileStore struct {
	root string
}

// NewFileStore создаёт хранилище в каталоге root.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{
		filepath.Join(root, runsDir),
		filepath.Join(root, artifactsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// Save сохраняет workflow с проверкой ревизии.
//
// Проверка и запись выполняются под flock на каталоге workflow:
// CLI и демон, работающие с одним каталогом данных, не могут
// молча потерять обновление друг друга. Замок снимается ядром
// при выходе процесса, протухших замков не остаётся.
func (s *FileStore) Save(_ context.Context, wf *domain.Workflow) error {
	dir := filepath.Join(s.root, runsDir, wf.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	unlock, err := lockDir(dir)
	if err != nil {
		return err
	}
	defer unlock()

	path := filepath.Join(dir, stateFile)
	if stored, err := s.readState(path); err == nil {
		if stored.Revision != wf.Revision {
			return fmt.Errorf("%w: stored revision %d, saving %d",
				ErrRevisionConflict, stored.Revision, wf.Revision)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	wf.Revision++
	wf.UpdatedAt = time.Now().UTC()

	data, err := encodeWorkflow(wf)
	if err != nil {
		wf.Revision--
		return err
	}

	if err := atomicWrite(path, data); err != nil {
		wf.Revision--
		return err
	}
	return nil
}

// Load загружает workflow по имени.
func (s *FileStore) Load(_ context.Context, name string) (*domain.Workflow, error) {
	wf, err := s.readState(filepath.Join(s.root, runsDir, name, stateFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, name)
	}
	return wf, err
}

// List возвращает все сохранённые workflow.
func (s *FileStore) List(_ context.Context) ([]WorkflowInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runsDir))
	if err != nil {
		return nil, err
	}

	infos := make([]WorkflowInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wf, err := s.readState(filepath.Join(s.root, runsDir, entry.Name(), stateFile))
		if err != nil {
			continue
		}
		infos = append(infos, WorkflowInfo{
			Name:      wf.Name,
			Status:    wf.Status,
			Revision:  wf.Revision,
			UpdatedAt: wf.UpdatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete удаляет workflow и его снимки.
func (s *FileStore) Delete(_ context.Context, name string) error {
	dir := filepath.Join(s.root, runsDir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: workflow %s", ErrNotFound, name)
	}
	return os.RemoveAll(dir)
}

// Snapshot копирует текущее состояние в каталог снимков.
func (s *FileStore) Snapshot(_ context.Context, name string) (*SnapshotInfo, error) {
	wf, err := s.readState(filepath.Join(s.root, runsDir, name, stateFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, runsDir, name, snapshotsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	info := SnapshotInfo{
		ID:        fmt.Sprintf("%s-rev%d", time.Now().UTC().Format("20060102T150405"), wf.Revision),
		Revision:  wf.Revision,
		CreatedAt: time.Now().UTC(),
	}

	data, err := encodeWorkflow(wf)
	if err != nil {
		return nil, err
	}
	if err := atomicWrite(filepath.Join(dir, info.ID+".json"), data); err != nil {
		return nil, err
	}
	return &info, nil
}

// Snapshots перечисляет снимки, новые первыми.
func (s *FileStore) Snapshots(_ context.Context, name string) ([]SnapshotInfo, error) {
	dir := filepath.Join(s.root, runsDir, name, snapshotsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	infos := make([]SnapshotInfo, 0, len(entries))
	for _, entry := range entries {
		id := strings.TrimSuffix(entry.Name(), ".json")
		wf, err := s.readState(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SnapshotInfo{
			ID:        id,
			Revision:  wf.Revision,
			CreatedAt: fi.ModTime().UTC(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// LoadSnapshot загружает состояние из снимка.
func (s *FileStore) LoadSnapshot(_ context.Context, name, snapshotID string) (*domain.Workflow, error) {
	path := filepath.Join(s.root, runsDir, name, snapshotsDir, snapshotID+".json")
	wf, err := s.readState(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: snapshot %s of %s", ErrNotFound, snapshotID, name)
	}
	return wf, err
}

// Put сохраняет артефакт по sha256-адресу.
func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	ref := artifactRef(data)

	dir := filepath.Join(s.root, artifactsDir, ref[:2])
	path := filepath.Join(dir, ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil // уже есть, содержимое идентично по построению
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	return ref, nil
}

// Get читает артефакт по адресу и проверяет его целостность.
func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	if len(ref) < 3 {
		return nil, fmt.Errorf("%w: artifact ref %q", ErrNotFound, ref)
	}
	data, err := os.ReadFile(filepath.Join(s.root, artifactsDir, ref[:2], ref))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	if artifactRef(data) != ref {
		return nil, fmt.Errorf("%w: artifact %s content does not match its address", ErrCorruptState, ref)
	}
	return data, nil
}

// readState читает и разбирает файл состояния.
func (s *FileStore) readState(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := decodeWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	return wf, nil
}

// lockDir берёт эксклюзивный flock на файл замка каталога.
// Возвращённая функция освобождает замок.
func lockDir(dir string) (func(), error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// atomicWrite пишет файл через временный с последующим rename.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

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
	return os.Rename(tmp.Name(), path)
}

// ExportDataset пишет артефакт датасета в файл назначения.
func (s *FileStore) ExportDataset(ctx context.Context, item *domain.DataItem, dest string) error {
	resolver := &Resolver{Artifacts: s}
	data, err := resolver.Resolve(ctx, item)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return atomicWrite(dest, data)
}

// Статическая проверка реализаций.
var (
	_ Store     = (*FileStore)(nil)
	_ Artifacts = (*FileStore)(nil)
)
