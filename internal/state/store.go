package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shaiso/Canis/internal/domain"

	"github.com/google/uuid"
)

// artifactRef вычисляет content-адрес данных.
func artifactRef(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SnapshotInfo — метаданные снимка workflow.
type SnapshotInfo struct {
	// ID — идентификатор снимка.
	ID string `json:"id"`

	// Revision — ревизия workflow на момент снимка.
	Revision int64 `json:"revision"`

	// CreatedAt — время создания снимка.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowInfo — строка списка workflow.
type WorkflowInfo struct {
	Name      string                `json:"name"`
	Status    domain.WorkflowStatus `json:"status"`
	Revision  int64                 `json:"revision"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Store — durable-хранилище workflow.
//
// Save защищён оптимистичной блокировкой по ревизии: сохранение
// workflow, чья ревизия не совпадает с хранимой, отклоняется с
// ErrRevisionConflict. Успешный Save инкрементирует ревизию.
type Store interface {
	// Save сохраняет workflow целиком.
	Save(ctx context.Context, wf *domain.Workflow) error

	// Load загружает workflow по имени.
	Load(ctx context.Context, name string) (*domain.Workflow, error)

	// List возвращает все сохранённые workflow.
	List(ctx context.Context) ([]WorkflowInfo, error)

	// Delete удаляет workflow и его снимки.
	Delete(ctx context.Context, name string) error

	// Snapshot делает именованный снимок текущего состояния.
	Snapshot(ctx context.Context, name string) (*SnapshotInfo, error)

	// Snapshots перечисляет снимки workflow, новые первыми.
	Snapshots(ctx context.Context, name string) ([]SnapshotInfo, error)

	// LoadSnapshot загружает состояние из снимка, не трогая текущее.
	LoadSnapshot(ctx context.Context, name, snapshotID string) (*domain.Workflow, error)
}

// Artifacts — content-addressed хранилище крупных значений.
type Artifacts interface {
	// Put сохраняет данные и возвращает их адрес (sha256 hex).
	// Идемпотентен: одинаковые данные дают один адрес.
	Put(ctx context.Context, data []byte) (string, error)

	// Get читает данные по адресу.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Resolver разрешает значения DataItem'ов: inline-значения как есть,
// вынесенные — из хранилища артефактов.
type Resolver struct {
	Artifacts Artifacts
}

// Resolve возвращает значение DataItem'а.
func (r *Resolver) Resolve(ctx context.Context, item *domain.DataItem) ([]byte, error) {
	if item.Inline() {
		return item.Value, nil
	}
	return r.Artifacts.Get(ctx, item.ArtifactRef)
}

// Offload выносит в артефакты значения крупнее threshold байт.
// Вызывается перед Save, чтобы state.json не разрастался от
// материализованных датасетов.
func Offload(ctx context.Context, wf *domain.Workflow, artifacts Artifacts, threshold int) error {
	if threshold <= 0 {
		return nil
	}
	for _, item := range wf.Items {
		if !item.Inline() || len(item.Value) <= threshold {
			continue
		}
		ref, err := artifacts.Put(ctx, item.Value)
		if err != nil {
			return err
		}
		item.ArtifactRef = ref
		item.Value = nil
	}
	for _, step := range wf.Steps {
		if step.Sub != nil {
			if err := Offload(ctx, step.Sub, artifacts, threshold); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeWorkflow сериализует workflow для хранения.
func encodeWorkflow(wf *domain.Workflow) ([]byte, error) {
	return json.MarshalIndent(wf, "", "  ")
}

// decodeWorkflow восстанавливает workflow из хранимого представления.
func decodeWorkflow(data []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	if wf.Steps == nil {
		wf.Steps = make(map[string]*domain.Step)
	}
	if wf.Items == nil {
		wf.Items = make(map[uuid.UUID]*domain.DataItem)
	}
	return &wf, nil
}
