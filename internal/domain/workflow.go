package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ошибки инвариантов workflow.
var (
	// ErrUnknownStep — шаг с таким ID не существует.
	ErrUnknownStep = errors.New("unknown step")

	// ErrUnknownSlot — слот с таким именем не объявлен шагом.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrDuplicateItem — DataItem с таким ID уже зарегистрирован.
	ErrDuplicateItem = errors.New("duplicate data item")

	// ErrOutputSealed — попытка повторной записи выхода.
	// Выходы шага неизменяемы после COMPLETED (write-once).
	ErrOutputSealed = errors.New("step output is sealed")

	// ErrTypeMismatch — тип значения несовместим с типом слота.
	ErrTypeMismatch = errors.New("data type mismatch")
)

// Workflow — агрегат: граф шагов, все DataItem'ы и монотонный
// номер ревизии. Единица персистентности: State Store владеет
// долговременным представлением, планировщик — мутацией в памяти.
type Workflow struct {
	// ID — уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя workflow (ключ в State Store).
	Name string `json:"name"`

	// Revision — монотонно растущий номер ревизии.
	// Инкрементируется State Store при каждом save.
	Revision int64 `json:"revision"`

	// Status — текущий статус.
	Status WorkflowStatus `json:"status"`

	// Steps — все шаги, ключ — ID шага. Рёбра графа выводятся
	// из ссылок входных слотов на выходы (InputSlot.From).
	Steps map[string]*Step `json:"steps"`

	// Items — все DataItem'ы, ключ — ID.
	Items map[uuid.UUID]*DataItem `json:"items"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflow создаёт пустой workflow.
func NewWorkflow(name string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:        uuid.New(),
		Name:      name,
		Status:    WorkflowStatusCreated,
		Steps:     make(map[string]*Step),
		Items:     make(map[uuid.UUID]*DataItem),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Step возвращает шаг по ID.
func (w *Workflow) Step(id string) (*Step, bool) {
	s, ok := w.Steps[id]
	return s, ok
}

// Item возвращает DataItem по ID.
func (w *Workflow) Item(id uuid.UUID) (*DataItem, bool) {
	d, ok := w.Items[id]
	return d, ok
}

// AddItem регистрирует новый DataItem.
func (w *Workflow) AddItem(item *DataItem) error {
	if _, exists := w.Items[item.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}
	w.Items[item.ID] = item
	return nil
}

// BindOutput привязывает порождённый DataItem к выходному слоту шага.
//
// Инварианты:
//   - выход завершённого шага неизменяем (write-once);
//   - слот можно связать ровно один раз;
//   - тип значения должен совпадать с типом слота.
func (w *Workflow) BindOutput(stepID, slot string, item *DataItem) error {
	step, ok := w.Steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	out := step.Output(slot)
	if out == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownSlot, stepID, slot)
	}
	if step.Status == StepStatusCompleted || out.ItemID != nil {
		return fmt.Errorf("%w: %s.%s", ErrOutputSealed, stepID, slot)
	}
	if !item.Type.CompatibleWith(out.Type) {
		return fmt.Errorf("%w: %s.%s declares %s, got %s",
			ErrTypeMismatch, stepID, slot, out.Type, item.Type)
	}
	if err := w.AddItem(item); err != nil {
		return err
	}
	out.ItemID = &item.ID
	return nil
}

// BindInput привязывает DataItem к входному слоту шага с проверкой типа.
func (w *Workflow) BindInput(stepID, slot string, itemID uuid.UUID) error {
	step, ok := w.Steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	in := step.Input(slot)
	if in == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownSlot, stepID, slot)
	}
	item, ok := w.Items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %s", ErrUnknownSlot, itemID)
	}
	if !item.Type.CompatibleWith(in.Type) {
		return fmt.Errorf("%w: %s.%s declares %s, got %s",
			ErrTypeMismatch, stepID, slot, in.Type, item.Type)
	}
	in.ItemID = &itemID
	return nil
}

// InputItem возвращает DataItem, связанный со входным слотом.
func (w *Workflow) InputItem(stepID, slot string) (*DataItem, bool) {
	step, ok := w.Steps[stepID]
	if !ok {
		return nil, false
	}
	in := step.Input(slot)
	if in == nil || in.ItemID == nil {
		return nil, false
	}
	return w.Item(*in.ItemID)
}

// ExternalItem возвращает внешний DataItem по имени.
func (w *Workflow) ExternalItem(name string) (*DataItem, bool) {
	for _, item := range w.Items {
		if item.IsExternal() && item.Name == name {
			return item, true
		}
	}
	return nil, false
}

// AllTerminal проверяет, все ли шаги в финальном статусе.
func (w *Workflow) AllTerminal() bool {
	for _, step := range w.Steps {
		if !step.IsTerminal() {
			return false
		}
	}
	return true
}

// CountByStatus возвращает количество шагов в каждом статусе.
func (w *Workflow) CountByStatus() map[StepStatus]int {
	counts := make(map[StepStatus]int)
	for _, step := range w.Steps {
		counts[step.Status]++
	}
	return counts
}

// Touch обновляет UpdatedAt.
func (w *Workflow) Touch() {
	w.UpdatedAt = time.Now().UTC()
}
