package engine

import "errors"

// Ошибки валидации GraphSpec.
var (
	// ErrEmptySteps — граф не содержит шагов.
	ErrEmptySteps = errors.New("graph spec has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrInvalidStepID — ID шага содержит недопустимые символы.
	ErrInvalidStepID = errors.New("invalid step ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepKind — неизвестный вид шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrUnknownOperator — code-шаг ссылается на несуществующий оператор.
	ErrUnknownOperator = errors.New("unknown code operator")

	// ErrUnknownChip — chip-шаг без подграфа и без встроенного шаблона.
	ErrUnknownChip = errors.New("unknown chip")

	// ErrDanglingReference — слот ссылается на несуществующий шаг или слот.
	ErrDanglingReference = errors.New("dangling slot reference")

	// ErrTypeMismatch — тип источника несовместим с типом слота.
	ErrTypeMismatch = errors.New("slot type mismatch")

	// ErrInvalidSlot — некорректное объявление слота.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrMissingTemplate — llm-шаг без шаблона вызова.
	ErrMissingTemplate = errors.New("llm step has no call template")

	// ErrCyclicDependency — обнаружен цикл в графе.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUnknownExternal — слот ссылается на несуществующие внешние данные.
	ErrUnknownExternal = errors.New("unknown external data")
)

// ConfigError — ошибка конфигурации графа с контекстом.
type ConfigError struct {
	StepID  string // ID шага, где обнаружена ошибка
	Slot    string // имя слота, если применимо
	Message string // описание
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ConfigError) Error() string {
	switch {
	case e.StepID != "" && e.Slot != "":
		return "step " + e.StepID + ", slot " + e.Slot + ": " + e.Message
	case e.StepID != "":
		return "step " + e.StepID + ": " + e.Message
	default:
		return e.Message
	}
}

// Unwrap возвращает базовую ошибку.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// newConfigError создаёт ошибку конфигурации.
func newConfigError(stepID, slot, message string, err error) *ConfigError {
	return &ConfigError{
		StepID:  stepID,
		Slot:    slot,
		Message: message,
		Err:     err,
	}
}
