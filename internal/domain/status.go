package domain

// WorkflowStatus — статус выполнения workflow.
//
// Жизненный цикл:
//
//	CREATED → RUNNING → COMPLETED
//	                  ↘ FAILED
//	                  ↘ BLOCKED (нет готовых шагов, но есть незавершённые)
//	          (или) → CANCELLED (из CREATED или RUNNING)
type WorkflowStatus string

const (
	// WorkflowStatusCreated — workflow создан, но ещё не запускался.
	WorkflowStatusCreated WorkflowStatus = "CREATED"

	// WorkflowStatusRunning — workflow в процессе выполнения.
	WorkflowStatusRunning WorkflowStatus = "RUNNING"

	// WorkflowStatusBlocked — планировщик не нашёл готовых шагов,
	// хотя не все шаги завершены (недостижимый шаг после сбоя).
	WorkflowStatusBlocked WorkflowStatus = "BLOCKED"

	// WorkflowStatusCompleted — все шаги успешно завершены.
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"

	// WorkflowStatusFailed — workflow завершён, есть упавшие шаги.
	WorkflowStatusFailed WorkflowStatus = "FAILED"

	// WorkflowStatusCancelled — workflow отменён пользователем.
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (workflow завершён).
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения шага.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ FAILED
//	          (или) → CANCELLED (из любого нефинального статуса)
type StepStatus string

const (
	// StepStatusPending — шаг создан, входные слоты ещё не связаны.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusReady — все обязательные входные слоты связаны,
	// шаг выбран планировщиком для выполнения.
	StepStatusReady StepStatus = "READY"

	// StepStatusRunning — шаг выполняется (для llm-шагов —
	// batch-задание отправлено и опрашивается).
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusCompleted — шаг успешно завершён, выходы запечатаны.
	StepStatusCompleted StepStatus = "COMPLETED"

	// StepStatusFailed — шаг завершился ошибкой (см. Step.Failure).
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusCancelled — шаг отменён вместе с workflow.
	StepStatusCancelled StepStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// FailureKind — классификация причины сбоя (см. таксономию ошибок).
type FailureKind string

const (
	// FailureConfiguration — некорректный граф: цикл, висячая ссылка,
	// несовместимость типов. Обнаруживается до начала выполнения.
	FailureConfiguration FailureKind = "configuration"

	// FailureSubmission — сервис отклонил batch целиком. Не повторяется.
	FailureSubmission FailureKind = "submission"

	// FailureTransient — транзиентные ошибки исчерпали бюджет повторов.
	FailureTransient FailureKind = "transient_exhausted"

	// FailureExpired — batch-задание превысило максимальный возраст.
	FailureExpired FailureKind = "expired"

	// FailureValidation — записи не прошли валидацию схемы при finalize.
	FailureValidation FailureKind = "validation"

	// FailureUpstream — обязательный входной слот питается от упавшего шага.
	FailureUpstream FailureKind = "upstream"

	// FailureInternal — ошибка выполнения оператора или executor'а.
	FailureInternal FailureKind = "internal"
)

// FailureReason — структурированная причина сбоя шага.
// Сохраняется вместе со статусом для последующего инспектирования.
type FailureReason struct {
	// Kind — классификация сбоя.
	Kind FailureKind `json:"kind"`

	// Message — человекочитаемое описание.
	Message string `json:"message"`
}

// NewFailure создаёт FailureReason из ошибки.
func NewFailure(kind FailureKind, err error) *FailureReason {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &FailureReason{Kind: kind, Message: msg}
}
