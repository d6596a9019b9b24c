package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWorkflowFinished — операция над workflow в финальном статусе.
	ErrWorkflowFinished = errors.New("workflow already finished")

	// ErrWorkflowActive — workflow уже обрабатывается этим процессом.
	ErrWorkflowActive = errors.New("workflow is already being advanced")
)
