package executor

import "errors"

var (
	// ErrUnknownStepKind — в реестре нет executor'а для вида шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrNotAsync — Poll вызван для синхронного executor'а.
	ErrNotAsync = errors.New("executor is not asynchronous")

	// ErrNoJob — llm-шаг опрашивается без отправленного job'а.
	ErrNoJob = errors.New("step has no batch job")

	// ErrNoSubWorkflow — chip-шаг опрашивается без развёрнутого подграфа.
	ErrNoSubWorkflow = errors.New("step has no sub-workflow")

	// ErrMissingInput — у шага не оказалось значения для обязательного слота.
	ErrMissingInput = errors.New("missing input value")
)
