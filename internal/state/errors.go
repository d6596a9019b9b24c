package state

import "errors"

var (
	// ErrNotFound — workflow, снимок или артефакт не существует.
	ErrNotFound = errors.New("not found")

	// ErrCorruptState — хранимое состояние не разбирается.
	// Непроходимая ошибка: workflow восстанавливается из снимка.
	ErrCorruptState = errors.New("corrupt state")

	// ErrRevisionConflict — ревизия сохраняемого workflow отстала
	// от хранимой: состояние менял кто-то ещё.
	ErrRevisionConflict = errors.New("revision conflict")
)
