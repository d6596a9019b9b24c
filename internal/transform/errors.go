package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrUnboundPlaceholder — шаблон ссылается на имя, для которого
	// не передано значение.
	ErrUnboundPlaceholder = errors.New("unbound placeholder")

	// ErrLengthMismatch — списки разной длины, и ни один из них
	// не является одиночным элементом.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrMalformedValue — значение не является корректным JSON
	// ожидаемой формы.
	ErrMalformedValue = errors.New("malformed value")

	// ErrBadSchema — схема валидации не компилируется.
	ErrBadSchema = errors.New("bad schema")
)

// OpError — ошибка оператора с привязкой к имени оператора.
type OpError struct {
	// Op — имя оператора (merge, bind, ...).
	Op string

	// Detail — человекочитаемое описание.
	Detail string

	// Err — базовая ошибка для errors.Is.
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, detail string, err error) *OpError {
	return &OpError{Op: op, Detail: detail, Err: err}
}
