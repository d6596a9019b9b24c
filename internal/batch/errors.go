package batch

import "errors"

var (
	// ErrSubmissionRejected — сервис отклонил batch целиком.
	// Не повторяется: повторная отправка того же payload'а даст то же самое.
	ErrSubmissionRejected = errors.New("batch submission rejected")

	// ErrRetryExhausted — транзиентные ошибки исчерпали бюджет повторов.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrNotFetchable — результаты запрошены у job'а, который ещё
	// не в состоянии COMPLETE или PARTIALLY_COMPLETE.
	ErrNotFetchable = errors.New("job results are not fetchable yet")

	// ErrJobExpired — job превысил максимальный срок жизни.
	ErrJobExpired = errors.New("job exceeded max age")

	// ErrNotSubmitted — операция требует уже отправленного job'а.
	ErrNotSubmitted = errors.New("job has not been submitted")
)
