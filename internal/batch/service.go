package batch

import (
	"context"

	"github.com/shaiso/Canis/internal/domain"
)

// Request — один запрос к модели внутри batch'а.
// Index задаёт соответствие между запросом и результатом:
// результаты собираются в исходном порядке независимо от того,
// в каком порядке их вернул сервис.
type Request struct {
	// Index — позиция запроса в batch'е.
	Index int

	// Model — идентификатор модели.
	Model string

	// Temperature — температура сэмплирования.
	Temperature float32

	// MaxTokens — лимит токенов ответа; 0 — без лимита.
	MaxTokens int

	// JSONResponse — требовать от модели JSON-объект.
	JSONResponse bool

	// System — системное сообщение; может быть пустым.
	System string

	// User — пользовательское сообщение.
	User string
}

// Remote — снимок состояния job'а на стороне сервиса.
type Remote struct {
	// Status — статус в терминах domain.JobStatus.
	Status domain.JobStatus

	// OutputFileID — файл с результатами; пустой, пока job не завершён.
	OutputFileID string

	// ErrorFileID — файл с ошибками отдельных запросов; пустой,
	// если все запросы выполнились.
	ErrorFileID string

	// Completed — количество успешно выполненных запросов.
	Completed int

	// Failed — количество запросов, завершившихся ошибкой.
	Failed int
}

// Submission — идентификаторы, выданные сервисом при отправке batch'а.
type Submission struct {
	// JobID — внешний идентификатор job'а.
	JobID string

	// InputFileID — идентификатор загруженного файла с запросами.
	InputFileID string
}

// Service — операции внешнего batch-сервиса. Реализация не делает
// повторов: политика повторов живёт в Client.
type Service interface {
	// Submit загружает запросы и создаёт batch-job.
	Submit(ctx context.Context, name string, requests []Request) (*Submission, error)

	// Poll возвращает текущее состояние job'а.
	Poll(ctx context.Context, jobID string) (*Remote, error)

	// Fetch скачивает и разбирает результаты завершённого job'а.
	// Ключ — индекс исходного запроса.
	Fetch(ctx context.Context, outputFileID string) (map[int]domain.RequestResult, error)

	// Cancel запрашивает отмену job'а на стороне сервиса.
	Cancel(ctx context.Context, jobID string) error
}
