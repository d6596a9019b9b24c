package domain

import "time"

// JobStatus — статус batch-задания у внешнего сервиса.
//
// Жизненный цикл:
//
//	(создано) → IN_PROGRESS → COMPLETE
//	                        ↘ PARTIALLY_COMPLETE (часть запросов упала)
//	                        ↘ EXPIRED / CANCELLED / FAILED
type JobStatus string

const (
	// JobStatusInProgress — задание принято сервисом и выполняется.
	JobStatusInProgress JobStatus = "IN_PROGRESS"

	// JobStatusPartiallyComplete — задание завершено, но часть запросов
	// вернула ошибки. Результаты доступны для fetch.
	JobStatusPartiallyComplete JobStatus = "PARTIALLY_COMPLETE"

	// JobStatusComplete — все запросы выполнены, результаты доступны.
	JobStatusComplete JobStatus = "COMPLETE"

	// JobStatusExpired — задание превысило окно выполнения.
	// Для планировщика эквивалентно FAILED.
	JobStatusExpired JobStatus = "EXPIRED"

	// JobStatusCancelled — задание отменено.
	JobStatusCancelled JobStatus = "CANCELLED"

	// JobStatusFailed — сервис сообщил о сбое задания,
	// либо исчерпан бюджет повторов на submit/poll/fetch.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusPartiallyComplete,
		JobStatusExpired, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Fetchable возвращает true, если результаты задания можно забрать.
func (s JobStatus) Fetchable() bool {
	return s == JobStatusComplete || s == JobStatusPartiallyComplete
}

// RequestResult — результат одного запроса внутри batch.
type RequestResult struct {
	// Index — порядковый номер запроса в исходном batch.
	Index int `json:"index"`

	// Content — содержимое ответа модели.
	Content string `json:"content,omitempty"`

	// Err — ошибка уровня запроса. Не повторяется автоматически:
	// автор workflow направляет такие записи в шаг-ремедиацию.
	Err string `json:"error,omitempty"`
}

// BatchJob — одно невыполненное обращение к внешнему batch-сервису.
//
// Принадлежит эксклюзивно породившему его llm-шагу. Хранит достаточно
// информации, чтобы после рестарта процесса возобновить опрос того же
// внешнего задания без повторной отправки.
type BatchJob struct {
	// JobID — внешний идентификатор, присвоенный сервисом.
	// Пустой до успешной отправки. Повторная отправка задания
	// с заполненным JobID запрещена.
	JobID string `json:"job_id,omitempty"`

	// InputFileID — идентификатор загруженного файла запросов.
	InputFileID string `json:"input_file_id,omitempty"`

	// OutputFileID — идентификатор файла результатов.
	OutputFileID string `json:"output_file_id,omitempty"`

	// RequestCount — количество запросов в batch.
	RequestCount int `json:"request_count"`

	// RequestsRef — артефакт с отправленными payload'ами (JSONL).
	RequestsRef string `json:"requests_ref,omitempty"`

	// Status — последний известный статус у сервиса.
	Status JobStatus `json:"status"`

	// Results — полученные результаты: индекс запроса → результат/ошибка.
	Results map[int]RequestResult `json:"results,omitempty"`

	// Retries — количество израсходованных повторов транзиентных ошибок.
	Retries int `json:"retries"`

	// SubmittedAt — время отправки.
	SubmittedAt time.Time `json:"submitted_at,omitempty"`

	// LastPolledAt — время последнего опроса.
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
}

// Submitted возвращает true, если задание уже отправлено сервису.
func (j *BatchJob) Submitted() bool {
	return j.JobID != ""
}

// Age возвращает возраст задания с момента отправки.
func (j *BatchJob) Age(now time.Time) time.Duration {
	if j.SubmittedAt.IsZero() {
		return 0
	}
	return now.Sub(j.SubmittedAt)
}

// FailedRequests возвращает количество запросов, завершившихся ошибкой.
func (j *BatchJob) FailedRequests() int {
	n := 0
	for _, r := range j.Results {
		if r.Err != "" {
			n++
		}
	}
	return n
}
