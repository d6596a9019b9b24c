package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Canis/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// customIDPrefix — схема custom_id в JSONL-файле batch'а: "task-<index>".
const customIDPrefix = "task-"

// OpenAIService — реализация Service поверх OpenAI Batch API.
type OpenAIService struct {
	client *openai.Client

	// completionWindow — окно выполнения batch'а ("24h").
	completionWindow string
}

// OpenAIConfig — настройки подключения к OpenAI.
type OpenAIConfig struct {
	// APIKey — ключ API.
	APIKey string

	// BaseURL — альтернативный endpoint; пустой — api.openai.com.
	BaseURL string

	// CompletionWindow — окно выполнения batch'а. По умолчанию "24h" —
	// единственное значение, которое сервис сейчас принимает.
	CompletionWindow string
}

// NewOpenAIService создаёт сервис с настройками cfg.
func NewOpenAIService(cfg OpenAIConfig) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	window := cfg.CompletionWindow
	if window == "" {
		window = "24h"
	}

	return &OpenAIService{
		client:           openai.NewClientWithConfig(clientCfg),
		completionWindow: window,
	}
}

// Submit загружает запросы одним JSONL-файлом и создаёт batch-job.
func (s *OpenAIService) Submit(ctx context.Context, name string, requests []Request) (*Submission, error) {
	lines := make([]openai.BatchLineItem, 0, len(requests))
	for _, req := range requests {
		lines = append(lines, openai.BatchChatCompletionRequest{
			CustomID: customIDPrefix + strconv.Itoa(req.Index),
			Method:   "POST",
			URL:      openai.BatchEndpointChatCompletions,
			Body:     chatRequest(req),
		})
	}

	resp, err := s.client.CreateBatchWithUploadFile(ctx, openai.CreateBatchWithUploadFileRequest{
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: s.completionWindow,
		UploadBatchFileRequest: openai.UploadBatchFileRequest{
			FileName: name + ".jsonl",
			Lines:    lines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	return &Submission{
		JobID:       resp.ID,
		InputFileID: resp.InputFileID,
	}, nil
}

// Poll возвращает состояние job'а.
func (s *OpenAIService) Poll(ctx context.Context, jobID string) (*Remote, error) {
	resp, err := s.client.RetrieveBatch(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieve batch %s: %w", jobID, err)
	}

	remote := &Remote{
		Status:    mapStatus(resp.Status, resp.RequestCounts.Failed),
		Completed: resp.RequestCounts.Completed,
		Failed:    resp.RequestCounts.Failed,
	}
	if resp.OutputFileID != nil {
		remote.OutputFileID = *resp.OutputFileID
	}
	if resp.ErrorFileID != nil {
		remote.ErrorFileID = *resp.ErrorFileID
	}
	return remote, nil
}

// Fetch скачивает JSONL-файл результатов и раскладывает его по
// индексам исходных запросов.
func (s *OpenAIService) Fetch(ctx context.Context, outputFileID string) (map[int]domain.RequestResult, error) {
	content, err := s.client.GetFileContent(ctx, outputFileID)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", outputFileID, err)
	}
	defer content.Close()

	results := make(map[int]domain.RequestResult)

	scanner := bufio.NewScanner(content)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		result, err := parseResultLine([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", outputFileID, err)
		}
		results[result.Index] = result
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file %s: %w", outputFileID, err)
	}

	return results, nil
}

// Cancel запрашивает отмену job'а.
func (s *OpenAIService) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.client.CancelBatch(ctx, jobID); err != nil {
		return fmt.Errorf("cancel batch %s: %w", jobID, err)
	}
	return nil
}

// chatRequest собирает тело chat-completion запроса.
func chatRequest(req Request) openai.ChatCompletionRequest {
	body := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	body.Messages = append(body.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})
	if req.JSONResponse {
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return body
}

// mapStatus переводит статус сервиса в domain.JobStatus.
// Завершённый batch с неуспешными запросами считается частично
// выполненным: результаты есть, но не для всех запросов.
func mapStatus(status string, failed int) domain.JobStatus {
	switch status {
	case "completed":
		if failed > 0 {
			return domain.JobStatusPartiallyComplete
		}
		return domain.JobStatusComplete
	case "failed":
		return domain.JobStatusFailed
	case "expired":
		return domain.JobStatusExpired
	case "cancelled":
		return domain.JobStatusCancelled
	default:
		// validating, in_progress, finalizing, cancelling
		return domain.JobStatusInProgress
	}
}

// resultLine — строка JSONL-файла результатов batch'а.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseResultLine разбирает одну строку результатов.
func parseResultLine(data []byte) (domain.RequestResult, error) {
	var line resultLine
	if err := json.Unmarshal(data, &line); err != nil {
		return domain.RequestResult{}, fmt.Errorf("malformed result line: %w", err)
	}

	index, ok := strings.CutPrefix(line.CustomID, customIDPrefix)
	if !ok {
		return domain.RequestResult{}, fmt.Errorf("unexpected custom_id %q", line.CustomID)
	}
	idx, err := strconv.Atoi(index)
	if err != nil {
		return domain.RequestResult{}, fmt.Errorf("unexpected custom_id %q", line.CustomID)
	}

	result := domain.RequestResult{Index: idx}

	if line.Error != nil {
		result.Err = line.Error.Message
		return result, nil
	}
	if line.Response == nil {
		result.Err = "empty response"
		return result, nil
	}
	if line.Response.StatusCode >= 400 {
		result.Err = fmt.Sprintf("request failed with status %d", line.Response.StatusCode)
		return result, nil
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(line.Response.Body, &completion); err != nil {
		return domain.RequestResult{}, fmt.Errorf("malformed completion for %q: %w", line.CustomID, err)
	}
	if len(completion.Choices) == 0 {
		result.Err = "completion has no choices"
		return result, nil
	}

	result.Content = completion.Choices[0].Message.Content
	return result, nil
}
