package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// ActionNotify — уведомление о ходе разрешения конфликта через webhook.
	ActionNotify = "notify"

	defaultNotifyTimeout = 10 * time.Second
	maxResponseBody      = 1 << 20
)

// Ключи конфигурации notify.
const (
	configURL        = "url"
	configMessage    = "message"
	configHeaders    = "headers"
	configTimeoutSec = "timeout_sec"
)

// NotifyConfig — настройки по умолчанию для NotifyStep.
type NotifyConfig struct {
	// WebhookURL — адрес по умолчанию. Пустой — уведомления выключены.
	WebhookURL string

	// Headers — заголовки каждого запроса (например, Authorization).
	Headers map[string]string

	Timeout time.Duration
}

// NotifyStep отправляет JSON-сообщение во внешний webhook (чат, пейджер).
//
// Конфигурация шага:
//
//	{
//	    "url": "https://hooks.example.com/orchestra",   // опционально
//	    "message": "{{ .conflict.Title }}: {{ .strategy }}",
//	    "headers": {"X-Team": "platform"},
//	    "timeout_sec": 5
//	}
//
// message рендерится с Request.Vars. Тело запроса:
//
//	{"text": "...", "conflict_id": "...", "step_id": "..."}
//
// Outputs:
//
//	{"delivered": true, "status_code": 200}
type NotifyStep struct {
	cfg    NotifyConfig
	client *http.Client
}

// NewNotifyStep создаёт NotifyStep.
func NewNotifyStep(cfg NotifyConfig) *NotifyStep {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotifyTimeout
	}
	return &NotifyStep{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Type возвращает имя действия.
func (s *NotifyStep) Type() string {
	return ActionNotify
}

// notifyPayload — тело запроса webhook.
type notifyPayload struct {
	Text       string `json:"text"`
	ConflictID string `json:"conflict_id,omitempty"`
	StepID     string `json:"step_id,omitempty"`
}

// Execute отправляет уведомление.
// Без адреса шаг считается выполненным: delivered=false.
func (s *NotifyStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	url := GetConfigString(req.Config, configURL)
	if url == "" {
		url = s.cfg.WebhookURL
	}

	text, err := Render(GetConfigString(req.Config, configMessage), req.Vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ActionNotify, err)
	}

	if url == "" {
		return NewResponse(map[string]any{"delivered": false, "text": text}), nil
	}

	body, err := json.Marshal(notifyPayload{Text: text, ConflictID: req.ConflictID, StepID: req.StepID})
	if err != nil {
		return nil, fmt.Errorf("serialize body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ActionNotify, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range GetConfigMapString(req.Config, configHeaders) {
		httpReq.Header.Set(k, v)
	}

	client := s.client
	if sec := GetConfigInt(req.Config, configTimeoutSec); sec > 0 {
		client = &http.Client{Timeout: time.Duration(sec) * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(respBody)}
	}

	return NewResponse(map[string]any{
		"delivered":   true,
		"status_code": resp.StatusCode,
	}), nil
}

// HTTPError — webhook ответил ошибкой.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
