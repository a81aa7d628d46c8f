package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Client define la interfaz para generar respuestas con un LLM.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request es una petición de generación con campos enumerados; nada de
// diccionarios abiertos.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// StatusError conserva el status HTTP para clasificar reintentos.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm http error: status=%d", e.Status)
}

// Retryable indica si el fallo amerita reintento o caída al modelo de respaldo:
// timeouts, 429 y 5xx sí; 4xx de cliente no.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	// Errores de red y respuestas malformadas también cuentan.
	return true
}

// HTTPClient implementa Client contra una API de chat completions compatible
// con OpenAI, con timeout por llamada, reintento con backoff y un semáforo
// que acota las llamadas de IA concurrentes de todo el proceso.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// NewHTTPClient construye el cliente. maxConcurrent acota las llamadas en
// vuelo; logger puede ser nil.
func NewHTTPClient(baseURL, apiKey string, maxConcurrent int, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 90 * time.Second},
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
	}
}

const (
	maxAttempts    = 2
	initialBackoff = 500 * time.Millisecond
)

func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire ai slot: %w", err)
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, err := c.generateOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			break
		}
		if c.logger != nil {
			c.logger.Warn("llm call failed, retrying",
				zap.String("model", req.Model), zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return "", lastErr
}

func (c *HTTPClient) generateOnce(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", &StatusError{Status: resp.StatusCode}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("llm api error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", errors.New("llm empty response")
	}
	return cr.Choices[0].Message.Content, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
