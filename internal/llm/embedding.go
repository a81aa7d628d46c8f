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

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/cache"
)

// Embedder convierte texto en un vector de dimensión fija.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// HTTPEmbedder implementa Embedder contra un endpoint /embeddings compatible
// con OpenAI, con caché por hash de contenido y un pool de workers acotado.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dim     int
	client  *http.Client
	workers *semaphore.Weighted
	kv      cache.Cache
	logger  *zap.Logger
}

// NewHTTPEmbedder construye el cliente de embeddings; kv puede ser cache.Noop.
func NewHTTPEmbedder(baseURL, apiKey, model string, dim, workers int, kv cache.Cache, logger *zap.Logger) *HTTPEmbedder {
	if workers <= 0 {
		workers = 10
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 45 * time.Second},
		workers: semaphore.NewWeighted(int64(workers)),
		kv:      kv,
		logger:  logger,
	}
}

func (e *HTTPEmbedder) Dim() int { return e.dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := cache.HashContent(text)
	if vec, ok := e.kv.GetEmbedding(ctx, hash, e.dim); ok {
		return vec, nil
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire embed worker: %w", err)
	}
	defer e.workers.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var er embeddingResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, errors.New("embedding empty response")
	}
	vec := er.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("embedding dim mismatch: got %d, want %d", len(vec), e.dim)
	}

	e.kv.SetEmbedding(ctx, hash, e.dim, vec)
	return vec, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
