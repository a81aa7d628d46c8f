package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/cache"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
)

// DefaultImportance se usa cuando el scoring falla: la memoria se guarda igual.
const DefaultImportance = 0.5

// ImportanceScorer mapea texto+contexto a un escalar en [0,1] con un prompt
// corto al modelo de scoring; los resultados se cachean en el KV.
type ImportanceScorer struct {
	client llm.Client
	model  string
	kv     cache.Cache
	logger *zap.Logger
}

func NewImportanceScorer(client llm.Client, model string, kv cache.Cache, logger *zap.Logger) *ImportanceScorer {
	return &ImportanceScorer{client: client, model: model, kv: kv, logger: logger}
}

const importancePrompt = `Rate how important this memory is for a long-term companion relationship, from 0.0 (trivial small talk) to 1.0 (life-changing event, core preference, or identity fact).

Context: %s
Memory: %q

Reply with JSON only: {"importance": <number>}`

// Score devuelve la importancia del contenido; nunca falla, degrada a
// DefaultImportance.
func (s *ImportanceScorer) Score(ctx context.Context, content, scoringContext string) float64 {
	key := cache.HashContent(content + "\x00" + scoringContext)
	if v, ok := s.kv.GetImportance(ctx, key); ok {
		return v
	}

	text, err := s.client.Generate(ctx, llm.Request{
		Model:       s.model,
		Prompt:      fmt.Sprintf(importancePrompt, scoringContext, content),
		Temperature: 0.1,
		MaxTokens:   50,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("importance scoring failed, using default", zap.Error(err))
		}
		return DefaultImportance
	}

	var parsed struct {
		Importance float64 `json:"importance"`
	}
	raw := extractFirstJSONObject(text)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		if s.logger != nil {
			s.logger.Warn("importance response unparseable, using default", zap.String("raw", truncate(text, 120)))
		}
		return DefaultImportance
	}

	score := parsed.Importance
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	s.kv.SetImportance(ctx, key, score)
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
