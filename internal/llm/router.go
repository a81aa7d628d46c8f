package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Router resuelve la selección primario→respaldo: intenta el modelo primario
// y, si falla por timeout, 429, 5xx o respuesta malformada, repite el mismo
// prompt contra el modelo de respaldo.
type Router struct {
	client        Client
	primaryModel  string
	fallbackModel string
	logger        *zap.Logger
}

// NewRouter construye el router sobre un cliente compartido.
func NewRouter(client Client, primaryModel, fallbackModel string, logger *zap.Logger) *Router {
	return &Router{
		client:        client,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		logger:        logger,
	}
}

// GenerateWithFallback devuelve el texto y si se usó el respaldo. Si ambos
// modelos fallan devuelve el último error; el llamador decide la respuesta
// degradada.
func (r *Router) GenerateWithFallback(ctx context.Context, system, prompt string, temperature float64, timeout time.Duration) (string, bool, error) {
	req := Request{
		Model:       r.primaryModel,
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
		Timeout:     timeout,
	}
	text, err := r.client.Generate(ctx, req)
	if err == nil {
		return text, false, nil
	}
	if r.logger != nil {
		r.logger.Warn("primary model failed, trying fallback",
			zap.String("primary", r.primaryModel), zap.String("fallback", r.fallbackModel), zap.Error(err))
	}

	req.Model = r.fallbackModel
	text, fbErr := r.client.Generate(ctx, req)
	if fbErr == nil {
		return text, true, nil
	}
	return "", true, fbErr
}
