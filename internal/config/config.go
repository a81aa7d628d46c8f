package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// Config centraliza la configuración del gateway.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Conexiones externas.
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Endpoints de IA (compatibles con OpenAI).
	LLMBaseURL       string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMAPIKey        string `env:"LLM_API_KEY,required"`
	EmbeddingBaseURL string `env:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY"`

	// Selección de modelos.
	PrimaryModel   string `env:"PRIMARY_MODEL" envDefault:"gpt-4o"`
	FallbackModel  string `env:"FALLBACK_MODEL" envDefault:"gpt-4o-mini"`
	ScoringModel   string `env:"SCORING_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Credenciales del runtime.
	GatewayJWTSecret string `env:"GATEWAY_JWT_SECRET"`
	AdminTokenHash   string `env:"ADMIN_TOKEN_HASH"`

	// Perillas numéricas.
	EmbeddingDim                int     `env:"EMBEDDING_DIM" envDefault:"1536"`
	PADDriftRate                float64 `env:"PAD_DRIFT_RATE" envDefault:"0.01"`
	QuirkDecayRate              float64 `env:"QUIRK_DECAY_RATE" envDefault:"0.05"`
	QuirkReinforcementRate      float64 `env:"QUIRK_REINFORCEMENT_RATE" envDefault:"0.05"`
	SecurityConfidenceThreshold float64 `env:"SECURITY_CONFIDENCE_THRESHOLD" envDefault:"0.7"`
	SecurityOffenseWindowDays   int     `env:"SECURITY_OFFENSE_WINDOW_DAYS" envDefault:"7"`
	MaxProactivePerDay          int     `env:"MAX_PROACTIVE_PER_DAY" envDefault:"3"`
	MaxReflectionBatchSize      int     `env:"MAX_REFLECTION_BATCH_SIZE" envDefault:"50"`
	MaxConcurrentAICalls        int     `env:"MAX_CONCURRENT_AI_CALLS" envDefault:"5"`

	// Pools acotados.
	DBPoolMinConns int `env:"DB_POOL_MIN_CONNS" envDefault:"5"`
	DBPoolMaxConns int `env:"DB_POOL_MAX_CONNS" envDefault:"20"`
	RedisPoolSize  int `env:"REDIS_POOL_SIZE" envDefault:"10"`
	EmbedWorkers   int `env:"EMBED_WORKERS" envDefault:"10"`

	// Zona horaria del scheduler (default UTC; ver DESIGN.md).
	SchedulerTZ string `env:"SCHEDULER_TZ" envDefault:"UTC"`
}

// LoadConfig carga la configuración desde variables de entorno y la valida.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = cfg.LLMBaseURL
	}
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = cfg.LLMAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate aplica los rangos permitidos; cualquier violación es fatal en el
// arranque.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.EmbeddingDim > 0, "EMBEDDING_DIM must be positive"},
		{c.PADDriftRate >= 0 && c.PADDriftRate <= 0.1, "PAD_DRIFT_RATE must be in [0, 0.1]"},
		{c.QuirkDecayRate >= 0.001 && c.QuirkDecayRate <= 0.5, "QUIRK_DECAY_RATE must be in [0.001, 0.5]"},
		{c.QuirkReinforcementRate > 0, "QUIRK_REINFORCEMENT_RATE must be positive"},
		{c.SecurityConfidenceThreshold >= 0 && c.SecurityConfidenceThreshold <= 1, "SECURITY_CONFIDENCE_THRESHOLD must be in [0, 1]"},
		{c.SecurityOffenseWindowDays >= 1 && c.SecurityOffenseWindowDays <= 30, "SECURITY_OFFENSE_WINDOW_DAYS must be in [1, 30]"},
		{c.MaxProactivePerDay >= 0 && c.MaxProactivePerDay <= 10, "MAX_PROACTIVE_PER_DAY must be in [0, 10]"},
		{c.MaxReflectionBatchSize >= 1 && c.MaxReflectionBatchSize <= 100, "MAX_REFLECTION_BATCH_SIZE must be in [1, 100]"},
		{c.MaxConcurrentAICalls >= 1 && c.MaxConcurrentAICalls <= 20, "MAX_CONCURRENT_AI_CALLS must be in [1, 20]"},
		{c.DBPoolMinConns >= 1 && c.DBPoolMinConns <= c.DBPoolMaxConns, "DB_POOL_MIN_CONNS must be in [1, DB_POOL_MAX_CONNS]"},
		{c.DBPoolMaxConns >= 1 && c.DBPoolMaxConns <= 100, "DB_POOL_MAX_CONNS must be in [1, 100]"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("%w: %s", domain.ErrConfiguration, ch.msg)
		}
	}
	return nil
}
