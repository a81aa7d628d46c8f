// Package cache adapta Redis al contrato KV del gateway: contadores atómicos
// con TTL, cachés tipados de embedding/importancia y marcas proactivas.
// Si Redis no está disponible, los cachés se degradan a no-op y el contador
// de ofensas cae a memoria con defaults fail-secure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs del contrato KV.
const (
	ImportanceTTL = time.Hour
	EmbeddingTTL  = 24 * time.Hour
	kvTimeout     = time.Second
)

// incrExpireScript incrementa y fija TTL sólo en la primera cuenta de la
// ventana, de forma atómica.
const incrExpireScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// Cache es el contrato KV de C1.
type Cache interface {
	IncrOffense(ctx context.Context, userID string, window time.Duration) (int64, error)
	OffenseCount(ctx context.Context, userID string) (int64, error)
	SetEscalation(ctx context.Context, userID, level string, window time.Duration) error
	GetEscalation(ctx context.Context, userID string) (string, error)

	GetEmbedding(ctx context.Context, contentHash string, dim int) ([]float32, bool)
	SetEmbedding(ctx context.Context, contentHash string, dim int, vec []float32)
	GetImportance(ctx context.Context, key string) (float64, bool)
	SetImportance(ctx context.Context, key string, score float64)

	LastProactive(ctx context.Context, userID string) (time.Time, bool)
	SetLastProactive(ctx context.Context, userID string, at time.Time)
	ProactiveCountToday(ctx context.Context, userID string, day string) (int64, error)
	IncrProactiveToday(ctx context.Context, userID string, day string) (int64, error)
	RecordDecline(ctx context.Context, userID string) error
	DeclinedRecently(ctx context.Context, userID string) (bool, error)
}

// HashContent produce la huella sha256 en hex de un contenido.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RedisCache implementa Cache sobre go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache construye el adaptador; devuelve nil con cliente nil.
func NewRedisCache(client *redis.Client) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client}
}

func offenseKey(userID string) string    { return "security:" + userID + ":count" }
func escalationKey(userID string) string { return "security:" + userID + ":escalation" }
func embedKey(hash string, dim int) string {
	return fmt.Sprintf("embed:%s:%d", hash, dim)
}
func importanceKey(hash string) string { return "importance:" + hash }

func (c *RedisCache) IncrOffense(ctx context.Context, userID string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	seconds := int(window.Seconds())
	if seconds <= 0 {
		seconds = 86400
	}
	return c.client.Eval(ctx, incrExpireScript, []string{offenseKey(userID)}, seconds).Int64()
}

func (c *RedisCache) OffenseCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	n, err := c.client.Get(ctx, offenseKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) SetEscalation(ctx context.Context, userID, level string, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	return c.client.Set(ctx, escalationKey(userID), level, window).Err()
}

func (c *RedisCache) GetEscalation(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	v, err := c.client.Get(ctx, escalationKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *RedisCache) GetEmbedding(ctx context.Context, contentHash string, dim int) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, embedKey(contentHash, dim)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) != dim {
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) SetEmbedding(ctx context.Context, contentHash string, dim int, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	// Best effort: un fallo de caché nunca es un fallo de la operación.
	_ = c.client.Set(ctx, embedKey(contentHash, dim), raw, EmbeddingTTL).Err()
}

func (c *RedisCache) GetImportance(ctx context.Context, key string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	v, err := c.client.Get(ctx, importanceKey(key)).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *RedisCache) SetImportance(ctx context.Context, key string, score float64) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	_ = c.client.Set(ctx, importanceKey(key), score, ImportanceTTL).Err()
}

func (c *RedisCache) LastProactive(ctx context.Context, userID string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	unix, err := c.client.Get(ctx, "proactive:"+userID+":last").Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func (c *RedisCache) SetLastProactive(ctx context.Context, userID string, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	_ = c.client.Set(ctx, "proactive:"+userID+":last", at.Unix(), 7*24*time.Hour).Err()
}

func (c *RedisCache) ProactiveCountToday(ctx context.Context, userID, day string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	n, err := c.client.Get(ctx, "proactive:"+userID+":count:"+day).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) IncrProactiveToday(ctx context.Context, userID, day string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	return c.client.Eval(ctx, incrExpireScript, []string{"proactive:" + userID + ":count:" + day}, int((25 * time.Hour).Seconds())).Int64()
}

func (c *RedisCache) RecordDecline(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	return c.client.Set(ctx, "proactive:"+userID+":decline", 1, 24*time.Hour).Err()
}

func (c *RedisCache) DeclinedRecently(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	_, err := c.client.Get(ctx, "proactive:"+userID+":decline").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
