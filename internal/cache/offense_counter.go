package cache

import (
	"context"
	"sync"
	"time"
)

// OffenseCounter cuenta detecciones de alta confianza por usuario. Redis es
// la fuente de verdad; si no responde, cae a un contador en memoria acotado y
// reporta al menos el umbral configurado (fail-secure). Cuando Redis vuelve,
// el conteo puede quedar conservadoramente alto; eso es aceptable.
type OffenseCounter struct {
	cache     Cache
	window    time.Duration
	threshold int64
	mem       *memCounter
}

// NewOffenseCounter construye el contador; cache puede ser nil.
func NewOffenseCounter(cache Cache, window time.Duration, threshold int64) *OffenseCounter {
	if threshold <= 0 {
		threshold = 3
	}
	return &OffenseCounter{
		cache:     cache,
		window:    window,
		threshold: threshold,
		mem:       newMemCounter(10000),
	}
}

// Incr incrementa la cuenta del usuario y devuelve el total de la ventana.
func (o *OffenseCounter) Incr(ctx context.Context, userID string) int64 {
	if o.cache != nil {
		if n, err := o.cache.IncrOffense(ctx, userID, o.window); err == nil {
			return n
		}
	}
	n := o.mem.incr(userID, o.window)
	if n < o.threshold {
		return o.threshold
	}
	return n
}

// Count devuelve la cuenta vigente sin incrementar.
func (o *OffenseCounter) Count(ctx context.Context, userID string) int64 {
	if o.cache != nil {
		if n, err := o.cache.OffenseCount(ctx, userID); err == nil {
			return n
		}
	}
	n := o.mem.count(userID)
	if n == 0 {
		return 0
	}
	if n < o.threshold {
		return o.threshold
	}
	return n
}

// memCounter es el respaldo en memoria, con tamaño máximo para acotar RAM.
type memCounter struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]memEntry
}

type memEntry struct {
	count   int64
	expires time.Time
}

func newMemCounter(maxSize int) *memCounter {
	return &memCounter{maxSize: maxSize, entries: make(map[string]memEntry)}
}

func (m *memCounter) incr(key string, window time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expires) {
		e = memEntry{count: 0, expires: now.Add(window)}
	}
	e.count++
	if len(m.entries) >= m.maxSize {
		m.evictExpired(now)
	}
	m.entries[key] = e
	return e.count
}

func (m *memCounter) count(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expires) {
		return 0
	}
	return e.count
}

func (m *memCounter) evictExpired(now time.Time) {
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
}
