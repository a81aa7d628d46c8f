package service

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

const serializerShards = 32

// UserSerializer garantiza a lo sumo un turno de chat en vuelo por usuario.
// Admit es no bloqueante: una segunda admisión concurrente para el mismo
// usuario devuelve ErrBusy de inmediato. Usuarios distintos proceden en
// paralelo porque el mapa está particionado en shards.
type UserSerializer struct {
	shards  [serializerShards]serializerShard
	maxHold time.Duration
	logger  *zap.Logger
}

type serializerShard struct {
	mu      sync.Mutex
	entries map[string]*serializerEntry
}

type serializerEntry struct {
	held      bool
	token     uint64
	heldSince time.Time
	lastUsed  time.Time
}

// Handle representa la admisión de un turno; Release es idempotente y debe
// diferirse en cada camino de salida.
type Handle struct {
	s        *UserSerializer
	userID   string
	token    uint64
	released bool
	mu       sync.Mutex
}

// NewUserSerializer construye el serializador. maxHold es el techo tras el
// cual un handle viejo se libera a la fuerza para evitar deadlock por
// handlers caídos (default 60s).
func NewUserSerializer(maxHold time.Duration, logger *zap.Logger) *UserSerializer {
	if maxHold <= 0 {
		maxHold = 60 * time.Second
	}
	s := &UserSerializer{maxHold: maxHold, logger: logger}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*serializerEntry)
	}
	return s
}

func (s *UserSerializer) shard(userID string) *serializerShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &s.shards[h.Sum32()%serializerShards]
}

// Admit intenta adquirir el turno del usuario; ErrBusy si ya hay uno en vuelo.
func (s *UserSerializer) Admit(userID string) (*Handle, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	e, ok := sh.entries[userID]
	if !ok {
		e = &serializerEntry{}
		sh.entries[userID] = e
	}
	if e.held {
		if now.Sub(e.heldSince) < s.maxHold {
			return nil, domain.ErrBusy
		}
		// Handle viejo: liberar a la fuerza e invalidar su token.
		if s.logger != nil {
			s.logger.Warn("forcing release of stale serializer handle",
				zap.String("user_id", userID), zap.Duration("held_for", now.Sub(e.heldSince)))
		}
	}
	e.held = true
	e.token++
	e.heldSince = now
	e.lastUsed = now
	return &Handle{s: s, userID: userID, token: e.token}, nil
}

// Release libera el turno. Un handle invalidado por el watchdog no libera al
// holder nuevo: el token debe coincidir.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	sh := h.s.shard(h.userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[h.userID]
	if !ok || e.token != h.token {
		return
	}
	e.held = false
	e.lastUsed = time.Now()
}

// SweepIdle elimina entradas libres sin uso por más de idleTTL, acotando la
// memoria del mapa. Lo invoca el housekeeping del scheduler.
func (s *UserSerializer) SweepIdle(idleTTL time.Duration) int {
	cutoff := time.Now().Add(-idleTTL)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for userID, e := range sh.entries {
			if !e.held && e.lastUsed.Before(cutoff) {
				delete(sh.entries, userID)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Held reporta si el usuario tiene un turno en vuelo (sólo introspección).
func (s *UserSerializer) Held(userID string) bool {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[userID]
	return ok && e.held
}
