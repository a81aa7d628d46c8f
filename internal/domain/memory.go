package domain

import (
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// Tipos de memoria. Memory es una suma sobre {episodic, semantic} con un
// núcleo compartido; las semánticas añaden tema y fuentes.
const (
	MemoryTypeEpisodic = "episodic"
	MemoryTypeSemantic = "semantic"
)

// Memory es un recuerdo del usuario con embedding, importancia y recencia.
type Memory struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"memory_type"`
	Content      string          `json:"content"`
	Importance   float64         `json:"importance_score"`
	Recency      float64         `json:"recency_score"`
	Embedding    pgvector.Vector `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessed time.Time       `json:"last_accessed"`
	AccessCount  int             `json:"access_count"`

	// Solo para memorias semánticas.
	Theme     string   `json:"theme,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`

	Consolidated bool `json:"consolidated,omitempty"`
}

// IsSemantic indica si el recuerdo es una abstracción consolidada.
func (m Memory) IsSemantic() bool {
	return m.Type == MemoryTypeSemantic
}

// MemoryMetadata acompaña una escritura de memoria con contexto enumerado,
// en lugar de un diccionario abierto.
type MemoryMetadata struct {
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Proactive bool   `json:"proactive,omitempty"`
}

// ScoredMemory es un recuerdo con su similitud respecto a la consulta.
type ScoredMemory struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// Tipos de conflicto entre memorias. Los conflictos son advisory: se
// registran pero nunca bloquean una escritura.
const (
	ConflictFactual    = "factual_contradiction"
	ConflictTimeline   = "timeline_inconsistency"
	ConflictPreference = "preference_conflict"
)

// MemoryConflict es un conflicto detectado entre un recuerdo nuevo y uno previo.
type MemoryConflict struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	MemoryID   string    `json:"memory_id"`
	AgainstID  string    `json:"against_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}
