package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/vector"
)

// Parámetros de recuperación.
const (
	retrievalLambda    = 0.7
	retrievalFloor     = 0.3
	retrievalMinPool   = 50
	importanceWeight   = 0.3
	conflictSimilarity = 0.8
	recencyDailyDecay  = 0.95
	recencyAccessBoost = 0.2
)

// RecencyDecayStep reparte el decaimiento diario de recencia en pasos
// iguales: aplicado stepsPerDay veces, el producto vuelve al factor diario.
func RecencyDecayStep(stepsPerDay int) float64 {
	if stepsPerDay <= 1 {
		return recencyDailyDecay
	}
	return math.Pow(recencyDailyDecay, 1/float64(stepsPerDay))
}

// MemoryService es el dueño de las memorias episódicas y semánticas: escribe
// con importancia scoreada, recupera con MMR y detecta conflictos advisory.
type MemoryService struct {
	store     vector.Store
	embedder  llm.Embedder
	scorer    *ImportanceScorer
	conflicts repository.ConflictRepository
	logger    *zap.Logger
}

func NewMemoryService(store vector.Store, embedder llm.Embedder, scorer *ImportanceScorer, conflicts repository.ConflictRepository, logger *zap.Logger) *MemoryService {
	return &MemoryService{store: store, embedder: embedder, scorer: scorer, conflicts: conflicts, logger: logger}
}

// Store embebe el contenido, lo puntúa y lo escribe en la colección del
// usuario. La detección de conflictos corre después y nunca bloquea ni falla
// la escritura.
func (s *MemoryService) Store(ctx context.Context, userID, memType, content string, meta domain.MemoryMetadata) (domain.Memory, error) {
	if memType != domain.MemoryTypeEpisodic && memType != domain.MemoryTypeSemantic {
		return domain.Memory{}, fmt.Errorf("unknown memory type %q", memType)
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return domain.Memory{}, fmt.Errorf("embed memory: %w", err)
	}

	scoringContext := "stored during conversation"
	if meta.Proactive {
		scoringContext = "stored during a proactive conversation"
	}
	importance := s.scorer.Score(ctx, content, scoringContext)

	now := time.Now().UTC()
	memory := domain.Memory{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         memType,
		Content:      content,
		Importance:   importance,
		Recency:      1.0,
		Embedding:    pgvector.NewVector(vec),
		CreatedAt:    now,
		LastAccessed: now,
	}

	collection := vector.CollectionName(memType, userID)
	if err := s.store.Upsert(ctx, collection, memory); err != nil {
		return domain.Memory{}, fmt.Errorf("upsert memory: %w", err)
	}

	if memType == domain.MemoryTypeEpisodic {
		s.detectConflicts(ctx, collection, memory)
	}
	return memory, nil
}

// StoreSemantic escribe una abstracción consolidada con tema y fuentes.
func (s *MemoryService) StoreSemantic(ctx context.Context, userID, theme, content string, sourceIDs []string, importance float64) (domain.Memory, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return domain.Memory{}, fmt.Errorf("embed semantic memory: %w", err)
	}
	now := time.Now().UTC()
	memory := domain.Memory{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.MemoryTypeSemantic,
		Content:      content,
		Importance:   importance,
		Recency:      1.0,
		Embedding:    pgvector.NewVector(vec),
		CreatedAt:    now,
		LastAccessed: now,
		Theme:        theme,
		SourceIDs:    sourceIDs,
	}
	collection := vector.CollectionName(domain.MemoryTypeSemantic, userID)
	if err := s.store.Upsert(ctx, collection, memory); err != nil {
		return domain.Memory{}, fmt.Errorf("upsert semantic memory: %w", err)
	}
	return memory, nil
}

// SearchMMR recupera hasta k memorias de ambos niveles, rerankeadas por
// Maximal Marginal Relevance con peso de importancia. Refresca la recencia de
// lo recuperado como mejor esfuerzo.
func (s *MemoryService) SearchMMR(ctx context.Context, userID, query string, k int) ([]domain.ScoredMemory, error) {
	if k <= 0 {
		k = 5
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	pool := k * 3
	if pool < retrievalMinPool {
		pool = retrievalMinPool
	}

	var candidates []domain.ScoredMemory
	for _, memType := range []string{domain.MemoryTypeEpisodic, domain.MemoryTypeSemantic} {
		collection := vector.CollectionName(memType, userID)
		found, err := s.store.SearchFiltered(ctx, collection, userID, pgvector.NewVector(queryVec), pool, retrievalFloor)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", memType, err)
		}
		candidates = append(candidates, found...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byID := make(map[string]domain.ScoredMemory, len(candidates))
	mmrInput := make([]MMRCandidate, 0, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
		mmrInput = append(mmrInput, MMRCandidate{
			ID:         c.ID,
			Embedding:  c.Embedding.Slice(),
			Importance: c.Importance,
		})
	}

	selected := SelectMMR(queryVec, mmrInput, k, MMROptions{Lambda: retrievalLambda, ImportanceWeight: importanceWeight})
	out := make([]domain.ScoredMemory, 0, len(selected))
	for _, c := range selected {
		out = append(out, byID[c.ID])
	}

	s.refreshRecency(ctx, userID, out)
	return out, nil
}

// refreshRecency aplica recency = min(1, 0.95^días_desde_creación + 0.2) a lo
// recuperado; un fallo aquí no afecta la búsqueda.
func (s *MemoryService) refreshRecency(ctx context.Context, userID string, memories []domain.ScoredMemory) {
	now := time.Now().UTC()
	perCollection := make(map[string][]string)
	recency := make(map[string]float64, len(memories))
	for _, m := range memories {
		days := now.Sub(m.CreatedAt).Hours() / 24
		r := math.Pow(recencyDailyDecay, days) + recencyAccessBoost
		if r > 1 {
			r = 1
		}
		recency[m.ID] = r
		collection := vector.CollectionName(m.Type, userID)
		perCollection[collection] = append(perCollection[collection], m.ID)
	}
	for collection, ids := range perCollection {
		if err := s.store.RecordAccess(ctx, collection, userID, ids, recency, now); err != nil && s.logger != nil {
			s.logger.Debug("recency refresh failed", zap.String("collection", collection), zap.Error(err))
		}
	}
}

// GetByID busca un recuerdo por id en ambas colecciones del usuario.
func (s *MemoryService) GetByID(ctx context.Context, userID, memoryID string) (domain.Memory, error) {
	for _, memType := range []string{domain.MemoryTypeEpisodic, domain.MemoryTypeSemantic} {
		collection := vector.CollectionName(memType, userID)
		m, err := s.store.GetByID(ctx, collection, userID, memoryID)
		if err == nil {
			return m, nil
		}
	}
	return domain.Memory{}, fmt.Errorf("memory %s not found", memoryID)
}

// List pagina las memorias de un nivel.
func (s *MemoryService) List(ctx context.Context, userID, memType string, limit, offset int) ([]domain.Memory, error) {
	if memType != domain.MemoryTypeEpisodic && memType != domain.MemoryTypeSemantic {
		return nil, fmt.Errorf("unknown memory type %q", memType)
	}
	collection := vector.CollectionName(memType, userID)
	return s.store.Scroll(ctx, collection, userID, limit, offset)
}

// RecentUnconsolidated lista las episódicas sin consolidar desde un corte.
func (s *MemoryService) RecentUnconsolidated(ctx context.Context, userID string, since time.Time) ([]domain.Memory, error) {
	collection := vector.CollectionName(domain.MemoryTypeEpisodic, userID)
	return s.store.RecentUnconsolidated(ctx, collection, userID, since)
}

// MarkConsolidated marca las fuentes de una consolidación.
func (s *MemoryService) MarkConsolidated(ctx context.Context, userID string, ids []string) error {
	collection := vector.CollectionName(domain.MemoryTypeEpisodic, userID)
	return s.store.MarkConsolidated(ctx, collection, userID, ids)
}

/*
========================
 Detección de conflictos
========================
*/

var negationMarkers = []string{"not ", "no longer", "never", "don't", "doesn't", "stopped", "quit", "anymore"}
var preferenceMarkers = []string{"favorite", "prefer", "love", "hate", "like", "dislike", "can't stand"}
var timelineMarkers = []string{"yesterday", "last week", "last month", "last year", "ago", "before", "used to"}

// detectConflicts compara el recuerdo nuevo contra los más similares y
// registra conflictos advisory; nunca bloquea la escritura que lo originó.
func (s *MemoryService) detectConflicts(ctx context.Context, collection string, memory domain.Memory) {
	similar, err := s.store.SearchFiltered(ctx, collection, memory.UserID, memory.Embedding, 6, conflictSimilarity)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("conflict scan failed", zap.Error(err))
		}
		return
	}
	for _, other := range similar {
		if other.ID == memory.ID {
			continue
		}
		conflictType, confidence := classifyConflict(memory.Content, other.Content, other.Similarity)
		if conflictType == "" {
			continue
		}
		conflict := domain.MemoryConflict{
			ID:         uuid.NewString(),
			UserID:     memory.UserID,
			MemoryID:   memory.ID,
			AgainstID:  other.ID,
			Type:       conflictType,
			Status:     "detected",
			Confidence: confidence,
			DetectedAt: time.Now().UTC(),
		}
		if err := s.conflicts.Insert(ctx, conflict); err != nil && s.logger != nil {
			s.logger.Debug("conflict not persisted", zap.Error(err))
		}
	}
}

// classifyConflict aplica reglas léxicas sobre un par muy similar; devuelve
// tipo vacío cuando no hay señal.
func classifyConflict(newContent, oldContent string, similarity float64) (string, float64) {
	a := strings.ToLower(newContent)
	b := strings.ToLower(oldContent)

	negA := containsAnyKeyword(a, negationMarkers)
	negB := containsAnyKeyword(b, negationMarkers)
	if negA != negB {
		if containsAnyKeyword(a, preferenceMarkers) && containsAnyKeyword(b, preferenceMarkers) {
			return domain.ConflictPreference, similarity
		}
		return domain.ConflictFactual, similarity
	}
	if containsAnyKeyword(a, timelineMarkers) && containsAnyKeyword(b, timelineMarkers) && a != b {
		return domain.ConflictTimeline, similarity * 0.8
	}
	return "", 0
}
