package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
)

const (
	consolidationWindow   = 24 * time.Hour
	minClusterSize        = 3
	maxClustersPerUser    = 5
	consolidationBoost    = 1.2
	reflectionBatchPause  = 2 * time.Second
	volatilityRestTrigger = 0.3
)

// ReflectionService es la pasada nocturna por usuario: consolida memorias
// episódicas en semánticas, deriva el baseline emocional, evoluciona quirks y
// ajusta necesidades según la volatilidad del día. Cada usuario se procesa
// bajo su turno serializado y sus fallos no contaminan al resto.
type ReflectionService struct {
	users       repository.UserRepository
	quirks      repository.QuirkRepository
	needs       repository.NeedRepository
	persoRepo   repository.PersonalityRepository
	runs        repository.ReflectionRepository
	personality *PersonalityService
	memories    *MemoryService
	serializer  *UserSerializer
	client      llm.Client
	model       string
	batchSize   int
	quirkDecay  float64
	logger      *zap.Logger

	now func() time.Time
}

func NewReflectionService(
	users repository.UserRepository,
	quirks repository.QuirkRepository,
	needs repository.NeedRepository,
	persoRepo repository.PersonalityRepository,
	runs repository.ReflectionRepository,
	personality *PersonalityService,
	memories *MemoryService,
	serializer *UserSerializer,
	client llm.Client,
	model string,
	batchSize int,
	quirkDecay float64,
	logger *zap.Logger,
) *ReflectionService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReflectionService{
		users:       users,
		quirks:      quirks,
		needs:       needs,
		persoRepo:   persoRepo,
		runs:        runs,
		personality: personality,
		memories:    memories,
		serializer:  serializer,
		client:      client,
		model:       model,
		batchSize:   batchSize,
		quirkDecay:  quirkDecay,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// UserReflection resume lo que la pasada hizo con un usuario.
type UserReflection struct {
	UserID        string
	Consolidated  int
	BaselineMove  bool
	QuirksTouched int
}

// RunAll procesa a todos los usuarios activos recientes en lotes, con una
// pausa entre lotes para no acaparar los modelos. Registra el agregado.
func (s *ReflectionService) RunAll(ctx context.Context) (domain.ReflectionRun, error) {
	started := s.now()
	run := domain.ReflectionRun{ID: uuid.NewString(), StartedAt: started}

	ids, err := s.users.ListActiveSince(ctx, started.Add(-30*24*time.Hour))
	if err != nil {
		return run, fmt.Errorf("list users: %w", err)
	}

	for i, userID := range ids {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && i%s.batchSize == 0 {
			select {
			case <-time.After(reflectionBatchPause):
			case <-ctx.Done():
			}
		}
		result, err := s.ReflectUser(ctx, userID)
		if err != nil {
			run.UsersFailed++
			if s.logger != nil {
				s.logger.Warn("reflection failed for user", zap.String("user_id", userID), zap.Error(err))
			}
			continue
		}
		run.UsersProcessed++
		run.Consolidated += result.Consolidated
	}

	run.FinishedAt = s.now()
	run.DurationMs = run.FinishedAt.Sub(started).Milliseconds()
	if err := s.runs.InsertRun(ctx, run); err != nil && s.logger != nil {
		s.logger.Error("reflection run not recorded", zap.Error(err))
	}
	if s.logger != nil {
		s.logger.Info("reflection run finished",
			zap.Int("processed", run.UsersProcessed),
			zap.Int("failed", run.UsersFailed),
			zap.Int("consolidated", run.Consolidated),
			zap.Int64("duration_ms", run.DurationMs),
		)
	}
	return run, nil
}

// ReflectUser corre la pasada completa para un usuario bajo su turno.
func (s *ReflectionService) ReflectUser(ctx context.Context, userID string) (UserReflection, error) {
	result := UserReflection{UserID: userID}

	handle, err := s.serializer.Admit(userID)
	if err != nil {
		return result, fmt.Errorf("admit for reflection: %w", err)
	}
	defer handle.Release()

	consolidated, err := s.consolidate(ctx, userID)
	if err != nil {
		// La consolidación es la etapa más frágil (depende del modelo); su
		// fallo no veta el resto de la pasada.
		if s.logger != nil {
			s.logger.Warn("consolidation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	result.Consolidated = consolidated

	moved, err := s.personality.DriftBaseline(ctx, userID, consolidationWindow)
	if err != nil {
		return result, fmt.Errorf("baseline drift: %w", err)
	}
	result.BaselineMove = moved

	touched, err := s.evolveQuirks(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("quirk evolution: %w", err)
	}
	result.QuirksTouched = touched

	if err := s.adjustNeeds(ctx, userID); err != nil {
		return result, fmt.Errorf("needs adjustment: %w", err)
	}
	return result, nil
}

/*
========================
 Consolidación
========================
*/

type memoryCluster struct {
	Theme       string  `json:"theme"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Indices     []int   `json:"indices"`
}

const clusterPrompt = `These are recent memories from conversations with one user, numbered from 0:

%s

Group them into clusters of related memories (same topic, person, or recurring preference). Only clusters with 3 or more memories matter.
Reply with JSON only, an array: [{"theme": "<short label>", "description": "<one sentence capturing the general fact>", "confidence": <0..1>, "indices": [<memory numbers>]}]`

// consolidate agrupa las episódicas de las últimas 24h en abstracciones
// semánticas. Devuelve cuántas consolidaciones se escribieron.
func (s *ReflectionService) consolidate(ctx context.Context, userID string) (int, error) {
	since := s.now().Add(-consolidationWindow)
	recent, err := s.memories.RecentUnconsolidated(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("list unconsolidated: %w", err)
	}
	if len(recent) < minClusterSize {
		return 0, nil
	}

	var listing strings.Builder
	for i, m := range recent {
		fmt.Fprintf(&listing, "%d. %s\n", i, m.Content)
	}
	text, err := s.client.Generate(ctx, llm.Request{
		Model:       s.model,
		Prompt:      fmt.Sprintf(clusterPrompt, listing.String()),
		Temperature: 0.3,
		MaxTokens:   800,
		Timeout:     30 * time.Second,
	})
	if err != nil {
		return 0, fmt.Errorf("cluster memories: %w", err)
	}

	raw := extractFirstJSONArray(text)
	if raw == "" {
		return 0, fmt.Errorf("no json array in clustering response")
	}
	var clusters []memoryCluster
	if err := json.Unmarshal([]byte(raw), &clusters); err != nil {
		return 0, fmt.Errorf("parse clusters: %w", err)
	}

	var valid []memoryCluster
	for _, c := range clusters {
		if len(c.Indices) >= minClusterSize && c.Theme != "" && c.Description != "" {
			valid = append(valid, c)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Confidence > valid[j].Confidence })
	if len(valid) > maxClustersPerUser {
		valid = valid[:maxClustersPerUser]
	}

	written := 0
	for _, c := range valid {
		var sourceIDs []string
		var importanceSum float64
		for _, idx := range c.Indices {
			if idx < 0 || idx >= len(recent) {
				continue
			}
			sourceIDs = append(sourceIDs, recent[idx].ID)
			importanceSum += recent[idx].Importance
		}
		if len(sourceIDs) < minClusterSize {
			continue
		}
		importance := importanceSum / float64(len(sourceIDs)) * consolidationBoost
		if importance > 1 {
			importance = 1
		}

		if _, err := s.memories.StoreSemantic(ctx, userID, c.Theme, c.Description, sourceIDs, importance); err != nil {
			if s.logger != nil {
				s.logger.Warn("semantic memory not stored", zap.String("theme", c.Theme), zap.Error(err))
			}
			continue
		}
		if err := s.memories.MarkConsolidated(ctx, userID, sourceIDs); err != nil && s.logger != nil {
			s.logger.Warn("sources not marked consolidated", zap.Error(err))
		}
		written++
	}
	return written, nil
}

/*
========================
 Evolución de quirks
========================
*/

// evolveQuirks refuerza lo usado en el día y decae lo demás. Un quirk que cae
// bajo el mínimo se desactiva, no se borra.
func (s *ReflectionService) evolveQuirks(ctx context.Context, userID string) (int, error) {
	quirks, err := s.quirks.ListByUser(ctx, userID, false)
	if err != nil {
		return 0, fmt.Errorf("list quirks: %w", err)
	}
	pending, err := s.quirks.PendingReinforcements(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("pending reinforcements: %w", err)
	}

	touched := 0
	for _, q := range quirks {
		if !q.Active {
			continue
		}
		if n := pending[q.Name]; n > 0 {
			bump := float64(n) * 0.02
			if bump > 0.1 {
				bump = 0.1
			}
			q.Strength += bump
			if q.Strength > 1 {
				q.Strength = 1
			}
			q.Confidence += 0.05
			if q.Confidence > 1 {
				q.Confidence = 1
			}
		} else {
			decay := q.DecayRate
			if decay <= 0 {
				decay = s.quirkDecay
			}
			q.Strength -= decay
			q.Confidence -= 0.02
			if q.Confidence < 0 {
				q.Confidence = 0
			}
		}
		if q.Strength < domain.MinQuirkStrength {
			q.Strength = 0
			q.Active = false
		}
		if err := s.quirks.ApplyEvolution(ctx, q); err != nil {
			return touched, fmt.Errorf("apply evolution %s: %w", q.Name, err)
		}
		touched++
	}
	return touched, nil
}

/*
========================
 Ajuste de necesidades
========================
*/

// adjustNeeds sube la necesidad de descanso cuando el día fue emocionalmente
// volátil.
func (s *ReflectionService) adjustNeeds(ctx context.Context, userID string) error {
	recent, err := s.persoRepo.RecentCurrentPAD(ctx, userID, s.now().Add(-consolidationWindow))
	if err != nil {
		return fmt.Errorf("recent pad: %w", err)
	}
	if len(recent) < 2 {
		return nil
	}

	var total float64
	for i := 1; i < len(recent); i++ {
		d := domain.PADDelta{
			Pleasure:  recent[i].Pleasure - recent[i-1].Pleasure,
			Arousal:   recent[i].Arousal - recent[i-1].Arousal,
			Dominance: recent[i].Dominance - recent[i-1].Dominance,
		}
		total += d.Magnitude()
	}
	volatility := total / float64(len(recent)-1)
	if volatility < volatilityRestTrigger {
		return nil
	}
	return s.personality.UpdateNeed(ctx, userID, domain.NeedRest, 0.1)
}
