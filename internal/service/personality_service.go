package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
)

// Defaults canónicos de inicialización.
var (
	defaultTraits = domain.TraitVector{
		Openness:          0.6,
		Conscientiousness: 0.55,
		Extraversion:      0.5,
		Agreeableness:     0.65,
		Neuroticism:       0.35,
	}
	defaultBaseline = domain.PADState{Pleasure: 0.15, Arousal: 0.0, Dominance: 0.1}
)

// PersonalityService es el dueño del estado psicológico por usuario: rasgos
// inmutables, PAD actual y baseline, quirks y necesidades.
type PersonalityService struct {
	users         repository.UserRepository
	personalities repository.PersonalityRepository
	quirks        repository.QuirkRepository
	needs         repository.NeedRepository
	interactions  repository.InteractionRepository
	driftRate     float64
	reinforceRate float64
	quirkDecay    float64
	logger        *zap.Logger
}

func NewPersonalityService(
	users repository.UserRepository,
	personalities repository.PersonalityRepository,
	quirks repository.QuirkRepository,
	needs repository.NeedRepository,
	interactions repository.InteractionRepository,
	driftRate, reinforceRate, quirkDecay float64,
	logger *zap.Logger,
) *PersonalityService {
	return &PersonalityService{
		users:         users,
		personalities: personalities,
		quirks:        quirks,
		needs:         needs,
		interactions:  interactions,
		driftRate:     driftRate,
		reinforceRate: reinforceRate,
		quirkDecay:    quirkDecay,
		logger:        logger,
	}
}

// Init crea perfil, rasgos, baseline, quirks y necesidades por defecto.
// Es idempotente: una segunda llamada es no-op y no toca el vector de rasgos.
// Si algún paso falla se revierte todo y se reporta UserCreationFailed.
func (s *PersonalityService) Init(ctx context.Context, userID, displayName string) error {
	now := time.Now().UTC()

	if _, err := s.users.GetByID(ctx, userID); err == nil {
		return nil
	}

	profile := domain.UserProfile{
		UserID:           userID,
		DisplayName:      displayName,
		Status:           domain.UserStatusActive,
		ProactiveEnabled: true,
		CreatedAt:        now,
	}
	if err := s.users.Create(ctx, profile); err != nil {
		return fmt.Errorf("%w: create profile: %v", domain.ErrUserCreationFailed, err)
	}

	if err := s.initState(ctx, userID, now); err != nil {
		s.rollbackInit(ctx, userID)
		return fmt.Errorf("%w: %v", domain.ErrUserCreationFailed, err)
	}
	return nil
}

func (s *PersonalityService) initState(ctx context.Context, userID string, now time.Time) error {
	traits := defaultTraits
	traits.UserID = userID
	traits.CreatedAt = now
	if err := s.personalities.InsertTraits(ctx, traits); err != nil {
		return fmt.Errorf("insert traits: %w", err)
	}

	baseline := defaultBaseline
	baseline.UpdatedAt = now
	if err := s.personalities.UpsertBaseline(ctx, userID, baseline); err != nil {
		return fmt.Errorf("insert baseline: %w", err)
	}
	if _, err := s.personalities.GetCurrentPAD(ctx, userID); err != nil {
		// Primer init: el estado actual arranca en el baseline.
		if err := s.personalities.SetCurrentPAD(ctx, userID, baseline); err != nil {
			return fmt.Errorf("insert current pad: %w", err)
		}
	}

	for _, q := range defaultQuirks(userID, now, s.quirkDecay) {
		if err := s.quirks.Insert(ctx, q); err != nil {
			return fmt.Errorf("insert quirk %s: %w", q.Name, err)
		}
	}
	for _, n := range defaultNeeds(userID, now) {
		if err := s.needs.Upsert(ctx, n); err != nil {
			return fmt.Errorf("insert need %s: %w", n.Type, err)
		}
	}
	return nil
}

func (s *PersonalityService) rollbackInit(ctx context.Context, userID string) {
	// Mejor esfuerzo: el init debe dejar cero rastro si falló.
	if err := s.needs.DeleteAll(ctx, userID); err != nil && s.logger != nil {
		s.logger.Error("init rollback: needs", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.quirks.DeleteAll(ctx, userID); err != nil && s.logger != nil {
		s.logger.Error("init rollback: quirks", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.personalities.DeleteAll(ctx, userID); err != nil && s.logger != nil {
		s.logger.Error("init rollback: personality", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.users.Delete(ctx, userID); err != nil && s.logger != nil {
		s.logger.Error("init rollback: profile", zap.String("user_id", userID), zap.Error(err))
	}
}

// Snapshot arma la vista consistente que consume el pipeline.
func (s *PersonalityService) Snapshot(ctx context.Context, userID string) (domain.PersonalitySnapshot, error) {
	traits, err := s.personalities.GetTraits(ctx, userID)
	if err != nil {
		return domain.PersonalitySnapshot{}, fmt.Errorf("get traits: %w", err)
	}
	current, err := s.personalities.GetCurrentPAD(ctx, userID)
	if err != nil {
		return domain.PersonalitySnapshot{}, fmt.Errorf("get current pad: %w", err)
	}
	baseline, err := s.personalities.GetBaseline(ctx, userID)
	if err != nil {
		return domain.PersonalitySnapshot{}, fmt.Errorf("get baseline: %w", err)
	}
	quirks, err := s.quirks.ListByUser(ctx, userID, true)
	if err != nil {
		return domain.PersonalitySnapshot{}, fmt.Errorf("list quirks: %w", err)
	}
	needs, err := s.needs.ListByUser(ctx, userID)
	if err != nil {
		return domain.PersonalitySnapshot{}, fmt.Errorf("list needs: %w", err)
	}
	return domain.PersonalitySnapshot{
		UserID:   userID,
		Traits:   traits,
		Current:  current,
		Baseline: baseline,
		Quirks:   quirks,
		Needs:    needs,
	}, nil
}

// ApplyPADDelta aplica el delta con clamp, persiste el nuevo estado actual y
// archiva el previo. Devuelve el estado resultante.
func (s *PersonalityService) ApplyPADDelta(ctx context.Context, userID string, delta domain.PADDelta) (domain.PADState, error) {
	current, err := s.personalities.GetCurrentPAD(ctx, userID)
	if err != nil {
		return domain.PADState{}, fmt.Errorf("get current pad: %w", err)
	}
	next := current.Apply(delta)
	next.UpdatedAt = time.Now().UTC()
	if err := s.personalities.SetCurrentPAD(ctx, userID, next); err != nil {
		return domain.PADState{}, fmt.Errorf("set current pad: %w", err)
	}
	return next, nil
}

// ReinforceQuirk refuerza un quirk activo por nombre.
func (s *PersonalityService) ReinforceQuirk(ctx context.Context, userID, name string) error {
	return s.quirks.Reinforce(ctx, userID, name, s.reinforceRate, time.Now().UTC())
}

// UpdateNeed desplaza el nivel actual de una necesidad (clamp en el repo).
func (s *PersonalityService) UpdateNeed(ctx context.Context, userID, needType string, delta float64) error {
	needs, err := s.needs.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list needs: %w", err)
	}
	for _, n := range needs {
		if n.Type == needType {
			return s.needs.SetLevel(ctx, userID, needType, n.CurrentLevel+delta)
		}
	}
	return fmt.Errorf("need %q not found for user", needType)
}

// SatisfyNeeds reduce cada necesidad hacia su baseline según su
// satisfaction_rate; se llama al completar un turno.
func (s *PersonalityService) SatisfyNeeds(ctx context.Context, userID string) error {
	needs, err := s.needs.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list needs: %w", err)
	}
	for _, n := range needs {
		level := n.CurrentLevel - n.SatisfactionRate*(n.CurrentLevel-n.BaselineLevel)
		if level < n.BaselineLevel {
			level = n.BaselineLevel
		}
		if err := s.needs.SetLevel(ctx, userID, n.Type, level); err != nil {
			return fmt.Errorf("set need %s: %w", n.Type, err)
		}
	}
	return nil
}

// DriftBaseline acerca el baseline al promedio del PAD reciente a razón r.
// Sólo aplica con al menos 5 interacciones en la ventana; devuelve si se movió.
func (s *PersonalityService) DriftBaseline(ctx context.Context, userID string, window time.Duration) (bool, error) {
	since := time.Now().UTC().Add(-window)
	count, err := s.interactions.CountSince(ctx, userID, since)
	if err != nil {
		return false, fmt.Errorf("count interactions: %w", err)
	}
	if count < 5 {
		return false, nil
	}

	recent, err := s.personalities.RecentCurrentPAD(ctx, userID, since)
	if err != nil {
		return false, fmt.Errorf("recent pad: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}

	var mean domain.PADState
	for _, p := range recent {
		mean.Pleasure += p.Pleasure
		mean.Arousal += p.Arousal
		mean.Dominance += p.Dominance
	}
	n := float64(len(recent))
	mean.Pleasure /= n
	mean.Arousal /= n
	mean.Dominance /= n

	baseline, err := s.personalities.GetBaseline(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get baseline: %w", err)
	}

	r := s.driftRate
	next := domain.PADState{
		Pleasure:  baseline.Pleasure + (mean.Pleasure-baseline.Pleasure)*r,
		Arousal:   baseline.Arousal + (mean.Arousal-baseline.Arousal)*r,
		Dominance: baseline.Dominance + (mean.Dominance-baseline.Dominance)*r,
		UpdatedAt: time.Now().UTC(),
	}
	next = next.Clamp()
	if err := s.personalities.UpsertBaseline(ctx, userID, next); err != nil {
		return false, fmt.Errorf("upsert baseline: %w", err)
	}
	return true, nil
}

// Reset borra todo el estado psicológico y lo reconstruye con defaults.
// Sólo el camino admin llega aquí.
func (s *PersonalityService) Reset(ctx context.Context, userID string) error {
	if err := s.needs.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("delete needs: %w", err)
	}
	if err := s.quirks.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("delete quirks: %w", err)
	}
	if err := s.personalities.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("delete personality: %w", err)
	}
	return s.initState(ctx, userID, time.Now().UTC())
}

func defaultQuirks(userID string, now time.Time, decayRate float64) []domain.Quirk {
	base := []struct {
		name, category, description string
	}{
		{"curious-questions", domain.QuirkCategorySpeechPattern, "asks small follow-up questions about the user's day"},
		{"remembers-details", domain.QuirkCategoryBehavior, "brings back small details the user mentioned before"},
		{"gentle-humor", domain.QuirkCategoryPreference, "light, warm humor over sarcasm"},
	}
	quirks := make([]domain.Quirk, 0, len(base))
	for _, b := range base {
		quirks = append(quirks, domain.Quirk{
			ID:          uuid.NewString(),
			UserID:      userID,
			Name:        b.name,
			Category:    b.category,
			Description: b.description,
			Strength:    0.4,
			Confidence:  0.5,
			DecayRate:   decayRate,
			Active:      true,
			CreatedAt:   now,
		})
	}
	return quirks
}

func defaultNeeds(userID string, now time.Time) []domain.Need {
	needs := make([]domain.Need, 0, len(domain.NeedTypes))
	for _, t := range domain.NeedTypes {
		needs = append(needs, domain.Need{
			UserID:           userID,
			Type:             t,
			CurrentLevel:     0.3,
			BaselineLevel:    0.3,
			DecayRate:        0.02,
			TriggerThreshold: 0.7,
			SatisfactionRate: 0.3,
			UpdatedAt:        now,
		})
	}
	return needs
}
