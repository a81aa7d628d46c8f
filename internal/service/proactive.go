package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/cache"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
)

// Pesos y umbrales del scorer proactivo.
const (
	proactiveThreshold  = 0.6
	needWeight          = 0.4
	timingWeight        = 0.25
	interactionWeight   = 0.35
	proactiveMinGap     = 4 * time.Hour
	proactiveStatsSpan  = 14 * 24 * time.Hour
	proactiveActiveSpan = 30 * 24 * time.Hour
)

// Plantillas de arranque por disparador, usadas cuando ambos modelos fallan.
var starterTemplates = map[string][]string{
	domain.ProactiveTriggerNeed: {
		"Hey, I was just thinking about you. How has your day been treating you?",
		"I've been in the mood for a good conversation. What's new with you?",
	},
	domain.ProactiveTriggerTiming: {
		"This is usually around the time we catch up. How are things?",
		"Thought I'd check in, we usually talk around now. What's up?",
	},
	domain.ProactiveTriggerPattern: {
		"You crossed my mind today. Anything interesting happen lately?",
		"I realized it's been a little while. How have you been?",
	},
	domain.ProactiveTriggerGeneral: {
		"Hi! Just wanted to say hello. How are you doing?",
		"Hey there, hope your day is going well. What's on your mind?",
	},
}

// ProactiveDecision es el resultado de evaluar a un usuario: puntajes por
// componente, el compuesto y el disparador dominante. Skipped explica por qué
// ni siquiera se puntuó.
type ProactiveDecision struct {
	UserID            string  `json:"user_id"`
	ShouldInitiate    bool    `json:"should_initiate"`
	Score             float64 `json:"score"`
	NeedScore         float64 `json:"need_score"`
	TimingScore       float64 `json:"timing_score"`
	InteractionScore  float64 `json:"interaction_score"`
	PersonalityFactor float64 `json:"personality_factor"`
	Trigger           string  `json:"trigger,omitempty"`
	Skipped           string  `json:"skipped,omitempty"`
}

// ProactiveService decide cuándo el compañero inicia conversación y compone
// el primer mensaje. Los límites de tasa se evalúan antes que cualquier
// puntaje: son más baratos y vetan sin excepción.
type ProactiveService struct {
	users        repository.UserRepository
	interactions repository.InteractionRepository
	personality  *PersonalityService
	memories     *MemoryService
	serializer   *UserSerializer
	router       *llm.Router
	kv           cache.Cache
	maxPerDay    int
	logger       *zap.Logger

	// Inyectable para pruebas deterministas.
	now func() time.Time
}

func NewProactiveService(
	users repository.UserRepository,
	interactions repository.InteractionRepository,
	personality *PersonalityService,
	memories *MemoryService,
	serializer *UserSerializer,
	router *llm.Router,
	kv cache.Cache,
	maxPerDay int,
	logger *zap.Logger,
) *ProactiveService {
	if maxPerDay <= 0 {
		maxPerDay = 3
	}
	return &ProactiveService{
		users:        users,
		interactions: interactions,
		personality:  personality,
		memories:     memories,
		serializer:   serializer,
		router:       router,
		kv:           kv,
		maxPerDay:    maxPerDay,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate decide si corresponde iniciar conversación con el usuario ahora.
func (s *ProactiveService) Evaluate(ctx context.Context, userID string) (ProactiveDecision, error) {
	decision := ProactiveDecision{UserID: userID}
	now := s.now()

	profile, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return decision, err
	}
	if !profile.IsActive() {
		decision.Skipped = "user_inactive"
		return decision, nil
	}
	if !profile.ProactiveEnabled {
		decision.Skipped = "proactive_disabled"
		return decision, nil
	}

	if declined, _ := s.kv.DeclinedRecently(ctx, userID); declined {
		decision.Skipped = "declined_recently"
		return decision, nil
	}
	day := now.Format("2006-01-02")
	sentToday, err := s.kv.ProactiveCountToday(ctx, userID, day)
	if err != nil {
		// KV caído: sin contadores confiables no se inicia nada.
		decision.Skipped = "rate_state_unavailable"
		return decision, nil
	}
	if sentToday >= int64(s.maxPerDay) {
		decision.Skipped = "daily_cap_reached"
		return decision, nil
	}
	if last, ok := s.kv.LastProactive(ctx, userID); ok && now.Sub(last) < proactiveMinGap {
		decision.Skipped = "too_soon"
		return decision, nil
	}

	snapshot, err := s.personality.Snapshot(ctx, userID)
	if err != nil {
		return decision, fmt.Errorf("snapshot: %w", err)
	}
	stats, err := s.interactions.Stats(ctx, userID, now.Add(-proactiveStatsSpan))
	if err != nil {
		return decision, fmt.Errorf("interaction stats: %w", err)
	}

	decision.NeedScore = needScore(snapshot.Needs)
	decision.TimingScore = timingScore(stats, profile.LastInteraction, now)
	if profile.EngagementFlag {
		// Marcado por la revisión de engagement: empujón de re-contacto.
		decision.TimingScore = clamp01(decision.TimingScore + 0.15)
	}
	decision.InteractionScore = interactionScore(stats, now)
	decision.PersonalityFactor = personalityFactor(snapshot)

	recentPenalty := float64(sentToday) / float64(s.maxPerDay)
	composite := needWeight*decision.NeedScore + timingWeight*decision.TimingScore + interactionWeight*decision.InteractionScore
	decision.Score = composite * decision.PersonalityFactor * math.Max(0.1, 1-recentPenalty)
	decision.Trigger = dominantTrigger(decision, snapshot)
	decision.ShouldInitiate = decision.Score >= proactiveThreshold
	return decision, nil
}

// Initiate compone y registra el primer mensaje de una conversación iniciada
// por el compañero. Respeta el serializador: si el usuario tiene un turno en
// vuelo se desiste con ErrBusy.
func (s *ProactiveService) Initiate(ctx context.Context, decision ProactiveDecision) (ChatResponse, error) {
	userID := decision.UserID
	handle, err := s.serializer.Admit(userID)
	if err != nil {
		return ChatResponse{}, err
	}
	defer handle.Release()

	started := s.now()
	snapshot, err := s.personality.Snapshot(ctx, userID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("snapshot: %w", err)
	}

	text, usedFallback, genErr := s.composeStarter(ctx, snapshot, decision)
	if genErr != nil {
		text = pickResponse(starterTemplates[decision.Trigger], userID+started.Format(time.RFC3339))
		usedFallback = true
	}

	rec := domain.InteractionRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		UserMessage:         "",
		AgentResponse:       text,
		PADBefore:           snapshot.Current,
		PADAfter:            snapshot.Current,
		ResponseTimeMs:      time.Since(started).Milliseconds(),
		IsProactive:         true,
		ProactiveTrigger:    decision.Trigger,
		SecurityCheckPassed: true,
		FallbackUsed:        usedFallback,
		CreatedAt:           s.now(),
	}
	if err := s.interactions.Insert(ctx, rec); err != nil && s.logger != nil {
		s.logger.Error("proactive interaction not recorded", zap.String("user_id", userID), zap.Error(err))
	}

	day := started.Format("2006-01-02")
	if _, err := s.kv.IncrProactiveToday(ctx, userID, day); err != nil && s.logger != nil {
		s.logger.Warn("proactive counter not incremented", zap.String("user_id", userID), zap.Error(err))
	}
	s.kv.SetLastProactive(ctx, userID, started)

	// La memoria del arranque se escribe antes de soltar el serializador para
	// que el turno que responda la iniciativa ya la vea.
	meta := domain.MemoryMetadata{Role: "assistant", Proactive: true}
	if _, err := s.memories.Store(ctx, userID, domain.MemoryTypeEpisodic, "I reached out first: "+text, meta); err != nil && s.logger != nil {
		s.logger.Debug("proactive memory not stored", zap.Error(err))
	}

	return ChatResponse{
		UserID:           userID,
		InteractionID:    rec.ID,
		Text:             text,
		EmotionLabel:     snapshot.Current.Label(),
		FallbackUsed:     usedFallback,
		IsProactive:      true,
		ProactiveTrigger: decision.Trigger,
	}, nil
}

// Decline registra que el usuario rechazó la iniciativa; silencia al
// compañero por 24 horas.
func (s *ProactiveService) Decline(ctx context.Context, userID string) error {
	return s.kv.RecordDecline(ctx, userID)
}

// SweepResult resume una pasada del job proactivo.
type SweepResult struct {
	Evaluated int
	Initiated int
	Skipped   int
	Failed    int
}

// Sweep evalúa a todos los usuarios activos recientes e inicia donde
// corresponde. Los fallos por usuario se aíslan.
func (s *ProactiveService) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	ids, err := s.users.ListActiveSince(ctx, s.now().Add(-proactiveActiveSpan))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("proactive sweep aborted", zap.Error(err))
		}
		res.Failed++
		return res
	}

	for _, userID := range ids {
		if ctx.Err() != nil {
			return res
		}
		res.Evaluated++
		decision, err := s.Evaluate(ctx, userID)
		if err != nil {
			res.Failed++
			if s.logger != nil {
				s.logger.Warn("proactive evaluation failed", zap.String("user_id", userID), zap.Error(err))
			}
			continue
		}
		if !decision.ShouldInitiate {
			res.Skipped++
			continue
		}
		if _, err := s.Initiate(ctx, decision); err != nil {
			res.Failed++
			if s.logger != nil {
				s.logger.Warn("proactive initiation failed", zap.String("user_id", userID), zap.Error(err))
			}
			continue
		}
		res.Initiated++
		if s.logger != nil {
			s.logger.Info("proactive conversation initiated",
				zap.String("user_id", userID),
				zap.String("trigger", decision.Trigger),
				zap.Float64("score", decision.Score),
			)
		}
	}
	return res
}

func (s *ProactiveService) composeStarter(ctx context.Context, snapshot domain.PersonalitySnapshot, decision ProactiveDecision) (string, bool, error) {
	var focus string
	switch decision.Trigger {
	case domain.ProactiveTriggerNeed:
		needs := snapshot.UrgentNeeds()
		names := make([]string, 0, len(needs))
		for _, n := range needs {
			names = append(names, n.Type)
		}
		focus = "You are feeling a strong pull toward " + strings.Join(names, " and ") + "."
	case domain.ProactiveTriggerTiming:
		focus = "This is around the time you two usually talk."
	case domain.ProactiveTriggerPattern:
		focus = "It has been longer than usual since you last spoke."
	default:
		focus = "You simply felt like saying hello."
	}

	system := fmt.Sprintf(
		"You are a warm AI companion reaching out first. Your current mood is %s. %s Write ONE short, natural opening message (under 40 words). No preamble, no quotes.",
		snapshot.Current.Label(), focus,
	)
	return s.router.GenerateWithFallback(ctx, system, "Write the opening message now.", 0.9, 20*time.Second)
}

/*
========================
 Componentes del puntaje
========================
*/

// Peso proactivo por tipo de necesidad: las sociales empujan a iniciar mucho
// más que el descanso.
var needProactiveWeights = map[string]float64{
	domain.NeedSocial:       1.0,
	domain.NeedValidation:   0.8,
	domain.NeedIntellectual: 0.6,
	domain.NeedCreative:     0.5,
	domain.NeedRest:         0.3,
}

// needScore suma, para cada necesidad urgente, cuánto sobrepasó su umbral
// ((nivel − umbral) / (1 − umbral)) ponderado por su peso proactivo, y
// normaliza por el peso total urgente. Sin urgencias el puntaje es cero.
func needScore(needs []domain.Need) float64 {
	sum, weightSum := 0.0, 0.0
	for _, n := range needs {
		if !n.IsUrgent() {
			continue
		}
		w, ok := needProactiveWeights[n.Type]
		if !ok {
			w = 0.5
		}
		ratio := 1.0
		if n.TriggerThreshold < 1 {
			ratio = clamp01((n.CurrentLevel - n.TriggerThreshold) / (1 - n.TriggerThreshold))
		}
		sum += ratio * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return clamp01(sum / weightSum)
}

// personalityFactor modula el compuesto según rasgos y estado emocional. Los
// rasgos aportan alrededor de 1.0 (la extraversión pesa más, el neuroticismo
// resta); el PAD premia placer positivo, dominancia alta y una activación
// cercana al nivel moderado. El resultado queda en [0.3, 1.7].
func personalityFactor(snapshot domain.PersonalitySnapshot) float64 {
	t := snapshot.Traits
	base := 1.0 +
		0.5*(t.Extraversion-0.5) +
		0.15*(t.Openness-0.5) +
		0.1*(t.Agreeableness-0.5) -
		0.1*(t.Conscientiousness-0.5) -
		0.35*(t.Neuroticism-0.5)

	p := snapshot.Current
	mood := 1.0 + 0.15*p.Pleasure + 0.1*p.Dominance - 0.1*math.Abs(p.Arousal-0.2)

	f := base * mood
	if f < 0.3 {
		f = 0.3
	}
	if f > 1.7 {
		f = 1.7
	}
	return f
}

// timingScore combina la afinidad de la hora actual con el histograma del
// usuario y cuánto hace desde la última interacción.
func timingScore(stats repository.InteractionStats, lastInteraction *time.Time, now time.Time) float64 {
	hourAffinity := 0.5
	maxBucket := 0
	for _, c := range stats.HourlyHistogram {
		if c > maxBucket {
			maxBucket = c
		}
	}
	if maxBucket > 0 {
		h := now.Hour()
		around := stats.HourlyHistogram[h]
		if stats.HourlyHistogram[(h+23)%24] > around {
			around = stats.HourlyHistogram[(h+23)%24]
		}
		if stats.HourlyHistogram[(h+1)%24] > around {
			around = stats.HourlyHistogram[(h+1)%24]
		}
		hourAffinity = float64(around) / float64(maxBucket)
	}

	return clamp01(0.6*hourAffinity + 0.4*gapFit(lastInteraction, now))
}

// gapFit puntúa cuánto hace desde la última interacción: ni recién hablados
// ni conversación demasiado fría.
func gapFit(lastInteraction *time.Time, now time.Time) float64 {
	if lastInteraction == nil {
		return 0.5
	}
	hours := now.Sub(*lastInteraction).Hours()
	switch {
	case hours < 6:
		return 0.1
	case hours < 24:
		return 0.5
	case hours < 72:
		return 1.0
	default:
		// Demasiado frío: una iniciativa tiene menos chance de aterrizar.
		return 0.7
	}
}

// interactionScore combina cuatro señales de la historia reciente: tasa de
// respuesta a iniciativas previas, largo medio de las respuestas del usuario,
// ajuste del hueco desde la última interacción y balance de quién inicia.
func interactionScore(stats repository.InteractionStats, now time.Time) float64 {
	answerRate := 0.5
	if stats.ProactiveSent > 0 {
		answerRate = float64(stats.ProactiveAnswered) / float64(stats.ProactiveSent)
	}

	// 400 caracteres de respuesta media ya cuentan como conversación plena.
	length := clamp01(stats.AvgResponseChars / 400.0)

	fit := gapFit(stats.LastInteractionAt, now)

	// Balance de iniciación: máximo cuando usuario y compañero inician por
	// igual, cero cuando siempre inicia el mismo lado.
	balance := 0.5
	if stats.Total > 0 {
		userShare := float64(stats.UserInitiated) / float64(stats.Total)
		balance = 1 - 2*math.Abs(userShare-0.5)
	}

	return clamp01(0.4*answerRate + 0.2*length + 0.2*fit + 0.2*balance)
}

func dominantTrigger(d ProactiveDecision, snapshot domain.PersonalitySnapshot) string {
	if len(snapshot.UrgentNeeds()) > 0 {
		return domain.ProactiveTriggerNeed
	}
	if d.TimingScore >= d.InteractionScore && d.TimingScore > 0.5 {
		return domain.ProactiveTriggerTiming
	}
	if d.InteractionScore > 0.5 {
		return domain.ProactiveTriggerPattern
	}
	return domain.ProactiveTriggerGeneral
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
