package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
)

// MaxAppraisalComponent acota cada eje del delta emocional de un turno.
const MaxAppraisalComponent = 0.4

// AppraisalContext agrupa las entradas de una valoración.
type AppraisalContext struct {
	Message  string
	Snapshot domain.PersonalitySnapshot
}

// AppraisalEngine produce un delta PAD acotado desde un mensaje y el snapshot
// de personalidad: capa de reglas determinista más refinamiento LLM opcional.
type AppraisalEngine struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewAppraisalEngine construye el motor; client nil desactiva el refinamiento.
func NewAppraisalEngine(client llm.Client, model string, logger *zap.Logger) *AppraisalEngine {
	return &AppraisalEngine{client: client, model: model, logger: logger}
}

/*
========================
 Familias de keywords
========================
*/

type keywordFamily struct {
	name  string
	words []string
	// contribución base y rasgo que la modula
	delta domain.PADDelta
	trait string
}

var keywordFamilies = []keywordFamily{
	{
		name:  "achievement",
		words: []string{"finished", "completed", "passed", "won", "promoted", "achieved", "accomplished", "graduated", "solved"},
		delta: domain.PADDelta{Pleasure: 0.15, Arousal: 0.10, Dominance: 0.10},
		trait: "conscientiousness",
	},
	{
		name:  "compliment",
		words: []string{"thank", "love you", "appreciate", "amazing", "wonderful", "best", "you're great", "sweet"},
		delta: domain.PADDelta{Pleasure: 0.20, Arousal: 0.05, Dominance: 0.05},
		trait: "agreeableness",
	},
	{
		name:  "surprise",
		words: []string{"surprise", "unexpected", "can't believe", "guess what", "wow", "no way", "shocking"},
		delta: domain.PADDelta{Pleasure: 0.05, Arousal: 0.20},
		trait: "openness",
	},
	{
		name:  "social",
		words: []string{"friend", "party", "hang out", "together", "meet", "visit", "family", "dinner with", "puppy", "pet"},
		delta: domain.PADDelta{Pleasure: 0.10, Arousal: 0.05},
		trait: "extraversion",
	},
	{
		name:  "anticipation",
		words: []string{"tomorrow", "next week", "planning", "looking forward", "excited", "soon", "upcoming"},
		delta: domain.PADDelta{Pleasure: 0.05, Arousal: 0.15},
		trait: "openness",
	},
	{
		name:  "challenge",
		words: []string{"difficult", "struggling", "problem", "stuck", "hard time", "stressed", "deadline", "exam"},
		delta: domain.PADDelta{Pleasure: -0.05, Arousal: 0.10, Dominance: -0.05},
		trait: "neuroticism",
	},
}

var positiveWords = []string{"happy", "great", "good", "love", "glad", "excited", "awesome", "nice", "fun", "new"}
var negativeWords = []string{"sad", "angry", "hate", "terrible", "awful", "lonely", "tired", "worried", "scared", "lost"}

// Appraise calcula el delta de reglas y, si hay cliente, deja que el modelo
// lo refine con un timeout corto; en timeout o parse fallido gana la regla.
func (e *AppraisalEngine) Appraise(ctx context.Context, in AppraisalContext) domain.PADDelta {
	rule := e.RuleDelta(in)
	if e.client == nil {
		return rule
	}
	refined, err := e.refine(ctx, in, rule)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("appraisal refinement failed, keeping rule delta", zap.Error(err))
		}
		return rule
	}
	return refined
}

// RuleDelta es la capa determinista: familias de keywords moduladas por
// rasgos, polaridad de sentimiento y calidad del estímulo.
func (e *AppraisalEngine) RuleDelta(in AppraisalContext) domain.PADDelta {
	msg := normalizeMessage(in.Message)
	traits := in.Snapshot.Traits

	var delta domain.PADDelta
	for _, fam := range keywordFamilies {
		if !containsAnyKeyword(msg, fam.words) {
			continue
		}
		weight := 1.0
		if v, ok := traits.Get(fam.trait); ok {
			// El rasgo desplaza la sensibilidad en ±50%.
			weight = 0.5 + v
		}
		delta.Pleasure += fam.delta.Pleasure * weight
		delta.Arousal += fam.delta.Arousal * weight
		delta.Dominance += fam.delta.Dominance * weight
	}

	// Polaridad: las palabras negativas arrastran el placer y agitan.
	pos := countAnyKeyword(msg, positiveWords)
	neg := countAnyKeyword(msg, negativeWords)
	delta.Pleasure += 0.04*float64(pos) - 0.06*float64(neg)
	if neg > 0 {
		delta.Arousal += 0.03 * float64(neg)
	}

	// Calidad del estímulo: longitud, exclamaciones y preguntas.
	quality := stimulusQuality(in.Message)
	delta.Pleasure *= quality.lengthFactor
	delta.Arousal = delta.Arousal*quality.lengthFactor + 0.03*float64(quality.exclamations) + 0.02*float64(quality.questions)
	delta.Dominance *= quality.lengthFactor

	// La neuroticidad amplifica la reacción global.
	if n, ok := traits.Get("neuroticism"); ok {
		amp := 0.8 + 0.4*n
		delta.Pleasure *= amp
		delta.Arousal *= amp
		delta.Dominance *= amp
	}

	return clampDelta(delta)
}

func (e *AppraisalEngine) refine(ctx context.Context, in AppraisalContext, rule domain.PADDelta) (domain.PADDelta, error) {
	prompt := fmt.Sprintf(`You adjust the emotional reaction of an AI companion.
Current emotion label: %s. Rule-based delta: pleasure=%.2f arousal=%.2f dominance=%.2f.
User message: %q

Refine the delta if the rules missed nuance. Each component must stay within [-0.4, 0.4].
Reply with JSON only: {"pleasure": <n>, "arousal": <n>, "dominance": <n>}`,
		in.Snapshot.Current.Label(), rule.Pleasure, rule.Arousal, rule.Dominance, in.Message)

	text, err := e.client.Generate(ctx, llm.Request{
		Model:       e.model,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   80,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		return domain.PADDelta{}, err
	}

	raw := extractFirstJSONObject(text)
	if raw == "" {
		return domain.PADDelta{}, fmt.Errorf("no json in refinement response")
	}
	var parsed domain.PADDelta
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.PADDelta{}, fmt.Errorf("parse refinement: %w", err)
	}
	return clampDelta(parsed), nil
}

type stimulus struct {
	lengthFactor float64
	exclamations int
	questions    int
}

func stimulusQuality(message string) stimulus {
	s := stimulus{lengthFactor: 1.0}
	n := len(strings.TrimSpace(message))
	switch {
	case n < 10:
		s.lengthFactor = 0.5
	case n > 500:
		s.lengthFactor = 1.2
	}
	for _, r := range message {
		switch r {
		case '!':
			s.exclamations++
		case '?':
			s.questions++
		}
	}
	if s.exclamations > 5 {
		s.exclamations = 5
	}
	if s.questions > 5 {
		s.questions = 5
	}
	return s
}

// normalizeMessage baja a minúsculas y elimina diacríticos.
func normalizeMessage(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func containsAnyKeyword(s string, list []string) bool {
	for _, w := range list {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func countAnyKeyword(s string, list []string) int {
	n := 0
	for _, w := range list {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

func clampDelta(d domain.PADDelta) domain.PADDelta {
	d.Pleasure = clampComponent(d.Pleasure)
	d.Arousal = clampComponent(d.Arousal)
	d.Dominance = clampComponent(d.Dominance)
	return d
}

func clampComponent(v float64) float64 {
	if v > MaxAppraisalComponent {
		return MaxAppraisalComponent
	}
	if v < -MaxAppraisalComponent {
		return -MaxAppraisalComponent
	}
	return v
}
