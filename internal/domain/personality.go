package domain

import (
	"math"
	"time"
)

// TraitVector son los cinco rasgos Big Five en [0,1]. Se escribe una sola vez
// durante la inicialización del usuario y es inmutable después.
type TraitVector struct {
	UserID            string    `json:"user_id"`
	Openness          float64   `json:"openness"`
	Conscientiousness float64   `json:"conscientiousness"`
	Extraversion      float64   `json:"extraversion"`
	Agreeableness     float64   `json:"agreeableness"`
	Neuroticism       float64   `json:"neuroticism"`
	CreatedAt         time.Time `json:"created_at"`
}

// Get devuelve el valor de un rasgo por nombre; false si no existe.
func (t TraitVector) Get(name string) (float64, bool) {
	switch name {
	case "openness":
		return t.Openness, true
	case "conscientiousness":
		return t.Conscientiousness, true
	case "extraversion":
		return t.Extraversion, true
	case "agreeableness":
		return t.Agreeableness, true
	case "neuroticism":
		return t.Neuroticism, true
	}
	return 0, false
}

// PADState es el estado emocional Pleasure/Arousal/Dominance, cada eje en [-1,1].
type PADState struct {
	Pleasure  float64   `json:"pleasure"`
	Arousal   float64   `json:"arousal"`
	Dominance float64   `json:"dominance"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PADDelta es un desplazamiento acotado sobre los tres ejes.
type PADDelta struct {
	Pleasure  float64 `json:"pleasure"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Clamp limita cada eje a [-1,1]. Los deltas se aplican siempre con clamp,
// nunca con wrap.
func (p PADState) Clamp() PADState {
	p.Pleasure = clampAxis(p.Pleasure)
	p.Arousal = clampAxis(p.Arousal)
	p.Dominance = clampAxis(p.Dominance)
	return p
}

// Apply suma un delta y devuelve el estado ya acotado.
func (p PADState) Apply(d PADDelta) PADState {
	p.Pleasure += d.Pleasure
	p.Arousal += d.Arousal
	p.Dominance += d.Dominance
	return p.Clamp()
}

// Label mapea los ocho octantes de signo a una etiqueta emocional.
func (p PADState) Label() string {
	switch {
	case p.Pleasure >= 0 && p.Arousal >= 0 && p.Dominance >= 0:
		return "exuberant"
	case p.Pleasure >= 0 && p.Arousal >= 0 && p.Dominance < 0:
		return "calm"
	case p.Pleasure >= 0 && p.Arousal < 0 && p.Dominance >= 0:
		return "relaxed"
	case p.Pleasure >= 0 && p.Arousal < 0 && p.Dominance < 0:
		return "sleepy"
	case p.Pleasure < 0 && p.Arousal >= 0 && p.Dominance >= 0:
		return "stressed"
	case p.Pleasure < 0 && p.Arousal >= 0 && p.Dominance < 0:
		return "anxious"
	case p.Pleasure < 0 && p.Arousal < 0 && p.Dominance >= 0:
		return "bored"
	default:
		return "depressed"
	}
}

// Magnitude es la norma euclidiana del delta, útil para medir volatilidad.
func (d PADDelta) Magnitude() float64 {
	return math.Sqrt(d.Pleasure*d.Pleasure + d.Arousal*d.Arousal + d.Dominance*d.Dominance)
}

func clampAxis(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Categorías de quirks.
const (
	QuirkCategorySpeechPattern = "speech_pattern"
	QuirkCategoryBehavior      = "behavior"
	QuirkCategoryPreference    = "preference"
)

// MinQuirkStrength es el umbral bajo el cual un quirk se desactiva.
const MinQuirkStrength = 0.05

// Quirk es una tendencia de comportamiento con fuerza y confianza evolutivas.
type Quirk struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Description    string     `json:"description,omitempty"`
	Strength       float64    `json:"strength"`
	Confidence     float64    `json:"confidence"`
	DecayRate      float64    `json:"decay_rate"`
	Active         bool       `json:"active"`
	LastReinforced *time.Time `json:"last_reinforced,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Tipos de necesidad psicológica.
const (
	NeedSocial       = "social"
	NeedIntellectual = "intellectual"
	NeedCreative     = "creative"
	NeedRest         = "rest"
	NeedValidation   = "validation"
)

// NeedTypes enumera el conjunto cerrado de tipos de necesidad.
var NeedTypes = []string{NeedSocial, NeedIntellectual, NeedCreative, NeedRest, NeedValidation}

// Need es una necesidad psicológica que sube con el tiempo y baja al interactuar.
type Need struct {
	UserID           string    `json:"user_id"`
	Type             string    `json:"type"`
	CurrentLevel     float64   `json:"current_level"`
	BaselineLevel    float64   `json:"baseline_level"`
	DecayRate        float64   `json:"decay_rate"`
	TriggerThreshold float64   `json:"trigger_threshold"`
	SatisfactionRate float64   `json:"satisfaction_rate"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsUrgent indica si la necesidad cruzó su umbral de disparo.
func (n Need) IsUrgent() bool {
	return n.CurrentLevel >= n.TriggerThreshold
}

// PersonalitySnapshot es la vista consistente que consume el pipeline de chat.
type PersonalitySnapshot struct {
	UserID   string      `json:"user_id"`
	Traits   TraitVector `json:"traits"`
	Current  PADState    `json:"current"`
	Baseline PADState    `json:"baseline"`
	Quirks   []Quirk     `json:"quirks"`
	Needs    []Need      `json:"needs"`
}

// ActiveQuirks filtra los quirks activos del snapshot.
func (s PersonalitySnapshot) ActiveQuirks() []Quirk {
	var out []Quirk
	for _, q := range s.Quirks {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}

// UrgentNeeds filtra las necesidades urgentes del snapshot.
func (s PersonalitySnapshot) UrgentNeeds() []Need {
	var out []Need
	for _, n := range s.Needs {
		if n.IsUrgent() {
			out = append(out, n)
		}
	}
	return out
}
