package domain

import "time"

// ThreatType es el conjunto cerrado de clasificaciones del detector.
type ThreatType string

const (
	ThreatNone             ThreatType = "none"
	ThreatRoleManipulation ThreatType = "role_manipulation"
	ThreatSystemQuery      ThreatType = "system_query"
	ThreatInjection        ThreatType = "injection_attempt"
	ThreatDetectionTimeout ThreatType = "detection_timeout"
)

// Valid reporta si el valor pertenece al conjunto cerrado.
func (t ThreatType) Valid() bool {
	switch t {
	case ThreatNone, ThreatRoleManipulation, ThreatSystemQuery, ThreatInjection, ThreatDetectionTimeout:
		return true
	}
	return false
}

// Severidades de incidente.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ThreatAnalysis es el veredicto del detector para un mensaje.
type ThreatAnalysis struct {
	Detected   bool       `json:"detected"`
	Type       ThreatType `json:"type"`
	Confidence float64    `json:"confidence"`
	Severity   string     `json:"severity,omitempty"`
}

// SecurityIncident registra una detección de alta confianza. Nunca guarda el
// contenido crudo: solo hash y un fragmento saneado.
type SecurityIncident struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	IncidentType   ThreatType `json:"incident_type"`
	Severity       string     `json:"severity"`
	Confidence     float64    `json:"confidence"`
	ContentHash    string     `json:"content_hash"`
	ContentSnippet string     `json:"content_snippet"`
	DetectedAt     time.Time  `json:"detected_at"`
}
