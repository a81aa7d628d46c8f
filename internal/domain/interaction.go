package domain

import "time"

// Razones de iniciación proactiva.
const (
	ProactiveTriggerNeed    = "need_based"
	ProactiveTriggerTiming  = "timing_based"
	ProactiveTriggerPattern = "pattern_based"
	ProactiveTriggerGeneral = "general"
)

// InteractionRecord es el registro de un turno de conversación completado.
type InteractionRecord struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	SessionID           string     `json:"session_id,omitempty"`
	UserMessage         string     `json:"user_message"`
	AgentResponse       string     `json:"agent_response"`
	PADBefore           PADState   `json:"pad_before"`
	PADAfter            PADState   `json:"pad_after"`
	ResponseTimeMs      int64      `json:"response_time_ms"`
	IsProactive         bool       `json:"is_proactive"`
	ProactiveTrigger    string     `json:"proactive_trigger,omitempty"`
	MemoriesRetrieved   int        `json:"memories_retrieved"`
	SecurityCheckPassed bool       `json:"security_check_passed"`
	DetectedThreatType  ThreatType `json:"detected_threat_type,omitempty"`
	FallbackUsed        bool       `json:"fallback_used"`
	UserInitiated       bool       `json:"user_initiated"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ReflectionRun agrega los resultados de una pasada nocturna de reflexión.
type ReflectionRun struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	UsersProcessed int       `json:"users_processed"`
	UsersFailed    int       `json:"users_failed"`
	Consolidated   int       `json:"consolidated"`
	DurationMs     int64     `json:"duration_ms"`
}
