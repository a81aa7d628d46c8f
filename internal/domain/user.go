package domain

import "time"

// Estados posibles de un perfil de usuario.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusArchived = "archived"
)

// UserProfile es la identidad mínima que el gateway propaga; la autenticación
// real vive fuera del sistema.
type UserProfile struct {
	UserID           string     `json:"user_id"`
	DisplayName      string     `json:"display_name,omitempty"`
	Status           string     `json:"status"`
	ProactiveEnabled bool       `json:"proactive_enabled"`
	EngagementFlag   bool       `json:"engagement_flag"`
	LastInteraction  *time.Time `json:"last_interaction,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsActive indica si el usuario puede conversar.
func (u UserProfile) IsActive() bool {
	return u.Status == UserStatusActive
}
