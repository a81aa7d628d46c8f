package domain

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del gateway. Los handlers HTTP mapean estos sentinelas
// a códigos de estado; los componentes los envuelven con fmt.Errorf("%w").
var (
	// ErrUserNotFound: la identidad no existe. HTTP 404.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive: el perfil existe pero no está activo. HTTP 403.
	ErrUserInactive = errors.New("user not active")
	// ErrUserCreationFailed: falló algún paso del init; requiere rollback completo.
	ErrUserCreationFailed = errors.New("user creation failed")
	// ErrBusy: el serializador ya tiene un turno en vuelo para el usuario. HTTP 429.
	ErrBusy = errors.New("user turn already in flight")
	// ErrServiceUnavailable: un externo requerido está caído. HTTP 503.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrSecurity: violación de una guarda estructural (ej. SQL sin predicado
	// user_id). Nunca se traga; siempre escala.
	ErrSecurity = errors.New("security guard violation")
	// ErrThreatDetected: el detector disparó por encima del umbral. Se recupera
	// localmente con una respuesta defensiva.
	ErrThreatDetected = errors.New("security threat detected")
	// ErrConfiguration: configuración inválida, fatal sólo en el arranque.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrValidation: entrada malformada del cliente. HTTP 400.
	ErrValidation = errors.New("invalid request")
)

// ComponentError etiqueta un fallo interno con el componente y la operación
// que lo originó.
type ComponentError struct {
	Component string
	Op        string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Op, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// NewComponentError construye un error etiquetado por componente.
func NewComponentError(component, op string, err error) error {
	return &ComponentError{Component: component, Op: op, Err: err}
}
