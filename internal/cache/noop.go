package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indica que el KV no está configurado o no responde.
var ErrUnavailable = errors.New("kv cache unavailable")

// Noop implementa Cache cuando no hay Redis configurado: los cachés no hacen
// nada y los contadores devuelven ErrUnavailable para que los llamadores
// apliquen su degradación (el contador de ofensas cae a memoria).
type Noop struct{}

func (Noop) IncrOffense(context.Context, string, time.Duration) (int64, error) {
	return 0, ErrUnavailable
}
func (Noop) OffenseCount(context.Context, string) (int64, error) { return 0, ErrUnavailable }
func (Noop) SetEscalation(context.Context, string, string, time.Duration) error {
	return ErrUnavailable
}
func (Noop) GetEscalation(context.Context, string) (string, error) { return "", nil }

func (Noop) GetEmbedding(context.Context, string, int) ([]float32, bool) { return nil, false }
func (Noop) SetEmbedding(context.Context, string, int, []float32)        {}
func (Noop) GetImportance(context.Context, string) (float64, bool)       { return 0, false }
func (Noop) SetImportance(context.Context, string, float64)              {}

func (Noop) LastProactive(context.Context, string) (time.Time, bool) { return time.Time{}, false }
func (Noop) SetLastProactive(context.Context, string, time.Time)     {}
func (Noop) ProactiveCountToday(context.Context, string, string) (int64, error) {
	return 0, ErrUnavailable
}
func (Noop) IncrProactiveToday(context.Context, string, string) (int64, error) {
	return 0, ErrUnavailable
}
func (Noop) RecordDecline(context.Context, string) error            { return ErrUnavailable }
func (Noop) DeclinedRecently(context.Context, string) (bool, error) { return false, nil }
