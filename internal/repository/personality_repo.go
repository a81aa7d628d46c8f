package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// Clases de fila en personality_state.
const (
	padKindCurrent  = "current"
	padKindBaseline = "baseline"
)

type PersonalityRepository interface {
	// InsertTraits escribe el vector de rasgos una sola vez; llamadas
	// posteriores son no-op. No existe camino de actualización: el vector es
	// inmutable por contrato.
	InsertTraits(ctx context.Context, traits domain.TraitVector) error
	GetTraits(ctx context.Context, userID string) (domain.TraitVector, error)

	GetCurrentPAD(ctx context.Context, userID string) (domain.PADState, error)
	// SetCurrentPAD archiva la fila current previa e inserta la nueva.
	SetCurrentPAD(ctx context.Context, userID string, state domain.PADState) error
	GetBaseline(ctx context.Context, userID string) (domain.PADState, error)
	UpsertBaseline(ctx context.Context, userID string, state domain.PADState) error
	// RecentCurrentPAD devuelve los estados current archivados y vigente del
	// período, más recientes primero.
	RecentCurrentPAD(ctx context.Context, userID string, since time.Time) ([]domain.PADState, error)
	DeleteAll(ctx context.Context, userID string) error
}

type PgPersonalityRepository struct {
	guard *Guard
}

func NewPgPersonalityRepository(guard *Guard) *PgPersonalityRepository {
	return &PgPersonalityRepository{guard: guard}
}

func (r *PgPersonalityRepository) InsertTraits(ctx context.Context, traits domain.TraitVector) error {
	const query = `
		INSERT INTO trait_vectors (user_id, openness, conscientiousness, extraversion, agreeableness, neuroticism, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.guard.Exec(ctx, query,
		traits.UserID,
		traits.Openness,
		traits.Conscientiousness,
		traits.Extraversion,
		traits.Agreeableness,
		traits.Neuroticism,
		traits.CreatedAt,
	)
	return err
}

func (r *PgPersonalityRepository) GetTraits(ctx context.Context, userID string) (domain.TraitVector, error) {
	const query = `
		SELECT user_id, openness, conscientiousness, extraversion, agreeableness, neuroticism, created_at
		FROM trait_vectors
		WHERE user_id = $1
	`
	var t domain.TraitVector
	err := r.guard.QueryRow(ctx, query, userID).Scan(
		&t.UserID, &t.Openness, &t.Conscientiousness, &t.Extraversion, &t.Agreeableness, &t.Neuroticism, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TraitVector{}, domain.ErrUserNotFound
	}
	return t, err
}

func (r *PgPersonalityRepository) GetCurrentPAD(ctx context.Context, userID string) (domain.PADState, error) {
	return r.getPAD(ctx, userID, padKindCurrent, true)
}

func (r *PgPersonalityRepository) GetBaseline(ctx context.Context, userID string) (domain.PADState, error) {
	return r.getPAD(ctx, userID, padKindBaseline, false)
}

func (r *PgPersonalityRepository) getPAD(ctx context.Context, userID, kind string, onlyCurrent bool) (domain.PADState, error) {
	const query = `
		SELECT pleasure, arousal, dominance, created_at
		FROM personality_state
		WHERE user_id = $1 AND kind = $2 AND (NOT $3 OR is_current)
		ORDER BY created_at DESC
		LIMIT 1
	`
	var p domain.PADState
	err := r.guard.QueryRow(ctx, query, userID, kind, onlyCurrent).Scan(&p.Pleasure, &p.Arousal, &p.Dominance, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PADState{}, domain.ErrUserNotFound
	}
	return p, err
}

func (r *PgPersonalityRepository) SetCurrentPAD(ctx context.Context, userID string, state domain.PADState) error {
	// La serialización por usuario garantiza que no hay dos escritores
	// concurrentes; archivar e insertar en dos pasos es seguro bajo ella.
	const archive = `UPDATE personality_state SET is_current = false WHERE user_id = $1 AND kind = 'current' AND is_current`
	if _, err := r.guard.Exec(ctx, archive, userID); err != nil {
		return err
	}
	const insert = `
		INSERT INTO personality_state (id, user_id, kind, pleasure, arousal, dominance, is_current, created_at)
		VALUES ($1, $2, 'current', $3, $4, $5, true, $6)
	`
	at := state.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.guard.Exec(ctx, insert, uuid.NewString(), userID, state.Pleasure, state.Arousal, state.Dominance, at)
	return err
}

func (r *PgPersonalityRepository) UpsertBaseline(ctx context.Context, userID string, state domain.PADState) error {
	const query = `
		INSERT INTO personality_state (id, user_id, kind, pleasure, arousal, dominance, is_current, created_at)
		VALUES ($1, $2, 'baseline', $3, $4, $5, true, $6)
		ON CONFLICT (user_id, kind) WHERE kind = 'baseline'
		DO UPDATE SET pleasure = EXCLUDED.pleasure, arousal = EXCLUDED.arousal, dominance = EXCLUDED.dominance, created_at = EXCLUDED.created_at
	`
	at := state.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.guard.Exec(ctx, query, uuid.NewString(), userID, state.Pleasure, state.Arousal, state.Dominance, at)
	return err
}

func (r *PgPersonalityRepository) RecentCurrentPAD(ctx context.Context, userID string, since time.Time) ([]domain.PADState, error) {
	const query = `
		SELECT pleasure, arousal, dominance, created_at
		FROM personality_state
		WHERE user_id = $1 AND kind = 'current' AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := r.guard.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.PADState
	for rows.Next() {
		var p domain.PADState
		if err := rows.Scan(&p.Pleasure, &p.Arousal, &p.Dominance, &p.UpdatedAt); err != nil {
			return nil, err
		}
		states = append(states, p)
	}
	return states, rows.Err()
}

func (r *PgPersonalityRepository) DeleteAll(ctx context.Context, userID string) error {
	if _, err := r.guard.Exec(ctx, `DELETE FROM personality_state WHERE user_id = $1`, userID); err != nil {
		return err
	}
	_, err := r.guard.Exec(ctx, `DELETE FROM trait_vectors WHERE user_id = $1`, userID)
	return err
}
