package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

type QuirkRepository interface {
	Insert(ctx context.Context, quirk domain.Quirk) error
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]domain.Quirk, error)
	// Reinforce sube la fuerza, marca last_reinforced y acumula el contador de
	// refuerzos pendientes que consume la reflexión nocturna.
	Reinforce(ctx context.Context, userID, name string, delta float64, at time.Time) error
	// ApplyEvolution persiste el resultado de la evolución nocturna y resetea
	// el contador de refuerzos pendientes.
	ApplyEvolution(ctx context.Context, quirk domain.Quirk) error
	PendingReinforcements(ctx context.Context, userID string) (map[string]int, error)
	DeleteAll(ctx context.Context, userID string) error
}

type PgQuirkRepository struct {
	guard *Guard
}

func NewPgQuirkRepository(guard *Guard) *PgQuirkRepository {
	return &PgQuirkRepository{guard: guard}
}

func (r *PgQuirkRepository) Insert(ctx context.Context, q domain.Quirk) error {
	const query = `
		INSERT INTO quirks (id, user_id, name, category, description, strength, confidence, decay_rate, active, last_reinforced, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, name) DO NOTHING
	`
	var last interface{}
	if q.LastReinforced != nil {
		last = *q.LastReinforced
	}
	_, err := r.guard.Exec(ctx, query,
		q.ID, q.UserID, q.Name, q.Category, q.Description,
		q.Strength, q.Confidence, q.DecayRate, q.Active, last, q.CreatedAt,
	)
	return err
}

func (r *PgQuirkRepository) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]domain.Quirk, error) {
	const query = `
		SELECT id, user_id, name, category, description, strength, confidence, decay_rate, active, last_reinforced, created_at
		FROM quirks
		WHERE user_id = $1 AND (NOT $2 OR active)
		ORDER BY strength DESC, name
	`
	rows, err := r.guard.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quirks []domain.Quirk
	for rows.Next() {
		var q domain.Quirk
		var last sql.NullTime
		if err := rows.Scan(
			&q.ID, &q.UserID, &q.Name, &q.Category, &q.Description,
			&q.Strength, &q.Confidence, &q.DecayRate, &q.Active, &last, &q.CreatedAt,
		); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			q.LastReinforced = &t
		}
		quirks = append(quirks, q)
	}
	return quirks, rows.Err()
}

func (r *PgQuirkRepository) Reinforce(ctx context.Context, userID, name string, delta float64, at time.Time) error {
	const query = `
		UPDATE quirks
		SET strength = LEAST(1.0, strength + $3),
		    last_reinforced = $4,
		    pending_reinforcements = pending_reinforcements + 1
		WHERE user_id = $1 AND name = $2 AND active
	`
	_, err := r.guard.Exec(ctx, query, userID, name, delta, at)
	return err
}

func (r *PgQuirkRepository) ApplyEvolution(ctx context.Context, q domain.Quirk) error {
	const query = `
		UPDATE quirks
		SET strength = $3, confidence = $4, active = $5, pending_reinforcements = 0
		WHERE user_id = $1 AND id = $2
	`
	_, err := r.guard.Exec(ctx, query, q.UserID, q.ID, q.Strength, q.Confidence, q.Active)
	return err
}

func (r *PgQuirkRepository) PendingReinforcements(ctx context.Context, userID string) (map[string]int, error) {
	const query = `SELECT id, pending_reinforcements FROM quirks WHERE user_id = $1`
	rows, err := r.guard.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *PgQuirkRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.guard.Exec(ctx, `DELETE FROM quirks WHERE user_id = $1`, userID)
	return err
}
