package repository

import (
	"context"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

type NeedRepository interface {
	Upsert(ctx context.Context, need domain.Need) error
	ListByUser(ctx context.Context, userID string) ([]domain.Need, error)
	SetLevel(ctx context.Context, userID, needType string, level float64) error
	// DecayAllTowardOne sube current_level hacia 1 a razón de decay_rate por
	// hora para todos los usuarios. Corre como job horario; camino admin.
	DecayAllTowardOne(ctx context.Context, hours float64) error
	DeleteAll(ctx context.Context, userID string) error
}

type PgNeedRepository struct {
	guard *Guard
}

func NewPgNeedRepository(guard *Guard) *PgNeedRepository {
	return &PgNeedRepository{guard: guard}
}

func (r *PgNeedRepository) Upsert(ctx context.Context, n domain.Need) error {
	const query = `
		INSERT INTO needs (user_id, need_type, current_level, baseline_level, decay_rate, trigger_threshold, satisfaction_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, need_type) DO NOTHING
	`
	_, err := r.guard.Exec(ctx, query,
		n.UserID, n.Type, n.CurrentLevel, n.BaselineLevel,
		n.DecayRate, n.TriggerThreshold, n.SatisfactionRate, n.UpdatedAt,
	)
	return err
}

func (r *PgNeedRepository) ListByUser(ctx context.Context, userID string) ([]domain.Need, error) {
	const query = `
		SELECT user_id, need_type, current_level, baseline_level, decay_rate, trigger_threshold, satisfaction_rate, updated_at
		FROM needs
		WHERE user_id = $1
		ORDER BY need_type
	`
	rows, err := r.guard.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var needs []domain.Need
	for rows.Next() {
		var n domain.Need
		if err := rows.Scan(
			&n.UserID, &n.Type, &n.CurrentLevel, &n.BaselineLevel,
			&n.DecayRate, &n.TriggerThreshold, &n.SatisfactionRate, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		needs = append(needs, n)
	}
	return needs, rows.Err()
}

func (r *PgNeedRepository) SetLevel(ctx context.Context, userID, needType string, level float64) error {
	const query = `
		UPDATE needs
		SET current_level = GREATEST(0.0, LEAST(1.0, $3)), updated_at = now()
		WHERE user_id = $1 AND need_type = $2
	`
	_, err := r.guard.Exec(ctx, query, userID, needType, level)
	return err
}

func (r *PgNeedRepository) DecayAllTowardOne(ctx context.Context, hours float64) error {
	const query = `
		UPDATE needs
		SET current_level = LEAST(1.0, current_level + decay_rate * $1), updated_at = now()
	`
	_, err := r.guard.ExecAdmin(ctx, query, hours)
	return err
}

func (r *PgNeedRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.guard.Exec(ctx, `DELETE FROM needs WHERE user_id = $1`, userID)
	return err
}
