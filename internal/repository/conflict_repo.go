package repository

import (
	"context"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

type ConflictRepository interface {
	Insert(ctx context.Context, conflict domain.MemoryConflict) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.MemoryConflict, error)
}

type PgConflictRepository struct {
	guard *Guard
}

func NewPgConflictRepository(guard *Guard) *PgConflictRepository {
	return &PgConflictRepository{guard: guard}
}

func (r *PgConflictRepository) Insert(ctx context.Context, c domain.MemoryConflict) error {
	const query = `
		INSERT INTO memory_conflicts (id, user_id, memory_id, against_id, conflict_type, status, confidence, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.guard.Exec(ctx, query,
		c.ID, c.UserID, c.MemoryID, c.AgainstID, c.Type, c.Status, c.Confidence, c.DetectedAt,
	)
	return err
}

func (r *PgConflictRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.MemoryConflict, error) {
	const query = `
		SELECT id, user_id, memory_id, against_id, conflict_type, status, confidence, detected_at
		FROM memory_conflicts
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	rows, err := r.guard.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []domain.MemoryConflict
	for rows.Next() {
		var c domain.MemoryConflict
		if err := rows.Scan(&c.ID, &c.UserID, &c.MemoryID, &c.AgainstID, &c.Type, &c.Status, &c.Confidence, &c.DetectedAt); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
