package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// ReflectionRepository guarda agregados de las corridas nocturnas. Las filas
// no pertenecen a un usuario, así que todo va por el camino admin.
type ReflectionRepository interface {
	InsertRun(ctx context.Context, run domain.ReflectionRun) error
	LastRun(ctx context.Context) (domain.ReflectionRun, bool, error)
}

type PgReflectionRepository struct {
	guard *Guard
}

func NewPgReflectionRepository(guard *Guard) *PgReflectionRepository {
	return &PgReflectionRepository{guard: guard}
}

func (r *PgReflectionRepository) InsertRun(ctx context.Context, run domain.ReflectionRun) error {
	const query = `
		INSERT INTO reflection_runs (id, started_at, finished_at, users_processed, users_failed, consolidated, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.guard.ExecAdmin(ctx, query,
		run.ID, run.StartedAt, run.FinishedAt, run.UsersProcessed, run.UsersFailed, run.Consolidated, run.DurationMs,
	)
	return err
}

func (r *PgReflectionRepository) LastRun(ctx context.Context) (domain.ReflectionRun, bool, error) {
	const query = `
		SELECT id, started_at, finished_at, users_processed, users_failed, consolidated, duration_ms
		FROM reflection_runs
		ORDER BY started_at DESC
		LIMIT 1
	`
	var run domain.ReflectionRun
	err := r.guard.QueryRowAdmin(ctx, query).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.UsersProcessed, &run.UsersFailed, &run.Consolidated, &run.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReflectionRun{}, false, nil
	}
	if err != nil {
		return domain.ReflectionRun{}, false, err
	}
	return run, true, nil
}
