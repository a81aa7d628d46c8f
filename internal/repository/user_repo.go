package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user domain.UserProfile) error
	GetByID(ctx context.Context, userID string) (domain.UserProfile, error)
	SetStatus(ctx context.Context, userID, status string) error
	SetProactiveEnabled(ctx context.Context, userID string, enabled bool) error
	SetEngagementFlag(ctx context.Context, userID string, flagged bool) error
	TouchLastInteraction(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
	// Operaciones admin: cruzan usuarios y van por el camino admin de la guarda.
	ListActiveSince(ctx context.Context, since time.Time) ([]string, error)
	ListPaged(ctx context.Context, limit, offset int) ([]domain.UserProfile, error)
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
}

type PgUserRepository struct {
	guard *Guard
}

func NewPgUserRepository(guard *Guard) *PgUserRepository {
	return &PgUserRepository{guard: guard}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.UserProfile) error {
	const query = `
		INSERT INTO user_profiles (user_id, display_name, status, proactive_enabled, engagement_flag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.guard.Exec(ctx, query,
		user.UserID,
		user.DisplayName,
		user.Status,
		user.ProactiveEnabled,
		user.EngagementFlag,
		user.CreatedAt,
	)
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	const query = `
		SELECT user_id, display_name, status, proactive_enabled, engagement_flag, last_interaction, created_at
		FROM user_profiles
		WHERE user_id = $1
	`
	var u domain.UserProfile
	var last sql.NullTime
	err := r.guard.QueryRow(ctx, query, userID).Scan(
		&u.UserID,
		&u.DisplayName,
		&u.Status,
		&u.ProactiveEnabled,
		&u.EngagementFlag,
		&last,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if last.Valid {
		t := last.Time
		u.LastInteraction = &t
	}
	return u, nil
}

func (r *PgUserRepository) SetStatus(ctx context.Context, userID, status string) error {
	const query = `UPDATE user_profiles SET status = $2 WHERE user_id = $1`
	_, err := r.guard.Exec(ctx, query, userID, status)
	return err
}

func (r *PgUserRepository) SetProactiveEnabled(ctx context.Context, userID string, enabled bool) error {
	const query = `UPDATE user_profiles SET proactive_enabled = $2 WHERE user_id = $1`
	_, err := r.guard.Exec(ctx, query, userID, enabled)
	return err
}

func (r *PgUserRepository) SetEngagementFlag(ctx context.Context, userID string, flagged bool) error {
	const query = `UPDATE user_profiles SET engagement_flag = $2 WHERE user_id = $1`
	_, err := r.guard.Exec(ctx, query, userID, flagged)
	return err
}

func (r *PgUserRepository) TouchLastInteraction(ctx context.Context, userID string, at time.Time) error {
	const query = `UPDATE user_profiles SET last_interaction = $2 WHERE user_id = $1`
	_, err := r.guard.Exec(ctx, query, userID, at)
	return err
}

// Delete borra el perfil; el rollback de un init fallido pasa por aquí.
func (r *PgUserRepository) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM user_profiles WHERE user_id = $1`
	_, err := r.guard.Exec(ctx, query, userID)
	return err
}

func (r *PgUserRepository) ListActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	const query = `
		SELECT user_id FROM user_profiles
		WHERE status = 'active' AND last_interaction >= $1
		ORDER BY user_id
	`
	rows, err := r.guard.QueryAdmin(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

func (r *PgUserRepository) ListPaged(ctx context.Context, limit, offset int) ([]domain.UserProfile, error) {
	const query = `
		SELECT user_id, display_name, status, proactive_enabled, engagement_flag, last_interaction, created_at
		FROM user_profiles
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.guard.QueryAdmin(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserProfile
	for rows.Next() {
		var u domain.UserProfile
		var last sql.NullTime
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.Status, &u.ProactiveEnabled, &u.EngagementFlag, &last, &u.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			u.LastInteraction = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) ListIdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `
		SELECT user_id FROM user_profiles
		WHERE status = 'active' AND (last_interaction IS NULL OR last_interaction < $1)
		ORDER BY user_id
	`
	rows, err := r.guard.QueryAdmin(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

func (r *PgUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.guard.QueryRowAdmin(ctx, `SELECT count(*) FROM user_profiles`).Scan(&n)
	return n, err
}

func scanUserIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
