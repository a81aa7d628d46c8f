package repository

import (
	"context"
	"time"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

type IncidentRepository interface {
	Insert(ctx context.Context, incident domain.SecurityIncident) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.SecurityIncident, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type PgIncidentRepository struct {
	guard *Guard
}

func NewPgIncidentRepository(guard *Guard) *PgIncidentRepository {
	return &PgIncidentRepository{guard: guard}
}

func (r *PgIncidentRepository) Insert(ctx context.Context, in domain.SecurityIncident) error {
	const query = `
		INSERT INTO security_incidents (id, user_id, incident_type, severity, confidence, content_hash, content_snippet, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.guard.Exec(ctx, query,
		in.ID, in.UserID, string(in.IncidentType), in.Severity,
		in.Confidence, in.ContentHash, in.ContentSnippet, in.DetectedAt,
	)
	return err
}

func (r *PgIncidentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.SecurityIncident, error) {
	const query = `
		SELECT id, user_id, incident_type, severity, confidence, content_hash, content_snippet, detected_at
		FROM security_incidents
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	rows, err := r.guard.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []domain.SecurityIncident
	for rows.Next() {
		var in domain.SecurityIncident
		var typ string
		if err := rows.Scan(&in.ID, &in.UserID, &typ, &in.Severity, &in.Confidence, &in.ContentHash, &in.ContentSnippet, &in.DetectedAt); err != nil {
			return nil, err
		}
		in.IncidentType = domain.ThreatType(typ)
		incidents = append(incidents, in)
	}
	return incidents, rows.Err()
}

func (r *PgIncidentRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM security_incidents WHERE user_id = $1 AND detected_at >= $2`
	var n int
	err := r.guard.QueryRow(ctx, query, userID, since).Scan(&n)
	return n, err
}
