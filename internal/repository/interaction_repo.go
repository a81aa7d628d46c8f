package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// InteractionStats resume la historia reciente de un usuario para el scorer
// proactivo.
type InteractionStats struct {
	Total             int
	UserInitiated     int
	ProactiveSent     int
	ProactiveAnswered int
	AvgResponseChars  float64
	LastInteractionAt *time.Time
	HourlyHistogram   [24]int
	WeekdayHistogram  [7]int
}

type InteractionRepository interface {
	Insert(ctx context.Context, rec domain.InteractionRecord) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.InteractionRecord, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	Stats(ctx context.Context, userID string, since time.Time) (InteractionStats, error)
	DeleteAll(ctx context.Context, userID string) error
}

type PgInteractionRepository struct {
	guard *Guard
}

func NewPgInteractionRepository(guard *Guard) *PgInteractionRepository {
	return &PgInteractionRepository{guard: guard}
}

func (r *PgInteractionRepository) Insert(ctx context.Context, rec domain.InteractionRecord) error {
	const query = `
		INSERT INTO interactions (
			id, user_id, session_id, user_message, agent_response,
			pleasure_before, arousal_before, dominance_before,
			pleasure_after, arousal_after, dominance_after,
			response_time_ms, is_proactive, proactive_trigger, memories_retrieved,
			security_check_passed, detected_threat_type, fallback_used, user_initiated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	var threat interface{}
	if rec.DetectedThreatType != "" && rec.DetectedThreatType != domain.ThreatNone {
		threat = string(rec.DetectedThreatType)
	}
	_, err := r.guard.Exec(ctx, query,
		rec.ID, rec.UserID, rec.SessionID, rec.UserMessage, rec.AgentResponse,
		rec.PADBefore.Pleasure, rec.PADBefore.Arousal, rec.PADBefore.Dominance,
		rec.PADAfter.Pleasure, rec.PADAfter.Arousal, rec.PADAfter.Dominance,
		rec.ResponseTimeMs, rec.IsProactive, rec.ProactiveTrigger, rec.MemoriesRetrieved,
		rec.SecurityCheckPassed, threat, rec.FallbackUsed, rec.UserInitiated, rec.CreatedAt,
	)
	return err
}

func (r *PgInteractionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.InteractionRecord, error) {
	const query = `
		SELECT id, user_id, session_id, user_message, agent_response,
		       pleasure_before, arousal_before, dominance_before,
		       pleasure_after, arousal_after, dominance_after,
		       response_time_ms, is_proactive, proactive_trigger, memories_retrieved,
		       security_check_passed, detected_threat_type, fallback_used, user_initiated, created_at
		FROM interactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.guard.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.InteractionRecord
	for rows.Next() {
		var rec domain.InteractionRecord
		var threat sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SessionID, &rec.UserMessage, &rec.AgentResponse,
			&rec.PADBefore.Pleasure, &rec.PADBefore.Arousal, &rec.PADBefore.Dominance,
			&rec.PADAfter.Pleasure, &rec.PADAfter.Arousal, &rec.PADAfter.Dominance,
			&rec.ResponseTimeMs, &rec.IsProactive, &rec.ProactiveTrigger, &rec.MemoriesRetrieved,
			&rec.SecurityCheckPassed, &threat, &rec.FallbackUsed, &rec.UserInitiated, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if threat.Valid {
			rec.DetectedThreatType = domain.ThreatType(threat.String)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *PgInteractionRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM interactions WHERE user_id = $1 AND created_at >= $2`
	var n int
	err := r.guard.QueryRow(ctx, query, userID, since).Scan(&n)
	return n, err
}

func (r *PgInteractionRepository) Stats(ctx context.Context, userID string, since time.Time) (InteractionStats, error) {
	var stats InteractionStats

	const summary = `
		SELECT count(*),
		       count(*) FILTER (WHERE user_initiated),
		       count(*) FILTER (WHERE is_proactive),
		       count(*) FILTER (WHERE is_proactive AND length(user_message) > 0),
		       COALESCE(avg(length(agent_response)), 0),
		       max(created_at)
		FROM interactions
		WHERE user_id = $1 AND created_at >= $2
	`
	var last sql.NullTime
	if err := r.guard.QueryRow(ctx, summary, userID, since).Scan(
		&stats.Total, &stats.UserInitiated, &stats.ProactiveSent,
		&stats.ProactiveAnswered, &stats.AvgResponseChars, &last,
	); err != nil {
		return stats, err
	}
	if last.Valid {
		t := last.Time
		stats.LastInteractionAt = &t
	}

	const histogram = `
		SELECT extract(hour FROM created_at)::int,
		       extract(dow FROM created_at)::int,
		       count(*)
		FROM interactions
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY 1, 2
	`
	rows, err := r.guard.Query(ctx, histogram, userID, since)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var hour, dow, n int
		if err := rows.Scan(&hour, &dow, &n); err != nil {
			return stats, err
		}
		if hour >= 0 && hour < 24 {
			stats.HourlyHistogram[hour] += n
		}
		if dow >= 0 && dow < 7 {
			stats.WeekdayHistogram[dow] += n
		}
	}
	return stats, rows.Err()
}

func (r *PgInteractionRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.guard.Exec(ctx, `DELETE FROM interactions WHERE user_id = $1`, userID)
	return err
}
