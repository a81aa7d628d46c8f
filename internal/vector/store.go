// Package vector adapta Postgres+pgvector al contrato de vector store del
// gateway: colecciones nombradas por usuario, búsqueda por coseno y filtro
// obligatorio de user_id en toda lectura.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// Store es el contrato de C1 para memorias vectoriales.
type Store interface {
	Upsert(ctx context.Context, collection string, memory domain.Memory) error
	// SearchFiltered exige userID no vacío; una búsqueda sin filtro de usuario
	// se rechaza con ErrSecurity en esta capa, antes de tocar el almacén.
	SearchFiltered(ctx context.Context, collection, userID string, query pgvector.Vector, limit int, minSimilarity float64) ([]domain.ScoredMemory, error)
	Scroll(ctx context.Context, collection, userID string, limit, offset int) ([]domain.Memory, error)
	GetByID(ctx context.Context, collection, userID, memoryID string) (domain.Memory, error)
	RecentUnconsolidated(ctx context.Context, collection, userID string, since time.Time) ([]domain.Memory, error)
	MarkConsolidated(ctx context.Context, collection, userID string, ids []string) error
	RecordAccess(ctx context.Context, collection, userID string, ids []string, recency map[string]float64, at time.Time) error
	Delete(ctx context.Context, collection, userID string, ids []string) error
	DeleteCollection(ctx context.Context, collection string) error
	Migrate(ctx context.Context, fromCollection, toCollection, fromUser, toUser string) (int, error)
	// Housekeeping global; sólo lo invocan los jobs del scheduler.
	DecayRecencyAll(ctx context.Context, factor float64) error
	CleanupWeak(ctx context.Context, maxRecency, maxImportance float64) (int, error)
}

// CollectionName deriva el nombre de colección de un usuario, saneado al
// conjunto [A-Za-z0-9_].
func CollectionName(memoryType, userID string) string {
	return memoryType + "_" + SanitizeID(userID)
}

// SanitizeID reemplaza todo carácter fuera de [A-Za-z0-9_] por '_'.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PgStore implementa Store sobre una tabla memory_points con columna de
// colección y embedding pgvector.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore construye el adaptador sobre un pool pgx.
func NewPgStore(p *pgxpool.Pool) *PgStore {
	return &PgStore{pool: p}
}

const memoryColumns = `id, user_id, memory_type, content, importance, recency, created_at, last_accessed, access_count, theme, source_ids, consolidated, embedding`

func (s *PgStore) Upsert(ctx context.Context, collection string, m domain.Memory) error {
	if m.UserID == "" {
		return fmt.Errorf("%w: memory upsert without user_id", domain.ErrSecurity)
	}
	const query = `
		INSERT INTO memory_points (collection, id, user_id, memory_type, content, importance, recency, created_at, last_accessed, access_count, theme, source_ids, consolidated, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (collection, id) DO UPDATE SET
			content = EXCLUDED.content,
			importance = GREATEST(memory_points.importance, EXCLUDED.importance),
			recency = EXCLUDED.recency,
			last_accessed = EXCLUDED.last_accessed,
			embedding = EXCLUDED.embedding
	`
	_, err := s.pool.Exec(ctx, query,
		collection, m.ID, m.UserID, m.Type, m.Content, m.Importance, m.Recency,
		m.CreatedAt, m.LastAccessed, m.AccessCount, m.Theme, m.SourceIDs, m.Consolidated, m.Embedding,
	)
	return err
}

func (s *PgStore) SearchFiltered(ctx context.Context, collection, userID string, query pgvector.Vector, limit int, minSimilarity float64) ([]domain.ScoredMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: vector search without user filter", domain.ErrSecurity)
	}
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT ` + memoryColumns + `, 1 - (embedding <=> $3) AS similarity
		FROM memory_points
		WHERE collection = $1 AND user_id = $2 AND 1 - (embedding <=> $3) >= $4
		ORDER BY embedding <=> $3
		LIMIT $5
	`
	rows, err := s.pool.Query(ctx, q, collection, userID, query, minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScoredMemory
	for rows.Next() {
		var sm domain.ScoredMemory
		if err := scanMemory(rows, &sm.Memory, &sm.Similarity); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *PgStore) Scroll(ctx context.Context, collection, userID string, limit, offset int) ([]domain.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: vector scroll without user filter", domain.ErrSecurity)
	}
	const q = `
		SELECT ` + memoryColumns + `
		FROM memory_points
		WHERE collection = $1 AND user_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, q, collection, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (s *PgStore) GetByID(ctx context.Context, collection, userID, memoryID string) (domain.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Memory{}, fmt.Errorf("%w: memory lookup without user filter", domain.ErrSecurity)
	}
	const q = `
		SELECT ` + memoryColumns + `
		FROM memory_points
		WHERE collection = $1 AND user_id = $2 AND id = $3
	`
	var m domain.Memory
	row := s.pool.QueryRow(ctx, q, collection, userID, memoryID)
	if err := scanMemory(row, &m, nil); err != nil {
		return domain.Memory{}, err
	}
	return m, nil
}

func (s *PgStore) RecentUnconsolidated(ctx context.Context, collection, userID string, since time.Time) ([]domain.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: memory scan without user filter", domain.ErrSecurity)
	}
	const q = `
		SELECT ` + memoryColumns + `
		FROM memory_points
		WHERE collection = $1 AND user_id = $2 AND NOT consolidated AND created_at >= $3
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, q, collection, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (s *PgStore) MarkConsolidated(ctx context.Context, collection, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE memory_points SET consolidated = true
		WHERE collection = $1 AND user_id = $2 AND id = ANY($3)
	`
	_, err := s.pool.Exec(ctx, q, collection, userID, ids)
	return err
}

func (s *PgStore) RecordAccess(ctx context.Context, collection, userID string, ids []string, recency map[string]float64, at time.Time) error {
	for _, id := range ids {
		const q = `
			UPDATE memory_points
			SET access_count = access_count + 1, last_accessed = $4, recency = $5
			WHERE collection = $1 AND user_id = $2 AND id = $3
		`
		if _, err := s.pool.Exec(ctx, q, collection, userID, id, at, recency[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, collection, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `DELETE FROM memory_points WHERE collection = $1 AND user_id = $2 AND id = ANY($3)`
	_, err := s.pool.Exec(ctx, q, collection, userID, ids)
	return err
}

func (s *PgStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memory_points WHERE collection = $1`, collection)
	return err
}

// Migrate mueve los puntos de un usuario a otro; existe sólo para el endpoint
// admin de migración de memorias.
func (s *PgStore) Migrate(ctx context.Context, fromCollection, toCollection, fromUser, toUser string) (int, error) {
	const q = `
		UPDATE memory_points
		SET collection = $2, user_id = $4
		WHERE collection = $1 AND user_id = $3
	`
	tag, err := s.pool.Exec(ctx, q, fromCollection, toCollection, fromUser, toUser)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) DecayRecencyAll(ctx context.Context, factor float64) error {
	const q = `UPDATE memory_points SET recency = GREATEST(0.0, recency * $1)`
	_, err := s.pool.Exec(ctx, q, factor)
	return err
}

func (s *PgStore) CleanupWeak(ctx context.Context, maxRecency, maxImportance float64) (int, error) {
	const q = `DELETE FROM memory_points WHERE recency < $1 AND importance < $2`
	tag, err := s.pool.Exec(ctx, q, maxRecency, maxImportance)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type scanner interface{ Scan(...any) error }

func scanMemory(row scanner, m *domain.Memory, similarity *float64) error {
	var theme sql.NullString
	var sources []string
	dest := []any{
		&m.ID, &m.UserID, &m.Type, &m.Content, &m.Importance, &m.Recency,
		&m.CreatedAt, &m.LastAccessed, &m.AccessCount, &theme, &sources, &m.Consolidated, &m.Embedding,
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if theme.Valid {
		m.Theme = theme.String
	}
	m.SourceIDs = sources
	return nil
}

func collectMemories(rows pgx.Rows) ([]domain.Memory, error) {
	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		if err := scanMemory(rows, &m, nil); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
