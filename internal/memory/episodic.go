package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// lessonMinResponseLen is the response length above which an interaction is
// considered substantial enough to derive a lesson from.
const lessonMinResponseLen = 200

// Episode is a single recorded interaction with an optional derived lesson.
type Episode struct {
	ID         string         `json:"id"`
	Query      string         `json:"query"`
	Response   string         `json:"response"`
	Lesson     string         `json:"lesson,omitempty"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Episodic is the append-only interaction log backed by Postgres.
type Episodic struct {
	db         *pgxpool.Pool
	maxEntries int
	logger     *zap.Logger
}

// NewEpisodic creates an episodic store. maxEntries <= 0 disables pruning.
func NewEpisodic(db *pgxpool.Pool, maxEntries int, logger *zap.Logger) *Episodic {
	return &Episodic{db: db, maxEntries: maxEntries, logger: logger}
}

// Record appends an interaction, deriving a lesson when the response is
// substantial, and prunes the oldest episodes past the configured cap.
func (e *Episodic) Record(ctx context.Context, query, response string, confidence float64, metadata map[string]any) (string, error) {
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("marshal episode metadata: %w", err)
		}
	}

	var id string
	err := e.db.QueryRow(ctx, `
		INSERT INTO episodes (id, query, response, lesson, confidence, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id`,
		query, response, deriveLesson(query, response), confidence, metaJSON,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("record episode: %w", err)
	}

	if e.maxEntries > 0 {
		if pruned, err := e.prune(ctx); err != nil {
			e.logger.Warn("episode prune failed", zap.Error(err))
		} else if pruned > 0 {
			e.logger.Debug("pruned old episodes", zap.Int64("count", pruned))
		}
	}
	return id, nil
}

// Search finds episodes whose query, response or lesson contains the given
// text, most recent first.
func (e *Episodic) Search(ctx context.Context, query string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.Query(ctx, `
		SELECT id, query, response, lesson, confidence, metadata, created_at
		FROM episodes
		WHERE query ILIKE '%' || $1 || '%'
		   OR response ILIKE '%' || $1 || '%'
		   OR lesson ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Recent returns the latest episodes, most recent first.
func (e *Episodic) Recent(ctx context.Context, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.Query(ctx, `
		SELECT id, query, response, lesson, confidence, metadata, created_at
		FROM episodes
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Lessons returns episodes that carry a lesson, highest confidence first.
func (e *Episodic) Lessons(ctx context.Context, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.Query(ctx, `
		SELECT id, query, response, lesson, confidence, metadata, created_at
		FROM episodes
		WHERE lesson <> ''
		ORDER BY confidence DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("get lessons: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Count returns the number of stored episodes.
func (e *Episodic) Count(ctx context.Context) (int, error) {
	var n int
	if err := e.db.QueryRow(ctx, `SELECT count(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return n, nil
}

// prune deletes the oldest episodes beyond maxEntries.
func (e *Episodic) prune(ctx context.Context) (int64, error) {
	tag, err := e.db.Exec(ctx, `
		DELETE FROM episodes
		WHERE id IN (
			SELECT id FROM episodes
			ORDER BY created_at ASC
			LIMIT GREATEST((SELECT count(*) FROM episodes) - $1, 0))`,
		e.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("prune episodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEpisodes(rows pgx.Rows) ([]Episode, error) {
	var episodes []Episode
	for rows.Next() {
		var ep Episode
		var metaJSON []byte
		if err := rows.Scan(&ep.ID, &ep.Query, &ep.Response, &ep.Lesson, &ep.Confidence, &metaJSON, &ep.Timestamp); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if len(metaJSON) > 0 {
			json.Unmarshal(metaJSON, &ep.Metadata)
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

// deriveLesson extracts a short takeaway from a substantial interaction.
// Short responses carry no lesson.
func deriveLesson(query, response string) string {
	if len(response) <= lessonMinResponseLen {
		return ""
	}
	return "Answered question about: " + truncate(query, 50)
}
