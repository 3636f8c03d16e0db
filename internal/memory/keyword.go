package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Knowledge is a full-text indexed entry in the semantic layer.
type Knowledge struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	Source      string    `json:"source,omitempty"`
	AccessCount int       `json:"access_count"`
	Timestamp   time.Time `json:"timestamp"`
	Score       float64   `json:"score"`
}

// KeywordIndex is the full-text search layer backed by Postgres tsvector.
type KeywordIndex struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewKeywordIndex creates a keyword index over the knowledge table.
func NewKeywordIndex(db *pgxpool.Pool, logger *zap.Logger) *KeywordIndex {
	return &KeywordIndex{db: db, logger: logger}
}

// Store indexes an entry and returns its id.
func (k *KeywordIndex) Store(ctx context.Context, entry Knowledge) (string, error) {
	var id string
	err := k.db.QueryRow(ctx, `
		INSERT INTO knowledge (id, title, content, category, tags, source)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id`,
		entry.Title, entry.Content, entry.Category, entry.Tags, entry.Source,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store knowledge: %w", err)
	}
	return id, nil
}

// Search runs a ranked full-text query, falling back to a plain substring
// match when the query cannot be run through the FTS engine. Every returned
// entry has its access count bumped.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]Knowledge, error) {
	if limit <= 0 {
		limit = 10
	}

	items, err := k.searchFTS(ctx, query, limit)
	if err != nil {
		k.logger.Debug("full-text query failed, using substring fallback",
			zap.String("query", query), zap.Error(err))
		items, err = k.searchSubstring(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}

	k.bumpAccess(ctx, items)
	return items, nil
}

func (k *KeywordIndex) searchFTS(ctx context.Context, query string, limit int) ([]Knowledge, error) {
	rows, err := k.db.Query(ctx, `
		SELECT id, title, content, category, tags, source, access_count, created_at,
		       ts_rank(tsv, websearch_to_tsquery('english', $1)) AS score
		FROM knowledge
		WHERE tsv @@ websearch_to_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

func (k *KeywordIndex) searchSubstring(ctx context.Context, query string, limit int) ([]Knowledge, error) {
	rows, err := k.db.Query(ctx, `
		SELECT id, title, content, category, tags, source, access_count, created_at, 0::float8 AS score
		FROM knowledge
		WHERE title ILIKE '%' || $1 || '%' OR content ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search knowledge: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

// bumpAccess increments access counts for returned entries. Failures are
// logged and do not affect the search result.
func (k *KeywordIndex) bumpAccess(ctx context.Context, items []Knowledge) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	_, err := k.db.Exec(ctx, `
		UPDATE knowledge SET access_count = access_count + 1
		WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		k.logger.Warn("bump knowledge access failed", zap.Error(err))
	}
}

// Delete removes an entry by id.
func (k *KeywordIndex) Delete(ctx context.Context, id string) error {
	if _, err := k.db.Exec(ctx, `DELETE FROM knowledge WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete knowledge: %w", err)
	}
	return nil
}

// Count returns the number of indexed entries.
func (k *KeywordIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := k.db.QueryRow(ctx, `SELECT count(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge: %w", err)
	}
	return n, nil
}

func scanKnowledge(rows pgx.Rows) ([]Knowledge, error) {
	var items []Knowledge
	for rows.Next() {
		var item Knowledge
		if err := rows.Scan(&item.ID, &item.Title, &item.Content, &item.Category, &item.Tags,
			&item.Source, &item.AccessCount, &item.Timestamp, &item.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}
