package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	procKeyPrefix = "famulus:proc:"

	// procMinConfidence is the confidence below which a cached procedure
	// no longer serves lookups.
	procMinConfidence = 0.5
	// procSimilarityThreshold is the word-overlap floor for Similar.
	procSimilarityThreshold = 0.3
	// procScanCap bounds how many entries Similar inspects.
	procScanCap = 100
)

// Procedure is a cached question-answer chain with a track record.
type Procedure struct {
	Query        string  `json:"query"`
	Response     string  `json:"response"`
	Confidence   float64 `json:"confidence"`
	SuccessCount int     `json:"success_count"`
	FailCount    int     `json:"fail_count"`
	Similarity   float64 `json:"similarity,omitempty"`
}

// Procedural caches successful reasoning chains in Redis so repeated
// questions skip the model entirely. Confidence rises with reuse and falls
// with reported failures.
type Procedural struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewProcedural creates a Redis-backed procedural cache.
func NewProcedural(redisURL string, logger *zap.Logger) (*Procedural, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Procedural{rdb: rdb, logger: logger}, nil
}

// Close shuts down the Redis connection.
func (p *Procedural) Close() error {
	return p.rdb.Close()
}

// normalizeQuery lowercases and collapses whitespace for matching.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query)))
	return hex.EncodeToString(sum[:])[:16]
}

// Store caches a successful response. Repeating a known query bumps its
// success count and confidence instead of rewriting it.
func (p *Procedural) Store(ctx context.Context, query, response string, confidence float64) error {
	key := procKeyPrefix + hashQuery(query)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	exists, err := p.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check procedure: %w", err)
	}

	if exists > 0 {
		current, err := p.confidence(ctx, key)
		if err != nil {
			return err
		}
		bumped := current + 0.05
		if bumped > 1.0 {
			bumped = 1.0
		}
		err = p.rdb.HSet(ctx, key,
			"confidence", formatFloat(bumped),
			"last_used", now,
		).Err()
		if err != nil {
			return fmt.Errorf("update procedure: %w", err)
		}
		if err := p.rdb.HIncrBy(ctx, key, "success_count", 1).Err(); err != nil {
			return fmt.Errorf("bump procedure: %w", err)
		}
		return nil
	}

	err = p.rdb.HSet(ctx, key,
		"query", normalizeQuery(query),
		"response", response,
		"confidence", formatFloat(confidence),
		"success_count", "1",
		"fail_count", "0",
		"created", now,
		"last_used", now,
	).Err()
	if err != nil {
		return fmt.Errorf("store procedure: %w", err)
	}
	return nil
}

// Lookup returns the cached response for a query, if one exists with enough
// confidence. A hit counts as a success.
func (p *Procedural) Lookup(ctx context.Context, query string) (string, bool, error) {
	key := procKeyPrefix + hashQuery(query)

	fields, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("lookup procedure: %w", err)
	}
	if len(fields) == 0 {
		return "", false, nil
	}

	confidence, _ := strconv.ParseFloat(fields["confidence"], 64)
	if confidence < procMinConfidence {
		return "", false, nil
	}

	err = p.rdb.HSet(ctx, key, "last_used", strconv.FormatInt(time.Now().Unix(), 10)).Err()
	if err == nil {
		err = p.rdb.HIncrBy(ctx, key, "success_count", 1).Err()
	}
	if err != nil {
		p.logger.Warn("procedure usage bump failed", zap.Error(err))
	}
	return fields["response"], true, nil
}

// MarkFailure records a failed reuse, lowering confidence by 0.1 down to 0.
func (p *Procedural) MarkFailure(ctx context.Context, query string) error {
	key := procKeyPrefix + hashQuery(query)

	exists, err := p.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check procedure: %w", err)
	}
	if exists == 0 {
		return nil
	}

	current, err := p.confidence(ctx, key)
	if err != nil {
		return err
	}
	lowered := current - 0.1
	if lowered < 0 {
		lowered = 0
	}
	err = p.rdb.HSet(ctx, key, "confidence", formatFloat(lowered)).Err()
	if err == nil {
		err = p.rdb.HIncrBy(ctx, key, "fail_count", 1).Err()
	}
	if err != nil {
		return fmt.Errorf("mark procedure failure: %w", err)
	}
	return nil
}

// Similar returns confident procedures whose normalized queries overlap the
// given one, best overlap first.
func (p *Procedural) Similar(ctx context.Context, query string, limit int) ([]Procedure, error) {
	if limit <= 0 {
		limit = 3
	}
	queryTokens := tokenize(normalizeQuery(query))
	if len(queryTokens) == 0 {
		return nil, nil
	}

	var matches []Procedure
	inspected := 0
	iter := p.rdb.Scan(ctx, 0, procKeyPrefix+"*", procScanCap).Iterator()
	for iter.Next(ctx) && inspected < procScanCap {
		inspected++
		fields, err := p.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		proc := procedureFromFields(fields)
		if proc.Confidence < procMinConfidence {
			continue
		}
		overlap := jaccard(queryTokens, tokenize(proc.Query))
		if overlap <= procSimilarityThreshold {
			continue
		}
		proc.Similarity = overlap
		matches = append(matches, proc)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan procedures: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cleanup removes procedures below minConfidence and returns the count.
func (p *Procedural) Cleanup(ctx context.Context, minConfidence float64) (int, error) {
	removed := 0
	iter := p.rdb.Scan(ctx, 0, procKeyPrefix+"*", procScanCap).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := p.rdb.HGet(ctx, key, "confidence").Result()
		if err != nil {
			continue
		}
		confidence, _ := strconv.ParseFloat(raw, 64)
		if confidence >= minConfidence {
			continue
		}
		if err := p.rdb.Del(ctx, key).Err(); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cleanup procedures: %w", err)
	}
	return removed, nil
}

// Count returns the number of cached procedures.
func (p *Procedural) Count(ctx context.Context) (int, error) {
	count := 0
	iter := p.rdb.Scan(ctx, 0, procKeyPrefix+"*", procScanCap).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("count procedures: %w", err)
	}
	return count, nil
}

func (p *Procedural) confidence(ctx context.Context, key string) (float64, error) {
	raw, err := p.rdb.HGet(ctx, key, "confidence").Result()
	if err != nil {
		return 0, fmt.Errorf("read procedure confidence: %w", err)
	}
	confidence, _ := strconv.ParseFloat(raw, 64)
	return confidence, nil
}

func procedureFromFields(fields map[string]string) Procedure {
	var proc Procedure
	proc.Query = fields["query"]
	proc.Response = fields["response"]
	proc.Confidence, _ = strconv.ParseFloat(fields["confidence"], 64)
	proc.SuccessCount, _ = strconv.Atoi(fields["success_count"])
	proc.FailCount, _ = strconv.Atoi(fields["fail_count"])
	return proc
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
