//go:build e2e

package memory

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	pgstore "github.com/karvel/famulus/internal/store"
)

// Package-level backends shared by the e2e tests, set up once in TestMain.
var (
	e2eLogger   *zap.Logger
	e2eGraph    *Graph
	e2ePool     *pgxpool.Pool
	e2eRedisURL string
)

// e2eLearningRate is deliberately large so Hebbian strengthening is visible
// after a single co-activation.
const e2eLearningRate = 0.5

func TestMain(m *testing.M) {
	ctx := context.Background()
	e2eLogger = zap.NewNop()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		cleanup()
		os.Exit(1)
	}

	neo4jURI, neo4jCleanup, err := startNeo4j(ctx)
	if err != nil {
		fail("neo4j: %v", err)
	}
	cleanups = append(cleanups, neo4jCleanup)

	e2eGraph, err = NewGraph(neo4jURI, "", "", e2eLearningRate, e2eLogger)
	if err != nil {
		fail("graph: %v", err)
	}
	cleanups = append(cleanups, func() { e2eGraph.Close(ctx) })

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fail("postgres: %v", err)
	}
	cleanups = append(cleanups, pgCleanup)

	ps, err := pgstore.New(pgDSN, e2eLogger)
	if err != nil {
		fail("pg store: %v", err)
	}
	cleanups = append(cleanups, ps.Close)
	if err := ps.Migrate(ctx, "../../migrations"); err != nil {
		fail("migrate: %v", err)
	}
	e2ePool = ps.Pool()

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fail("redis: %v", err)
	}
	cleanups = append(cleanups, redisCleanup)
	e2eRedisURL = redisURL

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("famulus_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}
