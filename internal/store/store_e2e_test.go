//go:build e2e

package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

var e2eStore *Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("famulus_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg connection string: %v\n", err)
		container.Terminate(ctx)
		os.Exit(1)
	}

	e2eStore, err = New(dsn, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		container.Terminate(ctx)
		os.Exit(1)
	}
	if err := e2eStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()
	e2eStore.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func TestMigrateIsIdempotent(t *testing.T) {
	// TestMain already migrated once.
	if err := e2eStore.Migrate(context.Background(), "../../migrations"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSessionHistoryRoundtrip(t *testing.T) {
	ctx := context.Background()
	session := "e2e-history"

	turns := []struct{ role, content string }{
		{"user", "what broke the deploy"},
		{"assistant", "the migration step timed out"},
		{"user", "can you retry it"},
	}
	for _, turn := range turns {
		if err := e2eStore.AppendMessage(ctx, session, turn.role, turn.content, nil); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := e2eStore.History(ctx, session, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, turn := range turns {
		if history[i].Role != turn.role || history[i].Content != turn.content {
			t.Errorf("history[%d] = %s %q, want %s %q",
				i, history[i].Role, history[i].Content, turn.role, turn.content)
		}
	}

	// A limit keeps the newest turns, still oldest-first.
	tail, err := e2eStore.History(ctx, session, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("tail length = %d, want 2", len(tail))
	}
	if tail[0].Content != "the migration step timed out" || tail[1].Content != "can you retry it" {
		t.Errorf("tail = %+v", tail)
	}
}

func TestHistorySessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	if err := e2eStore.AppendMessage(ctx, "e2e-iso-a", "user", "alpha", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := e2eStore.AppendMessage(ctx, "e2e-iso-b", "user", "beta", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	history, err := e2eStore.History(ctx, "e2e-iso-a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "alpha" {
		t.Errorf("session a history = %+v", history)
	}
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	session := "e2e-clear"

	if err := e2eStore.AppendMessage(ctx, session, "user", "forget this", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := e2eStore.ClearSession(ctx, session); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	history, err := e2eStore.History(ctx, session, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("cleared session still has %d messages", len(history))
	}
}

func TestPruneSessionKeepsNewest(t *testing.T) {
	ctx := context.Background()
	session := "e2e-prune"

	for i := 1; i <= 5; i++ {
		content := fmt.Sprintf("turn %d", i)
		if err := e2eStore.AppendMessage(ctx, session, "user", content, nil); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	pruned, err := e2eStore.PruneSession(ctx, session, 2)
	if err != nil {
		t.Fatalf("PruneSession: %v", err)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}

	history, err := e2eStore.History(ctx, session, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "turn 4" || history[1].Content != "turn 5" {
		t.Errorf("kept turns = %+v", history)
	}
}

func TestPruneOldMessagesSparesRecent(t *testing.T) {
	ctx := context.Background()
	session := "e2e-prune-old"

	if err := e2eStore.AppendMessage(ctx, session, "user", "fresh", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	n, err := e2eStore.PruneOldMessages(ctx, 30)
	if err != nil {
		t.Fatalf("PruneOldMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d fresh messages", n)
	}

	history, err := e2eStore.History(ctx, session, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("fresh message pruned away")
	}
}
