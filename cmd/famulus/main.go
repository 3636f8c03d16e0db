package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/agent"
	"github.com/karvel/famulus/internal/api"
	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/conference"
	"github.com/karvel/famulus/internal/config"
	"github.com/karvel/famulus/internal/curiosity"
	"github.com/karvel/famulus/internal/embedding"
	"github.com/karvel/famulus/internal/maintenance"
	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/orchestrator"
	"github.com/karvel/famulus/internal/provider"
	"github.com/karvel/famulus/internal/skill"
	pgstore "github.com/karvel/famulus/internal/store"
	"github.com/karvel/famulus/internal/vectorstore"
)

const (
	maxCommandOutput = 10000
	commandTimeout   = 30 * time.Second
	sessionKeepDays  = 30
)

// execRunner lets the shell specialist run commands on the host. The
// specialist screens commands before they reach this.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if len(out) > maxCommandOutput {
		out = out[:maxCommandOutput]
	}
	return string(out), err
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Famulus...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/famulus.json"
	}
	cfg, err := config.Load(cfgPath)
	switch {
	case err == nil:
		logger.Info("Config loaded", zap.String("path", cfgPath))
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("config file missing, using defaults", zap.String("path", cfgPath))
		cfg = config.Defaults()
	default:
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	// The budget ledger is the spend authority everything else consults.
	ledger, err := budget.NewLedger(budget.Config{
		DailyLimitTokens:     cfg.Budget.DailyLimitTokens,
		PerRequestMaxTokens:  cfg.Budget.PerRequestMaxTokens,
		CuriosityDailyOps:    cfg.Budget.CuriosityDailyOps,
		CuriosityPerOpTokens: cfg.Budget.CuriosityPerOpToken,
		WarningThreshold:     cfg.Budget.WarningThreshold,
		HardStop:             cfg.Budget.HardStop,
		ResetHour:            cfg.Budget.ResetHour,
		StatePath:            cfg.Budget.StatePath,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open budget ledger", zap.Error(err))
	}

	// Initialize provider router
	router := provider.NewRouter(ledger, logger)
	registered := 0
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		registered++
	}
	router.SetRouting(cfg.Routing.Primary, cfg.Routing.Fallback, cfg.Routing.Models)

	// Downstream components take the router through their own interfaces;
	// with no providers each slot stays nil and the component degrades.
	var orchLLM orchestrator.Completer
	var agentLLM agent.Completer
	var curiosityLLM curiosity.Completer
	if registered > 0 {
		orchLLM, agentLLM, curiosityLLM = router, router, router
	} else {
		logger.Warn("no language model providers configured, running without completions")
	}

	ctx := context.Background()

	// PostgreSQL carries episodic memory, the keyword index and sessions.
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without episodic memory", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Neo4j carries the Hebbian knowledge graph.
	var graph *memory.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := memory.NewGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User,
			cfg.Database.Neo4j.Password, cfg.Memory.HebbianLearningRate, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without the knowledge graph", zap.Error(gErr))
		} else {
			graph = g
		}
	}

	// Redis carries the procedural cache.
	var procedural *memory.Procedural
	if cfg.Database.Redis.URL != "" {
		p, pErr := memory.NewProcedural(cfg.Database.Redis.URL, logger)
		if pErr != nil {
			logger.Warn("Redis unavailable, running without the procedural cache", zap.Error(pErr))
		} else {
			procedural = p
		}
	}

	// Qdrant carries semantic vectors.
	var vector *memory.VectorIndex
	var qdrant *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(cfg.Database.Qdrant.Host, cfg.Database.Qdrant.Port)
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without semantic vectors", zap.Error(qErr))
		} else {
			vi := memory.NewVectorIndex(embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			}), qc, logger)
			if rErr := vi.EnsureReady(ctx); rErr != nil {
				logger.Warn("Qdrant unavailable, running without semantic vectors", zap.Error(rErr))
				qc.Close()
			} else {
				vector = vi
				qdrant = qc
			}
		}
	}

	// Compose the hybrid memory facade from whatever layers came up.
	working := memory.NewWorking(cfg.Memory.WorkingSlots)
	memDeps := memory.Deps{Working: working}
	var episodic *memory.Episodic
	var keyword *memory.KeywordIndex
	if pgStore != nil {
		episodic = memory.NewEpisodic(pgStore.Pool(), cfg.Memory.MaxEpisodes, logger)
		keyword = memory.NewKeywordIndex(pgStore.Pool(), logger)
		memDeps.Episodic = episodic
		memDeps.Keyword = keyword
	}
	if graph != nil {
		memDeps.Graph = graph
	}
	if procedural != nil {
		memDeps.Procedural = procedural
	}
	if vector != nil {
		memDeps.Vector = vector
	}
	ranker := memory.NewRanker(memory.DecayExponential, cfg.Memory.FreshnessHalfLifeHours)
	mem := memory.NewHybrid(memDeps, ranker, logger)

	// Skills and specialist agents.
	skills := skill.NewCatalog()
	skill.RegisterBuiltins(skills)

	workspace, wdErr := os.Getwd()
	if wdErr != nil {
		workspace = "."
	}
	pool := agent.NewPool(logger)
	agent.RegisterDefaults(pool, agentLLM, workspace)
	runner := execRunner{}

	// Orchestrator.
	var sessions orchestrator.SessionStore
	if pgStore != nil {
		sessions = pgStore
	}
	orch := orchestrator.New(orchestrator.Deps{
		Ledger:   ledger,
		LLM:      orchLLM,
		Skills:   skills,
		Pool:     pool,
		Memory:   mem,
		Sessions: sessions,
		Runner:   runner,
	}, orchestrator.Config{
		VerifyBelow:        cfg.Orchestrator.ConfidenceThreshold,
		MinTriggerHits:     cfg.Orchestrator.MinTriggerHits,
		ShortQueryMaxWords: cfg.Orchestrator.ShortQueryMaxWords,
		HistoryLimit:       cfg.Orchestrator.HistoryMessages,
	}, logger)

	confEngine := conference.NewEngine(pool, mem, runner, conference.Config{
		Timeout:   time.Duration(cfg.Conference.ParticipantTimeout) * time.Second,
		MaxRounds: cfg.Conference.MaxRounds,
		Quorum:    cfg.Conference.AgreementQuorum,
	}, logger)

	// Curiosity engine.
	curiosityDeps := curiosity.Deps{
		Ledger:    ledger,
		Working:   mem.Working(),
		Knowledge: mem,
		LLM:       curiosityLLM,
	}
	if graph != nil {
		curiosityDeps.Graph = graph
	}
	explorer := curiosity.NewEngine(curiosityDeps, cfg.Budget.CuriosityPerOpToken, logger)

	// Background maintenance: consolidation, curiosity, bookkeeping.
	var graphDecayer memory.GraphDecayer
	if graph != nil {
		graphDecayer = graph
	}
	var cleaner memory.ProceduralCleaner
	if procedural != nil {
		cleaner = procedural
	}
	var lessons memory.LessonSource
	if episodic != nil {
		lessons = episodic
	}
	var lessonSink memory.KeywordStore
	if keyword != nil {
		lessonSink = keyword
	}
	consolidator := memory.NewConsolidator(working, graphDecayer, cleaner, lessons, lessonSink,
		cfg.Memory.SemanticDecayRate, logger)

	clock := maintenance.NewClock(logger)
	clock.Add(maintenance.Task{
		Name:  "consolidation",
		Every: time.Duration(cfg.Memory.ConsolidationIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := consolidator.Consolidate(ctx)
			return err
		},
	})
	clock.Add(maintenance.Task{
		Name:  "curiosity",
		Every: time.Duration(cfg.Memory.CuriosityIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			explorer.Tick(ctx)
			return nil
		},
	})
	clock.Add(maintenance.Task{
		Name:  "budget-snapshot",
		Every: time.Hour,
		Run: func(ctx context.Context) error {
			st := ledger.Status()
			logger.Info("budget snapshot",
				zap.Int("tokens_used", st.TokensUsed),
				zap.Int("tokens_remaining", st.TokensRemaining),
				zap.Int("requests", st.RequestCount),
				zap.Int("curiosity_ops_remaining", st.CuriosityOpsRemaining))
			return nil
		},
	})
	if pgStore != nil {
		ps := pgStore
		clock.Add(maintenance.Task{
			Name:  "session-prune",
			Every: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := ps.PruneOldMessages(ctx, sessionKeepDays)
				if n > 0 {
					logger.Info("old session messages pruned", zap.Int("count", n))
				}
				return err
			},
		})
	}
	clock.Start()

	// Build HTTP handler
	var apiGraph api.ConceptGraph
	if graph != nil {
		apiGraph = graph
	}
	handler := api.NewHandler(orch, confEngine, ledger, mem, apiGraph, explorer, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "3210"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Famulus listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Famulus...")
	clock.Stop()
	srv.Shutdown(ctx)
	orch.Drain()
	if graph != nil {
		graph.Close(ctx)
	}
	if procedural != nil {
		procedural.Close()
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
